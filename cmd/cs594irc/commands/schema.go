package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/crzysdrs/CS594IRC/pkg/wire"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the wire protocol JSON schema",
	Long: `Print the JSON schema describing one protocol frame.

The schema documents the message vocabulary for client implementors.
Per-command field requirements beyond the flat schema are enforced by the
server at runtime.

Examples:
  # Print the schema
  cs594irc schema

  # Validate a captured frame against it with an external tool
  cs594irc schema > frame.schema.json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := wire.SchemaJSON()
		if err != nil {
			return fmt.Errorf("failed to render schema: %w", err)
		}
		fmt.Println(string(out))
		return nil
	},
}
