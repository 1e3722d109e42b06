package wire

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// Schema reflects the Message type into a JSON schema document. The schema
// is informational: inbound frames are validated by Validate, which also
// enforces the per-command tagged union the flat schema cannot express.
func Schema() *jsonschema.Schema {
	r := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	s := r.Reflect(&Message{})
	s.Title = "Relay protocol frame"
	s.Description = "One CRLF-terminated JSON frame of the chat relay protocol."

	for pair := s.Properties.Oldest(); pair != nil; pair = pair.Next() {
		switch pair.Key {
		case "src", "update":
			pair.Value.Pattern = reNick.String()
		case "channel":
			pair.Value.Pattern = reChannel.String()
		}
	}
	return s
}

// SchemaJSON renders the wire schema as indented JSON.
func SchemaJSON() ([]byte, error) {
	return json.MarshalIndent(Schema(), "", "  ")
}
