package wire

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// SchemaError describes why a decoded frame failed schema validation. The
// broker answers any SchemaError with a single "schema" error reply.
type SchemaError struct {
	Reason string
}

func (e *SchemaError) Error() string {
	return "schema: " + e.Reason
}

func schemaErrorf(format string, args ...any) *SchemaError {
	return &SchemaError{Reason: fmt.Sprintf(format, args...)}
}

// checker wraps a validator instance with the protocol's name grammar
// registered as custom validations.
var checker = newChecker()

func newChecker() *validator.Validate {
	v := validator.New()
	must := func(tag string, fn validator.Func) {
		if err := v.RegisterValidation(tag, fn); err != nil {
			panic(err)
		}
	}
	must("nick", func(fl validator.FieldLevel) bool {
		return ValidNick(fl.Field().String())
	})
	must("channel", func(fl validator.FieldLevel) bool {
		return ValidChannel(fl.Field().String())
	})
	must("target", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		return ValidNick(s) || ValidChannel(s)
	})
	return v
}

func checkVar(value, tag, what string) error {
	if err := checker.Var(value, tag); err != nil {
		return schemaErrorf("invalid %s %q", what, value)
	}
	return nil
}

func checkList(list []string, tag, what string) error {
	seen := make(map[string]struct{}, len(list))
	for _, e := range list {
		if err := checkVar(e, tag, what); err != nil {
			return err
		}
		if _, dup := seen[e]; dup {
			return schemaErrorf("duplicate %s %q", what, e)
		}
		seen[e] = struct{}{}
	}
	return nil
}

// Validate checks a decoded message against the protocol schema: exactly one
// of cmd, reply or error set, the command recognized, and all fields the
// command requires present and well-formed. Command names are matched
// case-insensitively; Validate lowercases Cmd in place on success.
func Validate(m *Message) error {
	switch {
	case m.Error != "":
		return validateError(m)
	case m.Reply != "":
		return validateReply(m)
	case m.Cmd != "":
		return validateCmd(m)
	default:
		return schemaErrorf("missing cmd, reply or error")
	}
}

var errorKinds = map[string]struct{}{
	ErrKindBadNick:    {},
	ErrKindNickInUse:  {},
	ErrKindSchema:     {},
	ErrKindNoChannel:  {},
	ErrKindBadChannel: {},
	ErrKindNonMember:  {},
	ErrKindNonExist:   {},
	ErrKindMember:     {},
}

func validateError(m *Message) error {
	if _, ok := errorKinds[m.Error]; !ok {
		return schemaErrorf("unknown error kind %q", m.Error)
	}
	if m.Msg == nil {
		return schemaErrorf("error reply requires msg")
	}
	return nil
}

func validateReply(m *Message) error {
	switch m.Reply {
	case ReplyNames:
		if m.Names == nil {
			return schemaErrorf("names reply requires names")
		}
		if m.Channel != "" {
			if err := checkVar(m.Channel, "channel", "channel"); err != nil {
				return err
			}
		}
		return checkList(*m.Names, "nick", "nickname")
	case ReplyChannels:
		if m.Channels == nil {
			return schemaErrorf("channels reply requires channels")
		}
		return checkList(*m.Channels, "channel", "channel")
	default:
		return schemaErrorf("unknown reply %q", m.Reply)
	}
}

func validateCmd(m *Message) error {
	cmd := strings.ToLower(m.Cmd)

	if err := checkVar(m.Src, "nick", "src"); err != nil {
		return err
	}

	switch cmd {
	case CmdNick:
		if m.Update == "" {
			return schemaErrorf("nick requires update")
		}
	case CmdQuit, CmdPing, CmdPong:
		if m.Msg == nil {
			return schemaErrorf("%s requires msg", cmd)
		}
	case CmdJoin:
		if err := requireChannels(m, cmd); err != nil {
			return err
		}
	case CmdLeave:
		if err := requireChannels(m, cmd); err != nil {
			return err
		}
		if m.Msg == nil {
			return schemaErrorf("leave requires msg")
		}
	case CmdChannels:
		// No fields beyond cmd and src.
	case CmdUsers:
		if m.Channels != nil {
			if len(*m.Channels) == 0 {
				return schemaErrorf("users channels must not be empty")
			}
			if err := checkList(*m.Channels, "channel", "channel"); err != nil {
				return err
			}
		}
		if m.Client == nil {
			return schemaErrorf("users requires client")
		}
	case CmdMsg:
		if m.Targets == nil || len(*m.Targets) == 0 {
			return schemaErrorf("msg requires targets")
		}
		if err := checkList(*m.Targets, "target", "target"); err != nil {
			return err
		}
		if m.Msg == nil {
			return schemaErrorf("msg requires msg")
		}
	default:
		return schemaErrorf("unknown command %q", m.Cmd)
	}

	m.Cmd = cmd
	return nil
}

func requireChannels(m *Message, cmd string) error {
	if m.Channels == nil || len(*m.Channels) == 0 {
		return schemaErrorf("%s requires channels", cmd)
	}
	return checkList(*m.Channels, "channel", "channel")
}
