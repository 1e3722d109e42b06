// Package wire defines the JSON message vocabulary of the relay protocol:
// the tagged union of commands, replies and errors, the CRLF framing, and
// the schema validation applied to every inbound frame.
package wire

import (
	"regexp"
	"strings"
)

// MaxFrameSize is the maximum size of one frame on the wire, including the
// CRLF terminator.
const MaxFrameSize = 1024

// ChunkSize is the maximum number of entries carried by one names or
// channels reply. Longer listings are split into chunks and terminated by a
// reply with an empty list.
const ChunkSize = 5

// Command names. Inbound commands are matched case-insensitively.
const (
	CmdNick     = "nick"
	CmdQuit     = "quit"
	CmdJoin     = "join"
	CmdLeave    = "leave"
	CmdChannels = "channels"
	CmdUsers    = "users"
	CmdMsg      = "msg"
	CmdPing     = "ping"
	CmdPong     = "pong"
)

// Reply names.
const (
	ReplyNames    = "names"
	ReplyChannels = "channels"
)

// Error kinds carried in the "error" field. The broker folds nickinuse and
// badchannel into badnick and the validation path respectively; the
// constants remain part of the wire vocabulary so peers can parse them.
const (
	ErrKindBadNick    = "badnick"
	ErrKindNickInUse  = "nickinuse"
	ErrKindSchema     = "schema"
	ErrKindNoChannel  = "nochannel"
	ErrKindBadChannel = "badchannel"
	ErrKindNonMember  = "nonmember"
	ErrKindNonExist   = "nonexist"
	ErrKindMember     = "member"
)

// Reserved nicknames that no session may ever hold.
const (
	NickServer  = "SERVER"
	NickNewUser = "NEWUSER"
)

var (
	reNick    = regexp.MustCompile(`^[A-Za-z0-9]{1,10}$`)
	reChannel = regexp.MustCompile(`^#[A-Za-z0-9]{1,10}$`)
)

// ValidNick reports whether s is a syntactically valid nickname. Reserved
// names are syntactically valid; use Reserved to exclude them.
func ValidNick(s string) bool { return reNick.MatchString(s) }

// ValidChannel reports whether s is a syntactically valid channel name.
func ValidChannel(s string) bool { return reChannel.MatchString(s) }

// IsChannel reports whether a target string names a channel rather than a
// nickname. Channels always begin with '#'.
func IsChannel(s string) bool { return strings.HasPrefix(s, "#") }

// Reserved reports whether nick is one of the reserved names.
func Reserved(nick string) bool {
	return nick == NickServer || nick == NickNewUser
}

// Message is one frame of the relay protocol. Exactly one of Cmd, Reply or
// Error is set; the remaining fields depend on it. Optional fields are
// pointers so that absent and empty values round-trip distinctly ("msg":""
// and an empty "names":[] are both meaningful on the wire).
type Message struct {
	Cmd   string `json:"cmd,omitempty"`
	Src   string `json:"src,omitempty"`
	Reply string `json:"reply,omitempty"`
	Error string `json:"error,omitempty"`

	Update   string    `json:"update,omitempty"`
	Channel  string    `json:"channel,omitempty"`
	Msg      *string   `json:"msg,omitempty"`
	Client   *bool     `json:"client,omitempty"`
	Channels *[]string `json:"channels,omitempty"`
	Targets  *[]string `json:"targets,omitempty"`
	Names    *[]string `json:"names,omitempty"`
}

// Text returns the msg field, or "" when absent.
func (m *Message) Text() string {
	if m.Msg == nil {
		return ""
	}
	return *m.Msg
}

// ChannelList returns the channels field, or nil when absent.
func (m *Message) ChannelList() []string {
	if m.Channels == nil {
		return nil
	}
	return *m.Channels
}

// TargetList returns the targets field, or nil when absent.
func (m *Message) TargetList() []string {
	if m.Targets == nil {
		return nil
	}
	return *m.Targets
}

// ClientFlag returns the client field, or false when absent.
func (m *Message) ClientFlag() bool {
	return m.Client != nil && *m.Client
}

func strp(s string) *string { return &s }

func boolp(b bool) *bool { return &b }

func listp(l []string) *[]string {
	if l == nil {
		l = []string{}
	}
	return &l
}

// NewNick builds a nick command renaming src to update.
func NewNick(src, update string) *Message {
	return &Message{Cmd: CmdNick, Src: src, Update: update}
}

// NewQuit builds a quit command or announcement.
func NewQuit(src, msg string) *Message {
	return &Message{Cmd: CmdQuit, Src: src, Msg: strp(msg)}
}

// NewJoin builds a join command for the given channels.
func NewJoin(src string, channels []string) *Message {
	return &Message{Cmd: CmdJoin, Src: src, Channels: listp(channels)}
}

// NewLeave builds a leave command with a parting message.
func NewLeave(src string, channels []string, msg string) *Message {
	return &Message{Cmd: CmdLeave, Src: src, Channels: listp(channels), Msg: strp(msg)}
}

// NewChannelsQuery builds a channels listing request.
func NewChannelsQuery(src string) *Message {
	return &Message{Cmd: CmdChannels, Src: src}
}

// NewUsers builds a users listing request. A nil channels slice asks for
// every connected user.
func NewUsers(src string, channels []string, client bool) *Message {
	m := &Message{Cmd: CmdUsers, Src: src, Client: boolp(client)}
	if channels != nil {
		m.Channels = listp(channels)
	}
	return m
}

// NewMsg builds a directed or broadcast message to the given targets.
func NewMsg(src string, targets []string, msg string) *Message {
	return &Message{Cmd: CmdMsg, Src: src, Targets: listp(targets), Msg: strp(msg)}
}

// NewPing builds a ping with an opaque payload.
func NewPing(src, payload string) *Message {
	return &Message{Cmd: CmdPing, Src: src, Msg: strp(payload)}
}

// NewPong builds a pong echoing a ping payload.
func NewPong(src, payload string) *Message {
	return &Message{Cmd: CmdPong, Src: src, Msg: strp(payload)}
}

// NewNamesReply builds one chunk of a names listing. An empty names slice is
// the listing terminator.
func NewNamesReply(channel string, names []string, client bool) *Message {
	return &Message{Reply: ReplyNames, Channel: channel, Names: listp(names), Client: boolp(client)}
}

// NewChannelsReply builds one chunk of a channels listing. An empty channels
// slice is the listing terminator.
func NewChannelsReply(channels []string) *Message {
	return &Message{Reply: ReplyChannels, Channels: listp(channels)}
}

// NewError builds an error reply.
func NewError(kind, msg string) *Message {
	return &Message{Error: kind, Msg: strp(msg)}
}
