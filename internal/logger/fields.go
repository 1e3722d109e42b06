package logger

import "log/slog"

// Standard field keys for structured logging. Use these consistently across
// all log statements so broker logs stay greppable.
const (
	KeyAddress   = "address"    // Remote or listen address
	KeyConnID    = "conn_id"    // Connection identifier
	KeyNick      = "nick"       // Session nickname
	KeyOldNick   = "old_nick"   // Previous nickname in a rename
	KeyChannel   = "channel"    // Channel name
	KeyChannels  = "channels"   // Channel name list
	KeyTargets   = "targets"    // Relay target list
	KeyCmd       = "cmd"        // Protocol command
	KeyReason    = "reason"     // Eviction/disconnect reason
	KeyError     = "error"      // Error message
	KeySessions  = "sessions"   // Active session count
	KeyFrameSize = "frame_size" // Wire frame size in bytes
)

// Address returns a slog.Attr for a network address
func Address(addr string) slog.Attr {
	return slog.String(KeyAddress, addr)
}

// ConnID returns a slog.Attr for a connection identifier
func ConnID(id string) slog.Attr {
	return slog.String(KeyConnID, id)
}

// Nick returns a slog.Attr for a session nickname
func Nick(nick string) slog.Attr {
	return slog.String(KeyNick, nick)
}

// OldNick returns a slog.Attr for the previous nickname in a rename
func OldNick(nick string) slog.Attr {
	return slog.String(KeyOldNick, nick)
}

// Channel returns a slog.Attr for a channel name
func Channel(name string) slog.Attr {
	return slog.String(KeyChannel, name)
}

// Channels returns a slog.Attr for a channel name list
func Channels(names []string) slog.Attr {
	return slog.Any(KeyChannels, names)
}

// Targets returns a slog.Attr for a relay target list
func Targets(names []string) slog.Attr {
	return slog.Any(KeyTargets, names)
}

// Cmd returns a slog.Attr for a protocol command
func Cmd(cmd string) slog.Attr {
	return slog.String(KeyCmd, cmd)
}

// Reason returns a slog.Attr for an eviction or disconnect reason
func Reason(reason string) slog.Attr {
	return slog.String(KeyReason, reason)
}

// Err returns a slog.Attr for an error
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// Sessions returns a slog.Attr for the active session count
func Sessions(n int) slog.Attr {
	return slog.Int(KeySessions, n)
}

// FrameSize returns a slog.Attr for a wire frame size
func FrameSize(n int) slog.Attr {
	return slog.Int(KeyFrameSize, n)
}
