// Package client is a minimal protocol peer for the relay server: it frames
// and validates messages the same way the broker does and tracks the
// nickname the server assigns. External bots and tooling can build on it;
// the broker's end-to-end tests drive it directly.
package client

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/crzysdrs/CS594IRC/pkg/wire"
)

// Client is one connection to the broker.
//
// A client starts life as NEWUSER; the first frame the server sends is a
// nick command renaming it, which Recv applies automatically. Not safe for
// concurrent use; callers wanting a reader goroutine own that split.
type Client struct {
	conn   net.Conn
	framer wire.Framer
	buf    []byte
	nick   string
}

// Dial connects to the broker at addr.
func Dial(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	return &Client{
		conn: conn,
		buf:  make([]byte, wire.MaxFrameSize),
		nick: wire.NickNewUser,
	}, nil
}

// Nick returns the client's current nickname, NEWUSER until the server's
// first rename arrives.
func (c *Client) Nick() string { return c.nick }

// Close tears down the connection without a protocol goodbye. Use Quit for
// a clean exit.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Send validates and writes one frame.
func (c *Client) Send(m *wire.Message) error {
	if err := wire.Validate(m); err != nil {
		return err
	}
	frame, err := wire.Encode(m)
	if err != nil {
		return err
	}
	if _, err := c.conn.Write(frame); err != nil {
		return fmt.Errorf("failed to send %s: %w", m.Cmd, err)
	}
	return nil
}

// Recv returns the next frame from the server, waiting up to timeout.
//
// Server-driven renames (a nick frame whose src is our current nickname)
// update the tracked nickname before the frame is returned; everything
// else, pings included, is handed to the caller untouched.
func (c *Client) Recv(timeout time.Duration) (*wire.Message, error) {
	deadline := time.Now().Add(timeout)

	for {
		frame, err := c.framer.Next()
		if err != nil {
			return nil, err
		}
		if frame != nil {
			m, err := wire.Decode(frame)
			if err != nil {
				return nil, err
			}
			if m.Cmd == wire.CmdNick && m.Src == c.nick {
				c.nick = m.Update
			}
			return m, nil
		}

		if err := c.conn.SetReadDeadline(deadline); err != nil {
			return nil, err
		}
		n, err := c.conn.Read(c.buf)
		if n > 0 {
			c.framer.Feed(c.buf[:n])
			continue
		}
		if err != nil {
			return nil, err
		}
	}
}

// WaitWelcome consumes frames until the server's initial rename lands and
// returns the assigned nickname.
func (c *Client) WaitWelcome(timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	for c.nick == wire.NickNewUser {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", fmt.Errorf("no welcome from server within %s", timeout)
		}
		if _, err := c.Recv(remaining); err != nil {
			return "", err
		}
	}
	return c.nick, nil
}

// SetNick requests a rename. The server confirms with a nick fan-out,
// which Recv applies, or answers with a badnick error.
func (c *Client) SetNick(nick string) error {
	return c.Send(wire.NewNick(c.nick, nick))
}

// Join requests membership in the given channels.
func (c *Client) Join(channels ...string) error {
	return c.Send(wire.NewJoin(c.nick, channels))
}

// Leave departs the given channels with a parting message.
func (c *Client) Leave(msg string, channels ...string) error {
	return c.Send(wire.NewLeave(c.nick, channels, msg))
}

// Msg relays text to the given targets (nicknames or channels).
func (c *Client) Msg(text string, targets ...string) error {
	return c.Send(wire.NewMsg(c.nick, targets, text))
}

// Channels requests the channel listing.
func (c *Client) Channels() error {
	return c.Send(wire.NewChannelsQuery(c.nick))
}

// Users requests a member listing. A nil channels slice asks for every
// connected user.
func (c *Client) Users(channels []string, client bool) error {
	return c.Send(wire.NewUsers(c.nick, channels, client))
}

// Pong answers a server ping, echoing its payload.
func (c *Client) Pong(payload string) error {
	return c.Send(wire.NewPong(c.nick, payload))
}

// Quit says goodbye. The server answers with a final quit frame and closes
// the connection.
func (c *Client) Quit(msg string) error {
	return c.Send(wire.NewQuit(c.nick, msg))
}
