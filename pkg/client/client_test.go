package client

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crzysdrs/CS594IRC/pkg/wire"
)

// pipeClient builds a client over an in-memory pipe. The returned conn is
// the server side of the connection.
func pipeClient(t *testing.T) (*Client, net.Conn) {
	t.Helper()

	server, conn := net.Pipe()
	t.Cleanup(func() {
		_ = server.Close()
		_ = conn.Close()
	})

	c := &Client{
		conn: conn,
		buf:  make([]byte, wire.MaxFrameSize),
		nick: wire.NickNewUser,
	}
	return c, server
}

// serve writes frames from the server side. Pipe writes are synchronous, so
// this runs in the background.
func serve(t *testing.T, server net.Conn, frames ...*wire.Message) {
	t.Helper()

	go func() {
		for _, m := range frames {
			frame, err := wire.Encode(m)
			if err != nil {
				return
			}
			if _, err := server.Write(frame); err != nil {
				return
			}
		}
	}()
}

func TestRecv_ReturnsFrame(t *testing.T) {
	t.Parallel()

	c, server := pipeClient(t)
	serve(t, server, wire.NewMsg("alice", []string{"#x"}, "hello"))

	m, err := c.Recv(time.Second)
	require.NoError(t, err)
	assert.Equal(t, wire.CmdMsg, m.Cmd)
	assert.Equal(t, "hello", m.Text())
}

func TestRecv_ReassemblesSplitFrames(t *testing.T) {
	t.Parallel()

	c, server := pipeClient(t)

	frame, err := wire.Encode(wire.NewQuit("alice", "bye"))
	require.NoError(t, err)

	go func() {
		_, _ = server.Write(frame[:5])
		time.Sleep(10 * time.Millisecond)
		_, _ = server.Write(frame[5:])
	}()

	m, err := c.Recv(time.Second)
	require.NoError(t, err)
	assert.Equal(t, wire.CmdQuit, m.Cmd)
	assert.Equal(t, "bye", m.Text())
}

func TestRecv_SplitsCoalescedFrames(t *testing.T) {
	t.Parallel()

	c, server := pipeClient(t)

	f1, err := wire.Encode(wire.NewPing(wire.NickServer, "1"))
	require.NoError(t, err)
	f2, err := wire.Encode(wire.NewPing(wire.NickServer, "2"))
	require.NoError(t, err)
	go func() {
		_, _ = server.Write(append(f1, f2...))
	}()

	m, err := c.Recv(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "1", m.Text())

	// The second frame comes from the buffer without touching the conn.
	m, err = c.Recv(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "2", m.Text())
}

func TestRecv_TracksServerRenames(t *testing.T) {
	t.Parallel()

	c, server := pipeClient(t)
	serve(t, server,
		wire.NewNick(wire.NickNewUser, "alice"),
		wire.NewNick("alice", "eve"),
		wire.NewNick("stranger", "other"),
	)

	m, err := c.Recv(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "alice", m.Update)
	assert.Equal(t, "alice", c.Nick())

	_, err = c.Recv(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "eve", c.Nick())

	// Someone else's rename leaves our nickname alone.
	_, err = c.Recv(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "eve", c.Nick())
}

func TestRecv_Timeout(t *testing.T) {
	t.Parallel()

	c, _ := pipeClient(t)

	_, err := c.Recv(50 * time.Millisecond)
	require.Error(t, err)
	var netErr net.Error
	require.ErrorAs(t, err, &netErr)
	assert.True(t, netErr.Timeout())
}

func TestWaitWelcome(t *testing.T) {
	t.Parallel()

	c, server := pipeClient(t)
	serve(t, server, wire.NewNick(wire.NickNewUser, "alice"))

	nick, err := c.WaitWelcome(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "alice", nick)
	assert.Equal(t, "alice", c.Nick())
}

func TestWaitWelcome_Timeout(t *testing.T) {
	t.Parallel()

	c, _ := pipeClient(t)

	_, err := c.WaitWelcome(50 * time.Millisecond)
	require.Error(t, err)
}

func TestSend_RejectsInvalidFrames(t *testing.T) {
	t.Parallel()

	c, _ := pipeClient(t)
	c.nick = "alice"

	// Bad channel name: validation fails before anything hits the wire, so
	// no reader is needed on the pipe.
	err := c.Join("nohash")
	require.Error(t, err)

	err = c.Msg("hi") // no targets
	require.Error(t, err)
}

func TestSend_WritesFrame(t *testing.T) {
	t.Parallel()

	c, server := pipeClient(t)
	c.nick = "alice"

	read := make(chan []byte, 1)
	go func() {
		buf := make([]byte, wire.MaxFrameSize)
		n, err := server.Read(buf)
		if err == nil {
			read <- buf[:n]
		}
	}()

	require.NoError(t, c.Msg("hi", "#x"))

	select {
	case raw := <-read:
		var f wire.Framer
		f.Feed(raw)
		frame, err := f.Next()
		require.NoError(t, err)
		m, err := wire.Decode(frame)
		require.NoError(t, err)
		assert.Equal(t, wire.CmdMsg, m.Cmd)
		assert.Equal(t, "alice", m.Src)
	case <-time.After(time.Second):
		t.Fatal("frame never reached the server side")
	}
}
