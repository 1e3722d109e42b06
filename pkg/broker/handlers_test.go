package broker

import (
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crzysdrs/CS594IRC/pkg/config"
	"github.com/crzysdrs/CS594IRC/pkg/wire"
)

// ============================================================================
// Test Helpers
// ============================================================================

func testBroker() *Broker {
	return New(config.GetDefaultConfig(), nil)
}

// addSession registers a session with a fixed nickname. The writer goroutine
// is not started, so queued frames stay in the outbound channel for the test
// to inspect.
func addSession(t *testing.T, b *Broker, nick string) *Session {
	t.Helper()

	server, client := net.Pipe()
	t.Cleanup(func() {
		_ = server.Close()
		_ = client.Close()
	})

	s := newSession(server, b.cfg.Limits.SendQueueDepth)
	s.nick = nick
	b.sessions.add(s)
	return s
}

// recvFrame pops and decodes the next queued outbound frame.
func recvFrame(t *testing.T, s *Session) *wire.Message {
	t.Helper()

	select {
	case frame := <-s.outbound:
		m, err := wire.Decode(frame[:len(frame)-2])
		require.NoError(t, err)
		return m
	default:
		t.Fatalf("no frame queued for %s", s.nick)
		return nil
	}
}

func assertNoFrames(t *testing.T, s *Session) {
	t.Helper()
	assert.Empty(t, s.outbound, "unexpected frames queued for %s", s.nick)
}

func drainFrames(s *Session) {
	for {
		select {
		case <-s.outbound:
		default:
			return
		}
	}
}

// join puts s into the named channels directly, bypassing the handler.
func join(b *Broker, s *Session, channels ...string) {
	for _, name := range channels {
		b.channels.addMember(b.channels.findOrCreate(name), s)
	}
}

// assertMirrored checks the membership invariant both ways for every
// session and channel in the broker.
func assertMirrored(t *testing.T, b *Broker) {
	t.Helper()

	for _, s := range b.sessions.all() {
		for name := range s.channels {
			c := b.channels.find(name)
			require.NotNil(t, c, "session %s references missing channel %s", s.nick, name)
			assert.True(t, c.has(s), "session %s not in members of %s", s.nick, name)
		}
	}
	for _, name := range b.channels.names() {
		for _, s := range b.channels.find(name).sessions() {
			assert.True(t, s.inChannel(name), "channel %s holds non-member session %s", name, s.nick)
		}
	}
}

// ============================================================================
// Spoof Rejection
// ============================================================================

func TestDispatch_RejectsSpoofedSrc(t *testing.T) {
	t.Parallel()

	b := testBroker()
	alice := addSession(t, b, "alice")
	bob := addSession(t, b, "bob")
	join(b, alice, "#x")
	join(b, bob, "#x")

	b.dispatch(alice, wire.NewMsg("bob", []string{"#x"}, "hi"))

	m := recvFrame(t, alice)
	assert.Equal(t, wire.ErrKindSchema, m.Error)
	assertNoFrames(t, bob)
}

// ============================================================================
// nick
// ============================================================================

func TestHandleNick_RenameFansToSelfAndChannels(t *testing.T) {
	t.Parallel()

	b := testBroker()
	alice := addSession(t, b, "alice")
	bob := addSession(t, b, "bob")
	carol := addSession(t, b, "carol")
	join(b, alice, "#x")
	join(b, bob, "#x")
	// carol shares no channel with alice and must see nothing

	b.dispatch(alice, wire.NewNick("alice", "eve"))

	assert.Equal(t, "eve", alice.nick)
	assert.Nil(t, b.sessions.lookup("alice"))
	assert.Same(t, alice, b.sessions.lookup("eve"))

	for _, s := range []*Session{alice, bob} {
		m := recvFrame(t, s)
		assert.Equal(t, wire.CmdNick, m.Cmd)
		assert.Equal(t, "alice", m.Src)
		assert.Equal(t, "eve", m.Update)
	}
	assertNoFrames(t, carol)
	assertMirrored(t, b)
}

func TestHandleNick_Conflicts(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		update string
	}{
		{"taken", "bob"},
		{"reserved server", wire.NickServer},
		{"reserved newuser", wire.NickNewUser},
		{"too long", "abcdefghijk"},
		{"bad characters", "no-dashes"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			b := testBroker()
			alice := addSession(t, b, "alice")
			addSession(t, b, "bob")

			b.dispatch(alice, &wire.Message{Cmd: wire.CmdNick, Src: "alice", Update: tc.update})

			m := recvFrame(t, alice)
			assert.Equal(t, wire.ErrKindBadNick, m.Error)
			assert.Equal(t, "alice", alice.nick, "registry unchanged on error")
			assert.Same(t, alice, b.sessions.lookup("alice"))
		})
	}
}

// ============================================================================
// join
// ============================================================================

func TestHandleJoin_LazyCreates(t *testing.T) {
	t.Parallel()

	b := testBroker()
	alice := addSession(t, b, "alice")

	b.dispatch(alice, wire.NewJoin("alice", []string{"#x"}))

	require.NotNil(t, b.channels.find("#x"))
	assert.Equal(t, 1, b.channels.find("#x").size())

	m := recvFrame(t, alice)
	assert.Equal(t, wire.CmdJoin, m.Cmd)
	assert.Equal(t, "alice", m.Src)
	assert.Equal(t, []string{"#x"}, m.ChannelList())

	m = recvFrame(t, alice)
	assert.Equal(t, wire.ReplyNames, m.Reply)
	assert.Equal(t, "#x", m.Channel)
	assert.Equal(t, []string{"alice"}, *m.Names)
	assert.False(t, m.ClientFlag())

	m = recvFrame(t, alice)
	assert.Equal(t, wire.ReplyNames, m.Reply)
	assert.Empty(t, *m.Names, "listing ends with an empty terminator")
	assert.False(t, m.ClientFlag())

	assertNoFrames(t, alice)
	assertMirrored(t, b)
}

func TestHandleJoin_AnnouncesToExistingMembers(t *testing.T) {
	t.Parallel()

	b := testBroker()
	alice := addSession(t, b, "alice")
	bob := addSession(t, b, "bob")
	join(b, alice, "#x")

	b.dispatch(bob, wire.NewJoin("bob", []string{"#x"}))

	m := recvFrame(t, alice)
	assert.Equal(t, wire.CmdJoin, m.Cmd)
	assert.Equal(t, "bob", m.Src)

	// bob gets the join announcement too, then the member listing
	m = recvFrame(t, bob)
	assert.Equal(t, wire.CmdJoin, m.Cmd)
	m = recvFrame(t, bob)
	assert.Equal(t, []string{"alice", "bob"}, *m.Names)
}

func TestHandleJoin_AllOrNothingOnDoubleJoin(t *testing.T) {
	t.Parallel()

	b := testBroker()
	alice := addSession(t, b, "alice")
	join(b, alice, "#x")

	b.dispatch(alice, wire.NewJoin("alice", []string{"#y", "#x"}))

	m := recvFrame(t, alice)
	assert.Equal(t, wire.ErrKindMember, m.Error)
	assertNoFrames(t, alice)
	assert.Nil(t, b.channels.find("#y"), "no side effects on rejection")
}

func TestHandleJoin_NamesChunking(t *testing.T) {
	t.Parallel()

	b := testBroker()
	for i := 0; i < 6; i++ {
		s := addSession(t, b, fmt.Sprintf("user%d", i))
		join(b, s, "#big")
	}
	joiner := addSession(t, b, "zed")

	b.dispatch(joiner, wire.NewJoin("zed", []string{"#big"}))

	m := recvFrame(t, joiner)
	require.Equal(t, wire.CmdJoin, m.Cmd)

	// 7 members: one full chunk of five, one of two, then the terminator.
	m = recvFrame(t, joiner)
	assert.Equal(t, []string{"user0", "user1", "user2", "user3", "user4"}, *m.Names)
	m = recvFrame(t, joiner)
	assert.Equal(t, []string{"user5", "zed"}, *m.Names)
	m = recvFrame(t, joiner)
	assert.Empty(t, *m.Names)
	assertNoFrames(t, joiner)
}

// addSessionDepth registers a session whose outbound queue holds exactly
// depth frames, for driving the overflow-eviction paths.
func addSessionDepth(t *testing.T, b *Broker, nick string, depth int) *Session {
	t.Helper()

	server, client := net.Pipe()
	t.Cleanup(func() {
		_ = server.Close()
		_ = client.Close()
	})

	s := newSession(server, depth)
	s.nick = nick
	b.sessions.add(s)
	return s
}

func TestHandleJoin_OverflowEvictionStopsMutation(t *testing.T) {
	t.Parallel()

	b := testBroker()
	alice := addSessionDepth(t, b, "alice", 1)
	require.True(t, alice.enqueue([]byte("x\r\n")), "prefill the queue")

	b.dispatch(alice, wire.NewJoin("alice", []string{"#a", "#b"}))

	// The join announcement for #a overflows the queue and evicts alice;
	// no later channel may see the dead session.
	assert.Nil(t, b.sessions.lookup("alice"))
	assert.Nil(t, b.channels.find("#b"), "no channels created after eviction")
	if c := b.channels.find("#a"); c != nil {
		assert.Equal(t, 0, c.size())
	}
	assert.ElementsMatch(t, []string{"#a"}, b.channels.sweepEmpty())
	assertMirrored(t, b)
}

func TestHandleLeave_OverflowEvictionStopsFanOut(t *testing.T) {
	t.Parallel()

	b := testBroker()
	alice := addSessionDepth(t, b, "alice", 1)
	bob := addSession(t, b, "bob")
	join(b, alice, "#a")
	join(b, alice, "#b")
	join(b, bob, "#a")
	join(b, bob, "#b")
	require.True(t, alice.enqueue([]byte("x\r\n")), "prefill the queue")

	b.dispatch(alice, wire.NewLeave("alice", []string{"#a", "#b"}, "bye"))

	// alice's copy of the #a announcement overflows and evicts her; bob sees
	// that announcement and the quit, but no leave for #b after the goodbye.
	assert.Nil(t, b.sessions.lookup("alice"))
	m := recvFrame(t, bob)
	assert.Equal(t, wire.CmdLeave, m.Cmd)
	assert.Equal(t, []string{"#a"}, m.ChannelList())
	m = recvFrame(t, bob)
	assert.Equal(t, wire.CmdQuit, m.Cmd)
	assert.Equal(t, "alice", m.Src)
	assertNoFrames(t, bob)

	assert.False(t, b.channels.find("#a").has(alice))
	assert.False(t, b.channels.find("#b").has(alice))
	assertMirrored(t, b)
}

func TestSendNames_TwelveMembersChunkFiveFiveTwo(t *testing.T) {
	t.Parallel()

	b := testBroker()
	alice := addSession(t, b, "alice")
	names := make([]string, 12)
	for i := range names {
		names[i] = fmt.Sprintf("user%02d", i)
	}

	b.sendNames(alice, "#big", names, false)

	for _, want := range []int{5, 5, 2, 0} {
		m := recvFrame(t, alice)
		require.Equal(t, wire.ReplyNames, m.Reply)
		assert.Len(t, *m.Names, want)
	}
	assertNoFrames(t, alice)
}

// ============================================================================
// leave
// ============================================================================

func TestHandleLeave_AnnouncesBeforeRemoval(t *testing.T) {
	t.Parallel()

	b := testBroker()
	alice := addSession(t, b, "alice")
	bob := addSession(t, b, "bob")
	join(b, alice, "#x")
	join(b, bob, "#x")

	b.dispatch(alice, wire.NewLeave("alice", []string{"#x"}, "gone fishing"))

	for _, s := range []*Session{alice, bob} {
		m := recvFrame(t, s)
		assert.Equal(t, wire.CmdLeave, m.Cmd)
		assert.Equal(t, "alice", m.Src)
		assert.Equal(t, "gone fishing", m.Text())
	}

	assert.False(t, b.channels.find("#x").has(alice))
	assert.False(t, alice.inChannel("#x"))
	// The emptied-or-not channel is swept later, not destroyed here.
	assert.NotNil(t, b.channels.find("#x"))
	assertMirrored(t, b)
}

func TestHandleLeave_Errors(t *testing.T) {
	t.Parallel()

	b := testBroker()
	alice := addSession(t, b, "alice")
	bob := addSession(t, b, "bob")
	join(b, bob, "#x")

	b.dispatch(alice, wire.NewLeave("alice", []string{"#nope"}, "bye"))
	m := recvFrame(t, alice)
	assert.Equal(t, wire.ErrKindNoChannel, m.Error)

	b.dispatch(alice, wire.NewLeave("alice", []string{"#x"}, "bye"))
	m = recvFrame(t, alice)
	assert.Equal(t, wire.ErrKindNonMember, m.Error)

	assertNoFrames(t, bob)
}

// ============================================================================
// channels / users
// ============================================================================

func TestHandleChannels_Chunking(t *testing.T) {
	t.Parallel()

	b := testBroker()
	alice := addSession(t, b, "alice")
	for i := 0; i < 7; i++ {
		join(b, alice, fmt.Sprintf("#c%d", i))
	}

	b.dispatch(alice, wire.NewChannelsQuery("alice"))

	m := recvFrame(t, alice)
	assert.Equal(t, wire.ReplyChannels, m.Reply)
	assert.Len(t, *m.Channels, 5)
	m = recvFrame(t, alice)
	assert.Len(t, *m.Channels, 2)
	m = recvFrame(t, alice)
	assert.Empty(t, *m.Channels)
	assertNoFrames(t, alice)
}

func TestHandleChannels_EmptyRegistry(t *testing.T) {
	t.Parallel()

	b := testBroker()
	alice := addSession(t, b, "alice")

	b.dispatch(alice, wire.NewChannelsQuery("alice"))

	m := recvFrame(t, alice)
	assert.Equal(t, wire.ReplyChannels, m.Reply)
	assert.Empty(t, *m.Channels, "just the terminator")
	assertNoFrames(t, alice)
}

func TestHandleUsers_Channel(t *testing.T) {
	t.Parallel()

	b := testBroker()
	alice := addSession(t, b, "alice")
	bob := addSession(t, b, "bob")
	join(b, alice, "#x")
	join(b, bob, "#x")

	b.dispatch(alice, wire.NewUsers("alice", []string{"#x"}, true))

	m := recvFrame(t, alice)
	assert.Equal(t, wire.ReplyNames, m.Reply)
	assert.Equal(t, "#x", m.Channel)
	assert.Equal(t, []string{"alice", "bob"}, *m.Names)
	assert.True(t, m.ClientFlag(), "reply mirrors the request's client flag")
	m = recvFrame(t, alice)
	assert.Empty(t, *m.Names)
	assert.True(t, m.ClientFlag())
}

func TestHandleUsers_AllUsersWhenNoChannels(t *testing.T) {
	t.Parallel()

	b := testBroker()
	alice := addSession(t, b, "alice")
	addSession(t, b, "bob")
	addSession(t, b, "carol")

	b.dispatch(alice, wire.NewUsers("alice", nil, false))

	m := recvFrame(t, alice)
	assert.Equal(t, []string{"alice", "bob", "carol"}, *m.Names)
	m = recvFrame(t, alice)
	assert.Empty(t, *m.Names)
}

func TestHandleUsers_UnknownChannel(t *testing.T) {
	t.Parallel()

	b := testBroker()
	alice := addSession(t, b, "alice")

	b.dispatch(alice, wire.NewUsers("alice", []string{"#nope"}, false))

	m := recvFrame(t, alice)
	assert.Equal(t, wire.ErrKindNoChannel, m.Error)
	assertNoFrames(t, alice)
}

// ============================================================================
// msg
// ============================================================================

func TestHandleMsg_ChannelFanOut(t *testing.T) {
	t.Parallel()

	b := testBroker()
	alice := addSession(t, b, "alice")
	bob := addSession(t, b, "bob")
	carol := addSession(t, b, "carol")
	join(b, alice, "#x")
	join(b, bob, "#x")

	b.dispatch(alice, wire.NewMsg("alice", []string{"#x"}, "hi"))

	for _, s := range []*Session{alice, bob} {
		m := recvFrame(t, s)
		assert.Equal(t, wire.CmdMsg, m.Cmd)
		assert.Equal(t, "alice", m.Src)
		assert.Equal(t, []string{"#x"}, m.TargetList())
		assert.Equal(t, "hi", m.Text())
	}
	assertNoFrames(t, carol)
}

func TestHandleMsg_Deduplicates(t *testing.T) {
	t.Parallel()

	b := testBroker()
	alice := addSession(t, b, "alice")
	bob := addSession(t, b, "bob")
	join(b, alice, "#x")
	join(b, alice, "#y")
	join(b, bob, "#x")
	join(b, bob, "#y")

	// bob is in both channels and directly addressed: exactly one copy.
	b.dispatch(alice, wire.NewMsg("alice", []string{"#x", "#y", "bob"}, "hi"))

	m := recvFrame(t, bob)
	assert.Equal(t, wire.CmdMsg, m.Cmd)
	assertNoFrames(t, bob)
}

func TestHandleMsg_DirectToNick(t *testing.T) {
	t.Parallel()

	b := testBroker()
	alice := addSession(t, b, "alice")
	bob := addSession(t, b, "bob")

	b.dispatch(alice, wire.NewMsg("alice", []string{"bob"}, "psst"))

	m := recvFrame(t, bob)
	assert.Equal(t, "psst", m.Text())
	// The sender is not among the targets and gets no copy.
	assertNoFrames(t, alice)
}

func TestHandleMsg_Errors(t *testing.T) {
	t.Parallel()

	b := testBroker()
	alice := addSession(t, b, "alice")
	bob := addSession(t, b, "bob")
	join(b, bob, "#x")

	// Unknown nickname: nonexist, and the valid channel target sees nothing
	// (never a mix of error and success).
	b.dispatch(alice, wire.NewMsg("alice", []string{"ghost"}, "hi"))
	m := recvFrame(t, alice)
	assert.Equal(t, wire.ErrKindNonExist, m.Error)

	// Unknown channel: nonexist.
	b.dispatch(alice, wire.NewMsg("alice", []string{"#nope"}, "hi"))
	m = recvFrame(t, alice)
	assert.Equal(t, wire.ErrKindNonExist, m.Error)

	// Channel the sender has not joined: nonmember.
	b.dispatch(alice, wire.NewMsg("alice", []string{"#x"}, "hi"))
	m = recvFrame(t, alice)
	assert.Equal(t, wire.ErrKindNonMember, m.Error)

	assertNoFrames(t, bob)
}

// ============================================================================
// quit / eviction
// ============================================================================

func TestHandleQuit_EvictsAndAnnounces(t *testing.T) {
	t.Parallel()

	b := testBroker()
	alice := addSession(t, b, "alice")
	bob := addSession(t, b, "bob")
	join(b, alice, "#x")
	join(b, bob, "#x")

	b.dispatch(alice, wire.NewQuit("alice", "bye all"))

	// The departing session's own goodbye carries its own nickname.
	m := recvFrame(t, alice)
	assert.Equal(t, wire.CmdQuit, m.Cmd)
	assert.Equal(t, "alice", m.Src)
	assert.Equal(t, "bye all", m.Text())

	// Channel peers get the announcement with the departing src.
	m = recvFrame(t, bob)
	assert.Equal(t, wire.CmdQuit, m.Cmd)
	assert.Equal(t, "alice", m.Src)

	assert.Nil(t, b.sessions.lookup("alice"))
	assert.False(t, b.channels.find("#x").has(alice))
	assertMirrored(t, b)
}

func TestEvict_ServerInitiatedUsesServerSrc(t *testing.T) {
	t.Parallel()

	b := testBroker()
	alice := addSession(t, b, "alice")

	b.evict(alice, "Server Shutdown", true)

	m := recvFrame(t, alice)
	assert.Equal(t, wire.NickServer, m.Src)
	assert.Equal(t, "Server Shutdown", m.Text())
}

func TestEvict_Idempotent(t *testing.T) {
	t.Parallel()

	b := testBroker()
	alice := addSession(t, b, "alice")

	b.evict(alice, "Connection Drop", true)
	drainFrames(alice)
	b.evict(alice, "Connection Drop", true)

	assertNoFrames(t, alice)
}

// ============================================================================
// pong
// ============================================================================

func TestHandlePong_MatchClearsPending(t *testing.T) {
	t.Parallel()

	b := testBroker()
	alice := addSession(t, b, "alice")
	alice.armPing("12345")

	b.dispatch(alice, wire.NewPong("alice", "12345"))

	assert.False(t, alice.hasPending)
	assert.Same(t, alice, b.sessions.lookup("alice"))
	assertNoFrames(t, alice)
}

func TestHandlePong_MismatchEvicts(t *testing.T) {
	t.Parallel()

	b := testBroker()
	alice := addSession(t, b, "alice")
	alice.armPing("12345")

	b.dispatch(alice, wire.NewPong("alice", "99999"))

	m := recvFrame(t, alice)
	assert.Equal(t, wire.CmdQuit, m.Cmd)
	assert.Equal(t, "Unexpected Pong", m.Text())
	assert.Nil(t, b.sessions.lookup("alice"))
}

func TestHandlePong_UnsolicitedEvicts(t *testing.T) {
	t.Parallel()

	b := testBroker()
	alice := addSession(t, b, "alice")

	b.dispatch(alice, wire.NewPong("alice", "12345"))

	m := recvFrame(t, alice)
	assert.Equal(t, "Unexpected Pong", m.Text())
	assert.Nil(t, b.sessions.lookup("alice"))
}

// ============================================================================
// ping
// ============================================================================

func TestHandlePing_IsIgnored(t *testing.T) {
	t.Parallel()

	b := testBroker()
	alice := addSession(t, b, "alice")

	b.dispatch(alice, wire.NewPing("alice", "hello"))

	assertNoFrames(t, alice)
	assert.Same(t, alice, b.sessions.lookup("alice"))
}

// ============================================================================
// Backpressure
// ============================================================================

func TestSend_QueueOverflowEvicts(t *testing.T) {
	t.Parallel()

	b := testBroker()
	server, client := net.Pipe()
	t.Cleanup(func() {
		_ = server.Close()
		_ = client.Close()
	})

	s := newSession(server, 1)
	s.nick = "slow"
	b.sessions.add(s)

	require.True(t, s.enqueue([]byte("x\r\n")))

	b.send(s, wire.NewPing(wire.NickServer, "1"))

	assert.Nil(t, b.sessions.lookup("slow"), "overflowing session is evicted")
}
