package broker

import (
	"fmt"

	"github.com/crzysdrs/CS594IRC/internal/logger"
	"github.com/crzysdrs/CS594IRC/pkg/wire"
)

// dispatch routes one validated inbound command to its handler. Called with
// the broker mutex held.
//
// Every command either produces zero responses, exactly one error reply to
// the sender, or one or more fan-out frames. An error never carries side
// effects.
func (b *Broker) dispatch(s *Session, m *wire.Message) {
	// Anti-spoofing: a client frame must carry the sender's current
	// nickname. Schema validation already checked the syntax.
	if m.Src != s.nick {
		b.sendError(s, wire.ErrKindSchema,
			fmt.Sprintf("src %q does not match your nickname", m.Src))
		return
	}

	switch m.Cmd {
	case wire.CmdNick:
		b.handleNick(s, m)
	case wire.CmdJoin:
		b.handleJoin(s, m)
	case wire.CmdLeave:
		b.handleLeave(s, m)
	case wire.CmdChannels:
		b.handleChannels(s)
	case wire.CmdUsers:
		b.handleUsers(s, m)
	case wire.CmdMsg:
		b.handleMsg(s, m)
	case wire.CmdQuit:
		b.handleQuit(s, m)
	case wire.CmdPing:
		// Inbound pings are deliberately ignored; the liveness protocol is
		// server-driven only.
	case wire.CmdPong:
		b.handlePong(s, m)
	}
}

// handleNick renames the session. The rename is announced to the session
// itself and to every channel it belongs to, so all observers see the old
// and new names in one frame. Nickname conflicts and reserved or invalid
// names all fold into the badnick error.
func (b *Broker) handleNick(s *Session, m *wire.Message) {
	update := m.Update
	if !wire.ValidNick(update) || wire.Reserved(update) {
		b.sendError(s, wire.ErrKindBadNick, fmt.Sprintf("nickname %q is not allowed", update))
		return
	}
	if b.sessions.inUse(update) {
		b.sendError(s, wire.ErrKindBadNick, fmt.Sprintf("nickname %q is already in use", update))
		return
	}

	old := s.nick
	b.sessions.rename(s, update)
	logger.Info("nickname changed", logger.OldNick(old), logger.Nick(update))

	dests := destSet{}
	dests.add(s)
	for name := range s.channels {
		if c := b.channels.find(name); c != nil {
			dests.addChannel(c)
		}
	}
	b.fanOut(dests, wire.NewNick(old, update))
}

// handleJoin adds the session to every listed channel, lazily creating
// missing ones. All-or-nothing: being a member of any listed channel
// rejects the whole command with no side effects.
func (b *Broker) handleJoin(s *Session, m *wire.Message) {
	requested := m.ChannelList()

	for _, name := range requested {
		if s.inChannel(name) {
			b.sendError(s, wire.ErrKindMember, fmt.Sprintf("already a member of %s", name))
			return
		}
	}

	for _, name := range requested {
		c := b.channels.findOrCreate(name)
		b.channels.addMember(c, s)
		logger.Info("channel joined", logger.Nick(s.nick), logger.Channel(name))

		dests := destSet{}
		dests.addChannel(c)
		b.fanOut(dests, wire.NewJoin(s.nick, []string{name}))

		// The fan-out can evict the joiner on queue overflow, detaching it
		// from every channel. Adding a dead session to the remaining channels
		// would leave a member no sweep can ever reclaim.
		if b.sessions.lookup(s.nick) != s {
			return
		}
	}

	// Tell the joiner who is already there: chunked names replies per
	// channel, each listing closed by an empty terminator.
	for _, name := range requested {
		c := b.channels.find(name)
		b.sendNames(s, name, c.memberNicks(), false)
	}

	b.updateGauges()
}

// handleLeave removes the session from every listed channel. The parting
// announcement goes to the full membership, the leaver included, before the
// membership changes. All-or-nothing across the listed channels.
func (b *Broker) handleLeave(s *Session, m *wire.Message) {
	requested := m.ChannelList()

	for _, name := range requested {
		c := b.channels.find(name)
		if c == nil {
			b.sendError(s, wire.ErrKindNoChannel, fmt.Sprintf("no such channel %s", name))
			return
		}
		if !c.has(s) {
			b.sendError(s, wire.ErrKindNonMember, fmt.Sprintf("not a member of %s", name))
			return
		}
	}

	for _, name := range requested {
		c := b.channels.find(name)

		dests := destSet{}
		dests.addChannel(c)
		b.fanOut(dests, wire.NewLeave(s.nick, []string{name}, m.Text()))

		// Eviction mid-fan-out has already detached the leaver everywhere and
		// announced the quit; further leave frames would follow the goodbye.
		if b.sessions.lookup(s.nick) != s {
			return
		}

		b.channels.removeMember(c, s)
		logger.Info("channel left", logger.Nick(s.nick), logger.Channel(name))
	}
	// Emptied channels linger until the next liveness sweep.

	b.updateGauges()
}

// handleChannels replies to the requester with the full channel list in
// chunks, closed by an empty terminator.
func (b *Broker) handleChannels(s *Session) {
	names := b.channels.names()
	for len(names) > 0 {
		n := min(len(names), wire.ChunkSize)
		b.send(s, wire.NewChannelsReply(names[:n]))
		names = names[n:]
	}
	b.send(s, wire.NewChannelsReply(nil))
}

// handleUsers lists channel members, or every connected user when no
// channels are given. The reply mirrors the request's client flag so
// scripted peers can tell their own queries apart.
func (b *Broker) handleUsers(s *Session, m *wire.Message) {
	client := m.ClientFlag()

	if m.Channels == nil {
		b.sendNames(s, "", b.sessions.nicks(), client)
		return
	}

	requested := m.ChannelList()
	for _, name := range requested {
		if b.channels.find(name) == nil {
			b.sendError(s, wire.ErrKindNoChannel, fmt.Sprintf("no such channel %s", name))
			return
		}
	}

	for _, name := range requested {
		c := b.channels.find(name)
		b.sendNames(s, name, c.memberNicks(), client)
	}
}

// sendNames delivers one chunked names listing to a single session,
// terminated by an empty names reply.
func (b *Broker) sendNames(s *Session, channel string, names []string, client bool) {
	for len(names) > 0 {
		n := min(len(names), wire.ChunkSize)
		b.send(s, wire.NewNamesReply(channel, names[:n], client))
		names = names[n:]
	}
	b.send(s, wire.NewNamesReply(channel, nil, client))
}

// handleMsg relays a message to the deduplicated union of its targets.
// Channel targets require membership; unknown targets of either kind
// reject the whole command. On success every destination, the sender
// included when it is among the targets, receives the frame with the
// original src.
func (b *Broker) handleMsg(s *Session, m *wire.Message) {
	dests := destSet{}

	for _, target := range m.TargetList() {
		if wire.IsChannel(target) {
			c := b.channels.find(target)
			if c == nil {
				b.sendError(s, wire.ErrKindNonExist, fmt.Sprintf("no such channel %s", target))
				return
			}
			if !c.has(s) {
				b.sendError(s, wire.ErrKindNonMember, fmt.Sprintf("not a member of %s", target))
				return
			}
			dests.addChannel(c)
			continue
		}

		peer := b.sessions.lookup(target)
		if peer == nil {
			b.sendError(s, wire.ErrKindNonExist, fmt.Sprintf("no such user %s", target))
			return
		}
		dests.add(peer)
	}

	b.fanOut(dests, m)
	if b.metrics != nil {
		b.metrics.RecordMessageRelayed(len(dests))
	}
}

// handleQuit evicts the session with its own goodbye message.
func (b *Broker) handleQuit(s *Session, m *wire.Message) {
	b.evict(s, m.Text(), false)
}

// handlePong resolves the session's outstanding liveness ping. A mismatched
// or unsolicited pong is a protocol violation and costs the connection.
func (b *Broker) handlePong(s *Session, m *wire.Message) {
	if !s.hasPending || s.pendingPing != m.Text() {
		b.evict(s, "Unexpected Pong", true)
		if b.metrics != nil {
			b.metrics.RecordEviction("protocol")
		}
		return
	}
	s.clearPing()
}
