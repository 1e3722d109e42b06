package broker

import (
	"github.com/crzysdrs/CS594IRC/internal/logger"
	"github.com/crzysdrs/CS594IRC/pkg/wire"
)

// destSet is a deduplicated set of destination sessions. A session present
// in several target channels, or both directly addressed and a channel
// member, receives exactly one copy.
type destSet map[*Session]struct{}

func (d destSet) add(s *Session) {
	d[s] = struct{}{}
}

func (d destSet) addChannel(c *Channel) {
	for s := range c.members {
		d[s] = struct{}{}
	}
}

func (d destSet) sessions() []*Session {
	out := make([]*Session, 0, len(d))
	for s := range d {
		out = append(out, s)
	}
	return out
}

// send encodes m and queues it for one session. A full queue is
// backpressure: the session is evicted rather than letting its queue grow
// unbounded. Encoding failures only happen for frames exceeding the wire
// size and are logged and dropped.
func (b *Broker) send(s *Session, m *wire.Message) {
	frame, err := wire.Encode(m)
	if err != nil {
		logger.Warn("dropping oversize outbound frame",
			logger.Nick(s.nick), logger.Cmd(m.Cmd), logger.Err(err))
		return
	}
	if !s.enqueue(frame) {
		logger.Warn("send queue overflow", logger.Nick(s.nick))
		b.evict(s, "Connection Drop", true)
		if b.metrics != nil {
			b.metrics.RecordEviction("queue_full")
		}
		return
	}
	if b.metrics != nil {
		b.metrics.RecordFrameOut(len(frame))
	}
}

// sendBestEffort queues a frame without the backpressure eviction. Used on
// teardown paths, where a failed delivery to a dying session is fine and
// recursing into evict would not be.
func (b *Broker) sendBestEffort(s *Session, m *wire.Message) {
	frame, err := wire.Encode(m)
	if err != nil {
		return
	}
	if s.enqueue(frame) && b.metrics != nil {
		b.metrics.RecordFrameOut(len(frame))
	}
}

// fanOut delivers one copy of m to every session in the set. The frame is
// encoded once. An empty set is not an error; callers decide whether it is.
func (b *Broker) fanOut(dests destSet, m *wire.Message) {
	frame, err := wire.Encode(m)
	if err != nil {
		logger.Warn("dropping oversize fan-out frame", logger.Cmd(m.Cmd), logger.Err(err))
		return
	}

	var overflowed []*Session
	for s := range dests {
		if !s.enqueue(frame) {
			overflowed = append(overflowed, s)
			continue
		}
		if b.metrics != nil {
			b.metrics.RecordFrameOut(len(frame))
		}
	}

	// Evict after the loop so teardown fan-outs never mutate the set we
	// are iterating.
	for _, s := range overflowed {
		logger.Warn("send queue overflow", logger.Nick(s.nick))
		b.evict(s, "Connection Drop", true)
		if b.metrics != nil {
			b.metrics.RecordEviction("queue_full")
		}
	}
}

// sendError delivers an error frame to the offending session only.
func (b *Broker) sendError(s *Session, kind, msg string) {
	logger.Debug("protocol error", logger.Nick(s.nick), "kind", kind, logger.Reason(msg))
	if b.metrics != nil {
		b.metrics.RecordProtocolError(kind)
	}
	b.send(s, wire.NewError(kind, msg))
}
