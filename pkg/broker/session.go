package broker

import (
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/crzysdrs/CS594IRC/internal/logger"
)

// writeTimeout bounds each outbound frame write so one stalled client
// cannot wedge its writer goroutine.
const writeTimeout = 5 * time.Second

// Session is the broker's per-connection state, keyed by nickname.
//
// All fields except the outbound queue are guarded by the broker mutex.
// The queue is drained by a dedicated writer goroutine so frame delivery
// stays FIFO per session without holding the broker lock across writes.
type Session struct {
	// id identifies the connection in logs, independent of renames.
	id   string
	conn net.Conn

	// nick is the current registry key.
	nick string

	// channels is the set of channel names this session has joined.
	channels map[string]struct{}

	// pendingPing is the payload of the outstanding liveness ping, if any.
	pendingPing string
	hasPending  bool

	outbound  chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newSession(conn net.Conn, queueDepth int) *Session {
	return &Session{
		id:       uuid.New().String(),
		conn:     conn,
		channels: make(map[string]struct{}),
		outbound: make(chan []byte, queueDepth),
		done:     make(chan struct{}),
	}
}

// Nick returns the session's current nickname.
func (s *Session) Nick() string { return s.nick }

// RemoteAddr returns the peer address.
func (s *Session) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

// enqueue queues one encoded frame for delivery. It never blocks: a full
// queue returns false, which the broker treats as backpressure and grounds
// for eviction. Frames offered to a closing session are silently dropped.
func (s *Session) enqueue(frame []byte) bool {
	select {
	case <-s.done:
		return true
	default:
	}

	select {
	case s.outbound <- frame:
		return true
	default:
		return false
	}
}

// close stops the session's writer after a best-effort flush of queued
// frames. Safe to call multiple times. The writer goroutine closes the
// connection, which also unblocks the read loop.
func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

// writeLoop drains the outbound queue to the connection. It owns the
// connection close: once the session is shut down it flushes what is
// already queued, then closes the transport.
func (s *Session) writeLoop() {
	defer func() {
		if err := s.conn.Close(); err != nil {
			logger.Debug("error closing connection", logger.ConnID(s.id), logger.Err(err))
		}
	}()

	for {
		select {
		case frame := <-s.outbound:
			if !s.writeFrame(frame) {
				return
			}
		case <-s.done:
			// Flush frames queued before shutdown (the final quit among them).
			for {
				select {
				case frame := <-s.outbound:
					if !s.writeFrame(frame) {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (s *Session) writeFrame(frame []byte) bool {
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return false
	}
	if _, err := s.conn.Write(frame); err != nil {
		logger.Debug("write failed", logger.ConnID(s.id), logger.Err(err))
		return false
	}
	return true
}

// clearPing resolves the outstanding liveness ping.
func (s *Session) clearPing() {
	s.pendingPing = ""
	s.hasPending = false
}

// armPing records a fresh liveness ping payload. The caller must have
// checked that no ping is outstanding.
func (s *Session) armPing(payload string) {
	s.pendingPing = payload
	s.hasPending = true
}

// channelNames returns the session's channel set as a slice.
func (s *Session) channelNames() []string {
	names := make([]string, 0, len(s.channels))
	for name := range s.channels {
		names = append(names, name)
	}
	return names
}

// inChannel reports whether the session has joined the named channel.
func (s *Session) inChannel(name string) bool {
	_, ok := s.channels[name]
	return ok
}
