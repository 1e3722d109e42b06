// Package broker implements the chat relay: a single TCP listener feeding
// per-connection read loops whose validated commands mutate the nickname
// and channel registries under one broker-wide mutex.
package broker

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/crzysdrs/CS594IRC/internal/logger"
	"github.com/crzysdrs/CS594IRC/pkg/config"
	"github.com/crzysdrs/CS594IRC/pkg/metrics"
	"github.com/crzysdrs/CS594IRC/pkg/nickgen"
	"github.com/crzysdrs/CS594IRC/pkg/wire"
)

// Broker is the central relay process state.
//
// Concurrency model: one goroutine per connection for reading, one for
// writing, plus the liveness ticker. Every mutation of the session and
// channel registries happens under mu, the single exclusive discipline,
// which preserves per-session FIFO ordering together with the per-session
// outbound queues.
type Broker struct {
	cfg     *config.Config
	metrics metrics.BrokerMetrics

	// mu guards sessions, channels, nicks, per-session protocol state, and
	// the liveness round counters.
	mu              sync.Mutex
	sessions        *sessionRegistry
	channels        *channelRegistry
	nicks           *nickgen.Generator
	lastRound       time.Time
	ticksSinceRound int

	// listener is closed during shutdown to stop accepting connections.
	listener   net.Listener
	listenerMu sync.RWMutex

	// shutdown signals that graceful shutdown has been initiated.
	shutdown     chan struct{}
	shutdownOnce sync.Once

	// activeConns tracks connection goroutines for graceful shutdown.
	activeConns sync.WaitGroup
	connCount   atomic.Int32

	// connSemaphore limits concurrent connections when MaxConnections > 0;
	// nil means unlimited.
	connSemaphore chan struct{}

	// ListenerReady is closed when the listener is accepting connections.
	// Used by tests to synchronize with server startup.
	ListenerReady chan struct{}
}

// New creates a stopped broker. Call Serve to start. Pass nil metrics for
// zero-overhead operation without a registry.
func New(cfg *config.Config, m metrics.BrokerMetrics) *Broker {
	var connSemaphore chan struct{}
	if cfg.Limits.MaxConnections > 0 {
		connSemaphore = make(chan struct{}, cfg.Limits.MaxConnections)
	}

	b := &Broker{
		cfg:           cfg,
		metrics:       m,
		sessions:      newSessionRegistry(),
		channels:      newChannelRegistry(),
		shutdown:      make(chan struct{}),
		connSemaphore: connSemaphore,
		ListenerReady: make(chan struct{}),
		lastRound:     time.Now(),
	}
	b.nicks = nickgen.New(func(nick string) bool {
		return b.sessions.inUse(nick) || wire.Reserved(nick)
	})
	return b
}

// Serve binds the listener and runs the accept loop until ctx is cancelled
// or Stop is called.
//
// Returns:
//   - nil on graceful shutdown
//   - an error if the listener fails to bind (address in use etc.)
func (b *Broker) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", b.cfg.Listen.Addr())
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", b.cfg.Listen.Addr(), err)
	}

	b.listenerMu.Lock()
	b.listener = listener
	b.listenerMu.Unlock()
	close(b.ListenerReady)

	logger.Info("server listening", logger.Address(listener.Addr().String()))

	go func() {
		select {
		case <-ctx.Done():
			logger.Info("shutdown signal received", logger.Err(ctx.Err()))
			b.initiateShutdown()
		case <-b.shutdown:
		}
	}()

	go b.livenessLoop()

	for {
		if b.connSemaphore != nil {
			select {
			case b.connSemaphore <- struct{}{}:
			case <-b.shutdown:
				return b.gracefulShutdown()
			}
		}

		conn, err := listener.Accept()
		if err != nil {
			if b.connSemaphore != nil {
				<-b.connSemaphore
			}
			select {
			case <-b.shutdown:
				// Expected error: the listener was closed.
				return b.gracefulShutdown()
			default:
				logger.Debug("error accepting connection", logger.Err(err))
				continue
			}
		}

		if tcp, ok := conn.(*net.TCPConn); ok {
			if err := tcp.SetNoDelay(true); err != nil {
				logger.Debug("failed to set TCP_NODELAY", logger.Err(err))
			}
		}

		b.acceptSession(conn)
	}
}

// acceptSession registers a session for a freshly accepted connection and
// starts its reader and writer goroutines.
func (b *Broker) acceptSession(conn net.Conn) {
	s := newSession(conn, b.cfg.Limits.SendQueueDepth)

	b.mu.Lock()
	select {
	case <-b.shutdown:
		// Shutdown's eviction sweep has run or is about to run under this
		// mutex; registering now would outlive it.
		b.mu.Unlock()
		_ = conn.Close()
		if b.connSemaphore != nil {
			<-b.connSemaphore
		}
		return
	default:
	}
	nick, err := b.nicks.Next()
	if err == nil {
		s.nick = nick
		b.sessions.add(s)
		// The welcome rename from the NEWUSER placeholder is queued in the
		// same critical section that registers the session, so no liveness
		// ping can ever precede it.
		b.send(s, wire.NewNick(wire.NickNewUser, nick))
		b.updateGauges()
	}
	b.mu.Unlock()

	if err != nil {
		logger.Error("rejecting connection", logger.Address(conn.RemoteAddr().String()), logger.Err(err))
		_ = conn.Close()
		if b.connSemaphore != nil {
			<-b.connSemaphore
		}
		return
	}

	b.activeConns.Add(1)
	current := b.connCount.Add(1)
	if b.metrics != nil {
		b.metrics.RecordConnectionAccepted()
	}
	logger.Info("connection accepted",
		logger.Address(conn.RemoteAddr().String()), logger.Nick(nick), "active", current)

	go s.writeLoop()

	go func() {
		defer func() {
			b.activeConns.Done()
			b.connCount.Add(-1)
			if b.connSemaphore != nil {
				<-b.connSemaphore
			}
			if b.metrics != nil {
				b.metrics.RecordConnectionClosed()
			}
			logger.Debug("connection closed", logger.ConnID(s.id), "active", b.connCount.Load())
		}()
		b.readLoop(s)
	}()
}

// readLoop reads the connection into the framer and feeds complete frames
// through decode, validation and dispatch. A read error or EOF is a
// connection drop.
func (b *Broker) readLoop(s *Session) {
	buf := make([]byte, wire.MaxFrameSize)
	var framer wire.Framer

	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			framer.Feed(buf[:n])
			b.processFrames(s, &framer)
		}
		if err != nil {
			b.mu.Lock()
			if b.sessions.lookup(s.nick) == s {
				select {
				case <-b.shutdown:
					// Shutdown evicts everyone with its own reason.
				default:
					logger.Info("connection dropped", logger.Nick(s.nick), logger.Err(err))
					b.evict(s, "Connection Drop", true)
				}
			}
			b.mu.Unlock()
			return
		}
	}
}

// processFrames drains every complete frame buffered in the framer.
func (b *Broker) processFrames(s *Session, framer *wire.Framer) {
	for {
		select {
		case <-s.done:
			// Evicted mid-buffer; drop whatever remains.
			return
		default:
		}

		frame, err := framer.Next()
		if err != nil {
			b.mu.Lock()
			b.sendError(s, wire.ErrKindSchema, "frame exceeds maximum size")
			b.mu.Unlock()
			continue
		}
		if frame == nil {
			return
		}

		m, err := wire.Decode(frame)
		if err != nil {
			b.mu.Lock()
			b.sendError(s, wire.ErrKindSchema, "malformed JSON frame")
			b.mu.Unlock()
			continue
		}
		if err := wire.Validate(m); err != nil {
			b.mu.Lock()
			b.sendError(s, wire.ErrKindSchema, err.Error())
			b.mu.Unlock()
			continue
		}

		b.mu.Lock()
		if b.sessions.lookup(s.nick) == s {
			if b.metrics != nil {
				b.metrics.RecordFrameIn(m.Cmd, len(frame))
			}
			b.dispatch(s, m)
		}
		b.mu.Unlock()
	}
}

// evict tears a session down: a final quit to the session itself (src is
// its own nickname, or SERVER when the server initiated it), removal from
// every channel, a quit announcement fanned to the union of those
// channels, then connection close and registry deletion.
//
// Called with the broker mutex held. Idempotent: evicting an already-gone
// session is a no-op, so overlapping teardown paths are safe.
func (b *Broker) evict(s *Session, reason string, fromServer bool) {
	if b.sessions.lookup(s.nick) != s {
		return
	}

	src := s.nick
	if fromServer {
		src = wire.NickServer
	}
	b.sendBestEffort(s, wire.NewQuit(src, reason))

	dests := destSet{}
	for name := range s.channels {
		c := b.channels.find(name)
		if c == nil {
			continue
		}
		b.channels.removeMember(c, s)
		dests.addChannel(c)
	}

	b.sessions.remove(s)

	announce := wire.NewQuit(s.nick, reason)
	for peer := range dests {
		b.sendBestEffort(peer, announce)
	}

	s.close()
	logger.Info("session evicted", logger.Nick(s.nick), logger.Reason(reason))
	b.updateGauges()
}

// initiateShutdown closes the listener and evicts every session with the
// shutdown announcement. Safe to call multiple times.
func (b *Broker) initiateShutdown() {
	b.shutdownOnce.Do(func() {
		close(b.shutdown)

		b.mu.Lock()
		for _, s := range b.sessions.all() {
			b.evict(s, "Server Shutdown", true)
			if b.metrics != nil {
				b.metrics.RecordEviction("shutdown")
			}
		}
		b.mu.Unlock()

		b.listenerMu.Lock()
		if b.listener != nil {
			if err := b.listener.Close(); err != nil {
				logger.Debug("error closing listener", logger.Err(err))
			}
		}
		b.listenerMu.Unlock()
	})
}

// gracefulShutdown waits for connection goroutines to drain.
func (b *Broker) gracefulShutdown() error {
	logger.Info("graceful shutdown: waiting for connections", "active", b.connCount.Load())
	b.activeConns.Wait()
	logger.Info("graceful shutdown complete")
	return nil
}

// Stop initiates graceful shutdown. Safe to call multiple times and
// concurrently with Serve.
func (b *Broker) Stop() {
	b.initiateShutdown()
}

// Addr returns the bound listen address. Blocks until the listener is
// ready, making it safe for tests that bind port 0.
func (b *Broker) Addr() string {
	<-b.ListenerReady

	b.listenerMu.RLock()
	defer b.listenerMu.RUnlock()

	if b.listener == nil {
		return ""
	}
	return b.listener.Addr().String()
}

// updateGauges refreshes the registry size gauges. Called with the broker
// mutex held.
func (b *Broker) updateGauges() {
	if b.metrics == nil {
		return
	}
	b.metrics.SetActiveSessions(b.sessions.count())
	b.metrics.SetActiveChannels(b.channels.count())
}
