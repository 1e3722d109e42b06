package broker

import (
	"strconv"
	"time"

	"github.com/crzysdrs/CS594IRC/internal/logger"
	"github.com/crzysdrs/CS594IRC/pkg/wire"
)

// livenessLoop drives the ping protocol off a ticker until shutdown.
func (b *Broker) livenessLoop() {
	ticker := time.NewTicker(b.cfg.Liveness.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.shutdown:
			return
		case now := <-ticker.C:
			b.mu.Lock()
			b.livenessTick(now)
			b.mu.Unlock()
		}
	}
}

// livenessTick advances the liveness state machine by one tick. A ping
// round fires only once both thresholds pass: more than the configured
// tick count AND more than the configured wall time since the last round.
// Called with the broker mutex held; tests drive it directly.
func (b *Broker) livenessTick(now time.Time) {
	b.ticksSinceRound++
	if b.ticksSinceRound <= b.cfg.Liveness.MinTicks {
		return
	}
	if now.Sub(b.lastRound) <= b.cfg.Liveness.MinElapsed {
		return
	}

	b.pingRound(now)
	b.lastRound = now
	b.ticksSinceRound = 0

	// Channel reclamation rides the same tick: destroy whatever has been
	// left empty since the last round.
	for _, name := range b.channels.sweepEmpty() {
		logger.Info("empty channel destroyed", logger.Channel(name))
	}
	b.updateGauges()
}

// pingRound evicts every session still owing a pong from the previous
// round, then pings the survivors. The payload is the current timestamp,
// opaque to clients, which must echo it back verbatim.
func (b *Broker) pingRound(now time.Time) {
	payload := strconv.FormatInt(now.Unix(), 10)

	for _, s := range b.sessions.all() {
		if s.hasPending {
			logger.Info("session timed out", logger.Nick(s.nick))
			b.evict(s, "No ping response", true)
			if b.metrics != nil {
				b.metrics.RecordEviction("timeout")
			}
			continue
		}
		s.armPing(payload)
		b.send(s, wire.NewPing(wire.NickServer, payload))
	}
}
