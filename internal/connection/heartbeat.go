package connection

import (
	"sync"
	"time"

	"log/slog"

	"github.com/tablekit/poslink/internal/envelope"
)

// Heartbeat sends periodic ping messages while a socket is connected. The
// backend answers each ping with a pong; pongs carry no payload the monitor
// cares about, they only prove the connection is alive.
//
// By default liveness detection is left to the transport: an unanswered ping
// does not close anything. Setting maxMissed > 0 turns on a hard check that
// declares the connection stale after that many unanswered pings.
//
// A Heartbeat is single-use: the supervisor creates one per connection and
// stops it on every exit from the connected state.
type Heartbeat struct {
	interval  time.Duration
	maxMissed int
	logger    *slog.Logger

	send func([]byte) error

	pongs chan struct{}
	stale chan struct{}
	done  chan struct{}
	once  sync.Once
}

// NewHeartbeat creates a heartbeat monitor and starts its timer.
func NewHeartbeat(interval time.Duration, maxMissed int, send func([]byte) error, logger *slog.Logger) *Heartbeat {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = DefaultSupervisorConfig().HeartbeatInterval
	}

	h := &Heartbeat{
		interval:  interval,
		maxMissed: maxMissed,
		logger:    logger,
		send:      send,
		pongs:     make(chan struct{}, 1),
		stale:     make(chan struct{}),
		done:      make(chan struct{}),
	}

	go h.run()

	return h
}

// Pong records an inbound pong. Safe to call after Stop.
func (h *Heartbeat) Pong() {
	select {
	case h.pongs <- struct{}{}:
	case <-h.done:
	default:
	}
}

// Stale is closed when the missed-pong ceiling is hit. It never fires when
// the ceiling is disabled.
func (h *Heartbeat) Stale() <-chan struct{} {
	return h.stale
}

// Stop cancels the heartbeat timer. Idempotent.
func (h *Heartbeat) Stop() {
	h.once.Do(func() {
		close(h.done)
	})
}

func (h *Heartbeat) run() {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	missed := 0

	for {
		select {
		case <-h.done:
			return

		case <-h.pongs:
			missed = 0

		case <-ticker.C:
			if h.maxMissed > 0 && missed >= h.maxMissed {
				h.logger.Warn("heartbeat pongs missing, declaring connection stale",
					"missed", missed,
					"interval", h.interval,
				)
				close(h.stale)
				return
			}

			data, err := envelope.NewPing(time.Now()).Encode()
			if err == nil {
				err = h.send(data)
			}
			if err != nil {
				h.logger.Debug("failed to send ping", "error", err)
			}
			missed++
		}
	}
}
