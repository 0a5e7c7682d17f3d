// Package polling implements the degraded-mode transport: a periodic
// authenticated fetch of active orders, replayed onto the event bus in the
// same envelope shape the socket path produces. Consumers cannot tell the
// transports apart except by the envelope source marker.
package polling

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"log/slog"

	"github.com/tablekit/poslink/internal/api"
	"github.com/tablekit/poslink/internal/envelope"
	"github.com/tablekit/poslink/internal/events"
)

// Config holds fallback configuration.
type Config struct {
	Interval       time.Duration // Poll interval (default: 15s)
	RequestTimeout time.Duration // Per-request timeout (default: 10s)
	RestaurantID   string        // Tenant scope for the active-orders fetch
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:       15 * time.Second,
		RequestTimeout: 10 * time.Second,
	}
}

// Stats contains runtime statistics.
type Stats struct {
	Polls         int64
	EventsEmitted int64
	Errors        int64
	LastPollAt    time.Time
}

// Fallback periodically fetches active orders over REST and emits the new
// and changed ones as business events. It runs only while the socket path
// is down; the supervisor starts and stops it.
type Fallback struct {
	cfg    Config
	client *api.Client
	bus    *events.Bus
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// A 401/403 poll response is a delayed auth failure; the supervisor
	// consumes it and parks until credentials are refreshed.
	authFailures chan error

	mu         sync.Mutex
	tracker    *tracker
	polls      int64
	emitted    int64
	pollErrors int64
	lastPollAt time.Time
}

// NewFallback creates a polling fallback.
func NewFallback(cfg Config, client *api.Client, bus *events.Bus, logger *slog.Logger) *Fallback {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultConfig().RequestTimeout
	}

	return &Fallback{
		cfg:          cfg,
		client:       client,
		bus:          bus,
		logger:       logger,
		authFailures: make(chan error, 1),
		tracker:      newTracker(),
	}
}

// Start begins the polling loop. The first poll happens immediately so the
// terminal repaints without waiting a full interval. Start after Stop
// begins a fresh episode that replays the current snapshot.
func (f *Fallback) Start(ctx context.Context) error {
	f.ctx, f.cancel = context.WithCancel(ctx)

	f.mu.Lock()
	f.tracker = newTracker()
	f.mu.Unlock()

	f.wg.Add(1)
	go f.run()

	f.logger.Info("polling fallback started",
		"interval", f.cfg.Interval,
		"restaurant_id", f.cfg.RestaurantID,
	)

	return nil
}

// Stop gracefully shuts down the polling loop.
func (f *Fallback) Stop(ctx context.Context) error {
	if f.cancel != nil {
		f.cancel()
	}

	done := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		f.logger.Info("polling fallback stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AuthFailures delivers at most one error per episode when a poll is
// rejected with 401/403.
func (f *Fallback) AuthFailures() <-chan error {
	return f.authFailures
}

// Stats returns current statistics.
func (f *Fallback) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()

	return Stats{
		Polls:         f.polls,
		EventsEmitted: f.emitted,
		Errors:        f.pollErrors,
		LastPollAt:    f.lastPollAt,
	}
}

// run is the main polling loop.
func (f *Fallback) run() {
	defer f.wg.Done()

	ticker := time.NewTicker(f.cfg.Interval)
	defer ticker.Stop()

	// Poll immediately on start.
	if stop := f.poll(); stop {
		return
	}

	for {
		select {
		case <-f.ctx.Done():
			return
		case <-ticker.C:
			if stop := f.poll(); stop {
				return
			}
		}
	}
}

// poll performs one fetch-and-emit cycle. It returns true when polling must
// cease because the credential was rejected.
func (f *Fallback) poll() bool {
	start := time.Now()

	ctx, cancel := context.WithTimeout(f.ctx, f.cfg.RequestTimeout)
	defer cancel()

	orders, err := f.client.ActiveOrders(ctx, f.cfg.RestaurantID)

	f.mu.Lock()
	f.polls++
	f.lastPollAt = start
	f.mu.Unlock()

	if err != nil {
		var apiErr *api.APIError
		if errors.As(err, &apiErr) && apiErr.IsAuthFailure() {
			f.logger.Warn("poll rejected, credential no longer accepted",
				"status", apiErr.StatusCode,
			)
			select {
			case f.authFailures <- err:
			default:
			}
			return true
		}

		f.mu.Lock()
		f.pollErrors++
		f.mu.Unlock()
		f.logger.Warn("poll failed", "err", err)
		return false
	}

	f.mu.Lock()
	changes := f.tracker.diff(orders)
	f.mu.Unlock()

	var created, updated int
	for _, change := range changes {
		env, err := translate(change, f.cfg.RestaurantID)
		if err != nil {
			f.logger.Warn("failed to translate order", "order_id", change.Order.ID, "err", err)
			continue
		}
		f.bus.Emit(env.Type, env)

		switch change.Kind {
		case orderCreated:
			created++
		case orderUpdated:
			updated++
		}
	}

	f.mu.Lock()
	f.emitted += int64(created + updated)
	f.mu.Unlock()

	if created > 0 || updated > 0 {
		f.logger.Info("poll cycle found changes",
			"created", created,
			"updated", updated,
			"active_orders", len(orders),
			"duration", time.Since(start),
		)
	} else {
		f.logger.Debug("poll cycle complete",
			"active_orders", len(orders),
			"duration", time.Since(start),
		)
	}

	return false
}

// translate builds the envelope a socket push would have carried for this
// change, tagged with the polling source marker.
func translate(change orderChange, restaurantID string) (envelope.Envelope, error) {
	data, err := json.Marshal(change.Order)
	if err != nil {
		return envelope.Envelope{}, err
	}

	eventType := envelope.TypeOrderCreated
	if change.Kind == orderUpdated {
		eventType = envelope.TypeOrderUpdated
	}

	return envelope.Envelope{
		Type:         eventType,
		Data:         data,
		Timestamp:    time.Now().UnixMilli(),
		RestaurantID: restaurantID,
		Source:       envelope.SourcePolling,
	}, nil
}
