package connection

import (
	"sync"
	"time"
)

// Backoff computes exponentially increasing reconnect delays with a ceiling
// and a bounded attempt budget. Delays are deterministic so that operators
// can predict retry timing from logs.
type Backoff struct {
	mu sync.Mutex

	base        time.Duration
	cap         time.Duration
	maxAttempts int

	attempt int
}

// NewBackoff creates a backoff calculator. Non-positive arguments fall back
// to the supervisor defaults.
func NewBackoff(base, cap time.Duration, maxAttempts int) *Backoff {
	def := DefaultSupervisorConfig()
	if base <= 0 {
		base = def.ReconnectBase
	}
	if cap <= 0 {
		cap = def.ReconnectCap
	}
	if maxAttempts <= 0 {
		maxAttempts = def.MaxReconnectAttempts
	}

	return &Backoff{
		base:        base,
		cap:         cap,
		maxAttempts: maxAttempts,
	}
}

// Delay returns the delay for a given attempt number (starting at 1)
// without advancing the counter: base doubled per attempt, capped.
func (b *Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	d := b.base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= b.cap {
			return b.cap
		}
	}
	if d > b.cap {
		return b.cap
	}
	return d
}

// Next advances the attempt counter and returns the delay to wait before
// that attempt. It returns false once the attempt budget is exhausted, and
// keeps returning false until Reset.
func (b *Backoff) Next() (time.Duration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.attempt >= b.maxAttempts {
		return 0, false
	}
	b.attempt++
	return b.Delay(b.attempt), true
}

// Attempt returns the number of attempts consumed since the last reset.
func (b *Backoff) Attempt() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempt
}

// Reset clears the attempt counter. Call after a successful connection.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempt = 0
}
