// Package resilience provides the circuit breaker guarding each upstream
// provider.
//
// A Breaker trips after a run of consecutive failures and rejects calls for a
// cooldown period, so a dead provider costs one fast rejection per turn
// instead of a full timeout. After the cooldown one probe call is let
// through: success closes the breaker, failure re-opens it for another
// cooldown.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned by Do when the breaker is rejecting calls.
var ErrOpen = errors.New("resilience: circuit open")

// BreakerConfig holds tuning knobs for a Breaker.
type BreakerConfig struct {
	// Name labels the breaker in logs and the status surface.
	Name string

	// Threshold is the number of consecutive failures that trips the
	// breaker. Default: 3.
	Threshold int

	// Cooldown is how long the breaker rejects calls after tripping before
	// allowing a probe. Default: 30s.
	Cooldown time.Duration
}

// Breaker is a three-state circuit breaker: closed (normal), open
// (rejecting), and a single-probe half-open once the cooldown elapses.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration

	mu       sync.Mutex
	failures int
	tripped  bool
	openedAt time.Time
	probing  bool
}

// NewBreaker creates a Breaker. Zero-value config fields get defaults.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	return &Breaker{name: cfg.Name, threshold: cfg.Threshold, cooldown: cfg.Cooldown}
}

// Do runs fn if the breaker allows it, recording the outcome. When the
// breaker is open and the cooldown has not elapsed, fn is not called and
// ErrOpen is returned.
func (b *Breaker) Do(fn func() error) error {
	b.mu.Lock()
	if b.tripped {
		if time.Since(b.openedAt) < b.cooldown || b.probing {
			b.mu.Unlock()
			return ErrOpen
		}
		// Cooldown elapsed: admit exactly one probe.
		b.probing = true
		slog.Debug("circuit breaker probing", "breaker", b.name)
	}
	wasProbe := b.probing
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.failures++
		if wasProbe {
			b.openedAt = time.Now()
			b.probing = false
			slog.Warn("circuit breaker re-opened after failed probe",
				"breaker", b.name)
			return err
		}
		if !b.tripped && b.failures >= b.threshold {
			b.tripped = true
			b.openedAt = time.Now()
			slog.Warn("circuit breaker opened",
				"breaker", b.name, "consecutive_failures", b.failures)
		}
		return err
	}

	if wasProbe {
		slog.Info("circuit breaker closed after successful probe", "breaker", b.name)
	}
	b.failures = 0
	b.tripped = false
	b.probing = false
	return nil
}

// State reports the breaker's current state for the status surface:
// "closed", "open", or "half_open" once the cooldown has elapsed.
func (b *Breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch {
	case !b.tripped:
		return "closed"
	case b.probing || time.Since(b.openedAt) >= b.cooldown:
		return "half_open"
	default:
		return "open"
	}
}

// Reset forces the breaker back to closed, clearing all failure counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.tripped = false
	b.probing = false
}
