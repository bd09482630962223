// Package pool maintains warm, reusable transport connections to streaming
// speech providers.
//
// Dialling an STT or TTS WebSocket costs hundreds of milliseconds of TLS and
// provider handshake, paid per call without pooling. A Pool keeps a bounded
// set of pre-dialled connections per provider so a new call can check one out
// instantly. Ownership is exclusive: a checked-out connection belongs to one
// session until released, and the sweeper never touches checked-out
// connections.
//
// Pool is safe for concurrent use from many sessions.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrPoolExhausted is returned by Acquire when no pooled connection is
// available and a new one cannot be provided, because either the provider
// dial failed or the pool is at its hard cap.
var ErrPoolExhausted = errors.New("pool: exhausted")

// Conn is the minimal transport capability the pool manages. Both stt.Conn
// and tts.Conn satisfy it.
type Conn interface {
	// Closed returns a channel that is closed once the transport has
	// terminated.
	Closed() <-chan struct{}

	// Close terminates the transport. Must be safe to call multiple times.
	Close() error
}

// DialFunc creates one new provider connection.
type DialFunc[C Conn] func(ctx context.Context) (C, error)

// Config holds tuning knobs for a Pool. Zero-value fields are replaced with
// defaults.
type Config struct {
	// Name labels the pool in logs and stats (e.g., "stt/deepgram").
	Name string

	// Min is the number of connections Warm tries to pre-dial. Default: 1.
	Min int

	// Max caps the total of idle plus checked-out connections. Default: 8.
	Max int

	// MaxIdle is how long an unused connection may sit in the pool before the
	// sweeper closes it. Default: 60s.
	MaxIdle time.Duration

	// SweepInterval is the period of the background sweep loop. Default: 15s.
	SweepInterval time.Duration

	// DialTimeout bounds each connection attempt so Acquire can never hang a
	// session. Default: 5s.
	DialTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Min <= 0 {
		c.Min = 1
	}
	if c.Max <= 0 {
		c.Max = 8
	}
	if c.MaxIdle <= 0 {
		c.MaxIdle = 60 * time.Second
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 15 * time.Second
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	return c
}

// entry pairs an idle connection with its bookkeeping timestamps.
type entry[C Conn] struct {
	conn     C
	created  time.Time
	lastUsed time.Time
}

// Stats is a point-in-time snapshot of pool occupancy, served on the status
// surface for operational dashboards.
type Stats struct {
	Name       string `json:"name"`
	Idle       int    `json:"idle"`
	CheckedOut int    `json:"checked_out"`
	Max        int    `json:"max"`
}

// Pool is a bounded pool of warm provider connections. The type parameter
// fixes the concrete connection type so callers get back exactly what the
// dial function produces, without assertions.
type Pool[C Conn] struct {
	cfg  Config
	dial DialFunc[C]

	mu         sync.Mutex
	idle       []entry[C]
	checkedOut int
}

// New creates a Pool that obtains connections from dial. Call Warm to
// pre-fill it and Run to start the background sweeper.
func New[C Conn](cfg Config, dial DialFunc[C]) *Pool[C] {
	return &Pool[C]{cfg: cfg.withDefaults(), dial: dial}
}

// Warm pre-dials Min connections. It is best-effort: a provider that is down
// at process start yields zero warm connections and a warning, never a
// startup failure.
func (p *Pool[C]) Warm(ctx context.Context) {
	for i := 0; i < p.cfg.Min; i++ {
		conn, err := p.dialNew(ctx)
		if err != nil {
			slog.Warn("pool: warm dial failed",
				"pool", p.cfg.Name, "attempt", i+1, "error", err)
			return
		}
		now := time.Now()
		p.mu.Lock()
		p.idle = append(p.idle, entry[C]{conn: conn, created: now, lastUsed: now})
		p.mu.Unlock()
	}
	slog.Debug("pool: warmed", "pool", p.cfg.Name, "connections", p.cfg.Min)
}

// Acquire returns a healthy pooled connection, or dials a new one if the pool
// is empty and under Max. Ownership of the returned connection transfers to
// the caller until Release.
func (p *Pool[C]) Acquire(ctx context.Context) (C, error) {
	var zero C

	p.mu.Lock()
	// Newest-first: recently used connections are least likely to have been
	// idle-dropped by the provider.
	for len(p.idle) > 0 {
		e := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		if isBroken(e.conn) {
			go e.conn.Close()
			continue
		}
		p.checkedOut++
		p.mu.Unlock()
		return e.conn, nil
	}

	if p.checkedOut >= p.cfg.Max {
		p.mu.Unlock()
		return zero, fmt.Errorf("%w: %s at capacity (%d checked out)",
			ErrPoolExhausted, p.cfg.Name, p.cfg.Max)
	}
	// Reserve the slot before dialling so concurrent Acquires cannot
	// overshoot Max while a dial is in flight.
	p.checkedOut++
	p.mu.Unlock()

	conn, err := p.dialNew(ctx)
	if err != nil {
		p.mu.Lock()
		p.checkedOut--
		p.mu.Unlock()
		return zero, fmt.Errorf("%w: dial %s: %v", ErrPoolExhausted, p.cfg.Name, err)
	}
	return conn, nil
}

// Release returns a connection to the pool. Broken connections and overflow
// beyond Max are closed instead of pooled.
func (p *Pool[C]) Release(conn C) {
	p.mu.Lock()
	if p.checkedOut > 0 {
		p.checkedOut--
	}
	if isBroken(conn) || len(p.idle) >= p.cfg.Max {
		p.mu.Unlock()
		_ = conn.Close()
		return
	}
	now := time.Now()
	p.idle = append(p.idle, entry[C]{conn: conn, created: now, lastUsed: now})
	p.mu.Unlock()
}

// Discard drops a connection the caller knows is dead without returning it to
// the pool. Used by sessions after a mid-call transport failure.
func (p *Pool[C]) Discard(conn C) {
	p.mu.Lock()
	if p.checkedOut > 0 {
		p.checkedOut--
	}
	p.mu.Unlock()
	_ = conn.Close()
}

// Sweep closes and evicts idle connections that are broken or have sat unused
// longer than MaxIdle. Checked-out connections are never touched.
func (p *Pool[C]) Sweep() {
	cutoff := time.Now().Add(-p.cfg.MaxIdle)

	p.mu.Lock()
	var (
		kept    []entry[C]
		evicted []entry[C]
	)
	for _, e := range p.idle {
		if isBroken(e.conn) || e.lastUsed.Before(cutoff) {
			evicted = append(evicted, e)
			continue
		}
		kept = append(kept, e)
	}
	p.idle = kept
	p.mu.Unlock()

	for _, e := range evicted {
		_ = e.conn.Close()
	}
	if len(evicted) > 0 {
		slog.Debug("pool: swept idle connections",
			"pool", p.cfg.Name, "evicted", len(evicted))
	}
}

// Run executes the periodic sweep loop until ctx is cancelled, then closes
// all remaining idle connections.
func (p *Pool[C]) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.Sweep()
		case <-ctx.Done():
			p.CloseIdle()
			return
		}
	}
}

// CloseIdle closes every idle connection immediately. Checked-out connections
// remain owned by their sessions.
func (p *Pool[C]) CloseIdle() {
	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	for _, e := range idle {
		_ = e.conn.Close()
	}
}

// Stats returns a snapshot of current occupancy.
func (p *Pool[C]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Name:       p.cfg.Name,
		Idle:       len(p.idle),
		CheckedOut: p.checkedOut,
		Max:        p.cfg.Max,
	}
}

// dialNew dials one connection under the configured timeout.
func (p *Pool[C]) dialNew(ctx context.Context) (C, error) {
	dialCtx, cancel := context.WithTimeout(ctx, p.cfg.DialTimeout)
	defer cancel()
	return p.dial(dialCtx)
}

// isBroken reports whether the transport has already terminated.
func isBroken(c Conn) bool {
	select {
	case <-c.Closed():
		return true
	default:
		return false
	}
}
