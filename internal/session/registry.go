package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Registry defaults.
const (
	defaultIdleTTL       = 10 * time.Minute
	defaultSweepInterval = time.Minute
)

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	// IdleTTL is how long a session may sit without activity before the
	// sweep evicts it. Defaults to 10 minutes.
	IdleTTL time.Duration

	// SweepInterval is how often the eviction sweep runs. Defaults to one
	// minute.
	SweepInterval time.Duration

	// OnEvict is invoked after an idle session has been removed and closed.
	// Optional.
	OnEvict func(*Session)
}

func (c RegistryConfig) withDefaults() RegistryConfig {
	if c.IdleTTL <= 0 {
		c.IdleTTL = defaultIdleTTL
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = defaultSweepInterval
	}
	return c
}

// Registry holds the active sessions keyed by session id. Reads take the
// shared lock; creation and removal are serialized. All methods are safe for
// concurrent use.
type Registry struct {
	cfg RegistryConfig

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty Registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	return &Registry{
		cfg:      cfg.withDefaults(),
		sessions: make(map[string]*Session),
	}
}

// Info is a point-in-time view of one active session, exposed on the status
// surface.
type Info struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenant_id"`
	IsCall       bool      `json:"is_call"`
	StartedAt    time.Time `json:"started_at"`
	LastActivity time.Time `json:"last_activity"`
	Turns        int       `json:"turns"`
}

// GetOrCreate returns the session with the given id, creating it via the
// create callback if absent. The boolean reports whether a new session was
// created. The callback runs under the registry lock, so it must not block.
func (r *Registry) GetOrCreate(id string, create func() (*Session, error)) (*Session, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[id]; ok {
		return s, false, nil
	}
	s, err := create()
	if err != nil {
		return nil, false, err
	}
	if s.ID != id {
		return nil, false, fmt.Errorf("session: created session id %q does not match key %q", s.ID, id)
	}
	r.sessions[id] = s
	return s, true, nil
}

// Get returns the session with the given id, if present.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Remove removes and closes the session with the given id. It returns the
// removed session, or false if no such session exists.
func (r *Registry) Remove(id string) (*Session, bool) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if !ok {
		return nil, false
	}
	s.Close()
	return s, true
}

// Len returns the number of active sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Snapshot returns a view of all active sessions for the status surface.
func (r *Registry) Snapshot() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Info, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, Info{
			ID:           s.ID,
			TenantID:     s.TenantID,
			IsCall:       s.IsCall,
			StartedAt:    s.StartedAt,
			LastActivity: s.LastActivity(),
			Turns:        s.HistoryLen(),
		})
	}
	return out
}

// Run sweeps idle sessions until ctx is cancelled. Remaining sessions are
// closed on shutdown.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.closeAll()
			return
		case <-ticker.C:
			r.sweep(time.Now())
		}
	}
}

// sweep evicts sessions idle past the TTL. Sessions with a turn in flight
// are skipped: the turn lock is probed, never waited on.
func (r *Registry) sweep(now time.Time) {
	cutoff := now.Add(-r.cfg.IdleTTL)

	r.mu.Lock()
	var idle []*Session
	for id, s := range r.sessions {
		if !s.LastActivity().Before(cutoff) {
			continue
		}
		if !s.turnMu.TryLock() {
			continue
		}
		s.turnMu.Unlock()
		delete(r.sessions, id)
		idle = append(idle, s)
	}
	r.mu.Unlock()

	for _, s := range idle {
		slog.Info("session: evicting idle session",
			"session_id", s.ID,
			"tenant_id", s.TenantID,
			"idle", now.Sub(s.LastActivity()).Round(time.Second))
		s.Close()
		if r.cfg.OnEvict != nil {
			r.cfg.OnEvict(s)
		}
	}
}

// closeAll removes and closes every session.
func (r *Registry) closeAll() {
	r.mu.Lock()
	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range all {
		s.Close()
	}
}
