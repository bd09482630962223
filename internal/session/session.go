// Package session tracks active call and chat sessions and their
// conversation state.
//
// A Session bundles everything a turn needs: the resolved tenant, the
// conversation history, the audio pipelines for voice calls, and the tool
// executor bound to this caller. The Registry owns the session map and the
// inactivity sweep.
package session

import (
	"sync"
	"time"

	"github.com/voxline-ai/voxline/internal/store"
	"github.com/voxline-ai/voxline/internal/synth"
	"github.com/voxline-ai/voxline/internal/tools"
	"github.com/voxline-ai/voxline/internal/transcribe"
	"github.com/voxline-ai/voxline/pkg/types"
)

// Session is one active call or chat conversation. Fields set at construction
// are never mutated afterwards; conversation state is guarded by the session's
// own mutex. Turn processing is strictly sequential per session, enforced by
// BeginTurn/EndTurn.
type Session struct {
	// ID is the external call or chat identifier.
	ID string

	// TenantID identifies the business this session belongs to.
	TenantID string

	// IsCall is true for voice calls, false for chat sessions.
	IsCall bool

	// Tenant is the resolved tenant record.
	Tenant store.Tenant

	// Caller holds optional caller metadata.
	Caller types.CallerInfo

	// StartedAt is when the session was created.
	StartedAt time.Time

	// Transcriber is the speech-to-text pipeline. Nil for chat sessions.
	Transcriber *transcribe.Session

	// Synth is the text-to-speech pipeline. Nil for chat sessions.
	Synth *synth.Session

	// Exec is the tool executor bound to this session's tenant and caller.
	Exec *tools.BoundExecutor

	// turnMu serializes turn processing. A session handles one turn at a
	// time; overlapping utterances queue behind it.
	turnMu sync.Mutex

	mu           sync.Mutex
	history      []types.Message
	lastActivity time.Time
	closed       bool

	closeOnce sync.Once
}

// New creates a Session with activity stamped to now.
func New(id, tenantID string, tenant store.Tenant, isCall bool) *Session {
	now := time.Now()
	return &Session{
		ID:           id,
		TenantID:     tenantID,
		IsCall:       isCall,
		Tenant:       tenant,
		StartedAt:    now,
		lastActivity: now,
	}
}

// BeginTurn blocks until any in-flight turn completes, then marks the
// session as active. Callers must pair it with EndTurn.
func (s *Session) BeginTurn() {
	s.turnMu.Lock()
	s.Touch()
}

// EndTurn releases the turn lock and refreshes the activity timestamp.
func (s *Session) EndTurn() {
	s.Touch()
	s.turnMu.Unlock()
}

// Touch refreshes the inactivity timestamp.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// LastActivity returns the time of the most recent turn or touch.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// History returns a copy of the conversation history.
func (s *Session) History() []types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Message, len(s.history))
	copy(out, s.history)
	return out
}

// Append adds messages to the conversation history.
func (s *Session) Append(msgs ...types.Message) {
	s.mu.Lock()
	s.history = append(s.history, msgs...)
	s.mu.Unlock()
}

// HistoryLen returns the number of messages in the history.
func (s *Session) HistoryLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history)
}

// Close tears down the session's audio pipelines. It is safe to call more
// than once and safe on chat sessions with no pipelines.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		if s.Transcriber != nil {
			s.Transcriber.Stop()
		}
		if s.Synth != nil {
			s.Synth.Disconnect()
		}
	})
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
