// Package transcribe manages the lifecycle of one streaming transcription
// session per live call.
//
// A Session owns a single STT connection checked out of the shared connection
// pool and drives it through an explicit state machine:
//
//	Idle → Connecting → Open → {Closing | Reconnecting} → Closed
//
// While Open it forwards audio frames downstream and keeps the connection
// alive with periodic pings. When the provider drops the transport mid-call
// the session buffers incoming audio in a bounded drop-oldest ring, acquires
// a replacement connection with exponential backoff, and flushes the buffer
// in arrival order so at most a short audio gap is audible to the caller.
// Exhausting the retry ceiling terminates the session and notifies its owner
// via the OnClose callback.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/voxline-ai/voxline/internal/pool"
	"github.com/voxline-ai/voxline/pkg/provider/stt"
)

// Session errors.
var (
	// ErrNotStarted is returned by SendAudio before Start has been called.
	ErrNotStarted = errors.New("transcribe: session not started")

	// ErrSessionClosed is returned by SendAudio after the session has
	// terminated.
	ErrSessionClosed = errors.New("transcribe: session is closed")

	// ErrRetriesExhausted is passed to OnClose when reconnection gave up.
	ErrRetriesExhausted = errors.New("transcribe: reconnect retries exhausted")
)

// errFlushFailed marks a reconnect attempt whose connection dialled fine but
// failed while flushing buffered audio.
var errFlushFailed = errors.New("transcribe: buffered audio flush failed")

// Default session parameters.
const (
	defaultKeepAlive  = 8 * time.Second
	defaultBackoff    = 500 * time.Millisecond
	defaultMaxBackoff = 8 * time.Second
	defaultMaxRetries = 5

	// defaultBufferFrames holds roughly one second of 20 ms telephony frames
	// while reconnecting.
	defaultBufferFrames = 50
)

// State identifies where a Session is in its lifecycle.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateReconnecting
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Config configures a Session.
type Config struct {
	// Pool supplies STT connections. Required.
	Pool *pool.Pool[stt.Conn]

	// CallID labels the session in logs.
	CallID string

	// KeepAlive is the ping interval while Open. Defaults to 8s.
	KeepAlive time.Duration

	// Backoff is the initial delay between reconnection attempts. Doubles
	// each attempt up to MaxBackoff. Defaults to 500ms.
	Backoff time.Duration

	// MaxBackoff caps the backoff growth. Defaults to 8s.
	MaxBackoff time.Duration

	// MaxRetries is the reconnection ceiling per disconnect before the
	// session gives up. Defaults to 5.
	MaxRetries int

	// BufferFrames is the ring capacity while reconnecting. Defaults to 50.
	BufferFrames int

	// OnClose is invoked exactly once if the session terminates on its own
	// (retry ceiling reached), never after a caller-initiated Stop. May be
	// nil. Called from the session's goroutine; must not block.
	OnClose func(err error)
}

// Session is one call's transcription stream. All methods are safe for
// concurrent use.
type Session struct {
	cfg Config

	events chan stt.Event
	done   chan struct{}

	stopOnce sync.Once

	mu      sync.Mutex
	state   State
	conn    stt.Conn
	ring    *frameRing
	dropped int
}

// NewSession creates a Session in the Idle state. Call Start to connect.
func NewSession(cfg Config) *Session {
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = defaultKeepAlive
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.BufferFrames <= 0 {
		cfg.BufferFrames = defaultBufferFrames
	}
	return &Session{
		cfg:    cfg,
		events: make(chan stt.Event, 64),
		done:   make(chan struct{}),
		state:  StateIdle,
		ring:   newFrameRing(cfg.BufferFrames),
	}
}

// Start acquires a connection from the pool and begins streaming. On failure
// the session moves directly to Closed and the error is returned to the
// caller; OnClose is not invoked for startup failures.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("transcribe: Start in state %s", state)
	}
	s.state = StateConnecting
	s.mu.Unlock()

	conn, err := s.cfg.Pool.Acquire(ctx)
	if err != nil {
		s.mu.Lock()
		s.state = StateClosed
		s.mu.Unlock()
		return fmt.Errorf("transcribe: acquire connection: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.state = StateOpen
	s.mu.Unlock()

	go s.run(ctx)
	return nil
}

// Events returns the session's transcript and voice-activity stream. The
// channel is closed when the session terminates for any reason.
func (s *Session) Events() <-chan stt.Event { return s.events }

// State reports the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SendAudio delivers one audio frame. While Open the frame goes straight to
// the provider; while Connecting or Reconnecting it is buffered (oldest
// dropped on overflow). The frame buffer may be reused by the caller after
// SendAudio returns.
func (s *Session) SendAudio(ctx context.Context, frame []byte) error {
	s.mu.Lock()
	switch s.state {
	case StateOpen:
		conn := s.conn
		s.mu.Unlock()
		if err := conn.SendAudio(ctx, frame); err != nil {
			// The transport is going down; the run loop will notice and
			// reconnect. Buffer the frame rather than losing it.
			s.bufferFrame(frame)
		}
		return nil
	case StateConnecting, StateReconnecting:
		s.bufferFrameLocked(frame)
		s.mu.Unlock()
		return nil
	case StateIdle:
		s.mu.Unlock()
		return ErrNotStarted
	default:
		s.mu.Unlock()
		return ErrSessionClosed
	}
}

// Stop terminates the session and returns its connection to the pool. Safe to
// call multiple times. OnClose is not invoked for caller-initiated stops.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosing
		conn := s.conn
		s.conn = nil
		s.mu.Unlock()

		close(s.done)
		if conn != nil {
			s.cfg.Pool.Release(conn)
		}

		s.mu.Lock()
		s.state = StateClosed
		s.mu.Unlock()
	})
}

// bufferFrame locks and buffers one frame.
func (s *Session) bufferFrame(frame []byte) {
	s.mu.Lock()
	s.bufferFrameLocked(frame)
	s.mu.Unlock()
}

func (s *Session) bufferFrameLocked(frame []byte) {
	if s.ring.push(frame) {
		s.dropped++
	}
}

// run pumps provider events downstream and handles mid-call drops. It is the
// sole closer of the events channel.
func (s *Session) run(ctx context.Context) {
	defer close(s.events)

	for {
		conn := s.currentConn()
		if conn == nil {
			return
		}
		if !s.pump(ctx, conn) {
			return
		}

		// The provider dropped the transport mid-call.
		s.mu.Lock()
		if s.state != StateOpen {
			s.mu.Unlock()
			return
		}
		s.state = StateReconnecting
		s.conn = nil
		s.mu.Unlock()
		s.cfg.Pool.Discard(conn)

		slog.Warn("stt connection dropped, reconnecting", "call_id", s.cfg.CallID)
		if !s.reconnect(ctx) {
			s.mu.Lock()
			s.state = StateClosed
			s.mu.Unlock()
			select {
			case <-s.done:
				return // caller-initiated Stop, not a give-up
			case <-ctx.Done():
				return
			default:
			}
			slog.Error("stt reconnect gave up",
				"call_id", s.cfg.CallID, "max_retries", s.cfg.MaxRetries)
			if s.cfg.OnClose != nil {
				s.cfg.OnClose(ErrRetriesExhausted)
			}
			return
		}
	}
}

// pump forwards events from one connection until it drops (returns true) or
// the session is stopping (returns false).
func (s *Session) pump(ctx context.Context, conn stt.Conn) (reconnectable bool) {
	ticker := time.NewTicker(s.cfg.KeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-s.done:
			return false
		case ev, ok := <-conn.Events():
			if !ok {
				return true
			}
			select {
			case s.events <- ev:
			case <-s.done:
				return false
			case <-ctx.Done():
				return false
			}
		case <-ticker.C:
			if err := conn.Ping(ctx); err != nil && !errors.Is(err, stt.ErrConnClosed) {
				slog.Debug("stt keep-alive failed",
					"call_id", s.cfg.CallID, "error", err)
			}
		}
	}
}

// reconnect acquires a replacement connection with exponential backoff and
// flushes buffered audio in order. Reports whether the session is Open again.
func (s *Session) reconnect(ctx context.Context) bool {
	backoff := s.cfg.Backoff

	for attempt := 1; attempt <= s.cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return false
		case <-s.done:
			return false
		default:
		}

		conn, err := s.cfg.Pool.Acquire(ctx)
		if err == nil {
			if s.resume(ctx, conn) {
				return true
			}
			// The replacement failed while flushing buffered audio (the unsent
			// frames are back in the ring), or the session is stopping. Either
			// way this attempt is spent; back off like a failed dial.
			err = errFlushFailed
		}

		slog.Warn("stt reconnect attempt failed",
			"call_id", s.cfg.CallID,
			"attempt", attempt,
			"max_retries", s.cfg.MaxRetries,
			"backoff", backoff,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return false
		case <-s.done:
			return false
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > s.cfg.MaxBackoff {
			backoff = s.cfg.MaxBackoff
		}
	}
	return false
}

// resume flushes buffered frames to the new connection in arrival order, then
// flips the session back to Open. Frames that arrive mid-flush are buffered
// and drained in a subsequent pass, preserving order. Reports whether the
// session is Open on the new connection.
func (s *Session) resume(ctx context.Context, conn stt.Conn) bool {
	for {
		s.mu.Lock()
		if s.state != StateReconnecting {
			// Stopped while the replacement was being prepared; installing the
			// connection now would leak its checkout past Stop's release.
			s.mu.Unlock()
			s.cfg.Pool.Release(conn)
			return false
		}
		frames := s.ring.drain()
		if len(frames) == 0 {
			dropped := s.dropped
			s.dropped = 0
			s.conn = conn
			s.state = StateOpen
			s.mu.Unlock()
			slog.Info("stt reconnected",
				"call_id", s.cfg.CallID, "dropped_frames", dropped)
			return true
		}
		s.mu.Unlock()

		for i, f := range frames {
			if err := conn.SendAudio(ctx, f); err != nil {
				// The replacement died mid-flush. Put the failed frame and
				// everything after it back at the front of the ring, ahead of
				// frames that arrived during the flush, so the next attempt
				// delivers them in arrival order.
				s.mu.Lock()
				s.dropped += s.ring.requeue(frames[i:])
				s.mu.Unlock()
				s.cfg.Pool.Discard(conn)
				slog.Warn("stt flush to replacement connection failed",
					"call_id", s.cfg.CallID,
					"unsent_frames", len(frames)-i,
					"error", err,
				)
				return false
			}
		}
	}
}

func (s *Session) currentConn() stt.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}
