// Package synth manages the lifecycle of one streaming synthesis session per
// live call.
//
// A Session owns a TTS connection checked out of the shared pool and speaks
// on a per-call context id so the provider preserves prosody across chunks of
// the same reply. Text submitted before the connection is open is queued and
// flushed in order once it is. Cancel implements barge-in: it drops queued
// text and advances a generation counter baked into the context id, so audio
// the provider is still synthesising for the superseded reply is discarded
// instead of being played over the caller.
package synth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/voxline-ai/voxline/internal/pool"
	"github.com/voxline-ai/voxline/pkg/provider/tts"
)

// ErrSessionClosed is returned by Speak and SpeakChunk after Disconnect.
var ErrSessionClosed = errors.New("synth: session is closed")

// Config configures a Session.
type Config struct {
	// Pool supplies TTS connections. Required.
	Pool *pool.Pool[tts.Conn]

	// CallID seeds the per-call context id and labels the session in logs.
	CallID string

	// OnFirstAudio, when set, is invoked with the elapsed time between a
	// reply's first submitted text and its first audio chunk. Superseded
	// generations never report.
	OnFirstAudio func(elapsed time.Duration)
}

// queuedText is one fragment waiting for the connection to open.
type queuedText struct {
	text string
	more bool
}

// Session is one call's synthesis stream. All methods are safe for concurrent
// use.
type Session struct {
	cfg Config

	audio chan tts.Chunk
	done  chan struct{}

	disconnectOnce sync.Once
	audioOnce      sync.Once

	mu         sync.Mutex
	conn       tts.Conn
	queue      []queuedText
	generation int
	forwarders int
	closed     bool
	speakStart time.Time
}

// NewSession creates a Session. Text may be submitted immediately; it queues
// until Connect succeeds.
func NewSession(cfg Config) *Session {
	return &Session{
		cfg:   cfg,
		audio: make(chan tts.Chunk, 64),
		done:  make(chan struct{}),
	}
}

// Connect acquires a connection from the pool and flushes any queued text in
// submission order.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.conn != nil {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	conn, err := s.cfg.Pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("synth: acquire connection: %w", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.cfg.Pool.Release(conn)
		return ErrSessionClosed
	}
	s.conn = conn
	s.forwarders++
	pending := s.queue
	s.queue = nil
	ctxID := s.contextIDLocked()
	s.mu.Unlock()

	go s.forward(conn)

	for i, q := range pending {
		if err := conn.SendText(ctx, ctxID, q.text, q.more); err != nil {
			// Flush failed part way through. Put the unsent entries back at
			// the front of the queue so a later re-Connect still delivers
			// them, and drop the dead connection.
			s.mu.Lock()
			if s.conn == conn {
				s.conn = nil
			}
			if !s.closed {
				s.queue = append(append([]queuedText{}, pending[i:]...), s.queue...)
			}
			s.mu.Unlock()
			s.cfg.Pool.Discard(conn)
			return fmt.Errorf("synth: flush queued text: %w", err)
		}
	}
	return nil
}

// Audio returns the session's synthesised audio stream. Chunks belonging to
// cancelled generations never appear on it. The channel is closed by
// Disconnect.
func (s *Session) Audio() <-chan tts.Chunk { return s.audio }

// Speak submits a complete utterance for synthesis.
func (s *Session) Speak(ctx context.Context, text string) error {
	return s.SpeakChunk(ctx, text, false)
}

// SpeakChunk submits one fragment of an utterance. Set isContinuation when
// further fragments of the same reply will follow; the final fragment is sent
// with isContinuation false to flush the provider's synthesis buffer.
func (s *Session) SpeakChunk(ctx context.Context, text string, isContinuation bool) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.speakStart.IsZero() {
		s.speakStart = time.Now()
	}
	conn := s.conn
	if conn == nil {
		s.queue = append(s.queue, queuedText{text: text, more: isContinuation})
		s.mu.Unlock()
		return nil
	}
	ctxID := s.contextIDLocked()
	s.mu.Unlock()

	if err := conn.SendText(ctx, ctxID, text, isContinuation); err != nil {
		// Transport failure mid-call: drop the dead connection and fall back
		// to queueing so the owner can re-Connect without losing this text.
		s.mu.Lock()
		if s.conn == conn {
			s.conn = nil
		}
		s.queue = append(s.queue, queuedText{text: text, more: isContinuation})
		s.mu.Unlock()
		s.cfg.Pool.Discard(conn)
		slog.Warn("tts send failed, connection discarded",
			"call_id", s.cfg.CallID, "error", err)
		return nil
	}
	return nil
}

// Cancel discards queued unsent text and marks a generation boundary: audio
// the provider is still producing for earlier text is dropped instead of
// forwarded. Used when the caller barges in over the agent's reply.
func (s *Session) Cancel() {
	s.mu.Lock()
	s.queue = nil
	s.generation++
	s.speakStart = time.Time{}
	s.mu.Unlock()
}

// Connected reports whether the session currently holds an open connection.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Disconnect closes the audio stream and returns the connection to the pool.
// Safe to call multiple times.
func (s *Session) Disconnect() {
	s.disconnectOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		conn := s.conn
		s.conn = nil
		s.queue = nil
		forwarders := s.forwarders
		s.mu.Unlock()

		close(s.done)
		if conn != nil {
			s.cfg.Pool.Release(conn)
		}
		// A running forwarder closes the audio channel on its way out so a
		// chunk is never sent on a closed channel.
		if forwarders == 0 {
			s.closeAudio()
		}
	})
}

func (s *Session) closeAudio() {
	s.audioOnce.Do(func() { close(s.audio) })
}

// forward pumps provider audio downstream, dropping chunks from superseded
// generations.
func (s *Session) forward(conn tts.Conn) {
	defer func() {
		s.mu.Lock()
		s.forwarders--
		last := s.forwarders == 0 && s.closed
		s.mu.Unlock()
		if last {
			s.closeAudio()
		}
	}()

	current := func() string {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.contextIDLocked()
	}

	for {
		select {
		case <-s.done:
			return
		case chunk, ok := <-conn.Audio():
			if !ok {
				// Provider closed the transport. Detach so new text queues
				// for a future Connect.
				s.mu.Lock()
				mine := s.conn == conn
				if mine {
					s.conn = nil
				}
				s.mu.Unlock()
				if mine {
					s.cfg.Pool.Discard(conn)
				}
				return
			}
			if chunk.ContextID != current() {
				continue // cancelled generation
			}
			s.noteFirstAudio()
			select {
			case s.audio <- chunk:
			case <-s.done:
				return
			}
		}
	}
}

// noteFirstAudio reports time-to-first-audio for the in-flight reply, if one
// is pending. Called for every chunk that survives the generation filter;
// only the first after a Speak reports.
func (s *Session) noteFirstAudio() {
	if s.cfg.OnFirstAudio == nil {
		return
	}
	s.mu.Lock()
	start := s.speakStart
	s.speakStart = time.Time{}
	s.mu.Unlock()
	if !start.IsZero() {
		s.cfg.OnFirstAudio(time.Since(start))
	}
}

// contextIDLocked derives the provider context id for the current generation.
// Callers must hold s.mu.
func (s *Session) contextIDLocked() string {
	return fmt.Sprintf("%s-g%d", s.cfg.CallID, s.generation)
}
