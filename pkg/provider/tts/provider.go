// Package tts defines the Provider interface for streaming Text-to-Speech
// backends.
//
// A TTS provider wraps a real-time synthesis service (e.g., ElevenLabs) and
// exposes a uniform streaming interface. The central abstraction is Conn: an
// open transport connection that accepts text fragments addressed to an
// opaque per-call context id, so the provider can keep prosody continuity
// across chunks of the same utterance, and emits raw audio chunks as they
// are synthesised.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"
)

// ErrConnClosed is returned by Conn.SendText after the connection has been
// closed locally or dropped by the provider.
var ErrConnClosed = errors.New("tts: connection is closed")

// VoiceConfig selects the voice and audio output format for a connection.
type VoiceConfig struct {
	// VoiceID is the provider-specific voice identifier.
	VoiceID string

	// OutputFormat is the provider's name for the audio output encoding
	// (e.g., "pcm_16000", "ulaw_8000"). Empty means the provider default.
	OutputFormat string
}

// Chunk is a single piece of synthesised audio emitted by an open connection.
// Chunks for one context id arrive in synthesis order.
type Chunk struct {
	// ContextID identifies which utterance context this audio belongs to.
	ContextID string

	// Audio is the raw audio payload in the connection's output format.
	Audio []byte

	// IsFinal is set when the provider signals that no more audio will follow
	// for this context id.
	IsFinal bool
}

// Conn is an open streaming synthesis connection.
//
// Callers must call Close when the connection is no longer needed. All
// methods must be safe for concurrent use.
type Conn interface {
	// SendText submits a text fragment for synthesis under the given context
	// id. When more is true the provider is told that further fragments for
	// the same utterance will follow; when false the utterance is flushed and
	// the provider may finalise its audio.
	//
	// Returns ErrConnClosed after the connection has closed.
	SendText(ctx context.Context, contextID, text string, more bool) error

	// Audio returns a read-only channel emitting synthesised audio chunks as
	// they arrive. Chunks are forwarded immediately, never buffered, to keep
	// time-to-first-audio low. The channel is closed when the connection ends.
	Audio() <-chan Chunk

	// Closed returns a channel that is closed once the underlying transport
	// has terminated, whether locally or by the provider.
	Closed() <-chan struct{}

	// Close terminates the connection and releases all associated resources.
	// Calling Close more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any TTS backend.
//
// Implementations must be safe for concurrent use. Multiple connections may
// be open simultaneously (one per live call).
type Provider interface {
	// Name reports the provider's stable identifier (e.g., "elevenlabs").
	Name() string

	// Dial opens a new streaming synthesis connection for the given voice.
	// The returned Conn is ready to accept text immediately. The caller owns
	// the Conn and must call Close when done.
	Dial(ctx context.Context, voice VoiceConfig) (Conn, error)
}
