// Package stt defines the Provider interface for streaming Speech-to-Text
// backends.
//
// An STT provider wraps a real-time transcription service (e.g., Deepgram) and
// exposes a uniform streaming interface. The central abstraction is Conn: an
// open transport connection that accepts raw PCM audio frames and emits a
// single ordered stream of Event values: interim and final transcripts plus
// voice-activity boundaries.
//
// The Conn interface is deliberately minimal (dial, send, events, close) so
// that session state machines and the connection pool never couple to a
// vendor SDK. Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"

	"github.com/voxline-ai/voxline/pkg/types"
)

// ErrConnClosed is returned by Conn.SendAudio after the connection has been
// closed locally or dropped by the provider.
var ErrConnClosed = errors.New("stt: connection is closed")

// StreamConfig describes the audio format and recognition hints for a new STT
// connection. All fields must be compatible with what the underlying provider
// supports.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz (e.g., 8000 for telephony
	// mu-law decode output, 16000 for STT-optimised mono).
	SampleRate int

	// Encoding is the provider's name for the wire audio encoding
	// (e.g., "linear16", "mulaw"). Empty means the provider default.
	Encoding string

	// Channels is the number of audio channels. 1 = mono (required by most
	// STT providers).
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g., "en-US").
	// An empty string lets the provider auto-detect, if supported.
	Language string

	// UtteranceEndMs configures the provider's endpointing silence window in
	// milliseconds. Zero means the provider default.
	UtteranceEndMs int
}

// EventType discriminates the variants of Event.
type EventType int

const (
	// EventTranscript carries an interim or final Transcript.
	EventTranscript EventType = iota

	// EventSpeechStarted marks the provider detecting speech onset.
	EventSpeechStarted

	// EventSpeechEnded marks an utterance boundary. This is the signal that
	// triggers turn processing upstream.
	EventSpeechEnded
)

// Event is a single item emitted by an open STT connection. Events are
// immutable and delivered in the order the provider emits them.
type Event struct {
	Type       EventType
	Transcript types.Transcript // populated for EventTranscript
}

// Conn is an open streaming transcription connection.
//
// Callers must call Close when the connection is no longer needed. Failing to
// do so leaks goroutines and network connections inside the provider
// implementation. All methods must be safe for concurrent use.
type Conn interface {
	// SendAudio delivers a chunk of raw audio bytes to the provider for
	// transcription. The chunk must match the format agreed in StreamConfig.
	// Returns ErrConnClosed after the connection has closed.
	SendAudio(ctx context.Context, frame []byte) error

	// Events returns a read-only channel emitting transcripts and
	// voice-activity events in provider order. The channel is closed when the
	// connection ends for any reason.
	Events() <-chan Event

	// Ping sends a provider keep-alive so an idle connection is not dropped by
	// the provider's inactivity timeout.
	Ping(ctx context.Context) error

	// Closed returns a channel that is closed once the underlying transport
	// has terminated, whether locally or by the provider. Used by the
	// transcription session to detect drops and by the pool's sweeper to
	// evict broken connections.
	Closed() <-chan struct{}

	// Close terminates the connection, flushes pending audio, and releases
	// all associated resources. Calling Close more than once is safe and
	// returns nil.
	Close() error
}

// Provider is the abstraction over any STT backend.
//
// Implementations must be safe for concurrent use. Multiple connections may be
// open simultaneously (one per live call).
type Provider interface {
	// Name reports the provider's stable identifier (e.g., "deepgram").
	Name() string

	// Dial opens a new streaming transcription connection with the given
	// audio format. The returned Conn is ready to accept audio immediately.
	//
	// Returns an error if the provider cannot establish the connection
	// (authentication failure, unsupported configuration, or ctx already
	// cancelled). The caller owns the Conn and must call Close when done.
	Dial(ctx context.Context, cfg StreamConfig) (Conn, error)
}
