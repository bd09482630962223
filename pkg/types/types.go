// Package types defines the shared types used across all Voxline packages.
//
// These types form the lingua franca between providers, sessions, the turn
// engine, and the tool executor. They are intentionally minimal: each package
// defines its own domain types, but cross-cutting data structures live here to
// avoid circular imports.
package types

import "time"

// Conversation roles used in Message.Role.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Transcript represents a speech-to-text result from an STT provider.
// Both partial (interim) and final transcripts use this type. Transcripts are
// immutable once emitted.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// IsFinal indicates whether this is a final (authoritative) or partial
	// (interim) transcript.
	IsFinal bool

	// Confidence is the overall confidence score (0.0–1.0). May be zero if the
	// provider does not report confidence.
	Confidence float64
}

// SpeechEventType marks voice-activity boundaries reported by the STT provider.
type SpeechEventType string

const (
	// SpeechStarted signals the provider detected the caller beginning to speak.
	SpeechStarted SpeechEventType = "speech_started"

	// SpeechEnded signals the provider detected the end of an utterance. This is
	// the trigger for turn processing.
	SpeechEnded SpeechEventType = "speech_ended"
)

// Message represents a single message in a conversation history.
type Message struct {
	// Role is one of the Role* constants.
	Role string

	// Content is the text content of the message.
	Content string

	// Name is an optional participant name.
	Name string

	// ToolCalls contains any tool invocations requested by the assistant.
	ToolCalls []ToolCall

	// ToolCallID is set when Role is "tool", identifying which tool call this
	// message responds to.
	ToolCallID string
}

// ToolCall represents a tool/function invocation requested by the LLM.
type ToolCall struct {
	// ID is the unique identifier for this tool call (provider-assigned).
	ID string

	// Name is the tool/function name.
	Name string

	// Arguments is the JSON-encoded arguments string.
	Arguments string
}

// ToolResult records the outcome of one executed tool call. Results are
// append-only: once attached to a turn's history they are never recomputed for
// the same call id.
type ToolResult struct {
	// CallID echoes the provider-assigned tool call id.
	CallID string

	// Name is the executed tool's name.
	Name string

	// Args holds the parsed argument map the tool was invoked with.
	Args map[string]string

	// Message is the user-facing result text. For validation failures this is a
	// clarifying question, never a raw error.
	Message string

	// OK reports whether the business action succeeded.
	OK bool

	// ConfirmationCode is set for successful bookings and orders. It is the
	// durable external reference for idempotency and support lookups.
	ConfirmationCode string
}

// CallerInfo holds optional caller/visitor metadata attached to a session.
type CallerInfo struct {
	Phone string
	Name  string
	Email string
}

// ToolDefinition describes a tool that can be offered to an LLM or to the
// fast intent classifier.
type ToolDefinition struct {
	// Name is the tool's unique identifier.
	Name string

	// Description explains what the tool does (included in LLM prompts).
	Description string

	// Parameters is the JSON Schema describing the tool's input parameters.
	Parameters map[string]any

	// Required lists the argument names that must be present before the tool
	// may be invoked directly without LLM mediation.
	Required []string
}

// ModelCapabilities describes what an LLM model supports.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input + output.
	ContextWindow int

	// MaxOutputTokens is the maximum tokens the model can generate in one
	// completion.
	MaxOutputTokens int

	// SupportsToolCalling indicates native function/tool calling support.
	SupportsToolCalling bool

	// SupportsStreaming indicates the model supports streaming completions.
	SupportsStreaming bool
}

// TranscriptEntry is a single conversation turn written to the persistent
// transcript log for a call or chat session.
type TranscriptEntry struct {
	// TenantID identifies the business the session belongs to.
	TenantID string

	// SessionID is the external call/chat identifier.
	SessionID string

	// Role is the Message role of this entry.
	Role string

	// Text is the spoken or written content.
	Text string

	// Provider names the LLM provider that produced an assistant entry, if any.
	Provider string

	// Timestamp is when this entry was recorded.
	Timestamp time.Time
}
