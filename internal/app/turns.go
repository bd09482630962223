package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/voxline-ai/voxline/internal/events"
	"github.com/voxline-ai/voxline/internal/observe"
	"github.com/voxline-ai/voxline/internal/router"
	"github.com/voxline-ai/voxline/internal/session"
	"github.com/voxline-ai/voxline/internal/tools"
	"github.com/voxline-ai/voxline/internal/turn"
	"github.com/voxline-ai/voxline/pkg/types"
)

// ErrSessionNotFound is returned by ProcessTurn for unknown session ids.
var ErrSessionNotFound = errors.New("app: session not found")

// apologyReply is spoken when every LLM provider is down and the utterance
// needed one. The caller keeps the line; a retry next turn may succeed.
const apologyReply = "I'm sorry, I'm having trouble right now. Could you say that again in a moment?"

// TurnOutput is the result of one processed turn.
type TurnOutput struct {
	// Reply is the agent's response text.
	Reply string

	// Path names how the reply was produced: "template", "direct_tool",
	// "llm" or "apology".
	Path string

	// Provider names the LLM provider used, empty for non-LLM paths.
	Provider string

	// ToolResults records any business actions taken this turn.
	ToolResults []types.ToolResult
}

// directCallSeq numbers synthetic tool call ids for router-dispatched tools.
var directCallSeq atomic.Int64

// meteredExecutor wraps the session's tool executor with per-call metrics.
type meteredExecutor struct {
	inner   turn.Executor
	metrics *observe.Metrics
}

func (e meteredExecutor) Execute(ctx context.Context, call types.ToolCall) types.ToolResult {
	start := time.Now()
	res := e.inner.Execute(ctx, call)
	e.metrics.RecordTool(ctx, call.Name, res.OK, time.Since(start).Seconds())
	return res
}

// ProcessTurn handles one user utterance for the session: routes it, runs
// the chosen path, appends to history, persists the transcript, publishes
// events, and for voice sessions speaks the reply.
//
// Turns for one session are strictly sequential; a second utterance arriving
// mid-turn waits for the first to finish.
func (a *App) ProcessTurn(ctx context.Context, sessionID, utterance string) (TurnOutput, error) {
	s, ok := a.registry.Get(sessionID)
	if !ok {
		return TurnOutput{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	s.BeginTurn()
	defer s.EndTurn()
	start := time.Now()

	defs := a.exec.Definitions(a.sessionContext(s))
	decision := a.router.Route(ctx, utterance, defs)
	a.metrics.RecordRoute(ctx, decision.Kind.String(), decision.Source)

	s.Append(types.Message{Role: types.RoleUser, Content: utterance})
	a.appendTranscript(ctx, s, types.RoleUser, utterance, "")

	exec := meteredExecutor{inner: s.Exec, metrics: a.metrics}

	var out TurnOutput
	switch decision.Kind {
	case router.KindTemplateResponse:
		out = TurnOutput{Reply: decision.Response, Path: "template"}

	case router.KindDirectTool:
		res := exec.Execute(ctx, types.ToolCall{
			ID:        fmt.Sprintf("direct-%d", directCallSeq.Add(1)),
			Name:      decision.Tool,
			Arguments: marshalArgs(decision.Args),
		})
		out = TurnOutput{Reply: res.Message, Path: "direct_tool", ToolResults: []types.ToolResult{res}}

	default:
		out = a.llmTurn(ctx, s, decision.Hint, defs, exec)
	}

	s.Append(types.Message{Role: types.RoleAssistant, Content: out.Reply})
	a.appendTranscript(ctx, s, types.RoleAssistant, out.Reply, out.Provider)
	a.publishTurnEvents(ctx, s, out)

	if s.IsCall && s.Synth != nil {
		a.speakReply(ctx, s, out.Reply)
	}

	a.metrics.RecordTurn(ctx, s.TenantID, out.Path, time.Since(start).Seconds())
	return out, nil
}

// llmTurn runs the turn engine over the session history. The router's tool
// hint, when present, is folded into the system prompt. Provider exhaustion
// degrades to an apology instead of failing the turn.
func (a *App) llmTurn(ctx context.Context, s *session.Session, hint string, defs []types.ToolDefinition, exec turn.Executor) TurnOutput {
	req := turn.Request{
		Messages:     s.History(),
		SystemPrompt: systemPrompt(s, hint),
		Tools:        defs,
	}

	result, err := a.engine.RunTurn(ctx, req, exec)
	if err != nil {
		slog.Error("turn engine failed", "session_id", s.ID, "error", err)
		a.metrics.RecordFallback(ctx, "all", "exhausted")
		return TurnOutput{Reply: apologyReply, Path: "apology"}
	}

	return TurnOutput{
		Reply:       result.Text,
		Path:        "llm",
		Provider:    result.Provider,
		ToolResults: result.ToolResults,
	}
}

// speakReply streams the reply to the synthesis session sentence by sentence
// so audio for the first sentence starts before the rest is submitted. Every
// chunk except the last carries the continuation flag; the last flushes the
// provider buffer.
func (a *App) speakReply(ctx context.Context, s *session.Session, reply string) {
	sentences := splitSentences(reply)
	for i, sentence := range sentences {
		cont := i < len(sentences)-1
		if err := s.Synth.SpeakChunk(ctx, sentence, cont); err != nil {
			slog.Warn("synthesis failed", "session_id", s.ID, "error", err)
			return
		}
	}
}

// splitSentences breaks text at sentence-final punctuation, keeping the
// punctuation with its sentence. Text without terminators comes back whole.
func splitSentences(text string) []string {
	var out []string
	start := 0
	for i, r := range text {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		s := strings.TrimSpace(text[start : i+1])
		if s != "" {
			out = append(out, s)
		}
		start = i + 1
	}
	if rest := strings.TrimSpace(text[start:]); rest != "" {
		out = append(out, rest)
	}
	if len(out) == 0 {
		return []string{text}
	}
	return out
}

// systemPrompt builds the agent persona for a tenant. The router hint, when
// set, nudges the model toward the suggested tool without forcing it.
func systemPrompt(s *session.Session, hint string) string {
	t := s.Tenant
	var b strings.Builder
	name := t.AgentName
	if name == "" {
		name = "the assistant"
	}
	fmt.Fprintf(&b, "You are %s, the phone and chat assistant for %s.", name, t.Name)
	if t.Personality != "" {
		b.WriteString(" ")
		b.WriteString(t.Personality)
	}
	if t.BusinessHours != "" {
		fmt.Fprintf(&b, "\nBusiness hours: %s.", t.BusinessHours)
	}
	b.WriteString("\nKeep replies short and natural for speech.")
	b.WriteString(" Never invent confirmation codes or availability; use the tools.")
	if hint != "" {
		fmt.Fprintf(&b, "\nThe caller likely wants to %s. Ask for any missing details, then call the tool.", hint)
	}
	return b.String()
}

// appendTranscript persists one conversation entry. Failures are logged,
// never surfaced: the live conversation matters more than the log.
func (a *App) appendTranscript(ctx context.Context, s *session.Session, role, text, provider string) {
	err := a.store.AppendTranscript(ctx, types.TranscriptEntry{
		TenantID:  s.TenantID,
		SessionID: s.ID,
		Role:      role,
		Text:      text,
		Provider:  provider,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		slog.Warn("transcript append failed", "session_id", s.ID, "error", err)
	}
}

// publishTurnEvents emits the turn_completed event plus one event per
// confirmed booking, order or transfer.
func (a *App) publishTurnEvents(ctx context.Context, s *session.Session, out TurnOutput) {
	publish := func(eventType string, payload any) {
		if err := a.publisher.Publish(ctx, events.Event{
			Type:      eventType,
			TenantID:  s.TenantID,
			SessionID: s.ID,
			Payload:   payload,
		}); err != nil {
			slog.Warn("event publish failed", "type", eventType, "session_id", s.ID, "error", err)
		}
	}

	publish(events.TypeTurnCompleted, map[string]any{
		"path":     out.Path,
		"provider": out.Provider,
	})

	for _, res := range out.ToolResults {
		if !res.OK {
			continue
		}
		switch res.Name {
		case tools.ToolCreateBooking:
			publish(events.TypeBookingCreated, map[string]string{"confirmation_code": res.ConfirmationCode})
		case tools.ToolCreateOrder:
			publish(events.TypeOrderCreated, map[string]string{"confirmation_code": res.ConfirmationCode})
		case tools.ToolTransferToHuman:
			publish(events.TypeCallTransferred, nil)
		}
	}
}

func marshalArgs(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(raw)
}
