// Package turn runs the multi-provider LLM loop that produces the agent's
// reply for one user utterance.
//
// Providers are tried in a fixed priority order, each behind its own circuit
// breaker. One attempt runs the whole tool protocol against a single
// provider: request a completion; if it carries tool calls, execute them in
// order and replay the results to the same provider for its final text.
// Providers are never mixed mid-turn, so every tool result lands with the
// model instance that asked for it. A timeout, transport error, or malformed
// payload moves straight to the next provider; errors are never retried
// against the same provider within a turn.
package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/voxline-ai/voxline/internal/resilience"
	"github.com/voxline-ai/voxline/pkg/provider/llm"
	"github.com/voxline-ai/voxline/pkg/types"
)

// Engine errors.
var (
	// ErrAllProvidersExhausted is returned when every provider fails or has
	// an open breaker. The caller substitutes an apology utterance; the error
	// never reaches the end user as-is.
	ErrAllProvidersExhausted = errors.New("turn: all providers exhausted")

	// ErrNoProviders is returned by New when the provider list is empty.
	ErrNoProviders = errors.New("turn: at least one provider is required")

	// errEmptyCompletion marks a well-formed response that carries neither
	// text nor tool calls.
	errEmptyCompletion = errors.New("turn: provider returned empty completion")
)

// Executor runs one tool call and reports its outcome. Execution failures
// are encoded inside the ToolResult (OK plus a user-facing message), never
// as Go errors: a broken tool must not abort the turn.
type Executor interface {
	Execute(ctx context.Context, call types.ToolCall) types.ToolResult
}

// ProviderEntry names one LLM provider for the priority list.
type ProviderEntry struct {
	Name     string
	Provider llm.Provider
}

// Config holds tuning knobs for an Engine.
type Config struct {
	// AttemptTimeout bounds one full provider attempt, including tool
	// execution and the result replay. Default: 30s.
	AttemptTimeout time.Duration

	// BreakerThreshold and BreakerCooldown configure the per-provider
	// circuit breakers. Zero values use the resilience defaults.
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

// Request is the input for one turn.
type Request struct {
	// Messages is the conversation history ending with the new user
	// utterance.
	Messages []types.Message

	// SystemPrompt is the agent persona and instructions.
	SystemPrompt string

	// Tools is the tool schema offered to the provider.
	Tools []types.ToolDefinition

	// Temperature and MaxTokens are passed through to the provider. Zero
	// values use provider defaults.
	Temperature float64
	MaxTokens   int
}

// Result is the outcome of one successful turn.
type Result struct {
	// Text is the agent's final reply.
	Text string

	// Provider names the entry that produced the reply.
	Provider string

	// ToolCalls and ToolResults record the tool protocol of this turn, in
	// execution order. Empty for plain text turns.
	ToolCalls   []types.ToolCall
	ToolResults []types.ToolResult

	// Usage aggregates token usage across both requests of the attempt.
	Usage llm.Usage
}

type entry struct {
	name     string
	provider llm.Provider
	breaker  *resilience.Breaker
}

// Engine executes turns against an ordered list of LLM providers.
type Engine struct {
	entries        []entry
	attemptTimeout time.Duration
}

// New creates an Engine. Providers are tried in the order given.
func New(cfg Config, providers ...ProviderEntry) (*Engine, error) {
	if len(providers) == 0 {
		return nil, ErrNoProviders
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 30 * time.Second
	}
	e := &Engine{attemptTimeout: cfg.AttemptTimeout}
	for _, p := range providers {
		e.entries = append(e.entries, entry{
			name:     p.Name,
			provider: p.Provider,
			breaker: resilience.NewBreaker(resilience.BreakerConfig{
				Name:      "llm/" + p.Name,
				Threshold: cfg.BreakerThreshold,
				Cooldown:  cfg.BreakerCooldown,
			}),
		})
	}
	return e, nil
}

// RunTurn produces the agent's reply for req, falling through the provider
// list until one completes the full protocol.
func (e *Engine) RunTurn(ctx context.Context, req Request, exec Executor) (Result, error) {
	var lastErr error
	for i := range e.entries {
		en := &e.entries[i]

		var res Result
		err := en.breaker.Do(func() error {
			r, attemptErr := e.attempt(ctx, en, req, exec)
			if attemptErr != nil {
				return attemptErr
			}
			res = r
			return nil
		})
		if err == nil {
			res.Provider = en.name
			return res, nil
		}
		lastErr = err

		if errors.Is(err, resilience.ErrOpen) {
			slog.Debug("skipping llm provider, circuit open", "provider", en.name)
		} else {
			slog.Warn("llm provider attempt failed, falling back",
				"provider", en.name, "error", err)
		}
		if ctx.Err() != nil {
			break
		}
	}
	return Result{}, fmt.Errorf("%w: %v", ErrAllProvidersExhausted, lastErr)
}

// ProviderStates reports each provider's breaker state for the status
// surface, in priority order.
func (e *Engine) ProviderStates() map[string]string {
	states := make(map[string]string, len(e.entries))
	for i := range e.entries {
		states[e.entries[i].name] = e.entries[i].breaker.State()
	}
	return states
}

// attempt runs the full tool protocol against one provider under the attempt
// timeout.
func (e *Engine) attempt(ctx context.Context, en *entry, req Request, exec Executor) (Result, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, e.attemptTimeout)
	defer cancel()

	creq := llm.CompletionRequest{
		Messages:     req.Messages,
		Tools:        req.Tools,
		Temperature:  req.Temperature,
		MaxTokens:    req.MaxTokens,
		SystemPrompt: req.SystemPrompt,
	}

	resp, err := en.provider.Complete(attemptCtx, creq)
	if err != nil {
		return Result{}, fmt.Errorf("complete: %w", err)
	}

	var res Result
	res.Usage = resp.Usage

	if len(resp.ToolCalls) == 0 {
		if resp.Content == "" {
			return Result{}, errEmptyCompletion
		}
		res.Text = resp.Content
		return res, nil
	}

	// Execute tool calls sequentially, preserving provider order: later
	// calls may depend on state created by earlier ones in the same turn.
	res.ToolCalls = resp.ToolCalls
	for _, call := range resp.ToolCalls {
		result := exec.Execute(attemptCtx, call)
		res.ToolResults = append(res.ToolResults, result)
	}

	// Replay the results to the provider that asked for them.
	followup := creq
	followup.Messages = appendToolExchange(req.Messages, resp, res.ToolResults)

	final, err := en.provider.Complete(attemptCtx, followup)
	if err != nil {
		return Result{}, fmt.Errorf("replay tool results: %w", err)
	}
	if final.Content == "" {
		return Result{}, errEmptyCompletion
	}
	res.Text = final.Content
	res.Usage = addUsage(res.Usage, final.Usage)
	return res, nil
}

// appendToolExchange extends the history with the assistant's tool-call
// message and one tool message per result.
func appendToolExchange(history []types.Message, resp *llm.CompletionResponse, results []types.ToolResult) []types.Message {
	out := make([]types.Message, 0, len(history)+1+len(results))
	out = append(out, history...)
	out = append(out, types.Message{
		Role:      types.RoleAssistant,
		Content:   resp.Content,
		ToolCalls: resp.ToolCalls,
	})
	for _, r := range results {
		out = append(out, types.Message{
			Role:       types.RoleTool,
			Content:    r.Message,
			Name:       r.Name,
			ToolCallID: r.CallID,
		})
	}
	return out
}

func addUsage(a, b llm.Usage) llm.Usage {
	return llm.Usage{
		PromptTokens:     a.PromptTokens + b.PromptTokens,
		CompletionTokens: a.CompletionTokens + b.CompletionTokens,
		TotalTokens:      a.TotalTokens + b.TotalTokens,
	}
}
