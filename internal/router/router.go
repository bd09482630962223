// Package router decides how each caller utterance is handled before any
// large-model tokens are spent.
//
// Routing runs an ordered list of strategies, each a cheap function from the
// utterance and the available tools to a Decision. The first strategy that
// recognises the utterance wins:
//
//  1. templates: canned responses for conversational filler (greetings,
//     thanks, farewells) matched literally or fuzzily.
//  2. classifier: an optional local fast-model endpoint that can emit a
//     complete tool call, skipping the LLM round-trip entirely.
//  3. heuristic: keyword regexes that cannot extract arguments but can
//     hint which tool the LLM will likely need.
//
// When nothing matches, the utterance goes to the full turn engine.
package router

import (
	"context"
	"log/slog"

	"github.com/voxline-ai/voxline/pkg/types"
)

// Kind discriminates the variants of Decision.
type Kind int

const (
	// KindLLMRequired sends the utterance to the turn engine. Hint and
	// Reason may carry a tool suggestion for the system prompt.
	KindLLMRequired Kind = iota

	// KindTemplateResponse answers with a canned response, no model call.
	KindTemplateResponse

	// KindDirectTool executes Tool with Args immediately, no model call.
	KindDirectTool
)

func (k Kind) String() string {
	switch k {
	case KindTemplateResponse:
		return "template_response"
	case KindDirectTool:
		return "direct_tool"
	default:
		return "llm_required"
	}
}

// Decision is the routing outcome for one utterance. Which fields are
// populated depends on Kind.
type Decision struct {
	Kind Kind

	// TemplateKey and Response are set for KindTemplateResponse.
	TemplateKey string
	Response    string

	// Tool and Args are set for KindDirectTool.
	Tool string
	Args map[string]any

	// Hint and Reason are optionally set for KindLLMRequired.
	Hint   string
	Reason string

	// Source names the strategy that produced the decision.
	Source string
}

// Strategy examines one utterance and either claims it with a Decision or
// passes. Strategies must be safe for concurrent use.
type Strategy interface {
	// Name reports the strategy's stable identifier for logs and metrics.
	Name() string

	// Route returns (decision, true) if the strategy claims the utterance.
	Route(ctx context.Context, utterance string, tools []types.ToolDefinition) (Decision, bool)
}

// Router runs strategies in priority order.
type Router struct {
	strategies []Strategy
}

// New creates a Router with the given strategies, consulted in order.
func New(strategies ...Strategy) *Router {
	return &Router{strategies: strategies}
}

// Route returns the first strategy's claim, or a default llm_required
// Decision when no strategy recognises the utterance. A strategy failure
// (e.g., classifier endpoint down) never blocks routing; the next strategy
// is simply consulted.
func (r *Router) Route(ctx context.Context, utterance string, tools []types.ToolDefinition) Decision {
	for _, s := range r.strategies {
		if d, ok := s.Route(ctx, utterance, tools); ok {
			d.Source = s.Name()
			slog.Debug("routed utterance",
				"strategy", s.Name(), "kind", d.Kind.String())
			return d
		}
	}
	return Decision{Kind: KindLLMRequired, Source: "default"}
}
