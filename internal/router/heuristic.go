package router

import (
	"context"
	"regexp"

	"github.com/voxline-ai/voxline/pkg/types"
)

// keywordRule maps an intent regex to a tool hint. Rules can only ever
// produce llm_required decisions: keywords reveal intent but never yield
// trustworthy arguments.
type keywordRule struct {
	tool   string
	reason string
	re     *regexp.Regexp
}

var defaultKeywordRules = []keywordRule{
	{
		tool:   "check_availability",
		reason: "availability keywords detected",
		re:     regexp.MustCompile(`(?i)\b(availab\w*|any (tables?|slots?|openings?)|do you have (a )?(table|slot|opening)|free (table|slot)|open (on|at|this))\b`),
	},
	{
		tool:   "create_booking",
		reason: "booking keywords detected",
		re:     regexp.MustCompile(`(?i)\b(book\w*|reserv\w*|appointment|table for \d+)\b`),
	},
	{
		tool:   "create_order",
		reason: "order keywords detected",
		re:     regexp.MustCompile(`(?i)\b(order\w*|delivery|deliver|takeout|take away|pickup|pick up|menu)\b`),
	},
	{
		tool:   "transfer_to_human",
		reason: "escalation keywords detected",
		re:     regexp.MustCompile(`(?i)\b((speak|talk) (to|with) (a |an |the )?(human|person|someone|agent|manager|representative)|real person|an? (actual )?human)\b`),
	},
}

// Heuristic matches keyword regexes against the utterance and annotates the
// turn with a tool hint for the LLM's benefit. It never bypasses the LLM and
// never fabricates tool arguments.
type Heuristic struct {
	rules []keywordRule
}

// NewHeuristic creates the keyword strategy with the default rule set.
func NewHeuristic() *Heuristic {
	return &Heuristic{rules: defaultKeywordRules}
}

// Name implements Strategy.
func (h *Heuristic) Name() string { return "heuristic" }

// Route implements Strategy. A hint is only emitted for tools that are
// actually available in this session.
func (h *Heuristic) Route(_ context.Context, utterance string, tools []types.ToolDefinition) (Decision, bool) {
	for _, rule := range h.rules {
		if !rule.re.MatchString(utterance) {
			continue
		}
		if _, known := findTool(tools, rule.tool); !known {
			continue
		}
		return Decision{
			Kind:   KindLLMRequired,
			Hint:   rule.tool,
			Reason: rule.reason,
		}, true
	}
	return Decision{}, false
}
