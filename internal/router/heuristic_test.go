package router

import (
	"context"
	"testing"

	"github.com/voxline-ai/voxline/pkg/types"
)

func TestHeuristicHints(t *testing.T) {
	h := NewHeuristic()
	cases := []struct {
		utterance string
		wantHint  string
	}{
		{"do you have any tables tonight", "check_availability"},
		{"are you available on friday", "check_availability"},
		{"I'd like to make a reservation", "create_booking"},
		{"can I book a table for 2", "create_booking"},
		{"I want to order a large pepperoni", "create_order"},
		{"do you do delivery", "create_order"},
		{"let me talk to a real person", "transfer_to_human"},
		{"I want to speak with a manager", "transfer_to_human"},
	}
	for _, tc := range cases {
		d, ok := h.Route(context.Background(), tc.utterance, testTools)
		if !ok {
			t.Errorf("%q: not matched, want hint %s", tc.utterance, tc.wantHint)
			continue
		}
		if d.Kind != KindLLMRequired {
			t.Errorf("%q: kind = %s, heuristics must never bypass the LLM", tc.utterance, d.Kind)
		}
		if d.Hint != tc.wantHint {
			t.Errorf("%q: hint = %q, want %q", tc.utterance, d.Hint, tc.wantHint)
		}
		if len(d.Args) != 0 {
			t.Errorf("%q: heuristic fabricated args %v", tc.utterance, d.Args)
		}
	}
}

func TestHeuristicPassesOnUnmatchedUtterances(t *testing.T) {
	h := NewHeuristic()
	for _, utterance := range []string{
		"what are your opening hours",
		"tell me about your restaurant",
		"",
	} {
		if d, ok := h.Route(context.Background(), utterance, testTools); ok {
			t.Errorf("%q: claimed with hint %q, want pass-through", utterance, d.Hint)
		}
	}
}

func TestHeuristicSkipsUnavailableTools(t *testing.T) {
	h := NewHeuristic()
	// A chat tenant without telephony has no transfer tool.
	chatTools := []types.ToolDefinition{{Name: "create_order"}}

	if d, ok := h.Route(context.Background(), "let me talk to a real person", chatTools); ok {
		t.Errorf("hinted %q for a tool the session does not expose", d.Hint)
	}
}
