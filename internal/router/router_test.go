package router

import (
	"context"
	"testing"

	"github.com/voxline-ai/voxline/pkg/types"
)

// countingStrategy records invocations and always passes unless claimed.
type countingStrategy struct {
	name     string
	calls    int
	decision *Decision
}

func (s *countingStrategy) Name() string { return s.name }

func (s *countingStrategy) Route(context.Context, string, []types.ToolDefinition) (Decision, bool) {
	s.calls++
	if s.decision != nil {
		return *s.decision, true
	}
	return Decision{}, false
}

var testTools = []types.ToolDefinition{
	{Name: "check_availability", Required: []string{"date"}},
	{Name: "create_booking", Required: []string{"customer_name", "date", "time", "party_size"}},
	{Name: "create_order", Required: []string{"customer_name", "order_type", "items"}},
	{Name: "transfer_to_human"},
	{Name: "end_call"},
}

func TestRouteStopsAtFirstClaim(t *testing.T) {
	first := &countingStrategy{name: "first", decision: &Decision{Kind: KindTemplateResponse, TemplateKey: "greeting"}}
	second := &countingStrategy{name: "second"}
	r := New(first, second)

	d := r.Route(context.Background(), "hello", testTools)
	if d.Kind != KindTemplateResponse || d.Source != "first" {
		t.Errorf("decision = %+v, want template_response from first", d)
	}
	if second.calls != 0 {
		t.Error("later strategy consulted after an earlier claim")
	}
}

func TestRouteDefaultsToLLM(t *testing.T) {
	s := &countingStrategy{name: "pass"}
	r := New(s)

	d := r.Route(context.Background(), "I want to change my booking to Thursday", testTools)
	if d.Kind != KindLLMRequired || d.Source != "default" {
		t.Errorf("decision = %+v, want default llm_required", d)
	}
}

func TestGreetingSkipsClassifierAndLLM(t *testing.T) {
	classifier := &countingStrategy{name: "classifier"}
	r := New(NewTemplates(), classifier, NewHeuristic())

	d := r.Route(context.Background(), "Hello!", testTools)
	if d.Kind != KindTemplateResponse {
		t.Fatalf("kind = %s, want template_response", d.Kind)
	}
	if d.TemplateKey != "greeting" {
		t.Errorf("template key = %q, want greeting", d.TemplateKey)
	}
	if d.Response == "" {
		t.Error("template decision carries no response text")
	}
	if classifier.calls != 0 {
		t.Error("classifier consulted for a template utterance")
	}
}

func TestKindString(t *testing.T) {
	cases := []struct {
		kind Kind
		want string
	}{
		{KindTemplateResponse, "template_response"},
		{KindDirectTool, "direct_tool"},
		{KindLLMRequired, "llm_required"},
	}
	for _, tc := range cases {
		if got := tc.kind.String(); got != tc.want {
			t.Errorf("Kind(%d).String() = %q, want %q", tc.kind, got, tc.want)
		}
	}
}
