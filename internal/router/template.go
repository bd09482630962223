package router

import (
	"context"
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"

	"github.com/voxline-ai/voxline/pkg/types"
)

// Fuzzy matching thresholds. Levenshtein absorbs single-character
// transcription slips on longer words; Jaro-Winkler catches near-misses on
// multi-word phrases.
const (
	levenshteinMaxDistance = 1
	levenshteinMinLength   = 5
	jaroWinklerThreshold   = 0.92
)

// templateRule maps utterance patterns to one canned response key.
type templateRule struct {
	key      string
	patterns []string
}

// defaultRules covers the conversational filler that makes up a large share
// of phone-call utterances. Patterns are matched against the normalised
// utterance.
var defaultRules = []templateRule{
	{key: "greeting", patterns: []string{
		"hello", "hi", "hey", "hi there", "hello there",
		"good morning", "good afternoon", "good evening",
	}},
	{key: "farewell", patterns: []string{
		"bye", "goodbye", "bye bye", "see you", "thats all",
		"thats all thanks", "have a good day", "talk to you later",
	}},
	{key: "thanks", patterns: []string{
		"thanks", "thank you", "thank you so much", "thanks a lot",
		"appreciate it", "cheers",
	}},
	{key: "affirmative", patterns: []string{
		"yes", "yeah", "yep", "yes please", "sure", "okay", "ok",
		"sounds good", "that works", "correct", "exactly",
	}},
}

// defaultResponses is the canned reply per template key.
var defaultResponses = map[string]string{
	"greeting":    "Hello! How can I help you today?",
	"farewell":    "Thanks for calling. Have a great day!",
	"thanks":      "You're welcome! Is there anything else I can help with?",
	"affirmative": "Great. What would you like to do next?",
}

// Templates answers conversational filler from a canned response table,
// without spending any model tokens. Matching is literal first, then fuzzy to
// absorb transcription noise ("hallo", "thank yuo").
type Templates struct {
	rules     []templateRule
	responses map[string]string
}

// NewTemplates creates the template strategy with the default rule set.
func NewTemplates() *Templates {
	return &Templates{rules: defaultRules, responses: defaultResponses}
}

// Name implements Strategy.
func (t *Templates) Name() string { return "templates" }

// Route implements Strategy.
func (t *Templates) Route(_ context.Context, utterance string, _ []types.ToolDefinition) (Decision, bool) {
	norm := normalize(utterance)
	if norm == "" {
		return Decision{}, false
	}

	for _, rule := range t.rules {
		for _, pat := range rule.patterns {
			if matchesPattern(norm, pat) {
				return Decision{
					Kind:        KindTemplateResponse,
					TemplateKey: rule.key,
					Response:    t.responses[rule.key],
				}, true
			}
		}
	}
	return Decision{}, false
}

// matchesPattern reports whether the normalised utterance matches one
// pattern, literally or fuzzily.
func matchesPattern(norm, pat string) bool {
	if norm == pat {
		return true
	}
	if len(pat) >= levenshteinMinLength &&
		matchr.Levenshtein(norm, pat) <= levenshteinMaxDistance {
		return true
	}
	if strings.ContainsRune(pat, ' ') &&
		matchr.JaroWinkler(norm, pat, false) >= jaroWinklerThreshold {
		return true
	}
	return false
}

// normalize lowercases the utterance and strips punctuation so "Hello!" and
// "hello" compare equal.
func normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
