package deepgram

import (
	"net/url"
	"testing"

	"github.com/voxline-ai/voxline/pkg/provider/stt"
)

// ---- URL / query-param tests ----

func TestBuildURL_Defaults(t *testing.T) {
	p, err := New("test-key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	cfg := stt.StreamConfig{
		SampleRate: 16000,
		Channels:   1,
		Language:   "en",
	}

	rawURL, err := p.buildURL(cfg)
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse URL: %v", err)
	}
	q := u.Query()

	assertEqual(t, "model", "nova-3", q.Get("model"))
	assertEqual(t, "language", "en", q.Get("language"))
	assertEqual(t, "punctuate", "true", q.Get("punctuate"))
	assertEqual(t, "interim_results", "true", q.Get("interim_results"))
	assertEqual(t, "vad_events", "true", q.Get("vad_events"))
	assertEqual(t, "encoding", "linear16", q.Get("encoding"))
	assertEqual(t, "sample_rate", "16000", q.Get("sample_rate"))
	assertEqual(t, "channels", "1", q.Get("channels"))
}

func TestBuildURL_TelephonyFormat(t *testing.T) {
	p, err := New("key", WithModel("base"), WithLanguage("de-DE"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.buildURL(stt.StreamConfig{
		SampleRate:     8000,
		Encoding:       "mulaw",
		UtteranceEndMs: 1000,
	})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, _ := url.Parse(rawURL)
	q := u.Query()

	assertEqual(t, "model", "base", q.Get("model"))
	assertEqual(t, "language", "de-DE", q.Get("language"))
	assertEqual(t, "encoding", "mulaw", q.Get("encoding"))
	assertEqual(t, "sample_rate", "8000", q.Get("sample_rate"))
	assertEqual(t, "utterance_end_ms", "1000", q.Get("utterance_end_ms"))
}

func TestBuildURL_LanguageOverriddenByCfg(t *testing.T) {
	// cfg.Language takes precedence over the provider-level default.
	p, err := New("key", WithLanguage("en"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.buildURL(stt.StreamConfig{Language: "fr-FR", SampleRate: 16000})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, _ := url.Parse(rawURL)
	assertEqual(t, "language", "fr-FR", u.Query().Get("language"))
}

func TestNew_EmptyAPIKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty API key")
	}
}

// ---- message parsing tests ----

func TestParseMessage_FinalTranscript(t *testing.T) {
	raw := []byte(`{
		"type": "Results",
		"is_final": true,
		"channel": {"alternatives": [{"transcript": "book a table for two", "confidence": 0.97}]}
	}`)

	ev, ok := parseMessage(raw)
	if !ok {
		t.Fatal("parseMessage returned ok=false")
	}
	if ev.Type != stt.EventTranscript {
		t.Fatalf("Type = %v, want EventTranscript", ev.Type)
	}
	if !ev.Transcript.IsFinal {
		t.Error("IsFinal = false, want true")
	}
	if ev.Transcript.Text != "book a table for two" {
		t.Errorf("Text = %q", ev.Transcript.Text)
	}
	if ev.Transcript.Confidence != 0.97 {
		t.Errorf("Confidence = %v, want 0.97", ev.Transcript.Confidence)
	}
}

func TestParseMessage_InterimTranscript(t *testing.T) {
	raw := []byte(`{
		"type": "Results",
		"is_final": false,
		"channel": {"alternatives": [{"transcript": "book a", "confidence": 0.61}]}
	}`)

	ev, ok := parseMessage(raw)
	if !ok {
		t.Fatal("parseMessage returned ok=false")
	}
	if ev.Transcript.IsFinal {
		t.Error("IsFinal = true, want false")
	}
}

func TestParseMessage_VoiceActivity(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want stt.EventType
	}{
		{"speech started", `{"type":"SpeechStarted"}`, stt.EventSpeechStarted},
		{"utterance end", `{"type":"UtteranceEnd"}`, stt.EventSpeechEnded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ok := parseMessage([]byte(tt.raw))
			if !ok {
				t.Fatal("parseMessage returned ok=false")
			}
			if ev.Type != tt.want {
				t.Fatalf("Type = %v, want %v", ev.Type, tt.want)
			}
		})
	}
}

func TestParseMessage_Ignored(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"metadata message", `{"type":"Metadata"}`},
		{"empty alternatives", `{"type":"Results","channel":{"alternatives":[]}}`},
		{"invalid json", `{{{`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := parseMessage([]byte(tt.raw)); ok {
				t.Fatal("parseMessage returned ok=true for a message that should be ignored")
			}
		})
	}
}

func assertEqual(t *testing.T, name, want, got string) {
	t.Helper()
	if got != want {
		t.Errorf("%s = %q, want %q", name, got, want)
	}
}
