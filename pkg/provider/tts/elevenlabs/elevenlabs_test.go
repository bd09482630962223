package elevenlabs

import (
	"encoding/base64"
	"encoding/json"
	"testing"
)

func TestNew_EmptyAPIKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty API key")
	}
}

func TestTextMessage_Shape(t *testing.T) {
	msg := textMessage{
		Text:      "Your table is booked.",
		ContextID: "call-42",
		Flush:     true,
		VoiceSettings: &voiceSettings{
			Stability:       0.5,
			SimilarityBoost: 0.75,
		},
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if decoded["text"] != "Your table is booked." {
		t.Errorf("text = %v", decoded["text"])
	}
	if decoded["context_id"] != "call-42" {
		t.Errorf("context_id = %v", decoded["context_id"])
	}
	if decoded["flush"] != true {
		t.Errorf("flush = %v, want true", decoded["flush"])
	}
	if _, ok := decoded["voice_settings"]; !ok {
		t.Error("voice_settings missing")
	}
}

func TestTextMessage_ContinuationOmitsFlush(t *testing.T) {
	raw, err := json.Marshal(textMessage{Text: "First part,", ContextID: "c1"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := decoded["flush"]; ok {
		t.Error("flush should be omitted for continuation fragments")
	}
	if _, ok := decoded["voice_settings"]; ok {
		t.Error("voice_settings should be omitted when not set")
	}
}

func TestParseAudioMessage_Audio(t *testing.T) {
	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	raw, _ := json.Marshal(audioMessage{
		Audio:     base64.StdEncoding.EncodeToString(pcm),
		ContextID: "call-42",
	})

	chunk, ok := parseAudioMessage(raw)
	if !ok {
		t.Fatal("parseAudioMessage returned ok=false")
	}
	if chunk.ContextID != "call-42" {
		t.Errorf("ContextID = %q", chunk.ContextID)
	}
	if string(chunk.Audio) != string(pcm) {
		t.Errorf("Audio = %v, want %v", chunk.Audio, pcm)
	}
	if chunk.IsFinal {
		t.Error("IsFinal = true, want false")
	}
}

func TestParseAudioMessage_FinalWithoutAudio(t *testing.T) {
	raw := []byte(`{"contextId":"call-42","isFinal":true}`)

	chunk, ok := parseAudioMessage(raw)
	if !ok {
		t.Fatal("parseAudioMessage returned ok=false for final marker")
	}
	if !chunk.IsFinal {
		t.Error("IsFinal = false, want true")
	}
	if len(chunk.Audio) != 0 {
		t.Errorf("Audio = %v, want empty", chunk.Audio)
	}
}

func TestParseAudioMessage_Ignored(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"info message", `{"message":"context created"}`},
		{"bad base64", `{"audio":"***not-base64***"}`},
		{"invalid json", `}{`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := parseAudioMessage([]byte(tt.raw)); ok {
				t.Fatal("parseAudioMessage returned ok=true for a message that should be ignored")
			}
		})
	}
}
