// Package elevenlabs provides an ElevenLabs-backed TTS provider using the
// ElevenLabs multi-context streaming WebSocket API. It implements the
// tts.Provider interface.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/voxline-ai/voxline/pkg/provider/tts"
)

const (
	wsEndpointFmt    = "wss://api.elevenlabs.io/v1/text-to-speech/%s/multi-stream-input?model_id=%s&output_format=%s"
	defaultModel     = "eleven_flash_v2_5"
	defaultOutputFmt = "pcm_16000"
)

// Option is a functional option for configuring the ElevenLabs Provider.
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_flash_v2_5").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithVoiceSettings overrides the default stability/similarity settings sent
// on the first fragment of each context.
func WithVoiceSettings(stability, similarityBoost float64) Option {
	return func(p *Provider) {
		p.settings = &voiceSettings{
			Stability:       stability,
			SimilarityBoost: similarityBoost,
		}
	}
}

// Provider implements tts.Provider backed by the ElevenLabs streaming API.
type Provider struct {
	apiKey   string
	model    string
	settings *voiceSettings
}

// New creates a new ElevenLabs Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		model:    defaultModel,
		settings: &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name implements tts.Provider.
func (p *Provider) Name() string { return "elevenlabs" }

// ---- WebSocket message types ----

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// textMessage is the JSON payload sent to ElevenLabs for each text fragment.
// A fragment with Flush set tells the provider the utterance is complete and
// remaining audio should be emitted without waiting for more text.
type textMessage struct {
	Text          string         `json:"text"`
	ContextID     string         `json:"context_id,omitempty"`
	Flush         bool           `json:"flush,omitempty"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
}

// audioMessage is the JSON message received from ElevenLabs over the WebSocket.
type audioMessage struct {
	Audio     string `json:"audio"` // base64-encoded audio payload
	ContextID string `json:"contextId"`
	IsFinal   bool   `json:"isFinal"`
	Message   string `json:"message,omitempty"` // error or info
}

// Dial implements tts.Provider. It opens a multi-context WebSocket so several
// utterances of the same call can share one connection while keeping
// independent prosody contexts.
func (p *Provider) Dial(ctx context.Context, voice tts.VoiceConfig) (tts.Conn, error) {
	if voice.VoiceID == "" {
		return nil, errors.New("elevenlabs: voice.VoiceID must not be empty")
	}
	format := voice.OutputFormat
	if format == "" {
		format = defaultOutputFmt
	}

	wsURL := fmt.Sprintf(wsEndpointFmt, voice.VoiceID, p.model, format)
	headers := http.Header{}
	headers.Set("xi-api-key", p.apiKey)

	ws, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}

	c := &conn{
		ws:       ws,
		settings: p.settings,
		audio:    make(chan tts.Chunk, 256),
		closed:   make(chan struct{}),
		seen:     make(map[string]bool),
	}

	c.wg.Add(1)
	go c.readLoop()

	return c, nil
}

// conn is a live ElevenLabs streaming connection. It implements tts.Conn.
type conn struct {
	ws       *websocket.Conn
	settings *voiceSettings
	audio    chan tts.Chunk

	closed     chan struct{}
	signalOnce sync.Once
	closeOnce  sync.Once
	wg         sync.WaitGroup

	writeMu sync.Mutex
	seen    map[string]bool // context ids that already received voice settings
}

func (c *conn) markClosed() {
	c.signalOnce.Do(func() { close(c.closed) })
}

// SendText submits a text fragment for the given context id. The first
// fragment of a context carries the voice settings; later fragments omit them.
func (c *conn) SendText(ctx context.Context, contextID, text string, more bool) error {
	select {
	case <-c.closed:
		return tts.ErrConnClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	msg := textMessage{
		Text:      text,
		ContextID: contextID,
		Flush:     !more,
	}
	if !c.seen[contextID] {
		msg.VoiceSettings = c.settings
		c.seen[contextID] = true
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("elevenlabs: marshal text message: %w", err)
	}
	if err := c.ws.Write(ctx, websocket.MessageText, payload); err != nil {
		c.markClosed()
		return fmt.Errorf("elevenlabs: send text: %w", err)
	}
	return nil
}

// Audio returns the synthesised audio stream.
func (c *conn) Audio() <-chan tts.Chunk { return c.audio }

// Closed reports transport termination.
func (c *conn) Closed() <-chan struct{} { return c.closed }

// Close terminates the connection cleanly.
func (c *conn) Close() error {
	c.closeOnce.Do(func() {
		c.markClosed()
		c.ws.Close(websocket.StatusNormalClosure, "connection closed")
		c.wg.Wait()
	})
	return nil
}

// readLoop receives JSON messages from ElevenLabs, decodes the base64 audio
// payloads, and forwards them immediately to the audio channel.
func (c *conn) readLoop() {
	defer c.wg.Done()
	defer close(c.audio)
	defer c.markClosed()

	for {
		_, msg, err := c.ws.Read(context.Background())
		if err != nil {
			return
		}

		chunk, ok := parseAudioMessage(msg)
		if !ok {
			continue
		}

		select {
		case c.audio <- chunk:
		case <-c.closed:
			return
		}
	}
}

// parseAudioMessage parses a raw ElevenLabs WebSocket message into a Chunk.
// Returns (Chunk, true) on success, or (zero, false) if the message carries no
// audio and no final marker.
func parseAudioMessage(data []byte) (tts.Chunk, bool) {
	var msg audioMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return tts.Chunk{}, false
	}

	if msg.Audio == "" {
		if msg.IsFinal {
			return tts.Chunk{ContextID: msg.ContextID, IsFinal: true}, true
		}
		return tts.Chunk{}, false
	}

	audio, err := base64.StdEncoding.DecodeString(msg.Audio)
	if err != nil {
		return tts.Chunk{}, false
	}

	return tts.Chunk{
		ContextID: msg.ContextID,
		Audio:     audio,
		IsFinal:   msg.IsFinal,
	}, true
}
