// Package deepgram provides a Deepgram-backed STT provider using the Deepgram
// streaming WebSocket API. It implements the stt.Provider interface.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/coder/websocket"

	"github.com/voxline-ai/voxline/pkg/provider/stt"
	"github.com/voxline-ai/voxline/pkg/types"
)

const (
	deepgramEndpoint  = "wss://api.deepgram.com/v1/listen"
	defaultModel      = "nova-3"
	defaultLanguage   = "en"
	defaultSampleRate = 16000
	defaultEncoding   = "linear16"
)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the BCP-47 language code for recognition (e.g., "en", "de-DE").
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithEndpoint overrides the Deepgram streaming endpoint URL. Used in tests.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// Provider implements stt.Provider backed by the Deepgram streaming API.
type Provider struct {
	apiKey   string
	model    string
	language string
	endpoint string
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		model:    defaultModel,
		language: defaultLanguage,
		endpoint: deepgramEndpoint,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name implements stt.Provider.
func (p *Provider) Name() string { return "deepgram" }

// Dial implements stt.Provider. It opens a streaming transcription connection
// with voice-activity events enabled so utterance boundaries are reported.
func (p *Provider) Dial(ctx context.Context, cfg stt.StreamConfig) (stt.Conn, error) {
	wsURL, err := p.buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	ws, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}

	c := &conn{
		ws:     ws,
		events: make(chan stt.Event, 64),
		audio:  make(chan []byte, 256),
		closed: make(chan struct{}),
	}

	c.wg.Add(2)
	go c.readLoop()
	go c.writeLoop()

	return c, nil
}

// buildURL constructs the Deepgram streaming endpoint URL for the given config.
func (p *Provider) buildURL(cfg stt.StreamConfig) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	sr := cfg.SampleRate
	if sr == 0 {
		sr = defaultSampleRate
	}
	enc := cfg.Encoding
	if enc == "" {
		enc = defaultEncoding
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("punctuate", "true")
	q.Set("interim_results", "true")
	q.Set("vad_events", "true")
	q.Set("encoding", enc)
	q.Set("sample_rate", strconv.Itoa(sr))
	if cfg.Channels > 0 {
		q.Set("channels", strconv.Itoa(cfg.Channels))
	}
	if cfg.UtteranceEndMs > 0 {
		q.Set("utterance_end_ms", strconv.Itoa(cfg.UtteranceEndMs))
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ---- connection ----

// deepgramMessage is the JSON structure of messages received from Deepgram.
// Only the fields this package consumes are declared.
type deepgramMessage struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// conn is a live Deepgram streaming connection. It implements stt.Conn.
type conn struct {
	ws     *websocket.Conn
	events chan stt.Event
	audio  chan []byte

	closed     chan struct{}
	signalOnce sync.Once // closes the closed channel
	closeOnce  sync.Once // full transport teardown
	wg         sync.WaitGroup
}

// markClosed signals transport termination exactly once.
func (c *conn) markClosed() {
	c.signalOnce.Do(func() { close(c.closed) })
}

// SendAudio queues a PCM audio chunk for delivery to Deepgram.
func (c *conn) SendAudio(ctx context.Context, frame []byte) error {
	select {
	case <-c.closed:
		return stt.ErrConnClosed
	default:
	}
	select {
	case c.audio <- frame:
		return nil
	case <-c.closed:
		return stt.ErrConnClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Events returns the ordered event stream.
func (c *conn) Events() <-chan stt.Event { return c.events }

// Ping sends a Deepgram KeepAlive message so the provider does not drop an
// idle connection.
func (c *conn) Ping(ctx context.Context) error {
	select {
	case <-c.closed:
		return stt.ErrConnClosed
	default:
	}
	if err := c.ws.Write(ctx, websocket.MessageText, []byte(`{"type":"KeepAlive"}`)); err != nil {
		return fmt.Errorf("deepgram: keep-alive: %w", err)
	}
	return nil
}

// Closed reports transport termination.
func (c *conn) Closed() <-chan struct{} { return c.closed }

// Close terminates the connection cleanly.
func (c *conn) Close() error {
	c.closeOnce.Do(func() {
		// Ask Deepgram to flush pending audio before the socket goes away.
		_ = c.ws.Write(context.Background(), websocket.MessageText, []byte(`{"type":"CloseStream"}`))
		c.markClosed()
		c.ws.Close(websocket.StatusNormalClosure, "connection closed")
		c.wg.Wait()
	})
	return nil
}

// writeLoop reads from the audio channel and sends binary messages to Deepgram.
func (c *conn) writeLoop() {
	defer c.wg.Done()
	for {
		select {
		case frame := <-c.audio:
			if err := c.ws.Write(context.Background(), websocket.MessageBinary, frame); err != nil {
				return
			}
		case <-c.closed:
			// Drain buffered audio before exiting.
			for {
				select {
				case frame := <-c.audio:
					_ = c.ws.Write(context.Background(), websocket.MessageBinary, frame)
				default:
					return
				}
			}
		}
	}
}

// readLoop receives JSON messages from Deepgram and dispatches them as events.
// When the socket drops (provider close, network fault, or local Close) the
// closed channel is signalled so owners can react.
func (c *conn) readLoop() {
	defer c.wg.Done()
	defer close(c.events)
	defer c.markClosed()

	for {
		_, msg, err := c.ws.Read(context.Background())
		if err != nil {
			return
		}

		ev, ok := parseMessage(msg)
		if !ok {
			continue
		}

		select {
		case c.events <- ev:
		case <-c.closed:
			return
		}
	}
}

// parseMessage parses a raw Deepgram WebSocket message into an Event.
// Returns (Event, true) on success, or (zero, false) if the message should be
// ignored.
func parseMessage(data []byte) (stt.Event, bool) {
	var msg deepgramMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return stt.Event{}, false
	}

	switch msg.Type {
	case "SpeechStarted":
		return stt.Event{Type: stt.EventSpeechStarted}, true

	case "UtteranceEnd":
		return stt.Event{Type: stt.EventSpeechEnded}, true

	case "Results":
		if len(msg.Channel.Alternatives) == 0 {
			return stt.Event{}, false
		}
		alt := msg.Channel.Alternatives[0]
		return stt.Event{
			Type: stt.EventTranscript,
			Transcript: types.Transcript{
				Text:       alt.Transcript,
				IsFinal:    msg.IsFinal,
				Confidence: alt.Confidence,
			},
		}, true
	}

	return stt.Event{}, false
}
