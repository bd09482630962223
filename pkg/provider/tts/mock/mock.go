// Package mock provides test doubles for the tts package interfaces.
package mock

import (
	"context"
	"sync"

	"github.com/voxline-ai/voxline/pkg/provider/tts"
)

// SentText records one SendText invocation on a Conn.
type SentText struct {
	ContextID string
	Text      string
	More      bool
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// ProviderName is returned by Name. Defaults to "mock".
	ProviderName string

	// Conn is returned by Dial. If nil, Dial returns a new default Conn.
	Conn tts.Conn

	// DialErr, if non-nil, is returned as the error from Dial.
	DialErr error

	// DialCalls counts Dial invocations.
	DialCalls int

	// Voices records the VoiceConfig of each Dial call.
	Voices []tts.VoiceConfig
}

// Name implements tts.Provider.
func (p *Provider) Name() string {
	if p.ProviderName == "" {
		return "mock"
	}
	return p.ProviderName
}

// Dial records the call and returns the scripted Conn or error.
func (p *Provider) Dial(_ context.Context, voice tts.VoiceConfig) (tts.Conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.DialCalls++
	p.Voices = append(p.Voices, voice)
	if p.DialErr != nil {
		return nil, p.DialErr
	}
	if p.Conn != nil {
		return p.Conn, nil
	}
	return NewConn(), nil
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)

// Conn is a scripted implementation of tts.Conn for tests.
type Conn struct {
	mu sync.Mutex

	// AudioCh is the channel returned by Audio. Tests push chunks into it to
	// simulate provider audio.
	AudioCh chan tts.Chunk

	// SendErr, if non-nil, is returned by SendText.
	SendErr error

	// Sent records every SendText invocation, in order.
	Sent []SentText

	closed    chan struct{}
	closeOnce sync.Once
}

// NewConn returns a Conn with buffered channels, ready for use.
func NewConn() *Conn {
	return &Conn{
		AudioCh: make(chan tts.Chunk, 16),
		closed:  make(chan struct{}),
	}
}

// SendText records the fragment.
func (c *Conn) SendText(_ context.Context, contextID, text string, more bool) error {
	select {
	case <-c.closed:
		return tts.ErrConnClosed
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SendErr != nil {
		return c.SendErr
	}
	c.Sent = append(c.Sent, SentText{ContextID: contextID, Text: text, More: more})
	return nil
}

// Audio implements tts.Conn.
func (c *Conn) Audio() <-chan tts.Chunk { return c.AudioCh }

// Closed implements tts.Conn.
func (c *Conn) Closed() <-chan struct{} { return c.closed }

// Close implements tts.Conn. Safe to call multiple times.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		close(c.AudioCh)
	})
	return nil
}

// SentTexts returns a snapshot of recorded SendText calls.
func (c *Conn) SentTexts() []SentText {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]SentText, len(c.Sent))
	copy(out, c.Sent)
	return out
}

// Ensure Conn implements tts.Conn at compile time.
var _ tts.Conn = (*Conn)(nil)
