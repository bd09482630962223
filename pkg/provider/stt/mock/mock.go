// Package mock provides test doubles for the stt package interfaces.
//
// Use Provider to verify that callers dial with the expected StreamConfig and
// to inject scripted Conn instances. Use Conn to feed controlled Event values
// and inspect which audio frames were delivered.
package mock

import (
	"context"
	"sync"

	"github.com/voxline-ai/voxline/pkg/provider/stt"
)

// DialCall records a single invocation of Provider.Dial.
type DialCall struct {
	// Cfg is the StreamConfig passed to Dial.
	Cfg stt.StreamConfig
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// ProviderName is returned by Name. Defaults to "mock".
	ProviderName string

	// Conn is returned by Dial. If nil, Dial returns a new default Conn.
	Conn stt.Conn

	// DialErr, if non-nil, is returned as the error from Dial. When DialErrs
	// is non-empty it takes precedence: each Dial pops the next entry (nil
	// entries mean success), letting tests script failure sequences.
	DialErr  error
	DialErrs []error

	// DialFunc, if non-nil, replaces the default Dial behaviour entirely.
	DialFunc func(ctx context.Context, cfg stt.StreamConfig) (stt.Conn, error)

	// DialCalls records every call to Dial.
	DialCalls []DialCall
}

// Name implements stt.Provider.
func (p *Provider) Name() string {
	if p.ProviderName == "" {
		return "mock"
	}
	return p.ProviderName
}

// Dial records the call and returns the scripted Conn or error.
func (p *Provider) Dial(ctx context.Context, cfg stt.StreamConfig) (stt.Conn, error) {
	p.mu.Lock()
	p.DialCalls = append(p.DialCalls, DialCall{Cfg: cfg})

	if p.DialFunc != nil {
		fn := p.DialFunc
		p.mu.Unlock()
		return fn(ctx, cfg)
	}

	if len(p.DialErrs) > 0 {
		err := p.DialErrs[0]
		p.DialErrs = p.DialErrs[1:]
		p.mu.Unlock()
		if err != nil {
			return nil, err
		}
		return p.dialConn(), nil
	}

	err := p.DialErr
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return p.dialConn(), nil
}

func (p *Provider) dialConn() stt.Conn {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Conn != nil {
		return p.Conn
	}
	return NewConn()
}

// Dials reports the number of recorded Dial calls. Thread-safe.
func (p *Provider) Dials() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.DialCalls)
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)

// Conn is a scripted implementation of stt.Conn for tests.
type Conn struct {
	mu sync.Mutex

	// EventsCh is the channel returned by Events.
	EventsCh chan stt.Event

	// SendErr, if non-nil, is returned by SendAudio.
	SendErr error

	// PingErr, if non-nil, is returned by Ping.
	PingErr error

	// Frames records every frame passed to SendAudio, in order.
	Frames [][]byte

	// Pings counts Ping invocations.
	Pings int

	closed    chan struct{}
	closeOnce sync.Once
}

// NewConn returns a Conn with buffered channels, ready for use.
func NewConn() *Conn {
	return &Conn{
		EventsCh: make(chan stt.Event, 16),
		closed:   make(chan struct{}),
	}
}

// SendAudio records the frame.
func (c *Conn) SendAudio(_ context.Context, frame []byte) error {
	select {
	case <-c.closed:
		return stt.ErrConnClosed
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SendErr != nil {
		return c.SendErr
	}
	cp := make([]byte, len(frame))
	copy(cp, frame)
	c.Frames = append(c.Frames, cp)
	return nil
}

// Events implements stt.Conn.
func (c *Conn) Events() <-chan stt.Event { return c.EventsCh }

// Ping implements stt.Conn.
func (c *Conn) Ping(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Pings++
	return c.PingErr
}

// Closed implements stt.Conn.
func (c *Conn) Closed() <-chan struct{} { return c.closed }

// Close implements stt.Conn. Safe to call multiple times.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		close(c.EventsCh)
	})
	return nil
}

// Drop simulates the provider tearing down the transport without a local
// Close call (network fault, provider-side idle timeout).
func (c *Conn) Drop() {
	c.closeOnce.Do(func() {
		close(c.closed)
		close(c.EventsCh)
	})
}

// PingCount reports the number of Ping invocations. Thread-safe.
func (c *Conn) PingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Pings
}

// SentFrames returns a snapshot of all recorded audio frames.
func (c *Conn) SentFrames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.Frames))
	copy(out, c.Frames)
	return out
}

// Ensure Conn implements stt.Conn at compile time.
var _ stt.Conn = (*Conn)(nil)
