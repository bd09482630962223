package pool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeConn is a minimal Conn for pool tests.
type fakeConn struct {
	id       int
	closed   chan struct{}
	closeMu  sync.Mutex
	isClosed bool
}

func newFakeConn(id int) *fakeConn {
	return &fakeConn{id: id, closed: make(chan struct{})}
}

func (c *fakeConn) Closed() <-chan struct{} { return c.closed }

func (c *fakeConn) Close() error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if !c.isClosed {
		c.isClosed = true
		close(c.closed)
	}
	return nil
}

// drop simulates the provider terminating the transport.
func (c *fakeConn) drop() { _ = c.Close() }

type countingDialer struct {
	mu    sync.Mutex
	next  int
	errs  []error
	conns []*fakeConn
}

func (d *countingDialer) dial(ctx context.Context) (*fakeConn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.errs) > 0 {
		err := d.errs[0]
		d.errs = d.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	d.next++
	c := newFakeConn(d.next)
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *countingDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.next
}

func TestAcquireReusesWarmConnection(t *testing.T) {
	d := &countingDialer{}
	p := New(Config{Name: "test", Min: 2, Max: 4}, d.dial)
	p.Warm(context.Background())

	if got := d.dialCount(); got != 2 {
		t.Fatalf("warm dials = %d, want 2", got)
	}

	c, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if got := d.dialCount(); got != 2 {
		t.Errorf("Acquire dialled a new connection with warm ones available (dials = %d)", got)
	}
	p.Release(c)

	st := p.Stats()
	if st.Idle != 2 || st.CheckedOut != 0 {
		t.Errorf("Stats = %+v, want 2 idle / 0 checked out", st)
	}
}

func TestAcquireNeverExceedsMax(t *testing.T) {
	d := &countingDialer{}
	p := New(Config{Name: "test", Max: 3}, d.dial)

	var conns []*fakeConn
	for i := 0; i < 3; i++ {
		c, err := p.Acquire(context.Background())
		if err != nil {
			t.Fatalf("Acquire %d: %v", i, err)
		}
		conns = append(conns, c)
	}

	if _, err := p.Acquire(context.Background()); !errors.Is(err, ErrPoolExhausted) {
		t.Fatalf("Acquire at capacity: err = %v, want ErrPoolExhausted", err)
	}
	if st := p.Stats(); st.CheckedOut != 3 {
		t.Errorf("CheckedOut = %d, want 3", st.CheckedOut)
	}

	// Releasing one frees a slot.
	p.Release(conns[0])
	if _, err := p.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
}

func TestAcquireNeverReturnsSameConnectionTwice(t *testing.T) {
	d := &countingDialer{}
	p := New(Config{Name: "test", Min: 4, Max: 16}, d.dial)
	p.Warm(context.Background())

	const workers = 16
	seen := make(chan *fakeConn, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := p.Acquire(context.Background())
			if err != nil {
				t.Errorf("Acquire: %v", err)
				return
			}
			seen <- c
		}()
	}
	wg.Wait()
	close(seen)

	ids := make(map[int]bool)
	for c := range seen {
		if ids[c.id] {
			t.Fatalf("connection %d handed out twice while checked out", c.id)
		}
		ids[c.id] = true
	}
}

func TestAcquireDialFailureIsExhausted(t *testing.T) {
	d := &countingDialer{errs: []error{errors.New("dial tcp: connection refused")}}
	p := New(Config{Name: "test", Max: 4}, d.dial)

	_, err := p.Acquire(context.Background())
	if !errors.Is(err, ErrPoolExhausted) {
		t.Fatalf("err = %v, want ErrPoolExhausted", err)
	}
	// The reserved slot must be returned on dial failure.
	if st := p.Stats(); st.CheckedOut != 0 {
		t.Errorf("CheckedOut = %d after failed dial, want 0", st.CheckedOut)
	}
}

func TestAcquireSkipsBrokenIdle(t *testing.T) {
	d := &countingDialer{}
	p := New(Config{Name: "test", Min: 2, Max: 4}, d.dial)
	p.Warm(context.Background())

	d.mu.Lock()
	for _, c := range d.conns {
		c.drop()
	}
	d.mu.Unlock()

	c, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if isBroken(c) {
		t.Error("Acquire returned a broken connection")
	}
	if got := d.dialCount(); got != 3 {
		t.Errorf("dials = %d, want 3 (2 warm + 1 replacement)", got)
	}
}

func TestReleaseClosesBrokenConnection(t *testing.T) {
	d := &countingDialer{}
	p := New(Config{Name: "test", Max: 4}, d.dial)

	c, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	c.drop()
	p.Release(c)

	if st := p.Stats(); st.Idle != 0 {
		t.Errorf("Idle = %d after releasing broken conn, want 0", st.Idle)
	}
}

func TestWarmToleratesDialFailure(t *testing.T) {
	d := &countingDialer{errs: []error{nil, errors.New("provider down")}}
	p := New(Config{Name: "test", Min: 3, Max: 4}, d.dial)
	p.Warm(context.Background())

	// First dial succeeded, second failed, warm stopped early.
	if st := p.Stats(); st.Idle != 1 {
		t.Errorf("Idle = %d, want 1", st.Idle)
	}
}

func TestSweepEvictsStaleAndBroken(t *testing.T) {
	d := &countingDialer{}
	p := New(Config{Name: "test", Min: 3, Max: 4, MaxIdle: 50 * time.Millisecond}, d.dial)
	p.Warm(context.Background())

	// Break one, age them all past MaxIdle.
	d.mu.Lock()
	d.conns[0].drop()
	d.mu.Unlock()
	time.Sleep(80 * time.Millisecond)

	p.Sweep()
	if st := p.Stats(); st.Idle != 0 {
		t.Errorf("Idle = %d after sweep, want 0", st.Idle)
	}
}

func TestSweepNeverTouchesCheckedOut(t *testing.T) {
	d := &countingDialer{}
	p := New(Config{Name: "test", Max: 4, MaxIdle: time.Nanosecond}, d.dial)

	c, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	p.Sweep()

	if isBroken(c) {
		t.Error("sweep closed a checked-out connection")
	}
	if st := p.Stats(); st.CheckedOut != 1 {
		t.Errorf("CheckedOut = %d, want 1", st.CheckedOut)
	}
}

func TestDiscardFreesSlot(t *testing.T) {
	d := &countingDialer{}
	p := New(Config{Name: "test", Max: 1}, d.dial)

	c, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	p.Discard(c)

	if !isBroken(c) {
		t.Error("Discard did not close the connection")
	}
	if _, err := p.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire after discard: %v", err)
	}
}

func TestCloseIdleDrainsPool(t *testing.T) {
	d := &countingDialer{}
	p := New(Config{Name: "test", Min: 2, Max: 4}, d.dial)
	p.Warm(context.Background())

	p.CloseIdle()
	if st := p.Stats(); st.Idle != 0 {
		t.Errorf("Idle = %d, want 0", st.Idle)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.conns {
		if !isBroken(c) {
			t.Errorf("connection %d left open after CloseIdle", c.id)
		}
	}
}
