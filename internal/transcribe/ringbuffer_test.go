package transcribe

import (
	"bytes"
	"fmt"
	"testing"
)

func TestFrameRingPreservesOrder(t *testing.T) {
	r := newFrameRing(4)
	for i := 0; i < 3; i++ {
		if dropped := r.push([]byte{byte(i)}); dropped {
			t.Errorf("push %d dropped with room available", i)
		}
	}

	frames := r.drain()
	if len(frames) != 3 {
		t.Fatalf("drained %d frames, want 3", len(frames))
	}
	for i, f := range frames {
		if f[0] != byte(i) {
			t.Errorf("frame %d = %v, want [%d]", i, f, i)
		}
	}
	if r.len() != 0 {
		t.Errorf("len after drain = %d, want 0", r.len())
	}
}

func TestFrameRingDropsOldestWhenFull(t *testing.T) {
	r := newFrameRing(3)
	for i := 0; i < 5; i++ {
		dropped := r.push([]byte{byte(i)})
		if i < 3 && dropped {
			t.Errorf("push %d dropped with room available", i)
		}
		if i >= 3 && !dropped {
			t.Errorf("push %d did not report a drop on a full ring", i)
		}
	}

	// Oldest two (0, 1) gone; 2, 3, 4 remain in arrival order.
	frames := r.drain()
	want := [][]byte{{2}, {3}, {4}}
	if len(frames) != len(want) {
		t.Fatalf("drained %d frames, want %d", len(frames), len(want))
	}
	for i := range want {
		if !bytes.Equal(frames[i], want[i]) {
			t.Errorf("frame %d = %v, want %v", i, frames[i], want[i])
		}
	}
}

func TestFrameRingCopiesFrames(t *testing.T) {
	r := newFrameRing(2)
	buf := []byte{1, 2, 3}
	r.push(buf)
	buf[0] = 99 // caller reuses its buffer

	frames := r.drain()
	if frames[0][0] != 1 {
		t.Error("ring stored a reference to the caller's buffer instead of a copy")
	}
}

func TestFrameRingWrapAround(t *testing.T) {
	r := newFrameRing(3)
	for round := 0; round < 3; round++ {
		for i := 0; i < 3; i++ {
			r.push([]byte(fmt.Sprintf("r%d-%d", round, i)))
		}
		frames := r.drain()
		for i, f := range frames {
			want := fmt.Sprintf("r%d-%d", round, i)
			if string(f) != want {
				t.Fatalf("round %d frame %d = %q, want %q", round, i, f, want)
			}
		}
	}
}

func TestFrameRingRequeueGoesAheadOfNewerFrames(t *testing.T) {
	r := newFrameRing(6)
	for i := 0; i < 3; i++ {
		r.push([]byte{byte(i)})
	}
	drained := r.drain()

	// Frames 3 and 4 arrive while the drained batch is being flushed.
	r.push([]byte{3})
	r.push([]byte{4})

	// The flush fails after delivering frame 0; 1 and 2 go back in front.
	if dropped := r.requeue(drained[1:]); dropped != 0 {
		t.Errorf("requeue dropped %d frames with room available", dropped)
	}

	frames := r.drain()
	want := [][]byte{{1}, {2}, {3}, {4}}
	if len(frames) != len(want) {
		t.Fatalf("drained %d frames, want %d", len(frames), len(want))
	}
	for i := range want {
		if !bytes.Equal(frames[i], want[i]) {
			t.Errorf("frame %d = %v, want %v", i, frames[i], want[i])
		}
	}
}

func TestFrameRingRequeueDropsOldestOnOverflow(t *testing.T) {
	r := newFrameRing(3)
	for i := 0; i < 3; i++ {
		r.push([]byte{byte(i)})
	}
	drained := r.drain()
	r.push([]byte{3})
	r.push([]byte{4})

	// Three requeued plus two buffered exceed capacity by two; the oldest
	// requeued frames give way.
	if dropped := r.requeue(drained); dropped != 2 {
		t.Fatalf("requeue dropped %d frames, want 2", dropped)
	}

	frames := r.drain()
	want := [][]byte{{2}, {3}, {4}}
	if len(frames) != len(want) {
		t.Fatalf("drained %d frames, want %d", len(frames), len(want))
	}
	for i := range want {
		if !bytes.Equal(frames[i], want[i]) {
			t.Errorf("frame %d = %v, want %v", i, frames[i], want[i])
		}
	}
}
