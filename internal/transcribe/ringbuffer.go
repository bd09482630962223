package transcribe

// frameRing is a fixed-capacity ring buffer of audio frames used while the
// session is reconnecting. When full, pushing drops the oldest frame: stale
// audio at the front of an utterance degrades transcription less than losing
// its tail.
//
// frameRing is not safe for concurrent use; the session guards it with its
// own mutex.
type frameRing struct {
	frames [][]byte
	start  int
	count  int
}

func newFrameRing(capacity int) *frameRing {
	if capacity <= 0 {
		capacity = 1
	}
	return &frameRing{frames: make([][]byte, capacity)}
}

// push copies frame into the ring. It reports whether an older frame was
// dropped to make room. The copy matters: telephony callers reuse their frame
// buffers between reads.
func (r *frameRing) push(frame []byte) (dropped bool) {
	buf := make([]byte, len(frame))
	copy(buf, frame)

	if r.count == len(r.frames) {
		r.frames[r.start] = buf
		r.start = (r.start + 1) % len(r.frames)
		return true
	}
	r.frames[(r.start+r.count)%len(r.frames)] = buf
	r.count++
	return false
}

// drain removes and returns all buffered frames in arrival order.
func (r *frameRing) drain() [][]byte {
	if r.count == 0 {
		return nil
	}
	out := make([][]byte, 0, r.count)
	for i := 0; i < r.count; i++ {
		idx := (r.start + i) % len(r.frames)
		out = append(out, r.frames[idx])
		r.frames[idx] = nil
	}
	r.start = 0
	r.count = 0
	return out
}

// requeue reinserts previously drained frames at the front of the ring, ahead
// of anything buffered since the drain, so arrival order is preserved. When
// the combined total exceeds capacity the oldest requeued frames are dropped,
// matching push's drop-oldest policy. Returns the number dropped. The frames
// are already owned copies; requeue does not copy again.
func (r *frameRing) requeue(frames [][]byte) (dropped int) {
	capacity := len(r.frames)
	if overflow := len(frames) + r.count - capacity; overflow > 0 {
		dropped = overflow
		frames = frames[overflow:]
	}
	for i := len(frames) - 1; i >= 0; i-- {
		r.start = (r.start - 1 + capacity) % capacity
		r.frames[r.start] = frames[i]
		r.count++
	}
	return dropped
}

func (r *frameRing) len() int { return r.count }
