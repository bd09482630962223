package synth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/voxline-ai/voxline/internal/pool"
	"github.com/voxline-ai/voxline/pkg/provider/tts"
	"github.com/voxline-ai/voxline/pkg/provider/tts/mock"
)

func newTestPool(p *mock.Provider) *pool.Pool[tts.Conn] {
	return pool.New(pool.Config{Name: "tts/mock", Max: 8}, func(ctx context.Context) (tts.Conn, error) {
		return p.Dial(ctx, tts.VoiceConfig{VoiceID: "test-voice", OutputFormat: "ulaw_8000"})
	})
}

func TestSpeakSendsWithCallContext(t *testing.T) {
	conn := mock.NewConn()
	p := &mock.Provider{Conn: conn}
	s := NewSession(Config{Pool: newTestPool(p), CallID: "call-7"})
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer s.Disconnect()

	if err := s.SpeakChunk(context.Background(), "One moment, ", true); err != nil {
		t.Fatalf("SpeakChunk: %v", err)
	}
	if err := s.Speak(context.Background(), "let me check."); err != nil {
		t.Fatalf("Speak: %v", err)
	}

	sent := conn.SentTexts()
	if len(sent) != 2 {
		t.Fatalf("sent %d fragments, want 2", len(sent))
	}
	if sent[0].ContextID != "call-7-g0" || !sent[0].More {
		t.Errorf("first fragment = %+v, want context call-7-g0 with more=true", sent[0])
	}
	if sent[1].More {
		t.Error("final fragment sent with more=true, provider will never flush")
	}
	if sent[0].ContextID != sent[1].ContextID {
		t.Errorf("fragments used different contexts: %q vs %q",
			sent[0].ContextID, sent[1].ContextID)
	}
}

func TestTextQueuedUntilConnected(t *testing.T) {
	conn := mock.NewConn()
	p := &mock.Provider{Conn: conn}
	s := NewSession(Config{Pool: newTestPool(p), CallID: "call-1"})

	// Submitted before Connect: must queue, not fail.
	if err := s.Speak(context.Background(), "Hello!"); err != nil {
		t.Fatalf("Speak before Connect: %v", err)
	}
	if err := s.Speak(context.Background(), "How can I help?"); err != nil {
		t.Fatalf("Speak before Connect: %v", err)
	}
	if len(conn.SentTexts()) != 0 {
		t.Fatal("text reached provider before Connect")
	}

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer s.Disconnect()

	sent := conn.SentTexts()
	if len(sent) != 2 {
		t.Fatalf("flushed %d fragments, want 2", len(sent))
	}
	if sent[0].Text != "Hello!" || sent[1].Text != "How can I help?" {
		t.Errorf("flush order = %q, %q", sent[0].Text, sent[1].Text)
	}
}

func TestAudioForwardedImmediately(t *testing.T) {
	conn := mock.NewConn()
	p := &mock.Provider{Conn: conn}
	s := NewSession(Config{Pool: newTestPool(p), CallID: "call-1"})
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer s.Disconnect()

	conn.AudioCh <- tts.Chunk{ContextID: "call-1-g0", Audio: []byte{0xAA}}

	select {
	case chunk := <-s.Audio():
		if len(chunk.Audio) != 1 || chunk.Audio[0] != 0xAA {
			t.Errorf("chunk = %+v", chunk)
		}
	case <-time.After(time.Second):
		t.Fatal("audio chunk was not forwarded")
	}
}

func TestCancelDiscardsInFlightAudio(t *testing.T) {
	conn := mock.NewConn()
	p := &mock.Provider{Conn: conn}
	s := NewSession(Config{Pool: newTestPool(p), CallID: "call-1"})
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer s.Disconnect()

	if err := s.Speak(context.Background(), "The weather today is"); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	s.Cancel() // caller barged in

	// Provider audio for the superseded generation arrives late.
	conn.AudioCh <- tts.Chunk{ContextID: "call-1-g0", Audio: []byte("stale")}

	// New generation speaks and its audio flows through.
	if err := s.Speak(context.Background(), "Sure, cancelling that."); err != nil {
		t.Fatalf("Speak after Cancel: %v", err)
	}
	sent := conn.SentTexts()
	if got := sent[len(sent)-1].ContextID; got != "call-1-g1" {
		t.Errorf("post-cancel context = %q, want call-1-g1", got)
	}
	conn.AudioCh <- tts.Chunk{ContextID: "call-1-g1", Audio: []byte("fresh")}

	select {
	case chunk := <-s.Audio():
		if string(chunk.Audio) != "fresh" {
			t.Errorf("forwarded %q, want the post-cancel chunk only", chunk.Audio)
		}
	case <-time.After(time.Second):
		t.Fatal("post-cancel audio was not forwarded")
	}
}

func TestCancelDropsQueuedText(t *testing.T) {
	conn := mock.NewConn()
	p := &mock.Provider{Conn: conn}
	s := NewSession(Config{Pool: newTestPool(p), CallID: "call-1"})

	if err := s.Speak(context.Background(), "never said"); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	s.Cancel()

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer s.Disconnect()

	if got := len(conn.SentTexts()); got != 0 {
		t.Errorf("provider received %d cancelled fragments, want 0", got)
	}
}

func TestDisconnectIsIdempotent(t *testing.T) {
	conn := mock.NewConn()
	p := &mock.Provider{Conn: conn}
	pl := newTestPool(p)
	s := NewSession(Config{Pool: pl, CallID: "call-1"})
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	s.Disconnect()
	s.Disconnect()

	if err := s.Speak(context.Background(), "too late"); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Speak after Disconnect: err = %v, want ErrSessionClosed", err)
	}
	if st := pl.Stats(); st.Idle != 1 || st.CheckedOut != 0 {
		t.Errorf("pool stats after Disconnect = %+v, want 1 idle / 0 checked out", st)
	}

	// Audio channel drains and closes.
	deadline := time.After(time.Second)
	for {
		select {
		case _, open := <-s.Audio():
			if !open {
				return
			}
		case <-deadline:
			t.Fatal("audio channel not closed after Disconnect")
		}
	}
}

func TestSendFailureRequeuesText(t *testing.T) {
	conn := mock.NewConn()
	p := &mock.Provider{Conn: conn}
	pl := newTestPool(p)
	s := NewSession(Config{Pool: pl, CallID: "call-1"})
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	conn.SendErr = errors.New("websocket: close 1011")
	if err := s.Speak(context.Background(), "are you still there?"); err != nil {
		t.Fatalf("Speak on broken conn: %v", err)
	}
	if s.Connected() {
		t.Error("session still reports a connection after a send failure")
	}

	// Re-connecting flushes the requeued fragment to the fresh connection.
	conn2 := mock.NewConn()
	p.Conn = conn2
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("re-Connect: %v", err)
	}
	defer s.Disconnect()

	sent := conn2.SentTexts()
	if len(sent) != 1 || sent[0].Text != "are you still there?" {
		t.Errorf("requeued flush = %+v, want the failed fragment", sent)
	}
}

func TestConnectFlushFailureRequeuesText(t *testing.T) {
	conn := mock.NewConn()
	conn.SendErr = errors.New("websocket: close 1006")
	p := &mock.Provider{Conn: conn}
	pl := newTestPool(p)
	s := NewSession(Config{Pool: pl, CallID: "call-1"})

	if err := s.Speak(context.Background(), "Hello!"); err != nil {
		t.Fatalf("Speak before Connect: %v", err)
	}
	if err := s.Speak(context.Background(), "How can I help?"); err != nil {
		t.Fatalf("Speak before Connect: %v", err)
	}

	if err := s.Connect(context.Background()); err == nil {
		t.Fatal("Connect succeeded despite the flush failing")
	}
	if s.Connected() {
		t.Error("session still reports a connection after a failed flush")
	}
	if st := pl.Stats(); st.CheckedOut != 0 {
		t.Errorf("pool stats after failed flush = %+v, want 0 checked out", st)
	}

	// Re-connecting flushes the surviving queue in submission order.
	conn2 := mock.NewConn()
	p.Conn = conn2
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("re-Connect: %v", err)
	}
	defer s.Disconnect()

	sent := conn2.SentTexts()
	if len(sent) != 2 || sent[0].Text != "Hello!" || sent[1].Text != "How can I help?" {
		t.Errorf("requeued flush = %+v, want both fragments in order", sent)
	}
}

func TestFirstAudioLatencyReportedOncePerReply(t *testing.T) {
	conn := mock.NewConn()
	p := &mock.Provider{Conn: conn}
	reports := make(chan time.Duration, 4)
	s := NewSession(Config{
		Pool:         newTestPool(p),
		CallID:       "call-1",
		OnFirstAudio: func(d time.Duration) { reports <- d },
	})
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer s.Disconnect()

	if err := s.Speak(context.Background(), "Hi there."); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	conn.AudioCh <- tts.Chunk{ContextID: "call-1-g0", Audio: []byte{1}}
	conn.AudioCh <- tts.Chunk{ContextID: "call-1-g0", Audio: []byte{2}}
	<-s.Audio()
	<-s.Audio()

	select {
	case d := <-reports:
		if d < 0 {
			t.Errorf("elapsed = %v, want non-negative", d)
		}
	case <-time.After(time.Second):
		t.Fatal("first audio chunk was never reported")
	}
	select {
	case <-reports:
		t.Fatal("later chunk of the same reply reported again")
	default:
	}
}

func TestFirstAudioNotReportedForCancelledReply(t *testing.T) {
	conn := mock.NewConn()
	p := &mock.Provider{Conn: conn}
	reports := make(chan time.Duration, 4)
	s := NewSession(Config{
		Pool:         newTestPool(p),
		CallID:       "call-1",
		OnFirstAudio: func(d time.Duration) { reports <- d },
	})
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer s.Disconnect()

	if err := s.Speak(context.Background(), "The weather today is"); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	s.Cancel()

	// Stale audio for the superseded generation, then the new reply.
	conn.AudioCh <- tts.Chunk{ContextID: "call-1-g0", Audio: []byte("stale")}
	if err := s.Speak(context.Background(), "Sure, cancelling that."); err != nil {
		t.Fatalf("Speak after Cancel: %v", err)
	}
	conn.AudioCh <- tts.Chunk{ContextID: "call-1-g1", Audio: []byte("fresh")}
	<-s.Audio() // the forwarder has processed both chunks once this returns

	if got := len(reports); got != 1 {
		t.Errorf("reported %d first-audio latencies, want 1 for the live reply only", got)
	}
}
