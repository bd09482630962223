// Package events publishes session lifecycle and conversation events to
// Kafka for downstream consumers (analytics, CRM sync, audit).
//
// Publishing is best-effort and never on the turn's critical path: a nil or
// disabled Publisher accepts events and drops them, so callers publish
// unconditionally.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// Event types emitted by the orchestrator.
const (
	TypeSessionStarted  = "session_started"
	TypeSessionEnded    = "session_ended"
	TypeTurnCompleted   = "turn_completed"
	TypeBookingCreated  = "booking_created"
	TypeOrderCreated    = "order_created"
	TypeCallTransferred = "call_transferred"
)

// Event is the envelope written to the events topic. Key ordering is per
// session: all events for one session land on the same partition.
type Event struct {
	Type      string    `json:"type"`
	TenantID  string    `json:"tenant_id"`
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// Config holds Kafka publisher settings.
type Config struct {
	// Brokers lists the Kafka bootstrap addresses. Empty disables publishing.
	Brokers []string

	// Topic is the events topic. Defaults to "voxline.events".
	Topic string

	// WriteTimeout bounds a single produce call. Defaults to 10 seconds.
	WriteTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Topic == "" {
		c.Topic = "voxline.events"
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	return c
}

// messageWriter is the slice of kafka.Writer the publisher uses. A seam for
// tests.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

var _ messageWriter = (*kafka.Writer)(nil)

// Publisher writes events to a Kafka topic. The zero/nil Publisher is a
// no-op, so wiring stays unconditional even when Kafka is not configured.
type Publisher struct {
	writer  messageWriter
	topic   string
	enabled bool
}

// NewPublisher creates a Publisher. With no brokers configured it returns a
// disabled publisher that drops events.
func NewPublisher(cfg Config) *Publisher {
	cfg = cfg.withDefaults()

	if len(cfg.Brokers) == 0 {
		slog.Info("events: kafka not configured, publishing disabled")
		return &Publisher{topic: cfg.Topic}
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequireOne,
	}

	slog.Info("events: kafka publisher initialized",
		"brokers", cfg.Brokers, "topic", cfg.Topic)

	return &Publisher{writer: writer, topic: cfg.Topic, enabled: true}
}

// Publish writes one event, stamping the timestamp if unset. It returns an
// error only for enabled publishers; disabled and nil publishers drop the
// event silently.
func (p *Publisher) Publish(ctx context.Context, ev Event) error {
	if p == nil || !p.enabled {
		return nil
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("events: marshal %s: %w", ev.Type, err)
	}

	msg := kafka.Message{
		Key:   []byte(ev.SessionID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(ev.Type)},
			{Key: "tenantID", Value: []byte(ev.TenantID)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		slog.Error("events: publish failed",
			"type", ev.Type, "session_id", ev.SessionID, "error", err)
		return fmt.Errorf("events: publish %s: %w", ev.Type, err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
