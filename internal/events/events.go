// Package events publishes appointment lifecycle events after the booking
// transaction that produced them has committed.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

type Type string

const (
	AppointmentBooked    Type = "appointment.booked"
	AppointmentCancelled Type = "appointment.cancelled"

	HeaderEventType = "event-type"
)

type Event struct {
	Type          Type      `json:"type"`
	AppointmentID string    `json:"appointment_id"`
	SlotID        string    `json:"slot_id"`
	UserID        string    `json:"user_id"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Publisher delivers events. Failures never undo the committed change; callers
// only log them.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Nop is used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error {
	return nil
}

func (Nop) Close() error {
	return nil
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events to one topic keyed by slot id, so every event
// for a slot lands on the same partition in commit order.
type KafkaPublisher struct {
	w messageWriter
}

// NewKafkaPublisher builds an async writer; delivery errors are reported
// through logger.
func NewKafkaPublisher(brokers []string, topic string, logger *slog.Logger) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("at least one broker is required")
	}
	if topic == "" {
		return nil, fmt.Errorf("topic cannot be empty")
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  5,
		BatchTimeout: 50 * time.Millisecond,
		Async:        true,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				logger.Error("publish events", "count", len(msgs), "error", err)
			}
		},
		Logger:      kafka.LoggerFunc(func(string, ...any) {}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...any) { logger.Warn(fmt.Sprintf(msg, args...)) }),
	}
	return &KafkaPublisher{w: w}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	msg, err := message(e)
	if err != nil {
		return err
	}
	return p.w.WriteMessages(ctx, msg)
}

// Close flushes pending messages.
func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}

func message(e Event) (kafka.Message, error) {
	value, err := json.Marshal(e)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode event: %w", err)
	}
	return kafka.Message{
		Key:   []byte(e.SlotID),
		Value: value,
		Time:  e.OccurredAt,
		Headers: []kafka.Header{
			{Key: HeaderEventType, Value: []byte(e.Type)},
		},
	}, nil
}
