package events

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

const (
	TypeOrderCreated  = "order.created"
	TypeOrderPaid     = "order.paid"
	TypeOrderFailed   = "order.failed"
	TypeOrderRefunded = "order.refunded"
)

// OrderEvent is published after an order state change has been committed.
type OrderEvent struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	OrderID       uint      `json:"order_id"`
	OrderNumber   string    `json:"order_number"`
	UserID        uint      `json:"user_id"`
	Status        string    `json:"status"`
	Gateway       string    `json:"gateway,omitempty"`
	TransactionID string    `json:"transaction_id,omitempty"`
	Amount        string    `json:"amount"`
	Currency      string    `json:"currency"`
	Reason        string    `json:"reason,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// NewOrderEvent stamps an event with a fresh id consumers can deduplicate on.
func NewOrderEvent(eventType string, occurredAt time.Time) OrderEvent {
	return OrderEvent{ID: uuid.NewString(), Type: eventType, OccurredAt: occurredAt}
}

// Publisher delivers order events to downstream consumers such as the
// receipt mailer. Publishing is best effort and never undoes a committed order.
type Publisher interface {
	PublishOrder(ctx context.Context, event OrderEvent) error
	Close() error
}

// KafkaPublisher writes order events to a Kafka topic keyed by order id.
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireOne,
			WriteTimeout: 10 * time.Second,
		},
	}
}

func (k *KafkaPublisher) PublishOrder(ctx context.Context, event OrderEvent) error {
	msg, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatUint(uint64(event.OrderID), 10)),
		Value: msg,
		Time:  event.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(event.ID)},
			{Key: "event_type", Value: []byte(event.Type)},
		},
	})
}

func (k *KafkaPublisher) Close() error {
	return k.writer.Close()
}

// NopPublisher drops events. It is used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) PublishOrder(_ context.Context, event OrderEvent) error {
	log.Debugf("[Events] Dropping %s for order %d, no broker configured", event.Type, event.OrderID)
	return nil
}

func (NopPublisher) Close() error { return nil }

// Recorder keeps published events in memory. Tests use it to assert on side effects.
type Recorder struct {
	mu     sync.Mutex
	events []OrderEvent
}

func (r *Recorder) PublishOrder(_ context.Context, event OrderEvent) error {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
	return nil
}

func (r *Recorder) Close() error { return nil }

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []OrderEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]OrderEvent(nil), r.events...)
}

// Types returns the recorded event types in order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}
