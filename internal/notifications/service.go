package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"mediapub/internal/config"
)

// Event enumerates the published lifecycle events.
type Event string

const (
	EventPackageReady       Event = "package.ready"
	EventPackagePublished   Event = "package.published"
	EventPackageUnpublished Event = "package.unpublished"
	EventPackageFailed      Event = "package.failed"
	EventPackageRemoved     Event = "package.removed"
)

// Payload carries event fields. The "id" key, when present, keys the message.
type Payload map[string]any

// Service defines the notification surface exposed to workflow components.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// NewService builds a Kafka-backed service when brokers are configured.
// Otherwise a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	brokers := make([]string, 0, len(cfg.Notifications.Brokers))
	for _, b := range cfg.Notifications.Brokers {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	if len(brokers) == 0 || strings.TrimSpace(cfg.Notifications.Topic) == "" {
		return noopService{}
	}
	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &kafkaService{
		writer: &kafkago.Writer{
			Addr:         kafkago.TCP(brokers...),
			Topic:        cfg.Notifications.Topic,
			Balancer:     &kafkago.Hash{},
			RequiredAcks: kafkago.RequireOne,
			WriteTimeout: timeout,
			BatchTimeout: 50 * time.Millisecond,
		},
		timeout: timeout,
		now:     time.Now,
	}
}

type envelope struct {
	Event   Event     `json:"event"`
	Time    time.Time `json:"time"`
	Payload Payload   `json:"payload"`
}

type kafkaService struct {
	writer  messageWriter
	timeout time.Duration
	now     func() time.Time
}

func (k *kafkaService) Publish(ctx context.Context, event Event, payload Payload) error {
	at := k.now().UTC()
	value, err := json.Marshal(envelope{Event: event, Time: at, Payload: payload})
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event, err)
	}
	msg := kafkago.Message{
		Value: value,
		Time:  at,
		Headers: []kafkago.Header{
			{Key: "event", Value: []byte(event)},
		},
	}
	if id, ok := payload["id"].(string); ok && id != "" {
		msg.Key = []byte(id)
	}
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s event: %w", event, err)
	}
	return nil
}

func (k *kafkaService) Close() error {
	return k.writer.Close()
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
func (noopService) Close() error                                 { return nil }
