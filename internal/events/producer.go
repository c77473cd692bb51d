// Package events publishes chat events to Kafka for downstream consumers
// such as notifications.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"

	"github.com/taskboard/taskchat/internal/domain"
)

const TypeMessageCreated = "message.created"

type Event struct {
	Type       string         `json:"type"`
	ChatID     domain.ChatID  `json:"chatId"`
	Message    domain.Message `json:"message"`
	OccurredAt int64          `json:"occurredAt"`
}

// Publisher is what the chat service emits to.
type Publisher interface {
	MessageCreated(ctx context.Context, chatID domain.ChatID, m domain.Message) error
	Close()
}

type kgoRecordCarrier struct {
	record *kgo.Record
}

func (c kgoRecordCarrier) Get(key string) string {
	for _, h := range c.record.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c kgoRecordCarrier) Set(key string, value string) {
	c.record.Headers = append(c.record.Headers, kgo.RecordHeader{Key: key, Value: []byte(value)})
}

func (c kgoRecordCarrier) Keys() []string {
	keys := make([]string, 0, len(c.record.Headers))
	for _, h := range c.record.Headers {
		keys = append(keys, h.Key)
	}
	return keys
}

type Producer struct {
	client *kgo.Client
	topic  string
}

func NewProducer(brokers []string, topic string) (*Producer, error) {
	cl, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerLinger(5*time.Millisecond),
	)
	if err != nil {
		return nil, err
	}
	return &Producer{client: cl, topic: topic}, nil
}

func (p *Producer) MessageCreated(ctx context.Context, chatID domain.ChatID, m domain.Message) error {
	value, err := json.Marshal(Event{
		Type:       TypeMessageCreated,
		ChatID:     chatID,
		Message:    m,
		OccurredAt: time.Now().UnixMilli(),
	})
	if err != nil {
		return err
	}
	rec := &kgo.Record{Topic: p.topic, Key: []byte(chatID), Value: value}
	otel.GetTextMapPropagator().Inject(ctx, kgoRecordCarrier{record: rec})
	return p.client.ProduceSync(ctx, rec).FirstErr()
}

// Ping checks that at least one broker answers.
func (p *Producer) Ping(ctx context.Context) error {
	return p.client.Ping(ctx)
}

func (p *Producer) Close() {
	if p.client != nil {
		p.client.Close()
	}
}

// Nop drops every event. It is used when no brokers are configured.
type Nop struct{}

func (Nop) MessageCreated(ctx context.Context, chatID domain.ChatID, m domain.Message) error {
	return nil
}

func (Nop) Close() {}
