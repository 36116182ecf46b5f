package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/orderdesk/internal/domain"
)

var errPublisherNotInitialized = errors.New("kafka outbox publisher is not initialized")

// OutboxTopicPublisher отправляет события заказов в один topic. Один экземпляр
// обслуживает основной поток, второй с DLQ-топиком получает исчерпавшие попытки.
type OutboxTopicPublisher struct {
	producer *Producer
	topic    string
	now      func() time.Time
}

// PublisherOption настраивает OutboxTopicPublisher.
type PublisherOption func(*OutboxTopicPublisher)

// WithPublishClock задаёт время для published_at.
func WithPublishClock(now func() time.Time) PublisherOption {
	return func(p *OutboxTopicPublisher) {
		if now != nil {
			p.now = now
		}
	}
}

// NewOutboxPublisher публикует в topic, пустой topic означает TopicOrderEvents.
func NewOutboxPublisher(producer *Producer, topic string, opts ...PublisherOption) *OutboxTopicPublisher {
	p := &OutboxTopicPublisher{
		producer: producer,
		topic:    firstNonEmpty(topic, TopicOrderEvents),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Topic возвращает topic назначения.
func (p *OutboxTopicPublisher) Topic() string {
	return p.topic
}

func (p *OutboxTopicPublisher) Publish(ctx context.Context, msg domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return errPublisherNotInitialized
	}

	value, err := encodeEnvelope(msg, p.now().UTC())
	if err != nil {
		return err
	}
	return p.producer.Publish(ctx, p.topic, partitionKey(msg), value, envelopeHeaders(msg))
}

// encodeEnvelope кладёт payload события в конверт без перекодирования.
func encodeEnvelope(msg domain.OutboxMessage, publishedAt time.Time) ([]byte, error) {
	if !json.Valid(msg.Payload) {
		return nil, fmt.Errorf("outbox message %s: payload is not valid json", msg.ID)
	}
	value, err := json.Marshal(OutboxEnvelope{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       json.RawMessage(msg.Payload),
		PublishedAt:   publishedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("encode envelope for %s: %w", msg.ID, err)
	}
	return value, nil
}

// partitionKey держит события одного заказа в одной партиции.
func partitionKey(msg domain.OutboxMessage) string {
	return firstNonEmpty(msg.AggregateID, msg.ID)
}

func envelopeHeaders(msg domain.OutboxMessage) map[string]string {
	return map[string]string{
		HeaderOutboxID:      msg.ID,
		HeaderEventType:     msg.EventType,
		HeaderAggregateType: msg.AggregateType,
	}
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
