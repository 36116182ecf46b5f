package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderdesk/internal/domain"
)

const (
	defaultReplayLimit       = 100
	defaultReplayIdleTimeout = 2 * time.Second
)

// ErrNotDeadLetter означает, что сообщение в DLQ не похоже на упавшее outbox-событие.
var ErrNotDeadLetter = errors.New("message is not an outbox dead letter")

// OffsetReader отдаёт границы партиций topic. Реализуется sarama.Client.
type OffsetReader interface {
	GetOffset(topic string, partition int32, time int64) (int64, error)
	Partitions(topic string) ([]int32, error)
}

// PartitionReader читает одну партицию.
type PartitionReader interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

// PartitionSource открывает чтение партиции с заданного offset.
type PartitionSource interface {
	ConsumePartition(topic string, partition int32, offset int64) (PartitionReader, error)
}

// SaramaPartitionSource адаптирует sarama.Consumer к PartitionSource.
type SaramaPartitionSource struct {
	Consumer sarama.Consumer
}

// ConsumePartition реализует PartitionSource.
func (s SaramaPartitionSource) ConsumePartition(topic string, partition int32, offset int64) (PartitionReader, error) {
	pc, err := s.Consumer.ConsumePartition(topic, partition, offset)
	if err != nil {
		return nil, err
	}
	return pc, nil
}

// ReplayConfig ограничивает проход по DLQ.
type ReplayConfig struct {
	SourceTopic string
	// Limit - максимум сообщений, просматриваемых за запуск.
	Limit int
	// FromNewest начинает с последних Limit сообщений каждой партиции.
	FromNewest  bool
	IdleTimeout time.Duration
}

// ReplayStats - итог прохода по DLQ.
type ReplayStats struct {
	Processed int
	Replayed  int
	Skipped   int
}

func (s *ReplayStats) add(other ReplayStats) {
	s.Processed += other.Processed
	s.Replayed += other.Replayed
	s.Skipped += other.Skipped
}

// DLQReplayer возвращает события заказов из DLQ в основной topic.
// Без publisher работает в режиме dry-run и только логирует кандидатов.
type DLQReplayer struct {
	offsets   OffsetReader
	source    PartitionSource
	publisher domain.OutboxPublisher
	logger    *log.Entry
}

// NewDLQReplayer создаёт replayer. publisher может быть nil.
func NewDLQReplayer(offsets OffsetReader, source PartitionSource, publisher domain.OutboxPublisher, logger *log.Entry) *DLQReplayer {
	if logger == nil {
		logger = log.WithField("component", "dlq-replay")
	}
	return &DLQReplayer{
		offsets:   offsets,
		source:    source,
		publisher: publisher,
		logger:    logger,
	}
}

// Run просматривает партиции SourceTopic по возрастанию номера, пока не
// наберёт Limit сообщений или не дойдёт до конца каждой партиции.
func (r *DLQReplayer) Run(ctx context.Context, cfg ReplayConfig) (ReplayStats, error) {
	var total ReplayStats
	if r.offsets == nil || r.source == nil {
		return total, errors.New("kafka offset reader and partition source are required")
	}
	if strings.TrimSpace(cfg.SourceTopic) == "" {
		cfg.SourceTopic = TopicDeadLetterQueue
	}
	if cfg.Limit <= 0 {
		cfg.Limit = defaultReplayLimit
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultReplayIdleTimeout
	}

	partitions, err := r.offsets.Partitions(cfg.SourceTopic)
	if err != nil {
		return total, fmt.Errorf("get partitions for topic %s: %w", cfg.SourceTopic, err)
	}
	if len(partitions) == 0 {
		r.logger.WithField("topic", cfg.SourceTopic).Warn("dlq topic has no partitions")
		return total, nil
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	for _, partition := range partitions {
		if total.Processed >= cfg.Limit {
			break
		}
		stats, err := r.replayPartition(ctx, cfg, partition, cfg.Limit-total.Processed)
		total.add(stats)
		if err != nil {
			return total, err
		}
	}

	mode := "execute"
	if r.publisher == nil {
		mode = "dry-run"
	}
	r.logger.WithFields(log.Fields{
		"mode":      mode,
		"processed": total.Processed,
		"replayed":  total.Replayed,
		"skipped":   total.Skipped,
	}).Info("dlq replay finished")
	return total, nil
}

func (r *DLQReplayer) replayPartition(ctx context.Context, cfg ReplayConfig, partition int32, limit int) (ReplayStats, error) {
	var stats ReplayStats

	oldest, err := r.offsets.GetOffset(cfg.SourceTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return stats, fmt.Errorf("get oldest offset for partition %d: %w", partition, err)
	}
	newest, err := r.offsets.GetOffset(cfg.SourceTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return stats, fmt.Errorf("get newest offset for partition %d: %w", partition, err)
	}
	if newest <= oldest {
		return stats, nil
	}

	start := oldest
	if cfg.FromNewest {
		start = max(newest-int64(limit), oldest)
	}

	reader, err := r.source.ConsumePartition(cfg.SourceTopic, partition, start)
	if err != nil {
		return stats, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = reader.Close() }()

	idle := time.NewTimer(cfg.IdleTimeout)
	defer idle.Stop()

	for stats.Processed < limit {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case consumeErr := <-reader.Errors():
			if consumeErr != nil {
				return stats, fmt.Errorf("partition %d consumer error: %w", partition, consumeErr)
			}
		case <-idle.C:
			return stats, nil
		case msg, ok := <-reader.Messages():
			if !ok || msg == nil || msg.Offset >= newest {
				return stats, nil
			}
			idle.Reset(cfg.IdleTimeout)

			stats.Processed++
			err := r.replayOne(ctx, msg)
			switch {
			case err == nil:
				stats.Replayed++
			case errors.Is(err, ErrNotDeadLetter):
				stats.Skipped++
				r.logger.WithError(err).WithFields(log.Fields{
					"partition": msg.Partition,
					"offset":    msg.Offset,
				}).Warn("skip unsupported dlq message")
			default:
				return stats, err
			}

			if msg.Offset+1 >= newest {
				return stats, nil
			}
		}
	}
	return stats, nil
}

func (r *DLQReplayer) replayOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	event, err := DecodeDeadLetter(msg.Value)
	if err != nil {
		return err
	}

	entry := r.logger.WithFields(log.Fields{
		"partition":  msg.Partition,
		"offset":     msg.Offset,
		"outbox_id":  event.ID,
		"event_type": event.EventType,
	})
	if r.publisher == nil {
		entry.Info("dlq replay candidate")
		return nil
	}
	if err := r.publisher.Publish(ctx, event); err != nil {
		return fmt.Errorf("republish outbox message %s: %w", event.ID, err)
	}
	entry.Debug("dlq message replayed")
	return nil
}

// DecodeDeadLetter восстанавливает исходное outbox-сообщение из значения,
// которое outbox worker записал в DLQ.
func DecodeDeadLetter(value []byte) (domain.OutboxMessage, error) {
	var envelope OutboxEnvelope
	if err := json.Unmarshal(value, &envelope); err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("%w: %v", ErrNotDeadLetter, err)
	}
	if len(envelope.Payload) == 0 {
		return domain.OutboxMessage{}, fmt.Errorf("%w: empty envelope payload", ErrNotDeadLetter)
	}

	var letter DeadLetter
	if err := json.Unmarshal(envelope.Payload, &letter); err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("%w: %v", ErrNotDeadLetter, err)
	}
	if len(letter.Payload) == 0 {
		return domain.OutboxMessage{}, fmt.Errorf("%w: original event payload is missing", ErrNotDeadLetter)
	}

	return domain.OutboxMessage{
		ID:            firstNonEmpty(letter.OutboxID, envelope.ID),
		AggregateType: firstNonEmpty(letter.AggregateType, envelope.AggregateType),
		AggregateID:   firstNonEmpty(letter.AggregateID, envelope.AggregateID),
		EventType:     firstNonEmpty(letter.EventType, envelope.EventType),
		Payload:       []byte(letter.Payload),
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
