package notifier

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"go.uber.org/zap"
	"treasury/apps/treasury/internal/events"
	"treasury/apps/treasury/internal/model"
	"treasury/apps/treasury/internal/repository"
)

// Notifier drains the event outbox to Kafka with delivery confirmation.
// Treasury operations never block on it; an unreachable broker just leaves
// rows unsent for the next sweep.
type Notifier struct {
	logger     *zap.Logger
	producer   *kafka.Producer
	topic      string
	repository *repository.OutboxRepository
	mu         sync.Mutex
}

func NewNotifier(kafkaBroker, kafkaTopic string, logger *zap.Logger, repository *repository.OutboxRepository) (*Notifier, error) {
	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": kafkaBroker,
		"acks":              "all",
		"retries":           3,
		"retry.backoff.ms":  100,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	return &Notifier{
		logger:     logger,
		producer:   producer,
		topic:      kafkaTopic,
		repository: repository,
	}, nil
}

// StartPublishing sweeps the outbox on a fixed interval until Close.
func (n *Notifier) StartPublishing() {
	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		if err := n.publishUnsent(); err != nil {
			n.logger.Error("Error publishing events to Kafka", zap.Error(err))
		}
	}
}

func (n *Notifier) publishUnsent() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	unsent, err := n.repository.ListUnsent(100)
	if err != nil {
		return err
	}

	successCount := 0
	for _, event := range unsent {
		if err := n.publishEvent(event); err != nil {
			n.logger.Error("Failed to publish event to Kafka",
				zap.Int64("id", event.ID),
				zap.String("event_type", event.EventType),
				zap.Error(err))
			// Row stays unsent and is retried on the next sweep.
			continue
		}
		if err := n.repository.MarkSent(event.ID); err != nil {
			n.logger.Error("Failed to mark event as sent",
				zap.Int64("id", event.ID),
				zap.Error(err))
		} else {
			successCount++
		}
	}

	if successCount > 0 {
		n.logger.Info("Published events to Kafka",
			zap.Int("success_count", successCount),
			zap.Int("attempted", len(unsent)))
	}
	return nil
}

func (n *Notifier) publishEvent(event model.OutboxEvent) error {
	envelope := events.TreasuryEvent{
		EventType: event.EventType,
		Payload:   event.Payload,
		CreatedAt: event.CreatedAt,
		Timestamp: time.Now().UTC(),
	}
	msgBytes, err := json.Marshal(envelope)
	if err != nil {
		return err
	}

	deliveryChan := make(chan kafka.Event)
	defer close(deliveryChan)

	err = n.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &n.topic, Partition: kafka.PartitionAny},
		Key:            []byte(event.EventType),
		Value:          msgBytes,
	}, deliveryChan)
	if err != nil {
		return err
	}

	e := <-deliveryChan
	switch ev := e.(type) {
	case *kafka.Message:
		if ev.TopicPartition.Error != nil {
			return ev.TopicPartition.Error
		}
		return nil
	default:
		return fmt.Errorf("unexpected kafka event type: %T", e)
	}
}

func (n *Notifier) Close() error {
	if n.producer != nil {
		n.producer.Close()
	}
	return nil
}
