// Package events streams applied operations to Kafka for audit and downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"

	"notepad-sync/internal/domain"
)

// NewSyncProducer connects a producer that waits for the local broker ack.
func NewSyncProducer(brokers []string) (sarama.SyncProducer, error) {
	cfg := sarama.NewConfig()
	// SyncProducer requires Return.Successes
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForLocal

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect kafka: %w", err)
	}
	return producer, nil
}

type OperationPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

func NewOperationPublisher(producer sarama.SyncProducer, topic string) *OperationPublisher {
	return &OperationPublisher{
		producer: producer,
		topic:    topic,
	}
}

// PublishApplied sends one applied operation keyed by note id, so a note's operations
// stay in one partition and keep their order.
func (p *OperationPublisher) PublishApplied(ctx context.Context, applied *domain.AppliedOperation) error {
	b, err := json.Marshal(applied)
	if err != nil {
		return fmt.Errorf("failed to encode applied operation: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(applied.NoteID),
		Value: sarama.ByteEncoder(b),
	}

	if _, _, err := p.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("failed to publish operation %d of note %s: %w", applied.Operation.SequenceNumber, applied.NoteID, err)
	}
	return nil
}

func (p *OperationPublisher) Close() error {
	return p.producer.Close()
}
