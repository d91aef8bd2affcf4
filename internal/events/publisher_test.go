package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notepad-sync/internal/domain"
)

func TestOperationPublisher_PublishApplied(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "notepad.operations" {
			return errors.New("unexpected topic " + msg.Topic)
		}
		key, err := msg.Key.Encode()
		if err != nil {
			return err
		}
		if string(key) != "shared" {
			return errors.New("unexpected key " + string(key))
		}

		value, err := msg.Value.Encode()
		if err != nil {
			return err
		}
		var applied domain.AppliedOperation
		if err := json.Unmarshal(value, &applied); err != nil {
			return err
		}
		if applied.Operation.SequenceNumber != 7 || applied.Operation.Content != "Hi" {
			return errors.New("unexpected payload")
		}
		return nil
	})

	pub := NewOperationPublisher(producer, "notepad.operations")
	err := pub.PublishApplied(context.Background(), &domain.AppliedOperation{
		NoteID: "shared",
		Operation: domain.Operation{
			Type:           domain.OperationInsert,
			Content:        "Hi",
			Length:         2,
			SequenceNumber: 7,
		},
		AppliedAt: time.Now(),
	})

	require.NoError(t, err)
	require.NoError(t, pub.Close())
}

func TestOperationPublisher_SendFailure(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	pub := NewOperationPublisher(producer, "notepad.operations")
	err := pub.PublishApplied(context.Background(), &domain.AppliedOperation{
		NoteID:    "shared",
		Operation: domain.Operation{Type: domain.OperationDelete, SequenceNumber: 3},
	})

	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, pub.Close())
}
