package messaging_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
	"github.com/serroba/nillion-storage-api/internal/audit"
	"github.com/serroba/nillion-storage-api/internal/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockSubscriber struct {
	msgChan      chan *message.Message
	subscribeErr error
	mu           sync.Mutex
	closed       bool
}

func newMockSubscriber() *mockSubscriber {
	return &mockSubscriber{
		msgChan: make(chan *message.Message, 10),
	}
}

func (m *mockSubscriber) Subscribe(_ context.Context, _ string) (<-chan *message.Message, error) {
	if m.subscribeErr != nil {
		return nil, m.subscribeErr
	}

	return m.msgChan, nil
}

func (m *mockSubscriber) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.closed {
		m.closed = true
		close(m.msgChan)
	}

	return nil
}

func operationMessage(t *testing.T, event audit.OperationEvent) *message.Message {
	t.Helper()

	payload, err := json.Marshal(event)
	require.NoError(t, err)

	return message.NewMessage(uuid.NewString(), payload)
}

func noopHandler(_ context.Context, _ *audit.OperationEvent) error {
	return nil
}

func TestConsumer_Start(t *testing.T) {
	t.Run("subscribes to its topic", func(t *testing.T) {
		consumer := messaging.NewConsumer(newMockSubscriber(), audit.TopicSecretOperation, noopHandler, zap.NewNop())

		require.NoError(t, consumer.Start(context.Background()))
		assert.Equal(t, audit.TopicSecretOperation, consumer.Topic())

		require.NoError(t, consumer.Shutdown())
	})

	t.Run("returns the subscribe error", func(t *testing.T) {
		sub := &mockSubscriber{subscribeErr: errors.New("stream unavailable")}
		consumer := messaging.NewConsumer(sub, audit.TopicSecretOperation, noopHandler, zap.NewNop())

		assert.Error(t, consumer.Start(context.Background()))
	})

	t.Run("shutdown before start is a no-op", func(t *testing.T) {
		consumer := messaging.NewConsumer(newMockSubscriber(), audit.TopicSecretOperation, noopHandler, zap.NewNop())

		assert.NoError(t, consumer.Shutdown())
	})
}

func TestConsumer_HandleMessage(t *testing.T) {
	t.Run("acks once the event is handled", func(t *testing.T) {
		sub := newMockSubscriber()
		received := make(chan *audit.OperationEvent, 1)

		consumer := messaging.NewConsumer(sub, audit.TopicSecretOperation,
			func(_ context.Context, event *audit.OperationEvent) error {
				received <- event

				return nil
			},
			zap.NewNop(),
		)
		require.NoError(t, consumer.Start(context.Background()))

		defer func() { _ = consumer.Shutdown() }()

		msg := operationMessage(t, audit.OperationEvent{
			OperationID: "op-1",
			Kind:        "store_values",
			Status:      "committed",
			StoreID:     "store-1",
		})
		sub.msgChan <- msg

		select {
		case <-msg.Acked():
		case <-msg.Nacked():
			t.Fatal("message was nacked")
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for ack")
		}

		event := <-received
		assert.Equal(t, "op-1", event.OperationID)
		assert.Equal(t, "committed", event.Status)
		assert.Equal(t, "store-1", event.StoreID)
	})

	t.Run("nacks a payload that is not an event", func(t *testing.T) {
		sub := newMockSubscriber()
		consumer := messaging.NewConsumer(sub, audit.TopicSecretOperation, noopHandler, zap.NewNop())
		require.NoError(t, consumer.Start(context.Background()))

		defer func() { _ = consumer.Shutdown() }()

		msg := message.NewMessage(uuid.NewString(), []byte("invalid json"))
		sub.msgChan <- msg

		select {
		case <-msg.Nacked():
		case <-msg.Acked():
			t.Fatal("message should have been nacked")
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for nack")
		}
	})

	t.Run("nacks when the handler fails", func(t *testing.T) {
		sub := newMockSubscriber()
		consumer := messaging.NewConsumer(sub, audit.TopicSecretOperation,
			func(_ context.Context, _ *audit.OperationEvent) error {
				return errors.New("audit table missing")
			},
			zap.NewNop(),
		)
		require.NoError(t, consumer.Start(context.Background()))

		defer func() { _ = consumer.Shutdown() }()

		msg := operationMessage(t, audit.OperationEvent{OperationID: "op-2"})
		sub.msgChan <- msg

		select {
		case <-msg.Nacked():
		case <-msg.Acked():
			t.Fatal("message should have been nacked")
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for nack")
		}
	})
}

func TestPublishAndConsume_InProcess(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, messaging.NewZapLogger(zap.NewNop()))
	received := make(chan *audit.OperationEvent, 1)

	consumer := messaging.NewConsumer(pubSub, audit.TopicSecretOperation,
		func(_ context.Context, event *audit.OperationEvent) error {
			received <- event

			return nil
		},
		zap.NewNop(),
	)

	group := messaging.NewConsumerGroup(pubSub, zap.NewNop())
	group.Add(consumer)
	require.NoError(t, group.Start(context.Background()))

	defer func() { _ = group.Shutdown() }()

	publish := messaging.NewPublishFunc[audit.OperationEvent](pubSub, audit.TopicSecretOperation)

	require.NoError(t, publish(context.Background(), &audit.OperationEvent{
		OperationID: "op-3",
		Kind:        "retrieve_value",
		Status:      "committed",
		TxHash:      "ABC",
	}))

	select {
	case event := <-received:
		assert.Equal(t, "op-3", event.OperationID)
		assert.Equal(t, "ABC", event.TxHash)
	case <-time.After(2 * time.Second):
		t.Fatal("event was not delivered")
	}
}
