package messaging

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/zap"
)

// Runnable is a consumer with a start/stop lifecycle.
type Runnable interface {
	Start(ctx context.Context) error
	Shutdown() error
}

// topical is implemented by consumers bound to one topic.
type topical interface {
	Topic() string
}

// ConsumerGroup starts its consumers together and owns the subscriber they
// share. Consumers stop in reverse start order before the subscriber closes.
type ConsumerGroup struct {
	consumers  []Runnable
	subscriber message.Subscriber
	logger     *zap.Logger
}

// NewConsumerGroup creates an empty group on subscriber.
func NewConsumerGroup(subscriber message.Subscriber, logger *zap.Logger) *ConsumerGroup {
	return &ConsumerGroup{
		subscriber: subscriber,
		logger:     logger,
	}
}

func (g *ConsumerGroup) Add(consumer Runnable) {
	g.consumers = append(g.consumers, consumer)
}

// Start starts every consumer. If one fails, the ones already running are
// stopped and the error names the failing topic.
func (g *ConsumerGroup) Start(ctx context.Context) error {
	for i, consumer := range g.consumers {
		if err := consumer.Start(ctx); err != nil {
			for _, started := range slices.Backward(g.consumers[:i]) {
				_ = started.Shutdown()
			}

			return fmt.Errorf("start consumer %s: %w", describe(consumer, i), err)
		}
	}

	g.logger.Info("consumer group started", zap.Strings("topics", g.topics()))

	return nil
}

// Shutdown stops every consumer and closes the subscriber, joining all errors.
func (g *ConsumerGroup) Shutdown() error {
	g.logger.Info("shutting down consumer group")

	var errs []error

	for i, consumer := range slices.Backward(g.consumers) {
		if err := consumer.Shutdown(); err != nil {
			errs = append(errs, fmt.Errorf("stop consumer %s: %w", describe(consumer, i), err))
		}
	}

	if err := g.subscriber.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close subscriber: %w", err))
	}

	return errors.Join(errs...)
}

func (g *ConsumerGroup) topics() []string {
	topics := make([]string, 0, len(g.consumers))

	for i, consumer := range g.consumers {
		topics = append(topics, describe(consumer, i))
	}

	return topics
}

func describe(consumer Runnable, i int) string {
	if t, ok := consumer.(topical); ok {
		return t.Topic()
	}

	return fmt.Sprintf("#%d", i)
}
