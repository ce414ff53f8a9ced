package container

import (
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"
	"github.com/samber/do"
	"github.com/serroba/nillion-storage-api/internal/audit"
	"github.com/serroba/nillion-storage-api/internal/messaging"
	"go.uber.org/zap"
)

const auditConsumerGroup = "audit"

// PubSubPackage provides the event transport: Redis streams when Redis is
// configured, otherwise one in-process channel that is both publisher and
// subscriber.
func PubSubPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (watermill.LoggerAdapter, error) {
		return messaging.NewZapLogger(do.MustInvoke[*zap.Logger](i)), nil
	})

	do.Provide(injector, func(i *do.Injector) (*gochannel.GoChannel, error) {
		return gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64},
			do.MustInvoke[watermill.LoggerAdapter](i)), nil
	})

	do.Provide(injector, func(i *do.Injector) (message.Publisher, error) {
		client := do.MustInvoke[*redis.Client](i)
		if client == nil {
			return do.MustInvoke[*gochannel.GoChannel](i), nil
		}

		publisher, err := redisstream.NewPublisher(redisstream.PublisherConfig{
			Client: client,
		}, do.MustInvoke[watermill.LoggerAdapter](i))
		if err != nil {
			return nil, fmt.Errorf("redis stream publisher: %w", err)
		}

		return publisher, nil
	})

	do.Provide(injector, func(i *do.Injector) (message.Subscriber, error) {
		client := do.MustInvoke[*redis.Client](i)
		if client == nil {
			return do.MustInvoke[*gochannel.GoChannel](i), nil
		}

		subscriber, err := redisstream.NewSubscriber(redisstream.SubscriberConfig{
			Client:        client,
			ConsumerGroup: auditConsumerGroup,
		}, do.MustInvoke[watermill.LoggerAdapter](i))
		if err != nil {
			return nil, fmt.Errorf("redis stream subscriber: %w", err)
		}

		return subscriber, nil
	})
}

// PublisherGroupPackage provides the publisher lifecycle and the typed audit
// publish function.
func PublisherGroupPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (*messaging.PublisherGroup, error) {
		return messaging.NewPublisherGroup(do.MustInvoke[message.Publisher](i)), nil
	})

	do.Provide(injector, func(i *do.Injector) (messaging.Publish[audit.OperationEvent], error) {
		group := do.MustInvoke[*messaging.PublisherGroup](i)

		return messaging.NewPublishFunc[audit.OperationEvent](group.Publisher(), audit.TopicSecretOperation), nil
	})
}

// ConsumerGroupPackage provides the consumers that persist audit events.
func ConsumerGroupPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (*messaging.ConsumerGroup, error) {
		logger := do.MustInvoke[*zap.Logger](i)
		auditStore := do.MustInvoke[audit.Store](i)

		group := messaging.NewConsumerGroup(do.MustInvoke[message.Subscriber](i), logger)
		group.Add(messaging.NewConsumer[audit.OperationEvent](
			do.MustInvoke[message.Subscriber](i),
			audit.TopicSecretOperation,
			auditStore.SaveOperationEvent,
			logger,
		))

		return group, nil
	})
}
