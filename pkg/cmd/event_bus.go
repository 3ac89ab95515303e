package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/flowpilot/pkg/channels/gochannel"
	"github.com/dukex/flowpilot/pkg/channels/kafka"
	"github.com/dukex/flowpilot/pkg/eventbus"
)

// NewEventBus creates the lifecycle event bus. serviceName names the Kafka consumer group,
// so every service that must see every event needs its own name.
func NewEventBus(logger *slog.Logger, provider, brokers, serviceName string) eventbus.EventBus {
	wmLogger := watermill.NewSlogLogger(logger)

	switch provider {
	case "kafka":
		pub, sub, err := kafka.CreateChannel(wmLogger, kafka.ParseBrokers(brokers), serviceName)
		if err != nil {
			panic(fmt.Errorf("failed to create Kafka pub/sub: %w", err))
		}

		return eventbus.NewWatermillEventBus(logger, pub, sub)
	case "gochannel", "":
		pub, sub, err := gochannel.CreateChannel(wmLogger)
		if err != nil {
			panic(fmt.Errorf("failed to create in-process pub/sub: %w", err))
		}

		return eventbus.NewWatermillEventBus(logger, pub, sub)
	default:
		panic("Unsupported event bus provider: " + provider)
	}
}
