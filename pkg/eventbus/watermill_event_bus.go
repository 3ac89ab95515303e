package eventbus

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dukex/flowpilot/pkg/events"
)

const subscriptionBuffer = 64

type WatermillEventBus struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	logger     *slog.Logger
}

func NewWatermillEventBus(logger *slog.Logger, pub message.Publisher, sub message.Subscriber) *WatermillEventBus {
	return &WatermillEventBus{
		publisher:  pub,
		subscriber: sub,
		logger:     logger.With("module", "watermill_event_bus"),
	}
}

func (eb *WatermillEventBus) Publish(_ context.Context, channel events.Channel, event events.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := message.NewMessage("msg-"+watermill.NewULID(), payload)
	msg.Metadata.Set(events.EventMetadataKey, channel.Key)
	msg.Metadata.Set(events.EventTypeMetadataKey, string(event.GetType()))

	return eb.publisher.Publish(channel.Topic, msg)
}

func (eb *WatermillEventBus) Subscribe(ctx context.Context, channel events.Channel) (<-chan events.Event, error) {
	messages, err := eb.subscriber.Subscribe(ctx, channel.Topic)
	if err != nil {
		return nil, err
	}

	out := make(chan events.Event, subscriptionBuffer)

	go func() {
		defer close(out)

		for msg := range messages {
			if msg.Metadata.Get(events.EventMetadataKey) != channel.Key {
				msg.Ack()

				continue
			}

			eventType := events.EventType(msg.Metadata.Get(events.EventTypeMetadataKey))

			event, err := events.Decode(eventType, msg.Payload)
			if err != nil {
				eb.logger.WarnContext(ctx, "Dropping undecodable event", "message_id", msg.UUID, "event_type", eventType, "error", err)
				msg.Ack()

				continue
			}

			select {
			case out <- event:
				msg.Ack()
			case <-ctx.Done():
				msg.Nack()

				return
			}
		}
	}()

	return out, nil
}

func (eb *WatermillEventBus) Close() error {
	err := eb.publisher.Close()
	if err != nil {
		return err
	}

	return eb.subscriber.Close()
}
