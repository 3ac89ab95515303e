// Package eventbus carries flow lifecycle events over Watermill topics.
package eventbus

import (
	"context"

	"github.com/dukex/flowpilot/pkg/events"
)

type EventPublisher interface {
	Publish(ctx context.Context, channel events.Channel, event events.Event) error
}

type EventSubscriber interface {
	// Subscribe streams events published on channel until ctx is done.
	Subscribe(ctx context.Context, channel events.Channel) (<-chan events.Event, error)
}

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
}
