package eventbus

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dukex/flowpilot/pkg/events"
	"github.com/dukex/flowpilot/pkg/models"
)

// Publisher emits each lifecycle event to both the owner's user channel and the flow channel.
type Publisher struct {
	bus    EventPublisher
	logger *slog.Logger
}

func NewPublisher(logger *slog.Logger, bus EventPublisher) *Publisher {
	return &Publisher{
		bus:    bus,
		logger: logger.With("module", "event_publisher"),
	}
}

func (p *Publisher) StepCompleted(ctx context.Context, flow *models.Flow, step *models.Step) error {
	return p.publish(ctx, flow, events.NewStepCompleted(flow, step))
}

func (p *Publisher) UserInputRequired(ctx context.Context, flow *models.Flow, step *models.Step) error {
	return p.publish(ctx, flow, events.NewUserInputRequired(flow, step))
}

func (p *Publisher) FlowCompleted(ctx context.Context, flow *models.Flow) error {
	return p.publish(ctx, flow, events.NewFlowCompleted(flow))
}

func (p *Publisher) publish(ctx context.Context, flow *models.Flow, event events.Event) error {
	var errs []error

	for _, channel := range []events.Channel{events.UserChannel(flow.UserID), events.FlowChannel(flow.ID)} {
		err := p.bus.Publish(ctx, channel, event)
		if err != nil {
			p.logger.ErrorContext(ctx, "Failed to publish event",
				"event_type", event.GetType(), "channel", channel.String(), "flow_id", flow.ID, "error", err)
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
