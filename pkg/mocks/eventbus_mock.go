package mocks

import (
	"context"

	"github.com/dukex/flowpilot/pkg/events"
	"github.com/stretchr/testify/mock"
)

// MockEventBus is a mock implementation of eventbus.EventBus interface.
type MockEventBus struct {
	mock.Mock
}

func (m *MockEventBus) Publish(ctx context.Context, channel events.Channel, event events.Event) error {
	args := m.Called(ctx, channel, event)

	return args.Error(0)
}

func (m *MockEventBus) Subscribe(ctx context.Context, channel events.Channel) (<-chan events.Event, error) {
	args := m.Called(ctx, channel)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(<-chan events.Event), args.Error(1)
}

func (m *MockEventBus) Close() error {
	args := m.Called()

	return args.Error(0)
}
