// Package events defines the flow lifecycle events broadcast to user and flow channels.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dukex/flowpilot/pkg/models"
	"github.com/google/uuid"
)

type EventType string

// Topics. A message's key metadata carries the user or flow id the subscriber filters on.
const (
	UserTopic = "flowpilot.events.user"
	FlowTopic = "flowpilot.events.flow"
)

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	StepCompletedEvent     EventType = "flow.step_completed"
	UserInputRequiredEvent EventType = "flow.user_input_required"
	FlowCompletedEvent     EventType = "flow.completed"
)

var ErrUnknownEventType = errors.New("unknown event type")

// Event is any payload published on the bus.
type Event interface {
	GetType() EventType
	GetFlowID() string
}

// Channel is a logical broadcast channel: a topic plus the key subscribers filter on.
type Channel struct {
	Topic string
	Key   string
}

func UserChannel(userID string) Channel {
	return Channel{Topic: UserTopic, Key: userID}
}

func FlowChannel(flowID string) Channel {
	return Channel{Topic: FlowTopic, Key: flowID}
}

func (c Channel) String() string {
	return c.Topic + "/" + c.Key
}

type BaseEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	FlowID    string    `json:"flow_id"`
	TenantID  string    `json:"tenant_id"`
	UserID    string    `json:"user_id"`
}

func newBase(eventType EventType, flow *models.Flow) BaseEvent {
	return BaseEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		FlowID:    flow.ID,
		TenantID:  flow.TenantID,
		UserID:    flow.UserID,
	}
}

func (b BaseEvent) GetFlowID() string {
	return b.FlowID
}

// FlowSnapshot carries enough of the flow to render progress without a follow-up read.
type FlowSnapshot struct {
	ID             string            `json:"id"`
	Title          string            `json:"title"`
	Status         models.FlowStatus `json:"status"`
	CurrentStepID  *string           `json:"current_step_id,omitempty"`
	TotalSteps     int               `json:"total_steps"`
	CompletedSteps int               `json:"completed_steps"`
	LastError      string            `json:"last_error,omitempty"`
	Suggestions    []string          `json:"suggestions,omitempty"`
}

func NewFlowSnapshot(flow *models.Flow) FlowSnapshot {
	return FlowSnapshot{
		ID:             flow.ID,
		Title:          flow.Title,
		Status:         flow.Status,
		CurrentStepID:  flow.CurrentStepID,
		TotalSteps:     flow.TotalSteps,
		CompletedSteps: flow.CompletedSteps,
		LastError:      flow.LastError,
		Suggestions:    flow.Suggestions,
	}
}

type StepSnapshot struct {
	ID            string                `json:"id"`
	Position      int                   `json:"position"`
	Type          models.StepType       `json:"step_type"`
	Name          string                `json:"name,omitempty"`
	Status        models.StepStatus     `json:"status"`
	Result        any                   `json:"result,omitempty"`
	PromptType    models.PromptType     `json:"prompt_type,omitempty"`
	PromptMessage string                `json:"prompt_message,omitempty"`
	PromptOptions []models.PromptOption `json:"prompt_options,omitempty"`
}

func NewStepSnapshot(step *models.Step) StepSnapshot {
	return StepSnapshot{
		ID:            step.ID,
		Position:      step.Position,
		Type:          step.Type,
		Name:          step.Name,
		Status:        step.Status,
		Result:        step.Result,
		PromptType:    step.PromptType,
		PromptMessage: step.PromptMessage,
		PromptOptions: step.PromptOptions,
	}
}

type StepCompleted struct {
	BaseEvent

	Flow FlowSnapshot `json:"flow"`
	Step StepSnapshot `json:"step"`
}

func (e StepCompleted) GetType() EventType {
	return StepCompletedEvent
}

func NewStepCompleted(flow *models.Flow, step *models.Step) *StepCompleted {
	return &StepCompleted{
		BaseEvent: newBase(StepCompletedEvent, flow),
		Flow:      NewFlowSnapshot(flow),
		Step:      NewStepSnapshot(step),
	}
}

// UserInputRequired announces a suspension; Step holds the prompt to render.
type UserInputRequired struct {
	BaseEvent

	Flow FlowSnapshot `json:"flow"`
	Step StepSnapshot `json:"step"`
}

func (e UserInputRequired) GetType() EventType {
	return UserInputRequiredEvent
}

func NewUserInputRequired(flow *models.Flow, step *models.Step) *UserInputRequired {
	return &UserInputRequired{
		BaseEvent: newBase(UserInputRequiredEvent, flow),
		Flow:      NewFlowSnapshot(flow),
		Step:      NewStepSnapshot(step),
	}
}

type FlowCompleted struct {
	BaseEvent

	Flow FlowSnapshot `json:"flow"`
}

func (e FlowCompleted) GetType() EventType {
	return FlowCompletedEvent
}

func NewFlowCompleted(flow *models.Flow) *FlowCompleted {
	return &FlowCompleted{
		BaseEvent: newBase(FlowCompletedEvent, flow),
		Flow:      NewFlowSnapshot(flow),
	}
}

// Decode rebuilds a typed event from its wire payload.
func Decode(eventType EventType, payload []byte) (Event, error) {
	var event Event

	switch eventType {
	case StepCompletedEvent:
		event = &StepCompleted{}
	case UserInputRequiredEvent:
		event = &UserInputRequired{}
	case FlowCompletedEvent:
		event = &FlowCompleted{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, eventType)
	}

	err := json.Unmarshal(payload, event)
	if err != nil {
		return nil, err
	}

	return event, nil
}
