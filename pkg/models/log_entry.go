package models

import "time"

// ActorType identifies who caused a logged transition.
type ActorType string

const (
	ActorSystem ActorType = "system"
	ActorUser   ActorType = "user"
	ActorAI     ActorType = "ai"
)

// LogType classifies audit log entries.
type LogType string

const (
	LogFlowCreated      LogType = "flow_created"
	LogFlowStarted      LogType = "flow_started"
	LogFlowCompleted    LogType = "flow_completed"
	LogFlowFailed       LogType = "flow_failed"
	LogFlowCancelled    LogType = "flow_cancelled"
	LogFlowPaused       LogType = "flow_paused"
	LogFlowResumed      LogType = "flow_resumed"
	LogFlowRetried      LogType = "flow_retried"
	LogStepStarted      LogType = "step_started"
	LogStepCompleted    LogType = "step_completed"
	LogStepFailed       LogType = "step_failed"
	LogStepRetrying     LogType = "step_retrying"
	LogStepSkipped      LogType = "step_skipped"
	LogStepInserted     LogType = "step_inserted"
	LogStepDeleted      LogType = "step_deleted"
	LogAwaitingUser     LogType = "awaiting_user"
	LogUserResponded    LogType = "user_responded"
	LogParamCorrected   LogType = "param_corrected"
	LogAmbiguityRaised  LogType = "ambiguity_raised"
	LogDecisionRecorded LogType = "decision_recorded"
)

// LogEntry is a write-once audit record of a flow or step transition.
type LogEntry struct {
	ID        string         `json:"id"`
	FlowID    string         `json:"flow_id"`
	StepID    *string        `json:"step_id,omitempty"`
	LogType   LogType        `json:"log_type"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	ActorType ActorType      `json:"actor_type"`
	CreatedAt time.Time      `json:"created_at"`
}
