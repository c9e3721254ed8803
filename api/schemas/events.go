package schemas

import "time"

// EventType enumerates the lifecycle events the engine emits to any
// presentation layer.
type EventType string

const (
	EventStateChanged         EventType = "STATE_CHANGED"
	EventStepStarted          EventType = "STEP_STARTED"
	EventStepCompleted        EventType = "STEP_COMPLETED"
	EventProgress             EventType = "PROGRESS"
	EventTaskCompleted        EventType = "TASK_COMPLETED"
	EventTaskFailed           EventType = "TASK_FAILED"
	EventAskUser              EventType = "ASK_USER"
	EventPlanGenerated        EventType = "PLAN_GENERATED"
	EventConfirmationRequired EventType = "CONFIRMATION_REQUIRED"
)

// Event is the envelope delivered to engine subscribers. Payload carries the
// type-specific value: a Plan for PLAN_GENERATED, a StepRecord for
// STEP_COMPLETED, an Action for CONFIRMATION_REQUIRED, and so on.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	Message   string      `json:"message,omitempty"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}
