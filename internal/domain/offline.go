package domain

import (
	"encoding/json"
	"time"
)

// ActionType names a kind of queued offline mutation.
type ActionType string

const (
	ActionCreateRequest     ActionType = "create_request"
	ActionUpdateRequest     ActionType = "update_request"
	ActionTransition        ActionType = "transition_request"
	ActionApplyTrainer      ActionType = "apply_trainer"
	ActionRejectApplication ActionType = "reject_application"
	ActionSendMessage       ActionType = "send_message"
	ActionUpdateProfile     ActionType = "update_profile"
	ActionCreateEvent       ActionType = "create_event"
	ActionFinalizeSelection ActionType = "finalize_selection"
)

// DefaultMaxRetries is the attempt budget of a queued action.
const DefaultMaxRetries = 3

// OfflineAction is a mutation recorded while disconnected.
type OfflineAction struct {
	ID         string          `json:"id"`
	Type       ActionType      `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	RetryCount int             `json:"retry_count"`
	MaxRetries int             `json:"max_retries"`
	LastError  string          `json:"last_error,omitempty"`
}

// Exhausted reports whether the action has used its retry budget.
func (a OfflineAction) Exhausted() bool {
	return a.RetryCount >= a.MaxRetries
}
