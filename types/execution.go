package types

import "time"

// ExecutionRecord is the audit trail of one transition call, kept by a
// storage collaborator.
type ExecutionRecord struct {
	ID         string            `json:"id"`
	GraphID    string            `json:"graph_id"`
	RecordID   string            `json:"record_id,omitempty"`
	FromStepID string            `json:"from_step_id"`
	ActionID   string            `json:"action_id"`
	ActorID    string            `json:"actor_id"`
	Result     *TransitionResult `json:"result"`
	CreatedAt  time.Time         `json:"created_at"`
}
