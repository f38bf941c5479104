package events

import "time"

// Event types written to the outbox.
const (
	TypePatientHeld     = "patient.status_held.v1"
	TypePatientRestored = "patient.status_restored.v1"
	TypeSyncCompleted   = "sync.run_completed.v1"
)

// PatientStatusChangedV1 is emitted when a payment decision moves a
// patient into or out of a hold status.
type PatientStatusChangedV1 struct {
	EventID        string    `json:"event_id"`
	PatientID      string    `json:"patient_id"`
	IssueID        string    `json:"issue_id,omitempty"`
	PreviousStatus string    `json:"previous_status"`
	NewStatus      string    `json:"new_status"`
	BalanceCents   int64     `json:"balance_cents"`
	DaysOverdue    int       `json:"days_overdue"`
	Severity       string    `json:"severity,omitempty"`
	Actor          string    `json:"actor"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// SyncRunCompletedV1 summarizes a finished run.
type SyncRunCompletedV1 struct {
	EventID       string    `json:"event_id"`
	RunID         string    `json:"run_id"`
	State         string    `json:"state"`
	Processed     int       `json:"processed"`
	Updated       int       `json:"updated"`
	Failed        int       `json:"failed"`
	IssuesCreated int       `json:"issues_created"`
	CompletedAt   time.Time `json:"completed_at"`
}
