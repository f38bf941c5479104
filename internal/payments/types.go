package payments

import (
	"time"

	"github.com/google/uuid"
)

// Candidate is a linked patient with overdue invoices, aggregated.
type Candidate struct {
	PatientID    uuid.UUID `json:"patient_id"`
	FullName     string    `json:"full_name"`
	StatusKey    string    `json:"status_key"`
	BalanceCents int64     `json:"balance_cents"`
	DaysOverdue  int       `json:"days_overdue"`
}

// Decision is a selected rule applied to a candidate.
type Decision struct {
	Candidate Candidate
	Rule      Rule
	Severity  Severity
	RunID     string
}

// Outcome reports what applying a decision changed.
type Outcome struct {
	IssueID       uuid.UUID
	IssueCreated  bool
	StatusChanged bool
}

// Issue is one detected payment problem.
type Issue struct {
	IssueID           uuid.UUID  `json:"issue_id"`
	PatientID         uuid.UUID  `json:"patient_id"`
	IssueType         string     `json:"issue_type"`
	Severity          Severity   `json:"severity"`
	AmountOwedCents   int64      `json:"amount_owed_cents"`
	DaysOverdue       int        `json:"days_overdue"`
	PreviousStatusKey string     `json:"previous_status_key"`
	TargetStatusKey   string     `json:"target_status_key"`
	AutoUpdated       bool       `json:"auto_updated"`
	CreatedAt         time.Time  `json:"created_at"`
	ResolvedAt        *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy        string     `json:"resolved_by,omitempty"`
	ResolutionNotes   string     `json:"resolution_notes,omitempty"`
}
