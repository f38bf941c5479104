// Package pipeline runs the full reconciliation: billing mirror, package
// resolution, payment evaluation and CRM propagation, in that order.
package pipeline

import (
	"errors"
	"time"
)

// State is the orchestrator's position in a run.
type State string

const (
	StateRecurringSync    State = "recurring_sync"
	StateInvoiceSync      State = "invoice_sync"
	StateStatusEvaluation State = "status_evaluation"
	StateCrmPropagation   State = "crm_propagation"
	StateDone             State = "done"
	StateFailed           State = "failed"
)

// ErrRunInProgress is returned when another full sync holds the run lock.
var ErrRunInProgress = errors.New("pipeline: sync run already in progress")

// RecordError is one isolated per-record failure.
type RecordError struct {
	Stage    State  `json:"stage"`
	RecordID string `json:"record_id"`
	Error    string `json:"error"`
}

// StageSummary counts one stage's work.
type StageSummary struct {
	Stage     State         `json:"stage"`
	Processed int           `json:"processed"`
	Updated   int           `json:"updated"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"duration_ns"`
}

// Summary is returned by every run, including failed ones.
type Summary struct {
	RunID         string         `json:"run_id"`
	State         State          `json:"state"`
	FailedStage   State          `json:"failed_stage,omitempty"`
	FatalError    string         `json:"fatal_error,omitempty"`
	Processed     int            `json:"processed"`
	Updated       int            `json:"updated"`
	Failed        int            `json:"failed"`
	IssuesCreated int            `json:"issues_created"`
	Errors        []RecordError  `json:"errors"`
	Stages        []StageSummary `json:"stages"`
	StartedAt     time.Time      `json:"started_at"`
	CompletedAt   time.Time      `json:"completed_at"`
}

// Succeeded reports a completed run without record failures.
func (s Summary) Succeeded() bool {
	return s.State == StateDone && s.Failed == 0
}

func (s *Summary) add(st StageSummary) {
	s.Stages = append(s.Stages, st)
	s.Processed += st.Processed
	s.Updated += st.Updated
	s.Failed += st.Failed
}
