package payments

import (
	"context"

	"github.com/google/uuid"

	"github.com/wolfman30/medspa-roster-sync/internal/audit"
	"github.com/wolfman30/medspa-roster-sync/pkg/logging"
)

type evaluatorStore interface {
	ListRules(ctx context.Context) ([]Rule, error)
	ListCandidates(ctx context.Context) ([]Candidate, error)
	Apply(ctx context.Context, d Decision) (Outcome, error)
}

// Result is the evaluator's verdict for one candidate.
type Result struct {
	Skipped bool
	Rule    *Rule
	Outcome
}

// Evaluator applies payment rules to candidates one at a time so callers
// can isolate per-patient failures.
type Evaluator struct {
	store  evaluatorStore
	audit  audit.Recorder
	logger *logging.Logger
}

// NewEvaluator builds an Evaluator.
func NewEvaluator(store evaluatorStore, rec audit.Recorder, logger *logging.Logger) *Evaluator {
	if logger == nil {
		logger = logging.Default()
	}
	if rec == nil {
		rec = audit.Nop{}
	}
	return &Evaluator{store: store, audit: rec, logger: logger.Component("payments")}
}

// Prepare loads the ordered active rules and the current candidates.
func (e *Evaluator) Prepare(ctx context.Context) ([]Rule, []Candidate, error) {
	rules, err := e.store.ListRules(ctx)
	if err != nil {
		return nil, nil, err
	}
	candidates, err := e.store.ListCandidates(ctx)
	if err != nil {
		return nil, nil, err
	}
	return OrderRules(rules), candidates, nil
}

// Evaluate decides and applies the outcome for one candidate. Patients
// already on hold are never re-evaluated.
func (e *Evaluator) Evaluate(ctx context.Context, runID string, ordered []Rule, c Candidate) (Result, error) {
	if IsHold(c.StatusKey) {
		return Result{Skipped: true}, nil
	}
	rule, ok := SelectRule(ordered, c.DaysOverdue, c.BalanceCents)
	if !ok {
		return Result{}, nil
	}
	d := Decision{Candidate: c, Rule: rule, Severity: SeverityFor(c.DaysOverdue, c.BalanceCents), RunID: runID}
	out, err := e.store.Apply(ctx, d)
	if err != nil {
		return Result{Rule: &rule}, err
	}
	if out.IssueCreated {
		e.recordDecision(ctx, runID, d, out)
	}
	return Result{Rule: &rule, Outcome: out}, nil
}

func (e *Evaluator) recordDecision(ctx context.Context, runID string, d Decision, out Outcome) {
	c := d.Candidate
	e.logger.Info("payment issue created",
		"run_id", runID,
		"patient_id", c.PatientID,
		"issue_id", out.IssueID,
		"severity", d.Severity,
		"days_overdue", c.DaysOverdue,
		"balance_cents", c.BalanceCents,
		"status_changed", out.StatusChanged,
	)
	e.audit.Record(ctx, audit.Event{
		EventType: audit.EventIssueCreated,
		PatientID: c.PatientID.String(),
		RunID:     runID,
		Actor:     "system",
		Details: audit.Details(map[string]any{
			"issue_id":      out.IssueID,
			"rule_id":       d.Rule.RuleID,
			"severity":      d.Severity,
			"balance_cents": c.BalanceCents,
			"days_overdue":  c.DaysOverdue,
		}),
	})
	if out.StatusChanged {
		e.audit.Record(ctx, audit.Event{
			EventType: audit.EventStatusChanged,
			PatientID: c.PatientID.String(),
			RunID:     runID,
			Actor:     "system",
			Details: audit.Details(map[string]string{
				"from": c.StatusKey,
				"to":   d.Rule.TargetStatusKey,
			}),
		})
	}
}

type issueStore interface {
	Resolve(ctx context.Context, issueID uuid.UUID, actor, note string, restore bool) (Issue, bool, error)
	ListIssues(ctx context.Context, openOnly bool) ([]Issue, error)
}

// Service exposes the reviewer actions on payment issues.
type Service struct {
	store  issueStore
	audit  audit.Recorder
	logger *logging.Logger
}

// NewService builds a Service.
func NewService(store issueStore, rec audit.Recorder, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	if rec == nil {
		rec = audit.Nop{}
	}
	return &Service{store: store, audit: rec, logger: logger.Component("payments")}
}

// ResolveIssue closes an issue and optionally lifts the hold it caused.
func (s *Service) ResolveIssue(ctx context.Context, issueID uuid.UUID, actor, note string, restore bool) (Issue, bool, error) {
	if actor == "" {
		actor = "admin"
	}
	issue, restored, err := s.store.Resolve(ctx, issueID, actor, note, restore)
	if err != nil {
		return Issue{}, false, err
	}
	s.audit.Record(ctx, audit.Event{
		EventType: audit.EventIssueResolved,
		PatientID: issue.PatientID.String(),
		Actor:     actor,
		Details: audit.Details(map[string]any{
			"issue_id": issue.IssueID,
			"restored": restored,
			"note":     note,
		}),
	})
	s.logger.Info("payment issue resolved", "issue_id", issueID, "patient_id", issue.PatientID, "restored", restored, "actor", actor)
	return issue, restored, nil
}

// OpenIssues lists unresolved issues.
func (s *Service) OpenIssues(ctx context.Context) ([]Issue, error) {
	return s.store.ListIssues(ctx, true)
}
