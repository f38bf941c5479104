package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wolfman30/medspa-roster-sync/internal/database"
	"github.com/wolfman30/medspa-roster-sync/internal/events"
)

var (
	// ErrStatusMoved means the patient's status changed between read and
	// write; the decision is rolled back and retried on the next run.
	ErrStatusMoved          = errors.New("payments: patient status changed concurrently")
	ErrIssueNotFound        = errors.New("payments: issue not found")
	ErrIssueAlreadyResolved = errors.New("payments: issue already resolved")
)

// Store persists rules, issues and the status changes they cause.
type Store struct {
	pool database.Pool
	now  func() time.Time
}

// NewStore returns a Store backed by pool.
func NewStore(pool database.Pool) *Store {
	return &Store{pool: pool, now: time.Now}
}

// ListRules returns every rule; ordering is left to OrderRules.
func (s *Store) ListRules(ctx context.Context) ([]Rule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT rule_id, name, min_days_overdue, min_amount_cents, target_status_key,
		       auto_update_status, is_active, created_at
		FROM payment_rules
	`)
	if err != nil {
		return nil, fmt.Errorf("payments: list rules: %w", err)
	}
	defer rows.Close()

	var rules []Rule
	for rows.Next() {
		var r Rule
		if err := rows.Scan(&r.RuleID, &r.Name, &r.MinDaysOverdue, &r.MinAmountCents, &r.TargetStatusKey,
			&r.AutoUpdateStatus, &r.IsActive, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("payments: scan rule: %w", err)
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// ListCandidates aggregates overdue invoices per patient through the
// patient's active billing link.
func (s *Store) ListCandidates(ctx context.Context) ([]Candidate, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT p.patient_id, p.full_name, p.status_key,
		       SUM(i.balance_cents)::bigint AS balance_cents,
		       MAX(i.days_overdue) AS days_overdue
		FROM patients p
		JOIN external_links l
		  ON l.patient_id = p.patient_id AND l.system = 'billing' AND l.is_active
		JOIN invoices i
		  ON i.external_customer_id = l.external_id AND i.payment_status = 'overdue'
		GROUP BY p.patient_id, p.full_name, p.status_key
		ORDER BY p.full_name, p.patient_id
	`)
	if err != nil {
		return nil, fmt.Errorf("payments: list candidates: %w", err)
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var c Candidate
		if err := rows.Scan(&c.PatientID, &c.FullName, &c.StatusKey, &c.BalanceCents, &c.DaysOverdue); err != nil {
			return nil, fmt.Errorf("payments: scan candidate: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Apply records d atomically: the issue, and when the rule allows it the
// status change, its log row and the outbox event. An existing unresolved
// issue of the same type makes Apply a no-op.
func (s *Store) Apply(ctx context.Context, d Decision) (Outcome, error) {
	var out Outcome
	c := d.Candidate
	err := database.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		issueID := uuid.New()
		err := tx.QueryRow(ctx, `
			INSERT INTO payment_issues (
				issue_id, patient_id, issue_type, severity, amount_owed_cents, days_overdue,
				previous_status_key, target_status_key, auto_updated, rule_id, run_id
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULLIF($11, ''))
			ON CONFLICT (patient_id, issue_type) WHERE resolved_at IS NULL DO NOTHING
			RETURNING issue_id
		`, issueID, c.PatientID, IssueOverdueInvoice, string(d.Severity), c.BalanceCents, c.DaysOverdue,
			c.StatusKey, d.Rule.TargetStatusKey, d.Rule.AutoUpdateStatus, d.Rule.RuleID, d.RunID).Scan(&out.IssueID)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("payments: insert issue: %w", err)
		}
		out.IssueCreated = true

		if !d.Rule.AutoUpdateStatus {
			return nil
		}
		if d.Rule.TargetStatusKey == c.StatusKey {
			if _, err := tx.Exec(ctx, `
				UPDATE patients SET outstanding_balance_cents = $2, updated_at = now()
				WHERE patient_id = $1
			`, c.PatientID, c.BalanceCents); err != nil {
				return fmt.Errorf("payments: update patient balance: %w", err)
			}
			return nil
		}
		tag, err := tx.Exec(ctx, `
			UPDATE patients
			SET status_key = $2, outstanding_balance_cents = $3, updated_at = now()
			WHERE patient_id = $1 AND status_key = $4
		`, c.PatientID, d.Rule.TargetStatusKey, c.BalanceCents, c.StatusKey)
		if err != nil {
			return fmt.Errorf("payments: update patient status: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrStatusMoved
		}
		if err := logStatus(ctx, tx, c.PatientID, c.StatusKey, d.Rule.TargetStatusKey, "payment rule "+d.Rule.Name, "system", out.IssueID); err != nil {
			return err
		}
		if _, err := events.Insert(ctx, tx, c.PatientID.String(), events.TypePatientHeld, events.PatientStatusChangedV1{
			EventID:        uuid.NewString(),
			PatientID:      c.PatientID.String(),
			IssueID:        out.IssueID.String(),
			PreviousStatus: c.StatusKey,
			NewStatus:      d.Rule.TargetStatusKey,
			BalanceCents:   c.BalanceCents,
			DaysOverdue:    c.DaysOverdue,
			Severity:       string(d.Severity),
			Actor:          "system",
			OccurredAt:     s.now().UTC(),
		}); err != nil {
			return err
		}
		out.StatusChanged = true
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}
	return out, nil
}

// Resolve closes an open issue. When restore is set and the patient still
// holds the issue's target status, the status goes back to restoreTo.
func (s *Store) Resolve(ctx context.Context, issueID uuid.UUID, actor, note string, restore bool) (Issue, bool, error) {
	var issue Issue
	restored := false
	err := database.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			UPDATE payment_issues
			SET resolved_at = now(), resolved_by = $2, resolution_notes = NULLIF($3, '')
			WHERE issue_id = $1 AND resolved_at IS NULL
			RETURNING issue_id, patient_id, issue_type, severity, amount_owed_cents, days_overdue,
			          previous_status_key, target_status_key, auto_updated, created_at, resolved_at
		`, issueID, actor, note).Scan(&issue.IssueID, &issue.PatientID, &issue.IssueType, &issue.Severity,
			&issue.AmountOwedCents, &issue.DaysOverdue, &issue.PreviousStatusKey, &issue.TargetStatusKey,
			&issue.AutoUpdated, &issue.CreatedAt, &issue.ResolvedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM payment_issues WHERE issue_id = $1)`, issueID).Scan(&exists); err != nil {
				return fmt.Errorf("payments: check issue: %w", err)
			}
			if exists {
				return ErrIssueAlreadyResolved
			}
			return ErrIssueNotFound
		}
		if err != nil {
			return fmt.Errorf("payments: resolve issue: %w", err)
		}
		issue.ResolvedBy = actor
		issue.ResolutionNotes = note

		if !restore || !issue.AutoUpdated {
			return nil
		}
		restoreTo := RestoreStatus(issue.PreviousStatusKey)
		tag, err := tx.Exec(ctx, `
			UPDATE patients
			SET status_key = $2, outstanding_balance_cents = 0, updated_at = now()
			WHERE patient_id = $1 AND status_key = $3
		`, issue.PatientID, restoreTo, issue.TargetStatusKey)
		if err != nil {
			return fmt.Errorf("payments: restore patient status: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		if err := logStatus(ctx, tx, issue.PatientID, issue.TargetStatusKey, restoreTo, "payment issue resolved", actor, issue.IssueID); err != nil {
			return err
		}
		if _, err := events.Insert(ctx, tx, issue.PatientID.String(), events.TypePatientRestored, events.PatientStatusChangedV1{
			EventID:        uuid.NewString(),
			PatientID:      issue.PatientID.String(),
			IssueID:        issue.IssueID.String(),
			PreviousStatus: issue.TargetStatusKey,
			NewStatus:      restoreTo,
			Actor:          actor,
			OccurredAt:     s.now().UTC(),
		}); err != nil {
			return err
		}
		restored = true
		return nil
	})
	if err != nil {
		return Issue{}, false, err
	}
	return issue, restored, nil
}

// ListIssues returns issues newest first, open ones only when openOnly.
func (s *Store) ListIssues(ctx context.Context, openOnly bool) ([]Issue, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT issue_id, patient_id, issue_type, severity, amount_owed_cents, days_overdue,
		       previous_status_key, target_status_key, auto_updated, created_at, resolved_at,
		       COALESCE(resolved_by, ''), COALESCE(resolution_notes, '')
		FROM payment_issues
		WHERE NOT $1 OR resolved_at IS NULL
		ORDER BY created_at DESC
	`, openOnly)
	if err != nil {
		return nil, fmt.Errorf("payments: list issues: %w", err)
	}
	defer rows.Close()

	var out []Issue
	for rows.Next() {
		var i Issue
		if err := rows.Scan(&i.IssueID, &i.PatientID, &i.IssueType, &i.Severity, &i.AmountOwedCents, &i.DaysOverdue,
			&i.PreviousStatusKey, &i.TargetStatusKey, &i.AutoUpdated, &i.CreatedAt, &i.ResolvedAt,
			&i.ResolvedBy, &i.ResolutionNotes); err != nil {
			return nil, fmt.Errorf("payments: scan issue: %w", err)
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

// RestoreStatus is the status a resolved hold returns to: the previous
// status unless that was itself a hold or empty.
func RestoreStatus(previous string) string {
	if previous == "" || IsHold(previous) {
		return "active"
	}
	return previous
}

func logStatus(ctx context.Context, q database.Querier, patientID uuid.UUID, from, to, reason, actor string, issueID uuid.UUID) error {
	_, err := q.Exec(ctx, `
		INSERT INTO patient_status_log (patient_id, old_status_key, new_status_key, reason, changed_by, issue_id)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, patientID, from, to, reason, actor, issueID)
	if err != nil {
		return fmt.Errorf("payments: log status change: %w", err)
	}
	return nil
}
