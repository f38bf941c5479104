package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/wolfman30/medspa-roster-sync/internal/database"
)

// RunStore records each run in sync_runs.
type RunStore struct {
	db database.Querier
}

// NewRunStore creates a RunStore.
func NewRunStore(db database.Querier) *RunStore {
	return &RunStore{db: db}
}

// Start inserts the run row in its first stage.
func (s *RunStore) Start(ctx context.Context, runID string, startedAt time.Time) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO sync_runs (run_id, state, started_at)
		VALUES ($1, $2, $3)
	`, runID, StateRecurringSync, startedAt)
	if err != nil {
		return fmt.Errorf("pipeline: start run %s: %w", runID, err)
	}
	return nil
}

// Finish stores the final state and counts.
func (s *RunStore) Finish(ctx context.Context, sum Summary) error {
	errs, err := json.Marshal(sum.Errors)
	if err != nil {
		return fmt.Errorf("pipeline: encode run errors: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		UPDATE sync_runs
		SET state = $2,
		    failed_stage = NULLIF($3, ''),
		    fatal_error = NULLIF($4, ''),
		    processed = $5,
		    updated = $6,
		    failed = $7,
		    issues_created = $8,
		    errors = $9,
		    completed_at = $10
		WHERE run_id = $1
	`, sum.RunID, sum.State, string(sum.FailedStage), sum.FatalError,
		sum.Processed, sum.Updated, sum.Failed, sum.IssuesCreated, errs, sum.CompletedAt)
	if err != nil {
		return fmt.Errorf("pipeline: finish run %s: %w", sum.RunID, err)
	}
	return nil
}

// List returns the most recent runs, newest first. Per-record errors are
// included.
func (s *RunStore) List(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(ctx, `
		SELECT run_id, state, COALESCE(failed_stage, ''), COALESCE(fatal_error, ''),
		       processed, updated, failed, issues_created, COALESCE(errors, '[]'::jsonb),
		       started_at, completed_at
		FROM sync_runs
		ORDER BY started_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("pipeline: list runs: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			sum         Summary
			failedStage string
			errs        []byte
			completedAt *time.Time
		)
		if err := rows.Scan(&sum.RunID, &sum.State, &failedStage, &sum.FatalError,
			&sum.Processed, &sum.Updated, &sum.Failed, &sum.IssuesCreated, &errs,
			&sum.StartedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("pipeline: scan run: %w", err)
		}
		sum.FailedStage = State(failedStage)
		if completedAt != nil {
			sum.CompletedAt = *completedAt
		}
		if len(errs) > 0 {
			if err := json.Unmarshal(errs, &sum.Errors); err != nil {
				return nil, fmt.Errorf("pipeline: decode run errors: %w", err)
			}
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}
