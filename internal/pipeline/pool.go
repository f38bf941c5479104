package pipeline

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/wolfman30/medspa-roster-sync/internal/apperr"
)

// recordOutcome is what a stage reports for one record.
type recordOutcome struct {
	updated int
	issues  int
}

// tally aggregates record outcomes across workers.
type tally struct {
	mu     sync.Mutex
	stage  State
	sum    StageSummary
	issues int
	errs   []RecordError
}

func newTally(stage State) *tally {
	return &tally{stage: stage, sum: StageSummary{Stage: stage}}
}

func (t *tally) ok(out recordOutcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sum.Processed++
	t.sum.Updated += out.updated
	t.issues += out.issues
}

func (t *tally) fail(recordID string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sum.Processed++
	t.sum.Failed++
	t.errs = append(t.errs, RecordError{Stage: t.stage, RecordID: recordID, Error: err.Error()})
}

// note adds updates that are not tied to a single record, such as bulk
// deactivations.
func (t *tally) note(updated int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sum.Updated += updated
}

// forEach runs fn over items in order, or through a bounded pool when
// limit > 1. Non-fatal errors are recorded against the record and the loop
// continues; the first fatal error cancels the rest and is returned. A
// panicking record is recorded as a failure on both paths.
func forEach[T any](ctx context.Context, limit int, items []T, id func(T) string, t *tally, fn func(context.Context, T) (recordOutcome, error)) error {
	handle := func(ctx context.Context, item T) (err error) {
		if err := ctx.Err(); err != nil {
			return err
		}
		defer func() {
			if r := recover(); r != nil {
				t.fail(id(item), fmt.Errorf("panic: %v", r))
				err = nil
			}
		}()
		out, err := fn(ctx, item)
		if err == nil {
			t.ok(out)
			return nil
		}
		if apperr.IsFatal(err) {
			return err
		}
		t.fail(id(item), err)
		return nil
	}

	if limit <= 1 {
		for _, item := range items {
			if err := handle(ctx, item); err != nil {
				return err
			}
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, item := range items {
		item := item
		g.Go(func() error {
			return handle(gctx, item)
		})
	}
	return g.Wait()
}
