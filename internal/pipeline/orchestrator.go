package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/wolfman30/medspa-roster-sync/internal/apperr"
	"github.com/wolfman30/medspa-roster-sync/internal/audit"
	"github.com/wolfman30/medspa-roster-sync/internal/billing"
	"github.com/wolfman30/medspa-roster-sync/internal/crm"
	"github.com/wolfman30/medspa-roster-sync/internal/events"
	"github.com/wolfman30/medspa-roster-sync/internal/observability/metrics"
	"github.com/wolfman30/medspa-roster-sync/internal/packages"
	"github.com/wolfman30/medspa-roster-sync/internal/payments"
	"github.com/wolfman30/medspa-roster-sync/pkg/logging"
)

var tracer = otel.Tracer("medspa.internal.pipeline")

type mirrorStore interface {
	UpsertTemplate(ctx context.Context, t billing.RecurringTemplate) (bool, error)
	DeactivateMissingTemplates(ctx context.Context, seen []string) (int64, error)
	UpsertInvoice(ctx context.Context, rec billing.InvoiceRecord) (bool, error)
	CloseMissingInvoices(ctx context.Context, seen []string) (int64, error)
}

type packageResolver interface {
	Reset()
	Resolve(ctx context.Context, g packages.Group) (packages.Group, bool, error)
}

type statusEvaluator interface {
	Prepare(ctx context.Context) ([]payments.Rule, []payments.Candidate, error)
	Evaluate(ctx context.Context, runID string, ordered []payments.Rule, c payments.Candidate) (payments.Result, error)
}

type crmTargets interface {
	ListTargets(ctx context.Context) ([]crm.Target, error)
}

type crmPropagator interface {
	Sync(ctx context.Context, t crm.Target) (bool, error)
}

type runRecorder interface {
	Start(ctx context.Context, runID string, startedAt time.Time) error
	Finish(ctx context.Context, sum Summary) error
}

type eventWriter interface {
	Insert(ctx context.Context, aggregateID, eventType string, payload any) (uuid.UUID, error)
}

// RunObserver is told about every finished run. Observers must not block
// for long; failures are theirs to log.
type RunObserver interface {
	RunFinished(ctx context.Context, sum Summary)
}

// Config wires an Orchestrator. Packages, Locker, Runs, Events, Metrics
// and Observers are optional.
type Config struct {
	Billing       billing.Client
	Mirror        mirrorStore
	Packages      packageResolver
	DailyFallback packages.Frequency
	Evaluator     statusEvaluator
	Targets       crmTargets
	Propagator    crmPropagator

	Locker    Locker
	Runs      runRecorder
	Events    eventWriter
	Observers []RunObserver
	Metrics   *metrics.SyncMetrics
	Audit     audit.Recorder

	Concurrency int
	Now         func() time.Time
	Logger      *logging.Logger
}

// Orchestrator runs the four sync stages in order.
type Orchestrator struct {
	billing       billing.Client
	mirror        mirrorStore
	packages      packageResolver
	dailyFallback packages.Frequency
	evaluator     statusEvaluator
	targets       crmTargets
	propagator    crmPropagator

	locker    Locker
	runs      runRecorder
	events    eventWriter
	observers []RunObserver
	metrics   *metrics.SyncMetrics
	audit     audit.Recorder

	concurrency int
	now         func() time.Time
	logger      *logging.Logger
}

// New validates cfg and builds an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	switch {
	case cfg.Billing == nil:
		return nil, errors.New("pipeline: billing client required")
	case cfg.Mirror == nil:
		return nil, errors.New("pipeline: mirror store required")
	case cfg.Evaluator == nil:
		return nil, errors.New("pipeline: evaluator required")
	case cfg.Targets == nil || cfg.Propagator == nil:
		return nil, errors.New("pipeline: crm propagation required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Audit == nil {
		cfg.Audit = audit.Nop{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if !cfg.DailyFallback.Valid() {
		cfg.DailyFallback = packages.Weekly
	}
	return &Orchestrator{
		billing:       cfg.Billing,
		mirror:        cfg.Mirror,
		packages:      cfg.Packages,
		dailyFallback: cfg.DailyFallback,
		evaluator:     cfg.Evaluator,
		targets:       cfg.Targets,
		propagator:    cfg.Propagator,
		locker:        cfg.Locker,
		runs:          cfg.Runs,
		events:        cfg.Events,
		observers:     cfg.Observers,
		metrics:       cfg.Metrics,
		audit:         cfg.Audit,
		concurrency:   cfg.Concurrency,
		now:           cfg.Now,
		logger:        cfg.Logger.Component("pipeline"),
	}, nil
}

type stage struct {
	state State
	run   func(ctx context.Context, runID string, t *tally) error
}

// RunFullSync executes one complete run. The returned Summary is always
// populated once the lock is held; a non-nil error means the run stopped
// on a fatal error or could not start.
func (o *Orchestrator) RunFullSync(ctx context.Context) (Summary, error) {
	if o.locker != nil {
		release, err := o.locker.Acquire(ctx, FullSyncLockKey)
		if err != nil {
			return Summary{}, err
		}
		defer release()
	}

	sum := Summary{
		RunID:     uuid.NewString(),
		State:     StateRecurringSync,
		Errors:    []RecordError{},
		StartedAt: o.now().UTC(),
	}
	logger := o.logger.With("run_id", sum.RunID)

	ctx, span := tracer.Start(ctx, "pipeline.full_sync")
	defer span.End()
	span.SetAttributes(attribute.String("sync.run_id", sum.RunID))
	if sc := span.SpanContext(); sc.IsValid() {
		logger = logger.With("trace_id", sc.TraceID().String())
	}

	if o.runs != nil {
		if err := o.runs.Start(ctx, sum.RunID, sum.StartedAt); err != nil {
			logger.Warn("sync run row not recorded", "error", err)
		}
	}
	logger.Info("sync run started", "concurrency", o.concurrency)

	stages := []stage{
		{StateRecurringSync, o.syncRecurring},
		{StateInvoiceSync, o.syncInvoices},
		{StateStatusEvaluation, o.evaluateStatuses},
		{StateCrmPropagation, o.propagateCRM},
	}

	var fatal error
	for _, st := range stages {
		sum.State = st.state
		if err := o.runStage(ctx, &sum, st, logger); err != nil {
			fatal = err
			break
		}
	}

	if fatal != nil {
		sum.State = StateFailed
		sum.FatalError = fatal.Error()
		span.RecordError(fatal)
		span.SetStatus(codes.Error, "sync run failed")
	} else {
		sum.State = StateDone
	}
	sum.CompletedAt = o.now().UTC()
	o.finish(ctx, sum, logger)

	if fatal != nil {
		return sum, fmt.Errorf("pipeline: run %s failed in %s: %w", sum.RunID, sum.FailedStage, fatal)
	}
	return sum, nil
}

// PropagatePatients pushes the current payment state of the given patients
// to the CRM without running the billing stages, for use right after an
// operator changes a patient's status. It shares the full-sync lock. IDs
// that are not propagation targets are recorded as per-record failures.
func (o *Orchestrator) PropagatePatients(ctx context.Context, patientIDs []uuid.UUID) (Summary, error) {
	if len(patientIDs) == 0 {
		return Summary{}, &apperr.ValidationError{Entity: "crm_resync", Field: "patient_ids", Reason: "is required"}
	}
	if o.locker != nil {
		release, err := o.locker.Acquire(ctx, FullSyncLockKey)
		if err != nil {
			return Summary{}, err
		}
		defer release()
	}

	sum := Summary{
		RunID:     uuid.NewString(),
		State:     StateCrmPropagation,
		Errors:    []RecordError{},
		StartedAt: o.now().UTC(),
	}
	logger := o.logger.With("run_id", sum.RunID, "patients", len(patientIDs))

	ctx, span := tracer.Start(ctx, "pipeline.crm_resync")
	defer span.End()
	span.SetAttributes(attribute.String("sync.run_id", sum.RunID), attribute.Int("sync.patients", len(patientIDs)))

	err := o.runStage(ctx, &sum, stage{StateCrmPropagation, func(ctx context.Context, _ string, t *tally) error {
		return o.propagateSelected(ctx, patientIDs, t)
	}}, logger)
	sum.CompletedAt = o.now().UTC()
	if err != nil {
		sum.State = StateFailed
		sum.FatalError = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, "crm resync failed")
		return sum, fmt.Errorf("pipeline: crm resync %s failed: %w", sum.RunID, err)
	}
	sum.State = StateDone
	o.audit.Record(context.WithoutCancel(ctx), audit.Event{
		EventType: audit.EventCRMResynced,
		RunID:     sum.RunID,
		Actor:     "system",
		Details: audit.Details(map[string]any{
			"patients": len(patientIDs),
			"updated":  sum.Updated,
			"failed":   sum.Failed,
		}),
	})
	return sum, nil
}

func (o *Orchestrator) runStage(ctx context.Context, sum *Summary, st stage, logger *logging.Logger) error {
	ctx, span := tracer.Start(ctx, "pipeline.stage."+string(st.state))
	defer span.End()
	span.SetAttributes(
		attribute.String("sync.stage", string(st.state)),
		attribute.String("sync.run_id", sum.RunID),
	)

	started := time.Now()
	t := newTally(st.state)
	err := st.run(ctx, sum.RunID, t)
	t.sum.Duration = time.Since(started)

	sum.add(t.sum)
	sum.IssuesCreated += t.issues
	sum.Errors = append(sum.Errors, t.errs...)
	o.metrics.ObserveStage(string(st.state), t.sum.Processed, t.sum.Updated, t.sum.Failed, t.sum.Duration.Seconds())
	o.metrics.ObserveIssuesCreated(t.issues)

	span.SetAttributes(
		attribute.Int("sync.processed", t.sum.Processed),
		attribute.Int("sync.updated", t.sum.Updated),
		attribute.Int("sync.failed", t.sum.Failed),
	)
	if err != nil {
		sum.FailedStage = st.state
		span.RecordError(err)
		span.SetStatus(codes.Error, "stage aborted")
		logger.Error("sync stage aborted", "stage", st.state, "error", err)
		return err
	}
	logger.Info("sync stage finished", "stage", st.state,
		"processed", t.sum.Processed, "updated", t.sum.Updated, "failed", t.sum.Failed)
	return nil
}

func (o *Orchestrator) finish(ctx context.Context, sum Summary, logger *logging.Logger) {
	// Bookkeeping must survive a cancelled run context.
	ctx = context.WithoutCancel(ctx)

	if o.runs != nil {
		if err := o.runs.Finish(ctx, sum); err != nil {
			logger.Warn("sync run row not finalized", "error", err)
		}
	}
	if o.events != nil {
		if _, err := o.events.Insert(ctx, sum.RunID, events.TypeSyncCompleted, events.SyncRunCompletedV1{
			EventID:       uuid.NewString(),
			RunID:         sum.RunID,
			State:         string(sum.State),
			Processed:     sum.Processed,
			Updated:       sum.Updated,
			Failed:        sum.Failed,
			IssuesCreated: sum.IssuesCreated,
			CompletedAt:   sum.CompletedAt,
		}); err != nil {
			logger.Warn("sync completed event not written", "error", err)
		}
	}

	eventType := audit.EventRunCompleted
	if sum.State == StateFailed {
		eventType = audit.EventRunFailed
	}
	o.audit.Record(ctx, audit.Event{
		EventType: eventType,
		RunID:     sum.RunID,
		Actor:     "system",
		Details: audit.Details(map[string]any{
			"failed_stage":   sum.FailedStage,
			"processed":      sum.Processed,
			"updated":        sum.Updated,
			"failed":         sum.Failed,
			"issues_created": sum.IssuesCreated,
		}),
	})
	o.metrics.ObserveRun(string(sum.State))

	for _, obs := range o.observers {
		obs.RunFinished(ctx, sum)
	}

	logger.Info("sync run finished",
		"state", sum.State,
		"processed", sum.Processed,
		"updated", sum.Updated,
		"failed", sum.Failed,
		"issues_created", sum.IssuesCreated,
		"duration", sum.CompletedAt.Sub(sum.StartedAt),
	)
}

// listFailed handles a failed listing call. A fatal error aborts the run;
// anything else is recorded and the stage is skipped.
func listFailed(t *tally, what string, err error) error {
	if apperr.IsFatal(err) {
		return err
	}
	t.fail("list:"+what, err)
	return nil
}

func changed(b bool) recordOutcome {
	if b {
		return recordOutcome{updated: 1}
	}
	return recordOutcome{}
}
