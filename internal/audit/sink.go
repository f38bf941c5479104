package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/wolfman30/medspa-roster-sync/pkg/logging"
)

// Recorder is what domain code depends on. Recording never fails the
// caller.
type Recorder interface {
	Record(ctx context.Context, event Event)
}

type eventLogger interface {
	LogEvent(ctx context.Context, event Event) error
}

// Sink is a Recorder that persists events and only logs failures.
type Sink struct {
	store   eventLogger
	timeout time.Duration
	logger  *logging.Logger
}

// NewSink wraps store. A nil store yields a sink that only logs.
func NewSink(store eventLogger, logger *logging.Logger) *Sink {
	if logger == nil {
		logger = logging.Default()
	}
	return &Sink{store: store, timeout: 5 * time.Second, logger: logger}
}

// Record persists event, detached from the caller's cancellation.
func (s *Sink) Record(ctx context.Context, event Event) {
	if s == nil {
		return
	}
	if s.store == nil {
		s.logger.Info("audit event", "event_type", event.EventType, "patient_id", event.PatientID, "run_id", event.RunID)
		return
	}
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()
	if err := s.store.LogEvent(writeCtx, event); err != nil {
		s.logger.Warn("audit write failed", "event_type", event.EventType, "patient_id", event.PatientID, "error", err)
	}
}

// Details marshals v for Event.Details, dropping it when v cannot be encoded.
func Details(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}

// Nop discards every event.
type Nop struct{}

// Record implements Recorder.
func (Nop) Record(context.Context, Event) {}
