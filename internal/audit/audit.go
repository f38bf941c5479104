// Package audit keeps the append-only trail of identity, status and sync
// decisions.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// EventType names an audited action.
type EventType string

const (
	EventMatchResolved   EventType = "identity.match_resolved"
	EventMatchDismissed  EventType = "identity.match_dismissed"
	EventAutoLinked      EventType = "identity.auto_linked"
	EventLinkDeactivated EventType = "identity.link_deactivated"
	EventLinkCreated     EventType = "identity.link_created"
	EventContactLinked   EventType = "crm.contact_linked"
	EventIssueCreated    EventType = "payments.issue_created"
	EventStatusChanged   EventType = "payments.status_changed"
	EventIssueResolved   EventType = "payments.issue_resolved"
	EventRunCompleted    EventType = "sync.run_completed"
	EventRunFailed       EventType = "sync.run_failed"
	EventCRMResynced     EventType = "sync.crm_resynced"
)

// Event is an immutable audit record.
type Event struct {
	ID        string          `json:"id"`
	EventType EventType       `json:"event_type"`
	PatientID string          `json:"patient_id,omitempty"`
	RunID     string          `json:"run_id,omitempty"`
	Actor     string          `json:"actor,omitempty"`
	Details   json.RawMessage `json:"details,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Filter specifies criteria for querying audit events.
type Filter struct {
	EventTypes []EventType
	PatientID  string
	RunID      string
	StartTime  time.Time
	EndTime    time.Time
	Limit      int
}

// Service writes and reads audit events.
type Service struct {
	db *sql.DB
}

// NewService creates a new audit service.
func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// LogEvent records an audit event.
func (s *Service) LogEvent(ctx context.Context, event Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	var details any
	if len(event.Details) > 0 {
		details = []byte(event.Details)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, event_type, patient_id, run_id, actor, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		event.ID,
		string(event.EventType),
		nullString(event.PatientID),
		nullString(event.RunID),
		nullString(event.Actor),
		details,
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("audit: log event: %w", err)
	}
	return nil
}

// QueryEvents retrieves audit events newest first.
func (s *Service) QueryEvents(ctx context.Context, filter Filter) ([]Event, error) {
	query := `
		SELECT id, event_type, patient_id, run_id, actor, details, created_at
		FROM audit_events
		WHERE 1 = 1
	`
	var args []any
	argIdx := 1

	if len(filter.EventTypes) > 0 {
		types := make([]string, len(filter.EventTypes))
		for i, t := range filter.EventTypes {
			types[i] = string(t)
		}
		query += fmt.Sprintf(" AND event_type = ANY($%d)", argIdx)
		args = append(args, pq.Array(types))
		argIdx++
	}
	if filter.PatientID != "" {
		query += fmt.Sprintf(" AND patient_id = $%d", argIdx)
		args = append(args, filter.PatientID)
		argIdx++
	}
	if filter.RunID != "" {
		query += fmt.Sprintf(" AND run_id = $%d", argIdx)
		args = append(args, filter.RunID)
		argIdx++
	}
	if !filter.StartTime.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, filter.StartTime)
		argIdx++
	}
	if !filter.EndTime.IsZero() {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, filter.EndTime)
	}

	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var eventType string
		var patientID, runID, actor sql.NullString
		var details []byte
		if err := rows.Scan(&e.ID, &eventType, &patientID, &runID, &actor, &details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("audit: scan event: %w", err)
		}
		e.EventType = EventType(eventType)
		e.PatientID = patientID.String
		e.RunID = runID.String
		e.Actor = actor.String
		if len(details) > 0 {
			e.Details = json.RawMessage(details)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: query events: %w", err)
	}
	return events, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
