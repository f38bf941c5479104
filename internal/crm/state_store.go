package crm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wolfman30/medspa-roster-sync/internal/database"
)

// SyncState is the last payment state pushed to a patient's contact.
type SyncState struct {
	PatientID   uuid.UUID
	ContactID   string
	Fingerprint string
	SyncedAt    time.Time
}

// StateStore reads propagation targets and remembers what was pushed.
type StateStore struct {
	db database.Querier
}

// NewStateStore returns a StateStore backed by db.
func NewStateStore(db database.Querier) *StateStore {
	return &StateStore{db: db}
}

// ListTargets returns every patient whose payment state the CRM should
// reflect: patients with an active billing link and patients on hold.
// Balance and days come from overdue mirrored invoices.
func (s *StateStore) ListTargets(ctx context.Context) ([]Target, error) {
	rows, err := s.db.Query(ctx, `
		SELECT p.patient_id, p.full_name, COALESCE(p.email, ''), COALESCE(p.phone, ''), p.status_key,
		       COALESCE(agg.balance_cents, 0), COALESCE(agg.days_overdue, 0)
		FROM patients p
		LEFT JOIN external_links l
		       ON l.patient_id = p.patient_id AND l.system = 'billing' AND l.is_active
		LEFT JOIN LATERAL (
			SELECT SUM(i.balance_cents) AS balance_cents, MAX(i.days_overdue) AS days_overdue
			FROM invoices i
			WHERE i.external_customer_id = l.external_id AND i.payment_status = 'overdue'
		) agg ON true
		WHERE l.id IS NOT NULL OR p.status_key LIKE 'hold\_%'
		ORDER BY p.full_name, p.patient_id
	`)
	if err != nil {
		return nil, fmt.Errorf("crm: list targets: %w", err)
	}
	defer rows.Close()

	var out []Target
	for rows.Next() {
		var t Target
		if err := rows.Scan(&t.PatientID, &t.FullName, &t.Email, &t.Phone, &t.StatusKey, &t.BalanceCents, &t.DaysOverdue); err != nil {
			return nil, fmt.Errorf("crm: scan target: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Get returns the stored state for patientID.
func (s *StateStore) Get(ctx context.Context, patientID uuid.UUID) (SyncState, bool, error) {
	var st SyncState
	err := s.db.QueryRow(ctx, `
		SELECT patient_id, contact_id, fingerprint, synced_at
		FROM crm_sync_state
		WHERE patient_id = $1
	`, patientID).Scan(&st.PatientID, &st.ContactID, &st.Fingerprint, &st.SyncedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return SyncState{}, false, nil
	}
	if err != nil {
		return SyncState{}, false, fmt.Errorf("crm: get sync state: %w", err)
	}
	return st, true, nil
}

// Put records the pushed state.
func (s *StateStore) Put(ctx context.Context, st SyncState) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO crm_sync_state (patient_id, contact_id, fingerprint, synced_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (patient_id) DO UPDATE SET
			contact_id = EXCLUDED.contact_id,
			fingerprint = EXCLUDED.fingerprint,
			synced_at = now()
	`, st.PatientID, st.ContactID, st.Fingerprint)
	if err != nil {
		return fmt.Errorf("crm: put sync state: %w", err)
	}
	return nil
}
