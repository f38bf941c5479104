package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wolfman30/medspa-roster-sync/internal/database"
)

var (
	ErrPatientNotFound  = errors.New("identity: patient not found")
	ErrRecordNotFound   = errors.New("identity: membership record not found")
	ErrCustomerNotFound = errors.New("identity: billing customer not found")
)

// PatientFilter narrows ListPatients. Empty slices disable a clause.
// ExcludeStatuses are prefixes, so "inactive" also drops "inactive_duplicate".
type PatientFilter struct {
	PaymentMethods  []string
	ExcludeStatuses []string
}

// RosterStore reads the internal roster and the imported membership
// records, and keeps the dismissal list.
type RosterStore struct {
	db database.Querier
}

// NewRosterStore returns a store backed by db.
func NewRosterStore(db database.Querier) *RosterStore {
	if db == nil {
		return nil
	}
	return &RosterStore{db: db}
}

func nilIfEmpty(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = strings.ToLower(strings.TrimSpace(v))
	}
	return out
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// prefixPatterns turns status prefixes into LIKE patterns.
func prefixPatterns(prefixes []string) []string {
	values := nilIfEmpty(prefixes)
	for i, v := range values {
		values[i] = likeEscaper.Replace(v) + "%"
	}
	return values
}

const patientColumns = `patient_id, full_name, COALESCE(email, ''), COALESCE(phone, ''), status_key, COALESCE(payment_method_key, '')`

func scanPatient(row pgx.Row) (Patient, error) {
	var p Patient
	err := row.Scan(&p.PatientID, &p.FullName, &p.Email, &p.Phone, &p.StatusKey, &p.PaymentMethodKey)
	return p, err
}

// ListPatients returns patients matching filter ordered by name.
func (s *RosterStore) ListPatients(ctx context.Context, filter PatientFilter) ([]Patient, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+patientColumns+`
		FROM patients
		WHERE ($1::text[] IS NULL OR lower(payment_method_key) = ANY($1))
		  AND ($2::text[] IS NULL OR NOT (lower(status_key) LIKE ANY($2)))
		ORDER BY full_name, patient_id
	`, nilIfEmpty(filter.PaymentMethods), prefixPatterns(filter.ExcludeStatuses))
	if err != nil {
		return nil, fmt.Errorf("identity: list patients: %w", err)
	}
	defer rows.Close()

	var patients []Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, fmt.Errorf("identity: scan patient: %w", err)
		}
		patients = append(patients, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("identity: list patients: %w", err)
	}
	return patients, nil
}

// GetPatient loads one patient.
func (s *RosterStore) GetPatient(ctx context.Context, id uuid.UUID) (Patient, error) {
	p, err := scanPatient(s.db.QueryRow(ctx, `SELECT `+patientColumns+` FROM patients WHERE patient_id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Patient{}, ErrPatientNotFound
	}
	if err != nil {
		return Patient{}, fmt.Errorf("identity: get patient: %w", err)
	}
	return p, nil
}

const recordColumns = `external_id, display_name, COALESCE(plan_name, ''), status, is_active, updated_at`

func scanRecord(row pgx.Row) (MembershipRecord, error) {
	var r MembershipRecord
	err := row.Scan(&r.ExternalID, &r.DisplayName, &r.PlanName, &r.Status, &r.IsActive, &r.UpdatedAt)
	return r, err
}

// ListMembershipRecords returns imported membership records.
func (s *RosterStore) ListMembershipRecords(ctx context.Context, activeOnly bool) ([]MembershipRecord, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+recordColumns+`
		FROM membership_records
		WHERE (NOT $1 OR is_active)
		ORDER BY display_name, external_id
	`, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("identity: list membership records: %w", err)
	}
	defer rows.Close()

	var records []MembershipRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("identity: scan membership record: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("identity: list membership records: %w", err)
	}
	return records, nil
}

// GetMembershipRecord loads one imported record.
func (s *RosterStore) GetMembershipRecord(ctx context.Context, externalID string) (MembershipRecord, error) {
	r, err := scanRecord(s.db.QueryRow(ctx, `SELECT `+recordColumns+` FROM membership_records WHERE external_id = $1`, externalID))
	if errors.Is(err, pgx.ErrNoRows) {
		return MembershipRecord{}, ErrRecordNotFound
	}
	if err != nil {
		return MembershipRecord{}, fmt.Errorf("identity: get membership record: %w", err)
	}
	return r, nil
}

// UpsertMembershipRecord mirrors a record. changed is false when the stored
// row already matched.
func (s *RosterStore) UpsertMembershipRecord(ctx context.Context, r MembershipRecord) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		INSERT INTO membership_records (external_id, display_name, plan_name, status, is_active, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, now())
		ON CONFLICT (external_id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			plan_name = EXCLUDED.plan_name,
			status = EXCLUDED.status,
			is_active = EXCLUDED.is_active,
			updated_at = now()
		WHERE (membership_records.display_name, membership_records.plan_name, membership_records.status, membership_records.is_active)
			IS DISTINCT FROM (EXCLUDED.display_name, EXCLUDED.plan_name, EXCLUDED.status, EXCLUDED.is_active)
	`, r.ExternalID, r.DisplayName, r.PlanName, r.Status, r.IsActive)
	if err != nil {
		return false, fmt.Errorf("identity: upsert membership record: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// DeactivateMissingRecords flips records not in seen to inactive.
func (s *RosterStore) DeactivateMissingRecords(ctx context.Context, seen []string) (int64, error) {
	if seen == nil {
		seen = []string{}
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE membership_records
		SET is_active = false, updated_at = now()
		WHERE is_active AND NOT (external_id = ANY($1))
	`, seen)
	if err != nil {
		return 0, fmt.Errorf("identity: deactivate missing membership records: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListDismissals returns every dismissed name.
func (s *RosterStore) ListDismissals(ctx context.Context) ([]Dismissal, error) {
	rows, err := s.db.Query(ctx, `
		SELECT normalized_name, COALESCE(reason, ''), COALESCE(dismissed_by, ''), dismissed_at
		FROM match_dismissals
		ORDER BY normalized_name
	`)
	if err != nil {
		return nil, fmt.Errorf("identity: list dismissals: %w", err)
	}
	defer rows.Close()

	var out []Dismissal
	for rows.Next() {
		var d Dismissal
		if err := rows.Scan(&d.NormalizedName, &d.Reason, &d.DismissedBy, &d.DismissedAt); err != nil {
			return nil, fmt.Errorf("identity: scan dismissal: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("identity: list dismissals: %w", err)
	}
	return out, nil
}

// Dismiss records a dismissal, refreshing the reason when it already exists.
func (s *RosterStore) Dismiss(ctx context.Context, d Dismissal) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO match_dismissals (normalized_name, reason, dismissed_by, dismissed_at)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), now())
		ON CONFLICT (normalized_name) DO UPDATE SET
			reason = EXCLUDED.reason,
			dismissed_by = EXCLUDED.dismissed_by,
			dismissed_at = now()
	`, d.NormalizedName, d.Reason, d.DismissedBy)
	if err != nil {
		return fmt.Errorf("identity: dismiss: %w", err)
	}
	return nil
}

const billingCustomers = `
	SELECT external_customer_id, COALESCE(MAX(customer_name), '')
	FROM (
		SELECT external_customer_id, customer_name FROM recurring_templates
		UNION ALL
		SELECT external_customer_id, customer_name FROM invoices
	) c`

// ListBillingCustomers returns every customer the billing mirror has seen.
func (s *RosterStore) ListBillingCustomers(ctx context.Context) ([]BillingCustomer, error) {
	rows, err := s.db.Query(ctx, billingCustomers+`
		GROUP BY external_customer_id
		ORDER BY 2, 1
	`)
	if err != nil {
		return nil, fmt.Errorf("identity: list billing customers: %w", err)
	}
	defer rows.Close()

	var out []BillingCustomer
	for rows.Next() {
		var c BillingCustomer
		if err := rows.Scan(&c.ExternalID, &c.DisplayName); err != nil {
			return nil, fmt.Errorf("identity: scan billing customer: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("identity: list billing customers: %w", err)
	}
	return out, nil
}

// GetBillingCustomer loads one mirrored billing customer.
func (s *RosterStore) GetBillingCustomer(ctx context.Context, externalID string) (BillingCustomer, error) {
	var c BillingCustomer
	err := s.db.QueryRow(ctx, billingCustomers+`
		WHERE external_customer_id = $1
		GROUP BY external_customer_id
	`, externalID).Scan(&c.ExternalID, &c.DisplayName)
	if errors.Is(err, pgx.ErrNoRows) {
		return BillingCustomer{}, ErrCustomerNotFound
	}
	if err != nil {
		return BillingCustomer{}, fmt.Errorf("identity: get billing customer: %w", err)
	}
	return c, nil
}
