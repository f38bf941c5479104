package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/wolfman30/medspa-roster-sync/internal/database"
)

// MirrorStore keeps the local copies of templates and invoices. Every
// write is keyed by the ledger's id and reports whether a row changed.
type MirrorStore struct {
	db database.Querier
}

// NewMirrorStore returns a MirrorStore backed by db.
func NewMirrorStore(db database.Querier) *MirrorStore {
	return &MirrorStore{db: db}
}

func nullableDate(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

// UpsertTemplate mirrors one recurring template.
func (s *MirrorStore) UpsertTemplate(ctx context.Context, t RecurringTemplate) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		INSERT INTO recurring_templates (
			template_id, external_customer_id, customer_name, name, amount_cents,
			interval_type, interval_count, next_due_date, active, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		ON CONFLICT (template_id) DO UPDATE SET
			external_customer_id = EXCLUDED.external_customer_id,
			customer_name = EXCLUDED.customer_name,
			name = EXCLUDED.name,
			amount_cents = EXCLUDED.amount_cents,
			interval_type = EXCLUDED.interval_type,
			interval_count = EXCLUDED.interval_count,
			next_due_date = EXCLUDED.next_due_date,
			active = EXCLUDED.active,
			updated_at = now()
		WHERE (recurring_templates.external_customer_id, recurring_templates.customer_name, recurring_templates.name,
		       recurring_templates.amount_cents, recurring_templates.interval_type, recurring_templates.interval_count,
		       recurring_templates.next_due_date, recurring_templates.active)
			IS DISTINCT FROM (EXCLUDED.external_customer_id, EXCLUDED.customer_name, EXCLUDED.name,
		       EXCLUDED.amount_cents, EXCLUDED.interval_type, EXCLUDED.interval_count,
		       EXCLUDED.next_due_date, EXCLUDED.active)
	`, t.TemplateID, t.ExternalCustomerID, t.CustomerName, t.Name, t.AmountCents,
		t.IntervalType, t.IntervalCount, nullableDate(t.NextDueDate), t.Active)
	if err != nil {
		return false, fmt.Errorf("billing: upsert template %s: %w", t.TemplateID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// DeactivateMissingTemplates marks active mirror rows absent from seen as
// inactive.
func (s *MirrorStore) DeactivateMissingTemplates(ctx context.Context, seen []string) (int64, error) {
	if seen == nil {
		seen = []string{}
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE recurring_templates
		SET active = false, updated_at = now()
		WHERE active AND NOT (template_id = ANY($1))
	`, seen)
	if err != nil {
		return 0, fmt.Errorf("billing: deactivate missing templates: %w", err)
	}
	return tag.RowsAffected(), nil
}

// UpsertInvoice mirrors one invoice with its derived fields.
func (s *MirrorStore) UpsertInvoice(ctx context.Context, rec InvoiceRecord) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		INSERT INTO invoices (
			invoice_id, external_customer_id, customer_name, doc_number, total_cents, balance_cents,
			due_date, txn_date, days_overdue, payment_status, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
		ON CONFLICT (invoice_id) DO UPDATE SET
			external_customer_id = EXCLUDED.external_customer_id,
			customer_name = EXCLUDED.customer_name,
			doc_number = EXCLUDED.doc_number,
			total_cents = EXCLUDED.total_cents,
			balance_cents = EXCLUDED.balance_cents,
			due_date = EXCLUDED.due_date,
			txn_date = EXCLUDED.txn_date,
			days_overdue = EXCLUDED.days_overdue,
			payment_status = EXCLUDED.payment_status,
			updated_at = now()
		WHERE (invoices.external_customer_id, invoices.customer_name, invoices.doc_number, invoices.total_cents,
		       invoices.balance_cents, invoices.due_date, invoices.txn_date, invoices.days_overdue, invoices.payment_status)
			IS DISTINCT FROM (EXCLUDED.external_customer_id, EXCLUDED.customer_name, EXCLUDED.doc_number, EXCLUDED.total_cents,
		       EXCLUDED.balance_cents, EXCLUDED.due_date, EXCLUDED.txn_date, EXCLUDED.days_overdue, EXCLUDED.payment_status)
	`, rec.InvoiceID, rec.ExternalCustomerID, rec.CustomerName, rec.DocNumber, rec.TotalCents, rec.BalanceCents,
		nullableDate(rec.DueDate), nullableDate(rec.TxnDate), rec.DaysOverdue, string(rec.PaymentStatus))
	if err != nil {
		return false, fmt.Errorf("billing: upsert invoice %s: %w", rec.InvoiceID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// CloseMissingInvoices settles unpaid mirror rows the ledger no longer
// lists as open. Call only after a complete listing.
func (s *MirrorStore) CloseMissingInvoices(ctx context.Context, seen []string) (int64, error) {
	if seen == nil {
		seen = []string{}
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE invoices
		SET balance_cents = 0, days_overdue = 0, payment_status = 'paid', updated_at = now()
		WHERE payment_status <> 'paid' AND NOT (invoice_id = ANY($1))
	`, seen)
	if err != nil {
		return 0, fmt.Errorf("billing: close missing invoices: %w", err)
	}
	return tag.RowsAffected(), nil
}
