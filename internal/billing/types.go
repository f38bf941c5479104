// Package billing models the billing ledger: recurring charge templates,
// invoices, and the derived overdue state the payment evaluator consumes.
package billing

import "time"

// System is the link system name for the billing ledger.
const System = "billing"

// RecurringTemplate is an active recurring charge as the ledger reports it.
type RecurringTemplate struct {
	TemplateID         string `validate:"required"`
	ExternalCustomerID string `validate:"required"`
	CustomerName       string
	Name               string
	AmountCents        int64 `validate:"gte=0"`
	IntervalType       string
	IntervalCount      int `validate:"gte=0"`
	NextDueDate        time.Time
	Active             bool
}

// Invoice is an unpaid invoice as the ledger reports it.
type Invoice struct {
	InvoiceID          string `validate:"required"`
	ExternalCustomerID string `validate:"required"`
	CustomerName       string
	DocNumber          string
	TotalCents         int64     `validate:"gte=0"`
	BalanceCents       int64     `validate:"gte=0"`
	DueDate            time.Time `validate:"required"`
	TxnDate            time.Time
}

// PaymentStatus is the derived settlement state of an invoice.
type PaymentStatus string

const (
	StatusPaid    PaymentStatus = "paid"
	StatusPartial PaymentStatus = "partial"
	StatusOverdue PaymentStatus = "overdue"
	StatusOpen    PaymentStatus = "open"
)

// InvoiceRecord is an invoice with its derived overdue fields.
type InvoiceRecord struct {
	Invoice
	DaysOverdue   int
	PaymentStatus PaymentStatus
}
