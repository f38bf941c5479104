// Package identity links internal patients to records in the external
// billing, CRM and membership systems.
//
// Matching is deterministic: two records correspond only when their
// normalized names are equal and each side has exactly one candidate.
// Everything else is surfaced for manual review.
package identity

import (
	"time"

	"github.com/google/uuid"
)

// System names an external system of record.
type System string

const (
	SystemBilling    System = "billing"
	SystemCRM        System = "crm"
	SystemMembership System = "membership"
)

// Valid reports whether s is a known system.
func (s System) Valid() bool {
	switch s {
	case SystemBilling, SystemCRM, SystemMembership:
		return true
	}
	return false
}

// MatchMethod records how a link was established.
type MatchMethod string

const (
	MatchAutoName  MatchMethod = "auto_name_match"
	MatchManual    MatchMethod = "manual"
	MatchExisting  MatchMethod = "existing"
	MatchAutoEmail MatchMethod = "auto_email_match"
	MatchAutoPhone MatchMethod = "auto_phone_match"
	MatchCreated   MatchMethod = "created"
)

// Valid reports whether m is a known method.
func (m MatchMethod) Valid() bool {
	switch m {
	case MatchAutoName, MatchManual, MatchExisting, MatchAutoEmail, MatchAutoPhone, MatchCreated:
		return true
	}
	return false
}

// Link associates a patient with one record in an external system.
type Link struct {
	ID            uuid.UUID
	PatientID     uuid.UUID
	System        System
	ExternalID    string
	MatchMethod   MatchMethod
	IsActive      bool
	CreatedAt     time.Time
	DeactivatedAt *time.Time
}

// Patient is the slice of the internal patient record identity needs.
type Patient struct {
	PatientID        uuid.UUID `json:"patient_id"`
	FullName         string    `json:"full_name"`
	Email            string    `json:"email,omitempty"`
	Phone            string    `json:"phone,omitempty"`
	StatusKey        string    `json:"status_key"`
	PaymentMethodKey string    `json:"payment_method_key,omitempty"`
}

// NormalizedName is the patient's match key.
func (p Patient) NormalizedName() string { return Normalize(p.FullName) }

// MembershipRecord is a member row imported from the membership system.
type MembershipRecord struct {
	ExternalID  string    `json:"external_id"`
	DisplayName string    `json:"display_name"`
	PlanName    string    `json:"plan_name,omitempty"`
	Status      string    `json:"status"`
	IsActive    bool      `json:"is_active"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NormalizedName is the record's match key.
func (m MembershipRecord) NormalizedName() string { return Normalize(m.DisplayName) }

// Dismissal excludes a normalized name from the review queue.
type Dismissal struct {
	NormalizedName string    `json:"normalized_name"`
	Reason         string    `json:"reason,omitempty"`
	DismissedBy    string    `json:"dismissed_by,omitempty"`
	DismissedAt    time.Time `json:"dismissed_at"`
}

// BillingCustomer is a billing-system customer seen in the mirrored
// templates or invoices.
type BillingCustomer struct {
	ExternalID  string `json:"external_id"`
	DisplayName string `json:"display_name"`
}

// NormalizedName is the customer's match key.
func (c BillingCustomer) NormalizedName() string { return Normalize(c.DisplayName) }

// BillingSuggestion pairs the only unlinked patient and the only unlinked
// billing customer sharing a normalized name.
type BillingSuggestion struct {
	NormalizedName string          `json:"normalized_name"`
	Patient        Patient         `json:"patient"`
	Customer       BillingCustomer `json:"customer"`
}

// BillingReview lists what still needs a billing link.
type BillingReview struct {
	Suggested         []BillingSuggestion `json:"suggested"`
	UnlinkedPatients  []Patient           `json:"unlinked_patients"`
	UnlinkedCustomers []BillingCustomer   `json:"unlinked_customers"`
}
