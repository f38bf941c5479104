// Package crm pushes payment state to the CRM contact system: it finds or
// creates the patient's contact, links it, and applies the hold tag and
// balance fields.
package crm

import "context"

// Contact is a CRM contact.
type Contact struct {
	ID           string        `json:"id"`
	FirstName    string        `json:"firstName,omitempty"`
	LastName     string        `json:"lastName,omitempty"`
	Name         string        `json:"name,omitempty"`
	Email        string        `json:"email,omitempty"`
	Phone        string        `json:"phone,omitempty"`
	Tags         []string      `json:"tags,omitempty"`
	CustomFields []CustomField `json:"customFields,omitempty"`
}

// CustomField is one custom field value on a contact.
type CustomField struct {
	ID    string `json:"id,omitempty"`
	Key   string `json:"key,omitempty"`
	Value string `json:"field_value"`
}

// ContactInput creates or updates a contact. Empty fields are left alone.
type ContactInput struct {
	FirstName    string        `json:"firstName,omitempty"`
	LastName     string        `json:"lastName,omitempty"`
	Name         string        `json:"name,omitempty"`
	Email        string        `json:"email,omitempty"`
	Phone        string        `json:"phone,omitempty"`
	Tags         []string      `json:"tags,omitempty"`
	CustomFields []CustomField `json:"customFields,omitempty"`
}

// Client is the CRM surface used by propagation. Find methods return nil
// without error when nothing matches.
type Client interface {
	FindContactByEmail(ctx context.Context, email string) (*Contact, error)
	FindContactByPhone(ctx context.Context, phone string) (*Contact, error)
	CreateContact(ctx context.Context, in ContactInput) (Contact, error)
	UpdateContact(ctx context.Context, contactID string, in ContactInput) (Contact, error)
	AddTagsToContact(ctx context.Context, contactID string, tags []string) error
	UpdateCustomField(ctx context.Context, contactID, key, value string) error
}
