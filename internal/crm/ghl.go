package crm

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/wolfman30/medspa-roster-sync/internal/apperr"
	"github.com/wolfman30/medspa-roster-sync/internal/upstream"
)

const (
	ghlSystem  = "gohighlevel"
	ghlVersion = "2021-07-28"
)

// GHLConfig configures the GoHighLevel client.
type GHLConfig struct {
	BaseURL    string
	APIKey     string
	LocationID string
	Transport  upstream.Config
}

// GHLClient talks to the GoHighLevel contacts API.
type GHLClient struct {
	locationID string
	configured bool
	http       *upstream.Client
}

// NewGHLClient creates a client. Missing credentials or location surface as
// a configuration error on first use.
func NewGHLClient(cfg GHLConfig) *GHLClient {
	key := strings.TrimSpace(cfg.APIKey)
	transport := cfg.Transport
	transport.System = ghlSystem
	transport.BaseURL = cfg.BaseURL
	transport.Authorize = func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+key)
		r.Header.Set("Version", ghlVersion)
		r.Header.Set("Accept", "application/json")
	}
	location := strings.TrimSpace(cfg.LocationID)
	return &GHLClient{
		locationID: location,
		configured: key != "" && location != "",
		http:       upstream.New(transport),
	}
}

type searchFilter struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    string `json:"value"`
}

type searchRequest struct {
	LocationID string         `json:"locationId"`
	Page       int            `json:"page"`
	PageLimit  int            `json:"pageLimit"`
	Filters    []searchFilter `json:"filters"`
}

type contactsEnvelope struct {
	Contacts []Contact `json:"contacts"`
	Contact  *Contact  `json:"contact"`
}

func (e contactsEnvelope) all() []Contact {
	if len(e.Contacts) > 0 {
		return e.Contacts
	}
	if e.Contact != nil {
		return []Contact{*e.Contact}
	}
	return nil
}

type contactEnvelope struct {
	Contact Contact `json:"contact"`
}

// FindContactByEmail returns the contact whose email equals email, case
// insensitively.
func (c *GHLClient) FindContactByEmail(ctx context.Context, email string) (*Contact, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, nil
	}
	contacts, err := c.search(ctx, "search_contacts_email", searchFilter{Field: "email", Operator: "eq", Value: email})
	if err != nil {
		return nil, err
	}
	for i := range contacts {
		if strings.EqualFold(strings.TrimSpace(contacts[i].Email), email) {
			return &contacts[i], nil
		}
	}
	return nil, nil
}

// FindContactByPhone searches by the digits of phone.
func (c *GHLClient) FindContactByPhone(ctx context.Context, phone string) (*Contact, error) {
	digits := digitsOnly(phone)
	if digits == "" {
		return nil, nil
	}
	contacts, err := c.search(ctx, "search_contacts_phone", searchFilter{Field: "phone", Operator: "eq", Value: digits})
	if err != nil {
		return nil, err
	}
	for i := range contacts {
		if contacts[i].ID != "" && samePhone(contacts[i].Phone, digits) {
			return &contacts[i], nil
		}
	}
	return nil, nil
}

// samePhone compares digit strings with a leading North American country
// code removed, so "+1 555 123 4567" matches "5551234567".
func samePhone(contactPhone, digits string) bool {
	got := nationalDigits(digitsOnly(contactPhone))
	return got != "" && got == nationalDigits(digits)
}

func nationalDigits(d string) string {
	if len(d) == 11 && d[0] == '1' {
		return d[1:]
	}
	return d
}

// CreateContact creates a contact in the configured location.
func (c *GHLClient) CreateContact(ctx context.Context, in ContactInput) (Contact, error) {
	if !c.configured {
		return Contact{}, apperr.NotConfigured(ghlSystem)
	}
	body := struct {
		ContactInput
		LocationID string `json:"locationId"`
	}{ContactInput: in, LocationID: c.locationID}
	var out contactEnvelope
	if err := c.http.Do(ctx, "create_contact", http.MethodPost, "/contacts/", nil, body, &out); err != nil {
		return Contact{}, err
	}
	if out.Contact.ID == "" {
		return Contact{}, &apperr.ExternalServiceError{System: ghlSystem, Op: "create_contact", Err: errors.New("response missing contact id")}
	}
	return out.Contact, nil
}

// UpdateContact applies the non-empty fields of in.
func (c *GHLClient) UpdateContact(ctx context.Context, contactID string, in ContactInput) (Contact, error) {
	if !c.configured {
		return Contact{}, apperr.NotConfigured(ghlSystem)
	}
	var out contactEnvelope
	if err := c.http.Do(ctx, "update_contact", http.MethodPut, "/contacts/"+contactID, nil, in, &out); err != nil {
		return Contact{}, err
	}
	return out.Contact, nil
}

// AddTagsToContact adds tags; tags already present are left as they are.
func (c *GHLClient) AddTagsToContact(ctx context.Context, contactID string, tags []string) error {
	if !c.configured {
		return apperr.NotConfigured(ghlSystem)
	}
	if len(tags) == 0 {
		return nil
	}
	body := map[string][]string{"tags": tags}
	return c.http.Do(ctx, "add_tags", http.MethodPost, "/contacts/"+contactID+"/tags", nil, body, nil)
}

// UpdateCustomField sets one custom field by key.
func (c *GHLClient) UpdateCustomField(ctx context.Context, contactID, key, value string) error {
	_, err := c.UpdateContact(ctx, contactID, ContactInput{CustomFields: []CustomField{{Key: key, Value: value}}})
	return err
}

func (c *GHLClient) search(ctx context.Context, op string, filter searchFilter) ([]Contact, error) {
	if !c.configured {
		return nil, apperr.NotConfigured(ghlSystem)
	}
	req := searchRequest{LocationID: c.locationID, Page: 1, PageLimit: 20, Filters: []searchFilter{filter}}
	var out contactsEnvelope
	if err := c.http.Do(ctx, op, http.MethodPost, "/contacts/search", nil, req, &out); err != nil {
		var ext *apperr.ExternalServiceError
		if errors.As(err, &ext) && ext.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	return out.all(), nil
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
