package crm

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/wolfman30/medspa-roster-sync/internal/audit"
	"github.com/wolfman30/medspa-roster-sync/internal/billing"
	"github.com/wolfman30/medspa-roster-sync/internal/identity"
	"github.com/wolfman30/medspa-roster-sync/pkg/logging"
)

// Target is one patient's payment state as the CRM should show it.
type Target struct {
	PatientID    uuid.UUID
	FullName     string
	Email        string
	Phone        string
	StatusKey    string
	BalanceCents int64
	DaysOverdue  int
}

// Held reports whether the patient is in a hold status.
func (t Target) Held() bool { return strings.HasPrefix(t.StatusKey, "hold_") }

// Fingerprint summarizes the pushed fields; equal fingerprints need no push.
func (t Target) Fingerprint() string {
	return fmt.Sprintf("%s|%d|%d", t.StatusKey, t.BalanceCents, t.DaysOverdue)
}

type linkStore interface {
	ActiveLink(ctx context.Context, patientID uuid.UUID, system identity.System) (identity.Link, error)
	Link(ctx context.Context, req identity.LinkRequest) (identity.Link, bool, error)
}

type stateStore interface {
	Get(ctx context.Context, patientID uuid.UUID) (SyncState, bool, error)
	Put(ctx context.Context, st SyncState) error
}

// PropagatorConfig wires a Propagator.
type PropagatorConfig struct {
	Client           Client
	Links            linkStore
	State            stateStore
	Audit            audit.Recorder
	HoldTag          string
	BalanceField     string
	DaysOverdueField string
	Logger           *logging.Logger
}

// Propagator pushes one patient's state at a time.
type Propagator struct {
	client           Client
	links            linkStore
	state            stateStore
	audit            audit.Recorder
	holdTag          string
	balanceField     string
	daysOverdueField string
	logger           *logging.Logger
}

// NewPropagator builds a Propagator with defaults for empty settings.
func NewPropagator(cfg PropagatorConfig) *Propagator {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Audit == nil {
		cfg.Audit = audit.Nop{}
	}
	if cfg.HoldTag == "" {
		cfg.HoldTag = "Payment Issue"
	}
	if cfg.BalanceField == "" {
		cfg.BalanceField = "balance_owed"
	}
	if cfg.DaysOverdueField == "" {
		cfg.DaysOverdueField = "days_overdue"
	}
	return &Propagator{
		client:           cfg.Client,
		links:            cfg.Links,
		state:            cfg.State,
		audit:            cfg.Audit,
		holdTag:          cfg.HoldTag,
		balanceField:     cfg.BalanceField,
		daysOverdueField: cfg.DaysOverdueField,
		logger:           cfg.Logger.Component("crm_propagation"),
	}
}

// Sync resolves the patient's contact and pushes its state when it
// differs from what was last pushed. updated is true when a link or a
// contact changed.
func (p *Propagator) Sync(ctx context.Context, t Target) (updated bool, err error) {
	contactID, linked, err := p.resolveContact(ctx, t)
	if err != nil {
		return false, err
	}

	fp := t.Fingerprint()
	prev, found, err := p.state.Get(ctx, t.PatientID)
	if err != nil {
		return linked, err
	}
	if found && prev.ContactID == contactID && prev.Fingerprint == fp {
		return linked, nil
	}

	if t.Held() {
		if err := p.client.AddTagsToContact(ctx, contactID, []string{p.holdTag}); err != nil {
			return linked, err
		}
	}
	if err := p.client.UpdateCustomField(ctx, contactID, p.balanceField, billing.FormatCents(t.BalanceCents)); err != nil {
		return linked, err
	}
	if err := p.client.UpdateCustomField(ctx, contactID, p.daysOverdueField, strconv.Itoa(t.DaysOverdue)); err != nil {
		return linked, err
	}
	if err := p.state.Put(ctx, SyncState{PatientID: t.PatientID, ContactID: contactID, Fingerprint: fp}); err != nil {
		return true, err
	}
	p.logger.Debug("contact updated", "patient_id", t.PatientID, "contact_id", contactID, "held", t.Held())
	return true, nil
}

// resolveContact reuses the active link, else finds by email, then phone,
// else creates. A discovered or created contact is linked before return.
func (p *Propagator) resolveContact(ctx context.Context, t Target) (string, bool, error) {
	link, err := p.links.ActiveLink(ctx, t.PatientID, identity.SystemCRM)
	if err == nil {
		return link.ExternalID, false, nil
	}
	if !errors.Is(err, identity.ErrLinkNotFound) {
		return "", false, err
	}

	var contact *Contact
	method := identity.MatchAutoEmail
	if t.Email != "" {
		if contact, err = p.client.FindContactByEmail(ctx, t.Email); err != nil {
			return "", false, err
		}
	}
	if contact == nil && t.Phone != "" {
		method = identity.MatchAutoPhone
		if contact, err = p.client.FindContactByPhone(ctx, t.Phone); err != nil {
			return "", false, err
		}
	}
	if contact == nil {
		method = identity.MatchCreated
		first, last := splitName(t.FullName)
		created, err := p.client.CreateContact(ctx, ContactInput{
			FirstName: first,
			LastName:  last,
			Name:      strings.TrimSpace(t.FullName),
			Email:     t.Email,
			Phone:     t.Phone,
		})
		if err != nil {
			return "", false, err
		}
		contact = &created
	}

	if _, _, err := p.links.Link(ctx, identity.LinkRequest{
		PatientID:   t.PatientID,
		System:      identity.SystemCRM,
		ExternalID:  contact.ID,
		MatchMethod: method,
	}); err != nil {
		return "", false, err
	}
	p.audit.Record(ctx, audit.Event{
		EventType: audit.EventContactLinked,
		PatientID: t.PatientID.String(),
		Actor:     "system",
		Details:   audit.Details(map[string]string{"contact_id": contact.ID, "match_method": string(method)}),
	})
	p.logger.Info("contact linked", "patient_id", t.PatientID, "contact_id", contact.ID, "method", method)
	return contact.ID, true, nil
}

func splitName(full string) (string, string) {
	parts := strings.Fields(full)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	default:
		return parts[0], strings.Join(parts[1:], " ")
	}
}
