package identity

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/wolfman30/medspa-roster-sync/internal/apperr"
	"github.com/wolfman30/medspa-roster-sync/internal/audit"
	"github.com/wolfman30/medspa-roster-sync/pkg/logging"
)

// InactiveStatuses are the status prefixes excluded from matching and
// duplicate sweeps.
var InactiveStatuses = []string{"inactive", "discharg"}

// IsInactiveStatus reports whether status starts with one of InactiveStatuses.
func IsInactiveStatus(status string) bool {
	status = strings.ToLower(strings.TrimSpace(status))
	for _, prefix := range InactiveStatuses {
		if strings.HasPrefix(status, prefix) {
			return true
		}
	}
	return false
}

type linkStore interface {
	Link(ctx context.Context, req LinkRequest) (Link, bool, error)
	ActiveLinks(ctx context.Context, system System) ([]Link, error)
	Deactivate(ctx context.Context, patientID uuid.UUID, system System) (bool, error)
}

type rosterStore interface {
	ListPatients(ctx context.Context, filter PatientFilter) ([]Patient, error)
	GetPatient(ctx context.Context, id uuid.UUID) (Patient, error)
	ListMembershipRecords(ctx context.Context, activeOnly bool) ([]MembershipRecord, error)
	GetMembershipRecord(ctx context.Context, externalID string) (MembershipRecord, error)
	ListDismissals(ctx context.Context) ([]Dismissal, error)
	Dismiss(ctx context.Context, d Dismissal) error
	ListBillingCustomers(ctx context.Context) ([]BillingCustomer, error)
	GetBillingCustomer(ctx context.Context, externalID string) (BillingCustomer, error)
}

// ServiceConfig wires a Service.
type ServiceConfig struct {
	Links                    linkStore
	Roster                   rosterStore
	Audit                    audit.Recorder
	MembershipPaymentMethods []string
	BillingPaymentMethods    []string
	Logger                   *logging.Logger
}

// Service exposes the reviewer-facing identity operations.
type Service struct {
	links          linkStore
	roster         rosterStore
	audit          audit.Recorder
	paymentMethods []string
	billingMethods []string
	logger         *logging.Logger
}

// NewService builds a Service.
func NewService(cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	recorder := cfg.Audit
	if recorder == nil {
		recorder = audit.Nop{}
	}
	return &Service{
		links:          cfg.Links,
		roster:         cfg.Roster,
		audit:          recorder,
		paymentMethods: cfg.MembershipPaymentMethods,
		billingMethods: cfg.BillingPaymentMethods,
		logger:         logger.Component("identity"),
	}
}

// ReviewQueue classifies the current roster against imported membership
// records.
func (s *Service) ReviewQueue(ctx context.Context) (ReviewQueue, error) {
	classes, err := s.classify(ctx)
	if err != nil {
		return ReviewQueue{}, err
	}
	return Partition(classes), nil
}

func (s *Service) classify(ctx context.Context) ([]Classification, error) {
	patients, err := s.roster.ListPatients(ctx, PatientFilter{
		PaymentMethods:  s.paymentMethods,
		ExcludeStatuses: InactiveStatuses,
	})
	if err != nil {
		return nil, err
	}
	records, err := s.roster.ListMembershipRecords(ctx, true)
	if err != nil {
		return nil, err
	}
	links, err := s.links.ActiveLinks(ctx, SystemMembership)
	if err != nil {
		return nil, err
	}
	dismissals, err := s.roster.ListDismissals(ctx)
	if err != nil {
		return nil, err
	}
	dismissed := make([]string, len(dismissals))
	for i, d := range dismissals {
		dismissed[i] = d.NormalizedName
	}
	return Resolve(ResolveInput{
		Patients:    patients,
		Records:     records,
		ActiveLinks: links,
		Dismissed:   dismissed,
	}), nil
}

// ResolveMatch links a patient to a membership record chosen by a
// reviewer. An existing active link on either side is a ConflictError.
func (s *Service) ResolveMatch(ctx context.Context, normalizedName string, patientID uuid.UUID, externalID string, method MatchMethod, actor string) (Link, error) {
	key := Normalize(normalizedName)
	if key == "" {
		return Link{}, &apperr.ValidationError{Entity: "match", ID: externalID, Field: "normalized_name", Reason: "is required"}
	}
	if method == "" {
		method = MatchManual
	}
	if _, err := s.roster.GetPatient(ctx, patientID); err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return Link{}, &apperr.ValidationError{Entity: "match", ID: key, Field: "patient_id", Reason: "unknown patient"}
		}
		return Link{}, err
	}
	if _, err := s.roster.GetMembershipRecord(ctx, externalID); err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return Link{}, &apperr.ValidationError{Entity: "match", ID: key, Field: "external_id", Reason: "unknown membership record"}
		}
		return Link{}, err
	}

	link, changed, err := s.links.Link(ctx, LinkRequest{
		PatientID:   patientID,
		System:      SystemMembership,
		ExternalID:  externalID,
		MatchMethod: method,
	})
	if err != nil {
		return Link{}, err
	}
	if changed {
		s.audit.Record(ctx, audit.Event{
			EventType: audit.EventMatchResolved,
			PatientID: patientID.String(),
			Actor:     actor,
			Details: audit.Details(map[string]string{
				"normalized_name": key,
				"external_id":     externalID,
				"match_method":    string(method),
			}),
		})
	}
	s.logger.Info("match resolved", "normalized_name", key, "patient_id", patientID, "external_id", externalID, "changed", changed)
	return link, nil
}

// LinkExternal links a patient to a record in any external system. The
// record must be known locally for billing and membership. With replace,
// the patient's current link for the system is deactivated in the same
// transaction; without it an existing different link is a ConflictError.
func (s *Service) LinkExternal(ctx context.Context, patientID uuid.UUID, system System, externalID string, method MatchMethod, replace bool, actor string) (Link, error) {
	externalID = strings.TrimSpace(externalID)
	if !system.Valid() {
		return Link{}, &apperr.ValidationError{Entity: "link", ID: externalID, Field: "system", Reason: fmt.Sprintf("unknown system %q", system)}
	}
	if externalID == "" {
		return Link{}, &apperr.ValidationError{Entity: "link", ID: patientID.String(), Field: "external_id", Reason: "is required"}
	}
	if method == "" {
		method = MatchManual
	}
	if _, err := s.roster.GetPatient(ctx, patientID); err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return Link{}, &apperr.ValidationError{Entity: "link", ID: externalID, Field: "patient_id", Reason: "unknown patient"}
		}
		return Link{}, err
	}
	if err := s.checkExternal(ctx, system, externalID); err != nil {
		return Link{}, err
	}

	link, changed, err := s.links.Link(ctx, LinkRequest{
		PatientID:   patientID,
		System:      system,
		ExternalID:  externalID,
		MatchMethod: method,
		Replace:     replace,
	})
	if err != nil {
		return Link{}, err
	}
	if changed {
		s.audit.Record(ctx, audit.Event{
			EventType: audit.EventLinkCreated,
			PatientID: patientID.String(),
			Actor:     actor,
			Details: audit.Details(map[string]any{
				"system":       string(system),
				"external_id":  externalID,
				"match_method": string(method),
				"replace":      replace,
			}),
		})
	}
	s.logger.Info("external link set", "patient_id", patientID, "system", system, "external_id", externalID, "changed", changed)
	return link, nil
}

func (s *Service) checkExternal(ctx context.Context, system System, externalID string) error {
	var err error
	switch system {
	case SystemMembership:
		_, err = s.roster.GetMembershipRecord(ctx, externalID)
	case SystemBilling:
		_, err = s.roster.GetBillingCustomer(ctx, externalID)
	}
	switch {
	case errors.Is(err, ErrRecordNotFound):
		return &apperr.ValidationError{Entity: "link", ID: externalID, Field: "external_id", Reason: "unknown membership record"}
	case errors.Is(err, ErrCustomerNotFound):
		return &apperr.ValidationError{Entity: "link", ID: externalID, Field: "external_id", Reason: "unknown billing customer"}
	}
	return err
}

// BillingReview lists billing-paying patients and mirrored billing
// customers that have no active billing link. Names with exactly one
// unlinked candidate on each side are returned as suggestions.
func (s *Service) BillingReview(ctx context.Context) (BillingReview, error) {
	patients, err := s.roster.ListPatients(ctx, PatientFilter{
		PaymentMethods:  s.billingMethods,
		ExcludeStatuses: InactiveStatuses,
	})
	if err != nil {
		return BillingReview{}, err
	}
	customers, err := s.roster.ListBillingCustomers(ctx)
	if err != nil {
		return BillingReview{}, err
	}
	links, err := s.links.ActiveLinks(ctx, SystemBilling)
	if err != nil {
		return BillingReview{}, err
	}
	linkedPatients := make(map[uuid.UUID]struct{}, len(links))
	linkedCustomers := make(map[string]struct{}, len(links))
	for _, l := range links {
		linkedPatients[l.PatientID] = struct{}{}
		linkedCustomers[l.ExternalID] = struct{}{}
	}

	byNamePatients := map[string][]Patient{}
	byNameCustomers := map[string][]BillingCustomer{}
	for _, p := range patients {
		if _, ok := linkedPatients[p.PatientID]; !ok {
			byNamePatients[p.NormalizedName()] = append(byNamePatients[p.NormalizedName()], p)
		}
	}
	for _, c := range customers {
		if _, ok := linkedCustomers[c.ExternalID]; !ok {
			byNameCustomers[c.NormalizedName()] = append(byNameCustomers[c.NormalizedName()], c)
		}
	}

	review := BillingReview{
		Suggested:         []BillingSuggestion{},
		UnlinkedPatients:  []Patient{},
		UnlinkedCustomers: []BillingCustomer{},
	}
	suggested := map[string]bool{}
	for name, ps := range byNamePatients {
		if cs := byNameCustomers[name]; name != "" && len(ps) == 1 && len(cs) == 1 {
			suggested[name] = true
			review.Suggested = append(review.Suggested, BillingSuggestion{NormalizedName: name, Patient: ps[0], Customer: cs[0]})
		}
	}
	for _, p := range patients {
		if _, ok := linkedPatients[p.PatientID]; !ok && !suggested[p.NormalizedName()] {
			review.UnlinkedPatients = append(review.UnlinkedPatients, p)
		}
	}
	for _, c := range customers {
		if _, ok := linkedCustomers[c.ExternalID]; !ok && !suggested[c.NormalizedName()] {
			review.UnlinkedCustomers = append(review.UnlinkedCustomers, c)
		}
	}
	sort.Slice(review.Suggested, func(i, j int) bool {
		return review.Suggested[i].NormalizedName < review.Suggested[j].NormalizedName
	})
	return review, nil
}

// DismissMatch removes a normalized name from future review queues.
func (s *Service) DismissMatch(ctx context.Context, normalizedName, reason, actor string) error {
	key := Normalize(normalizedName)
	if key == "" {
		return &apperr.ValidationError{Entity: "dismissal", Field: "normalized_name", Reason: "is required"}
	}
	if err := s.roster.Dismiss(ctx, Dismissal{
		NormalizedName: key,
		Reason:         strings.TrimSpace(reason),
		DismissedBy:    actor,
	}); err != nil {
		return err
	}
	s.audit.Record(ctx, audit.Event{
		EventType: audit.EventMatchDismissed,
		Actor:     actor,
		Details:   audit.Details(map[string]string{"normalized_name": key, "reason": reason}),
	})
	return nil
}

// ConfirmResult reports a bulk confirmation.
type ConfirmResult struct {
	Linked int               `json:"linked"`
	Failed map[string]string `json:"failed,omitempty"`
}

// ConfirmAutoLinks creates links for every auto-linkable name. Failures
// are reported per name and do not stop the batch.
func (s *Service) ConfirmAutoLinks(ctx context.Context, actor string) (ConfirmResult, error) {
	classes, err := s.classify(ctx)
	if err != nil {
		return ConfirmResult{}, err
	}
	result := ConfirmResult{Failed: map[string]string{}}
	for _, c := range classes {
		if c.Outcome != OutcomeAutoLinkable {
			continue
		}
		p, r := c.Patients[0], c.Records[0]
		_, changed, err := s.links.Link(ctx, LinkRequest{
			PatientID:   p.PatientID,
			System:      SystemMembership,
			ExternalID:  r.ExternalID,
			MatchMethod: MatchAutoName,
		})
		if err != nil {
			if apperr.IsFatal(err) {
				return result, err
			}
			result.Failed[c.NormalizedName] = err.Error()
			s.logger.Warn("auto link failed", "normalized_name", c.NormalizedName, "error", err)
			continue
		}
		if changed {
			result.Linked++
			s.audit.Record(ctx, audit.Event{
				EventType: audit.EventAutoLinked,
				PatientID: p.PatientID.String(),
				Actor:     actor,
				Details:   audit.Details(map[string]string{"normalized_name": c.NormalizedName, "external_id": r.ExternalID}),
			})
		}
	}
	if len(result.Failed) == 0 {
		result.Failed = nil
	}
	return result, nil
}

// Unlink deactivates the patient's active link for system.
func (s *Service) Unlink(ctx context.Context, patientID uuid.UUID, system System, actor string) (bool, error) {
	if !system.Valid() {
		return false, &apperr.ValidationError{Entity: "link", ID: patientID.String(), Field: "system", Reason: fmt.Sprintf("unknown system %q", system)}
	}
	ok, err := s.links.Deactivate(ctx, patientID, system)
	if err != nil {
		return false, err
	}
	if ok {
		s.audit.Record(ctx, audit.Event{
			EventType: audit.EventLinkDeactivated,
			PatientID: patientID.String(),
			Actor:     actor,
			Details:   audit.Details(map[string]string{"system": string(system)}),
		})
	}
	return ok, nil
}
