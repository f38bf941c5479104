package identity

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/medspa-roster-sync/internal/apperr"
	"github.com/wolfman30/medspa-roster-sync/internal/audit"
)

type memLinks struct {
	links []Link
}

func (m *memLinks) Link(_ context.Context, req LinkRequest) (Link, bool, error) {
	for _, l := range m.links {
		if !l.IsActive || l.System != req.System {
			continue
		}
		if l.ExternalID == req.ExternalID {
			if l.PatientID == req.PatientID {
				return l, false, nil
			}
			return Link{}, false, &apperr.ConflictError{PatientID: req.PatientID.String(), ExistingPatientID: l.PatientID.String()}
		}
		if l.PatientID == req.PatientID && !req.Replace {
			return Link{}, false, &apperr.ConflictError{PatientID: req.PatientID.String(), ExistingExternal: l.ExternalID}
		}
	}
	for i, l := range m.links {
		if l.IsActive && l.System == req.System && l.PatientID == req.PatientID {
			m.links[i].IsActive = false
		}
	}
	l := Link{ID: uuid.New(), PatientID: req.PatientID, System: req.System, ExternalID: req.ExternalID, MatchMethod: req.MatchMethod, IsActive: true}
	m.links = append(m.links, l)
	return l, true, nil
}

func (m *memLinks) ActiveLinks(_ context.Context, system System) ([]Link, error) {
	var out []Link
	for _, l := range m.links {
		if l.IsActive && l.System == system {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *memLinks) Deactivate(_ context.Context, patientID uuid.UUID, system System) (bool, error) {
	for i, l := range m.links {
		if l.IsActive && l.PatientID == patientID && l.System == system {
			m.links[i].IsActive = false
			return true, nil
		}
	}
	return false, nil
}

type memRoster struct {
	patients   []Patient
	records    []MembershipRecord
	customers  []BillingCustomer
	dismissals []Dismissal
}

func (m *memRoster) ListPatients(context.Context, PatientFilter) ([]Patient, error) {
	return m.patients, nil
}

func (m *memRoster) GetPatient(_ context.Context, id uuid.UUID) (Patient, error) {
	for _, p := range m.patients {
		if p.PatientID == id {
			return p, nil
		}
	}
	return Patient{}, ErrPatientNotFound
}

func (m *memRoster) ListMembershipRecords(context.Context, bool) ([]MembershipRecord, error) {
	return m.records, nil
}

func (m *memRoster) GetMembershipRecord(_ context.Context, id string) (MembershipRecord, error) {
	for _, r := range m.records {
		if r.ExternalID == id {
			return r, nil
		}
	}
	return MembershipRecord{}, ErrRecordNotFound
}

func (m *memRoster) ListDismissals(context.Context) ([]Dismissal, error) {
	return m.dismissals, nil
}

func (m *memRoster) Dismiss(_ context.Context, d Dismissal) error {
	m.dismissals = append(m.dismissals, d)
	return nil
}

func (m *memRoster) ListBillingCustomers(context.Context) ([]BillingCustomer, error) {
	return m.customers, nil
}

func (m *memRoster) GetBillingCustomer(_ context.Context, id string) (BillingCustomer, error) {
	for _, c := range m.customers {
		if c.ExternalID == id {
			return c, nil
		}
	}
	return BillingCustomer{}, ErrCustomerNotFound
}

type memAudit struct {
	mu     sync.Mutex
	events []audit.Event
}

func (m *memAudit) Record(_ context.Context, e audit.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
}

func newTestService() (*Service, *memLinks, *memRoster, *memAudit) {
	links := &memLinks{}
	roster := &memRoster{}
	rec := &memAudit{}
	return NewService(ServiceConfig{Links: links, Roster: roster, Audit: rec}), links, roster, rec
}

func TestResolveMatchCreatesManualLink(t *testing.T) {
	svc, links, roster, rec := newTestService()
	p := patient("Maria Garcia")
	roster.patients = []Patient{p, patient("Maria Garcia")}
	roster.records = []MembershipRecord{record("m-1", "Maria Garcia")}

	link, err := svc.ResolveMatch(context.Background(), "maria garcia", p.PatientID, "m-1", "", "reviewer@clinic")
	require.NoError(t, err)
	assert.Equal(t, MatchManual, link.MatchMethod)
	assert.Len(t, links.links, 1)
	require.Len(t, rec.events, 1)
	assert.Equal(t, audit.EventMatchResolved, rec.events[0].EventType)

	q, err := svc.ReviewQueue(context.Background())
	require.NoError(t, err)
	require.Len(t, q.AlreadyLinked, 1)
	assert.Empty(t, q.Ambiguous)
}

func TestResolveMatchConflictLeavesExistingLink(t *testing.T) {
	svc, links, roster, _ := newTestService()
	first, second := patient("Jane Doe"), patient("Jane Doe")
	roster.patients = []Patient{first, second}
	roster.records = []MembershipRecord{record("m-1", "Jane Doe")}

	_, err := svc.ResolveMatch(context.Background(), "jane doe", first.PatientID, "m-1", MatchManual, "r")
	require.NoError(t, err)

	_, err = svc.ResolveMatch(context.Background(), "jane doe", second.PatientID, "m-1", MatchManual, "r")
	assert.True(t, apperr.IsConflict(err))
	active, _ := links.ActiveLinks(context.Background(), SystemMembership)
	require.Len(t, active, 1)
	assert.Equal(t, first.PatientID, active[0].PatientID)
}

func TestResolveMatchValidatesInputs(t *testing.T) {
	svc, _, roster, _ := newTestService()
	p := patient("Jane Doe")
	roster.patients = []Patient{p}

	_, err := svc.ResolveMatch(context.Background(), "  ", p.PatientID, "m-1", MatchManual, "r")
	assert.True(t, apperr.IsValidation(err))

	_, err = svc.ResolveMatch(context.Background(), "jane doe", uuid.New(), "m-1", MatchManual, "r")
	assert.True(t, apperr.IsValidation(err))

	_, err = svc.ResolveMatch(context.Background(), "jane doe", p.PatientID, "missing", MatchManual, "r")
	assert.True(t, apperr.IsValidation(err))
}

func TestDismissMatchRemovesNameFromQueue(t *testing.T) {
	svc, _, roster, rec := newTestService()
	roster.patients = []Patient{patient("Maria Garcia"), patient("Maria Garcia")}

	q, err := svc.ReviewQueue(context.Background())
	require.NoError(t, err)
	require.Len(t, q.Ambiguous, 1)

	require.NoError(t, svc.DismissMatch(context.Background(), "Mrs. Maria Garcia", "same person, merged in chart", "reviewer"))
	assert.Equal(t, "maria garcia", roster.dismissals[0].NormalizedName)
	assert.Equal(t, audit.EventMatchDismissed, rec.events[0].EventType)

	q, err = svc.ReviewQueue(context.Background())
	require.NoError(t, err)
	assert.Empty(t, q.Ambiguous)
}

func TestConfirmAutoLinksLinksOnlyOneToOnePairs(t *testing.T) {
	svc, links, roster, _ := newTestService()
	jane := patient("Jane Doe")
	roster.patients = []Patient{jane, patient("Ann Lee"), patient("Ann Lee")}
	roster.records = []MembershipRecord{record("m-1", "jane doe"), record("m-2", "Ann Lee")}

	res, err := svc.ConfirmAutoLinks(context.Background(), "reviewer")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Linked)
	assert.Nil(t, res.Failed)
	require.Len(t, links.links, 1)
	assert.Equal(t, jane.PatientID, links.links[0].PatientID)
	assert.Equal(t, MatchAutoName, links.links[0].MatchMethod)

	res, err = svc.ConfirmAutoLinks(context.Background(), "reviewer")
	require.NoError(t, err)
	assert.Equal(t, 0, res.Linked)
}

func TestUnlink(t *testing.T) {
	svc, links, _, rec := newTestService()
	p := uuid.New()
	links.links = []Link{{PatientID: p, System: SystemCRM, ExternalID: "c-1", IsActive: true}}

	ok, err := svc.Unlink(context.Background(), p, SystemCRM, "admin")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, links.links[0].IsActive)
	assert.Equal(t, audit.EventLinkDeactivated, rec.events[0].EventType)

	_, err = svc.Unlink(context.Background(), p, "fax", "admin")
	assert.True(t, apperr.IsValidation(err))
}

func TestLinkExternalCreatesBillingLink(t *testing.T) {
	svc, links, roster, rec := newTestService()
	p := patient("Ana Diaz")
	roster.patients = []Patient{p}
	roster.customers = []BillingCustomer{{ExternalID: "qb-42", DisplayName: "Ana Diaz"}}

	link, err := svc.LinkExternal(context.Background(), p.PatientID, SystemBilling, " qb-42 ", "", false, "ops")
	require.NoError(t, err)
	assert.Equal(t, SystemBilling, link.System)
	assert.Equal(t, "qb-42", link.ExternalID)
	assert.Equal(t, MatchManual, link.MatchMethod)
	require.Len(t, rec.events, 1)
	assert.Equal(t, audit.EventLinkCreated, rec.events[0].EventType)

	active, _ := links.ActiveLinks(context.Background(), SystemBilling)
	require.Len(t, active, 1)
	assert.Equal(t, p.PatientID, active[0].PatientID)
}

func TestLinkExternalReplaceRemapsPatient(t *testing.T) {
	svc, links, roster, _ := newTestService()
	p := patient("Ana Diaz")
	roster.patients = []Patient{p}
	roster.customers = []BillingCustomer{{ExternalID: "qb-1"}, {ExternalID: "qb-2"}}

	_, err := svc.LinkExternal(context.Background(), p.PatientID, SystemBilling, "qb-1", MatchManual, false, "ops")
	require.NoError(t, err)

	_, err = svc.LinkExternal(context.Background(), p.PatientID, SystemBilling, "qb-2", MatchManual, false, "ops")
	assert.True(t, apperr.IsConflict(err))

	_, err = svc.LinkExternal(context.Background(), p.PatientID, SystemBilling, "qb-2", MatchManual, true, "ops")
	require.NoError(t, err)
	active, _ := links.ActiveLinks(context.Background(), SystemBilling)
	require.Len(t, active, 1)
	assert.Equal(t, "qb-2", active[0].ExternalID)
}

func TestLinkExternalValidatesInputs(t *testing.T) {
	svc, _, roster, _ := newTestService()
	p := patient("Ana Diaz")
	roster.patients = []Patient{p}

	tests := []struct {
		name       string
		patientID  uuid.UUID
		system     System
		externalID string
	}{
		{"unknown system", p.PatientID, "ledger", "x-1"},
		{"blank external id", p.PatientID, SystemBilling, "  "},
		{"unknown patient", uuid.New(), SystemCRM, "c-1"},
		{"unmirrored billing customer", p.PatientID, SystemBilling, "qb-404"},
		{"unknown membership record", p.PatientID, SystemMembership, "m-404"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.LinkExternal(context.Background(), tt.patientID, tt.system, tt.externalID, MatchManual, false, "ops")
			assert.True(t, apperr.IsValidation(err), "got %v", err)
		})
	}

	_, err := svc.LinkExternal(context.Background(), p.PatientID, SystemCRM, "c-1", MatchManual, false, "ops")
	assert.NoError(t, err)
}

func TestBillingReviewSuggestsOneToOneNames(t *testing.T) {
	svc, links, roster, _ := newTestService()
	ana, bo, linked := patient("Ana Diaz"), patient("Bo Chen"), patient("Cy Park")
	roster.patients = []Patient{ana, bo, linked}
	roster.customers = []BillingCustomer{
		{ExternalID: "qb-1", DisplayName: "Mrs. Ana Diaz"},
		{ExternalID: "qb-2", DisplayName: "Dee Ray"},
		{ExternalID: "qb-3", DisplayName: "Cy Park"},
	}
	links.links = []Link{{PatientID: linked.PatientID, System: SystemBilling, ExternalID: "qb-3", IsActive: true}}

	review, err := svc.BillingReview(context.Background())
	require.NoError(t, err)
	require.Len(t, review.Suggested, 1)
	assert.Equal(t, "ana diaz", review.Suggested[0].NormalizedName)
	assert.Equal(t, ana.PatientID, review.Suggested[0].Patient.PatientID)
	assert.Equal(t, "qb-1", review.Suggested[0].Customer.ExternalID)
	require.Len(t, review.UnlinkedPatients, 1)
	assert.Equal(t, bo.PatientID, review.UnlinkedPatients[0].PatientID)
	require.Len(t, review.UnlinkedCustomers, 1)
	assert.Equal(t, "qb-2", review.UnlinkedCustomers[0].ExternalID)
}

func TestIsInactiveStatusMatchesPrefixes(t *testing.T) {
	for _, status := range []string{"inactive", "Inactive_Duplicate", "discharged", "discharge_pending"} {
		assert.True(t, IsInactiveStatus(status), status)
	}
	for _, status := range []string{"active", "hold_payment", ""} {
		assert.False(t, IsInactiveStatus(status), status)
	}
}
