package crm

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/medspa-roster-sync/internal/apperr"
	"github.com/wolfman30/medspa-roster-sync/internal/identity"
)

type fakeCRM struct {
	byEmail map[string]Contact
	byPhone map[string]Contact
	created []ContactInput
	tags    map[string][]string
	fields  map[string]map[string]string
	failTag error
}

func newFakeCRM() *fakeCRM {
	return &fakeCRM{
		byEmail: map[string]Contact{},
		byPhone: map[string]Contact{},
		tags:    map[string][]string{},
		fields:  map[string]map[string]string{},
	}
}

func (f *fakeCRM) FindContactByEmail(_ context.Context, email string) (*Contact, error) {
	if c, ok := f.byEmail[email]; ok {
		return &c, nil
	}
	return nil, nil
}

func (f *fakeCRM) FindContactByPhone(_ context.Context, phone string) (*Contact, error) {
	if c, ok := f.byPhone[phone]; ok {
		return &c, nil
	}
	return nil, nil
}

func (f *fakeCRM) CreateContact(_ context.Context, in ContactInput) (Contact, error) {
	f.created = append(f.created, in)
	return Contact{ID: "created-1"}, nil
}

func (f *fakeCRM) UpdateContact(context.Context, string, ContactInput) (Contact, error) {
	return Contact{}, nil
}

func (f *fakeCRM) AddTagsToContact(_ context.Context, id string, tags []string) error {
	if f.failTag != nil {
		return f.failTag
	}
	f.tags[id] = append(f.tags[id], tags...)
	return nil
}

func (f *fakeCRM) UpdateCustomField(_ context.Context, id, key, value string) error {
	if f.fields[id] == nil {
		f.fields[id] = map[string]string{}
	}
	f.fields[id][key] = value
	return nil
}

type memLinks struct {
	links map[uuid.UUID]identity.Link
	calls []identity.LinkRequest
}

func (m *memLinks) ActiveLink(_ context.Context, patientID uuid.UUID, _ identity.System) (identity.Link, error) {
	if l, ok := m.links[patientID]; ok {
		return l, nil
	}
	return identity.Link{}, identity.ErrLinkNotFound
}

func (m *memLinks) Link(_ context.Context, req identity.LinkRequest) (identity.Link, bool, error) {
	m.calls = append(m.calls, req)
	l := identity.Link{PatientID: req.PatientID, System: req.System, ExternalID: req.ExternalID, MatchMethod: req.MatchMethod, IsActive: true}
	m.links[req.PatientID] = l
	return l, true, nil
}

type memState map[uuid.UUID]SyncState

func (m memState) Get(_ context.Context, id uuid.UUID) (SyncState, bool, error) {
	st, ok := m[id]
	return st, ok, nil
}

func (m memState) Put(_ context.Context, st SyncState) error {
	m[st.PatientID] = st
	return nil
}

func newTestPropagator(client *fakeCRM, links *memLinks, state memState) *Propagator {
	return NewPropagator(PropagatorConfig{Client: client, Links: links, State: state})
}

func TestSyncLinksByEmailAndTagsHeldPatient(t *testing.T) {
	client := newFakeCRM()
	client.byEmail["jane@example.com"] = Contact{ID: "c-1"}
	links := &memLinks{links: map[uuid.UUID]identity.Link{}}
	state := memState{}
	p := newTestPropagator(client, links, state)

	target := Target{PatientID: uuid.New(), FullName: "Jane Doe", Email: "jane@example.com", StatusKey: "hold_critical", BalanceCents: 60000, DaysOverdue: 65}
	updated, err := p.Sync(context.Background(), target)
	require.NoError(t, err)
	assert.True(t, updated)
	require.Len(t, links.calls, 1)
	assert.Equal(t, identity.MatchAutoEmail, links.calls[0].MatchMethod)
	assert.Equal(t, []string{"Payment Issue"}, client.tags["c-1"])
	assert.Equal(t, "600.00", client.fields["c-1"]["balance_owed"])
	assert.Equal(t, "65", client.fields["c-1"]["days_overdue"])

	updated, err = p.Sync(context.Background(), target)
	require.NoError(t, err)
	assert.False(t, updated, "unchanged state is not pushed again")
	assert.Len(t, client.tags["c-1"], 1)
	assert.Len(t, links.calls, 1)
}

func TestSyncFallsBackToPhoneThenCreate(t *testing.T) {
	client := newFakeCRM()
	client.byPhone["555-0100"] = Contact{ID: "c-phone"}
	links := &memLinks{links: map[uuid.UUID]identity.Link{}}
	p := newTestPropagator(client, links, memState{})

	_, err := p.Sync(context.Background(), Target{PatientID: uuid.New(), FullName: "Ann Lee", Email: "none@example.com", Phone: "555-0100", StatusKey: "active"})
	require.NoError(t, err)
	assert.Equal(t, identity.MatchAutoPhone, links.calls[0].MatchMethod)
	assert.Empty(t, client.tags)

	_, err = p.Sync(context.Background(), Target{PatientID: uuid.New(), FullName: "Kim  Park Lee", StatusKey: "active"})
	require.NoError(t, err)
	require.Len(t, client.created, 1)
	assert.Equal(t, "Kim", client.created[0].FirstName)
	assert.Equal(t, "Park Lee", client.created[0].LastName)
	assert.Equal(t, identity.MatchCreated, links.calls[1].MatchMethod)
	assert.Equal(t, "created-1", links.calls[1].ExternalID)
}

func TestSyncLinksBeforePushFailure(t *testing.T) {
	client := newFakeCRM()
	client.failTag = &apperr.ExternalServiceError{System: "gohighlevel", Op: "add_tags", StatusCode: 500, Err: errors.New("boom")}
	links := &memLinks{links: map[uuid.UUID]identity.Link{}}
	p := newTestPropagator(client, links, memState{})
	id := uuid.New()

	_, err := p.Sync(context.Background(), Target{PatientID: id, FullName: "Jo Ray", StatusKey: "hold_warning"})
	require.Error(t, err)
	_, linked := links.links[id]
	assert.True(t, linked, "created contact must already be linked so a retry reuses it")

	client.failTag = nil
	_, err = p.Sync(context.Background(), Target{PatientID: id, FullName: "Jo Ray", StatusKey: "hold_warning"})
	require.NoError(t, err)
	assert.Len(t, client.created, 1)
}
