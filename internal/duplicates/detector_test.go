package duplicates

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/medspa-roster-sync/internal/identity"
)

func pat(name, status string) identity.Patient {
	return identity.Patient{PatientID: uuid.New(), FullName: name, StatusKey: status}
}

func rec(id, name string, active bool) identity.MembershipRecord {
	status := "active"
	if !active {
		status = "cancelled"
	}
	return identity.MembershipRecord{ExternalID: id, DisplayName: name, Status: status, IsActive: active}
}

func TestDetectPatientsGroupsLiveDuplicates(t *testing.T) {
	a := pat("Maria Garcia", "active")
	b := pat("maria garcia", "hold_payment")
	c := pat("Mrs. Maria  Garcia", "active")
	discharged := pat("Maria Garcia", "discharged")
	groups := DetectPatients(Input{
		Patients: []identity.Patient{a, b, c, discharged, pat("Ann Lee", "active")},
		Records:  []identity.MembershipRecord{rec("m-1", "Maria Garcia", true)},
		Links: []identity.Link{
			{PatientID: b.PatientID, System: identity.SystemMembership, ExternalID: "m-1", IsActive: true},
		},
	})

	require.Len(t, groups, 1)
	g := groups[0]
	assert.Equal(t, "maria garcia", g.NormalizedName)
	require.Len(t, g.Patients, 3)
	for _, p := range g.Patients {
		assert.NotEqual(t, discharged.PatientID, p.PatientID)
		assert.True(t, p.HasActiveMembership)
		assert.Equal(t, p.PatientID == b.PatientID, p.MembershipLinked)
	}
}

func TestDetectPatientsFlagsActiveRecordByNameWithoutLinks(t *testing.T) {
	groups := DetectPatients(Input{
		Patients: []identity.Patient{pat("Maria Garcia", "active"), pat("maria garcia", "active"), pat("Ann Lee", "active"), pat("Ann Lee", "active")},
		Records:  []identity.MembershipRecord{rec("m-1", "Maria Garcia", true), rec("m-2", "Ann Lee", false)},
	})

	require.Len(t, groups, 2)
	byName := map[string]PatientGroup{}
	for _, g := range groups {
		byName[g.NormalizedName] = g
	}
	for _, p := range byName["maria garcia"].Patients {
		assert.True(t, p.HasActiveMembership)
		assert.False(t, p.MembershipLinked)
	}
	for _, p := range byName["ann lee"].Patients {
		assert.False(t, p.HasActiveMembership)
	}
}

func TestDetectPatientsSkipsInactiveStatusPrefixes(t *testing.T) {
	groups := DetectPatients(Input{
		Patients: []identity.Patient{
			pat("Jo March", "active"),
			pat("Jo March", "inactive_duplicate"),
			pat("Jo March", "Discharged_Transfer"),
		},
	})
	assert.Empty(t, groups)
}

func TestDetectPatientsIgnoresLinksToInactiveRecords(t *testing.T) {
	a, b := pat("Kim Park", "active"), pat("Kim Park", "active")
	groups := DetectPatients(Input{
		Patients: []identity.Patient{a, b},
		Records:  []identity.MembershipRecord{rec("m-9", "Kim Park", false)},
		Links:    []identity.Link{{PatientID: a.PatientID, System: identity.SystemMembership, ExternalID: "m-9", IsActive: true}},
	})
	require.Len(t, groups, 1)
	for _, p := range groups[0].Patients {
		assert.False(t, p.HasActiveMembership)
		assert.False(t, p.MembershipLinked)
	}
}

func TestDetectMembershipsIncludesInactiveRows(t *testing.T) {
	groups := DetectMemberships([]identity.MembershipRecord{
		rec("m-1", "Jane Doe", true),
		rec("m-2", "JANE DOE", false),
		rec("m-3", "Ann Lee", true),
	})
	require.Len(t, groups, 1)
	assert.Equal(t, "jane doe", groups[0].NormalizedName)
	assert.Len(t, groups[0].Records, 2)
}

func TestMergeIsOuterJoin(t *testing.T) {
	entries := Merge(
		[]PatientGroup{
			{NormalizedName: "maria garcia", Patients: []PatientEntry{{}, {}}},
			{NormalizedName: "ann lee", Patients: []PatientEntry{{}, {}}},
		},
		[]MembershipGroup{
			{NormalizedName: "maria garcia", Records: []identity.MembershipRecord{{}, {}}},
			{NormalizedName: "zoe ray", Records: []identity.MembershipRecord{{}, {}}},
		},
	)
	require.Len(t, entries, 3)
	assert.Equal(t, "ann lee", entries[0].NormalizedName)
	assert.Empty(t, entries[0].Memberships)
	assert.Equal(t, "maria garcia", entries[1].NormalizedName)
	assert.Len(t, entries[1].Patients, 2)
	assert.Len(t, entries[1].Memberships, 2)
	assert.Equal(t, "zoe ray", entries[2].NormalizedName)
	assert.Empty(t, entries[2].Patients)
}

type stubRoster struct {
	patients []identity.Patient
	records  []identity.MembershipRecord
	filter   identity.PatientFilter
}

func (s *stubRoster) ListPatients(_ context.Context, f identity.PatientFilter) ([]identity.Patient, error) {
	s.filter = f
	return s.patients, nil
}

func (s *stubRoster) ListMembershipRecords(_ context.Context, activeOnly bool) ([]identity.MembershipRecord, error) {
	if activeOnly {
		panic("duplicate sweep must read every membership record")
	}
	return s.records, nil
}

type stubLinks struct{}

func (stubLinks) ActiveLinks(context.Context, identity.System) ([]identity.Link, error) { return nil, nil }

func TestServiceEvaluate(t *testing.T) {
	roster := &stubRoster{
		patients: []identity.Patient{pat("Maria Garcia", "active"), pat("Maria Garcia", "active"), pat("Maria Garcia", "active")},
		records:  []identity.MembershipRecord{rec("m-1", "Maria Garcia", true), rec("m-2", "Maria Garcia", false)},
	}
	svc := NewService(roster, stubLinks{})
	svc.now = func() time.Time { return time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC) }

	report, err := svc.Evaluate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, identity.InactiveStatuses, roster.filter.ExcludeStatuses)
	require.Len(t, report.PatientGroups, 1)
	assert.Len(t, report.PatientGroups[0].Patients, 3)
	require.Len(t, report.MembershipGroups, 1)
	require.Len(t, report.Entries, 1)
	assert.Len(t, report.Entries[0].Memberships, 2)
	assert.Equal(t, 2024, report.GeneratedAt.Year())
}
