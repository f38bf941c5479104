// Package duplicates reports records that share a normalized name within
// the internal roster and within the imported membership records. It never
// writes; resolving duplicates is a manual task.
package duplicates

import (
	"sort"

	"github.com/wolfman30/medspa-roster-sync/internal/identity"
)

// PatientEntry is one patient inside a duplicate group.
type PatientEntry struct {
	identity.Patient
	HasActiveMembership bool `json:"has_active_membership"`
	MembershipLinked    bool `json:"membership_linked"`
}

// PatientGroup is a set of live patients sharing a normalized name.
type PatientGroup struct {
	NormalizedName string         `json:"normalized_name"`
	Patients       []PatientEntry `json:"patients"`
}

// MembershipGroup is a set of membership records sharing a normalized name.
type MembershipGroup struct {
	NormalizedName string                      `json:"normalized_name"`
	Records        []identity.MembershipRecord `json:"records"`
}

// Input is the data both sweeps read.
type Input struct {
	Patients []identity.Patient
	Records  []identity.MembershipRecord
	Links    []identity.Link
}

// DetectPatients groups non-discharged, non-inactive patients by normalized
// name and returns groups with more than one member. HasActiveMembership
// is set on every member when an active membership record carries the
// same normalized name; MembershipLinked when the patient itself holds an
// active membership link to an active record.
func DetectPatients(in Input) []PatientGroup {
	activeRecords := make(map[string]struct{})
	activeNames := make(map[string]struct{})
	for _, r := range in.Records {
		if r.IsActive {
			activeRecords[r.ExternalID] = struct{}{}
			activeNames[r.NormalizedName()] = struct{}{}
		}
	}
	hasMembership := make(map[string]bool)
	for _, l := range in.Links {
		if !l.IsActive || l.System != identity.SystemMembership {
			continue
		}
		if _, ok := activeRecords[l.ExternalID]; ok {
			hasMembership[l.PatientID.String()] = true
		}
	}

	groups := make(map[string][]PatientEntry)
	for _, p := range in.Patients {
		if identity.IsInactiveStatus(p.StatusKey) {
			continue
		}
		key := p.NormalizedName()
		if key == "" {
			continue
		}
		_, named := activeNames[key]
		groups[key] = append(groups[key], PatientEntry{
			Patient:             p,
			HasActiveMembership: named,
			MembershipLinked:    hasMembership[p.PatientID.String()],
		})
	}

	var out []PatientGroup
	for _, name := range sortedKeys(groups) {
		if members := groups[name]; len(members) > 1 {
			out = append(out, PatientGroup{NormalizedName: name, Patients: members})
		}
	}
	return out
}

// DetectMemberships groups every membership record regardless of status.
func DetectMemberships(records []identity.MembershipRecord) []MembershipGroup {
	groups := make(map[string][]identity.MembershipRecord)
	for _, r := range records {
		if key := r.NormalizedName(); key != "" {
			groups[key] = append(groups[key], r)
		}
	}
	var out []MembershipGroup
	for _, name := range sortedKeys(groups) {
		if members := groups[name]; len(members) > 1 {
			out = append(out, MembershipGroup{NormalizedName: name, Records: members})
		}
	}
	return out
}

// Entry is one row of the combined report.
type Entry struct {
	NormalizedName string                      `json:"normalized_name"`
	Patients       []PatientEntry              `json:"patients,omitempty"`
	Memberships    []identity.MembershipRecord `json:"memberships,omitempty"`
}

// Merge outer-joins both sweeps by normalized name.
func Merge(patients []PatientGroup, memberships []MembershipGroup) []Entry {
	byName := make(map[string]*Entry)
	for _, g := range patients {
		byName[g.NormalizedName] = &Entry{NormalizedName: g.NormalizedName, Patients: g.Patients}
	}
	for _, g := range memberships {
		e, ok := byName[g.NormalizedName]
		if !ok {
			e = &Entry{NormalizedName: g.NormalizedName}
			byName[g.NormalizedName] = e
		}
		e.Memberships = g.Records
	}
	out := make([]Entry, 0, len(byName))
	for _, name := range sortedKeys(byName) {
		out = append(out, *byName[name])
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
