package duplicates

import (
	"context"
	"time"

	"github.com/wolfman30/medspa-roster-sync/internal/identity"
)

// Report is the combined duplicate report.
type Report struct {
	GeneratedAt      time.Time         `json:"generated_at"`
	PatientGroups    []PatientGroup    `json:"patient_groups"`
	MembershipGroups []MembershipGroup `json:"membership_groups"`
	Entries          []Entry           `json:"entries"`
}

type rosterReader interface {
	ListPatients(ctx context.Context, filter identity.PatientFilter) ([]identity.Patient, error)
	ListMembershipRecords(ctx context.Context, activeOnly bool) ([]identity.MembershipRecord, error)
}

type linkReader interface {
	ActiveLinks(ctx context.Context, system identity.System) ([]identity.Link, error)
}

// Service loads the roster and runs both sweeps.
type Service struct {
	roster rosterReader
	links  linkReader
	now    func() time.Time
}

// NewService builds a Service.
func NewService(roster rosterReader, links linkReader) *Service {
	return &Service{roster: roster, links: links, now: time.Now}
}

// Evaluate produces the current duplicate report.
func (s *Service) Evaluate(ctx context.Context) (Report, error) {
	patients, err := s.roster.ListPatients(ctx, identity.PatientFilter{ExcludeStatuses: identity.InactiveStatuses})
	if err != nil {
		return Report{}, err
	}
	records, err := s.roster.ListMembershipRecords(ctx, false)
	if err != nil {
		return Report{}, err
	}
	links, err := s.links.ActiveLinks(ctx, identity.SystemMembership)
	if err != nil {
		return Report{}, err
	}

	pg := DetectPatients(Input{Patients: patients, Records: records, Links: links})
	mg := DetectMemberships(records)
	return Report{
		GeneratedAt:      s.now().UTC(),
		PatientGroups:    pg,
		MembershipGroups: mg,
		Entries:          Merge(pg, mg),
	}, nil
}
