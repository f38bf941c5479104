package identity

import "sort"

// Outcome is the review category assigned to a normalized name.
type Outcome string

const (
	OutcomeAutoLinkable  Outcome = "auto_linkable"
	OutcomeAmbiguous     Outcome = "ambiguous"
	OutcomeUnmatched     Outcome = "unmatched"
	OutcomeAlreadyLinked Outcome = "already_linked"
)

// Reason qualifies ambiguous and unmatched outcomes.
type Reason string

const (
	ReasonMultipleInternal Reason = "multiple_internal_matches"
	ReasonMultipleExternal Reason = "multiple_external_matches"
	ReasonNoInternal       Reason = "no_internal_record"
	ReasonNoExternal       Reason = "no_external_record"
)

// ResolveInput is everything Resolve looks at. Callers filter patients to
// those billed through the membership system and records to active ones.
type ResolveInput struct {
	Patients    []Patient
	Records     []MembershipRecord
	ActiveLinks []Link
	Dismissed   []string
}

// Classification is the outcome for one normalized name.
type Classification struct {
	NormalizedName string             `json:"normalized_name"`
	Outcome        Outcome            `json:"outcome"`
	Reason         Reason             `json:"reason,omitempty"`
	Patients       []Patient          `json:"patients"`
	Records        []MembershipRecord `json:"records"`
}

// Resolve classifies every normalized name present on either side. The
// checks run in a fixed order: dismissed names are dropped, then existing
// links, internal ambiguity, external ambiguity, missing internal record,
// missing external record. Only a one-to-one pair is auto linkable.
// Results are ordered by normalized name.
func Resolve(in ResolveInput) []Classification {
	dismissed := make(map[string]struct{}, len(in.Dismissed))
	for _, name := range in.Dismissed {
		dismissed[Normalize(name)] = struct{}{}
	}
	linkedPatients := make(map[string]struct{})
	linkedRecords := make(map[string]struct{})
	for _, l := range in.ActiveLinks {
		if !l.IsActive || l.System != SystemMembership {
			continue
		}
		linkedPatients[l.PatientID.String()] = struct{}{}
		linkedRecords[l.ExternalID] = struct{}{}
	}

	patientsByName := make(map[string][]Patient)
	recordsByName := make(map[string][]MembershipRecord)
	for _, p := range in.Patients {
		if key := p.NormalizedName(); key != "" {
			patientsByName[key] = append(patientsByName[key], p)
		}
	}
	for _, r := range in.Records {
		if key := r.NormalizedName(); key != "" {
			recordsByName[key] = append(recordsByName[key], r)
		}
	}

	names := make([]string, 0, len(patientsByName)+len(recordsByName))
	for name := range patientsByName {
		names = append(names, name)
	}
	for name := range recordsByName {
		if _, ok := patientsByName[name]; !ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	out := make([]Classification, 0, len(names))
	for _, name := range names {
		if _, skip := dismissed[name]; skip {
			continue
		}
		patients := patientsByName[name]
		records := recordsByName[name]
		c := Classification{NormalizedName: name, Patients: patients, Records: records}

		switch {
		case anyPatientLinked(patients, linkedPatients) || anyRecordLinked(records, linkedRecords):
			c.Outcome = OutcomeAlreadyLinked
		case len(patients) > 1:
			c.Outcome, c.Reason = OutcomeAmbiguous, ReasonMultipleInternal
		case len(records) > 1:
			c.Outcome, c.Reason = OutcomeAmbiguous, ReasonMultipleExternal
		case len(patients) == 0:
			c.Outcome, c.Reason = OutcomeUnmatched, ReasonNoInternal
		case len(records) == 0:
			c.Outcome, c.Reason = OutcomeUnmatched, ReasonNoExternal
		default:
			c.Outcome = OutcomeAutoLinkable
		}
		out = append(out, c)
	}
	return out
}

func anyPatientLinked(patients []Patient, linked map[string]struct{}) bool {
	for _, p := range patients {
		if _, ok := linked[p.PatientID.String()]; ok {
			return true
		}
	}
	return false
}

func anyRecordLinked(records []MembershipRecord, linked map[string]struct{}) bool {
	for _, r := range records {
		if _, ok := linked[r.ExternalID]; ok {
			return true
		}
	}
	return false
}

// ReviewQueue groups classifications for a reviewer.
type ReviewQueue struct {
	AutoLinkable  []Classification `json:"auto_linkable"`
	Ambiguous     []Classification `json:"ambiguous"`
	Unmatched     []Classification `json:"unmatched"`
	AlreadyLinked []Classification `json:"already_linked"`
}

// Partition splits classifications by outcome, preserving order.
func Partition(classes []Classification) ReviewQueue {
	var q ReviewQueue
	for _, c := range classes {
		switch c.Outcome {
		case OutcomeAutoLinkable:
			q.AutoLinkable = append(q.AutoLinkable, c)
		case OutcomeAmbiguous:
			q.Ambiguous = append(q.Ambiguous, c)
		case OutcomeUnmatched:
			q.Unmatched = append(q.Unmatched, c)
		case OutcomeAlreadyLinked:
			q.AlreadyLinked = append(q.AlreadyLinked, c)
		}
	}
	return q
}
