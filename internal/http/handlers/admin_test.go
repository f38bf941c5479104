package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/wolfman30/medspa-roster-sync/internal/apperr"
	"github.com/wolfman30/medspa-roster-sync/internal/duplicates"
	"github.com/wolfman30/medspa-roster-sync/internal/identity"
	"github.com/wolfman30/medspa-roster-sync/internal/membership"
	"github.com/wolfman30/medspa-roster-sync/internal/payments"
	"github.com/wolfman30/medspa-roster-sync/internal/pipeline"
	"github.com/wolfman30/medspa-roster-sync/internal/reports"
	"github.com/wolfman30/medspa-roster-sync/pkg/logging"
)

type fakeRunner struct {
	sum      pipeline.Summary
	err      error
	resynced []uuid.UUID
}

func (f *fakeRunner) RunFullSync(context.Context) (pipeline.Summary, error) { return f.sum, f.err }

func (f *fakeRunner) PropagatePatients(_ context.Context, ids []uuid.UUID) (pipeline.Summary, error) {
	f.resynced = ids
	return f.sum, f.err
}

type fakeRuns struct {
	limit int
	runs  []pipeline.Summary
}

func (f *fakeRuns) List(_ context.Context, limit int) ([]pipeline.Summary, error) {
	f.limit = limit
	return f.runs, nil
}

func TestRunSyncStatuses(t *testing.T) {
	tests := []struct {
		name   string
		runner *fakeRunner
		want   int
	}{
		{"done", &fakeRunner{sum: pipeline.Summary{RunID: "r1", State: pipeline.StateDone}}, http.StatusOK},
		{"in progress", &fakeRunner{err: pipeline.ErrRunInProgress}, http.StatusConflict},
		{"fatal", &fakeRunner{sum: pipeline.Summary{RunID: "r2", State: pipeline.StateFailed}, err: apperr.NotConfigured("billing")}, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewAdminSyncHandler(tt.runner, &fakeRuns{}, logging.Default())
			rec := httptest.NewRecorder()
			h.RunSync(rec, httptest.NewRequest(http.MethodPost, "/admin/sync/run", nil))
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestResyncCRM(t *testing.T) {
	runner := &fakeRunner{sum: pipeline.Summary{RunID: "r3", State: pipeline.StateDone, Updated: 1}}
	h := NewAdminSyncHandler(runner, &fakeRuns{}, logging.Default())
	id := uuid.New()

	rec := httptest.NewRecorder()
	h.ResyncCRM(rec, httptest.NewRequest(http.MethodPost, "/admin/crm/resync", strings.NewReader(`{"patient_ids":["`+id.String()+`"]}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []uuid.UUID{id}, runner.resynced)

	rec = httptest.NewRecorder()
	h.ResyncCRM(rec, httptest.NewRequest(http.MethodPost, "/admin/crm/resync", strings.NewReader(`{"patient_ids":["nope"]}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	busy := NewAdminSyncHandler(&fakeRunner{err: pipeline.ErrRunInProgress}, &fakeRuns{}, logging.Default())
	rec = httptest.NewRecorder()
	busy.ResyncCRM(rec, httptest.NewRequest(http.MethodPost, "/admin/crm/resync", strings.NewReader(`{"patient_ids":["`+id.String()+`"]}`)))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestListRunsLimit(t *testing.T) {
	runs := &fakeRuns{runs: []pipeline.Summary{{RunID: "r1"}}}
	h := NewAdminSyncHandler(&fakeRunner{}, runs, logging.Default())

	rec := httptest.NewRecorder()
	h.ListRuns(rec, httptest.NewRequest(http.MethodGet, "/admin/sync/runs?limit=5", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, runs.limit)
	assert.Contains(t, rec.Body.String(), `"run_id":"r1"`)

	rec = httptest.NewRecorder()
	h.ListRuns(rec, httptest.NewRequest(http.MethodGet, "/admin/sync/runs?limit=abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type fakeMatches struct {
	resolved  []string
	dismissed []string
	linked    []identity.LinkRequest
	actor     string
	err       error
}

func (f *fakeMatches) ReviewQueue(context.Context) (identity.ReviewQueue, error) {
	return identity.ReviewQueue{Unmatched: []identity.Classification{{NormalizedName: "jane doe", Outcome: identity.OutcomeUnmatched}}}, nil
}

func (f *fakeMatches) ResolveMatch(_ context.Context, name string, patientID uuid.UUID, externalID string, method identity.MatchMethod, actor string) (identity.Link, error) {
	if f.err != nil {
		return identity.Link{}, f.err
	}
	f.resolved = append(f.resolved, name)
	f.actor = actor
	return identity.Link{ID: uuid.New(), PatientID: patientID, System: identity.SystemMembership, ExternalID: externalID, MatchMethod: method}, nil
}

func (f *fakeMatches) DismissMatch(_ context.Context, name, _ string, actor string) error {
	f.dismissed = append(f.dismissed, name)
	f.actor = actor
	return nil
}

func (f *fakeMatches) ConfirmAutoLinks(context.Context, string) (identity.ConfirmResult, error) {
	return identity.ConfirmResult{Linked: 3}, nil
}

func (f *fakeMatches) Unlink(context.Context, uuid.UUID, identity.System, string) (bool, error) {
	return true, nil
}

func (f *fakeMatches) LinkExternal(_ context.Context, patientID uuid.UUID, system identity.System, externalID string, method identity.MatchMethod, replace bool, actor string) (identity.Link, error) {
	if f.err != nil {
		return identity.Link{}, f.err
	}
	f.linked = append(f.linked, identity.LinkRequest{PatientID: patientID, System: system, ExternalID: externalID, MatchMethod: method, Replace: replace})
	f.actor = actor
	if method == "" {
		method = identity.MatchManual
	}
	return identity.Link{ID: uuid.New(), PatientID: patientID, System: system, ExternalID: externalID, MatchMethod: method}, nil
}

func (f *fakeMatches) BillingReview(context.Context) (identity.BillingReview, error) {
	return identity.BillingReview{UnlinkedCustomers: []identity.BillingCustomer{{ExternalID: "qb-7", DisplayName: "Ana Diaz"}}}, nil
}

type fakeDuplicates struct{}

func (fakeDuplicates) Evaluate(context.Context) (duplicates.Report, error) {
	return duplicates.Report{Entries: []duplicates.Entry{{
		NormalizedName: "jane doe",
		Memberships: []identity.MembershipRecord{
			{ExternalID: "m-1", DisplayName: "Jane Doe"},
			{ExternalID: "m-2", DisplayName: "Ms Jane Doe"},
		},
	}}}, nil
}

func TestResolveMatch(t *testing.T) {
	matches := &fakeMatches{}
	h := NewAdminMatchHandler(matches, fakeDuplicates{}, logging.Default())
	patientID := uuid.New()

	body := `{"normalized_name":"jane doe","patient_id":"` + patientID.String() + `","external_id":"m-1"}`
	rec := httptest.NewRecorder()
	h.ResolveMatch(rec, httptest.NewRequest(http.MethodPost, "/admin/matches/resolve", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp linkResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, patientID, resp.PatientID)
	assert.Equal(t, identity.MatchManual, resp.MatchMethod)
	assert.Equal(t, "admin", matches.actor)
}

func TestResolveMatchErrors(t *testing.T) {
	h := NewAdminMatchHandler(&fakeMatches{}, fakeDuplicates{}, logging.Default())
	rec := httptest.NewRecorder()
	h.ResolveMatch(rec, httptest.NewRequest(http.MethodPost, "/admin/matches/resolve", strings.NewReader(`{"normalized_name":"x","patient_id":"nope"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	conflict := &fakeMatches{err: &apperr.ConflictError{System: "membership", ExternalID: "m-1"}}
	h = NewAdminMatchHandler(conflict, fakeDuplicates{}, logging.Default())
	rec = httptest.NewRecorder()
	body := `{"normalized_name":"x","patient_id":"` + uuid.NewString() + `","external_id":"m-1"}`
	h.ResolveMatch(rec, httptest.NewRequest(http.MethodPost, "/admin/matches/resolve", strings.NewReader(body)))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestLinkCreatesBillingMapping(t *testing.T) {
	matches := &fakeMatches{}
	h := NewAdminMatchHandler(matches, fakeDuplicates{}, logging.Default())
	patientID := uuid.New()

	body := `{"patient_id":"` + patientID.String() + `","system":"billing","external_id":"qb-42","replace":true}`
	rec := httptest.NewRecorder()
	h.Link(rec, httptest.NewRequest(http.MethodPost, "/admin/links", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, matches.linked, 1)
	assert.Equal(t, identity.SystemBilling, matches.linked[0].System)
	assert.Equal(t, "qb-42", matches.linked[0].ExternalID)
	assert.True(t, matches.linked[0].Replace)
	var resp linkResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, identity.SystemBilling, resp.System)
}

func TestLinkErrors(t *testing.T) {
	h := NewAdminMatchHandler(&fakeMatches{}, fakeDuplicates{}, logging.Default())
	rec := httptest.NewRecorder()
	h.Link(rec, httptest.NewRequest(http.MethodPost, "/admin/links", strings.NewReader(`{"patient_id":"nope","system":"billing","external_id":"qb-1"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	conflict := &fakeMatches{err: &apperr.ConflictError{System: "billing", ExternalID: "qb-1"}}
	h = NewAdminMatchHandler(conflict, fakeDuplicates{}, logging.Default())
	rec = httptest.NewRecorder()
	body := `{"patient_id":"` + uuid.NewString() + `","system":"billing","external_id":"qb-1"}`
	h.Link(rec, httptest.NewRequest(http.MethodPost, "/admin/links", strings.NewReader(body)))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestBillingReview(t *testing.T) {
	h := NewAdminMatchHandler(&fakeMatches{}, fakeDuplicates{}, logging.Default())
	rec := httptest.NewRecorder()
	h.BillingReview(rec, httptest.NewRequest(http.MethodGet, "/admin/links/billing-review", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"external_id":"qb-7"`)
}

func TestDismissMatch(t *testing.T) {
	matches := &fakeMatches{}
	h := NewAdminMatchHandler(matches, fakeDuplicates{}, logging.Default())
	rec := httptest.NewRecorder()
	h.DismissMatch(rec, httptest.NewRequest(http.MethodPost, "/admin/matches/dismiss", strings.NewReader(`{"normalized_name":"jane doe","reason":"staff"}`)))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"jane doe"}, matches.dismissed)
}

func TestDuplicatesXLSX(t *testing.T) {
	h := NewAdminMatchHandler(&fakeMatches{}, fakeDuplicates{}, logging.Default())
	rec := httptest.NewRecorder()
	h.Duplicates(rec, httptest.NewRequest(http.MethodGet, "/admin/duplicates.xlsx", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	rows, err := f.GetRows(reports.SheetDuplicates)
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

type fakeImporter struct{}

func (fakeImporter) Import(context.Context) (membership.ImportResult, error) {
	return membership.ImportResult{Processed: 4, Updated: 1}, nil
}

type fakeIssues struct {
	restore bool
	err     error
}

func (f *fakeIssues) ResolveIssue(_ context.Context, issueID uuid.UUID, actor, note string, restore bool) (payments.Issue, bool, error) {
	if f.err != nil {
		return payments.Issue{}, false, f.err
	}
	f.restore = restore
	return payments.Issue{IssueID: issueID, ResolvedBy: actor, ResolutionNotes: note}, restore, nil
}

func (f *fakeIssues) OpenIssues(context.Context) ([]payments.Issue, error) { return nil, nil }

func resolveIssueRequestFor(id, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/admin/payment-issues/"+id+"/resolve", strings.NewReader(body))
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("issueID", id)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestResolveIssue(t *testing.T) {
	issues := &fakeIssues{}
	h := NewAdminOperationsHandler(fakeImporter{}, issues, logging.Default())
	id := uuid.New()

	rec := httptest.NewRecorder()
	h.ResolveIssue(rec, resolveIssueRequestFor(id.String(), `{"note":"paid in clinic","restore_status":true}`))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp resolveIssueResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.True(t, resp.StatusRestored)
	assert.Equal(t, "paid in clinic", resp.Issue.ResolutionNotes)
	assert.True(t, issues.restore)
}

func TestResolveIssueErrors(t *testing.T) {
	tests := []struct {
		name string
		id   string
		err  error
		want int
	}{
		{"bad id", "nope", nil, http.StatusBadRequest},
		{"not found", uuid.NewString(), payments.ErrIssueNotFound, http.StatusNotFound},
		{"already resolved", uuid.NewString(), payments.ErrIssueAlreadyResolved, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewAdminOperationsHandler(fakeImporter{}, &fakeIssues{err: tt.err}, logging.Default())
			rec := httptest.NewRecorder()
			h.ResolveIssue(rec, resolveIssueRequestFor(tt.id, ""))
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestImportMemberships(t *testing.T) {
	h := NewAdminOperationsHandler(fakeImporter{}, &fakeIssues{}, logging.Default())
	rec := httptest.NewRecorder()
	h.ImportMemberships(rec, httptest.NewRequest(http.MethodPost, "/admin/memberships/import", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"processed":4`)
}
