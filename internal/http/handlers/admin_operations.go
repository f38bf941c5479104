package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wolfman30/medspa-roster-sync/internal/apperr"
	"github.com/wolfman30/medspa-roster-sync/internal/http/middleware"
	"github.com/wolfman30/medspa-roster-sync/internal/membership"
	"github.com/wolfman30/medspa-roster-sync/internal/payments"
	"github.com/wolfman30/medspa-roster-sync/pkg/logging"
)

type membershipImporter interface {
	Import(ctx context.Context) (membership.ImportResult, error)
}

type issueService interface {
	ResolveIssue(ctx context.Context, issueID uuid.UUID, actor, note string, restore bool) (payments.Issue, bool, error)
	OpenIssues(ctx context.Context) ([]payments.Issue, error)
}

// AdminOperationsHandler covers membership import and payment issues.
type AdminOperationsHandler struct {
	importer membershipImporter
	issues   issueService
	logger   *logging.Logger
}

func NewAdminOperationsHandler(importer membershipImporter, issues issueService, logger *logging.Logger) *AdminOperationsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminOperationsHandler{importer: importer, issues: issues, logger: logger}
}

// ImportMemberships refreshes membership_records.
// POST /admin/memberships/import
func (h *AdminOperationsHandler) ImportMemberships(w http.ResponseWriter, r *http.Request) {
	res, err := h.importer.Import(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ListOpenIssues returns unresolved payment issues.
// GET /admin/payment-issues
func (h *AdminOperationsHandler) ListOpenIssues(w http.ResponseWriter, r *http.Request) {
	issues, err := h.issues.OpenIssues(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if issues == nil {
		issues = []payments.Issue{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"issues": issues})
}

type resolveIssueRequest struct {
	Note          string `json:"note"`
	RestoreStatus bool   `json:"restore_status"`
}

type resolveIssueResponse struct {
	Issue          payments.Issue `json:"issue"`
	StatusRestored bool           `json:"status_restored"`
}

// ResolveIssue closes a payment issue and optionally lifts the hold.
// POST /admin/payment-issues/{issueID}/resolve
func (h *AdminOperationsHandler) ResolveIssue(w http.ResponseWriter, r *http.Request) {
	issueID, err := uuid.Parse(chi.URLParam(r, "issueID"))
	if err != nil {
		writeError(w, h.logger, &apperr.ValidationError{Entity: "payment_issue", ID: chi.URLParam(r, "issueID"), Reason: "id must be a uuid"})
		return
	}
	var req resolveIssueRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, h.logger, err)
			return
		}
	}
	issue, restored, err := h.issues.ResolveIssue(r.Context(), issueID, middleware.Actor(r.Context()), req.Note, req.RestoreStatus)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, resolveIssueResponse{Issue: issue, StatusRestored: restored})
}
