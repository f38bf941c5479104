package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/wolfman30/medspa-roster-sync/internal/apperr"
	"github.com/wolfman30/medspa-roster-sync/internal/duplicates"
	"github.com/wolfman30/medspa-roster-sync/internal/http/middleware"
	"github.com/wolfman30/medspa-roster-sync/internal/identity"
	"github.com/wolfman30/medspa-roster-sync/internal/reports"
	"github.com/wolfman30/medspa-roster-sync/pkg/logging"
)

type matchService interface {
	ReviewQueue(ctx context.Context) (identity.ReviewQueue, error)
	ResolveMatch(ctx context.Context, normalizedName string, patientID uuid.UUID, externalID string, method identity.MatchMethod, actor string) (identity.Link, error)
	DismissMatch(ctx context.Context, normalizedName, reason, actor string) error
	ConfirmAutoLinks(ctx context.Context, actor string) (identity.ConfirmResult, error)
	Unlink(ctx context.Context, patientID uuid.UUID, system identity.System, actor string) (bool, error)
	LinkExternal(ctx context.Context, patientID uuid.UUID, system identity.System, externalID string, method identity.MatchMethod, replace bool, actor string) (identity.Link, error)
	BillingReview(ctx context.Context) (identity.BillingReview, error)
}

type duplicateService interface {
	Evaluate(ctx context.Context) (duplicates.Report, error)
}

// AdminMatchHandler serves the review queue and duplicate reports.
type AdminMatchHandler struct {
	matches    matchService
	duplicates duplicateService
	logger     *logging.Logger
}

func NewAdminMatchHandler(matches matchService, dups duplicateService, logger *logging.Logger) *AdminMatchHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminMatchHandler{matches: matches, duplicates: dups, logger: logger}
}

type linkResponse struct {
	LinkID      uuid.UUID            `json:"link_id"`
	PatientID   uuid.UUID            `json:"patient_id"`
	System      identity.System      `json:"system"`
	ExternalID  string               `json:"external_id"`
	MatchMethod identity.MatchMethod `json:"match_method"`
}

// ReviewQueue returns the current match review queue.
// GET /admin/matches
func (h *AdminMatchHandler) ReviewQueue(w http.ResponseWriter, r *http.Request) {
	q, err := h.matches.ReviewQueue(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

type resolveMatchRequest struct {
	NormalizedName string `json:"normalized_name"`
	PatientID      string `json:"patient_id"`
	ExternalID     string `json:"external_id"`
	Method         string `json:"method"`
}

// ResolveMatch links a reviewed name to a patient.
// POST /admin/matches/resolve
func (h *AdminMatchHandler) ResolveMatch(w http.ResponseWriter, r *http.Request) {
	var req resolveMatchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	patientID, err := uuid.Parse(req.PatientID)
	if err != nil {
		writeError(w, h.logger, &apperr.ValidationError{Entity: "match", ID: req.NormalizedName, Field: "patient_id", Reason: "must be a uuid"})
		return
	}
	method := identity.MatchManual
	if req.Method != "" {
		method = identity.MatchMethod(req.Method)
	}

	link, err := h.matches.ResolveMatch(r.Context(), req.NormalizedName, patientID, req.ExternalID, method, middleware.Actor(r.Context()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, linkResponse{
		LinkID:      link.ID,
		PatientID:   link.PatientID,
		System:      link.System,
		ExternalID:  link.ExternalID,
		MatchMethod: link.MatchMethod,
	})
}

type dismissMatchRequest struct {
	NormalizedName string `json:"normalized_name"`
	Reason         string `json:"reason"`
}

// DismissMatch hides a name from the review queue.
// POST /admin/matches/dismiss
func (h *AdminMatchHandler) DismissMatch(w http.ResponseWriter, r *http.Request) {
	var req dismissMatchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := h.matches.DismissMatch(r.Context(), req.NormalizedName, req.Reason, middleware.Actor(r.Context())); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ConfirmAutoLinks links every one-to-one match.
// POST /admin/matches/confirm
func (h *AdminMatchHandler) ConfirmAutoLinks(w http.ResponseWriter, r *http.Request) {
	res, err := h.matches.ConfirmAutoLinks(r.Context(), middleware.Actor(r.Context()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type linkRequest struct {
	PatientID  string `json:"patient_id"`
	System     string `json:"system"`
	ExternalID string `json:"external_id"`
	Method     string `json:"method"`
	Replace    bool   `json:"replace"`
}

// Link maps a patient to a record in any external system, replacing the
// current mapping when replace is set.
// POST /admin/links
func (h *AdminMatchHandler) Link(w http.ResponseWriter, r *http.Request) {
	var req linkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	patientID, err := uuid.Parse(req.PatientID)
	if err != nil {
		writeError(w, h.logger, &apperr.ValidationError{Entity: "link", ID: req.ExternalID, Field: "patient_id", Reason: "must be a uuid"})
		return
	}

	link, err := h.matches.LinkExternal(r.Context(), patientID, identity.System(req.System), req.ExternalID,
		identity.MatchMethod(req.Method), req.Replace, middleware.Actor(r.Context()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, linkResponse{
		LinkID:      link.ID,
		PatientID:   link.PatientID,
		System:      link.System,
		ExternalID:  link.ExternalID,
		MatchMethod: link.MatchMethod,
	})
}

// BillingReview lists patients and billing customers without a billing link.
// GET /admin/links/billing-review
func (h *AdminMatchHandler) BillingReview(w http.ResponseWriter, r *http.Request) {
	review, err := h.matches.BillingReview(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, review)
}

type unlinkRequest struct {
	PatientID string `json:"patient_id"`
	System    string `json:"system"`
}

// Unlink deactivates a patient's active link in one system.
// POST /admin/matches/unlink
func (h *AdminMatchHandler) Unlink(w http.ResponseWriter, r *http.Request) {
	var req unlinkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	patientID, err := uuid.Parse(req.PatientID)
	if err != nil {
		writeError(w, h.logger, &apperr.ValidationError{Entity: "link", ID: req.PatientID, Field: "patient_id", Reason: "must be a uuid"})
		return
	}
	removed, err := h.matches.Unlink(r.Context(), patientID, identity.System(req.System), middleware.Actor(r.Context()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"unlinked": removed})
}

// Duplicates returns the duplicate report, as JSON or as a workbook when
// the path ends in .xlsx.
// GET /admin/duplicates, GET /admin/duplicates.xlsx
func (h *AdminMatchHandler) Duplicates(w http.ResponseWriter, r *http.Request) {
	report, err := h.duplicates.Evaluate(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if !strings.HasSuffix(r.URL.Path, ".xlsx") {
		writeJSON(w, http.StatusOK, report)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="duplicates.xlsx"`)
	if err := reports.WriteDuplicates(w, report); err != nil {
		h.logger.Error("duplicate workbook failed", "error", err)
	}
}
