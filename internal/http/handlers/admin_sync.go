package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/wolfman30/medspa-roster-sync/internal/apperr"
	"github.com/wolfman30/medspa-roster-sync/internal/pipeline"
	"github.com/wolfman30/medspa-roster-sync/pkg/logging"
)

type syncRunner interface {
	RunFullSync(ctx context.Context) (pipeline.Summary, error)
	PropagatePatients(ctx context.Context, patientIDs []uuid.UUID) (pipeline.Summary, error)
}

type runLister interface {
	List(ctx context.Context, limit int) ([]pipeline.Summary, error)
}

// AdminSyncHandler triggers runs and lists past ones.
type AdminSyncHandler struct {
	runner syncRunner
	runs   runLister
	logger *logging.Logger
}

func NewAdminSyncHandler(runner syncRunner, runs runLister, logger *logging.Logger) *AdminSyncHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminSyncHandler{runner: runner, runs: runs, logger: logger}
}

// RunSync executes a full sync synchronously and returns its summary.
// POST /admin/sync/run
func (h *AdminSyncHandler) RunSync(w http.ResponseWriter, r *http.Request) {
	sum, err := h.runner.RunFullSync(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, sum)
	case pipeline.IsRunInProgress(err):
		writeError(w, h.logger, err)
	case sum.RunID != "":
		// The run started and stopped on a fatal error; the summary says where.
		writeJSON(w, http.StatusBadGateway, sum)
	default:
		writeError(w, h.logger, err)
	}
}

type crmResyncRequest struct {
	PatientIDs []string `json:"patient_ids"`
}

// ResyncCRM pushes the listed patients' payment state to the CRM.
// POST /admin/crm/resync
func (h *AdminSyncHandler) ResyncCRM(w http.ResponseWriter, r *http.Request) {
	var req crmResyncRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	ids := make([]uuid.UUID, 0, len(req.PatientIDs))
	for _, raw := range req.PatientIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, h.logger, &apperr.ValidationError{Entity: "crm_resync", ID: raw, Field: "patient_ids", Reason: "must be uuids"})
			return
		}
		ids = append(ids, id)
	}

	sum, err := h.runner.PropagatePatients(r.Context(), ids)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, sum)
	case sum.RunID != "":
		writeJSON(w, http.StatusBadGateway, sum)
	default:
		writeError(w, h.logger, err)
	}
}

// ListRuns returns recent runs, newest first.
// GET /admin/sync/runs?limit=20
func (h *AdminSyncHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 200 {
			http.Error(w, "limit must be between 1 and 200", http.StatusBadRequest)
			return
		}
		limit = n
	}
	runs, err := h.runs.List(r.Context(), limit)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if runs == nil {
		runs = []pipeline.Summary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}
