// Package handlers serves the admin API: sync runs, match review,
// duplicate reports, membership import and payment issue resolution.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/wolfman30/medspa-roster-sync/internal/apperr"
	"github.com/wolfman30/medspa-roster-sync/internal/payments"
	"github.com/wolfman30/medspa-roster-sync/internal/pipeline"
	"github.com/wolfman30/medspa-roster-sync/pkg/logging"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError maps the error taxonomy onto HTTP statuses. Unknown errors
// are logged and reported as 500 without detail.
func writeError(w http.ResponseWriter, logger *logging.Logger, err error) {
	var status int
	switch {
	case apperr.IsValidation(err):
		status = http.StatusBadRequest
	case apperr.IsConflict(err), errors.Is(err, pipeline.ErrRunInProgress), errors.Is(err, payments.ErrIssueAlreadyResolved):
		status = http.StatusConflict
	case errors.Is(err, payments.ErrIssueNotFound):
		status = http.StatusNotFound
	case apperr.IsFatal(err):
		status = http.StatusServiceUnavailable
	default:
		logger.Error("admin request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &apperr.ValidationError{Entity: "request", Field: "body", Reason: err.Error()}
	}
	return nil
}
