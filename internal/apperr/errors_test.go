package apperr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsFatalOnlyForConfiguration(t *testing.T) {
	wrapped := fmt.Errorf("billing: list templates: %w", NotConfigured("quickbooks"))
	assert.True(t, IsFatal(wrapped))
	assert.False(t, IsFatal(&ExternalServiceError{System: "ghl", Op: "search", StatusCode: 502}))
	assert.False(t, IsFatal(&ValidationError{Entity: "invoice", ID: "9"}))
	assert.False(t, IsFatal(nil))
}

func TestExternalClassifiesDeadline(t *testing.T) {
	err := External("healthie", "offerings", fmt.Errorf("post: %w", context.DeadlineExceeded))

	var ext *ExternalServiceError
	require.True(t, errors.As(err, &ext))
	assert.True(t, ext.Timeout)
	assert.Equal(t, "healthie: offerings: timed out", err.Error())
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestExternalPassesTypedErrorsThrough(t *testing.T) {
	cfg := NotConfigured("ghl")
	assert.Same(t, cfg, External("ghl", "create", cfg))
	assert.Nil(t, External("ghl", "create", nil))
}

func TestConflictMessages(t *testing.T) {
	other := &ConflictError{PatientID: "p1", System: "crm", ExternalID: "c9", ExistingPatientID: "p2"}
	assert.Contains(t, other.Error(), "already linked to patient p2")

	same := &ConflictError{PatientID: "p1", System: "crm", ExternalID: "c9", ExistingExternal: "c1"}
	assert.Contains(t, same.Error(), "patient p1 already linked to crm record c1")
	assert.True(t, IsConflict(fmt.Errorf("identity: %w", same)))
}

func TestValidationMessage(t *testing.T) {
	err := &ValidationError{Entity: "invoice", ID: "42", Field: "BalanceCents", Reason: "must be >= 0"}
	assert.Equal(t, `invalid invoice "42": BalanceCents must be >= 0`, err.Error())
	assert.True(t, IsValidation(err))
}
