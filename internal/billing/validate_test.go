package billing

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/medspa-roster-sync/internal/apperr"
)

func TestValidateInvoice(t *testing.T) {
	valid := Invoice{
		InvoiceID:          "88",
		ExternalCustomerID: "cust-1",
		TotalCents:         1000,
		BalanceCents:       1000,
		DueDate:            time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, ValidateInvoice(valid))

	negative := valid
	negative.BalanceCents = -5
	err := ValidateInvoice(negative)
	var vErr *apperr.ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, "BalanceCents", vErr.Field)
	assert.Equal(t, "88", vErr.ID)

	noDue := valid
	noDue.DueDate = time.Time{}
	err = ValidateInvoice(noDue)
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, "DueDate", vErr.Field)
	assert.Equal(t, "is required", vErr.Reason)
}

func TestValidateTemplate(t *testing.T) {
	err := ValidateTemplate(RecurringTemplate{TemplateID: "t1", AmountCents: 500})
	var vErr *apperr.ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, "ExternalCustomerID", vErr.Field)

	require.NoError(t, ValidateTemplate(RecurringTemplate{TemplateID: "t1", ExternalCustomerID: "c1", AmountCents: 500}))
}
