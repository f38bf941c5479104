package billing

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/wolfman30/medspa-roster-sync/internal/apperr"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateTemplate checks a template before it is mirrored.
func ValidateTemplate(t RecurringTemplate) error {
	return validateRecord("recurring_template", t.TemplateID, t)
}

// ValidateInvoice checks an invoice before it is mirrored.
func ValidateInvoice(inv Invoice) error {
	return validateRecord("invoice", inv.InvoiceID, inv)
}

func validateRecord(entity, id string, v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		reason := "is required"
		if fe.Tag() != "required" {
			reason = fmt.Sprintf("must satisfy %s=%s", fe.Tag(), fe.Param())
		}
		return &apperr.ValidationError{Entity: entity, ID: id, Field: fe.Field(), Reason: reason}
	}
	return &apperr.ValidationError{Entity: entity, ID: id, Reason: err.Error()}
}
