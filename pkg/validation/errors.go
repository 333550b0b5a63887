package validation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ValidationError maps field names to human-readable problems
type ValidationError struct {
	Errors map[string]string `json:"errors"`
}

// Error joins the field messages in field order so the text is stable
func (v *ValidationError) Error() string {
	fields := make([]string, 0, len(v.Errors))
	for field := range v.Errors {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	var b strings.Builder
	for i, field := range fields {
		if i > 0 {
			b.WriteString("; ")
		}
		fmt.Fprintf(&b, "%s: %s", field, v.Errors[field])
	}
	return b.String()
}

// AddError records message for field, replacing any earlier one
func (v *ValidationError) AddError(field, message string) {
	if v.Errors == nil {
		v.Errors = make(map[string]string)
	}
	v.Errors[field] = message
}

// HasErrors reports whether any field failed
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// NewValidationError converts validator failures, one message per field
func NewValidationError(errs validator.ValidationErrors) *ValidationError {
	out := &ValidationError{Errors: make(map[string]string, len(errs))}
	for _, fe := range errs {
		out.AddError(fe.Field(), describe(fe))
	}
	return out
}

// %[1]s is the field, %[2]s the tag parameter
var messages = map[string]string{
	"required":        "%[1]s is required",
	"min":             "%[1]s must be at least %[2]s",
	"max":             "%[1]s must be at most %[2]s",
	"gte":             "%[1]s must be greater than or equal to %[2]s",
	"lte":             "%[1]s must be less than or equal to %[2]s",
	"gt":              "%[1]s must be greater than %[2]s",
	"lt":              "%[1]s must be less than %[2]s",
	"len":             "%[1]s must have length %[2]s",
	"oneof":           "%[1]s must be one of: %[2]s",
	"uuid":            "%[1]s must be a valid UUID",
	"url":             "%[1]s must be a valid URL",
	"event_type":      "%[1]s must be a known event type",
	"proof_type":      "%[1]s must be one of: internal, attestation, third_party",
	"idempotency_key": "%[1]s must be 8-100 characters of letters, digits, '-', '_', ':' or '.'",
	"coupon_code":     "%[1]s must look like XXXX-XXXX-XXXX-XXXX",
}

func describe(fe validator.FieldError) string {
	format, ok := messages[fe.Tag()]
	if !ok {
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
	if !strings.Contains(format, "%[2]s") {
		return fmt.Sprintf(format, fe.Field())
	}
	return fmt.Sprintf(format, fe.Field(), fe.Param())
}
