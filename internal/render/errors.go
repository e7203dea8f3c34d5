package render

import (
	"errors"
	"fmt"
)

// RenderError codes.
const (
	ErrCodeMissingField         = "MISSING_FIELD"
	ErrCodeReferentialIntegrity = "REFERENTIAL_INTEGRITY"
)

// RenderError is a structured failure from a render pass. Rendering is
// all-or-nothing: the first violation aborts the pass so no partially
// consistent artifact set is ever written.
type RenderError struct {
	// Code identifies the error category.
	Code string

	// Field names the offending document field, when known.
	Field string

	// Message is a human-readable description.
	Message string
}

func (e *RenderError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsReferentialIntegrityError reports whether err is a referential
// integrity violation. Uses errors.As to handle wrapped errors.
func IsReferentialIntegrityError(err error) bool {
	var re *RenderError
	return errors.As(err, &re) && re.Code == ErrCodeReferentialIntegrity
}

// IsMissingFieldError reports whether err is a missing-field violation.
func IsMissingFieldError(err error) bool {
	var re *RenderError
	return errors.As(err, &re) && re.Code == ErrCodeMissingField
}
