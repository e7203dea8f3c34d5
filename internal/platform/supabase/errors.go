package supabase

import (
	"errors"
	"fmt"
)

// PolicyError codes.
const (
	ErrCodeJWTPolicy          = "JWT_POLICY"
	ErrCodeRLSNotEnforced     = "RLS_NOT_ENFORCED"
	ErrCodeServiceKeyExposure = "SERVICE_KEY_EXPOSURE"
	ErrCodeRemoteApply        = "REMOTE_APPLY"
)

// PolicyError is a structured security-gate or apply failure from one
// configuration stage.
type PolicyError struct {
	Code    string
	Message string
	Err     error
}

func (e *PolicyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PolicyError) Unwrap() error {
	return e.Err
}

// IsJWTPolicyViolation reports whether err is a JWT policy failure.
func IsJWTPolicyViolation(err error) bool {
	var pe *PolicyError
	return errors.As(err, &pe) && pe.Code == ErrCodeJWTPolicy
}

// IsRLSNotEnforced reports whether err is the RLS hard gate.
func IsRLSNotEnforced(err error) bool {
	var pe *PolicyError
	return errors.As(err, &pe) && pe.Code == ErrCodeRLSNotEnforced
}

// IsServiceKeyExposure reports whether err is a leaked service-key name.
func IsServiceKeyExposure(err error) bool {
	var pe *PolicyError
	return errors.As(err, &pe) && pe.Code == ErrCodeServiceKeyExposure
}
