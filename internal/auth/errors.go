package auth

import (
	"errors"
	"fmt"
)

// Code classifies an authentication failure.
type Code string

const (
	CodeInvalidCredentials   Code = "INVALID_CREDENTIALS"   // Missing or blank login inputs
	CodeMissingPriorStep     Code = "MISSING_PRIOR_STEP"    // OTP verification without a login
	CodeBrokerRejected       Code = "BROKER_REJECTED"       // Broker answered with success=false
	CodeSessionExpired       Code = "SESSION_EXPIRED"       // Refresh got a 401
	CodeNotAuthenticated     Code = "NOT_AUTHENTICATED"     // Operation requires an active session
	CodeAlreadyAuthenticated Code = "ALREADY_AUTHENTICATED" // Login while a session is live
	CodeUnexpectedBody       Code = "UNEXPECTED_BODY"       // 2xx with a body the contract doesn't allow
)

// AuthError is a typed login-lifecycle failure. Transport failures are not
// wrapped: they pass through as the REST client's error types so callers can
// distinguish "the broker said no" from "the broker was unreachable".
type AuthError struct {
	Code    Code
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AuthError) Unwrap() error { return e.Err }

// IsCode reports whether err is an AuthError with the given code.
func IsCode(err error, code Code) bool {
	var ae *AuthError
	return errors.As(err, &ae) && ae.Code == code
}
