package lifecycle

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is a coded operation error. Code is the machine-readable
// error identifier carried in the response envelope message; Status is
// the HTTP-style envelope code.
type Error struct {
	Code    string
	Status  int
	Message string
}

// Error implements the error interface in the envelope message form.
func (e *Error) Error() string {
	return "[" + e.Code + "] " + e.Message
}

// Coded operation errors. Authentication-outcome failures share the
// generic AAM200 so callers cannot distinguish not-found from revoked
// or expired and use the distinction for credential guessing.
var (
	// ErrActiveKeyExists indicates a generate attempt while an ACTIVE or
	// ROTATING key occupies the tuple.
	ErrActiveKeyExists = &Error{Code: "AAM100", Status: http.StatusBadRequest, Message: "an active key already exists for this application, environment and key type"}

	// ErrNoActiveKey indicates a rotate attempt with no current key.
	ErrNoActiveKey = &Error{Code: "AAM101", Status: http.StatusBadRequest, Message: "no active key to rotate"}

	// ErrNotRotating indicates a complete-rotation attempt on a key that
	// is not mid-rotation.
	ErrNotRotating = &Error{Code: "AAM102", Status: http.StatusBadRequest, Message: "key is not in rotation"}

	// ErrAlreadyRevoked indicates a revoke attempt on a revoked key.
	ErrAlreadyRevoked = &Error{Code: "AAM103", Status: http.StatusBadRequest, Message: "key is already revoked"}

	// ErrInvalidKey is the generic authentication failure.
	ErrInvalidKey = &Error{Code: "AAM200", Status: http.StatusBadRequest, Message: "invalid or unknown API key"}

	// ErrOriginNotAllowed indicates the declared origin failed the
	// allow-list check.
	ErrOriginNotAllowed = &Error{Code: "AAM201", Status: http.StatusBadRequest, Message: "origin not allowed"}

	// ErrRateLimited indicates a window limit was exceeded.
	ErrRateLimited = &Error{Code: "AAM300", Status: http.StatusTooManyRequests, Message: "rate limit exceeded"}

	// ErrInternal masks downstream failures. Store-level detail is
	// logged, never surfaced.
	ErrInternal = &Error{Code: "AAM500", Status: http.StatusInternalServerError, Message: "internal error"}
)

// MissingFieldError reports a required input field that is absent.
func MissingFieldError(field string) *Error {
	return &Error{
		Code:    "AAM001",
		Status:  http.StatusBadRequest,
		Message: fmt.Sprintf("missing required field: %s", field),
	}
}

// InvalidFieldError reports an input field with an unusable value.
func InvalidFieldError(field string) *Error {
	return &Error{
		Code:    "AAM001",
		Status:  http.StatusBadRequest,
		Message: fmt.Sprintf("invalid field: %s", field),
	}
}

// InvalidEnvironmentError reports an unrecognized environment value.
func InvalidEnvironmentError(value string) *Error {
	return &Error{
		Code:    "AAM002",
		Status:  http.StatusBadRequest,
		Message: fmt.Sprintf("invalid environment: %s", value),
	}
}

// InvalidKeyTypeError reports an unrecognized key type value.
func InvalidKeyTypeError(value string) *Error {
	return &Error{
		Code:    "AAM003",
		Status:  http.StatusBadRequest,
		Message: fmt.Sprintf("invalid key type: %s", value),
	}
}

// InvalidExpiryError reports an expiry that is not in the future.
func InvalidExpiryError() *Error {
	return &Error{
		Code:    "AAM004",
		Status:  http.StatusBadRequest,
		Message: "expiresAt must be in the future",
	}
}

// AsError extracts a coded Error from err. Unknown errors map to
// ErrInternal so every failure still produces a well-formed envelope.
func AsError(err error) *Error {
	var coded *Error
	if errors.As(err, &coded) {
		return coded
	}
	return ErrInternal
}
