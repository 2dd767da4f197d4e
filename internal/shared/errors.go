package shared

import "errors"

var (
	// ErrValidation indicates malformed input. Never retried.
	ErrValidation = errors.New("validation failed")
	// ErrForbidden indicates the resolver denied the action. Surfaced to the
	// caller, never retried automatically.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound indicates the record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates a duplicate active request or an action on a
	// record that is no longer in an eligible state.
	ErrConflict = errors.New("conflict")
	// ErrBusinessRule indicates an illegal state transition or a limit
	// violation such as the extension cap.
	ErrBusinessRule = errors.New("business rule violation")
	// ErrExternalService indicates a provisioner or notification failure.
	// Retryable by the scheduler only, with bounded attempts.
	ErrExternalService = errors.New("external service failure")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
)
