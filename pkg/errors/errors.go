package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches errors by code so wrapped and cloned instances compare equal.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e != nil && other != nil && e.Code == other.Code
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrUnauthorized = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrForbidden    = New("FORBIDDEN", http.StatusForbidden, "actor role is not allowed to perform this action")
	ErrNotFound     = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrValidation   = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal     = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")

	// ErrInvalidTransition is returned when the requested action is not legal
	// from the demand's current status.
	ErrInvalidTransition = New("INVALID_TRANSITION", http.StatusConflict, "action not legal from current status")

	// ErrConcurrentModification signals a stale expected-status write. Callers
	// recover by re-reading current state and retrying.
	ErrConcurrentModification = New("CONCURRENT_MODIFICATION", http.StatusPreconditionFailed, "demand was modified by another actor")

	// ErrDuplicateVote is terminal: a voter casts at most one vote per demand.
	ErrDuplicateVote = New("DUPLICATE_VOTE", http.StatusConflict, "vote already cast for this demand")

	// ErrVotingClosed rejects votes on demands not currently open for voting.
	ErrVotingClosed = New("VOTING_CLOSED", http.StatusConflict, "demand is not open for voting")

	// ErrHashMismatch signals ledger tampering or corruption. It is never
	// auto-corrected and must not be swallowed.
	ErrHashMismatch = New("HASH_MISMATCH", http.StatusInternalServerError, "ledger fingerprint verification failed")

	// ErrStorage wraps persistence-layer failures.
	ErrStorage = New("STORAGE_FAILURE", http.StatusInternalServerError, "storage operation failed")

	// ErrCacheMiss marks an absent advisory cache entry.
	ErrCacheMiss = New("CACHE_MISS", http.StatusNotFound, "cache entry not found")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}
