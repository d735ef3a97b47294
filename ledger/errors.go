/*
errors.go - Error taxonomy of the ledger service

PURPOSE:
  All error types in one place. Callers branch with errors.Is on the
  sentinels, or errors.As on the structured types for details.

ERROR CATEGORIES:
  1. ValidationError       bad input (non-positive amount, shares not summing)
  2. NotFoundError         referenced group/expense/payment/request missing
  3. AuthorizationError    actor lacks the role for the transition
  4. AlreadyProcessedError state machine called on a terminal record
  5. StoreUnavailableError transient Document Store failure

PROPAGATION:
  Only StoreUnavailableError is retryable. The other four are deterministic
  and surface unchanged so the caller can show a precise message.

SEE ALSO:
  - service.go: commit loop that produces StoreUnavailableError
  - api/handlers.go: maps these to HTTP status codes
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned for malformed input.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when a referenced record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized is returned when the actor lacks the required role.
	ErrUnauthorized = errors.New("not authorized")

	// ErrAlreadyProcessed is returned when a transition targets a terminal record.
	ErrAlreadyProcessed = errors.New("already processed")

	// ErrStoreUnavailable is returned for transient store failures.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError describes which input was rejected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// NotFoundError names the missing record.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// AuthorizationError names the actor and the role the action required.
type AuthorizationError struct {
	ActorID  string
	Action   string
	Required string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("user %q may not %s: requires %s", e.ActorID, e.Action, e.Required)
}

func (e *AuthorizationError) Unwrap() error {
	return ErrUnauthorized
}

// AlreadyProcessedError reports the terminal status that blocked a transition.
type AlreadyProcessedError struct {
	Kind   string
	ID     string
	Status string
}

func (e *AlreadyProcessedError) Error() string {
	return fmt.Sprintf("%s %q already processed (status %s)", e.Kind, e.ID, e.Status)
}

func (e *AlreadyProcessedError) Unwrap() error {
	return ErrAlreadyProcessed
}

// StoreUnavailableError wraps the last transient failure after retries ran out.
type StoreUnavailableError struct {
	Op  string
	Err error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("%s: store unavailable: %v", e.Op, e.Err)
}

func (e *StoreUnavailableError) Unwrap() []error {
	return []error{ErrStoreUnavailable, e.Err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

// IsClientError returns true if the error is due to the caller's request.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrAlreadyProcessed)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// outcome labels an operation result for metrics and logs.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "invalid"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrAlreadyProcessed):
		return "already_processed"
	case errors.Is(err, ErrStoreUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}
