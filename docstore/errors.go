package docstore

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("document not found")

	// ErrAlreadyExists is returned by Create writes when the id is taken.
	ErrAlreadyExists = errors.New("document already exists")

	// ErrConflict is returned when an IfVersion precondition fails.
	ErrConflict = errors.New("document version conflict")

	// ErrUnavailable marks transient backend failures. The write may or may
	// not have been committed.
	ErrUnavailable = errors.New("document store unavailable")

	// ErrBatchTooLarge is returned when a batch exceeds the store's limit.
	ErrBatchTooLarge = errors.New("batch too large")

	// ErrInvalidDocument is returned when data does not encode to a JSON object.
	ErrInvalidDocument = errors.New("invalid document")

	// ErrInvalidQuery is returned for malformed filters.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("document store closed")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// ConflictError describes a failed version precondition.
type ConflictError struct {
	Collection string
	ID         string
	Expected   int64
	Actual     int64 // 0 when the document is absent
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict on %s/%s: expected %d, found %d",
		e.Collection, e.ID, e.Expected, e.Actual)
}

func (e *ConflictError) Unwrap() error {
	return ErrConflict
}

// UnavailableError wraps a backend error classified as transient.
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Op, ErrUnavailable, e.Err)
}

func (e *UnavailableError) Unwrap() []error {
	return []error{ErrUnavailable, e.Err}
}

func notFound(collection, id string) error {
	return fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, ErrConflict)
}
