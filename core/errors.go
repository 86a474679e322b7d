package core

import (
	"errors"
	"fmt"
)

// Standard sentinel errors for comparison using errors.Is()
// These are generic errors that can be wrapped with additional context
var (
	// Remote call errors
	ErrTransientRemote    = errors.New("transient remote failure")
	ErrQuotaExceeded      = errors.New("quota exceeded")
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")
	ErrCircuitBreakerOpen = errors.New("circuit breaker is open")
	ErrAuthentication     = errors.New("authentication failed")

	// LLM batch errors
	ErrBatchFailed   = errors.New("provider batch failed")
	ErrBatchExpired  = errors.New("provider batch exceeded deadline")
	ErrBatchNotFound = errors.New("provider batch not found")

	// Parsing errors
	ErrParse            = errors.New("response parse failure")
	ErrMalformedRecord  = errors.New("malformed catalog record")
	ErrUnparseableReply = errors.New("unparseable model reply")

	// Pipeline state errors
	ErrInvariantViolation = errors.New("data invariant violation")
	ErrPersistence        = errors.New("persistence failure")
	ErrRunNotFound        = errors.New("run not found")
	ErrItemNotFound       = errors.New("item not found")
	ErrInvalidTransition  = errors.New("invalid status transition")
)

// PipelineError provides structured error information with context.
// It implements the error interface and supports error wrapping.
type PipelineError struct {
	Op      string // Operation that failed (e.g., "store.Update")
	Kind    string // Error kind (e.g., "persistence", "parse", "remote")
	Barcode string // Optional barcode of the item involved
	Message string // Human-readable message
	Err     error  // Underlying error for wrapping
}

// Error returns the string representation of the error
func (e *PipelineError) Error() string {
	if e.Op != "" && e.Err != nil {
		if e.Barcode != "" {
			return fmt.Sprintf("%s [%s]: %v", e.Op, e.Barcode, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s error", e.Kind)
}

// Unwrap returns the underlying error for use with errors.Is/As
func (e *PipelineError) Unwrap() error {
	return e.Err
}

// NewPipelineError creates a new PipelineError
func NewPipelineError(op, kind string, err error) *PipelineError {
	return &PipelineError{
		Op:   op,
		Kind: kind,
		Err:  err,
	}
}

// NewItemError creates a PipelineError scoped to a single item
func NewItemError(op, kind, barcode string, err error) *PipelineError {
	return &PipelineError{
		Op:      op,
		Kind:    kind,
		Barcode: barcode,
		Err:     err,
	}
}

// IsTransient checks if an error may succeed on retry.
// Transient errors are network faults, timeouts, 5xx and 429 responses.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransientRemote)
}

// IsQuotaExceeded checks if an error is a daily or per-second quota breach
func IsQuotaExceeded(err error) bool {
	return errors.Is(err, ErrQuotaExceeded)
}

// IsParseError checks if an error came from parsing a remote response
func IsParseError(err error) bool {
	return errors.Is(err, ErrParse) ||
		errors.Is(err, ErrMalformedRecord) ||
		errors.Is(err, ErrUnparseableReply)
}

// IsPersistence checks if an error is a store I/O failure.
// Persistence errors are fatal for the run.
func IsPersistence(err error) bool {
	return errors.Is(err, ErrPersistence)
}

// IsInvariantViolation checks if an error represents a broken pipeline
// invariant (e.g. a stage attempting to raise confidence). Fatal for the run.
func IsInvariantViolation(err error) bool {
	return errors.Is(err, ErrInvariantViolation)
}
