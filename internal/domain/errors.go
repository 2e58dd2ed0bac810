package domain

import (
	"errors"
	"fmt"
)

// Saga input errors: rejected before any side effect
var (
	// ErrDuplicateRegistration is returned when a property with the same
	// location business key already exists in the cache
	ErrDuplicateRegistration = errors.New("property already registered for location")

	// ErrDuplicateDocument is returned when a document with the same content
	// hash already exists
	ErrDuplicateDocument = errors.New("document with identical content already stored")

	// ErrStaleOwner is returned when a transfer caller no longer matches the
	// cache's recorded owner at submission time
	ErrStaleOwner = errors.New("caller is not the recorded owner")

	// ErrCachePersistenceFailed is returned when the ledger accepted a write
	// but the relational cache update failed; the reconciliation engine will
	// backfill the row on its next cycle
	ErrCachePersistenceFailed = errors.New("cache persistence failed after ledger confirmation")
)

// Document layer errors
var (
	// ErrIntegrityMismatch is returned when retrieved content does not hash
	// to the recorded content hash
	ErrIntegrityMismatch = errors.New("content hash mismatch on retrieval")

	// ErrAccessDenied is returned when a requester has no effective grant
	ErrAccessDenied = errors.New("access denied")

	// ErrDocumentNotFound is returned when no document matches the reference
	ErrDocumentNotFound = errors.New("document not found")

	// ErrFileTooLarge is returned when an upload exceeds the configured limit
	ErrFileTooLarge = errors.New("file exceeds maximum size")

	// ErrUnsupportedFileType is returned when the detected MIME type is not allowed
	ErrUnsupportedFileType = errors.New("unsupported file type")
)

// ErrPropertyNotFound is returned when no property matches the identifier
var ErrPropertyNotFound = errors.New("property not found")

// ExecutorErrorKind classifies a ledger transaction failure
type ExecutorErrorKind string

const (
	// ExecutorUnderfunded means the signer cannot cover gas plus value; final
	ExecutorUnderfunded ExecutorErrorKind = "underfunded"
	// ExecutorGasEstimationFailed means the node rejected the gas estimate; final
	ExecutorGasEstimationFailed ExecutorErrorKind = "gas_estimation_failed"
	// ExecutorReverted means the transaction was included but reverted; final
	ExecutorReverted ExecutorErrorKind = "reverted"
	// ExecutorTimeout means no receipt arrived within the confirmation window.
	// The transaction may still confirm later; callers must treat this as an
	// unknown outcome and rely on reconciliation, never as a failure.
	ExecutorTimeout ExecutorErrorKind = "timeout"
	// ExecutorConnectionLost means a transport failure with unknown outcome
	ExecutorConnectionLost ExecutorErrorKind = "connection_lost"
	// ExecutorIdentifierNotEmitted means a creation call confirmed without the
	// expected creation event, indicating an ABI/contract mismatch; fatal
	ExecutorIdentifierNotEmitted ExecutorErrorKind = "identifier_not_emitted"
)

// ExecutorError is the typed failure surface of the ledger transaction executor
type ExecutorError struct {
	Kind   ExecutorErrorKind
	TxHash string
	Err    error
}

func (e *ExecutorError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("executor %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("executor %s", e.Kind)
}

func (e *ExecutorError) Unwrap() error {
	return e.Err
}

// Ambiguous reports whether the transaction outcome is unknown. Ambiguous
// failures must never trigger compensation: the transaction may still land
// and reconciliation will absorb whichever outcome materializes.
func (e *ExecutorError) Ambiguous() bool {
	return e.Kind == ExecutorTimeout || e.Kind == ExecutorConnectionLost
}

// NewExecutorError wraps err with an outcome classification
func NewExecutorError(kind ExecutorErrorKind, err error) *ExecutorError {
	return &ExecutorError{Kind: kind, Err: err}
}

// AsExecutorError unwraps err into an *ExecutorError if it is one
func AsExecutorError(err error) (*ExecutorError, bool) {
	var ee *ExecutorError
	if errors.As(err, &ee) {
		return ee, true
	}
	return nil, false
}
