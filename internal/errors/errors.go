package errors

import "fmt"

// ErrorCode represents an inlet error code.
type ErrorCode string

const (
	ErrInvalidRequest     ErrorCode = "INVALID_REQUEST"     // malformed input, rejected at the boundary
	ErrNotFound           ErrorCode = "NOT_FOUND"           // capture or state key does not exist
	ErrDuplicateCapture   ErrorCode = "DUPLICATE_CAPTURE"   // (source, channel_native_id) already staged
	ErrStateViolation     ErrorCode = "STATE_VIOLATION"     // transition not in the lifecycle table
	ErrTerminalState      ErrorCode = "TERMINAL_STATE"      // transition touching a terminal status
	ErrHashImmutable      ErrorCode = "HASH_IMMUTABLE"      // content_hash rewrite attempt
	ErrIntegrityViolation ErrorCode = "INTEGRITY_VIOLATION" // same id, materially different content
	ErrStorageExhausted   ErrorCode = "STORAGE_EXHAUSTED"   // disk/inode exhaustion, read-only fs
	ErrTransientIO        ErrorCode = "TRANSIENT_IO"        // permission hiccup, busy lock, flaky mount
	ErrBackpressure       ErrorCode = "BACKPRESSURE"        // too many non-terminal captures in flight
	ErrQuarantined        ErrorCode = "QUARANTINED"         // capture flagged for manual resolution
	ErrInternal           ErrorCode = "INTERNAL"
)

// InletError represents a structured error with code, status, and details.
type InletError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
}

// Error implements the error interface.
func (e *InletError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Retriable reports whether re-running the same operation with the same
// identifier may succeed. Integrity violations and exhaustion require
// operator intervention and must never be retried automatically.
func (e *InletError) Retriable() bool {
	switch e.Code {
	case ErrTransientIO, ErrBackpressure:
		return true
	}
	return false
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *InletError {
	return &InletError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewNotFound creates a 404 error for when a capture cannot be found.
func NewNotFound(identifier string) *InletError {
	return &InletError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("capture not found: %s", identifier),
		Details: map[string]any{"identifier": identifier},
	}
}

// NewDuplicateCapture creates a 409 error for the identity dedup layer:
// a second staging attempt for the same origin-native item.
func NewDuplicateCapture(source, channelNativeID string) *InletError {
	return &InletError{
		Code:    ErrDuplicateCapture,
		Status:  409,
		Message: fmt.Sprintf("capture already staged for %s item %q", source, channelNativeID),
		Details: map[string]any{"source": source, "channel_native_id": channelNativeID},
	}
}

// NewStateViolation creates a 409 error for a transition not present in the
// lifecycle table.
func NewStateViolation(id, from, to string) *InletError {
	return &InletError{
		Code:    ErrStateViolation,
		Status:  409,
		Message: fmt.Sprintf("illegal transition %s -> %s for capture %s", from, to, id),
		Details: map[string]any{"id": id, "from": from, "to": to},
	}
}

// NewTerminalState creates a 409 error for a transition out of a terminal
// status. Distinct from the general state violation so callers can tell a
// finished capture apart from an out-of-order request.
func NewTerminalState(id, from string) *InletError {
	return &InletError{
		Code:    ErrTerminalState,
		Status:  409,
		Message: fmt.Sprintf("capture %s is terminal in status %s", id, from),
		Details: map[string]any{"id": id, "status": from},
	}
}

// NewHashImmutable creates a 409 error for an attempt to change a content
// hash that was already bound.
func NewHashImmutable(id, existing, attempted string) *InletError {
	return &InletError{
		Code:    ErrHashImmutable,
		Status:  409,
		Message: fmt.Sprintf("content hash for capture %s is already set", id),
		Details: map[string]any{"id": id, "existing": existing, "attempted": attempted},
	}
}

// NewIntegrityViolation creates a 500-class error for an identifier resolving
// to materially different content at publish time. Never auto-resolved.
func NewIntegrityViolation(id, path, wantHash, gotHash string) *InletError {
	return &InletError{
		Code:    ErrIntegrityViolation,
		Status:  500,
		Message: fmt.Sprintf("artifact %s exists with different content for capture %s", path, id),
		Details: map[string]any{"id": id, "path": path, "want_hash": wantHash, "got_hash": gotHash},
	}
}

// NewStorageExhausted creates a 507 error for disk or inode exhaustion.
// Fatal for the publishing path until an operator intervenes.
func NewStorageExhausted(err error) *InletError {
	return &InletError{
		Code:    ErrStorageExhausted,
		Status:  507,
		Message: fmt.Sprintf("storage exhausted: %v", err),
	}
}

// NewTransientIO creates a 503 error for a retriable filesystem condition.
func NewTransientIO(err error) *InletError {
	return &InletError{
		Code:    ErrTransientIO,
		Status:  503,
		Message: fmt.Sprintf("transient I/O failure: %v", err),
	}
}

// NewBackpressure creates a 429 error when the non-terminal backlog exceeds
// the configured threshold. Retriable by construction.
func NewBackpressure(pending, limit int) *InletError {
	return &InletError{
		Code:    ErrBackpressure,
		Status:  429,
		Message: fmt.Sprintf("ingestion paused: %d captures pending (limit %d)", pending, limit),
		Details: map[string]any{"pending": pending, "limit": limit},
	}
}

// NewQuarantined creates a 409 error for a capture whose external reference
// could not be verified and now requires manual resolution.
func NewQuarantined(id string) *InletError {
	return &InletError{
		Code:    ErrQuarantined,
		Status:  409,
		Message: fmt.Sprintf("capture %s is quarantined", id),
		Details: map[string]any{"id": id},
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *InletError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &InletError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
	}
}

// Is checks if an error is an InletError with the given code.
func Is(err error, code ErrorCode) bool {
	if iErr, ok := err.(*InletError); ok {
		return iErr.Code == code
	}
	return false
}

// Retriable reports whether err is an InletError whose operation may be
// retried as-is. Non-InletError values are never retriable.
func Retriable(err error) bool {
	if iErr, ok := err.(*InletError); ok {
		return iErr.Retriable()
	}
	return false
}
