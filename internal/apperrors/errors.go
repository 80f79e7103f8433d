package apperrors

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyResolved = errors.New("conflict already resolved")
	// ErrLockLost means the lock TTL elapsed before the work committed.
	ErrLockLost = errors.New("resource lock lost before commit")
)

type ValidationKind string

const (
	InvalidDateRange     ValidationKind = "InvalidDateRange"
	InvalidPercentage    ValidationKind = "InvalidPercentage"
	ResourceNotFound     ValidationKind = "ResourceNotFound"
	ResourceInactive     ValidationKind = "ResourceInactive"
	MissingJustification ValidationKind = "MissingJustification"
	InvalidField         ValidationKind = "InvalidField"
)

// Kind sentinels for errors.Is; they match any ValidationError of that kind.
var (
	ErrInvalidDateRange     = &ValidationError{Kind: InvalidDateRange}
	ErrInvalidPercentage    = &ValidationError{Kind: InvalidPercentage}
	ErrResourceNotFound     = &ValidationError{Kind: ResourceNotFound}
	ErrResourceInactive     = &ValidationError{Kind: ResourceInactive}
	ErrMissingJustification = &ValidationError{Kind: MissingJustification}
	ErrInvalidField         = &ValidationError{Kind: InvalidField}
)

// ValidationError rejects a write before anything is persisted.
type ValidationError struct {
	Kind    ValidationKind
	Field   string
	Message string
}

func NewValidation(kind ValidationKind, field, format string, args ...any) *ValidationError {
	return &ValidationError{Kind: kind, Field: field, Message: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	if e.Field != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	t, ok := target.(*ValidationError)
	return ok && t.Kind == e.Kind
}

func (e *ValidationError) IsRetryable() bool { return false }

// LockTimeoutError is returned when the per-resource lock could not be
// obtained in time. Any allocation write that preceded it is committed.
type LockTimeoutError struct {
	Key    string
	Waited time.Duration
	Err    error
}

func (e *LockTimeoutError) Error() string {
	msg := fmt.Sprintf("lock %s not acquired after %s", e.Key, e.Waited.Round(time.Millisecond))
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *LockTimeoutError) Unwrap() error { return e.Err }

func (e *LockTimeoutError) IsRetryable() bool { return true }

// StorageError wraps a persistence failure during recomputation.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage %s: %v", e.Op, e.Err) }

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) IsRetryable() bool { return true }

// IsRetryable walks the chain looking for an explicit retryability verdict.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrLockLost) {
		return true
	}
	type retryable interface{ IsRetryable() bool }
	var r retryable
	if errors.As(err, &r) {
		return r.IsRetryable()
	}
	return false
}
