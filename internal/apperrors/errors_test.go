package apperrors

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidationErrorMatchesKind(t *testing.T) {
	err := fmt.Errorf("create: %w", NewValidation(InvalidPercentage, "allocation_percentage", "must be <= 100, got %s", "101"))

	assert.True(t, errors.Is(err, ErrInvalidPercentage))
	assert.False(t, errors.Is(err, ErrInvalidDateRange))

	var ve *ValidationError
	assert.True(t, errors.As(err, &ve))
	assert.Equal(t, "allocation_percentage", ve.Field)
	assert.Contains(t, err.Error(), "InvalidPercentage")
	assert.False(t, IsRetryable(err))
}

func TestRetryability(t *testing.T) {
	lockErr := &LockTimeoutError{Key: "r1", Waited: 2 * time.Second}
	assert.True(t, IsRetryable(fmt.Errorf("recompute: %w", lockErr)))
	assert.True(t, IsRetryable(&StorageError{Op: "commit", Err: errors.New("disk I/O")}))
	assert.True(t, IsRetryable(fmt.Errorf("reconcile: %w", ErrLockLost)))
	assert.False(t, IsRetryable(ErrAlreadyResolved))
	assert.False(t, IsRetryable(nil))
}
