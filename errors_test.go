package chronicle

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConcurrencyError(t *testing.T) {
	err := NewConcurrencyError("Account-acc-1", 3, 5)

	assert.ErrorIs(t, err, ErrConcurrencyConflict)
	assert.Equal(t, "Account-acc-1", err.StreamID)
	assert.Equal(t, int64(3), err.ExpectedVersion)
	assert.Equal(t, int64(5), err.ActualVersion)
	assert.Contains(t, err.Error(), "expected version 3")

	// Wrapped errors still match.
	wrapped := fmt.Errorf("save failed: %w", err)
	assert.ErrorIs(t, wrapped, ErrConcurrencyConflict)

	var concErr *ConcurrencyError
	require.ErrorAs(t, wrapped, &concErr)
	assert.Equal(t, int64(5), concErr.ActualVersion)
}

func TestAggregateNotFoundError(t *testing.T) {
	err := NewAggregateNotFoundError("Account", "acc-1")

	assert.ErrorIs(t, err, ErrAggregateNotFound)
	assert.Contains(t, err.Error(), "Account-acc-1")
	assert.ErrorIs(t, errors.Unwrap(err), ErrAggregateNotFound)
}

func TestInvalidEventError(t *testing.T) {
	err := NewInvalidEventError("type", "is required")

	assert.ErrorIs(t, err, ErrInvalidEvent)
	assert.Contains(t, err.Error(), "type is required")
}

func TestUninitializedStateError(t *testing.T) {
	err := NewUninitializedStateError("Account", "acc-1")

	assert.ErrorIs(t, err, ErrUninitializedState)
	assert.Contains(t, err.Error(), "Account-acc-1")
}

func TestBusinessRuleError(t *testing.T) {
	err := NewBusinessRuleError("acc-1", "insufficient funds")

	assert.ErrorIs(t, err, ErrBusinessRule)
	assert.Contains(t, err.Error(), "insufficient funds")

	var ruleErr *BusinessRuleError
	require.ErrorAs(t, err, &ruleErr)
	assert.Equal(t, "acc-1", ruleErr.AggregateID)
}

func TestIDMismatchError(t *testing.T) {
	err := NewIDMismatchError("Account-acc-1", "Account-acc-2")

	assert.ErrorIs(t, err, ErrIDMismatch)
	assert.Contains(t, err.Error(), "Account-acc-2")
}

func TestSerializationError(t *testing.T) {
	cause := fmt.Errorf("unexpected end of JSON input")
	err := NewSerializationError("AccountOpened", "deserialize", cause)

	assert.ErrorIs(t, err, ErrSerializationFailed)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "AccountOpened")
}

func TestStoreErrorsAliasStorageSentinels(t *testing.T) {
	// Callers match a conflict with the root package sentinel regardless of
	// which layer produced it; the aliases keep that contract honest.
	adapterErr := NewConcurrencyError("Account-acc-1", 0, 1)
	assert.ErrorIs(t, adapterErr, ErrConcurrencyConflict)
}
