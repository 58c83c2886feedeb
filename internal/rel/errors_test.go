package rel

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorCodePredicatesSeeThroughWrapping(t *testing.T) {
	usage := NewUsageError("bad call")
	wrapped := fmt.Errorf("outer: %w", usage)

	assert.True(t, IsUsageError(wrapped))
	assert.False(t, IsIntegrityError(wrapped))
	assert.False(t, IsGuardError(wrapped))
}

func TestIntegrityErrorKeepsCause(t *testing.T) {
	cause := errors.New("UNIQUE constraint failed")
	err := NewIntegrityError("session", "set SkipDuplicates to ignore duplicate entries in insert", cause)

	assert.True(t, IsIntegrityError(err))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "INTEGRITY_ERROR")
	assert.Contains(t, err.Error(), "session")
	assert.Contains(t, err.Error(), "SkipDuplicates")
}

func TestGuardErrorNamesTheDependentTable(t *testing.T) {
	err := NewGuardError("__filtered_trace")
	assert.True(t, IsGuardError(err))
	assert.Contains(t, err.Error(), "__filtered_trace")
}

func TestTransactionAndSchemaErrors(t *testing.T) {
	assert.True(t, IsTransactionError(NewTransactionError("confirm inside transaction")))
	assert.True(t, IsSchemaError(NewSchemaError("cycle: %s", "a -> b -> a")))
	assert.False(t, IsSchemaError(errors.New("plain")))
}
