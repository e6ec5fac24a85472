package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTradingErrorWrapping(t *testing.T) {
	cause := errors.New("connection reset by peer")
	err := WrapError(ErrConnectionLost, "submit falló", cause)

	require.ErrorIs(t, err, cause)
	assert.Equal(t, ErrConnectionLost, CodeOf(err))
	assert.Contains(t, err.Error(), "CONNECTION_LOST")
	assert.Contains(t, err.Error(), "connection reset by peer")
}

func TestTradingErrorDetails(t *testing.T) {
	err := NewError(ErrConfigMissing, "snapshot incompleto").
		WithDetail("missing_keys", []string{"arbiter/risk/max_exposure"}).
		WithDetail("env", "prod")

	require.Len(t, err.Details, 2)
	assert.Equal(t, "prod", err.Details["env"])
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, ErrNoError, CodeOf(nil))
	assert.Equal(t, ErrUnknown, CodeOf(errors.New("plain")))

	// El código sobrevive a envolturas con fmt.Errorf.
	inner := NewError(ErrDuplicateIntent, "ya registrado")
	outer := fmt.Errorf("journal append: %w", inner)
	assert.Equal(t, ErrDuplicateIntent, CodeOf(outer))
}

func TestRetryableAndFatalAreDisjoint(t *testing.T) {
	retryable := []ErrorCode{ErrTooManyRequests, ErrTimeout, ErrConnectionLost}
	fatal := []ErrorCode{ErrDuplicateIntent, ErrJournalConflict, ErrDeterminismViolation, ErrMissingRequiredField}

	for _, code := range retryable {
		assert.True(t, IsRetryable(code), "code %s", code)
		assert.False(t, IsFatal(code), "code %s", code)
	}
	for _, code := range fatal {
		assert.True(t, IsFatal(code), "code %s", code)
		assert.False(t, IsRetryable(code), "code %s", code)
	}

	// Los rechazos de gates no son ni retriables ni fatales: son veredictos.
	for _, code := range []ErrorCode{ErrExposureExceeded, ErrModeForbidsOpen, ErrTooSmallAfterQuantization} {
		assert.False(t, IsRetryable(code), "code %s", code)
		assert.False(t, IsFatal(code), "code %s", code)
	}
}
