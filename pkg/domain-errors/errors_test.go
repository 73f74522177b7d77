package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeOf(t *testing.T) {
	t.Run("coded error returns its code", func(t *testing.T) {
		err := New(CodeConflict, "listing already sold")
		assert.Equal(t, CodeConflict, CodeOf(err))
	})

	t.Run("uncoded error maps to internal", func(t *testing.T) {
		assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
	})

	t.Run("wrapped chains preserve the outermost code", func(t *testing.T) {
		inner := New(CodeNotFound, "batch missing")
		outer := Wrap(inner, CodeInternal, "retire failed")
		assert.Equal(t, CodeInternal, CodeOf(outer))
	})
}

func TestWrap(t *testing.T) {
	t.Run("nil error returns nil", func(t *testing.T) {
		assert.NoError(t, Wrap(nil, CodeInternal, "ignored"))
	})

	t.Run("cause stays reachable through errors.Is", func(t *testing.T) {
		cause := errors.New("connection refused")
		err := Wrap(fmt.Errorf("query: %w", cause), CodeUnavailable, "mirror store unreachable")
		require.Error(t, err)
		assert.True(t, errors.Is(err, cause))
		assert.True(t, HasCode(err, CodeUnavailable))
	})
}

func TestHasCode(t *testing.T) {
	err := Newf(CodeInvalidInput, "amount %d must be positive", -5)
	assert.True(t, HasCode(err, CodeInvalidInput))
	assert.False(t, HasCode(err, CodeConflict))
	assert.False(t, HasCode(nil, CodeInvalidInput))
}
