package validation

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldErrorMatchesSentinel(t *testing.T) {
	err := fmt.Errorf("pricing: %w", Field("basePrice", "doit être positif"))

	require.True(t, errors.Is(err, ErrInvalid))
	field, ok := FieldOf(err)
	require.True(t, ok)
	assert.Equal(t, "basePrice", field)
	assert.Contains(t, err.Error(), "basePrice: doit être positif")
}

func TestFieldOfPlainError(t *testing.T) {
	_, ok := FieldOf(errors.New("boom"))
	assert.False(t, ok)
}
