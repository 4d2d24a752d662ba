package currency

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	got, err := Normalize(" usd ")
	require.NoError(t, err)
	assert.Equal(t, "USD", got)

	_, err = Normalize("")
	assert.Error(t, err)

	_, err = Normalize("XYZ")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported currency")
}

func TestMinorUnits(t *testing.T) {
	n, err := MinorUnits("JPY")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = MinorUnits("usd")
	assert.Error(t, err)
}
