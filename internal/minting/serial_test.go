package minting

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatSerial(t *testing.T) {
	t.Run("should zero-pad the sequence", func(t *testing.T) {
		assert.Equal(t, "VA-POT-2024-N-000001", formatSerial("POT", 2024, "N", 1))
		assert.Equal(t, "VA-ES-2025-P-001234", formatSerial("ES", 2025, "P", 1234))
	})

	t.Run("should uppercase the basin code", func(t *testing.T) {
		assert.Equal(t, "VA-RAP-2024-N-000042", formatSerial("rap", 2024, "N", 42))
	})
}

func TestNutrientCode(t *testing.T) {
	assert.Equal(t, "P", nutrientCode("phosphorus"))
	assert.Equal(t, "P", nutrientCode("nutrient-Phosphorus"))
	assert.Equal(t, "N", nutrientCode("nutrient"))
	assert.Equal(t, "N", nutrientCode("nitrogen"))
}

func TestParseCounter(t *testing.T) {
	value, err := parseCounter("10.0500")
	require.NoError(t, err)
	assert.Equal(t, "10.05", value.StringFixed(2))

	_, err = parseCounter("not-a-number")
	assert.Error(t, err)
}
