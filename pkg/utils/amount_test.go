package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"10", 10_000_000},
		{"9.99", 9_990_000},
		{"0.000001", 1},
		{" 100 ", 100_000_000},
		{"0", 0},
	}
	for _, tt := range tests {
		got, err := ParseAmount(tt.in, 6)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	for _, bad := range []string{"", "abc", "-1", "0.0000001", "99999999999999999999"} {
		_, err := ParseAmount(bad, 6)
		assert.ErrorIs(t, err, ErrInvalidAmount, bad)
	}
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "10", FormatAmount(10_000_000, 6))
	assert.Equal(t, "9.99", FormatAmount(9_990_000, 6))
	assert.Equal(t, "0.000001", FormatAmount(1, 6))
}

func TestMulDivFloor(t *testing.T) {
	assert.Equal(t, int64(3), MulDivFloor(10, 1, 3))
	assert.Equal(t, int64(100_000_000), MulDivFloor(100_000_000, 7, 7))
	// intermediate product overflows int64
	assert.Equal(t, int64(4_000_000_000_000_000_000), MulDivFloor(4_000_000_000_000_000_000, 3_000_000_000, 3_000_000_000))
	assert.Equal(t, int64(0), MulDivFloor(1, 1, 0))
}
