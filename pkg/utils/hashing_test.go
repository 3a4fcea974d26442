package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeAddress_ChecksumVectors(t *testing.T) {
	vectors := []string{
		"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		"0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359",
		"0xdbF03B407c01E7cD3CBea99509d93f8DDDC8C6FB",
		"0xD1220A0cf47c7B9Be7A2E6BA89F429762e7b9aDb",
	}
	for _, want := range vectors {
		t.Run(want, func(t *testing.T) {
			got, err := NormalizeAddress(strings.ToLower(want))
			require.NoError(t, err)
			assert.Equal(t, want, got)

			got, err = NormalizeAddress(strings.ToUpper(want[2:]))
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestNormalizeAddress_Rejects(t *testing.T) {
	for _, in := range []string{"", "0x1234", "0xZZAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", ZeroAddress} {
		_, err := NormalizeAddress(in)
		assert.ErrorIs(t, err, ErrInvalidAddress, in)
	}
}

func TestSameAddress(t *testing.T) {
	assert.True(t, SameAddress("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"))
	assert.False(t, SameAddress("", ""))
}
