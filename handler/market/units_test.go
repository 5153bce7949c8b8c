package handler

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEther(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"1", "1000000000000000000"},
		{"0.1", "100000000000000000"},
		{" 2.5 ", "2500000000000000000"},
		{"0", "0"},
		{"0.000000000000000001", "1"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			wei, err := ParseEther(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, wei.String())
		})
	}
}

func TestParseEther_Rejects(t *testing.T) {
	for _, in := range []string{"", "abc", "-1", "0.0000000000000000001"} {
		_, err := ParseEther(in)
		assert.Error(t, err, in)
	}
}

func TestFormatEther(t *testing.T) {
	assert.Equal(t, "1", FormatEther(big.NewInt(1_000_000_000_000_000_000)))
	assert.Equal(t, "0.3", FormatEther(big.NewInt(300_000_000_000_000_000)))
	assert.Equal(t, "0", FormatEther(nil))
	assert.Equal(t, "0.000000000000000001", FormatEther(big.NewInt(1)))
}
