package market

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPurchaseTotal(t *testing.T) {
	total, err := PurchaseTotal(oneEther, 3)
	require.NoError(t, err)
	assert.Equal(t, "3000000000000000000", total.String())

	// 0.1 ETH × 3 は浮動小数点を経由すると誤差が出る
	tenth := new(big.Int).Div(oneEther, big.NewInt(10))
	total, err = PurchaseTotal(tenth, 3)
	require.NoError(t, err)
	assert.Equal(t, "300000000000000000", total.String())

	total, err = PurchaseTotal(big.NewInt(0), 4)
	require.NoError(t, err)
	assert.Zero(t, total.Sign())
}

func TestPurchaseTotal_Rejects(t *testing.T) {
	_, err := PurchaseTotal(nil, 1)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = PurchaseTotal(big.NewInt(-1), 1)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = PurchaseTotal(oneEther, 0)
	assert.ErrorIs(t, err, ErrInvalidInput)

	maxUint256 := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	_, err = PurchaseTotal(maxUint256, 2)
	assert.ErrorIs(t, err, ErrAmountOverflow)

	_, err = PurchaseTotal(new(big.Int).Lsh(big.NewInt(1), 256), 1)
	assert.ErrorIs(t, err, ErrAmountOverflow)
}
