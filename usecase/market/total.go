package market

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

// PurchaseTotal は単価 (Wei) × 数量 を整数演算で求める。
// コントラクトと同じ 256bit 幅で計算し、溢れる場合はエラーにする。
func PurchaseTotal(unitPrice *big.Int, quantity uint64) (*big.Int, error) {
	if unitPrice == nil || unitPrice.Sign() < 0 {
		return nil, fmt.Errorf("%w: unit price must be a non-negative amount", ErrInvalidInput)
	}
	if quantity == 0 {
		return nil, fmt.Errorf("%w: quantity must be at least 1", ErrInvalidInput)
	}
	price, overflow := uint256.FromBig(unitPrice)
	if overflow {
		return nil, ErrAmountOverflow
	}
	total, overflow := new(uint256.Int).MulOverflow(price, uint256.NewInt(quantity))
	if overflow {
		return nil, ErrAmountOverflow
	}
	return total.ToBig(), nil
}
