package handler

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

const etherDecimals = 18

var weiPerEther = decimal.New(1, etherDecimals)

// ParseEther は "1.5" のような ETH 表記を Wei に変換する。
// 小数点以下 18 桁を超える値と負の値は受け付けない。
func ParseEther(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("amount is empty")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("amount must not be negative: %s", s)
	}
	wei := d.Mul(weiPerEther)
	if !wei.Equal(wei.Truncate(0)) {
		return nil, fmt.Errorf("amount has more than %d decimal places: %s", etherDecimals, s)
	}
	return wei.BigInt(), nil
}

// FormatEther は Wei を末尾のゼロを除いた ETH 表記にする
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	return decimal.NewFromBigInt(wei, -etherDecimals).String()
}
