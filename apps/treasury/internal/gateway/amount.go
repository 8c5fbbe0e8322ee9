package gateway

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// ToRawAmount scales a human-unit amount into the token's raw integer units.
func ToRawAmount(amount decimal.Decimal, decimals uint8) *big.Int {
	return amount.Shift(int32(decimals)).BigInt()
}

// FromRawAmount converts raw token units back into human units.
func FromRawAmount(raw *big.Int, decimals uint8) decimal.Decimal {
	return decimal.NewFromBigInt(raw, 0).Shift(-int32(decimals))
}
