// Package core implements the on-chain settlement processors: building,
// signing, broadcasting and confirming transfer transactions, and
// independently re-verifying submitted payment authorizations against ledger
// state.
package core

import (
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/openx402/x402-go/types"
)

// verificationTolerance is the fraction of the expected amount that must have
// been received for verification to pass. Fixed at 99% to absorb fee and
// decimal rounding on the payer side.
var verificationTolerance = decimal.RequireFromString("0.99")

// ParseAmount parses a human-unit decimal amount string. Amounts must be
// strictly positive.
func ParseAmount(amount string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return decimal.Decimal{}, types.NewInvalidPaymentRequestError("invalid amount format: " + amount)
	}
	if !d.IsPositive() {
		return decimal.Decimal{}, types.NewInvalidPaymentRequestError("amount must be positive: " + amount)
	}
	return d, nil
}

// ToBaseUnits converts a human-unit amount string into ledger base units.
// Conversion always truncates toward zero, never rounds up, so tolerance
// windows cannot be shifted in the payer's favor.
func ToBaseUnits(amount string, decimals int32) (uint64, error) {
	d, err := ParseAmount(amount)
	if err != nil {
		return 0, err
	}
	base := d.Shift(decimals).Floor().BigInt()
	if !base.IsUint64() {
		return 0, types.NewInvalidPaymentRequestError("amount out of range: " + amount)
	}
	return base.Uint64(), nil
}

// FromBaseUnits converts ledger base units back into a human-unit decimal.
func FromBaseUnits(base uint64, decimals int32) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(base), -decimals)
}

// MeetsTolerance reports whether a received base-unit amount satisfies the
// expected base-unit amount within the verification tolerance.
func MeetsTolerance(received, expected uint64) bool {
	r := decimal.NewFromBigInt(new(big.Int).SetUint64(received), 0)
	e := decimal.NewFromBigInt(new(big.Int).SetUint64(expected), 0)
	return r.Cmp(e.Mul(verificationTolerance)) >= 0
}

// CompareAmounts compares two human-unit amount strings numerically,
// returning -1, 0 or 1.
func CompareAmounts(a, b string) (int, error) {
	da, err := decimal.NewFromString(a)
	if err != nil {
		return 0, types.NewInvalidPaymentAuthorizationError("invalid amount format: " + a)
	}
	db, err := decimal.NewFromString(b)
	if err != nil {
		return 0, types.NewInvalidPaymentRequestError("invalid amount format: " + b)
	}
	return da.Cmp(db), nil
}
