package model

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// BpsDenominator is 100% expressed in basis points.
const BpsDenominator = 10000

// ParseAmount parses a non-negative base-10 integer amount.
func ParseAmount(value string) (*big.Int, error) {
	if value == "" {
		return big.NewInt(0), nil
	}
	parsed, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount: %s", value)
	}
	if parsed.Sign() < 0 {
		return nil, fmt.Errorf("negative amount: %s", value)
	}
	return parsed, nil
}

// IsPositive reports whether amount is non-nil and greater than zero.
func IsPositive(amount *big.Int) bool {
	return amount != nil && amount.Sign() > 0
}

// CopyAmount returns an independent copy of amount, treating nil as zero.
func CopyAmount(amount *big.Int) *big.Int {
	if amount == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(amount)
}

// ApplyBps returns floor(amount * bps / 10000).
func ApplyBps(amount *big.Int, bps uint64) *big.Int {
	out := new(big.Int).Mul(CopyAmount(amount), new(big.Int).SetUint64(bps))
	return out.Quo(out, big.NewInt(BpsDenominator))
}

// CeilBps returns ceil(amount * bps / 10000), the smallest value that is
// at least bps of amount.
func CeilBps(amount *big.Int, bps uint64) *big.Int {
	out := new(big.Int).Mul(CopyAmount(amount), new(big.Int).SetUint64(bps))
	out.Add(out, big.NewInt(BpsDenominator-1))
	return out.Quo(out, big.NewInt(BpsDenominator))
}

// RatioBps returns floor(part * 10000 / whole). A zero whole yields zero.
func RatioBps(part, whole *big.Int) uint64 {
	if whole == nil || whole.Sign() == 0 {
		return 0
	}
	out := new(big.Int).Mul(CopyAmount(part), big.NewInt(BpsDenominator))
	out.Quo(out, whole)
	if !out.IsUint64() {
		return ^uint64(0)
	}
	return out.Uint64()
}

// PercentToBps converts a percentage such as "2.5" into basis points,
// rejecting values that do not map onto a whole number of basis points.
func PercentToBps(percent string) (uint64, error) {
	d, err := decimal.NewFromString(percent)
	if err != nil {
		return 0, fmt.Errorf("invalid percent %q: %w", percent, err)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("negative percent: %s", percent)
	}
	bps := d.Mul(decimal.NewFromInt(100))
	if !bps.Equal(bps.Truncate(0)) {
		return 0, fmt.Errorf("percent %s is finer than one basis point", percent)
	}
	return uint64(bps.IntPart()), nil
}

// FormatBps renders basis points as a percentage with two decimals.
func FormatBps(bps uint64) string {
	return decimal.NewFromInt(int64(bps)).Div(decimal.NewFromInt(100)).StringFixed(2) + "%"
}
