package bundler

import (
	"errors"
	"math/big"
	"strings"
)

var (
	ErrInvalidAmount = errors.New("invalid decimal amount")

	big100 = big.NewInt(100)
	big10  = big.NewInt(10)
)

func pow10(decimals int) *big.Int {
	return new(big.Int).Exp(big10, big.NewInt(int64(decimals)), nil)
}

// ParseUnits converts a decimal string like "1.5" into an integer amount with the given number of decimals.
// Fractional parts longer than decimals are rejected instead of being rounded.
func ParseUnits(value string, decimals int) (*big.Int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, ErrInvalidAmount
	}
	whole, frac, hasDot := strings.Cut(value, ".")
	if hasDot && whole == "" && frac == "" {
		return nil, ErrInvalidAmount
	}
	if !isDigits(whole) || !isDigits(frac) {
		return nil, ErrInvalidAmount
	}
	if len(frac) > decimals {
		return nil, ErrInvalidAmount
	}
	frac += strings.Repeat("0", decimals-len(frac))

	digits := strings.TrimLeft(whole+frac, "0")
	if digits == "" {
		return new(big.Int), nil
	}
	res, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, ErrInvalidAmount
	}
	return res, nil
}

func isDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// FormatUnits renders an integer amount with the given decimals, keeping precision digits after the point.
// Rounding is half away from zero.
func FormatUnits(value *big.Int, decimals, precision int) string {
	if value == nil {
		return ""
	}
	return new(big.Rat).SetFrac(value, pow10(decimals)).FloatString(precision)
}

// SpendableAmount returns floor(balance * percent / 100)
func SpendableAmount(balance *big.Int, percent uint64) *big.Int {
	if balance == nil {
		return new(big.Int)
	}
	res := new(big.Int).Mul(balance, new(big.Int).SetUint64(percent))
	return res.Quo(res, big100)
}

// WholeTokensToUnits multiplies a whole token amount by 10^EtherDecimals.
// Token decimals are intentionally not consulted.
func WholeTokensToUnits(amount *big.Int) *big.Int {
	return new(big.Int).Mul(amount, pow10(EtherDecimals))
}
