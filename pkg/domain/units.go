package domain

import (
	"math/big"
	"strings"

	dErrors "sos/pkg/domain-errors"
)

const (
	// LocationDecimals is the fixed point scale of request coordinates.
	LocationDecimals = 10
	// DefaultTokenDecimals matches the common ERC-20 default.
	DefaultTokenDecimals = 18
)

// ParseUnits converts a decimal string into an integer scaled by 10^decimals.
// "256.12903" with 10 decimals becomes 2561290300000. Fractions with more
// digits than decimals are rejected rather than rounded.
func ParseUnits(value string, decimals int) (*big.Int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "empty amount")
	}
	negative := false
	switch value[0] {
	case '-':
		negative = true
		value = value[1:]
	case '+':
		value = value[1:]
	}
	if value == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "missing digits")
	}

	whole, frac, _ := strings.Cut(value, ".")
	if whole == "" {
		whole = "0"
	}
	if len(frac) > decimals {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "too many decimal places")
	}
	if !isDigits(whole) || (frac != "" && !isDigits(frac)) {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "invalid decimal: "+value)
	}
	frac += strings.Repeat("0", decimals-len(frac))

	out, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "invalid decimal: "+value)
	}
	if negative {
		out.Neg(out)
	}
	return out, nil
}

// MustParseUnits panics on invalid input. Use for constants and tests.
func MustParseUnits(value string, decimals int) *big.Int {
	v, err := ParseUnits(value, decimals)
	if err != nil {
		panic(err)
	}
	return v
}

// FormatUnits is the inverse of ParseUnits. Trailing fractional zeros are
// trimmed.
func FormatUnits(v *big.Int, decimals int) string {
	if v == nil {
		return "0"
	}
	s := new(big.Int).Abs(v).String()
	sign := ""
	if v.Sign() < 0 {
		sign = "-"
	}
	if decimals == 0 {
		return sign + s
	}
	if len(s) <= decimals {
		s = strings.Repeat("0", decimals-len(s)+1) + s
	}
	whole, frac := s[:len(s)-decimals], strings.TrimRight(s[len(s)-decimals:], "0")
	if frac == "" {
		return sign + whole
	}
	return sign + whole + "." + frac
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
