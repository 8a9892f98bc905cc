package chains

import (
	"math/big"
	"strings"

	"moff.io/dapp-wallet/pkg/errors"
)

// FormatUnits renders an integer amount of the smallest unit as a decimal string in the
// display unit. Trailing zeros are dropped but one fractional digit is always kept, so
// 10^18 wei with 18 decimals reads "1.0".
func FormatUnits(value *big.Int, decimals int) string {
	if value == nil {
		value = new(big.Int)
	}
	neg := value.Sign() < 0
	abs := new(big.Int).Abs(value)
	digits := abs.String()
	if decimals > 0 {
		if len(digits) <= decimals {
			digits = strings.Repeat("0", decimals-len(digits)+1) + digits
		}
		whole, frac := digits[:len(digits)-decimals], strings.TrimRight(digits[len(digits)-decimals:], "0")
		if frac == "" {
			frac = "0"
		}
		digits = whole + "." + frac
	} else {
		digits += ".0"
	}
	if neg {
		return "-" + digits
	}
	return digits
}

// ParseUnits is the inverse of FormatUnits: "0.01" with 18 decimals is 10^16.
func ParseUnits(value string, decimals int) (*big.Int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, errors.New("empty amount")
	}
	neg := strings.HasPrefix(value, "-")
	value = strings.TrimPrefix(value, "-")
	parts := strings.Split(value, ".")
	if len(parts) > 2 {
		return nil, errors.Errorf("invalid amount %q", value)
	}
	whole, frac := parts[0], ""
	if len(parts) == 2 {
		frac = strings.TrimRight(parts[1], "0")
	}
	if len(frac) > decimals {
		return nil, errors.Errorf("amount %q has more than %d decimals", value, decimals)
	}
	if whole == "" {
		whole = "0"
	}
	out, ok := new(big.Int).SetString(whole+frac+strings.Repeat("0", decimals-len(frac)), 10)
	if !ok {
		return nil, errors.Errorf("invalid amount %q", value)
	}
	if neg {
		out.Neg(out)
	}
	return out, nil
}

// ParseWei accepts a 0x-prefixed hex quantity or a base-10 integer.
func ParseWei(value string) (*big.Int, error) {
	value = strings.TrimSpace(value)
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		v, ok := new(big.Int).SetString(value[2:], 16)
		if !ok {
			return nil, errors.Errorf("invalid hex wei amount %q", value)
		}
		return v, nil
	}
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, errors.Errorf("invalid wei amount %q", value)
	}
	return v, nil
}
