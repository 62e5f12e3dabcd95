package pool

import "math/big"

var pow10 = func() []*big.Int {
	table := make([]*big.Int, 19)
	ten := big.NewInt(10)
	table[0] = big.NewInt(1)
	for i := 1; i < len(table); i++ {
		table[i] = new(big.Int).Mul(table[i-1], ten)
	}
	return table
}()

func powerOfTen(exp int) *big.Int {
	if exp < len(pow10) {
		return pow10[exp]
	}
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(exp)), nil)
}

// Normalize converts a raw token amount into the canonical 18-decimal unit of
// account. A positive shift multiplies by 10^shift, a negative shift performs
// floor division by 10^-shift. The truncation on negative shifts is
// intentional and part of the accounting contract.
func Normalize(shift int8, value *big.Int) *big.Int {
	if value == nil {
		return big.NewInt(0)
	}
	switch {
	case shift > 0:
		return new(big.Int).Mul(value, powerOfTen(int(shift)))
	case shift < 0:
		return new(big.Int).Quo(value, powerOfTen(int(-shift)))
	default:
		return new(big.Int).Set(value)
	}
}

// Denormalize converts a canonical 18-decimal value back into raw token units
// for the supplied shift. It is the inverse of Normalize up to the precision
// lost by flooring.
func Denormalize(shift int8, value *big.Int) *big.Int {
	return Normalize(-shift, value)
}

// DecimalShift derives the normalization shift for a token with the given
// number of native decimals.
func DecimalShift(decimals uint8) int8 {
	return int8(18 - int(decimals))
}
