package types

import "math/big"

// StringPtr converts a string to a pointer to a string
func StringPtr(s string) *string {
	return &s
}

// Uint64Ptr converts a uint64 to a pointer
func Uint64Ptr(v uint64) *uint64 {
	return &v
}

// BigZero returns a new zero value
func BigZero() *big.Int {
	return new(big.Int)
}

// BigOrZero treats a nil amount as zero and always returns a fresh copy
func BigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

// BigIsZero reports whether v is nil or zero
func BigIsZero(v *big.Int) bool {
	return v == nil || v.Sign() == 0
}

// BigAdd returns a + b without mutating either operand
func BigAdd(a, b *big.Int) *big.Int {
	return new(big.Int).Add(BigOrZero(a), BigOrZero(b))
}

// BigMax returns the larger of a and b
func BigMax(a, b *big.Int) *big.Int {
	a, b = BigOrZero(a), BigOrZero(b)
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}

// BigQuo returns a / b truncated toward zero, or zero when b is zero
func BigQuo(a *big.Int, b uint64) *big.Int {
	if b == 0 {
		return new(big.Int)
	}
	return new(big.Int).Quo(BigOrZero(a), new(big.Int).SetUint64(b))
}
