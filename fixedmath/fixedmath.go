// Package fixedmath provides full-precision multiply-divide arithmetic for
// monetary ratios. All settlement math in this module routes through MulDiv
// and MulDivUp so that intermediate products never overflow and rounding
// direction is always explicit.
package fixedmath

import (
	"fmt"
	"math/big"
)

// Amounts and prices are bounded to 96 bits. The maximum price doubles as
// the "auction failed to clear" sentinel, so a computed price equal to or
// above it is treated as unrepresentable.
var (
	// MaxAmount is the largest representable token amount (2^96 - 1).
	MaxAmount = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 96), big.NewInt(1))

	// MaxPrice is the largest representable price and the reserved sentinel
	// meaning "no marginal price / auction failed".
	MaxPrice = new(big.Int).Set(MaxAmount)
)

// pow10 caches 10^n for the token decimal counts in use (0..38 is plenty).
var pow10 [39]*big.Int

func init() {
	pow10[0] = big.NewInt(1)
	ten := big.NewInt(10)
	for i := 1; i < len(pow10); i++ {
		pow10[i] = new(big.Int).Mul(pow10[i-1], ten)
	}
}

// Exp10 returns 10^decimals as a shared immutable value. Callers must not
// mutate the result.
func Exp10(decimals uint8) *big.Int {
	if int(decimals) >= len(pow10) {
		panic(fmt.Sprintf("fixedmath: unsupported decimal count %d", decimals))
	}
	return pow10[decimals]
}

// MulDiv returns floor(x * y / d). The intermediate product is computed at
// full precision, so the result is exact for any operands that fit the
// module's 96-bit amount range. Panics if d is zero (programmer error).
func MulDiv(x, y, d *big.Int) *big.Int {
	if d.Sign() == 0 {
		panic("fixedmath: division by zero")
	}
	p := new(big.Int).Mul(x, y)
	return p.Quo(p, d)
}

// MulDivUp returns ceil(x * y / d) with the same precision guarantees as
// MulDiv. Used wherever a minimum threshold or required payment is computed,
// so the module never under-collects.
func MulDivUp(x, y, d *big.Int) *big.Int {
	if d.Sign() == 0 {
		panic("fixedmath: division by zero")
	}
	p := new(big.Int).Mul(x, y)
	q, r := p.QuoRem(p, d, new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}

// FitsAmount reports whether v is a valid token amount: non-negative and at
// most MaxAmount.
func FitsAmount(v *big.Int) bool {
	return v != nil && v.Sign() >= 0 && v.Cmp(MaxAmount) <= 0
}

// ValidPrice reports whether p is a representable, non-sentinel price.
func ValidPrice(p *big.Int) bool {
	return p != nil && p.Sign() > 0 && p.Cmp(MaxPrice) < 0
}

// IsSentinel reports whether p is the reserved maximum price sentinel.
func IsSentinel(p *big.Int) bool {
	return p != nil && p.Cmp(MaxPrice) == 0
}

// Min returns the smaller of a and b as a fresh value.
func Min(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}
