// Package seq implements SRT's 31-bit wrapping sequence number arithmetic.
//
// SRT sequence numbers occupy the low 31 bits of a 32-bit field (the high
// bit distinguishes data from control packets at the wire layer, see
// package packet). Ordering between two sequence numbers is defined via
// signed distance over the wrapped space, not via raw integer comparison,
// so that a number just past the wrap point still compares "greater than"
// one just before it.
package seq

import "fmt"

// Bits is the width of the sequence number space.
const Bits = 31

// Max is the largest representable sequence number, 2^31-1.
const Max uint32 = 1<<Bits - 1

// half is the half-space threshold used to disambiguate wrap direction.
const half = 1 << (Bits - 1) // 2^30

// Number is a 31-bit wrapping sequence number.
type Number uint32

// New constructs a Number, wrapping v into [0, Max] via modulo arithmetic
// rather than rejecting out-of-range input, since callers routinely derive
// v from arithmetic that may have wrapped.
func New(v uint32) Number {
	return Number(v & Max)
}

// Raw returns the underlying 31-bit value.
func (n Number) Raw() uint32 { return uint32(n) }

// Next returns the sequence number following n, wrapping Max back to 0.
func (n Number) Next() Number {
	return Number((uint32(n) + 1) & Max)
}

// Prev returns the sequence number preceding n, wrapping 0 back to Max.
func (n Number) Prev() Number {
	return Number((uint32(n) - 1) & Max)
}

// Add returns n+k in the wrapped space.
func (n Number) Add(k uint32) Number {
	return Number((uint32(n) + k) & Max)
}

// Sub returns n-k in the wrapped space.
func (n Number) Sub(k uint32) Number {
	return Number((uint32(n) - k) & Max)
}

// Distance returns the signed distance from n to other, i.e. the smallest
// magnitude k (positive or negative) such that n.Add(uint32(k)) == other in
// wrapped arithmetic. The result is remapped into [-2^30, 2^30) by the
// half-space rule: a raw forward difference whose magnitude exceeds 2^30
// is reinterpreted as a move in the opposite direction.
//
// Distance satisfies n.Distance(other) == -other.Distance(n), except at a
// separation of exactly 2^30, where both directions yield -2^30.
func (n Number) Distance(other Number) int64 {
	raw := (int64(other) - int64(n)) & int64(Max)
	if raw >= half {
		raw -= int64(Max) + 1
	}
	return raw
}

// LessThan reports whether n comes strictly before other in wrapped order.
func (n Number) LessThan(other Number) bool { return n.Distance(other) > 0 }

// LessThanEq reports whether n comes at or before other in wrapped order.
func (n Number) LessThanEq(other Number) bool { return n.Distance(other) >= 0 }

// GreaterThan reports whether n comes strictly after other in wrapped order.
func (n Number) GreaterThan(other Number) bool { return n.Distance(other) < 0 }

// GreaterThanEq reports whether n comes at or after other in wrapped order.
func (n Number) GreaterThanEq(other Number) bool { return n.Distance(other) <= 0 }

// InRange reports whether n lies in the inclusive wrap-aware range [lo, hi].
func (n Number) InRange(lo, hi Number) bool {
	return lo.LessThanEq(n) && n.LessThanEq(hi)
}

// String renders the raw numeric value.
func (n Number) String() string { return fmt.Sprintf("%d", uint32(n)) }
