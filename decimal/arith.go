package decimal

import "math"

// maxFastDelta bounds the precision difference handled with exact integer
// arithmetic. A 28-bit mantissa scaled by 10^10 still leaves room for a sum
// in int64.
const maxFastDelta = 10

// align returns both standard-format mantissas scaled to the larger precision.
// ok is false when either operand is not standard or the precisions are too far
// apart for the exact path.
func align(a, b Decimal) (ma, mb int64, q int, ok bool) {
	ra, rb := int32(a), int32(b)
	pa, pb := ra&powerMask, rb&powerMask
	if pa == 0 || pb == 0 {
		return 0, 0, 0, false
	}

	ma, mb = int64(ra>>4), int64(rb>>4)
	qa, qb := int(pa)-precisionBias, int(pb)-precisionBias
	delta := qa - qb

	switch {
	case delta == 0:
		return ma, mb, qa, true
	case delta > 0 && delta <= maxFastDelta:
		return ma, mb * pow10i[delta], qa, true
	case delta < 0 && -delta <= maxFastDelta:
		return ma * pow10i[-delta], mb, qb, true
	}

	return 0, 0, 0, false
}

// Compare compares a and b like Java's Double.compare: NaN is greater than any
// other value and equal to itself.
func Compare(a, b Decimal) int {
	if ma, mb, _, ok := align(a, b); ok {
		switch {
		case ma < mb:
			return -1
		case ma > mb:
			return 1
		default:
			return 0
		}
	}

	x, y := ToDouble(a), ToDouble(b)
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}

	xNaN, yNaN := math.IsNaN(x), math.IsNaN(y)
	switch {
	case xNaN && yNaN:
		return 0
	case xNaN:
		return 1
	case yNaN:
		return -1
	}

	return 0
}

// Add returns a + b.
func Add(a, b Decimal) Decimal {
	if ma, mb, q, ok := align(a, b); ok {
		return Compose(ma+mb, q)
	}

	return ComposeDouble(ToDouble(a) + ToDouble(b))
}

// Subtract returns a - b.
func Subtract(a, b Decimal) Decimal {
	if ma, mb, q, ok := align(a, b); ok {
		return Compose(ma-mb, q)
	}

	return ComposeDouble(ToDouble(a) - ToDouble(b))
}

// Average returns (a + b) / 2.
func Average(a, b Decimal) Decimal {
	if ma, mb, q, ok := align(a, b); ok {
		sum := ma + mb
		if sum%2 == 0 {
			return Compose(sum/2, q)
		}

		const limit = (1<<63 - 1) / 5
		if sum <= limit && sum >= -limit {
			return Compose(sum*5, q+1)
		}

		// the halved mantissa is far beyond 28 bits and gets rounded anyway
		return Compose(sum/2, q)
	}

	return ComposeDouble((ToDouble(a) + ToDouble(b)) / 2)
}
