package decimal

import "math"

// Decimal is a decimal floating value packed into 32 bits.
//
// The lower 4 bits hold a power code and the upper 28 bits a signed mantissa.
// Power codes 1..15 are the standard format with value mantissa × 10^-(code-9),
// i.e. precisions -8..6. Power code 0 is reserved for special values: bits 4..7
// select a sub-format and bits 8..31 hold a signed 24-bit mantissa.
type Decimal int32

const (
	// NaN is the all-zero bit pattern.
	NaN Decimal = 0
	// PositiveInfinity is the canonical +Infinity.
	PositiveInfinity Decimal = 0x100
	// NegativeInfinity is the canonical -Infinity.
	NegativeInfinity Decimal = -0x100
	// Zero is the canonical zero (standard format, precision 0).
	Zero Decimal = precisionBias
)

const (
	// MinPrecision is the smallest precision (largest power of ten multiplier).
	MinPrecision = -8
	// MaxPrecision is the largest precision of the standard format.
	MaxPrecision = 6
	// MaxExtraPrecision is the largest precision of the extra formats.
	MaxExtraPrecision = 8

	precisionBias = 9
	powerMask     = 0x0F

	maxMantissa      = 1<<27 - 1
	minMantissa      = -(1 << 27)
	maxExtraMantissa = 1<<23 - 1
	minExtraMantissa = -(1 << 23)

	subInfinity = 0
	sub128      = 1
	subE7       = 2
	subE8       = 3

	// 1/128 == 78125 / 10^7
	fraction128 = 78125
)

var (
	pow10i [19]int64
	pow10f [19]float64
)

func init() {
	p := int64(1)
	for i := range pow10i {
		pow10i[i] = p
		pow10f[i] = float64(p)
		p *= 10
	}
}

// Compose returns the canonical decimal for mantissa × 10^-precision.
//
// Trailing zeros are stripped while precision allows. Values that cannot be
// held exactly are rounded half away from zero. Magnitudes beyond the
// representable range yield PositiveInfinity or NegativeInfinity, magnitudes
// below 10^-8 yield Zero.
func Compose(mantissa int64, precision int) Decimal {
	if mantissa == 0 {
		return Zero
	}

	for precision > MinPrecision && mantissa%10 == 0 {
		mantissa /= 10
		precision--
	}

	for precision < MinPrecision {
		if mantissa > maxMantissa || mantissa < minMantissa {
			return infinity(mantissa)
		}
		mantissa *= 10
		precision++
	}

	k := 0
	if precision > MaxExtraPrecision {
		k = precision - MaxExtraPrecision
	}

	for ; ; k++ {
		q := precision - k
		if q < MinPrecision {
			return infinity(mantissa)
		}

		m := roundDiv(mantissa, k)
		if m == 0 {
			return Zero
		}

		for q > MinPrecision && m%10 == 0 {
			m /= 10
			q--
		}

		if d, ok := pack(m, q); ok {
			return d
		}
	}
}

// ComposeDouble returns the shortest decimal that converts back to value
// exactly, or the decimal rounded to MaxExtraPrecision when none exists.
func ComposeDouble(value float64) Decimal {
	switch {
	case math.IsNaN(value):
		return NaN
	case math.IsInf(value, 1):
		return PositiveInfinity
	case math.IsInf(value, -1):
		return NegativeInfinity
	case value == 0:
		return Zero
	}

	for q := MinPrecision; q <= MaxExtraPrecision; q++ {
		scaled := scale(value, q)
		if math.Abs(scaled) >= 9e18 {
			break
		}

		d := Compose(int64(math.Round(scaled)), q)
		if ToDouble(d) == value {
			return d
		}
	}

	return ComposeRound(value, MaxExtraPrecision)
}

// ComposeRound rounds value to the given precision.
//
// When the rounded decimal needs more than 3 fractional digits and precision
// is below 7, the 1/128 format is used instead if its rounding error is
// strictly smaller.
func ComposeRound(value float64, precision int) Decimal {
	switch {
	case math.IsNaN(value):
		return NaN
	case math.IsInf(value, 1):
		return PositiveInfinity
	case math.IsInf(value, -1):
		return NegativeInfinity
	}

	if precision > MaxExtraPrecision {
		precision = MaxExtraPrecision
	}
	if precision < MinPrecision {
		precision = MinPrecision
	}

	scaled := scale(value, precision)
	for math.Abs(scaled) >= 9e18 {
		if precision == MinPrecision {
			if value > 0 {
				return PositiveInfinity
			}

			return NegativeInfinity
		}
		precision--
		scaled = scale(value, precision)
	}

	d := Compose(int64(math.Round(scaled)), precision)
	if Precision(d) > 3 && precision < 7 {
		m128 := math.Round(value * 128)
		if m128 >= minExtraMantissa && m128 <= maxExtraMantissa {
			e128 := math.Abs(m128/128 - value)
			e := math.Abs(ToDouble(d) - value)
			if e128 < e {
				return packSpecial(sub128, int32(m128))
			}
		}
	}

	return d
}

// ToDouble returns the double closest to the value of d.
func ToDouble(d Decimal) float64 {
	raw := int32(d)
	if power := raw & powerMask; power != 0 {
		m := float64(raw >> 4)
		q := int(power) - precisionBias
		if q > 0 {
			return m / pow10f[q]
		}

		return m * pow10f[-q]
	}

	m := raw >> 8
	switch (raw >> 4) & powerMask {
	case subInfinity:
		switch {
		case m > 0:
			return math.Inf(1)
		case m < 0:
			return math.Inf(-1)
		default:
			return math.NaN()
		}
	case sub128:
		return float64(m) / 128
	case subE7:
		return float64(m) / pow10f[7]
	case subE8:
		return float64(m) / pow10f[8]
	default:
		return math.NaN()
	}
}

// Mantissa returns the decimal mantissa of d. Special values report 0.
func Mantissa(d Decimal) int64 {
	m, _ := unpack(d)
	return m
}

// Precision returns the decimal precision of d. Special values report 0.
func Precision(d Decimal) int {
	_, q := unpack(d)
	return q
}

// IsNaN reports whether d is NaN.
func IsNaN(d Decimal) bool {
	raw := int32(d)
	if raw&powerMask != 0 {
		return false
	}
	sub := (raw >> 4) & powerMask

	return (sub == subInfinity && raw>>8 == 0) || sub > subE8
}

// IsInfinite reports whether d is positive or negative infinity.
func IsInfinite(d Decimal) bool {
	raw := int32(d)
	return raw&powerMask == 0 && (raw>>4)&powerMask == subInfinity && raw>>8 != 0
}

// IsStandard reports whether d uses the standard (non-special) format.
func IsStandard(d Decimal) bool {
	return int32(d)&powerMask != 0
}

// Sign returns -1, 0 or +1 by the sign of d. NaN reports 0.
func Sign(d Decimal) int {
	raw := int32(d)
	var m int32
	if raw&powerMask != 0 {
		m = raw >> 4
	} else if !IsNaN(d) {
		m = raw >> 8
	}

	switch {
	case m > 0:
		return 1
	case m < 0:
		return -1
	default:
		return 0
	}
}

// Negate returns -d.
func Negate(d Decimal) Decimal {
	raw := int32(d)
	if raw&powerMask != 0 {
		return Compose(-int64(raw>>4), int(raw&powerMask)-precisionBias)
	}

	m := raw >> 8
	switch (raw >> 4) & powerMask {
	case subInfinity:
		switch {
		case m > 0:
			return NegativeInfinity
		case m < 0:
			return PositiveInfinity
		}

		return NaN
	case sub128:
		if -m <= maxExtraMantissa {
			return packSpecial(sub128, -m)
		}

		return ComposeDouble(-ToDouble(d))
	case subE7:
		return Compose(-int64(m), 7)
	case subE8:
		return Compose(-int64(m), 8)
	}

	return NaN
}

func unpack(d Decimal) (int64, int) {
	raw := int32(d)
	if power := raw & powerMask; power != 0 {
		return int64(raw >> 4), int(power) - precisionBias
	}

	m := int64(raw >> 8)
	switch (raw >> 4) & powerMask {
	case sub128:
		return m * fraction128, 7
	case subE7:
		return m, 7
	case subE8:
		return m, 8
	}

	return 0, 0
}

func pack(m int64, q int) (Decimal, bool) {
	switch {
	case q >= MinPrecision && q <= MaxPrecision:
		if m < minMantissa || m > maxMantissa {
			return 0, false
		}

		return Decimal(int32(m)<<4 | int32(q+precisionBias)), true
	case q == 7 || q == 8:
		if m < minExtraMantissa || m > maxExtraMantissa {
			return 0, false
		}
		sub := int32(subE7)
		if q == 8 {
			sub = subE8
		}

		return packSpecial(sub, int32(m)), true
	}

	return 0, false
}

func packSpecial(sub int32, m int32) Decimal {
	return Decimal(m<<8 | sub<<4)
}

func infinity(sign int64) Decimal {
	if sign < 0 {
		return NegativeInfinity
	}

	return PositiveInfinity
}

func scale(value float64, q int) float64 {
	if q >= 0 {
		return value * pow10f[q]
	}

	return value / pow10f[-q]
}

// roundDiv divides m by 10^k rounding half away from zero.
func roundDiv(m int64, k int) int64 {
	switch {
	case k == 0:
		return m
	case k > 19:
		return 0
	case k == 19:
		const half = 5_000_000_000_000_000_000
		switch {
		case m >= half:
			return 1
		case m <= -half:
			return -1
		}

		return 0
	}

	p := pow10i[k]
	q, r := m/p, m%p
	if r < 0 {
		r = -r
	}
	if 2*r >= p {
		if m < 0 {
			q--
		} else {
			q++
		}
	}

	return q
}
