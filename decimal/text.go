package decimal

import (
	"strconv"
	"strings"

	"github.com/devexperts/QD-sub012/errs"
)

// maxParseMantissa stops mantissa accumulation at 15 significant digits.
// Further integer digits decrement precision and further fractional digits
// are dropped.
const maxParseMantissa = 100_000_000_000_000

const (
	textNaN              = "NaN"
	textPositiveInfinity = "Infinity"
	textNegativeInfinity = "-Infinity"
)

// Parse parses a decimal string.
//
// The accepted syntax is an optional sign, digits with at most one decimal
// point, or one of the literals NaN, Infinity, +Infinity and -Infinity.
// Any other input yields an *errs.ParseError wrapping errs.ErrInvalidDecimal.
func Parse(s string) (Decimal, error) {
	if strings.TrimSpace(s) == "" {
		return NaN, errs.NewParseError(errs.ErrInvalidDecimal, s, -1, "empty string")
	}

	switch s {
	case textNaN:
		return NaN, nil
	case textPositiveInfinity, "+" + textPositiveInfinity:
		return PositiveInfinity, nil
	case textNegativeInfinity:
		return NegativeInfinity, nil
	}

	i := 0
	negative := false
	if s[0] == '+' || s[0] == '-' {
		negative = s[0] == '-'
		i++
	}

	var (
		mantissa  int64
		precision int
		point     bool
		digits    bool
	)
	for ; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			digits = true
			if mantissa < maxParseMantissa {
				mantissa = mantissa*10 + int64(c-'0')
				if point {
					precision++
				}
			} else if !point {
				precision--
			}
		case c == '.':
			if point {
				return NaN, errs.NewParseError(errs.ErrInvalidDecimal, s, i, "second decimal point")
			}
			point = true
		default:
			return NaN, errs.NewParseError(errs.ErrInvalidDecimal, s, i, "unexpected character")
		}
	}

	if !digits {
		return NaN, errs.NewParseError(errs.ErrInvalidDecimal, s, -1, "no digits")
	}
	if negative {
		mantissa = -mantissa
	}

	return Compose(mantissa, precision), nil
}

// MustParse is like Parse but panics on malformed input. It is intended for
// constants in tests and tables.
func MustParse(s string) Decimal {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}

	return d
}

// String returns the canonical shortest decimal text of d.
func String(d Decimal) string {
	var buf [24]byte
	return string(AppendTo(buf[:0], d))
}

// String implements fmt.Stringer.
func (d Decimal) String() string {
	return String(d)
}

// AppendTo appends the canonical text of d to dst.
//
// The text has no trailing zeros, "0" stands for zero and the specials are
// written as NaN, Infinity and -Infinity.
func AppendTo(dst []byte, d Decimal) []byte {
	raw := int32(d)
	if power := raw & powerMask; power != 0 {
		return appendDecimal(dst, int64(raw>>4), int(power)-precisionBias)
	}

	m := raw >> 8
	switch (raw >> 4) & powerMask {
	case subInfinity:
		switch {
		case m > 0:
			return append(dst, textPositiveInfinity...)
		case m < 0:
			return append(dst, textNegativeInfinity...)
		}
	case sub128:
		return appendDecimal(dst, int64(m)*fraction128, 7)
	case subE7:
		return appendDecimal(dst, int64(m), 7)
	case subE8:
		return appendDecimal(dst, int64(m), 8)
	}

	return append(dst, textNaN...)
}

func appendDecimal(dst []byte, m int64, q int) []byte {
	if m == 0 {
		return append(dst, '0')
	}

	for q > 0 && m%10 == 0 {
		m /= 10
		q--
	}

	if m < 0 {
		dst = append(dst, '-')
		m = -m
	}

	var buf [20]byte
	digits := strconv.AppendInt(buf[:0], m, 10)

	switch {
	case q <= 0:
		dst = append(dst, digits...)
		for ; q < 0; q++ {
			dst = append(dst, '0')
		}
	case len(digits) > q:
		dst = append(dst, digits[:len(digits)-q]...)
		dst = append(dst, '.')
		dst = append(dst, digits[len(digits)-q:]...)
	default:
		dst = append(dst, '0', '.')
		for i := len(digits); i < q; i++ {
			dst = append(dst, '0')
		}
		dst = append(dst, digits...)
	}

	return dst
}
