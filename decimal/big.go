package decimal

import (
	"fmt"

	"github.com/devexperts/QD-sub012/errs"
	shopspring "github.com/shopspring/decimal"
)

// ToBigDecimal converts d to an arbitrary precision decimal.
// NaN and infinities have no finite value and return errs.ErrInvalidArgument.
func ToBigDecimal(d Decimal) (shopspring.Decimal, error) {
	if IsNaN(d) || IsInfinite(d) {
		return shopspring.Zero, fmt.Errorf("%w: %s has no finite value", errs.ErrInvalidArgument, String(d))
	}

	m, q := unpack(d)

	return shopspring.New(m, int32(-q)), nil //nolint:gosec
}

// FromBigDecimal converts v to the closest packed decimal, rounding half away
// from zero to at most MaxExtraPrecision digits.
func FromBigDecimal(v shopspring.Decimal) Decimal {
	places := int32(MaxExtraPrecision)
	v = v.Round(places)
	for !v.Coefficient().IsInt64() {
		places--
		if places < MinPrecision {
			if v.Sign() > 0 {
				return PositiveInfinity
			}

			return NegativeInfinity
		}
		v = v.Round(places)
	}

	return Compose(v.Coefficient().Int64(), int(-v.Exponent()))
}
