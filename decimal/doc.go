// Package decimal implements the packed 32-bit Decimal format used by QTP
// data fields.
//
// # Layout
//
// A Decimal keeps a power code in its lower 4 bits and a signed mantissa in the
// remaining 28 bits:
//
//	31                                 4 3      0
//	+-----------------------------------+--------+
//	|        mantissa (28 bits)         | power  |
//	+-----------------------------------+--------+
//
// Power codes 1..15 encode precisions -8..6 (value = mantissa × 10^-precision).
// Power code 0 selects a special format from bits 4..7 with a 24-bit mantissa
// in bits 8..31:
//
//	0x0  NaN (whole value 0) or ±Infinity (mantissa sign)
//	0x1  mantissa / 128
//	0x2  mantissa / 10^7
//	0x3  mantissa / 10^8
//
// # Canonical form
//
// Compose always returns the smallest representation that loses no precision,
// so two decimals with equal values compare equal as integers. Arithmetic on
// standard-format operands with close precisions runs on integers and is
// exact; everything else goes through float64.
//
//	price := decimal.Compose(10125, 2)         // 101.25
//	tick := decimal.MustParse("0.25")
//	next := decimal.Add(price, tick)           // 101.5, exact
//	fmt.Println(next, decimal.ToDouble(next))  // 101.5 101.5
package decimal
