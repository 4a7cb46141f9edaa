package decimal

import (
	"testing"

	"github.com/devexperts/QD-sub012/errs"
	"github.com/stretchr/testify/require"
)

func TestParse_RoundTrip(t *testing.T) {
	for _, s := range []string{
		"0", "1", "100", "0.001", "-3.25", "12.5", "0.00000001", "0.1234567",
		"1234.56", "13421772700000000", "NaN", "Infinity", "-Infinity",
	} {
		d, err := Parse(s)
		require.NoError(t, err, s)
		require.Equal(t, s, String(d), s)
	}
}

func TestParse_NonCanonicalInput(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"+1", "1"},
		{"1.", "1"},
		{".5", "0.5"},
		{"-0", "0"},
		{"00012.3400", "12.34"},
		{"+Infinity", "Infinity"},
		{"0.000000004", "0"},
		{"0.000000005", "0.00000001"},
		{"123456789.5", "123456790"},
	}

	for _, tt := range tests {
		d, err := Parse(tt.in)
		require.NoError(t, err, tt.in)
		require.Equal(t, tt.want, String(d), tt.in)
	}
}

func TestParse_DropsDigitsBeyondLimit(t *testing.T) {
	// 15 significant digits are kept, the rest is truncated before rounding
	d, err := Parse("1.23456789012345678")
	require.NoError(t, err)
	require.Equal(t, Compose(123456789012345, 14), d)

	d, err = Parse("1234567890123456789")
	require.NoError(t, err)
	require.Equal(t, PositiveInfinity, d)

	d, err = Parse("10000000000000000")
	require.NoError(t, err)
	require.Equal(t, "10000000000000000", String(d))
}

func TestParse_Errors(t *testing.T) {
	for _, s := range []string{"", "   ", "-", "+", ".", "1.2.3", "12a", " 1", "1e5", "nan", "--1"} {
		_, err := Parse(s)
		require.Error(t, err, "%q", s)
		require.ErrorIs(t, err, errs.ErrInvalidDecimal, "%q", s)

		var pe *errs.ParseError
		require.ErrorAs(t, err, &pe)
		require.Equal(t, s, pe.Input)
	}
}

func TestMustParse_Panics(t *testing.T) {
	require.Panics(t, func() { MustParse("x") })
	require.Equal(t, Compose(25, 2), MustParse("0.25"))
}

func TestAppendTo(t *testing.T) {
	buf := AppendTo([]byte("px="), Compose(10125, 2))
	require.Equal(t, "px=101.25", string(buf))

	// non-canonical standard values still format without trailing zeros
	require.Equal(t, "1.5", String(Decimal(150<<4|(2+precisionBias))))
	require.Equal(t, "0.0078125", String(Decimal(1<<8|1<<4)))
	require.Equal(t, "-0.0000001", String(Compose(-1, 7)))
	require.Equal(t, "NaN", Decimal(0x50).String())
	require.Equal(t, "-100", Compose(-1, -2).String())
}

func BenchmarkParse(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_, _ = Parse("12345.678")
	}
}
