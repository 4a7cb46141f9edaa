package encoding

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/devexperts/QD-sub012/errs"
)

// MaxCompactLength is the longest compact encoding of an int64.
const MaxCompactLength = 9

// CompactLength returns the number of bytes AppendCompactLong writes for v.
func CompactLength(v int64) int {
	switch {
	case v >= -0x40 && v < 0x40:
		return 1
	case v >= -0x2000 && v < 0x2000:
		return 2
	case v >= -0x100000 && v < 0x100000:
		return 3
	case v >= -0x8000000 && v < 0x8000000:
		return 4
	case v >= -0x400000000 && v < 0x400000000:
		return 5
	case v >= -0x20000000000 && v < 0x20000000000:
		return 6
	case v >= -0x1000000000000 && v < 0x1000000000000:
		return 7
	case v >= -0x80000000000000 && v < 0x80000000000000:
		return 8
	default:
		return 9
	}
}

// AppendCompactLong appends the compact encoding of v to dst.
//
// The first byte carries a unary length prefix followed by the high bits of
// the value; the remaining bytes are big-endian:
//
//	0xxxxxxx                    -64 .. 63
//	10xxxxxx +1 byte           -8192 .. 8191
//	110xxxxx +2 bytes          ±2^20
//	1110xxxx +3 bytes          ±2^27
//	11110xxx +4 bytes          ±2^34
//	111110xx +5 bytes          ±2^41
//	1111110x +6 bytes          ±2^48
//	11111110 +7 bytes          ±2^55
//	11111111 +8 bytes          full int64
func AppendCompactLong(dst []byte, v int64) []byte {
	n := CompactLength(v)
	if n == MaxCompactLength {
		dst = append(dst, 0xFF)
		return binary.BigEndian.AppendUint64(dst, uint64(v)) //nolint:gosec
	}

	u := uint64(v) //nolint:gosec
	tail := n - 1
	prefix := byte(0xFF << (9 - n)) //nolint:gosec
	mask := byte(0xFF >> n)
	dst = append(dst, prefix|byte(u>>(8*tail))&mask)
	for i := tail - 1; i >= 0; i-- {
		dst = append(dst, byte(u>>(8*i)))
	}

	return dst
}

// AppendCompactInt appends the compact encoding of v to dst.
func AppendCompactInt(dst []byte, v int32) []byte {
	return AppendCompactLong(dst, int64(v))
}

// ReadCompactLong reads one compact value from r.
//
// It returns io.EOF when r is exhausted before the first byte and
// errs.ErrUnexpectedEOF when it ends inside a value.
func ReadCompactLong(r io.ByteReader) (int64, error) {
	first, err := r.ReadByte()
	if err != nil {
		return 0, err
	}

	n := lengthOf(first)
	u := uint64(first & byte(0xFF>>n))
	for i := 1; i < n; i++ {
		b, err := r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return 0, errs.ErrUnexpectedEOF
			}

			return 0, err
		}
		u = u<<8 | uint64(b)
	}

	return signExtend(u, n), nil
}

// ReadCompactInt reads one compact value and truncates it to 32 bits.
func ReadCompactInt(r io.ByteReader) (int32, error) {
	v, err := ReadCompactLong(r)
	return int32(v), err //nolint:gosec
}

// DecodeCompactLong decodes one compact value from the beginning of b and
// returns it with the number of bytes consumed. An incomplete value returns
// n == 0 and errs.ErrUnexpectedEOF.
func DecodeCompactLong(b []byte) (v int64, n int, err error) {
	if len(b) == 0 {
		return 0, 0, errs.ErrUnexpectedEOF
	}

	n = lengthOf(b[0])
	if len(b) < n {
		return 0, 0, errs.ErrUnexpectedEOF
	}

	u := uint64(b[0] & byte(0xFF>>n))
	for i := 1; i < n; i++ {
		u = u<<8 | uint64(b[i])
	}

	return signExtend(u, n), n, nil
}

// DecodeCompactInt is DecodeCompactLong truncated to 32 bits.
func DecodeCompactInt(b []byte) (int32, int, error) {
	v, n, err := DecodeCompactLong(b)
	return int32(v), n, err //nolint:gosec
}

// lengthOf returns the total encoded length announced by the first byte.
func lengthOf(first byte) int {
	n := 1
	for mask := byte(0x80); mask != 0 && first&mask != 0; mask >>= 1 {
		n++
	}

	return n
}

// signExtend interprets the low 7*n bits of u as a two's-complement value.
func signExtend(u uint64, n int) int64 {
	if n == MaxCompactLength {
		return int64(u) //nolint:gosec
	}
	shift := 64 - 7*n

	return int64(u<<shift) >> shift //nolint:gosec
}
