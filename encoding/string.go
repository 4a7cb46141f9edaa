package encoding

import (
	"fmt"
	"unicode/utf8"

	"github.com/devexperts/QD-sub012/errs"
	"github.com/devexperts/QD-sub012/internal/pool"
)

// NullLength is the length prefix written for a null string or byte array.
const NullLength = -1

// AppendUTFString appends s as a compact byte length followed by its UTF-8 bytes.
func AppendUTFString(dst []byte, s string) []byte {
	dst = AppendCompactLong(dst, int64(len(s)))
	return append(dst, s...)
}

// AppendNullUTFString appends the null string marker.
func AppendNullUTFString(dst []byte) []byte {
	return AppendCompactLong(dst, NullLength)
}

// DecodeUTFString decodes a string framed by AppendUTFString.
//
// A null string decodes as "" with null set. An incomplete frame returns
// n == 0 and errs.ErrUnexpectedEOF.
func DecodeUTFString(b []byte) (s string, null bool, n int, err error) {
	p, null, n, err := decodeFrame(b)
	if err != nil || null {
		return "", null, n, err
	}
	if !utf8.Valid(p) {
		return "", false, 0, fmt.Errorf("%w: invalid UTF-8 string", errs.ErrCorruptedMessage)
	}

	return string(p), false, n, nil
}

// AppendByteArray appends p with a compact length prefix. A nil slice is
// written as null.
func AppendByteArray(dst []byte, p []byte) []byte {
	if p == nil {
		return AppendCompactLong(dst, NullLength)
	}
	dst = AppendCompactLong(dst, int64(len(p)))

	return append(dst, p...)
}

// DecodeByteArray decodes a byte array framed by AppendByteArray. The
// returned slice is a copy; null decodes as nil.
func DecodeByteArray(b []byte) ([]byte, int, error) {
	p, null, n, err := decodeFrame(b)
	if err != nil || null {
		return nil, n, err
	}

	return append(make([]byte, 0, len(p)), p...), n, nil
}

func decodeFrame(b []byte) (p []byte, null bool, n int, err error) {
	length, k, err := DecodeCompactLong(b)
	if err != nil {
		return nil, false, 0, err
	}

	switch {
	case length == NullLength:
		return nil, true, k, nil
	case length < NullLength:
		return nil, false, 0, fmt.Errorf("%w: negative length %d", errs.ErrCorruptedMessage, length)
	case int64(len(b)-k) < length:
		return nil, false, 0, errs.ErrUnexpectedEOF
	}
	end := k + int(length)

	return b[k:end], false, end, nil
}

// StringEncoder batches compact framed strings into a pooled buffer.
//
// Each string is encoded as:
//   - compact int: byte length (-1 for null)
//   - N bytes: string data (UTF-8)
//
// It also writes bare compact integers, which lets symbol tables and
// record descriptions share one buffer.
type StringEncoder struct {
	buf   *pool.ByteBuffer
	count int
}

// NewStringEncoder creates a string encoder backed by a pooled message buffer.
//
// Returns:
//   - *StringEncoder: A new encoder; call Reset to return its buffer to the pool
func NewStringEncoder() *StringEncoder {
	return &StringEncoder{buf: pool.GetMessageBuffer()}
}

// Write encodes a single string.
//
// Returns:
//   - error: errs.ErrInvalidArgument when text is not valid UTF-8
func (e *StringEncoder) Write(text string) error {
	if !utf8.ValidString(text) {
		return fmt.Errorf("%w: string %q is not valid UTF-8", errs.ErrInvalidArgument, text)
	}

	e.count++
	e.buf.Grow(MaxCompactLength + len(text))
	e.buf.B = AppendUTFString(e.buf.B, text)

	return nil
}

// WriteSlice encodes a slice of strings after validating all of them, so a
// failure leaves the encoder unchanged.
func (e *StringEncoder) WriteSlice(texts []string) error {
	totalSize := 0
	for _, text := range texts {
		if !utf8.ValidString(text) {
			return fmt.Errorf("%w: string %q is not valid UTF-8", errs.ErrInvalidArgument, text)
		}
		totalSize += CompactLength(int64(len(text))) + len(text)
	}

	e.buf.Grow(totalSize)
	for _, text := range texts {
		e.buf.B = AppendUTFString(e.buf.B, text)
		e.count++
	}

	return nil
}

// WriteNull encodes a null string.
func (e *StringEncoder) WriteNull() {
	e.count++
	e.buf.B = AppendNullUTFString(e.buf.B)
}

// WriteCompact encodes a bare compact integer. It does not count as a string.
func (e *StringEncoder) WriteCompact(v int64) {
	e.buf.B = AppendCompactLong(e.buf.B, v)
}

// Bytes returns the encoded data. The slice shares the encoder's buffer.
func (e *StringEncoder) Bytes() []byte {
	return e.buf.Bytes()
}

// Len returns the number of strings encoded.
func (e *StringEncoder) Len() int {
	return e.count
}

// Size returns the total size of encoded data in bytes.
func (e *StringEncoder) Size() int {
	return e.buf.Len()
}

// Reset returns the buffer to the pool. The encoder must not be used afterwards.
func (e *StringEncoder) Reset() {
	if e.buf != nil {
		pool.PutMessageBuffer(e.buf)
		e.buf = nil
	}
	e.count = 0
}
