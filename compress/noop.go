package compress

import (
	"io"

	"github.com/devexperts/QD-sub012/format"
)

// NoOpCodec passes data through unchanged.
type NoOpCodec struct{}

var _ Codec = NoOpCodec{}

func (NoOpCodec) Type() format.CompressionType { return format.CompressionNone }

// NewWriter returns w with a Close that does nothing.
func (NoOpCodec) NewWriter(w io.Writer, _ string) (io.WriteCloser, error) {
	return nopWriteCloser{w}, nil
}

// NewReader returns r with a Close that does nothing.
func (NoOpCodec) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(r), nil
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
