package compress

import (
	"io"

	"github.com/devexperts/QD-sub012/format"
	"github.com/klauspost/compress/s2"
)

// S2Codec reads and writes S2 framed streams. Snappy framed streams are
// read as well.
type S2Codec struct{}

var _ Codec = S2Codec{}

func (S2Codec) Type() format.CompressionType { return format.CompressionS2 }

func (S2Codec) NewWriter(w io.Writer, _ string) (io.WriteCloser, error) {
	return s2.NewWriter(w, s2.WriterConcurrency(1)), nil
}

func (S2Codec) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(s2.NewReader(r)), nil
}
