package compress

import (
	"io"

	"github.com/devexperts/QD-sub012/format"
	"github.com/klauspost/compress/gzip"
)

// GzipCodec reads and writes gzip streams. Concatenated members are read as
// one stream, so appended tapes stay readable.
type GzipCodec struct{}

var _ Codec = GzipCodec{}

func (GzipCodec) Type() format.CompressionType { return format.CompressionGzip }

func (GzipCodec) NewWriter(w io.Writer, name string) (io.WriteCloser, error) {
	gw, err := gzip.NewWriterLevel(w, gzip.DefaultCompression)
	if err != nil {
		return nil, err
	}
	gw.Name = name

	return gw, nil
}

func (GzipCodec) NewReader(r io.Reader) (io.ReadCloser, error) {
	gr, err := gzip.NewReader(r)
	if err != nil {
		return nil, err
	}

	return gr, nil
}
