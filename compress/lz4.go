package compress

import (
	"io"
	"sync"

	"github.com/devexperts/QD-sub012/format"
	"github.com/pierrec/lz4/v4"
)

// lz4WriterPool pools lz4 frame writers; Reset makes them reusable.
var lz4WriterPool = sync.Pool{
	New: func() any {
		return lz4.NewWriter(nil)
	},
}

// LZ4Codec reads and writes LZ4 frames.
type LZ4Codec struct{}

var _ Codec = LZ4Codec{}

func (LZ4Codec) Type() format.CompressionType { return format.CompressionLZ4 }

func (LZ4Codec) NewWriter(w io.Writer, _ string) (io.WriteCloser, error) {
	lw, _ := lz4WriterPool.Get().(*lz4.Writer)
	lw.Reset(w)

	return &lz4Writer{Writer: lw}, nil
}

func (LZ4Codec) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(lz4.NewReader(r)), nil
}

type lz4Writer struct {
	*lz4.Writer
	closed bool
}

// Close writes the frame footer and returns the writer to the pool.
func (l *lz4Writer) Close() error {
	if l.closed {
		return nil
	}
	l.closed = true
	err := l.Writer.Close()
	l.Writer.Reset(nil)
	lz4WriterPool.Put(l.Writer)

	return err
}
