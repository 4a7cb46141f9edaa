package compress

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"

	"github.com/devexperts/QD-sub012/errs"
	"github.com/devexperts/QD-sub012/format"
	"github.com/klauspost/compress/zip"
)

// ZipCodec reads and writes single entry zip archives.
type ZipCodec struct{}

var _ Codec = ZipCodec{}

func (ZipCodec) Type() format.CompressionType { return format.CompressionZip }

// NewWriter starts an archive with one deflated entry called name.
func (ZipCodec) NewWriter(w io.Writer, name string) (io.WriteCloser, error) {
	zw := zip.NewWriter(w)
	entry, err := zw.Create(name)
	if err != nil {
		return nil, err
	}

	return &zipWriter{zw: zw, Writer: entry}, nil
}

// NewReader opens the first entry of the archive. Sources without random
// access or without a known size are buffered in memory.
func (ZipCodec) NewReader(r io.Reader) (io.ReadCloser, error) {
	ra, size, err := readerAt(r)
	if err != nil {
		return nil, err
	}

	zr, err := zip.NewReader(ra, size)
	if err != nil {
		return nil, err
	}
	if len(zr.File) == 0 {
		return nil, fmt.Errorf("%w: empty zip archive", errs.ErrCorruptedStream)
	}

	return zr.File[0].Open()
}

type zipWriter struct {
	io.Writer
	zw *zip.Writer
}

func (z *zipWriter) Close() error {
	return z.zw.Close()
}

type statter interface {
	Stat() (fs.FileInfo, error)
}

func readerAt(r io.Reader) (io.ReaderAt, int64, error) {
	if ra, ok := r.(io.ReaderAt); ok {
		if st, ok := r.(statter); ok {
			fi, err := st.Stat()
			if err != nil {
				return nil, 0, err
			}

			return ra, fi.Size(), nil
		}
		if br, ok := r.(*bytes.Reader); ok {
			return br, br.Size(), nil
		}
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, 0, err
	}

	return bytes.NewReader(data), int64(len(data)), nil
}
