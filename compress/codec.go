package compress

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"github.com/devexperts/QD-sub012/errs"
	"github.com/devexperts/QD-sub012/format"
)

// Codec wraps a byte stream with one compression algorithm.
//
// Writers must be closed to flush trailing frames; closing a writer never
// closes the underlying io.Writer. Readers likewise leave the source open.
type Codec interface {
	// Type returns the compression type implemented by the codec.
	Type() format.CompressionType

	// NewWriter returns a writer compressing into w. Archive formats store
	// the data under name.
	NewWriter(w io.Writer, name string) (io.WriteCloser, error)

	// NewReader returns a reader decompressing r.
	NewReader(r io.Reader) (io.ReadCloser, error)
}

var builtinCodecs = map[format.CompressionType]Codec{
	format.CompressionNone: NoOpCodec{},
	format.CompressionGzip: GzipCodec{},
	format.CompressionZip:  ZipCodec{},
	format.CompressionZstd: ZstdCodec{},
	format.CompressionS2:   S2Codec{},
	format.CompressionLZ4:  LZ4Codec{},
}

// GetCodec retrieves the built-in Codec for the specified compression type.
func GetCodec(compressionType format.CompressionType) (Codec, error) {
	if codec, ok := builtinCodecs[compressionType]; ok {
		return codec, nil
	}

	return nil, fmt.Errorf("%w: unsupported compression type %s", errs.ErrInvalidArgument, compressionType)
}

var magics = []struct {
	prefix []byte
	typ    format.CompressionType
}{
	{[]byte{0x1F, 0x8B}, format.CompressionGzip},
	{[]byte("PK\x03\x04"), format.CompressionZip},
	{[]byte{0x28, 0xB5, 0x2F, 0xFD}, format.CompressionZstd},
	{[]byte{0xFF, 0x06, 0x00, 0x00, 'S', '2', 's', 'T', 'w', 'O'}, format.CompressionS2},
	{[]byte{0xFF, 0x06, 0x00, 0x00, 's', 'N', 'a', 'P', 'p', 'Y'}, format.CompressionS2},
	{[]byte{0x04, 0x22, 0x4D, 0x18}, format.CompressionLZ4},
}

// HeaderSize is the number of leading bytes Detect needs to recognize every
// supported format.
const HeaderSize = 10

// Detect returns the compression type announced by the leading bytes of a
// stream, or CompressionNone when no known signature matches.
func Detect(header []byte) format.CompressionType {
	for _, m := range magics {
		if bytes.HasPrefix(header, m.prefix) {
			return m.typ
		}
	}

	return format.CompressionNone
}

// NewDetectingReader sniffs the compression of r from its first bytes and
// returns a decompressing reader together with the detected type.
//
// Zip archives need random access; they are read from r directly when it
// implements io.ReaderAt and buffered in memory otherwise.
func NewDetectingReader(r io.Reader) (io.ReadCloser, format.CompressionType, error) {
	br := bufio.NewReaderSize(r, 64*1024)
	header, err := br.Peek(HeaderSize)
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull { //nolint:errorlint
		return nil, 0, err
	}

	typ := Detect(header)
	src := io.Reader(br)
	if typ == format.CompressionZip {
		if _, ok := r.(io.ReaderAt); ok {
			src = r
		}
	}

	rc, err := builtinCodecs[typ].NewReader(src)
	if err != nil {
		return nil, 0, fmt.Errorf("open %s stream: %w", typ, err)
	}

	return rc, typ, nil
}
