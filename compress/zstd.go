package compress

import (
	"fmt"
	"io"
	"sync"

	"github.com/devexperts/QD-sub012/format"
	"github.com/klauspost/compress/zstd"
)

// ZstdCodec reads and writes Zstandard streams.
//
// Encoders and decoders are pooled: the library is designed to run without
// allocations once warmed up, and tape rotation opens a new stream for every
// split file.
type ZstdCodec struct{}

var _ Codec = ZstdCodec{}

var zstdEncoderPool = sync.Pool{
	New: func() any {
		encoder, err := zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.SpeedDefault),
			zstd.WithEncoderConcurrency(1),
		)
		if err != nil {
			panic(fmt.Sprintf("failed to create zstd encoder for pool: %v", err))
		}

		return encoder
	},
}

var zstdDecoderPool = sync.Pool{
	New: func() any {
		decoder, err := zstd.NewReader(nil,
			zstd.WithDecoderConcurrency(1),
			zstd.WithDecoderLowmem(false),
		)
		if err != nil {
			panic(fmt.Sprintf("failed to create zstd decoder for pool: %v", err))
		}

		return decoder
	},
}

func (ZstdCodec) Type() format.CompressionType { return format.CompressionZstd }

func (ZstdCodec) NewWriter(w io.Writer, _ string) (io.WriteCloser, error) {
	encoder, _ := zstdEncoderPool.Get().(*zstd.Encoder)
	encoder.Reset(w)

	return &zstdWriter{Encoder: encoder}, nil
}

func (ZstdCodec) NewReader(r io.Reader) (io.ReadCloser, error) {
	decoder, _ := zstdDecoderPool.Get().(*zstd.Decoder)
	if err := decoder.Reset(r); err != nil {
		zstdDecoderPool.Put(decoder)
		return nil, err
	}

	return &zstdReader{Decoder: decoder}, nil
}

type zstdWriter struct {
	*zstd.Encoder
	closed bool
}

// Close writes the final frame and returns the encoder to the pool.
func (z *zstdWriter) Close() error {
	if z.closed {
		return nil
	}
	z.closed = true
	err := z.Encoder.Close()
	z.Encoder.Reset(nil)
	zstdEncoderPool.Put(z.Encoder)

	return err
}

type zstdReader struct {
	*zstd.Decoder
	closed bool
}

// Close returns the decoder to the pool.
func (z *zstdReader) Close() error {
	if z.closed {
		return nil
	}
	z.closed = true
	_ = z.Decoder.Reset(nil)
	zstdDecoderPool.Put(z.Decoder)

	return nil
}
