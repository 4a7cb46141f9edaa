// Package compress provides stream codecs for compressed tape files.
//
// Tape files are written and read as streams, so every codec wraps an
// io.Writer or io.Reader instead of compressing whole buffers:
//
//	codec, _ := compress.GetCodec(format.CompressionZstd)
//	w, _ := codec.NewWriter(file, "quotes.qds")
//	_, _ = w.Write(data)
//	_ = w.Close() // flushes the last frame, file stays open
//
// # Supported algorithms
//
//   - gzip (.gz) and single entry zip (.zip) via klauspost/compress
//   - Zstandard (.zst) via klauspost/compress/zstd, with pooled encoders
//   - S2 (.s2) via klauspost/compress/s2; Snappy framed input is accepted
//   - LZ4 frames (.lz4) via pierrec/lz4
//
// # Detection
//
// Readers do not need to know how a file was written. NewDetectingReader
// peeks at the first bytes and picks the codec by signature, falling back
// to plain data. format.CompressionFromPath picks a codec from the file
// name for writers.
package compress
