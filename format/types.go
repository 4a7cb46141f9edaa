package format

import (
	"fmt"
	"strings"

	"github.com/devexperts/QD-sub012/errs"
)

type (
	FormatType      uint8
	TimestampsType  uint8
	CompressionType uint8
)

const (
	TypeBinary FormatType = 0x1 // TypeBinary represents compact binary QTP frames.
	TypeText   FormatType = 0x2 // TypeText represents tab separated text lines.
	TypeCSV    FormatType = 0x3 // TypeCSV represents comma separated lines.
	TypeBlob   FormatType = 0x4 // TypeBlob represents raw bytes carried by one record and symbol.

	TimestampsNone    TimestampsType = 0x1 // TimestampsNone writes no time information.
	TimestampsLong    TimestampsType = 0x2 // TimestampsLong writes millis to a .time file.
	TimestampsText    TimestampsType = 0x3 // TimestampsText writes formatted times to a .time file.
	TimestampsField   TimestampsType = 0x4 // TimestampsField embeds EventTime/EventSequence in records.
	TimestampsMessage TimestampsType = 0x5 // TimestampsMessage writes a heartbeat with time before data.

	CompressionNone CompressionType = 0x1 // CompressionNone represents no compression.
	CompressionGzip CompressionType = 0x2 // CompressionGzip represents gzip streams.
	CompressionZip  CompressionType = 0x3 // CompressionZip represents a single entry zip archive.
	CompressionZstd CompressionType = 0x4 // CompressionZstd represents Zstandard frames.
	CompressionS2   CompressionType = 0x5 // CompressionS2 represents S2 streams.
	CompressionLZ4  CompressionType = 0x6 // CompressionLZ4 represents LZ4 frames.
)

// FileFormat selects the parser and composer of a tape file. Blob files
// also name the record and symbol their bytes are delivered as.
type FileFormat struct {
	Type       FormatType
	BlobRecord string
	BlobSymbol string
}

var (
	Binary = FileFormat{Type: TypeBinary}
	Text   = FileFormat{Type: TypeText}
	CSV    = FileFormat{Type: TypeCSV}
)

// Blob returns the blob format for the given record and symbol.
func Blob(record, symbol string) FileFormat {
	return FileFormat{Type: TypeBlob, BlobRecord: record, BlobSymbol: symbol}
}

// IsZero reports whether f is unset, which means "autodetect".
func (f FileFormat) IsZero() bool {
	return f.Type == 0
}

// DefaultTimestamps returns the timestamps type used when none is configured.
func (f FileFormat) DefaultTimestamps() TimestampsType {
	if f.Type == TypeBinary {
		return TimestampsLong
	}

	return TimestampsNone
}

// HasProtocolHeader reports whether files of this format start with a
// protocol description message.
func (f FileFormat) HasProtocolHeader() bool {
	return f.Type == TypeBinary || f.Type == TypeText
}

func (f FileFormat) String() string {
	if f.Type == TypeBlob {
		return "blob:" + f.BlobRecord + ":" + f.BlobSymbol
	}

	return f.Type.String()
}

func (t FormatType) String() string {
	switch t {
	case TypeBinary:
		return "binary"
	case TypeText:
		return "text"
	case TypeCSV:
		return "csv"
	case TypeBlob:
		return "blob"
	default:
		return "unknown"
	}
}

// ParseFileFormat parses "binary", "text", "csv" or "blob:<record>:<symbol>".
func ParseFileFormat(s string) (FileFormat, error) {
	name, rest, _ := strings.Cut(s, ":")
	switch strings.ToLower(name) {
	case "binary":
		return Binary, nil
	case "text":
		return Text, nil
	case "csv":
		return CSV, nil
	case "blob":
		record, symbol, ok := strings.Cut(rest, ":")
		if !ok || record == "" || symbol == "" {
			return FileFormat{}, fmt.Errorf("%w: blob format must be blob:<record>:<symbol>, got %q", errs.ErrInvalidArgument, s)
		}

		return Blob(record, symbol), nil
	default:
		return FileFormat{}, fmt.Errorf("%w: unknown file format %q", errs.ErrInvalidArgument, s)
	}
}

func (t TimestampsType) String() string {
	switch t {
	case TimestampsNone:
		return "none"
	case TimestampsLong:
		return "long"
	case TimestampsText:
		return "text"
	case TimestampsField:
		return "field"
	case TimestampsMessage:
		return "message"
	default:
		return "unknown"
	}
}

// UsesTimeFile reports whether the type keeps times in a companion .time file.
func (t TimestampsType) UsesTimeFile() bool {
	return t == TimestampsLong || t == TimestampsText
}

// ParseTimestampsType parses none, long, text, field or message.
func ParseTimestampsType(s string) (TimestampsType, error) {
	for t := TimestampsNone; t <= TimestampsMessage; t++ {
		if strings.EqualFold(s, t.String()) {
			return t, nil
		}
	}

	return 0, fmt.Errorf("%w: unknown timestamps type %q", errs.ErrInvalidArgument, s)
}

func (c CompressionType) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionGzip:
		return "gzip"
	case CompressionZip:
		return "zip"
	case CompressionZstd:
		return "zstd"
	case CompressionS2:
		return "s2"
	case CompressionLZ4:
		return "lz4"
	default:
		return "unknown"
	}
}

// Extension returns the file name extension of compressed files, including
// the dot, or "" for CompressionNone.
func (c CompressionType) Extension() string {
	switch c {
	case CompressionGzip:
		return ".gz"
	case CompressionZip:
		return ".zip"
	case CompressionZstd:
		return ".zst"
	case CompressionS2:
		return ".s2"
	case CompressionLZ4:
		return ".lz4"
	default:
		return ""
	}
}

// ParseCompressionType parses a compression name.
func ParseCompressionType(s string) (CompressionType, error) {
	for c := CompressionNone; c <= CompressionLZ4; c++ {
		if strings.EqualFold(s, c.String()) {
			return c, nil
		}
	}

	return 0, fmt.Errorf("%w: unknown compression %q", errs.ErrInvalidArgument, s)
}

// CompressionFromPath returns the compression implied by the file name
// extension, or CompressionNone.
func CompressionFromPath(path string) CompressionType {
	lower := strings.ToLower(path)
	for c := CompressionGzip; c <= CompressionLZ4; c++ {
		if strings.HasSuffix(lower, c.Extension()) {
			return c
		}
	}

	return CompressionNone
}
