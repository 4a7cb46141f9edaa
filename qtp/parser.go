package qtp

import (
	"fmt"

	"github.com/devexperts/QD-sub012/errs"
	"github.com/devexperts/QD-sub012/format"
	"github.com/devexperts/QD-sub012/internal/options"
	"github.com/devexperts/QD-sub012/record"
)

// Parser decodes a byte stream fed in arbitrary chunks.
//
//	p.Feed(chunk)
//	for {
//		res := p.Next()
//		if res.Outcome == qtp.NeedMore {
//			break // feed the next chunk
//		}
//		...
//	}
type Parser interface {
	// Feed appends data to the parse buffer. The parser copies data.
	Feed(data []byte)
	// Next parses the next message from buffered data.
	Next() Result
	// Finish marks the end of the stream. Next then parses what is still
	// buffered where the format allows a message to end there.
	Finish()
	// Pending returns the number of buffered bytes not parsed yet.
	Pending() int
	// ResetSession drops buffered data and everything learned from the
	// stream, such as record descriptions, and restarts positions at zero.
	ResetSession()
}

// DefaultMaxMessageSize bounds the length of a binary message.
const DefaultMaxMessageSize = 16 << 20

type parserConfig struct {
	scheme         *record.Scheme
	schemeKnown    bool
	resync         bool
	resyncOn       MessageType
	maxMessageSize int
	timeField      bool
}

// ParserOption configures a parser.
type ParserOption = options.Option[*parserConfig]

// WithScheme sets the local record scheme used to resolve records.
func WithScheme(s *record.Scheme) ParserOption {
	return options.NoError(func(c *parserConfig) {
		c.scheme = s
	})
}

// WithSchemeKnown makes the parser ignore record descriptions in the stream
// and resolve records by id or name from the local scheme only.
func WithSchemeKnown(known bool) ParserOption {
	return options.NoError(func(c *parserConfig) {
		c.schemeKnown = known
	})
}

// WithResyncOn enables recovery of corrupted binary streams: the parser
// skips forward to the next well-formed message of type t.
func WithResyncOn(t MessageType) ParserOption {
	return options.New(func(c *parserConfig) error {
		if !t.Known() {
			return fmt.Errorf("%w: cannot resync on %s", errs.ErrInvalidArgument, t)
		}
		c.resync = true
		c.resyncOn = t

		return nil
	})
}

// WithMaxMessageSize bounds binary message lengths; longer frames are
// treated as corruption.
func WithMaxMessageSize(n int) ParserOption {
	return options.New(func(c *parserConfig) error {
		if n <= 0 {
			return fmt.Errorf("%w: max message size %d", errs.ErrInvalidArgument, n)
		}
		c.maxMessageSize = n

		return nil
	})
}

// WithParserTimeField makes the parser expect EventTime and EventSequence
// in data entries before any protocol description says so.
func WithParserTimeField(enabled bool) ParserOption {
	return options.NoError(func(c *parserConfig) {
		c.timeField = enabled
	})
}

// NewParser creates the parser of file format f.
func NewParser(f format.FileFormat, opts ...ParserOption) (Parser, error) {
	cfg := &parserConfig{maxMessageSize: DefaultMaxMessageSize}
	if err := options.Apply(cfg, opts...); err != nil {
		return nil, err
	}
	if cfg.scheme == nil {
		cfg.scheme = record.MustScheme()
	}

	switch f.Type {
	case format.TypeBinary:
		return newBinaryParser(cfg), nil
	case format.TypeText:
		return newTextParser(cfg, textDialect), nil
	case format.TypeCSV:
		return newTextParser(cfg, csvDialect), nil
	case format.TypeBlob:
		return newBlobParser(cfg, f.BlobRecord, f.BlobSymbol), nil
	default:
		return nil, fmt.Errorf("%w: no parser for format %s", errs.ErrInvalidArgument, f)
	}
}

// DetectFormat guesses the file format from the first bytes of a stream:
// text files start with '=', CSV files with '#', anything else is binary.
// A control character in the second byte is the type id of a binary frame
// whose length happens to look like text.
func DetectFormat(header []byte) format.FileFormat {
	if len(header) == 0 || len(header) > 1 && header[1] < 0x20 {
		return format.Binary
	}
	switch header[0] {
	case '=':
		return format.Text
	case '#':
		return format.CSV
	default:
		return format.Binary
	}
}

// inputBuffer holds fed bytes and tracks their stream positions.
type inputBuffer struct {
	buf  []byte
	off  int
	base int64
}

func (b *inputBuffer) feed(data []byte) {
	if b.off > 0 && b.off >= len(b.buf)/2 {
		n := copy(b.buf, b.buf[b.off:])
		b.buf = b.buf[:n]
		b.base += int64(b.off)
		b.off = 0
	}
	b.buf = append(b.buf, data...)
}

func (b *inputBuffer) pending() int {
	return len(b.buf) - b.off
}

func (b *inputBuffer) position() int64 {
	return b.base + int64(b.off)
}

func (b *inputBuffer) reset() {
	b.buf = b.buf[:0]
	b.off = 0
	b.base = 0
}

// recordTable resolves records seen in a stream.
type recordTable struct {
	cfg    *parserConfig
	remote map[int]*record.Record
	names  map[string]*record.Record
}

func newRecordTable(cfg *parserConfig) *recordTable {
	return &recordTable{cfg: cfg, remote: map[int]*record.Record{}, names: map[string]*record.Record{}}
}

func (t *recordTable) reset() {
	clear(t.remote)
	clear(t.names)
}

// learn registers described records. A description that matches a local
// record by name and layout resolves to the local record.
func (t *recordTable) learn(records []*record.Record) []*record.Record {
	if t.cfg.schemeKnown {
		return records
	}
	out := make([]*record.Record, len(records))
	for i, r := range records {
		if local, ok := t.cfg.scheme.ByName(r.Name); ok && sameLayout(local, r) {
			t.names[r.Name] = local
			t.remote[r.ID] = local
			out[i] = local

			continue
		}
		t.names[r.Name] = r
		t.remote[r.ID] = r
		out[i] = r
	}

	return out
}

func sameLayout(a, b *record.Record) bool {
	if len(a.Fields) != len(b.Fields) {
		return false
	}
	for i := range a.Fields {
		if a.Fields[i] != b.Fields[i] {
			return false
		}
	}

	return true
}

func (t *recordTable) byID(id int) (*record.Record, error) {
	if !t.cfg.schemeKnown {
		if r, ok := t.remote[id]; ok {
			return r, nil
		}
	}
	if r, ok := t.cfg.scheme.ByID(id); ok {
		return r, nil
	}

	return nil, fmt.Errorf("%w: id %d", errs.ErrUnknownRecord, id)
}

func (t *recordTable) byName(name string) (*record.Record, error) {
	if !t.cfg.schemeKnown {
		if r, ok := t.names[name]; ok {
			return r, nil
		}
	}
	if r, ok := t.cfg.scheme.ByName(name); ok {
		return r, nil
	}

	return nil, fmt.Errorf("%w: %q", errs.ErrUnknownRecord, name)
}
