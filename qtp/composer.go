package qtp

import (
	"fmt"

	"github.com/devexperts/QD-sub012/errs"
	"github.com/devexperts/QD-sub012/format"
	"github.com/devexperts/QD-sub012/internal/options"
	"github.com/devexperts/QD-sub012/record"
)

// Composer encodes messages in one file format by appending to a buffer.
//
// Composers remember which records were already described in the current
// session and describe new ones before their first data. ResetSession
// forgets that state; call it whenever a new file starts.
type Composer interface {
	AppendDescribeProtocol(dst []byte, d *ProtocolDescriptor) []byte
	AppendHeartbeat(dst []byte, hb Heartbeat) []byte
	AppendData(dst []byte, c record.Contract, entries []record.Entry) ([]byte, error)
	AppendSubscription(dst []byte, c record.Contract, add bool, entries []record.Entry) ([]byte, error)
	ResetSession()
}

type composerConfig struct {
	timeField bool
}

// ComposerOption configures a composer.
type ComposerOption = options.Option[*composerConfig]

// WithTimeField makes data entries carry EventTime and EventSequence.
func WithTimeField(enabled bool) ComposerOption {
	return options.NoError(func(c *composerConfig) {
		c.timeField = enabled
	})
}

// NewComposer creates the composer of file format f.
func NewComposer(f format.FileFormat, opts ...ComposerOption) (Composer, error) {
	cfg := &composerConfig{}
	if err := options.Apply(cfg, opts...); err != nil {
		return nil, err
	}

	switch f.Type {
	case format.TypeBinary:
		return newBinaryComposer(cfg), nil
	case format.TypeText:
		return newTextComposer(cfg, textDialect), nil
	case format.TypeCSV:
		return newTextComposer(cfg, csvDialect), nil
	case format.TypeBlob:
		return newBlobComposer(f.BlobRecord, f.BlobSymbol), nil
	default:
		return nil, fmt.Errorf("%w: no composer for format %s", errs.ErrInvalidArgument, f)
	}
}

// described tracks the records described in the current session.
type described map[*record.Record]struct{}

func (d described) missing(entries []record.Entry) []*record.Record {
	var out []*record.Record
	for i := range entries {
		r := entries[i].Record
		if _, ok := d[r]; ok {
			continue
		}
		d[r] = struct{}{}
		out = append(out, r)
	}

	return out
}

func checkValues(e *record.Entry) error {
	if e.Record == nil {
		return fmt.Errorf("%w: entry for %q has no record", errs.ErrInvalidArgument, e.Symbol)
	}
	if len(e.Values) != len(e.Record.Fields) {
		return fmt.Errorf("%w: %s entry for %q has %d values, want %d",
			errs.ErrInvalidArgument, e.Record.Name, e.Symbol, len(e.Values), len(e.Record.Fields))
	}

	return nil
}
