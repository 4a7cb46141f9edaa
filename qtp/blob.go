package qtp

import (
	"github.com/devexperts/QD-sub012/record"
)

// blobComposer writes the raw bytes of one record and symbol; everything
// else is dropped.
type blobComposer struct {
	record string
	symbol string
}

func newBlobComposer(recordName, symbol string) *blobComposer {
	return &blobComposer{record: recordName, symbol: symbol}
}

func (c *blobComposer) ResetSession() {}

func (c *blobComposer) AppendDescribeProtocol(dst []byte, _ *ProtocolDescriptor) []byte { return dst }

func (c *blobComposer) AppendHeartbeat(dst []byte, _ Heartbeat) []byte { return dst }

func (c *blobComposer) AppendSubscription(dst []byte, _ record.Contract, _ bool, _ []record.Entry) ([]byte, error) {
	return dst, nil
}

func (c *blobComposer) AppendData(dst []byte, _ record.Contract, entries []record.Entry) ([]byte, error) {
	for i := range entries {
		e := &entries[i]
		if e.Record == nil || e.Record.Name != c.record || e.Symbol != c.symbol {
			continue
		}
		if j := bytesField(e.Record); j >= 0 && j < len(e.Values) {
			dst = append(dst, e.Values[j].Bytes...)
		}
	}

	return dst, nil
}

func bytesField(r *record.Record) int {
	for i, f := range r.Fields {
		if f.Type == record.FieldBytes {
			return i
		}
	}

	return -1
}

// blobParser turns every fed chunk into one stream data entry.
type blobParser struct {
	in     inputBuffer
	rec    *record.Record
	field  int
	symbol string
}

func newBlobParser(cfg *parserConfig, recordName, symbol string) *blobParser {
	rec, ok := cfg.scheme.ByName(recordName)
	if !ok || bytesField(rec) < 0 {
		rec = record.NewRecord(-1, recordName, false, record.Field{Name: "Data", Type: record.FieldBytes})
	}

	return &blobParser{rec: rec, field: bytesField(rec), symbol: symbol}
}

func (p *blobParser) Feed(data []byte) {
	p.in.feed(data)
}

func (p *blobParser) Finish() {}

func (p *blobParser) Pending() int {
	return p.in.pending()
}

func (p *blobParser) ResetSession() {
	p.in.reset()
}

func (p *blobParser) Next() Result {
	if p.in.pending() == 0 {
		return Result{Outcome: NeedMore}
	}

	pos := p.in.position()
	data := append([]byte(nil), p.in.buf[p.in.off:]...)
	p.in.off = len(p.in.buf)

	values := make([]record.Value, len(p.rec.Fields))
	values[p.field] = record.BytesValue(data)

	return Result{Outcome: Parsed, Message: Message{
		Type:     MessageStreamData,
		Position: pos,
		Entries:  []record.Entry{{Record: p.rec, Symbol: p.symbol, Values: values}},
	}}
}
