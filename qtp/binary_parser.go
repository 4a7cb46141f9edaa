package qtp

import (
	"fmt"

	"github.com/devexperts/QD-sub012/encoding"
	"github.com/devexperts/QD-sub012/errs"
	"github.com/devexperts/QD-sub012/format"
	"github.com/devexperts/QD-sub012/record"
)

type binaryParser struct {
	cfg       *parserConfig
	in        inputBuffer
	records   *recordTable
	timeField bool

	resyncing  bool
	corruptAt  int64
	corruptErr error
	failed     error
}

func newBinaryParser(cfg *parserConfig) *binaryParser {
	return &binaryParser{cfg: cfg, records: newRecordTable(cfg), timeField: cfg.timeField}
}

func (p *binaryParser) Feed(data []byte) {
	p.in.feed(data)
}

// Finish does nothing: a binary frame is complete only when its length is.
func (p *binaryParser) Finish() {}

func (p *binaryParser) Pending() int {
	return p.in.pending()
}

func (p *binaryParser) ResetSession() {
	p.in.reset()
	p.records.reset()
	p.timeField = p.cfg.timeField
	p.resyncing = false
	p.corruptErr = nil
	p.failed = nil
}

func (p *binaryParser) Next() Result {
	if p.failed != nil {
		return Result{Outcome: Fatal, Err: p.failed}
	}
	if p.resyncing {
		return p.resync()
	}

	start := p.in.off
	msg, n, err := p.parseAt(start)
	switch {
	case err != nil:
		pos := p.in.base + int64(start)
		if !p.cfg.resync {
			p.failed = fmt.Errorf("%w at position %d: %w", errs.ErrCorruptedStream, pos, err)
			return Result{Outcome: Fatal, Err: p.failed}
		}
		p.resyncing = true
		p.corruptAt = pos
		p.corruptErr = err
		p.in.off = start + 1

		return p.resync()
	case n == 0:
		return Result{Outcome: NeedMore}
	default:
		p.in.off += n
		p.accept(&msg)

		return Result{Outcome: Parsed, Message: msg}
	}
}

// resync scans forward one byte at a time for a complete, well-formed
// message of the configured type.
func (p *binaryParser) resync() Result {
	for i := p.in.off; i < len(p.in.buf); i++ {
		b := p.in.buf[i:]
		length, k, err := encoding.DecodeCompactLong(b)
		if err != nil {
			p.in.off = i
			return Result{Outcome: NeedMore}
		}
		if length <= 0 || length > int64(p.cfg.maxMessageSize) {
			continue
		}
		typ, _, err := encoding.DecodeCompactLong(b[k:])
		if err != nil {
			p.in.off = i
			return Result{Outcome: NeedMore}
		}
		if MessageType(typ) != p.cfg.resyncOn {
			continue
		}
		_, n, err := p.parseAt(i)
		if err != nil {
			continue
		}
		if n == 0 {
			p.in.off = i
			return Result{Outcome: NeedMore}
		}

		p.resyncing = false
		p.in.off = i
		skipped := p.in.base + int64(i) - p.corruptAt

		return Result{
			Outcome: Resynced,
			Message: Message{Position: p.in.base + int64(i)},
			Err: fmt.Errorf("%w at position %d, skipped %d bytes: %w",
				errs.ErrCorruptedStream, p.corruptAt, skipped, p.corruptErr),
		}
	}
	p.in.off = len(p.in.buf)

	return Result{Outcome: NeedMore}
}

// parseAt decodes the message starting at buffer offset i. It returns n == 0
// and no error when the message is not complete yet.
func (p *binaryParser) parseAt(i int) (Message, int, error) {
	b := p.in.buf[i:]
	msg := Message{Position: p.in.base + int64(i)}

	length, k, err := encoding.DecodeCompactLong(b)
	if err != nil {
		return msg, 0, nil
	}
	if length == 0 {
		msg.Type = MessageHeartbeat
		return msg, k, nil
	}
	if length < 0 || length > int64(p.cfg.maxMessageSize) {
		return msg, 0, fmt.Errorf("invalid message length %d", length)
	}
	if int64(len(b)-k) < length {
		return msg, 0, nil
	}

	body := b[k : k+int(length)]
	typ, tk, err := encoding.DecodeCompactLong(body)
	if err != nil {
		return msg, 0, fmt.Errorf("%w: message type exceeds frame", errs.ErrCorruptedMessage)
	}
	msg.Type = MessageType(typ)
	if !msg.Type.Known() {
		return msg, 0, fmt.Errorf("%w: %d", errs.ErrUnknownMessage, typ)
	}

	if err := p.decodeBody(&msg, body[tk:]); err != nil {
		return msg, 0, fmt.Errorf("%w: %s: %w", errs.ErrCorruptedMessage, msg.Type, err)
	}

	return msg, k + int(length), nil
}

// accept applies what a parsed message teaches about the stream.
func (p *binaryParser) accept(msg *Message) {
	switch msg.Type {
	case MessageDescribeProtocol:
		p.timeField = p.cfg.timeField || msg.Protocol.Property(PropertyTime) == format.TimestampsField.String()
	case MessageDescribeRecords:
		msg.Records = p.records.learn(msg.Records)
	}
}

func (p *binaryParser) decodeBody(msg *Message, body []byte) error {
	d := decoder{b: body}
	switch {
	case msg.Type == MessageHeartbeat:
		if d.done() {
			return nil
		}
		flags := d.long()
		if flags&heartbeatTimeMillis != 0 {
			msg.Heartbeat = Heartbeat{TimeMillis: d.long(), HasTime: true}
		}
	case msg.Type == MessageDescribeProtocol:
		msg.Protocol = decodeProtocol(&d)
	case msg.Type == MessageDescribeRecords:
		msg.Records = decodeRecords(&d)
	case msg.Type.IsData() || msg.Type.IsSubscription():
		msg.Entries = p.decodeEntries(&d, msg.Type)
	}

	return d.err
}

func decodeProtocol(d *decoder) *ProtocolDescriptor {
	magic := d.raw(len(ProtocolMagic))
	if d.err == nil && string(magic) != ProtocolMagic {
		d.fail(fmt.Errorf("bad protocol magic %q", magic))
		return nil
	}

	desc := NewProtocolDescriptor()
	for n := d.count(); n > 0 && d.err == nil; n-- {
		desc.Send = append(desc.Send, MessageType(d.long()))
	}
	for n := d.count(); n > 0 && d.err == nil; n-- {
		key := d.str()
		desc.SetProperty(key, d.str())
	}

	return desc
}

func decodeRecords(d *decoder) []*record.Record {
	n := d.count()
	records := make([]*record.Record, 0, min(n, 64))
	for ; n > 0 && d.err == nil; n-- {
		r := &record.Record{ID: int(d.long()), Name: d.str(), TimeSeries: d.long() != 0}
		for nf := d.count(); nf > 0 && d.err == nil; nf-- {
			f := record.Field{Name: d.str(), Type: record.FieldType(d.long())} //nolint:gosec
			if f.Type < record.FieldInt || f.Type > record.FieldBytes {
				d.fail(fmt.Errorf("field %s.%s has unknown type %d", r.Name, f.Name, f.Type))
			}
			r.Fields = append(r.Fields, f)
		}
		records = append(records, r)
	}

	return records
}

func (p *binaryParser) decodeEntries(d *decoder, t MessageType) []record.Entry {
	var entries []record.Entry
	prev := ""
	for !d.done() && d.err == nil {
		symbol := d.str()
		if symbol == "" {
			symbol = prev
		}
		prev = symbol

		r, err := p.records.byID(int(d.long()))
		if err != nil {
			d.fail(err)
			break
		}
		e := record.Entry{Record: r, Symbol: symbol}
		switch {
		case t.IsData():
			if p.timeField {
				e.EventTime = d.long()
				e.EventSequence = int32(d.long()) //nolint:gosec
			}
			e.Values = make([]record.Value, len(r.Fields))
			for j, f := range r.Fields {
				e.Values[j] = d.value(f.Type)
			}
		case t == MessageHistoryAddSubscription:
			e.EventTime = d.long()
		}
		entries = append(entries, e)
	}

	return entries
}

// decoder reads wire values from a message body and keeps the first error.
type decoder struct {
	b   []byte
	err error
}

func (d *decoder) done() bool {
	return len(d.b) == 0
}

func (d *decoder) fail(err error) {
	if d.err == nil {
		d.err = err
	}
}

func (d *decoder) long() int64 {
	if d.err != nil {
		return 0
	}
	v, n, err := encoding.DecodeCompactLong(d.b)
	if err != nil {
		d.fail(err)
		return 0
	}
	d.b = d.b[n:]

	return v
}

func (d *decoder) count() int {
	n := d.long()
	if n < 0 || n > int64(len(d.b)) {
		d.fail(fmt.Errorf("invalid count %d", n))
		return 0
	}

	return int(n)
}

func (d *decoder) str() string {
	if d.err != nil {
		return ""
	}
	s, _, n, err := encoding.DecodeUTFString(d.b)
	if err != nil {
		d.fail(err)
		return ""
	}
	d.b = d.b[n:]

	return s
}

func (d *decoder) raw(n int) []byte {
	if d.err != nil {
		return nil
	}
	if len(d.b) < n {
		d.fail(errs.ErrUnexpectedEOF)
		return nil
	}
	out := d.b[:n]
	d.b = d.b[n:]

	return out
}

func (d *decoder) value(t record.FieldType) record.Value {
	switch t {
	case record.FieldString:
		return record.StringValue(d.str())
	case record.FieldBytes:
		if d.err != nil {
			return record.Value{}
		}
		b, n, err := encoding.DecodeByteArray(d.b)
		if err != nil {
			d.fail(err)
			return record.Value{}
		}
		d.b = d.b[n:]

		return record.BytesValue(b)
	case record.FieldInt, record.FieldDecimal:
		return record.IntValue(int64(int32(d.long()))) //nolint:gosec
	default:
		return record.IntValue(d.long())
	}
}
