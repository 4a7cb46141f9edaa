package qtp

import (
	"github.com/devexperts/QD-sub012/encoding"
	"github.com/devexperts/QD-sub012/record"
)

type binaryComposer struct {
	cfg       *composerConfig
	described described
	body      []byte
}

func newBinaryComposer(cfg *composerConfig) *binaryComposer {
	return &binaryComposer{cfg: cfg, described: described{}}
}

func (c *binaryComposer) ResetSession() {
	clear(c.described)
}

// frame appends the length and type header and the body to dst.
func frame(dst []byte, t MessageType, body []byte) []byte {
	typeLen := encoding.CompactLength(int64(t))
	dst = encoding.AppendCompactLong(dst, int64(typeLen+len(body)))
	dst = encoding.AppendCompactLong(dst, int64(t))

	return append(dst, body...)
}

func (c *binaryComposer) AppendDescribeProtocol(dst []byte, d *ProtocolDescriptor) []byte {
	b := append(c.body[:0], ProtocolMagic...)
	b = encoding.AppendCompactLong(b, int64(len(d.Send)))
	for _, t := range d.Send {
		b = encoding.AppendCompactLong(b, int64(t))
	}
	keys := d.sortedKeys()
	b = encoding.AppendCompactLong(b, int64(len(keys)))
	for _, k := range keys {
		b = encoding.AppendUTFString(b, k)
		b = encoding.AppendUTFString(b, d.Properties[k])
	}
	c.body = b

	return frame(dst, MessageDescribeProtocol, b)
}

func (c *binaryComposer) AppendHeartbeat(dst []byte, hb Heartbeat) []byte {
	if !hb.HasTime {
		return encoding.AppendCompactLong(dst, 0)
	}
	b := encoding.AppendCompactLong(c.body[:0], heartbeatTimeMillis)
	b = encoding.AppendCompactLong(b, hb.TimeMillis)
	c.body = b

	return frame(dst, MessageHeartbeat, b)
}

// heartbeatTimeMillis flags a heartbeat that carries the sender's time.
const heartbeatTimeMillis = 1

func (c *binaryComposer) appendDescribeRecords(dst []byte, records []*record.Record) []byte {
	b := encoding.AppendCompactLong(c.body[:0], int64(len(records)))
	for _, r := range records {
		b = encoding.AppendCompactLong(b, int64(r.ID))
		b = encoding.AppendUTFString(b, r.Name)
		ts := int64(0)
		if r.TimeSeries {
			ts = 1
		}
		b = encoding.AppendCompactLong(b, ts)
		b = encoding.AppendCompactLong(b, int64(len(r.Fields)))
		for _, f := range r.Fields {
			b = encoding.AppendUTFString(b, f.Name)
			b = encoding.AppendCompactLong(b, int64(f.Type))
		}
	}
	c.body = b

	return frame(dst, MessageDescribeRecords, b)
}

func (c *binaryComposer) AppendData(dst []byte, ct record.Contract, entries []record.Entry) ([]byte, error) {
	for i := range entries {
		if err := checkValues(&entries[i]); err != nil {
			return dst, err
		}
	}
	if len(entries) == 0 {
		return dst, nil
	}
	if missing := c.described.missing(entries); len(missing) > 0 {
		dst = c.appendDescribeRecords(dst, missing)
	}

	b := c.body[:0]
	prev := ""
	for i := range entries {
		e := &entries[i]
		b = appendSymbol(b, e.Symbol, prev)
		prev = e.Symbol
		b = encoding.AppendCompactLong(b, int64(e.Record.ID))
		if c.cfg.timeField {
			b = encoding.AppendCompactLong(b, e.EventTime)
			b = encoding.AppendCompactInt(b, e.EventSequence)
		}
		for j, f := range e.Record.Fields {
			b = appendValue(b, f.Type, e.Values[j])
		}
	}
	c.body = b

	return frame(dst, DataMessage(ct), b), nil
}

func (c *binaryComposer) AppendSubscription(dst []byte, ct record.Contract, add bool, entries []record.Entry) ([]byte, error) {
	if len(entries) == 0 {
		return dst, nil
	}
	if missing := c.described.missing(entries); len(missing) > 0 {
		dst = c.appendDescribeRecords(dst, missing)
	}

	b := c.body[:0]
	prev := ""
	for i := range entries {
		e := &entries[i]
		b = appendSymbol(b, e.Symbol, prev)
		prev = e.Symbol
		b = encoding.AppendCompactLong(b, int64(e.Record.ID))
		if ct == record.History && add {
			b = encoding.AppendCompactLong(b, e.EventTime)
		}
	}
	c.body = b

	return frame(dst, SubscriptionMessage(ct, add), b), nil
}

// appendSymbol writes an empty string when the symbol repeats the previous one.
func appendSymbol(b []byte, symbol, prev string) []byte {
	if symbol == prev {
		return encoding.AppendUTFString(b, "")
	}

	return encoding.AppendUTFString(b, symbol)
}

func appendValue(b []byte, t record.FieldType, v record.Value) []byte {
	switch t {
	case record.FieldString:
		return encoding.AppendUTFString(b, v.Str)
	case record.FieldBytes:
		return encoding.AppendByteArray(b, v.Bytes)
	case record.FieldInt, record.FieldDecimal:
		return encoding.AppendCompactInt(b, int32(v.Int)) //nolint:gosec
	default:
		return encoding.AppendCompactLong(b, v.Int)
	}
}
