package qtp

import (
	"testing"

	"github.com/devexperts/QD-sub012/decimal"
	"github.com/devexperts/QD-sub012/errs"
	"github.com/devexperts/QD-sub012/format"
	"github.com/devexperts/QD-sub012/record"
	"github.com/stretchr/testify/require"
)

var (
	quoteRecord = record.NewRecord(1, "Quote", false,
		record.Field{Name: "Bid.Price", Type: record.FieldDecimal},
		record.Field{Name: "Ask.Price", Type: record.FieldDecimal},
		record.Field{Name: "Bid.Size", Type: record.FieldLong},
	)
	tradeRecord = record.NewRecord(2, "TimeAndSale", true,
		record.Field{Name: "Price", Type: record.FieldDecimal},
		record.Field{Name: "Exchange", Type: record.FieldString},
		record.Field{Name: "Flags", Type: record.FieldInt},
		record.Field{Name: "Attachment", Type: record.FieldBytes},
	)
	testScheme = record.MustScheme(quoteRecord, tradeRecord)
)

func quote(symbol string, bid, ask string, size int64) record.Entry {
	return record.Entry{Record: quoteRecord, Symbol: symbol, Values: []record.Value{
		record.DecimalValue(decimal.MustParse(bid)),
		record.DecimalValue(decimal.MustParse(ask)),
		record.IntValue(size),
	}}
}

func trade(symbol string, t int64, seq int32, price, exchange string) record.Entry {
	return record.Entry{Record: tradeRecord, Symbol: symbol, EventTime: t, EventSequence: seq, Values: []record.Value{
		record.DecimalValue(decimal.MustParse(price)),
		record.StringValue(exchange),
		record.IntValue(-7),
		record.BytesValue([]byte{0, 1, 2}),
	}}
}

// composeSample writes one message of each kind and returns the bytes.
func composeSample(t *testing.T, f format.FileFormat, timeField bool) []byte {
	t.Helper()

	c, err := NewComposer(f, WithTimeField(timeField))
	require.NoError(t, err)

	desc := NewProtocolDescriptor(MessageTickerData, MessageHistoryData)
	if timeField {
		desc.SetProperty(PropertyTime, format.TimestampsField.String())
	}
	desc.SetProperty(PropertyOpt, "hs")

	buf := c.AppendDescribeProtocol(nil, desc)
	buf = c.AppendHeartbeat(buf, Heartbeat{TimeMillis: 1_700_000_000_123, HasTime: true})
	buf, err = c.AppendData(buf, record.Ticker, []record.Entry{
		quote("IBM", "101.25", "101.5", 300),
		quote("IBM", "101.3", "101.5", 100),
		quote("MSFT", "NaN", "410", 0),
	})
	require.NoError(t, err)
	buf, err = c.AppendData(buf, record.History, []record.Entry{
		trade("AAPL", 1_700_000_000_000, 3, "189.99", "Q\tnasdaq\\x"),
	})
	require.NoError(t, err)
	buf = c.AppendHeartbeat(buf, Heartbeat{})
	buf, err = c.AppendSubscription(buf, record.History, true, []record.Entry{
		{Record: tradeRecord, Symbol: "AAPL", EventTime: 1_600_000_000_000},
	})
	require.NoError(t, err)
	buf, err = c.AppendSubscription(buf, record.Stream, false, []record.Entry{
		{Record: quoteRecord, Symbol: "IBM"},
	})
	require.NoError(t, err)

	return buf
}

func parseAll(t *testing.T, p Parser, data []byte, chunk int) []Message {
	t.Helper()

	var msgs []Message
	for len(data) > 0 {
		n := min(chunk, len(data))
		p.Feed(data[:n])
		data = data[n:]
		for {
			res := p.Next()
			require.NotEqual(t, Fatal, res.Outcome, "%v", res.Err)
			if res.Outcome == NeedMore {
				break
			}
			msgs = append(msgs, res.Message)
		}
	}
	require.Zero(t, p.Pending())

	return msgs
}

// payload drops description messages, which differ between formats.
func payload(msgs []Message) []Message {
	var out []Message
	for _, m := range msgs {
		if m.Type != MessageDescribeRecords {
			out = append(out, m)
		}
	}

	return out
}

func requireSample(t *testing.T, msgs []Message, timeField bool) {
	t.Helper()

	msgs = payload(msgs)
	require.GreaterOrEqual(t, len(msgs), 7)

	require.Equal(t, MessageDescribeProtocol, msgs[0].Type)
	require.Equal(t, []MessageType{MessageTickerData, MessageHistoryData}, msgs[0].Protocol.Send)
	require.Equal(t, "hs", msgs[0].Protocol.Property(PropertyOpt))

	require.Equal(t, MessageHeartbeat, msgs[1].Type)
	require.Equal(t, Heartbeat{TimeMillis: 1_700_000_000_123, HasTime: true}, msgs[1].Heartbeat)

	ticker := msgs[2]
	require.Equal(t, MessageTickerData, ticker.Type)
	var entries []record.Entry
	for _, m := range msgs[2:] {
		if m.Type == MessageTickerData {
			entries = append(entries, m.Entries...)
		}
	}
	require.Len(t, entries, 3)
	require.Equal(t, "IBM", entries[1].Symbol)
	require.Same(t, quoteRecord, entries[0].Record)
	require.Equal(t, "101.3", entries[1].Values[0].Decimal().String())
	require.Equal(t, "MSFT", entries[2].Symbol)
	require.True(t, decimal.IsNaN(entries[2].Values[0].Decimal()))
	require.Equal(t, int64(300), entries[0].Values[2].Int)

	var history Message
	for _, m := range msgs {
		if m.Type == MessageHistoryData {
			history = m
		}
	}
	require.Len(t, history.Entries, 1)
	tr := history.Entries[0]
	require.Equal(t, "Q\tnasdaq\\x", tr.Values[1].Str)
	require.Equal(t, int64(-7), tr.Values[2].Int)
	require.Equal(t, []byte{0, 1, 2}, tr.Values[3].Bytes)
	if timeField {
		require.Equal(t, int64(1_700_000_000_000), tr.EventTime)
		require.Equal(t, int32(3), tr.EventSequence)
	} else {
		require.Zero(t, tr.EventTime)
	}

	require.Equal(t, MessageHeartbeat, msgs[len(msgs)-3].Type)
	require.False(t, msgs[len(msgs)-3].Heartbeat.HasTime)

	add := msgs[len(msgs)-2]
	require.Equal(t, MessageHistoryAddSubscription, add.Type)
	require.Equal(t, int64(1_600_000_000_000), add.Entries[0].EventTime)
	require.Same(t, tradeRecord, add.Entries[0].Record)

	last := msgs[len(msgs)-1]
	require.Equal(t, MessageStreamRemoveSubscription, last.Type)
	require.Equal(t, "IBM", last.Entries[0].Symbol)
}

func TestBinary_RoundTrip(t *testing.T) {
	for _, timeField := range []bool{false, true} {
		data := composeSample(t, format.Binary, timeField)
		p, err := NewParser(format.Binary, WithScheme(testScheme))
		require.NoError(t, err)

		msgs := parseAll(t, p, data, len(data))
		require.Len(t, msgs, 9, "protocol, heartbeat, 2 descriptions, 2 data, heartbeat, 2 subscriptions")
		requireSample(t, msgs, timeField)

		require.Equal(t, int64(0), msgs[0].Position)
		for i := 1; i < len(msgs); i++ {
			require.Greater(t, msgs[i].Position, msgs[i-1].Position)
		}
		require.Equal(t, MessageHistoryAddSubscription, msgs[7].Type)
		require.Equal(t, int64(1_600_000_000_000), msgs[7].Entries[0].EventTime)
	}
}

func TestBinary_ByteAtATime(t *testing.T) {
	data := composeSample(t, format.Binary, true)
	p, err := NewParser(format.Binary, WithScheme(testScheme))
	require.NoError(t, err)

	requireSample(t, parseAll(t, p, data, 1), true)
}

func TestBinary_LearnsRecordsFromStream(t *testing.T) {
	data := composeSample(t, format.Binary, false)
	p, err := NewParser(format.Binary)
	require.NoError(t, err)

	msgs := payload(parseAll(t, p, data, 7))
	r := msgs[2].Entries[0].Record
	require.NotSame(t, quoteRecord, r)
	require.Equal(t, "Quote", r.Name)
	require.Equal(t, quoteRecord.Fields, r.Fields)
}

func TestBinary_SchemeKnownIgnoresDescriptions(t *testing.T) {
	other := record.NewRecord(1, "Renamed", false, quoteRecord.Fields...)
	data := composeSample(t, format.Binary, false)
	p, err := NewParser(format.Binary,
		WithScheme(record.MustScheme(other, tradeRecord)),
		WithSchemeKnown(true))
	require.NoError(t, err)

	msgs := payload(parseAll(t, p, data, len(data)))
	require.Same(t, other, msgs[2].Entries[0].Record)
}

func TestBinary_Resync(t *testing.T) {
	c, err := NewComposer(format.Binary)
	require.NoError(t, err)
	first, err := c.AppendData(nil, record.Ticker, []record.Entry{quote("IBM", "1", "2", 3)})
	require.NoError(t, err)
	second, err := c.AppendData(nil, record.Ticker, []record.Entry{quote("MSFT", "4", "5", 6)})
	require.NoError(t, err)

	garbage := []byte{0x05, 0x7E, 0x01, 0x02, 0x03, 0x04}
	data := append(append(append([]byte{}, first...), garbage...), second...)

	p, err := NewParser(format.Binary, WithScheme(testScheme), WithResyncOn(MessageTickerData))
	require.NoError(t, err)
	p.Feed(data)

	var outcomes []Outcome
	var symbols []string
	for {
		res := p.Next()
		if res.Outcome == NeedMore {
			break
		}
		outcomes = append(outcomes, res.Outcome)
		switch res.Outcome {
		case Parsed:
			for _, e := range res.Message.Entries {
				symbols = append(symbols, e.Symbol)
			}
		case Resynced:
			require.ErrorIs(t, res.Err, errs.ErrCorruptedStream)
			require.ErrorIs(t, res.Err, errs.ErrUnknownMessage)
			require.Contains(t, res.Err.Error(), "skipped 6 bytes")
			require.Equal(t, int64(len(first)+len(garbage)), res.Message.Position)
		}
	}

	require.Equal(t, []Outcome{Parsed, Parsed, Resynced, Parsed}, outcomes)
	require.Equal(t, []string{"IBM", "MSFT"}, symbols)
}

func TestBinary_CorruptionWithoutResyncIsFatal(t *testing.T) {
	p, err := NewParser(format.Binary, WithScheme(testScheme))
	require.NoError(t, err)
	p.Feed([]byte{0x05, 0x7E, 0x01, 0x02, 0x03, 0x04})

	res := p.Next()
	require.Equal(t, Fatal, res.Outcome)
	require.ErrorIs(t, res.Err, errs.ErrCorruptedStream)
	require.Equal(t, Fatal, p.Next().Outcome, "fatal is sticky")

	p.ResetSession()
	require.Equal(t, NeedMore, p.Next().Outcome)
}

func TestBinary_LimitsAndTruncation(t *testing.T) {
	p, err := NewParser(format.Binary, WithMaxMessageSize(8))
	require.NoError(t, err)
	p.Feed([]byte{0x20, 0x0A})
	res := p.Next()
	require.Equal(t, Fatal, res.Outcome)
	require.Contains(t, res.Err.Error(), "invalid message length 32")

	c, err := NewComposer(format.Binary)
	require.NoError(t, err)
	data, err := c.AppendData(nil, record.Ticker, []record.Entry{quote("IBM", "1", "2", 3)})
	require.NoError(t, err)

	p, err = NewParser(format.Binary, WithScheme(testScheme))
	require.NoError(t, err)
	p.Feed(data[:len(data)-1])
	require.Equal(t, Parsed, p.Next().Outcome, "record description is complete")
	require.Equal(t, NeedMore, p.Next().Outcome)
	require.Positive(t, p.Pending())

	_, err = NewParser(format.Binary, WithMaxMessageSize(0))
	require.ErrorIs(t, err, errs.ErrInvalidArgument)
	_, err = NewParser(format.Binary, WithResyncOn(MessageType(99)))
	require.ErrorIs(t, err, errs.ErrInvalidArgument)
}

func TestComposer_RejectsBadEntries(t *testing.T) {
	for _, f := range []format.FileFormat{format.Binary, format.Text, format.CSV} {
		c, err := NewComposer(f)
		require.NoError(t, err)
		_, err = c.AppendData(nil, record.Ticker, []record.Entry{{Record: quoteRecord, Symbol: "IBM"}})
		require.ErrorIs(t, err, errs.ErrInvalidArgument, f.String())
		_, err = c.AppendData(nil, record.Ticker, []record.Entry{{Symbol: "IBM"}})
		require.ErrorIs(t, err, errs.ErrInvalidArgument, f.String())
	}

	_, err := NewComposer(format.FileFormat{})
	require.ErrorIs(t, err, errs.ErrInvalidArgument)
}

func TestText_RoundTrip(t *testing.T) {
	for _, f := range []format.FileFormat{format.Text, format.CSV} {
		for _, timeField := range []bool{false, true} {
			data := composeSample(t, f, timeField)
			require.Equal(t, f, DetectFormat(data))

			p, err := NewParser(f, WithScheme(testScheme))
			require.NoError(t, err)
			msgs := parseAll(t, p, data, 5)
			requireSample(t, msgs, timeField)
		}
	}
}

func TestText_Layout(t *testing.T) {
	c, err := NewComposer(format.Text)
	require.NoError(t, err)
	data, err := c.AppendData(nil, record.Stream, []record.Entry{quote("IBM", "101.25", "101.5", 300)})
	require.NoError(t, err)
	data, err = c.AppendData(data, record.Stream, []record.Entry{quote("IBM", "101", "102", 1)})
	require.NoError(t, err)

	require.Equal(t,
		"=Quote\tEventSymbol\tBid.Price:decimal\tAsk.Price:decimal\tBid.Size:long\n"+
			"==STREAM_DATA\n"+
			"Quote\tIBM\t101.25\t101.5\t300\n"+
			"Quote\tIBM\t101\t102\t1\n",
		string(data))

	c.ResetSession()
	data, err = c.AppendData(nil, record.Stream, []record.Entry{quote("IBM", "1", "2", 3)})
	require.NoError(t, err)
	require.Contains(t, string(data), "=Quote\t", "a new session describes records again")
}

func TestText_ParsesHandWrittenFile(t *testing.T) {
	data := "==DESCRIBE_PROTOCOL\ttime=field\n" +
		"=Quote\tEventSymbol\tEventTime\tEventSequence\tBid.Price:decimal\tAsk.Price:decimal\tBid.Size:long\n" +
		"\n" +
		"Quote\tIBM\t1000\t1\t1.5\t2.5\t10\r\n" +
		"==HEARTBEAT\t2000\n" +
		"Quote\tIBM\t2000\t2\t1.25\t2.5\t11\n"

	p, err := NewParser(format.Text, WithScheme(testScheme))
	require.NoError(t, err)
	msgs := payload(parseAll(t, p, []byte(data), 1024))
	require.Len(t, msgs, 4)
	require.Equal(t, "field", msgs[0].Protocol.Property(PropertyTime))
	require.Equal(t, MessageTickerData, msgs[1].Type, "data defaults to ticker")
	require.Equal(t, int64(1000), msgs[1].Entries[0].EventTime)
	require.Equal(t, Heartbeat{TimeMillis: 2000, HasTime: true}, msgs[2].Heartbeat)
	require.Equal(t, int32(2), msgs[3].Entries[0].EventSequence)
	require.Same(t, quoteRecord, msgs[3].Entries[0].Record)
}

func TestText_FinishParsesUnterminatedLine(t *testing.T) {
	header := "=Quote\tEventSymbol\tBid.Price:decimal\tAsk.Price:decimal\tBid.Size:long\n"

	p, err := NewParser(format.Text, WithScheme(testScheme))
	require.NoError(t, err)
	p.Feed([]byte(header + "Quote\tIBM\t1.5\t2.5\t10\nQuote\tMSFT\t3.5\t4.5\t20"))

	msgs := payload(drainParser(t, p))
	require.Len(t, msgs, 1)
	require.Equal(t, "IBM", msgs[0].Entries[0].Symbol)
	require.Positive(t, p.Pending(), "the last line waits for its newline")

	p.Finish()
	msgs = drainParser(t, p)
	require.Len(t, msgs, 1)
	require.Equal(t, "MSFT", msgs[0].Entries[0].Symbol)
	require.Zero(t, p.Pending())
}

func TestText_FinishKeepsBrokenLastLinePending(t *testing.T) {
	header := "=Quote\tEventSymbol\tBid.Price:decimal\tAsk.Price:decimal\tBid.Size:long\n"

	p, err := NewParser(format.Text, WithScheme(testScheme))
	require.NoError(t, err)
	p.Feed([]byte(header + "Quote\tIBM\t1.5\t2.5\t10\nQuote\tMSFT\t3"))
	p.Finish()

	msgs := payload(drainParser(t, p))
	require.Len(t, msgs, 1)
	require.Equal(t, "IBM", msgs[0].Entries[0].Symbol)
	require.Equal(t, len("Quote\tMSFT\t3"), p.Pending())
}

func TestBinary_FinishLeavesTruncatedFrame(t *testing.T) {
	data := composeSample(t, format.Binary, false)

	p, err := NewParser(format.Binary, WithScheme(testScheme))
	require.NoError(t, err)
	p.Feed(data[:len(data)-1])
	p.Finish()
	drainParser(t, p)
	require.Positive(t, p.Pending())
}

// drainParser returns the messages parsed from what was fed so far.
func drainParser(t *testing.T, p Parser) []Message {
	t.Helper()

	var msgs []Message
	for {
		res := p.Next()
		require.NotEqual(t, Fatal, res.Outcome, "%v", res.Err)
		if res.Outcome == NeedMore {
			return msgs
		}
		msgs = append(msgs, res.Message)
	}
}

func TestText_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
		want error
	}{
		{"unknown record", "Trade\tIBM\t1\n", errs.ErrUnknownRecord},
		{"bad decimal", "=Quote\tEventSymbol\tBid.Price:decimal\tAsk.Price:decimal\tBid.Size:long\nQuote\tIBM\tx\t1\t1\n", errs.ErrInvalidDecimal},
		{"value count", "=Quote\tEventSymbol\tBid.Price:decimal\tAsk.Price:decimal\tBid.Size:long\nQuote\tIBM\t1\n", errs.ErrCorruptedMessage},
		{"unknown message", "==BOGUS\n", errs.ErrUnknownMessage},
		{"no symbol column", "=Quote\tSymbol\n", errs.ErrCorruptedMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewParser(format.Text)
			require.NoError(t, err)
			p.Feed([]byte(tt.data))

			var res Result
			for res = p.Next(); res.Outcome == Parsed; res = p.Next() {
			}
			require.Equal(t, Fatal, res.Outcome)
			require.ErrorIs(t, res.Err, errs.ErrCorruptedStream)
			require.ErrorIs(t, res.Err, tt.want)
		})
	}
}

func TestCSV_SkipsComments(t *testing.T) {
	data := "# exported quotes\n" +
		"#=Quote,EventSymbol,Bid.Price:decimal,Ask.Price:decimal,Bid.Size:long\n" +
		"Quote,\"IBM,A\",1,2,3\n"
	p, err := NewParser(format.CSV, WithScheme(testScheme))
	require.NoError(t, err)

	msgs := payload(parseAll(t, p, []byte(data), 3))
	require.Len(t, msgs, 1)
	require.Equal(t, "IBM,A", msgs[0].Entries[0].Symbol)
}

func TestBlob_RoundTrip(t *testing.T) {
	blobRecord := record.NewRecord(9, "Message", false,
		record.Field{Name: "Id", Type: record.FieldLong},
		record.Field{Name: "Body", Type: record.FieldBytes})
	f := format.Blob("Message", "news")

	c, err := NewComposer(f)
	require.NoError(t, err)
	require.Empty(t, c.AppendDescribeProtocol(nil, NewProtocolDescriptor()))
	data, err := c.AppendData(nil, record.Stream, []record.Entry{
		{Record: blobRecord, Symbol: "news", Values: []record.Value{record.IntValue(1), record.BytesValue([]byte("hello "))}},
		{Record: blobRecord, Symbol: "other", Values: []record.Value{record.IntValue(2), record.BytesValue([]byte("skip"))}},
		{Record: blobRecord, Symbol: "news", Values: []record.Value{record.IntValue(3), record.BytesValue([]byte("world"))}},
	})
	require.NoError(t, err)
	require.Equal(t, "hello world", string(data))

	p, err := NewParser(f, WithScheme(record.MustScheme(blobRecord)))
	require.NoError(t, err)
	msgs := parseAll(t, p, data, 6)
	require.Len(t, msgs, 2)
	require.Equal(t, MessageStreamData, msgs[0].Type)
	require.Same(t, blobRecord, msgs[0].Entries[0].Record)
	require.Equal(t, "hello ", string(msgs[0].Entries[0].Values[1].Bytes))
	require.Equal(t, int64(6), msgs[1].Position)

	p, err = NewParser(f)
	require.NoError(t, err)
	msgs = parseAll(t, p, data, len(data))
	require.Equal(t, "Data", msgs[0].Entries[0].Record.Fields[0].Name)
}

func TestDetectFormat(t *testing.T) {
	require.Equal(t, format.Binary, DetectFormat(nil))
	require.Equal(t, format.Binary, DetectFormat([]byte{0x10, 0x01}))
	require.Equal(t, format.Text, DetectFormat([]byte("==DESCRIBE_PROTOCOL")))
	require.Equal(t, format.CSV, DetectFormat([]byte("#=Quote")))
	require.Equal(t, format.Binary, DetectFormat([]byte{'=', 0x02, 0x01}), "61 byte records description")
	require.Equal(t, format.Binary, DetectFormat([]byte{'#', 0x0A}))
}
