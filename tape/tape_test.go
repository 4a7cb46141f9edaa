package tape

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/devexperts/QD-sub012/decimal"
	"github.com/devexperts/QD-sub012/format"
	"github.com/devexperts/QD-sub012/qtp"
	"github.com/devexperts/QD-sub012/record"
)

var (
	quoteRecord = record.NewRecord(1, "Quote", false,
		record.Field{Name: "Bid.Price", Type: record.FieldDecimal},
		record.Field{Name: "Ask.Price", Type: record.FieldDecimal},
	)
	tradeRecord = record.NewRecord(2, "TimeAndSale", true,
		record.Field{Name: "Price", Type: record.FieldDecimal},
	)
	testScheme = record.MustScheme(quoteRecord, tradeRecord)
)

func quote(symbol string, bid, ask string) record.Entry {
	return record.Entry{Record: quoteRecord, Symbol: symbol, Values: []record.Value{
		record.DecimalValue(decimal.MustParse(bid)),
		record.DecimalValue(decimal.MustParse(ask)),
	}}
}

func trade(symbol string, t int64, price string) record.Entry {
	return record.Entry{Record: tradeRecord, Symbol: symbol, EventTime: t, Values: []record.Value{
		record.DecimalValue(decimal.MustParse(price)),
	}}
}

// delivery is one message seen by a collector.
type delivery struct {
	typ     qtp.MessageType
	symbols []string
	hb      qtp.Heartbeat
	at      time.Time
}

// collector records every message handed to it.
type collector struct {
	mu     sync.Mutex
	got    []delivery
	onData func(n int)
}

func (c *collector) add(d delivery) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	d.at = time.Now()
	c.got = append(c.got, d)

	n := 0
	for _, g := range c.got {
		if g.typ.IsData() {
			n++
		}
	}

	return n
}

func (c *collector) HandleProtocol(*qtp.ProtocolDescriptor) {
	c.add(delivery{typ: qtp.MessageDescribeProtocol})
}

func (c *collector) HandleDescribeRecords([]*record.Record) {
	c.add(delivery{typ: qtp.MessageDescribeRecords})
}

func (c *collector) HandleHeartbeat(hb qtp.Heartbeat) {
	c.add(delivery{typ: qtp.MessageHeartbeat, hb: hb})
}

func (c *collector) HandleData(ct record.Contract, entries []record.Entry) {
	n := c.add(delivery{typ: qtp.DataMessage(ct), symbols: symbolsOf(entries)})
	if c.onData != nil {
		c.onData(n)
	}
}

func (c *collector) HandleSubscription(ct record.Contract, add bool, entries []record.Entry) {
	c.add(delivery{typ: qtp.SubscriptionMessage(ct, add), symbols: symbolsOf(entries)})
}

func symbolsOf(entries []record.Entry) []string {
	out := make([]string, len(entries))
	for i := range entries {
		out[i] = entries[i].Symbol
	}

	return out
}

// data returns the data deliveries in order.
func (c *collector) data() []delivery {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []delivery
	for _, d := range c.got {
		if d.typ.IsData() {
			out = append(out, d)
		}
	}

	return out
}

func (c *collector) dataSymbols() []string {
	var out []string
	for _, d := range c.data() {
		out = append(out, d.symbols...)
	}

	return out
}

// tapeBuilder composes a binary tape with a hand-made time index.
type tapeBuilder struct {
	t        *testing.T
	composer qtp.Composer
	data     []byte
	index    []byte
}

func newTapeBuilder(t *testing.T) *tapeBuilder {
	t.Helper()

	c, err := qtp.NewComposer(format.Binary)
	require.NoError(t, err)

	b := &tapeBuilder{t: t, composer: c}
	b.data = c.AppendDescribeProtocol(nil, qtp.NewProtocolDescriptor(qtp.MessageTickerData))

	return b
}

// quotes appends one ticker data message recorded at millis.
func (b *tapeBuilder) quotes(millis int64, symbols ...string) *tapeBuilder {
	b.t.Helper()

	entries := make([]record.Entry, len(symbols))
	for i, s := range symbols {
		entries[i] = quote(s, "1.5", "2.5")
	}

	b.index = AppendTimeLine(b.index, format.TimestampsLong, TimePosition{Time: millis, Position: int64(len(b.data))}, nil)
	var err error
	b.data, err = b.composer.AppendData(b.data, record.Ticker, entries)
	require.NoError(b.t, err)

	return b
}

func (b *tapeBuilder) raw(p []byte) *tapeBuilder {
	b.data = append(b.data, p...)
	return b
}

// save writes the tape and its index next to each other.
func (b *tapeBuilder) save(path string) string {
	b.t.Helper()

	require.NoError(b.t, os.WriteFile(path, b.data, 0o644))
	if len(b.index) > 0 {
		require.NoError(b.t, os.WriteFile(TimeFilePath(path), b.index, 0o644))
	}

	return path
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}

	return names
}

func splitName(dir, prefix string, millis int64, suffix string) string {
	return filepath.Join(dir, prefix+time.UnixMilli(millis).UTC().Format(SplitTimeLayout)+suffix)
}
