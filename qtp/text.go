package qtp

import (
	"bytes"
	"encoding/base64"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"

	"github.com/devexperts/QD-sub012/decimal"
	"github.com/devexperts/QD-sub012/errs"
	"github.com/devexperts/QD-sub012/record"
)

// Column names of the fixed columns of a text record description.
const (
	columnSymbol   = "EventSymbol"
	columnTime     = "EventTime"
	columnSequence = "EventSequence"
)

// dialect distinguishes tab separated text from CSV. CSV control lines are
// prefixed with '#' so that spreadsheet tools treat them as comments.
type dialect struct {
	control string
	csv     bool
}

var (
	textDialect = &dialect{}
	csvDialect  = &dialect{control: "#", csv: true}
)

func (d *dialect) appendLine(dst []byte, fields []string) []byte {
	if !d.csv {
		dst = append(dst, strings.Join(fields, "\t")...)
		return append(dst, '\n')
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write(fields)
	w.Flush()

	return append(dst, buf.Bytes()...)
}

func (d *dialect) splitLine(line string) ([]string, error) {
	if !d.csv {
		return strings.Split(line, "\t"), nil
	}
	r := csv.NewReader(strings.NewReader(line))
	r.FieldsPerRecord = -1

	return r.Read()
}

var escaper = strings.NewReplacer(`\`, `\\`, "\t", `\t`, "\n", `\n`, "\r", `\r`)

func escape(s string) string {
	return escaper.Replace(s)
}

func unescape(s string) (string, error) {
	if !strings.Contains(s, `\`) {
		return s, nil
	}

	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' {
			b.WriteByte(s[i])
			continue
		}
		i++
		if i == len(s) {
			return "", fmt.Errorf("dangling escape in %q", s)
		}
		switch s[i] {
		case '\\':
			b.WriteByte('\\')
		case 't':
			b.WriteByte('\t')
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		default:
			return "", fmt.Errorf("unknown escape \\%c in %q", s[i], s)
		}
	}

	return b.String(), nil
}

type textComposer struct {
	cfg       *composerConfig
	d         *dialect
	described described
	current   MessageType
	fields    []string
}

func newTextComposer(cfg *composerConfig, d *dialect) *textComposer {
	return &textComposer{cfg: cfg, d: d, described: described{}, current: -1}
}

func (c *textComposer) ResetSession() {
	clear(c.described)
	c.current = -1
}

func (c *textComposer) control(dst []byte, head string, rest ...string) []byte {
	c.fields = append(c.fields[:0], c.d.control+head)
	c.fields = append(c.fields, rest...)

	return c.d.appendLine(dst, c.fields)
}

func (c *textComposer) AppendDescribeProtocol(dst []byte, desc *ProtocolDescriptor) []byte {
	rest := make([]string, 0, len(desc.Properties)+1)
	if len(desc.Send) > 0 {
		names := make([]string, len(desc.Send))
		for i, t := range desc.Send {
			names[i] = t.String()
		}
		rest = append(rest, "send="+strings.Join(names, ","))
	}
	for _, k := range desc.sortedKeys() {
		rest = append(rest, k+"="+desc.Properties[k])
	}

	return c.control(dst, "=="+MessageDescribeProtocol.String(), rest...)
}

func (c *textComposer) AppendHeartbeat(dst []byte, hb Heartbeat) []byte {
	if !hb.HasTime {
		return c.control(dst, "=="+MessageHeartbeat.String())
	}

	return c.control(dst, "=="+MessageHeartbeat.String(), strconv.FormatInt(hb.TimeMillis, 10))
}

func (c *textComposer) describe(dst []byte, entries []record.Entry) []byte {
	for _, r := range c.described.missing(entries) {
		cols := []string{columnSymbol}
		if c.cfg.timeField {
			cols = append(cols, columnTime, columnSequence)
		}
		for _, f := range r.Fields {
			cols = append(cols, f.Name+":"+f.Type.String())
		}
		dst = c.control(dst, "="+r.Name, cols...)
	}

	return dst
}

func (c *textComposer) switchTo(dst []byte, t MessageType) []byte {
	if c.current == t {
		return dst
	}
	c.current = t

	return c.control(dst, "=="+t.String())
}

func (c *textComposer) AppendData(dst []byte, ct record.Contract, entries []record.Entry) ([]byte, error) {
	for i := range entries {
		if err := checkValues(&entries[i]); err != nil {
			return dst, err
		}
	}
	if len(entries) == 0 {
		return dst, nil
	}
	dst = c.describe(dst, entries)
	dst = c.switchTo(dst, DataMessage(ct))

	for i := range entries {
		e := &entries[i]
		c.fields = append(c.fields[:0], e.Record.Name, escape(e.Symbol))
		if c.cfg.timeField {
			c.fields = append(c.fields,
				strconv.FormatInt(e.EventTime, 10),
				strconv.FormatInt(int64(e.EventSequence), 10))
		}
		for j, f := range e.Record.Fields {
			c.fields = append(c.fields, formatValue(f.Type, e.Values[j]))
		}
		dst = c.d.appendLine(dst, c.fields)
	}

	return dst, nil
}

func (c *textComposer) AppendSubscription(dst []byte, ct record.Contract, add bool, entries []record.Entry) ([]byte, error) {
	if len(entries) == 0 {
		return dst, nil
	}
	dst = c.describe(dst, entries)
	t := SubscriptionMessage(ct, add)
	dst = c.switchTo(dst, t)

	for i := range entries {
		e := &entries[i]
		c.fields = append(c.fields[:0], e.Record.Name, escape(e.Symbol))
		if t == MessageHistoryAddSubscription {
			c.fields = append(c.fields, strconv.FormatInt(e.EventTime, 10))
		}
		dst = c.d.appendLine(dst, c.fields)
	}

	return dst, nil
}

func formatValue(t record.FieldType, v record.Value) string {
	switch t {
	case record.FieldDecimal:
		return v.Decimal().String()
	case record.FieldString:
		return escape(v.Str)
	case record.FieldBytes:
		return base64.StdEncoding.EncodeToString(v.Bytes)
	case record.FieldInt:
		return strconv.FormatInt(int64(int32(v.Int)), 10) //nolint:gosec
	default:
		return strconv.FormatInt(v.Int, 10)
	}
}

func parseValue(t record.FieldType, s string) (record.Value, error) {
	switch t {
	case record.FieldDecimal:
		d, err := decimal.Parse(s)
		return record.DecimalValue(d), err
	case record.FieldString:
		u, err := unescape(s)
		return record.StringValue(u), err
	case record.FieldBytes:
		b, err := base64.StdEncoding.DecodeString(s)
		return record.BytesValue(b), err
	case record.FieldInt:
		v, err := strconv.ParseInt(s, 10, 32)
		return record.IntValue(v), err
	default:
		v, err := strconv.ParseInt(s, 10, 64)
		return record.IntValue(v), err
	}
}

// textLayout is the column layout of a described record.
type textLayout struct {
	rec      *record.Record
	timeCols bool
}

type textParser struct {
	cfg     *parserConfig
	d       *dialect
	in      inputBuffer
	records *recordTable
	layouts map[string]textLayout
	current MessageType
	failed  error
	eof     bool
}

func newTextParser(cfg *parserConfig, d *dialect) *textParser {
	return &textParser{
		cfg:     cfg,
		d:       d,
		records: newRecordTable(cfg),
		layouts: map[string]textLayout{},
		current: MessageTickerData,
	}
}

func (p *textParser) Feed(data []byte) {
	p.in.feed(data)
	p.eof = false
}

func (p *textParser) Finish() {
	p.eof = true
}

func (p *textParser) Pending() int {
	return p.in.pending()
}

func (p *textParser) ResetSession() {
	p.in.reset()
	p.records.reset()
	clear(p.layouts)
	p.current = MessageTickerData
	p.failed = nil
	p.eof = false
}

func (p *textParser) Next() Result {
	if p.failed != nil {
		return Result{Outcome: Fatal, Err: p.failed}
	}

	for {
		rest := p.in.buf[p.in.off:]
		end := bytes.IndexByte(rest, '\n')
		next := end + 1
		if end < 0 {
			if !p.eof || len(rest) == 0 {
				return Result{Outcome: NeedMore}
			}
			end, next = len(rest), len(rest)
		}
		pos := p.in.position()
		line := string(bytes.TrimSuffix(rest[:end], []byte{'\r'}))
		p.in.off += next

		msg, ok, err := p.parseLine(line)
		if err != nil && end == next {
			// A broken unterminated last line is a truncated message.
			p.in.off -= next
			return Result{Outcome: NeedMore}
		}
		if err != nil {
			p.failed = fmt.Errorf("%w at position %d: %w", errs.ErrCorruptedStream, pos, err)
			return Result{Outcome: Fatal, Err: p.failed}
		}
		if ok {
			msg.Position = pos
			return Result{Outcome: Parsed, Message: msg}
		}
	}
}

// parseLine returns ok == false for lines that produce no message.
func (p *textParser) parseLine(line string) (Message, bool, error) {
	if line == "" {
		return Message{}, false, nil
	}
	if p.d.control != "" {
		if !strings.HasPrefix(line, p.d.control) {
			return p.parseEntry(line)
		}
		line = line[len(p.d.control):]
		if !strings.HasPrefix(line, "=") {
			return Message{}, false, nil
		}
	}
	if !strings.HasPrefix(line, "=") {
		return p.parseEntry(line)
	}

	fields, err := p.d.splitLine(line)
	if err != nil {
		return Message{}, false, err
	}
	head := fields[0]
	if strings.HasPrefix(head, "==") {
		return p.parseControl(head[2:], fields[1:])
	}

	return p.parseDescription(head[1:], fields[1:])
}

func (p *textParser) parseControl(name string, args []string) (Message, bool, error) {
	t, err := ParseMessageType(name)
	if err != nil {
		return Message{}, false, err
	}

	switch {
	case t == MessageDescribeProtocol:
		desc := NewProtocolDescriptor()
		for _, kv := range args {
			k, v, _ := strings.Cut(kv, "=")
			if k != "send" {
				desc.SetProperty(k, v)
				continue
			}
			for _, s := range strings.Split(v, ",") {
				st, err := ParseMessageType(s)
				if err != nil {
					return Message{}, false, err
				}
				desc.Send = append(desc.Send, st)
			}
		}

		return Message{Type: t, Protocol: desc}, true, nil
	case t == MessageHeartbeat:
		msg := Message{Type: t}
		if len(args) > 0 && args[0] != "" {
			millis, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return Message{}, false, fmt.Errorf("%w: heartbeat time %q", errs.ErrCorruptedMessage, args[0])
			}
			msg.Heartbeat = Heartbeat{TimeMillis: millis, HasTime: true}
		}

		return msg, true, nil
	case t.IsData() || t.IsSubscription():
		p.current = t
		return Message{}, false, nil
	default:
		return Message{}, false, fmt.Errorf("%w: %s cannot appear in text", errs.ErrUnknownMessage, t)
	}
}

func (p *textParser) parseDescription(name string, cols []string) (Message, bool, error) {
	if len(cols) == 0 || cols[0] != columnSymbol {
		return Message{}, false, fmt.Errorf("%w: description of %s must start with %s", errs.ErrCorruptedMessage, name, columnSymbol)
	}
	cols = cols[1:]

	timeCols := false
	if len(cols) >= 2 && cols[0] == columnTime && cols[1] == columnSequence {
		timeCols = true
		cols = cols[2:]
	}

	r := &record.Record{Name: name, ID: -1}
	if local, ok := p.cfg.scheme.ByName(name); ok {
		r.ID = local.ID
		r.TimeSeries = local.TimeSeries
	}
	for _, col := range cols {
		fieldName, typeName, found := strings.Cut(col, ":")
		f := record.Field{Name: fieldName, Type: record.FieldString}
		if found {
			ft, err := record.ParseFieldType(typeName)
			if err != nil {
				return Message{}, false, fmt.Errorf("%w: %w", errs.ErrCorruptedMessage, err)
			}
			f.Type = ft
		}
		r.Fields = append(r.Fields, f)
	}

	learned := p.records.learn([]*record.Record{r})
	p.layouts[name] = textLayout{rec: learned[0], timeCols: timeCols}

	return Message{Type: MessageDescribeRecords, Records: learned}, true, nil
}

func (p *textParser) layout(name string) (textLayout, error) {
	if !p.cfg.schemeKnown {
		if l, ok := p.layouts[name]; ok {
			return l, nil
		}
	}
	r, err := p.records.byName(name)
	if err != nil {
		return textLayout{}, err
	}
	timeCols := p.cfg.timeField
	if l, ok := p.layouts[name]; ok {
		timeCols = l.timeCols
	}

	return textLayout{rec: r, timeCols: timeCols}, nil
}

func (p *textParser) parseEntry(line string) (Message, bool, error) {
	cols, err := p.d.splitLine(line)
	if err != nil {
		return Message{}, false, err
	}
	if len(cols) < 2 {
		return Message{}, false, fmt.Errorf("%w: line %q has no symbol", errs.ErrCorruptedMessage, line)
	}

	l, err := p.layout(cols[0])
	if err != nil {
		return Message{}, false, err
	}
	symbol, err := unescape(cols[1])
	if err != nil {
		return Message{}, false, fmt.Errorf("%w: %w", errs.ErrCorruptedMessage, err)
	}
	e := record.Entry{Record: l.rec, Symbol: symbol}
	cols = cols[2:]

	t := p.current
	if t.IsData() {
		if l.timeCols {
			if len(cols) < 2 {
				return Message{}, false, fmt.Errorf("%w: %s line for %q misses time columns", errs.ErrCorruptedMessage, l.rec.Name, symbol)
			}
			if e.EventTime, err = strconv.ParseInt(cols[0], 10, 64); err != nil {
				return Message{}, false, fmt.Errorf("%w: %s: %w", errs.ErrCorruptedMessage, columnTime, err)
			}
			seq, err := strconv.ParseInt(cols[1], 10, 32)
			if err != nil {
				return Message{}, false, fmt.Errorf("%w: %s: %w", errs.ErrCorruptedMessage, columnSequence, err)
			}
			e.EventSequence = int32(seq)
			cols = cols[2:]
		}
		if len(cols) != len(l.rec.Fields) {
			return Message{}, false, fmt.Errorf("%w: %s line for %q has %d values, want %d",
				errs.ErrCorruptedMessage, l.rec.Name, symbol, len(cols), len(l.rec.Fields))
		}
		e.Values = make([]record.Value, len(cols))
		for j, f := range l.rec.Fields {
			v, err := parseValue(f.Type, cols[j])
			if err != nil {
				return Message{}, false, fmt.Errorf("%w: %s.%s: %w", errs.ErrCorruptedMessage, l.rec.Name, f.Name, err)
			}
			e.Values[j] = v
		}
	} else if t == MessageHistoryAddSubscription && len(cols) > 0 {
		if e.EventTime, err = strconv.ParseInt(cols[0], 10, 64); err != nil {
			return Message{}, false, fmt.Errorf("%w: subscription time: %w", errs.ErrCorruptedMessage, err)
		}
	}

	return Message{Type: t, Entries: []record.Entry{e}}, true, nil
}
