package record

import (
	"github.com/devexperts/QD-sub012/decimal"
)

// Value holds one field value. Int, Long and Decimal fields use Int
// (decimals as their packed bits), String fields use Str and Bytes fields
// use Bytes.
type Value struct {
	Int   int64
	Str   string
	Bytes []byte
}

// IntValue returns a value for an int or long field.
func IntValue(v int64) Value { return Value{Int: v} }

// DecimalValue returns a value for a decimal field.
func DecimalValue(d decimal.Decimal) Value { return Value{Int: int64(d)} }

// StringValue returns a value for a string field.
func StringValue(s string) Value { return Value{Str: s} }

// BytesValue returns a value for a byte array field.
func BytesValue(b []byte) Value { return Value{Bytes: b} }

// Decimal interprets the value as a packed decimal.
func (v Value) Decimal() decimal.Decimal {
	return decimal.Decimal(v.Int) //nolint:gosec
}

// Entry is one record of one symbol. Data entries carry field values;
// subscription entries carry none, and history subscriptions use EventTime
// as the requested start time.
type Entry struct {
	Record        *Record
	Symbol        string
	EventTime     int64 // milliseconds since the epoch
	EventSequence int32
	Values        []Value
}

// Value returns the value of the named field and whether the field exists.
func (e *Entry) Value(field string) (Value, bool) {
	i := e.Record.FieldIndex(field)
	if i < 0 || i >= len(e.Values) {
		return Value{}, false
	}

	return e.Values[i], true
}

// Contract is the delivery contract of a data or subscription stream.
type Contract uint8

const (
	Ticker  Contract = 0x1 // Ticker keeps the last value per symbol.
	Stream  Contract = 0x2 // Stream delivers every event.
	History Contract = 0x3 // History delivers time-series snapshots.
)

// Contracts lists every contract in processing order.
var Contracts = [...]Contract{Ticker, Stream, History}

func (c Contract) String() string {
	switch c {
	case Ticker:
		return "ticker"
	case Stream:
		return "stream"
	case History:
		return "history"
	default:
		return "unknown"
	}
}
