package feed

import (
	"fmt"
	"strconv"
)

// Filtered is implemented by symbols that carry a filter which does not take
// part in their identity. Two filtered symbols with equal Unfiltered values
// address the same subscription slot.
type Filtered interface {
	Unfiltered() any
}

// TimeSeriesSymbol subscribes to events of Symbol starting from FromTime,
// in milliseconds since the epoch.
type TimeSeriesSymbol struct {
	Symbol   any
	FromTime int64
}

// Unfiltered returns the wrapped symbol.
func (s TimeSeriesSymbol) Unfiltered() any { return s.Symbol }

func (s TimeSeriesSymbol) String() string {
	return fmt.Sprint(s.Symbol) + "@" + strconv.FormatInt(s.FromTime, 10)
}

// key returns the identity of a decorated symbol.
func key(symbol any) any {
	if f, ok := symbol.(Filtered); ok {
		return f.Unfiltered()
	}

	return symbol
}

func isFiltered(symbol any) bool {
	_, ok := symbol.(Filtered)
	return ok
}

// Decorator converts symbols given by the user into the symbols a
// subscription stores, and back.
type Decorator interface {
	Decorate(symbol any) any
	Undecorate(symbol any) any
}

// PlainDecorator stores symbols as given.
type PlainDecorator struct{}

func (PlainDecorator) Decorate(symbol any) any   { return symbol }
func (PlainDecorator) Undecorate(symbol any) any { return symbol }

// TimeWindowDecorator wraps plain symbols into a TimeSeriesSymbol starting at
// FromTime. TimeSeriesSymbol values are kept unchanged.
type TimeWindowDecorator struct {
	FromTime int64
}

func (d TimeWindowDecorator) Decorate(symbol any) any {
	if _, ok := symbol.(TimeSeriesSymbol); ok {
		return symbol
	}

	return TimeSeriesSymbol{Symbol: symbol, FromTime: d.FromTime}
}

func (TimeWindowDecorator) Undecorate(symbol any) any {
	return key(symbol)
}
