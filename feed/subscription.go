package feed

import (
	"cmp"
	"fmt"
	"slices"
	"sync"

	"github.com/devexperts/QD-sub012/errs"
	"github.com/devexperts/QD-sub012/record"
)

type symbolEntry struct {
	decorated any
	seq       uint64
}

// Subscription is a set of symbols for a fixed list of event types.
//
// All mutations and the change notifications they cause happen under one
// lock, so every change listener observes the same order of changes. Event
// delivery is serialized separately.
type Subscription struct {
	types []*record.Record

	mu        sync.Mutex
	decorator Decorator
	symbols   map[any]symbolEntry
	seq       uint64
	events    []EventListener
	changes   []ChangeListener
	closed    bool

	deliverMu sync.Mutex
}

// NewSubscription creates a subscription that stores symbols as given.
func NewSubscription(types ...*record.Record) *Subscription {
	return NewDecoratedSubscription(PlainDecorator{}, types...)
}

// NewTimeSeriesSubscription creates a subscription that stores every symbol
// as a TimeSeriesSymbol starting at fromTime.
func NewTimeSeriesSubscription(fromTime int64, types ...*record.Record) *Subscription {
	return NewDecoratedSubscription(TimeWindowDecorator{FromTime: fromTime}, types...)
}

// NewDecoratedSubscription creates a subscription with a custom decorator.
func NewDecoratedSubscription(d Decorator, types ...*record.Record) *Subscription {
	return &Subscription{
		types:     slices.Clone(types),
		decorator: d,
		symbols:   map[any]symbolEntry{},
	}
}

// EventTypes returns the subscribed event types.
func (s *Subscription) EventTypes() []*record.Record {
	return slices.Clone(s.types)
}

// ContainsEventType reports whether events of r are subscribed.
func (s *Subscription) ContainsEventType(r *record.Record) bool {
	return slices.Contains(s.types, r)
}

// IsClosed reports whether Close was called.
func (s *Subscription) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closed
}

// IsAttached reports whether a change listener, usually a feed, observes
// the subscription.
func (s *Subscription) IsAttached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.changes) > 0
}

// Symbols returns the undecorated symbols in the order they were added.
func (s *Subscription) Symbols() []any {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.sortedLocked()
	for i, d := range out {
		out[i] = s.decorator.Undecorate(d)
	}

	return out
}

// DecoratedSymbols returns the stored symbols in the order they were added.
func (s *Subscription) DecoratedSymbols() []any {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.sortedLocked()
}

func (s *Subscription) sortedLocked() []any {
	entries := make([]symbolEntry, 0, len(s.symbols))
	for _, e := range s.symbols {
		entries = append(entries, e)
	}
	slices.SortFunc(entries, func(a, b symbolEntry) int {
		return cmp.Compare(a.seq, b.seq)
	})

	out := make([]any, len(entries))
	for i, e := range entries {
		out[i] = e.decorated
	}

	return out
}

// delta collects the notifications of one mutation.
type delta struct {
	added   []any
	removed []any
	// addedAt maps keys added by this mutation to their index in added.
	addedAt map[any]int
}

func (d *delta) add(k, symbol any) {
	if i, ok := d.addedAt[k]; ok {
		d.added[i] = symbol
		return
	}
	if d.addedAt == nil {
		d.addedAt = map[any]int{}
	}
	d.addedAt[k] = len(d.added)
	d.added = append(d.added, symbol)
}

// putLocked stores decorated under its key. Re-adding a plain symbol keeps
// the stored one silently; a filtered symbol always replaces it.
func (s *Subscription) putLocked(d *delta, decorated any) {
	k := key(decorated)
	if old, ok := s.symbols[k]; ok {
		if !isFiltered(decorated) {
			return
		}
		if _, fresh := d.addedAt[k]; !fresh {
			d.removed = append(d.removed, old.decorated)
		}
		s.symbols[k] = symbolEntry{decorated: decorated, seq: old.seq}
		d.add(k, decorated)

		return
	}
	s.seq++
	s.symbols[k] = symbolEntry{decorated: decorated, seq: s.seq}
	d.add(k, decorated)
}

func (s *Subscription) notifyLocked(d *delta) {
	if len(d.removed) > 0 {
		for _, l := range s.changes {
			l.SymbolsRemoved(d.removed)
		}
	}
	if len(d.added) > 0 {
		for _, l := range s.changes {
			l.SymbolsAdded(d.added)
		}
	}
}

// AddSymbols adds symbols and notifies change listeners of the symbols that
// were actually added or replaced.
func (s *Subscription) AddSymbols(symbols ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var d delta
	for _, sym := range symbols {
		s.putLocked(&d, s.decorator.Decorate(sym))
	}
	s.notifyLocked(&d)
}

// SetSymbols replaces the symbol set.
func (s *Subscription) SetSymbols(symbols ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	decorated := make([]any, len(symbols))
	keep := make(map[any]struct{}, len(symbols))
	for i, sym := range symbols {
		decorated[i] = s.decorator.Decorate(sym)
		keep[key(decorated[i])] = struct{}{}
	}

	var d delta
	for _, old := range s.sortedLocked() {
		k := key(old)
		if _, ok := keep[k]; !ok {
			delete(s.symbols, k)
			d.removed = append(d.removed, old)
		}
	}
	for _, dec := range decorated {
		s.putLocked(&d, dec)
	}
	s.notifyLocked(&d)
}

// RemoveSymbols removes symbols and notifies change listeners of the
// symbols that were present.
func (s *Subscription) RemoveSymbols(symbols ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var d delta
	for _, sym := range symbols {
		k := key(s.decorator.Decorate(sym))
		if old, ok := s.symbols[k]; ok {
			delete(s.symbols, k)
			d.removed = append(d.removed, old.decorated)
		}
	}
	s.notifyLocked(&d)
}

// Clear removes all symbols.
func (s *Subscription) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := delta{removed: s.sortedLocked()}
	clear(s.symbols)
	s.notifyLocked(&d)
}

// SetFromTime changes the start time of a time series subscription and
// re-decorates every symbol, which notifies them as removed and added.
func (s *Subscription) SetFromTime(fromTime int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.decorator.(TimeWindowDecorator); !ok {
		return fmt.Errorf("%w: not a time series subscription", errs.ErrInvalidState)
	}
	dec := TimeWindowDecorator{FromTime: fromTime}
	s.decorator = dec

	var d delta
	for _, old := range s.sortedLocked() {
		s.putLocked(&d, dec.Decorate(key(old)))
	}
	s.notifyLocked(&d)

	return nil
}

// AddEventListener adds an event listener. It fails with
// errs.ErrInvalidState when the subscription is attached and already has
// symbols: events could have been delivered before the listener was added.
func (s *Subscription) AddEventListener(l EventListener) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("%w: subscription is closed", errs.ErrClosed)
	}
	if len(s.changes) > 0 && len(s.symbols) > 0 {
		return fmt.Errorf("%w: add event listeners before symbols to an attached subscription", errs.ErrInvalidState)
	}
	s.events = append(s.events, l)

	return nil
}

// RemoveEventListener removes l.
func (s *Subscription) RemoveEventListener(l EventListener) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = slices.DeleteFunc(s.events, func(x EventListener) bool { return x == l })
}

// AddChangeListener adds l and immediately reports the current symbols to
// it. On a closed subscription l only receives SubscriptionClosed.
func (s *Subscription) AddChangeListener(l ChangeListener) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		l.SubscriptionClosed()
		return
	}
	s.changes = append(s.changes, l)
	if current := s.sortedLocked(); len(current) > 0 {
		l.SymbolsAdded(current)
	}
}

// RemoveChangeListener removes l.
func (s *Subscription) RemoveChangeListener(l ChangeListener) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.changes = slices.DeleteFunc(s.changes, func(x ChangeListener) bool { return x == l })
}

// Close detaches every listener and notifies change listeners once.
// Subsequent calls do nothing.
func (s *Subscription) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	for _, l := range s.changes {
		l.SubscriptionClosed()
	}
	s.changes = nil
	s.events = nil
}

// ProcessEvents delivers events to the event listeners. Deliveries never
// overlap and keep their order.
func (s *Subscription) ProcessEvents(events []record.Entry) {
	if len(events) == 0 {
		return
	}

	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.mu.Lock()
	listeners := slices.Clone(s.events)
	s.mu.Unlock()

	for _, l := range listeners {
		l.EventsReceived(events)
	}
}
