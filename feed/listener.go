package feed

import "github.com/devexperts/QD-sub012/record"

// EventListener receives events of the subscribed types and symbols. The
// events slice may be reused once EventsReceived returns. Listeners are
// compared with ==, so use pointer receivers.
type EventListener interface {
	EventsReceived(events []record.Entry)
}

// ChangeListener observes changes of a subscription's symbol set. It is
// called while the subscription lock is held and must not call back into
// the subscription.
type ChangeListener interface {
	// SymbolsAdded receives decorated symbols.
	SymbolsAdded(symbols []any)
	// SymbolsRemoved receives decorated symbols.
	SymbolsRemoved(symbols []any)
	// SubscriptionClosed is called once when the subscription closes.
	SubscriptionClosed()
}

// ChangeAdapter implements ChangeListener with methods that do nothing.
type ChangeAdapter struct{}

func (ChangeAdapter) SymbolsAdded([]any)   {}
func (ChangeAdapter) SymbolsRemoved([]any) {}
func (ChangeAdapter) SubscriptionClosed()  {}

var _ ChangeListener = ChangeAdapter{}
