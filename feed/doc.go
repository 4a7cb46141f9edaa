// Package feed keeps the symbol sets of subscriptions and routes events to
// them.
//
// A Subscription notifies its change listeners synchronously, under its
// lock, about every symbol it gains or loses. Plain symbols are compared by
// value: adding an equal symbol again changes nothing. Filtered symbols such
// as TimeSeriesSymbol are keyed by their unfiltered part, and adding one
// always replaces the stored symbol, which is reported as a removal followed
// by an addition.
//
//	sub := feed.NewTimeSeriesSubscription(100, tradeRecord)
//	_ = sub.AddEventListener(listener)
//	dispatcher.Attach(sub)
//	sub.AddSymbols("AAPL")
//
// Event listeners must be added before symbols once a subscription is
// attached, otherwise events could be missed; AddEventListener reports this
// with errs.ErrInvalidState.
package feed
