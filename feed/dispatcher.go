package feed

import (
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"

	"github.com/devexperts/QD-sub012/internal/pool"
	"github.com/devexperts/QD-sub012/qtp"
	"github.com/devexperts/QD-sub012/record"
)

type routeKey struct {
	record string
	symbol string
}

type route struct {
	sub      *Subscription
	fromTime int64
}

// Dispatcher routes parsed data messages to attached subscriptions by event
// type and symbol. Time series subscriptions receive only entries at or
// after their symbol's FromTime. It is a qtp.MessageConsumer, so a tape
// reader can feed it directly.
type Dispatcher struct {
	qtp.ConsumerAdapter

	logger *zap.Logger

	mu     sync.RWMutex
	routes map[routeKey][]route
	links  map[*Subscription]*dispatchLink

	batches *pool.SlicePool[record.Entry]
}

var _ qtp.MessageConsumer = (*Dispatcher)(nil)

// NewDispatcher creates a dispatcher without subscriptions. A nil logger
// disables logging.
func NewDispatcher(logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Dispatcher{
		logger:  logger,
		routes:  map[routeKey][]route{},
		links:   map[*Subscription]*dispatchLink{},
		batches: pool.NewSlicePool[record.Entry](),
	}
}

// Attach starts routing events to sub. Attaching twice does nothing.
func (d *Dispatcher) Attach(sub *Subscription) {
	d.mu.Lock()
	if _, ok := d.links[sub]; ok {
		d.mu.Unlock()
		return
	}
	link := &dispatchLink{d: d, sub: sub}
	d.links[sub] = link
	d.mu.Unlock()

	sub.AddChangeListener(link)
}

// Detach stops routing events to sub.
func (d *Dispatcher) Detach(sub *Subscription) {
	d.mu.Lock()
	link, ok := d.links[sub]
	delete(d.links, sub)
	d.mu.Unlock()

	if ok {
		sub.RemoveChangeListener(link)
		d.unroute(sub, nil)
	}
}

// Subscriptions returns the number of attached subscriptions.
func (d *Dispatcher) Subscriptions() int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return len(d.links)
}

// HandleData delivers entries to matching subscriptions, one batch per
// subscription in stream order.
func (d *Dispatcher) HandleData(_ record.Contract, entries []record.Entry) {
	var order []*Subscription
	targets := map[*Subscription][]record.Entry{}
	var releases []func()

	d.mu.RLock()
	for i := range entries {
		e := &entries[i]
		if e.Record == nil {
			continue
		}
		for _, r := range d.routes[routeKey{record: e.Record.Name, symbol: e.Symbol}] {
			if e.EventTime < r.fromTime {
				continue
			}
			batch, ok := targets[r.sub]
			if !ok {
				var release func()
				batch, release = d.batches.Get(len(entries))
				releases = append(releases, release)
				order = append(order, r.sub)
			}
			targets[r.sub] = append(batch, *e)
		}
	}
	d.mu.RUnlock()

	for _, sub := range order {
		sub.ProcessEvents(targets[sub])
	}
	for _, release := range releases {
		release()
	}
}

func (d *Dispatcher) route(sub *Subscription, symbols []any) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, sym := range symbols {
		name, fromTime := routeSymbol(sym)
		for _, t := range sub.types {
			k := routeKey{record: t.Name, symbol: name}
			d.routes[k] = append(d.routes[k], route{sub: sub, fromTime: fromTime})
		}
	}
}

// unroute removes routes of sub for symbols, or all of them when symbols is nil.
func (d *Dispatcher) unroute(sub *Subscription, symbols []any) {
	d.mu.Lock()
	defer d.mu.Unlock()

	remove := func(k routeKey) {
		rs := d.routes[k]
		kept := rs[:0]
		for _, r := range rs {
			if r.sub != sub {
				kept = append(kept, r)
			}
		}
		clear(rs[len(kept):])
		if len(kept) == 0 {
			delete(d.routes, k)
			return
		}
		d.routes[k] = kept
	}

	if symbols == nil {
		for k := range d.routes {
			remove(k)
		}

		return
	}
	for _, sym := range symbols {
		name, _ := routeSymbol(sym)
		for _, t := range sub.types {
			remove(routeKey{record: t.Name, symbol: name})
		}
	}
}

// routeSymbol returns the entry symbol and the earliest event time routed
// for a decorated symbol.
func routeSymbol(sym any) (string, int64) {
	fromTime := int64(math.MinInt64)
	if ts, ok := sym.(TimeSeriesSymbol); ok {
		fromTime = ts.FromTime
	}
	switch s := key(sym).(type) {
	case string:
		return s, fromTime
	case fmt.Stringer:
		return s.String(), fromTime
	default:
		return fmt.Sprint(s), fromTime
	}
}

// dispatchLink keeps the routes of one subscription current.
type dispatchLink struct {
	d   *Dispatcher
	sub *Subscription
}

func (l *dispatchLink) SymbolsAdded(symbols []any) {
	l.d.route(l.sub, symbols)
}

func (l *dispatchLink) SymbolsRemoved(symbols []any) {
	l.d.unroute(l.sub, symbols)
}

func (l *dispatchLink) SubscriptionClosed() {
	l.d.mu.Lock()
	delete(l.d.links, l.sub)
	l.d.mu.Unlock()

	l.d.unroute(l.sub, nil)
	l.d.logger.Debug("subscription closed, routes removed", zap.Int("types", len(l.sub.types)))
}
