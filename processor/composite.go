package processor

import (
	"sync"
	"sync/atomic"

	"github.com/devexperts/QD-sub012/record"
)

// CompositeProvider retrieves from several providers in round-robin order.
// Each part has an availability flag; the composite listener is signalled
// when a part turns available.
type CompositeProvider struct {
	parts    []*compositePart
	listener atomic.Pointer[record.Listener]

	mu   sync.Mutex
	next int
}

type compositePart struct {
	provider  record.Provider
	available atomic.Bool
}

var _ record.Provider = (*CompositeProvider)(nil)

// NewCompositeProvider combines providers. Nil providers are skipped.
func NewCompositeProvider(providers ...record.Provider) *CompositeProvider {
	c := &CompositeProvider{}
	for _, p := range providers {
		if p != nil {
			c.parts = append(c.parts, &compositePart{provider: p})
		}
	}

	return c
}

func (c *CompositeProvider) Retrieve(sink *record.Buffer) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.parts)
	for i := 0; i < n && !sink.Full(); i++ {
		part := c.parts[(c.next+i)%n]
		if !part.available.Load() {
			continue
		}
		part.available.Store(false)
		if part.provider.Retrieve(sink) {
			part.available.Store(true)
		}
	}
	if n > 0 {
		c.next = (c.next + 1) % n
	}

	for _, part := range c.parts {
		if part.available.Load() {
			return true
		}
	}

	return false
}

// SetListener installs l and subscribes to every part. Parts that signal
// during installation mark themselves available.
func (c *CompositeProvider) SetListener(l record.Listener) {
	if l == nil {
		c.listener.Store(nil)
		for _, part := range c.parts {
			part.provider.SetListener(nil)
		}

		return
	}

	c.listener.Store(&l)
	for _, part := range c.parts {
		part.provider.SetListener(record.ListenerFunc(func(record.Provider) {
			if part.available.Swap(true) {
				return
			}
			if lp := c.listener.Load(); lp != nil {
				(*lp).RecordsAvailable(c)
			}
		}))
	}
}
