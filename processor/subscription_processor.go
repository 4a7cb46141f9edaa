package processor

import (
	"fmt"

	"github.com/devexperts/QD-sub012/errs"
	"github.com/devexperts/QD-sub012/record"
)

// SubscriptionHandler processes batches of subscription changes.
type SubscriptionHandler interface {
	ProcessSubscription(c record.Contract, added bool, buf *record.Buffer)
}

// SubscriptionHandlerFunc adapts a function to SubscriptionHandler.
type SubscriptionHandlerFunc func(c record.Contract, added bool, buf *record.Buffer)

func (f SubscriptionHandlerFunc) ProcessSubscription(c record.Contract, added bool, buf *record.Buffer) {
	f(c, added, buf)
}

// SubscriptionProcessor drains added and removed subscription providers into
// a SubscriptionHandler.
type SubscriptionProcessor struct {
	e       *engine
	handler SubscriptionHandler
}

// NewSubscriptionProcessor creates a processor that runs its task on exec.
func NewSubscriptionProcessor(exec Executor, h SubscriptionHandler, opts ...Option) (*SubscriptionProcessor, error) {
	if exec == nil || h == nil {
		return nil, fmt.Errorf("%w: subscription processor needs an executor and a handler", errs.ErrInvalidArgument)
	}
	cfg, err := newConfig("subscription", opts)
	if err != nil {
		return nil, err
	}

	return &SubscriptionProcessor{e: newEngine(cfg, exec, h), handler: h}, nil
}

// Start installs listeners on the providers. Removals of a contract are
// drained before its additions within one step.
func (p *SubscriptionProcessor) Start(added, removed map[record.Contract]record.Provider) error {
	var slots []*slot
	for _, c := range record.Contracts {
		if pr := removed[c]; pr != nil {
			slots = append(slots, &slot{provider: pr, process: func(buf *record.Buffer) {
				p.handler.ProcessSubscription(c, false, buf)
			}})
		}
		if pr := added[c]; pr != nil {
			slots = append(slots, &slot{provider: pr, process: func(buf *record.Buffer) {
				p.handler.ProcessSubscription(c, true, buf)
			}})
		}
	}

	return p.e.start(slots)
}

// Stop removes the provider listeners.
func (p *SubscriptionProcessor) Stop() {
	p.e.stop()
}
