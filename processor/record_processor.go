package processor

import (
	"fmt"

	"github.com/devexperts/QD-sub012/errs"
	"github.com/devexperts/QD-sub012/record"
)

// DataHandler processes batches of data entries.
type DataHandler interface {
	// ProcessData handles one batch. buf is reused after the call returns.
	ProcessData(c record.Contract, buf *record.Buffer)
}

// DataHandlerFunc adapts a function to DataHandler.
type DataHandlerFunc func(c record.Contract, buf *record.Buffer)

func (f DataHandlerFunc) ProcessData(c record.Contract, buf *record.Buffer) { f(c, buf) }

// RecordProcessor drains data providers, one per contract, into a DataHandler.
type RecordProcessor struct {
	e       *engine
	handler DataHandler
}

// NewRecordProcessor creates a processor that runs its task on exec.
func NewRecordProcessor(exec Executor, h DataHandler, opts ...Option) (*RecordProcessor, error) {
	if exec == nil || h == nil {
		return nil, fmt.Errorf("%w: record processor needs an executor and a handler", errs.ErrInvalidArgument)
	}
	cfg, err := newConfig("records", opts)
	if err != nil {
		return nil, err
	}

	return &RecordProcessor{e: newEngine(cfg, exec, h), handler: h}, nil
}

// Start installs listeners on providers and schedules the first step.
// Contracts without a provider are skipped. A second call fails with
// errs.ErrInvalidState.
func (p *RecordProcessor) Start(providers map[record.Contract]record.Provider) error {
	var slots []*slot
	for _, c := range record.Contracts {
		pr := providers[c]
		if pr == nil {
			continue
		}
		slots = append(slots, &slot{provider: pr, process: func(buf *record.Buffer) {
			p.handler.ProcessData(c, buf)
		}})
	}

	return p.e.start(slots)
}

// Stop removes the provider listeners. A step in flight completes.
func (p *RecordProcessor) Stop() {
	p.e.stop()
}
