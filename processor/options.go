package processor

import (
	"fmt"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/devexperts/QD-sub012/errs"
	"github.com/devexperts/QD-sub012/internal/options"
	"github.com/devexperts/QD-sub012/record"
)

type config struct {
	name      string
	logger    *zap.Logger
	batchSize int
	backoff   backoff.BackOff
}

func newConfig(name string, opts []Option) (*config, error) {
	cfg := &config{name: name, logger: zap.NewNop(), batchSize: record.DefaultCapacity}
	if err := options.Apply(cfg, opts...); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Option configures a processor.
type Option = options.Option[*config]

// WithName names the processor in log entries.
func WithName(name string) Option {
	return options.NoError(func(c *config) {
		c.name = name
	})
}

// WithLogger sets the logger. A nil logger disables logging.
func WithLogger(l *zap.Logger) Option {
	return options.NoError(func(c *config) {
		if l == nil {
			l = zap.NewNop()
		}
		c.logger = l
	})
}

// WithBatchSize bounds the number of entries retrieved from one provider in
// one step.
func WithBatchSize(n int) Option {
	return options.New(func(c *config) error {
		if n <= 0 {
			return fmt.Errorf("%w: batch size %d", errs.ErrInvalidArgument, n)
		}
		c.batchSize = n

		return nil
	})
}

// WithFailureBackoff delays the reschedule that follows a handler panic by
// b.NextBackOff(). The policy is reset after every successful step. When b
// returns backoff.Stop the processor goes idle until the next signal.
//
// Without it the processor reschedules immediately.
func WithFailureBackoff(b backoff.BackOff) Option {
	return options.NoError(func(c *config) {
		c.backoff = b
	})
}
