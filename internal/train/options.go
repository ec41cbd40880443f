package train

import (
	"log/slog"

	"github.com/born-ml/trainkit/internal/metrics"
)

type options struct {
	logger *slog.Logger
	store  *metrics.Store
	runID  string
}

// Option configures a Loop or a Trainer.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithStore sets the metrics store batches report into.
func WithStore(store *metrics.Store) Option {
	return func(o *options) {
		o.store = store
	}
}

// WithRunID fixes the trainer run identifier instead of generating one.
func WithRunID(id string) Option {
	return func(o *options) {
		o.runID = id
	}
}

func newOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.store == nil {
		o.store = metrics.NewStore(metrics.WithLogger(o.logger))
	}
	return o
}
