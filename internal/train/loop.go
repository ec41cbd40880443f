// Package train drives a compiled model through a cooperative, pausable
// training loop.
//
// A Loop never runs on its own. The host advances it with Step, which returns
// at the next suspension point: a false pause flag before a batch, or a
// terminal state.
package train

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/born-ml/trainkit/internal/batch"
	"github.com/born-ml/trainkit/internal/engine"
	"github.com/born-ml/trainkit/internal/metrics"
)

// ValidationPrefix is prepended to the names of validation metrics.
const ValidationPrefix = "validation-"

var (
	// ErrStepInProgress is returned when Step is called while another Step
	// on the same loop has not returned.
	ErrStepInProgress = errors.New("train: step already in progress")
	// ErrInvalidConfig is returned by the first Step of a loop whose Config
	// cannot drive training.
	ErrInvalidConfig = errors.New("train: invalid configuration")
)

// State is the position of a Loop in its lifecycle.
type State int

const (
	Idle State = iota
	Running
	Suspended
	Completed
	Failed
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Suspended:
		return "suspended"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether no further progress is possible.
func (s State) Terminal() bool {
	return s == Completed || s == Failed
}

// Model is what the loop needs from a compiled model. Batches are stacked
// on the model's Backend, whose tape records the fit.
type Model interface {
	Fit(ctx context.Context, b *batch.Batch) (metrics.Logs, error)
	Evaluate(ctx context.Context, b *batch.Batch) ([]float64, error)
	MetricsNames() []string
	Backend() engine.Backend
}

// Flag is the host-owned pause flag. The loop only reads it.
type Flag interface {
	Load() bool
}

// Config describes one training run.
type Config struct {
	Epochs    int
	BatchSize int
	// Samples is the number of samples per epoch. Each epoch runs
	// ceil(Samples/BatchSize) batches.
	Samples int

	// TrainData is called once per epoch for a fresh source.
	TrainData batch.Factory
	// ValidationData, when set, is drained into one batch after every epoch.
	ValidationData batch.Factory

	// Display enables the per-batch frame yield.
	Display bool
	// Train gates every batch: false suspends the loop.
	Train Flag

	OnBatchEnd func(logs metrics.Logs, m Model)
	OnTrainEnd func(m Model)

	// Frame renders after a batch when Display is set. The loop yields the
	// processor before calling it.
	Frame func()
}

func (c Config) validate() error {
	switch {
	case c.Epochs <= 0:
		return fmt.Errorf("%w: epochs must be positive, got %d", ErrInvalidConfig, c.Epochs)
	case c.BatchSize <= 0:
		return fmt.Errorf("%w: batchSize must be positive, got %d", ErrInvalidConfig, c.BatchSize)
	case c.Samples <= 0:
		return fmt.Errorf("%w: samples must be positive, got %d", ErrInvalidConfig, c.Samples)
	case c.TrainData == nil:
		return fmt.Errorf("%w: trainData is required", ErrInvalidConfig)
	case c.Train == nil:
		return fmt.Errorf("%w: train flag is required", ErrInvalidConfig)
	}
	return nil
}

// BatchesPerEpoch returns ceil(Samples/BatchSize).
func (c Config) BatchesPerEpoch() int {
	if c.BatchSize <= 0 {
		return 0
	}
	return (c.Samples + c.BatchSize - 1) / c.BatchSize
}

// Loop is the training state machine for one compiled model.
type Loop struct {
	model  Model
	cfg    Config
	store  *metrics.Store
	logger *slog.Logger

	stepping atomic.Bool

	mu     sync.RWMutex
	state  State
	epoch  int
	batch  int
	err    error
	source batch.Source
}

// NewLoop creates an Idle loop for m.
func NewLoop(m Model, cfg Config, opts ...Option) *Loop {
	o := newOptions(opts)
	return &Loop{
		model:  m,
		cfg:    cfg,
		store:  o.store,
		logger: o.logger,
	}
}

// Store returns the metrics store the loop pushes into.
func (l *Loop) Store() *metrics.Store {
	return l.store
}

// State returns the current state.
func (l *Loop) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Epoch returns the zero-based epoch in progress.
func (l *Loop) Epoch() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.epoch
}

// Batch returns the number of batches completed in the current epoch.
func (l *Loop) Batch() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.batch
}

// Err returns the error that failed the loop.
func (l *Loop) Err() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.err
}

// Step advances the loop to its next suspension point or terminal state and
// returns the state reached. A failed loop returns its error on every call.
func (l *Loop) Step(ctx context.Context) (State, error) {
	if !l.stepping.CompareAndSwap(false, true) {
		return l.State(), ErrStepInProgress
	}
	defer l.stepping.Store(false)

	switch state := l.State(); state {
	case Completed:
		return state, nil
	case Failed:
		return state, l.Err()
	case Idle:
		if err := l.cfg.validate(); err != nil {
			return l.fail(err)
		}
	}

	if err := l.run(ctx); err != nil {
		return l.fail(err)
	}
	return l.State(), nil
}

func (l *Loop) run(ctx context.Context) error {
	perEpoch := l.cfg.BatchesPerEpoch()

	for l.Epoch() < l.cfg.Epochs {
		if l.source == nil {
			l.source = l.cfg.TrainData()
		}

		for l.Batch() < perEpoch {
			if !l.cfg.Train.Load() {
				l.setState(Suspended)
				l.logger.Debug("training suspended", "epoch", l.Epoch(), "batch", l.Batch())
				return nil
			}
			l.setState(Running)

			if err := ctx.Err(); err != nil {
				return err
			}
			if err := l.fitBatch(ctx); err != nil {
				return err
			}
		}

		if l.cfg.ValidationData != nil {
			if err := l.validate(ctx); err != nil {
				return err
			}
		}

		l.mu.Lock()
		l.epoch++
		l.batch = 0
		l.mu.Unlock()
		l.source = nil
	}

	l.setState(Completed)
	l.logger.Info("training completed", "epochs", l.cfg.Epochs)
	if l.cfg.OnTrainEnd != nil {
		l.cfg.OnTrainEnd(l.model)
	}
	return nil
}

func (l *Loop) fitBatch(ctx context.Context) error {
	epoch, index := l.Epoch(), l.Batch()

	b, err := batch.Assemble(l.source, l.cfg.BatchSize, l.model.Backend())
	if err != nil {
		return fmt.Errorf("epoch %d batch %d: %w", epoch, index, err)
	}
	logs, err := l.model.Fit(ctx, b)
	b.Release()
	if err != nil {
		return fmt.Errorf("epoch %d batch %d: %w", epoch, index, err)
	}

	l.mu.Lock()
	l.batch++
	l.mu.Unlock()

	if l.cfg.OnBatchEnd != nil {
		l.cfg.OnBatchEnd(logs, l.model)
	}
	l.store.Push(logs)
	l.logger.Debug("batch done", "epoch", epoch, "batch", index, "size", b.Size(), "loss", logs["loss"])

	if l.cfg.Display {
		runtime.Gosched()
		if l.cfg.Frame != nil {
			l.cfg.Frame()
		}
	}
	return nil
}

// validate evaluates the whole validation set as one batch. It does not
// consult the pause flag.
func (l *Loop) validate(ctx context.Context) error {
	epoch := l.Epoch()

	b, err := batch.Assemble(l.cfg.ValidationData(), batch.Unbounded, l.model.Backend())
	if err != nil {
		return fmt.Errorf("epoch %d validation: %w", epoch, err)
	}
	values, err := l.model.Evaluate(ctx, b)
	b.Release()
	if err != nil {
		return fmt.Errorf("epoch %d validation: %w", epoch, err)
	}

	names := l.model.MetricsNames()
	logs := make(metrics.Logs, len(values))
	for i, v := range values {
		if i >= len(names) {
			break
		}
		logs[ValidationPrefix+names[i]] = v
	}
	l.store.Push(logs)
	l.logger.Info("validation done", "epoch", epoch, "samples", b.Size())
	return nil
}

func (l *Loop) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

func (l *Loop) fail(err error) (State, error) {
	l.mu.Lock()
	l.state = Failed
	l.err = err
	l.mu.Unlock()
	l.logger.Error("training failed", "epoch", l.Epoch(), "batch", l.Batch(), "err", err)
	return Failed, err
}
