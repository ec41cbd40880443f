package train

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/born-ml/trainkit/internal/metrics"
)

// Status is a point-in-time view of a Trainer.
type Status struct {
	RunID    string   `json:"runId"`
	State    State    `json:"state"`
	Train    bool     `json:"train"`
	Epoch    int      `json:"epoch"`
	Epochs   int      `json:"epochs"`
	Batch    int      `json:"batch"`
	Batches  int      `json:"batchesPerEpoch"`
	Compiled bool     `json:"compiled"`
	Compiles int      `json:"compiles"`
	Metrics  []string `json:"metrics"`
	Error    string   `json:"error,omitempty"`
}

// Trainer hosts training loops. It owns the pause flag and the metrics
// store, and advances the current loop from Run on the initial kick and on
// every resume.
//
// A compiled model is handed over with OnCompile. A recompile replaces the
// loop; metric history is kept.
type Trainer struct {
	cfg    Config
	store  *metrics.Store
	logger *slog.Logger
	runID  string

	train   atomic.Bool
	signals chan struct{}

	mu       sync.Mutex
	loop     *Loop
	compiles int
}

// NewTrainer creates a Trainer running cfg for every compiled model.
// cfg.Train is ignored: the trainer's own flag gates the loop.
func NewTrainer(cfg Config, train bool, opts ...Option) *Trainer {
	o := newOptions(opts)
	if o.runID == "" {
		o.runID = uuid.NewString()
	}
	t := &Trainer{
		cfg:     cfg,
		store:   o.store,
		logger:  o.logger.With("run", o.runID),
		runID:   o.runID,
		signals: make(chan struct{}, 1),
	}
	t.cfg.Train = &t.train
	t.train.Store(train)
	return t
}

// RunID returns the identifier of this training run.
func (t *Trainer) RunID() string {
	return t.runID
}

// Store returns the metrics store shared by every loop of the trainer.
func (t *Trainer) Store() *metrics.Store {
	return t.store
}

// OnCompile replaces the current loop with a fresh one for m and kicks it.
func (t *Trainer) OnCompile(m Model) {
	loop := NewLoop(m, t.cfg,
		WithStore(t.store),
		WithLogger(t.logger))

	t.mu.Lock()
	t.loop = loop
	t.compiles++
	n := t.compiles
	t.mu.Unlock()

	t.logger.Info("model handed to trainer", "compile", n)
	t.signal()
}

// SetTrain sets the pause flag. Switching it from false to true resumes the
// loop.
func (t *Trainer) SetTrain(train bool) {
	prev := t.train.Swap(train)
	if train && !prev {
		t.logger.Info("training resumed")
		t.signal()
	} else if !train && prev {
		t.logger.Info("training paused")
	}
}

// Train reports the pause flag.
func (t *Trainer) Train() bool {
	return t.train.Load()
}

// Loop returns the current loop, or nil before the first compile.
func (t *Trainer) Loop() *Loop {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loop
}

// Run is the host event loop. It advances the current loop on every signal
// and returns once a loop completes or fails, or when ctx is done.
func (t *Trainer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.signals:
		}

		loop := t.Loop()
		if loop == nil {
			continue
		}
		state, err := loop.Step(ctx)
		switch {
		case err != nil:
			return fmt.Errorf("run %s: %w", t.runID, err)
		case state == Completed:
			return nil
		}
	}
}

// Status reports the trainer and current loop progress.
func (t *Trainer) Status() Status {
	t.mu.Lock()
	loop, compiles := t.loop, t.compiles
	t.mu.Unlock()

	st := Status{
		RunID:    t.runID,
		Train:    t.train.Load(),
		Epochs:   t.cfg.Epochs,
		Batches:  t.cfg.BatchesPerEpoch(),
		Compiled: loop != nil,
		Metrics:  t.store.Names(),
		Compiles: compiles,
	}
	if loop == nil {
		return st
	}
	st.State = loop.State()
	st.Epoch = loop.Epoch()
	st.Batch = loop.Batch()
	if err := loop.Err(); err != nil {
		st.Error = err.Error()
	}
	return st
}

// signal coalesces advance requests; at most one is pending.
func (t *Trainer) signal() {
	select {
	case t.signals <- struct{}{}:
	default:
	}
}
