// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package train runs pausable training loops.
//
// A Trainer owns the pause flag and the metric history. Hand it a compiled
// model with OnCompile and drive it with Run:
//
//	trainer := train.NewTrainer(train.Config{
//	    Epochs:    10,
//	    BatchSize: 32,
//	    Samples:   len(samples),
//	    TrainData: train.FromSlice(samples),
//	}, true)
//	builder := model.NewBuilder(model.WithOnCompile(func(m *model.Model) { trainer.OnCompile(m) }))
//	if _, err := builder.Build(cfg); err != nil {
//	    return err
//	}
//	return trainer.Run(ctx)
package train

import (
	"log/slog"

	"github.com/born-ml/trainkit/internal/batch"
	"github.com/born-ml/trainkit/internal/dataset"
	"github.com/born-ml/trainkit/internal/metrics"
	"github.com/born-ml/trainkit/internal/train"
)

// Training loop types.
type (
	Config  = train.Config
	Loop    = train.Loop
	Model   = train.Model
	Flag    = train.Flag
	State   = train.State
	Status  = train.Status
	Trainer = train.Trainer
	Option  = train.Option
)

// Loop states.
const (
	Idle      = train.Idle
	Running   = train.Running
	Suspended = train.Suspended
	Completed = train.Completed
	Failed    = train.Failed
)

// ValidationPrefix is prepended to metric names reported for validation data.
const ValidationPrefix = train.ValidationPrefix

// Loop errors.
var (
	ErrStepInProgress = train.ErrStepInProgress
	ErrInvalidConfig  = train.ErrInvalidConfig
	ErrEmptyBatch     = batch.ErrEmptyBatch
)

// Metric history types.
type (
	Logs   = metrics.Logs
	Store  = metrics.Store
	Series = metrics.Series
	Sink   = metrics.Sink
)

// Batch assembly types.
type (
	Sample  = batch.Sample
	Source  = batch.Source
	Factory = batch.Factory
	Shaped  = batch.Shaped
)

// NewTrainer creates a Trainer. running is the initial pause flag.
func NewTrainer(cfg Config, running bool, opts ...Option) *Trainer {
	return train.NewTrainer(cfg, running, opts...)
}

// FromSlice returns a factory whose sources replay samples from the start.
func FromSlice(samples []Sample) Factory {
	return dataset.FromSlice(samples)
}

// NewLoop creates a standalone loop for m.
func NewLoop(m Model, cfg Config, opts ...Option) *Loop {
	return train.NewLoop(m, cfg, opts...)
}

// NewStore creates an empty metric history that forwards every point to
// sinks.
func NewStore(sinks ...Sink) *Store {
	opts := make([]metrics.Option, len(sinks))
	for i, s := range sinks {
		opts[i] = metrics.WithSink(s)
	}
	return metrics.NewStore(opts...)
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return train.WithLogger(logger)
}

// WithStore sets the metric history.
func WithStore(store *Store) Option {
	return train.WithStore(store)
}

// WithRunID sets the run identifier.
func WithRunID(id string) Option {
	return train.WithRunID(id)
}
