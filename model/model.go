// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package model compiles declared layers into trainable models.
//
// Example:
//
//	cfg, err := model.FromDeclarations(decls, model.CompileConfig{
//	    Optimizer: model.OptimizerConfig{Name: model.Adam, LearningRate: 0.001},
//	    Loss:      "categoricalCrossentropy",
//	    Metrics:   []string{"accuracy"},
//	})
//	m, err := model.NewBuilder().Build(cfg)
package model

import (
	"log/slog"

	"github.com/born-ml/trainkit/internal/engine"
	"github.com/born-ml/trainkit/internal/layer"
	"github.com/born-ml/trainkit/internal/model"
)

// Backend is the autodiff CPU backend models train on.
type Backend = engine.Backend

// NewBackend creates a Backend. Models and the batches fed to them must
// share one.
func NewBackend() Backend {
	return engine.New()
}

// Model is a compiled network with its optimizer, loss and metrics.
type Model = model.Model

// Builder compiles configurations and tracks the last compiled model.
type Builder = model.Builder

// Option configures a Builder.
type Option = model.Option

// Config is everything a compile depends on.
type Config = model.Config

// CompileConfig selects the optimizer, loss and metrics.
type CompileConfig = model.CompileConfig

// OptimizerConfig selects an optimizer and its hyperparameters.
type OptimizerConfig = model.OptimizerConfig

// FrameworkError reports a failure raised by the tensor engine.
type FrameworkError = model.FrameworkError

// Optimizer names.
const (
	SGD  = model.SGD
	Adam = model.Adam
)

// LossName is the metric name the loss is reported under.
const LossName = model.LossName

// Compile errors.
var (
	ErrNoLayers         = model.ErrNoLayers
	ErrUnknownOptimizer = model.ErrUnknownOptimizer
	ErrUnknownLoss      = model.ErrUnknownLoss
	ErrUnknownMetric    = model.ErrUnknownMetric
)

// NewBuilder creates a Builder.
func NewBuilder(opts ...Option) *Builder {
	return model.NewBuilder(opts...)
}

// WithLogger sets the builder logger.
func WithLogger(logger *slog.Logger) Option {
	return model.WithLogger(logger)
}

// WithOnCompile registers a callback invoked after every successful compile.
func WithOnCompile(fn func(*Model)) Option {
	return model.WithOnCompile(fn)
}

// WithBackend sets the tensor backend models are built on.
func WithBackend(backend Backend) Option {
	return model.WithBackend(backend)
}

// FromDeclarations parses declared layers into a Config.
func FromDeclarations(decls []layer.Declaration, compile CompileConfig) (Config, error) {
	return model.FromDeclarations(decls, compile)
}

// Fingerprint returns a digest of cfg's value. Equal configurations have
// equal fingerprints.
func Fingerprint(cfg Config) (string, error) {
	return model.Fingerprint(cfg)
}
