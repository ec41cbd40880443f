// Package model compiles declared layer stacks into trainable sequential
// networks.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/born-ml/trainkit/internal/engine"
	"github.com/born-ml/trainkit/internal/layer"
)

// Option configures a Builder.
type Option func(*Builder)

// WithLogger sets the builder logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Builder) {
		b.logger = logger
	}
}

// WithOnCompile registers the callback invoked with every freshly compiled
// model.
func WithOnCompile(fn func(*Model)) Option {
	return func(b *Builder) {
		b.onCompile = fn
	}
}

// WithBackend compiles models onto backend instead of a fresh one.
func WithBackend(backend engine.Backend) Option {
	return func(b *Builder) {
		b.backend = backend
	}
}

// Builder turns a Config into a compiled Model and decides when a changed
// configuration requires recompiling.
type Builder struct {
	mu          sync.Mutex
	backend     engine.Backend
	logger      *slog.Logger
	onCompile   func(*Model)
	model       *Model
	fingerprint string
	dirty       bool
}

// NewBuilder creates a Builder.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{logger: slog.Default()}
	for _, opt := range opts {
		opt(b)
	}
	if b.backend == nil {
		b.backend = engine.New()
	}
	return b
}

// Build compiles cfg unconditionally.
//
// Every layer is resolved before the optimizer is constructed, so a bad
// declaration fails without compile side effects and the completion callback
// is not invoked.
func (b *Builder) Build(cfg Config) (*Model, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.build(cfg)
}

// Apply compiles cfg when its value differs from the last successful compile
// or the builder was invalidated. It reports whether a compile happened.
func (b *Builder) Apply(cfg Config) (*Model, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	fp, err := Fingerprint(cfg)
	if err != nil {
		return nil, false, err
	}
	if b.model != nil && !b.dirty && fp == b.fingerprint {
		return b.model, false, nil
	}

	m, err := b.build(cfg)
	if err != nil {
		return nil, false, err
	}
	return m, true, nil
}

// Invalidate forces the next Apply to recompile.
func (b *Builder) Invalidate() {
	b.mu.Lock()
	b.dirty = true
	b.mu.Unlock()
}

// Model returns the last compiled model, or nil.
func (b *Builder) Model() *Model {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.model
}

func (b *Builder) build(cfg Config) (*Model, error) {
	if len(cfg.Layers) == 0 {
		return nil, ErrNoLayers
	}

	resolver := layer.NewResolver(b.backend)
	layers := make([]*layer.Built, 0, len(cfg.Layers))
	var shape []int
	for i, d := range cfg.Layers {
		built, err := resolver.Resolve(d, shape)
		if err != nil {
			return nil, layer.WithIndex(err, i)
		}
		if built.Softmax() && i != len(cfg.Layers)-1 {
			return nil, layer.WithIndex(&layer.ParamError{
				Index:  -1,
				Kind:   built.Descriptor().Kind(),
				Field:  "activation",
				Reason: "softmax is only supported on the last layer",
			}, i)
		}
		layers = append(layers, built)
		shape = built.OutputShape()
	}

	loss, err := parseLoss(cfg.Compile.Loss)
	if err != nil {
		return nil, err
	}
	mets, err := parseMetrics(cfg.Compile.Metrics)
	if err != nil {
		return nil, err
	}

	m := &Model{
		backend: b.backend,
		layers:  layers,
		config:  cfg,
		loss:    loss,
		metrics: mets,
		softmax: layers[len(layers)-1].Softmax(),
	}
	m.optimizer, err = newOptimizer(cfg.Compile.Optimizer, m.Parameters(), b.backend)
	if err != nil {
		return nil, err
	}

	fp, err := Fingerprint(cfg)
	if err != nil {
		return nil, err
	}
	b.model = m
	b.fingerprint = fp
	b.dirty = false

	b.logger.Info("model compiled",
		"layers", m.Len(),
		"params", m.NumParams(),
		"optimizer", cfg.Compile.Optimizer.Name,
		"loss", cfg.Compile.Loss)

	if b.onCompile != nil {
		b.onCompile(m)
	}
	return m, nil
}

// Fingerprint hashes the value of cfg. Two configurations with equal layers
// and compile options have equal fingerprints, however they were built.
func Fingerprint(cfg Config) (string, error) {
	decls := make([]layer.Declaration, len(cfg.Layers))
	for i, d := range cfg.Layers {
		decl, err := layer.Declare(d)
		if err != nil {
			return "", layer.WithIndex(err, i)
		}
		decls[i] = decl
	}

	data, err := json.Marshal(struct {
		Layers  []layer.Declaration `json:"layers"`
		Compile CompileConfig       `json:"compile"`
	}{decls, cfg.Compile})
	if err != nil {
		return "", fmt.Errorf("model: fingerprint: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
