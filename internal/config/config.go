// Package config loads trainkit run files.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/born-ml/trainkit/internal/layer"
	"github.com/born-ml/trainkit/internal/model"
)

// Data source kinds.
const (
	SourceSynthetic = "synthetic"
	SourceCSV       = "csv"
	SourceIDX       = "idx"
)

// Config captures everything a training run needs.
type Config struct {
	Network  Network  `yaml:"network"`
	Training Training `yaml:"training"`
	Data     Data     `yaml:"data"`
	Server   Server   `yaml:"server"`
	Store    Store    `yaml:"store"`
}

// Network is the declared model: ordered layers plus compile options.
type Network struct {
	Layers  []layer.Declaration `yaml:"layers"`
	Compile model.CompileConfig `yaml:"compile"`
}

// Training holds the loop parameters.
type Training struct {
	Epochs    int  `yaml:"epochs"`
	BatchSize int  `yaml:"batchSize"`
	Samples   int  `yaml:"samples"` // per epoch; 0 uses the training set size
	Display   bool `yaml:"display"`
	Paused    bool `yaml:"paused"`
}

// Data selects where samples come from.
type Data struct {
	Source          string  `yaml:"source"`
	Path            string  `yaml:"path"`
	Labels          string  `yaml:"labels"` // IDX label file
	Targets         string  `yaml:"targets"`
	Classes         int     `yaml:"classes"`
	Shape           []int   `yaml:"shape"`
	Header          bool    `yaml:"header"`
	LabelColumn     int     `yaml:"labelColumn"`
	Scale           float32 `yaml:"scale"`
	Limit           int     `yaml:"limit"`
	ValidationSplit float64 `yaml:"validationSplit"`
	Shuffle         bool    `yaml:"shuffle"`
	Seed            uint64  `yaml:"seed"`
	Noise           float32 `yaml:"noise"`
}

// Server configures the HTTP control surface.
type Server struct {
	Listen string `yaml:"listen"` // empty disables the server
}

// Store configures metric persistence.
type Store struct {
	Path string `yaml:"path"` // empty disables persistence
}

// Overrides captures CLI supplied values.
type Overrides struct {
	Epochs    int
	BatchSize int
	Samples   int
	Listen    string
	DB        string
	Paused    *bool
	Display   *bool
}

// Load reads a Config from YAML, applies environment overrides and
// validates it.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	cfg, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes a Config, rejecting unknown keys. Missing values take their
// defaults.
func Parse(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used for omitted keys.
func Default() *Config {
	return &Config{
		Training: Training{Epochs: 1, BatchSize: 32},
		Data: Data{
			Source:  SourceSynthetic,
			Targets: "onehot",
			Limit:   0,
			Seed:    1,
		},
	}
}

// ApplyOverrides updates c using any non-zero override.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.Epochs > 0 {
		c.Training.Epochs = o.Epochs
	}
	if o.BatchSize > 0 {
		c.Training.BatchSize = o.BatchSize
	}
	if o.Samples > 0 {
		c.Training.Samples = o.Samples
	}
	if o.Listen != "" {
		c.Server.Listen = o.Listen
	}
	if o.DB != "" {
		c.Store.Path = o.DB
	}
	if o.Paused != nil {
		c.Training.Paused = *o.Paused
	}
	if o.Display != nil {
		c.Training.Display = *o.Display
	}
}

// ApplyEnv applies TRAINKIT_* environment variables.
func (c *Config) ApplyEnv() {
	c.Training.Epochs = Int("TRAINKIT_EPOCHS", c.Training.Epochs)()
	c.Training.BatchSize = Int("TRAINKIT_BATCH_SIZE", c.Training.BatchSize)()
	c.Training.Paused = BoolWithDefault("TRAINKIT_PAUSED")(c.Training.Paused)
	if s := Listen(); s != "" {
		c.Server.Listen = s
	}
	if s := DB(); s != "" {
		c.Store.Path = s
	}
}

// Validate verifies the config is runnable.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if len(c.Network.Layers) == 0 {
		return errors.New("network.layers must declare at least one layer")
	}
	if c.Network.Compile.Loss == "" {
		return errors.New("network.compile.loss is required")
	}
	if c.Network.Compile.Optimizer.Name == "" {
		return errors.New("network.compile.optimizer is required")
	}
	if c.Training.Epochs <= 0 {
		return fmt.Errorf("training.epochs must be > 0 (got %d)", c.Training.Epochs)
	}
	if c.Training.BatchSize <= 0 {
		return fmt.Errorf("training.batchSize must be > 0 (got %d)", c.Training.BatchSize)
	}
	if c.Training.Samples < 0 {
		return fmt.Errorf("training.samples must be >= 0 (got %d)", c.Training.Samples)
	}
	if c.Data.ValidationSplit < 0 || c.Data.ValidationSplit >= 1 {
		return fmt.Errorf("data.validationSplit must be in [0, 1) (got %g)", c.Data.ValidationSplit)
	}

	switch c.Data.Source {
	case SourceSynthetic:
		if len(c.Data.Shape) == 0 {
			return errors.New("data.shape is required for synthetic data")
		}
		if c.Data.Classes <= 0 || c.Data.Limit <= 0 {
			return errors.New("data.classes and data.limit must be > 0 for synthetic data")
		}
	case SourceCSV:
		if c.Data.Path == "" {
			return errors.New("data.path is required for csv data")
		}
	case SourceIDX:
		if c.Data.Path == "" || c.Data.Labels == "" {
			return errors.New("data.path and data.labels are required for idx data")
		}
	default:
		return fmt.Errorf("data.source %q is not one of %s, %s, %s", c.Data.Source, SourceSynthetic, SourceCSV, SourceIDX)
	}
	return nil
}

// ModelConfig parses the declared network.
func (c *Config) ModelConfig() (model.Config, error) {
	return model.FromDeclarations(c.Network.Layers, c.Network.Compile)
}
