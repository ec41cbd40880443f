package model

import (
	"errors"
	"fmt"
	"strings"

	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/optim"
	"gopkg.in/yaml.v3"

	"github.com/born-ml/trainkit/internal/engine"
	"github.com/born-ml/trainkit/internal/layer"
)

// Compile errors.
var (
	ErrNoLayers         = errors.New("model: network declares no layers")
	ErrUnknownOptimizer = errors.New("model: unknown optimizer")
	ErrUnknownLoss      = errors.New("model: unknown loss")
	ErrUnknownMetric    = errors.New("model: unknown metric")
)

// Optimizer identifiers.
const (
	SGD  = "sgd"
	Adam = "adam"
)

// OptimizerConfig selects and tunes the optimizer. Zero values take the
// optimizer's defaults.
//
// In YAML it is either a bare name ("adam") or a mapping.
type OptimizerConfig struct {
	Name         string  `yaml:"name" json:"name"`
	LearningRate float64 `yaml:"learningRate,omitempty" json:"learningRate,omitempty"`
	Momentum     float64 `yaml:"momentum,omitempty" json:"momentum,omitempty"`
	Beta1        float64 `yaml:"beta1,omitempty" json:"beta1,omitempty"`
	Beta2        float64 `yaml:"beta2,omitempty" json:"beta2,omitempty"`
	Epsilon      float64 `yaml:"epsilon,omitempty" json:"epsilon,omitempty"`
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (o *OptimizerConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*o = OptimizerConfig{}
		return node.Decode(&o.Name)
	}
	type plain OptimizerConfig
	return node.Decode((*plain)(o))
}

// CompileConfig is the compile step configuration: optimizer, loss and the
// metrics reported next to the loss.
type CompileConfig struct {
	Optimizer OptimizerConfig `yaml:"optimizer" json:"optimizer"`
	Loss      string          `yaml:"loss" json:"loss"`
	Metrics   []string        `yaml:"metrics,omitempty" json:"metrics,omitempty"`
}

// Config is everything a compile depends on.
type Config struct {
	Layers  []layer.Descriptor
	Compile CompileConfig
}

// FromDeclarations parses raw layer declarations into a Config.
func FromDeclarations(decls []layer.Declaration, compile CompileConfig) (Config, error) {
	descs, err := layer.ParseAll(decls)
	if err != nil {
		return Config{}, err
	}
	return Config{Layers: descs, Compile: compile}, nil
}

func canonical(name string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), "_", ""))
}

func newOptimizer(cfg OptimizerConfig, params []*nn.Parameter[engine.Backend], backend engine.Backend) (optim.Optimizer, error) {
	switch canonical(cfg.Name) {
	case SGD:
		lr := orDefault(cfg.LearningRate, 0.01)
		return optim.NewSGD(params, optim.SGDConfig{
			LR:       float32(lr),
			Momentum: float32(cfg.Momentum),
		}, backend), nil
	case Adam:
		return optim.NewAdam(params, optim.AdamConfig{
			LR:    float32(orDefault(cfg.LearningRate, 0.001)),
			Betas: [2]float32{float32(orDefault(cfg.Beta1, 0.9)), float32(orDefault(cfg.Beta2, 0.999))},
			Eps:   float32(orDefault(cfg.Epsilon, 1e-8)),
		}, backend), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownOptimizer, cfg.Name)
	}
}

func orDefault(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}

type lossKind int

const (
	categoricalCrossentropy lossKind = iota + 1
	sparseCategoricalCrossentropy
	meanSquaredError
)

func parseLoss(name string) (lossKind, error) {
	switch canonical(name) {
	case "categoricalcrossentropy":
		return categoricalCrossentropy, nil
	case "sparsecategoricalcrossentropy":
		return sparseCategoricalCrossentropy, nil
	case "meansquarederror", "mse":
		return meanSquaredError, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownLoss, name)
	}
}

func (k lossKind) crossEntropy() bool {
	return k == categoricalCrossentropy || k == sparseCategoricalCrossentropy
}

type metricKind int

const (
	accuracyMetric metricKind = iota + 1
	mseMetric
	maeMetric
)

type metric struct {
	name string
	kind metricKind
}

func parseMetrics(names []string) ([]metric, error) {
	out := make([]metric, 0, len(names))
	for _, name := range names {
		var kind metricKind
		switch canonical(name) {
		case "accuracy", "acc":
			kind = accuracyMetric
		case "mse", "meansquarederror":
			kind = mseMetric
		case "mae", "meanabsoluteerror":
			kind = maeMetric
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownMetric, name)
		}
		out = append(out, metric{name: name, kind: kind})
	}
	return out, nil
}
