package model_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/trainkit/layer"
	"github.com/born-ml/trainkit/model"
)

func TestBuild(t *testing.T) {
	cfg, err := model.FromDeclarations([]layer.Declaration{
		{Kind: "dense", Params: map[string]any{"units": 8, "inputShape": []int{4}, "activation": "relu"}},
		{Kind: "dense", Params: map[string]any{"units": 3, "activation": "softmax"}},
	}, model.CompileConfig{
		Optimizer: model.OptimizerConfig{Name: model.Adam, LearningRate: 0.01},
		Loss:      "categoricalCrossentropy",
		Metrics:   []string{"accuracy"},
	})
	require.NoError(t, err)

	var compiled int
	b := model.NewBuilder(
		model.WithBackend(model.NewBackend()),
		model.WithOnCompile(func(*model.Model) { compiled++ }))

	m, changed, err := b.Apply(cfg)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 2, m.Len())
	assert.Equal(t, []string{model.LossName, "accuracy"}, m.MetricsNames())

	_, changed, err = b.Apply(cfg)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, 1, compiled)
}

func TestBuild_UnknownLoss(t *testing.T) {
	cfg, err := model.FromDeclarations([]layer.Declaration{
		{Kind: "dense", Params: map[string]any{"units": 1, "inputShape": []int{2}}},
	}, model.CompileConfig{Optimizer: model.OptimizerConfig{Name: model.SGD}, Loss: "hinge"})
	require.NoError(t, err)

	_, err = model.NewBuilder().Build(cfg)
	assert.ErrorIs(t, err, model.ErrUnknownLoss)
}
