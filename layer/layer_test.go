package layer_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/trainkit/layer"
)

func TestParseAll(t *testing.T) {
	descs, err := layer.ParseAll([]layer.Declaration{
		{Kind: "dense", Params: map[string]any{"units": 16, "inputShape": []int{4}, "activation": "relu"}},
		{Kind: "Dense", Params: map[string]any{"units": 3, "activation": "softmax"}},
	})
	require.NoError(t, err)
	require.Len(t, descs, 2)
	assert.Equal(t, layer.Dense{Units: 3, Activation: layer.Softmax}, descs[1])
}

func TestParseAll_InvalidKind(t *testing.T) {
	_, err := layer.ParseAll([]layer.Declaration{{Kind: "flatten"}, {Kind: "lstm"}})
	require.ErrorIs(t, err, layer.ErrInvalidLayerKind)

	var kindErr *layer.InvalidLayerKindError
	require.True(t, errors.As(err, &kindErr))
	assert.Equal(t, 1, kindErr.Index)
}
