package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/trainkit/internal/config"
	"github.com/born-ml/trainkit/internal/store"
)

const runConfig = `
network:
  layers:
    - kind: dense
      inputShape: [6]
      units: 8
      activation: relu
    - kind: dense
      units: 2
      activation: softmax
  compile:
    optimizer:
      name: sgd
      learningRate: 0.1
    loss: categoricalCrossentropy
    metrics: [accuracy]
training:
  epochs: 2
  batchSize: 4
data:
  source: synthetic
  shape: [6]
  classes: 2
  limit: 20
  noise: 0.05
  validationSplit: 0.2
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewCLI()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "trainkit version "+version)
}

func TestDescribe(t *testing.T) {
	out, err := execute(t, "describe", writeConfig(t, runConfig))
	require.NoError(t, err)
	assert.Contains(t, out, "TOTAL")
	assert.Contains(t, out, "74") // 6*8+8 + 8*2+2
	assert.Contains(t, out, "optimizer: sgd")
}

func TestDescribe_UnknownLayer(t *testing.T) {
	body := `
network:
  layers:
    - kind: lstm
      units: 4
  compile:
    optimizer: sgd
    loss: meanSquaredError
data:
  shape: [4]
  classes: 2
  limit: 4
`
	_, err := execute(t, "describe", writeConfig(t, body))
	assert.ErrorContains(t, err, "lstm")
}

func TestTrain_MissingConfig(t *testing.T) {
	_, err := execute(t, "train", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestRunTrain_RecordsMetrics(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, runConfig))
	require.NoError(t, err)
	dbPath := filepath.Join(t.TempDir(), "metrics.db")
	cfg.ApplyOverrides(config.Overrides{DB: dbPath})

	var out bytes.Buffer
	require.NoError(t, runTrain(context.Background(), cfg, quietLogger(), &out))
	assert.Contains(t, out.String(), "validation-loss")

	db, err := store.Open(dbPath)
	require.NoError(t, err)
	defer db.Close()

	runs, err := db.Runs(context.Background())
	require.NoError(t, err)
	require.Len(t, runs, 1)

	// 16 training samples in batches of 4 over 2 epochs.
	history, err := db.History(context.Background(), runs[0].ID, "loss")
	require.NoError(t, err)
	assert.Len(t, history, 8)

	names, err := db.Names(context.Background(), runs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"accuracy", "loss", "validation-accuracy", "validation-loss"}, names)
}

func TestRunTrain_Display(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, runConfig))
	require.NoError(t, err)
	display := true
	cfg.ApplyOverrides(config.Overrides{Display: &display, Epochs: 1})

	var out bytes.Buffer
	require.NoError(t, runTrain(context.Background(), cfg, quietLogger(), &out))
	assert.Contains(t, out.String(), "epoch 1/1 batch 4/4")
}

func TestRunTrain_CancelledWhilePaused(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, runConfig))
	require.NoError(t, err)
	paused := true
	cfg.ApplyOverrides(config.Overrides{Paused: &paused, Listen: "127.0.0.1:0"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	assert.NoError(t, runTrain(ctx, cfg, quietLogger(), &out))
}

func TestDescribe_Examples(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("..", "..", "examples", "*", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			out, err := execute(t, "describe", path)
			require.NoError(t, err)
			assert.Contains(t, out, "TOTAL")
		})
	}
}
