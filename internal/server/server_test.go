package server

import (
	"context"
	"encoding/json"
	"math"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/trainkit/internal/metrics"
	"github.com/born-ml/trainkit/internal/store"
	"github.com/born-ml/trainkit/internal/train"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTrainer(t *testing.T) *train.Trainer {
	t.Helper()
	return train.NewTrainer(train.Config{Epochs: 1, BatchSize: 1, Samples: 1}, false,
		train.WithRunID("run-1"))
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestStatus(t *testing.T) {
	h := New(newTrainer(t)).Routes()

	w := do(t, h, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, w.Code)

	var st map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.Equal(t, "run-1", st["runId"])
	assert.Equal(t, "idle", st["state"])
	assert.Equal(t, false, st["train"])
}

func TestTrainToggle(t *testing.T) {
	tr := newTrainer(t)
	h := New(tr).Routes()

	w := do(t, h, http.MethodPut, "/api/train", `{"train": true}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, tr.Train())

	w = do(t, h, http.MethodPost, "/api/pause", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, tr.Train())

	w = do(t, h, http.MethodPost, "/api/resume", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, tr.Train())
}

func TestTrainToggle_BadRequest(t *testing.T) {
	h := New(newTrainer(t)).Routes()

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPut, "/api/train", `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPut, "/api/train", `{"train": "yes"}`).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, h, http.MethodGet, "/api/train", "").Code)
}

func TestMetrics(t *testing.T) {
	tr := newTrainer(t)
	tr.Store().Push(metrics.Logs{"loss": 2})
	tr.Store().Push(metrics.Logs{"loss": 1})
	h := New(tr).Routes()

	w := do(t, h, http.MethodGet, "/api/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Metrics []metrics.Series `json:"metrics"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Metrics, 1)
	assert.Equal(t, []metrics.Point{{X: 0, Y: 2}, {X: 1, Y: 1}}, body.Metrics[0].Points)

	w = do(t, h, http.MethodGet, "/api/metrics/series/loss", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/api/metrics/series/acc", "").Code)

	w = do(t, h, http.MethodGet, "/api/metrics/summary", "")
	require.Equal(t, http.StatusOK, w.Code)
	var summary struct {
		Summary []metrics.Stats `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summary))
	assert.Equal(t, []metrics.Stats{{Name: "loss", Count: 2, Last: 1, Min: 1, Max: 2, Mean: 1.5}}, summary.Summary)

	w = do(t, h, http.MethodGet, "/api/metrics/summary?format=text", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "1.5000")
}

func TestRuns(t *testing.T) {
	tr := newTrainer(t)
	assert.Equal(t, http.StatusNotFound, do(t, New(tr).Routes(), http.MethodGet, "/api/runs", "").Code)

	db, err := store.Open(filepath.Join(t.TempDir(), "m.db"))
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Record(context.Background(), "run-1", "loss", 0, 0.5))

	h := New(tr, WithDB(db)).Routes()
	w := do(t, h, http.MethodGet, "/api/runs", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"id":"run-1"`)

	w = do(t, h, http.MethodGet, "/api/runs/run-1/loss", "")
	require.Equal(t, http.StatusOK, w.Code)
	var series metrics.Series
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &series))
	assert.Equal(t, []metrics.Point{{X: 0, Y: 0.5}}, series.Points)
}

func TestRunHistory_NaNPoint(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "m.db"))
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Record(context.Background(), "run-1", "accuracy", 0, math.NaN()))
	require.NoError(t, db.Record(context.Background(), "run-1", "accuracy", 1, 0.5))

	w := do(t, New(newTrainer(t), WithDB(db)).Routes(), http.MethodGet, "/api/runs/run-1/accuracy", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `{"x":0,"y":null}`)

	var series metrics.Series
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &series))
	require.Len(t, series.Points, 2)
	assert.True(t, math.IsNaN(series.Points[0].Y))
	assert.Equal(t, 0.5, series.Points[1].Y)
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- New(newTrainer(t)).Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/api/version")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
