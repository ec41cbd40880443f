package metrics

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	points []string
	fail   bool
}

func (r *recordingSink) Record(name string, _ int, _ float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("disk full")
	}
	r.points = append(r.points, name)
	return nil
}

func TestStore_HistoryLengthMatchesReports(t *testing.T) {
	s := NewStore()
	for k := 0; k < 5; k++ {
		s.Push(Logs{"loss": float64(10 - k)})
	}

	assert.Equal(t, 5, s.Len("loss"))
	assert.Equal(t, []float64{10, 9, 8, 7, 6}, s.History("loss"))
}

func TestStore_NewNamesStartEmpty(t *testing.T) {
	s := NewStore()
	s.Push(Logs{"loss": 1})
	s.Push(Logs{"loss": 0.5, "validation-loss": 0.7})

	assert.Equal(t, []float64{1, 0.5}, s.History("loss"))
	assert.Equal(t, []float64{0.7}, s.History("validation-loss"))
	assert.Equal(t, 0, s.Len("missing"))
	assert.Nil(t, s.History("missing"))
}

func TestStore_FirstSeenOrder(t *testing.T) {
	s := NewStore()
	s.Push(Logs{"loss": 1, "acc": 0.1})
	s.Push(Logs{"validation-loss": 1, "validation-acc": 0.2})
	s.Push(Logs{"loss": 0.9, "acc": 0.3})

	assert.Equal(t, []string{"acc", "loss", "validation-acc", "validation-loss"}, s.Names())
}

func TestStore_HistoryIsCopy(t *testing.T) {
	s := NewStore()
	s.Push(Logs{"loss": 1})

	h := s.History("loss")
	h[0] = 42
	assert.Equal(t, []float64{1}, s.History("loss"))
}

func TestStore_Series(t *testing.T) {
	s := NewStore()
	s.Push(Logs{"loss": 3})
	s.Push(Logs{"loss": 2})

	got := s.Series("loss")
	assert.Equal(t, Series{Name: "loss", Points: []Point{{X: 0, Y: 3}, {X: 1, Y: 2}}}, got)

	last, ok := s.Last("loss")
	assert.True(t, ok)
	assert.Equal(t, 2.0, last)
}

func TestStore_Sink(t *testing.T) {
	sink := &recordingSink{}
	s := NewStore(WithSink(sink))
	s.Push(Logs{"loss": 1, "acc": 0.5})
	s.Push(Logs{"loss": 0.5})

	assert.Equal(t, []string{"acc", "loss", "loss"}, sink.points)
}

func TestStore_SinkFailureKeepsHistory(t *testing.T) {
	s := NewStore(WithSink(&recordingSink{fail: true}))
	s.Push(Logs{"loss": 1})
	assert.Equal(t, 1, s.Len("loss"))
}

func TestStore_ConcurrentReaders(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			s.Push(Logs{"loss": float64(i)})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			_ = s.Snapshot()
			_ = s.Names()
		}
	}()
	wg.Wait()
	assert.Equal(t, 200, s.Len("loss"))
}

func TestStore_Summary(t *testing.T) {
	s := NewStore()
	s.Push(Logs{"loss": 4})
	s.Push(Logs{"loss": 2})
	s.Push(Logs{"loss": 3})

	stats := s.Summarize()
	require.Len(t, stats, 1)
	assert.Equal(t, Stats{Name: "loss", Count: 3, Last: 3, Min: 2, Max: 4, Mean: 3}, stats[0])

	var buf bytes.Buffer
	s.WriteSummary(&buf)
	out := buf.String()
	assert.Contains(t, out, "METRIC")
	assert.Contains(t, out, "loss")
	assert.Contains(t, out, "3.0000")
}

func TestStore_SummaryKeepsLongNamesOnOneLine(t *testing.T) {
	s := NewStore()
	name := "validation top two accuracy over held out samples"
	s.Push(Logs{name: 0.5})

	var buf bytes.Buffer
	s.WriteSummary(&buf)
	assert.Contains(t, buf.String(), name)
}

func TestStore_NonFiniteJSON(t *testing.T) {
	s := NewStore()
	s.Push(Logs{"accuracy": math.NaN()})
	s.Push(Logs{"accuracy": 0.5})

	data, err := json.Marshal(s.Snapshot())
	require.NoError(t, err)
	assert.Contains(t, string(data), `{"x":0,"y":null}`)

	var back []Series
	require.NoError(t, json.Unmarshal(data, &back))
	require.Len(t, back, 1)
	assert.True(t, math.IsNaN(back[0].Points[0].Y))
	assert.Equal(t, 0.5, back[0].Points[1].Y)

	data, err = json.Marshal(s.Summarize())
	require.NoError(t, err)
	assert.Contains(t, string(data), `"last":0.5`)
	assert.Contains(t, string(data), `"mean":null`)
}
