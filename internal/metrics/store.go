// Package metrics accumulates per-metric time series reported by the
// training loop and renders them.
//
// History is append-only and unbounded: a run that never ends keeps growing
// its series.
package metrics

import (
	"encoding/json"
	"log/slog"
	"math"
	"slices"
	"sort"
	"sync"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Logs maps metric names to the value reported for one batch or evaluation.
type Logs map[string]float64

// Names returns the metric names in sorted order.
func (l Logs) Names() []string {
	names := make([]string, 0, len(l))
	for name := range l {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Sink receives every appended point, e.g. to persist it.
type Sink interface {
	Record(name string, step int, value float64) error
}

// Point is one value of a series. X is the zero-based report index.
// Non-finite values encode as a JSON null and decode back as NaN.
type Point struct {
	X int     `json:"x"`
	Y float64 `json:"y"`
}

type jsonPoint struct {
	X int      `json:"x"`
	Y *float64 `json:"y"`
}

// MarshalJSON implements json.Marshaler.
func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal(jsonPoint{X: p.X, Y: finite(p.Y)})
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *Point) UnmarshalJSON(data []byte) error {
	var jp jsonPoint
	if err := json.Unmarshal(data, &jp); err != nil {
		return err
	}
	p.X, p.Y = jp.X, orNaN(jp.Y)
	return nil
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func orNaN(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}

// Series is the full history of one metric.
type Series struct {
	Name   string  `json:"name"`
	Points []Point `json:"points"`
}

// Option configures a Store.
type Option func(*Store)

// WithSink adds a sink notified of every appended value.
func WithSink(sink Sink) Option {
	return func(s *Store) {
		s.sinks = append(s.sinks, sink)
	}
}

// WithLogger sets the logger used to report sink failures.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// Store holds metric histories keyed by name, in first-seen order.
//
// The training loop is the only writer; readers such as the HTTP control
// surface may run on other goroutines.
type Store struct {
	mu     sync.RWMutex
	series *orderedmap.OrderedMap[string, []float64]
	sinks  []Sink
	logger *slog.Logger
}

// NewStore creates an empty Store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		series: orderedmap.New[string, []float64](),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Push appends each reported value to its metric's history. Names not seen
// before start a new, empty history; names first seen in the same push are
// created in sorted order.
func (s *Store) Push(logs Logs) {
	type appended struct {
		name  string
		step  int
		value float64
	}

	s.mu.Lock()
	added := make([]appended, 0, len(logs))
	for _, name := range logs.Names() {
		history, _ := s.series.Get(name)
		value := logs[name]
		history = append(history, value)
		s.series.Set(name, history)
		added = append(added, appended{name: name, step: len(history) - 1, value: value})
	}
	s.mu.Unlock()

	for _, sink := range s.sinks {
		for _, a := range added {
			if err := sink.Record(a.name, a.step, a.value); err != nil {
				s.logger.Warn("metric sink failed", "metric", a.name, "step", a.step, "err", err)
			}
		}
	}
}

// Names returns the metric names in first-seen order.
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, s.series.Len())
	for pair := s.series.Oldest(); pair != nil; pair = pair.Next() {
		names = append(names, pair.Key)
	}
	return names
}

// History returns a copy of the values recorded for name.
func (s *Store) History(name string) []float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, _ := s.series.Get(name)
	return slices.Clone(history)
}

// Len returns the number of values recorded for name.
func (s *Store) Len(name string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, _ := s.series.Get(name)
	return len(history)
}

// Last returns the most recent value of name.
func (s *Store) Last(name string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, _ := s.series.Get(name)
	if len(history) == 0 {
		return 0, false
	}
	return history[len(history)-1], true
}

// Series returns the history of name as x/y points.
func (s *Store) Series(name string) Series {
	return toSeries(name, s.History(name))
}

// Snapshot returns every series in first-seen order.
func (s *Store) Snapshot() []Series {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Series, 0, s.series.Len())
	for pair := s.series.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, toSeries(pair.Key, pair.Value))
	}
	return out
}

func toSeries(name string, values []float64) Series {
	points := make([]Point, len(values))
	for i, v := range values {
		points[i] = Point{X: i, Y: v}
	}
	return Series{Name: name, Points: points}
}
