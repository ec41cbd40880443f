package metrics

import (
	"encoding/json"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Stats summarizes one series.
type Stats struct {
	Name  string  `json:"name"`
	Count int     `json:"count"`
	Last  float64 `json:"last"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Mean  float64 `json:"mean"`
}

// MarshalJSON implements json.Marshaler, encoding non-finite values as null.
func (st Stats) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Name  string   `json:"name"`
		Count int      `json:"count"`
		Last  *float64 `json:"last"`
		Min   *float64 `json:"min"`
		Max   *float64 `json:"max"`
		Mean  *float64 `json:"mean"`
	}{st.Name, st.Count, finite(st.Last), finite(st.Min), finite(st.Max), finite(st.Mean)})
}

// Summarize computes Stats for every series in first-seen order.
// Series without values are reported with a zero count only.
func (s *Store) Summarize() []Stats {
	snap := s.Snapshot()
	out := make([]Stats, 0, len(snap))
	for _, series := range snap {
		out = append(out, summarize(series))
	}
	return out
}

func summarize(series Series) Stats {
	st := Stats{Name: series.Name, Count: len(series.Points)}
	if st.Count == 0 {
		return st
	}
	values := make([]float64, len(series.Points))
	for i, p := range series.Points {
		values[i] = p.Y
	}
	st.Last = values[len(values)-1]
	st.Min = floats.Min(values)
	st.Max = floats.Max(values)
	st.Mean = stat.Mean(values, nil)
	return st
}

// WriteSummary renders a textual table of every series.
func (s *Store) WriteSummary(w io.Writer) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"METRIC", "COUNT", "LAST", "MIN", "MAX", "MEAN"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")

	for _, st := range s.Summarize() {
		if st.Count == 0 {
			table.Append([]string{st.Name, "0", "-", "-", "-", "-"})
			continue
		}
		table.Append([]string{
			st.Name,
			strconv.Itoa(st.Count),
			format(st.Last),
			format(st.Min),
			format(st.Max),
			format(st.Mean),
		})
	}
	table.Render()
}

func format(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}
