package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// CSVOptions describes a labeled CSV file.
//
//	label,pixel0,pixel1,...,pixel783
//	5,0,0,12,...,0
type CSVOptions struct {
	LabelColumn int     // zero-based column holding the class label
	Header      bool    // skip the first row
	Shape       []int   // per-sample input shape; defaults to [features]
	Scale       float32 // feature divisor, e.g. 255 for pixels; 0 keeps values
	Classes     int     // number of classes; 0 infers max label + 1
	Limit       int     // keep at most Limit rows when > 0
}

// DecodeCSV parses labeled rows into a dataset.
func DecodeCSV(r io.Reader, opts CSVOptions) (*Dataset, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("dataset: read csv: %w", err)
	}
	if opts.Header && len(records) > 0 {
		records = records[1:]
	}
	if opts.Limit > 0 && len(records) > opts.Limit {
		records = records[:opts.Limit]
	}
	if len(records) == 0 {
		return nil, ErrNoSamples
	}

	width := len(records[0])
	if opts.LabelColumn < 0 || opts.LabelColumn >= width {
		return nil, fmt.Errorf("dataset: label column %d out of range for %d columns", opts.LabelColumn, width)
	}

	d := &Dataset{
		Inputs: make([][]float32, len(records)),
		Labels: make([]int32, len(records)),
		Shape:  opts.Shape,
	}
	if len(d.Shape) == 0 {
		d.Shape = []int{width - 1}
	}

	maxLabel := int32(0)
	for i, record := range records {
		row := i + 1
		if opts.Header {
			row++
		}
		if len(record) != width {
			return nil, fmt.Errorf("dataset: row %d has %d columns, want %d", row, len(record), width)
		}

		label, err := strconv.Atoi(strings.TrimSpace(record[opts.LabelColumn]))
		if err != nil {
			return nil, fmt.Errorf("dataset: row %d: invalid label: %w", row, err)
		}
		d.Labels[i] = int32(label)
		maxLabel = max(maxLabel, int32(label))

		features := make([]float32, 0, width-1)
		for j, field := range record {
			if j == opts.LabelColumn {
				continue
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 32)
			if err != nil {
				return nil, fmt.Errorf("dataset: row %d column %d: %w", row, j, err)
			}
			f := float32(v)
			if opts.Scale != 0 {
				f /= opts.Scale
			}
			features = append(features, f)
		}
		d.Inputs[i] = features
	}

	d.Classes = opts.Classes
	if d.Classes <= 0 {
		d.Classes = int(maxLabel) + 1
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// LoadCSV reads a labeled CSV file from disk.
func LoadCSV(path string, opts CSVOptions) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dataset: %w", err)
	}
	defer f.Close()
	return DecodeCSV(f, opts)
}
