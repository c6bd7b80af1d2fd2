package metrics

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// ReadMetricsCSV loads a file produced by Writer. It returns the metrics plus
// the timestamps of the first and last row. Unknown columns are ignored and
// unparsable cells leave the field at its zero value.
func ReadMetricsCSV(path string) (metrics []Metric, first, last time.Time, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, first, last, fmt.Errorf("open metrics CSV: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return nil, first, last, fmt.Errorf("read CSV header: %w", err)
	}

	// index[i] is the column parsed from cell i, or nil.
	index := make([]*column, len(header))
	seen := make(map[string]bool, len(header))
	for i, name := range header {
		for j := range columns {
			if columns[j].name == name {
				index[i] = &columns[j]
				seen[name] = true
			}
		}
	}
	for _, c := range columns {
		if c.required && !seen[c.name] {
			return nil, first, last, fmt.Errorf("CSV missing required column: %s", c.name)
		}
	}

	for line := 2; ; line++ {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, first, last, fmt.Errorf("read CSV line %d: %w", line, err)
		}
		var m Metric
		for i, cell := range record {
			if i < len(index) && index[i] != nil && cell != "" {
				index[i].parse(&m, cell)
			}
		}
		metrics = append(metrics, m)
	}
	if len(metrics) == 0 {
		return nil, first, last, fmt.Errorf("no data rows in %s", path)
	}
	return metrics, metrics[0].Timestamp, metrics[len(metrics)-1].Timestamp, nil
}
