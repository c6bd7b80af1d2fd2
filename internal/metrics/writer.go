package metrics

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// column describes one CSV column: how a metric is rendered into it and how
// the cell is parsed back.
type column struct {
	name     string
	required bool
	format   func(Metric) string
	parse    func(*Metric, string)
}

var columns = []column{
	{
		name:     "timestamp",
		required: true,
		format:   func(m Metric) string { return m.Timestamp.Format(time.RFC3339Nano) },
		parse: func(m *Metric, v string) {
			if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
				m.Timestamp = t
			}
		},
	},
	{
		name:   "session",
		format: func(m Metric) string { return m.Session },
		parse:  func(m *Metric, v string) { m.Session = v },
	},
	{
		name:     "service",
		required: true,
		format:   func(m Metric) string { return m.Service },
		parse:    func(m *Metric, v string) { m.Service = v },
	},
	{
		name:   "target",
		format: func(m Metric) string { return m.Target },
		parse:  func(m *Metric, v string) { m.Target = v },
	},
	{
		name:     "success",
		required: true,
		format:   func(m Metric) string { return strconv.FormatBool(m.Success) },
		parse:    func(m *Metric, v string) { m.Success = v == "true" },
	},
	{
		name:     "rtt_ms",
		required: true,
		format: func(m Metric) string {
			if m.RTTMs == 0 {
				return ""
			}
			return strconv.FormatFloat(m.RTTMs, 'f', 3, 64)
		},
		parse: func(m *Metric, v string) { m.RTTMs, _ = strconv.ParseFloat(v, 64) },
	},
	{
		name:     "result",
		required: true,
		format:   func(m Metric) string { return m.Result },
		parse:    func(m *Metric, v string) { m.Result = v },
	},
	{
		name:   "nrc",
		format: func(m Metric) string { return strconv.Itoa(int(m.NRC)) },
		parse: func(m *Metric, v string) {
			if n, err := strconv.ParseUint(v, 10, 8); err == nil {
				m.NRC = uint8(n)
			}
		},
	},
	{
		name:   "error",
		format: func(m Metric) string { return m.Error },
		parse:  func(m *Metric, v string) { m.Error = v },
	},
}

// Writer streams metrics to a CSV file, a JSON array file, or both.
type Writer struct {
	csvFile *os.File
	csv     *csv.Writer
	jsonOut *os.File
	json    *json.Encoder
	written int
}

// NewWriter opens the output files. Either path may be empty.
func NewWriter(csvPath, jsonPath string) (*Writer, error) {
	w := &Writer{}
	if csvPath != "" {
		f, err := os.Create(csvPath)
		if err != nil {
			return nil, fmt.Errorf("create CSV file: %w", err)
		}
		w.csvFile, w.csv = f, csv.NewWriter(f)
		header := make([]string, len(columns))
		for i, c := range columns {
			header[i] = c.name
		}
		if err := w.csv.Write(header); err != nil {
			f.Close()
			return nil, fmt.Errorf("write CSV header: %w", err)
		}
	}
	if jsonPath != "" {
		f, err := os.Create(jsonPath)
		if err != nil {
			w.Close()
			return nil, fmt.Errorf("create JSON file: %w", err)
		}
		w.jsonOut = f
		w.json = json.NewEncoder(f)
		w.json.SetIndent("  ", "  ")
		if _, err := f.WriteString("["); err != nil {
			w.Close()
			return nil, fmt.Errorf("write JSON file: %w", err)
		}
	}
	return w, nil
}

// WriteMetric appends one metric to every open output.
func (w *Writer) WriteMetric(m Metric) error {
	if w.csv != nil {
		record := make([]string, len(columns))
		for i, c := range columns {
			record[i] = c.format(m)
		}
		if err := w.csv.Write(record); err != nil {
			return fmt.Errorf("write CSV record: %w", err)
		}
		w.csv.Flush()
		if err := w.csv.Error(); err != nil {
			return fmt.Errorf("write CSV record: %w", err)
		}
	}
	if w.json != nil {
		sep := "\n  "
		if w.written > 0 {
			sep = ",\n  "
		}
		if _, err := w.jsonOut.WriteString(sep); err != nil {
			return fmt.Errorf("write JSON record: %w", err)
		}
		if err := w.json.Encode(m); err != nil {
			return fmt.Errorf("write JSON record: %w", err)
		}
	}
	w.written++
	return nil
}

// WriteAll writes every metric recorded in sink.
func (w *Writer) WriteAll(sink *Sink) error {
	for _, m := range sink.GetMetrics() {
		if err := w.WriteMetric(m); err != nil {
			return err
		}
	}
	return nil
}

// Close flushes and closes the outputs.
func (w *Writer) Close() error {
	var errs []error
	if w.csv != nil {
		w.csv.Flush()
		errs = append(errs, w.csv.Error(), w.csvFile.Close())
		w.csv = nil
	}
	if w.jsonOut != nil {
		_, err := w.jsonOut.WriteString("]\n")
		errs = append(errs, err, w.jsonOut.Close())
		w.jsonOut, w.json = nil, nil
	}
	return errors.Join(errs...)
}

// FormatSummary renders a summary as plain text.
func FormatSummary(summary *Summary) string {
	var b strings.Builder
	share := func(n int) float64 { return float64(n) / float64(summary.TotalOperations) * 100 }

	fmt.Fprintf(&b, "Total Operations: %d\n", summary.TotalOperations)
	if summary.TotalOperations > 0 {
		fmt.Fprintf(&b, "Successful: %d (%.1f%%)\n", summary.SuccessfulOps, share(summary.SuccessfulOps))
		fmt.Fprintf(&b, "Failed: %d (%.1f%%)\n", summary.FailedOps, share(summary.FailedOps))
	}
	if summary.TimeoutCount > 0 {
		fmt.Fprintf(&b, "Timeouts: %d\n", summary.TimeoutCount)
	}
	if summary.NegativeResponses > 0 {
		fmt.Fprintf(&b, "Negative Responses: %d\n", summary.NegativeResponses)
		codes := make([]int, 0, len(summary.NRCCounts))
		for code := range summary.NRCCounts {
			codes = append(codes, int(code))
		}
		sort.Ints(codes)
		for _, code := range codes {
			fmt.Fprintf(&b, "  NRC 0x%02X: %d\n", code, summary.NRCCounts[uint8(code)])
		}
	}
	if summary.CommunicationErrors > 0 {
		fmt.Fprintf(&b, "Communication Errors: %d\n", summary.CommunicationErrors)
	}
	if summary.EventsReceived > 0 || summary.EventErrors > 0 {
		fmt.Fprintf(&b, "Events: %d received, %d errors\n", summary.EventsReceived, summary.EventErrors)
	}

	if summary.MaxRTT > 0 {
		fmt.Fprintf(&b, "\nRTT (ms): min %.3f  avg %.3f  max %.3f\n", summary.MinRTT, summary.AvgRTT, summary.MaxRTT)
		fmt.Fprintf(&b, "  p50 %.3f  p90 %.3f  p95 %.3f  p99 %.3f\n",
			summary.P50RTT, summary.P90RTT, summary.P95RTT, summary.P99RTT)
		bands := make([]string, 0, len(rttBands))
		for _, band := range rttBands {
			if n := summary.RTTBuckets[band.name]; n > 0 {
				bands = append(bands, fmt.Sprintf("%s=%d", band.label, n))
			}
		}
		fmt.Fprintf(&b, "  %s\n", strings.Join(bands, " "))
	}

	if len(summary.RTTByService) > 0 {
		b.WriteString("\nBy service:\n")
		names := make([]string, 0, len(summary.RTTByService))
		for name := range summary.RTTByService {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			stats := summary.RTTByService[name]
			fmt.Fprintf(&b, "  %s: %d ops (%d success, %d failed)", name, stats.Count, stats.Success, stats.Failed)
			if stats.SumRTT > 0 {
				fmt.Fprintf(&b, ", RTT %.3f/%.3f/%.3f ms", stats.MinRTT, stats.AvgRTT, stats.MaxRTT)
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}
