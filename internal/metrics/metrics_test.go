package metrics

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func testSink() *Sink {
	sink := NewSink()
	sink.Record(Metric{
		Session: "bench",
		Service: "ReadDataPoolData",
		Success: true,
		RTTMs:   5,
		Result:  ResultSuccess,
	})
	sink.Record(Metric{
		Session: "bench",
		Service: "ReadDataPoolData",
		Success: true,
		RTTMs:   10,
		Result:  ResultSuccess,
	})
	sink.Record(Metric{
		Session: "bench",
		Service: "WriteDataPoolData",
		Success: false,
		Result:  ResultNegativeResponse,
		NRC:     0x31,
		Error:   "negative response",
	})
	sink.Record(Metric{
		Session: "bench",
		Service: "WriteDataPoolData",
		Success: false,
		Result:  ResultTimeout,
		Error:   "no response within timeout",
	})
	return sink
}

func TestMetricsSummary(t *testing.T) {
	sink := testSink()
	sink.RecordEvent(false)
	sink.RecordEvent(false)
	sink.RecordEvent(true)

	summary := sink.GetSummary()
	if summary.TotalOperations != 4 {
		t.Fatalf("expected total ops 4, got %d", summary.TotalOperations)
	}
	if summary.SuccessfulOps != 2 || summary.FailedOps != 2 {
		t.Fatalf("unexpected success/fail counts: %d/%d", summary.SuccessfulOps, summary.FailedOps)
	}
	if summary.TimeoutCount != 1 {
		t.Errorf("expected timeout count 1, got %d", summary.TimeoutCount)
	}
	if summary.NegativeResponses != 1 || summary.NRCCounts[0x31] != 1 {
		t.Errorf("negative responses = %d, NRC counts = %v", summary.NegativeResponses, summary.NRCCounts)
	}
	if summary.EventsReceived != 2 || summary.EventErrors != 1 {
		t.Errorf("events = %d/%d", summary.EventsReceived, summary.EventErrors)
	}
	if summary.MinRTT != 5 || summary.MaxRTT != 10 || summary.AvgRTT != 7.5 {
		t.Errorf("RTT min/max/avg = %v/%v/%v", summary.MinRTT, summary.MaxRTT, summary.AvgRTT)
	}
	if summary.P50RTT != 5 || summary.P99RTT != 10 {
		t.Errorf("percentiles P50=%v P99=%v", summary.P50RTT, summary.P99RTT)
	}
	if summary.RTTBuckets["1_5ms"] != 0 || summary.RTTBuckets["5_10ms"] != 1 || summary.RTTBuckets["10_50ms"] != 1 {
		t.Errorf("buckets = %v", summary.RTTBuckets)
	}
	read := summary.RTTByService["ReadDataPoolData"]
	if read == nil || read.Count != 2 || read.AvgRTT != 7.5 {
		t.Errorf("ReadDataPoolData stats = %+v", read)
	}

	summary.RTTByService["ReadDataPoolData"].Count = 99
	if sink.GetSummary().RTTByService["ReadDataPoolData"].Count != 2 {
		t.Error("GetSummary() did not return a copy")
	}
}

func TestNilSink(t *testing.T) {
	var sink *Sink
	sink.Record(Metric{Service: "x"})
	sink.RecordEvent(false)
}

func TestWriterRoundTrip(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "metrics.csv")
	jsonPath := filepath.Join(dir, "metrics.json")

	w, err := NewWriter(csvPath, jsonPath)
	if err != nil {
		t.Fatalf("NewWriter() error: %v", err)
	}
	sink := testSink()
	base := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	for i, m := range sink.GetMetrics() {
		m.Timestamp = base.Add(time.Duration(i) * time.Second)
		if err := w.WriteMetric(m); err != nil {
			t.Fatalf("WriteMetric() error: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	metrics, first, last, err := ReadMetricsCSV(csvPath)
	if err != nil {
		t.Fatalf("ReadMetricsCSV() error: %v", err)
	}
	if len(metrics) != 4 {
		t.Fatalf("read %d metrics, want 4", len(metrics))
	}
	if !first.Equal(base) || !last.Equal(base.Add(3*time.Second)) {
		t.Errorf("first/last = %v/%v", first, last)
	}
	if metrics[2].NRC != 0x31 || metrics[2].Result != ResultNegativeResponse {
		t.Errorf("metric 2 = %+v", metrics[2])
	}
	if Summarize(metrics).NegativeResponses != 1 {
		t.Error("Summarize() lost negative response")
	}

	data, err := os.ReadFile(jsonPath)
	if err != nil {
		t.Fatalf("read JSON: %v", err)
	}
	var decoded []Metric
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("JSON output invalid: %v\n%s", err, data)
	}
	if len(decoded) != 4 {
		t.Errorf("JSON has %d entries", len(decoded))
	}
}

func TestReadMetricsCSVMissingColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.csv")
	if err := os.WriteFile(path, []byte("timestamp,service\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, _, _, err := ReadMetricsCSV(path); err == nil || !strings.Contains(err.Error(), "missing required column") {
		t.Errorf("ReadMetricsCSV() = %v", err)
	}
}

func TestFormatSummary(t *testing.T) {
	out := FormatSummary(testSink().GetSummary())
	for _, want := range []string{
		"Total Operations: 4",
		"Timeouts: 1",
		"NRC 0x31: 1",
		"ReadDataPoolData: 2 ops (2 success, 0 failed)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("FormatSummary() missing %q\n%s", want, out)
		}
	}
	if FormatSummary(NewSink().GetSummary()) == "" {
		t.Error("empty summary should still render totals")
	}
}
