package metrics

// Metrics collection for openSYDE service exchanges

import (
	"math"
	"sort"
	"sync"
	"time"
)

// Result labels recorded in Metric.Result. They match diag.Result names.
const (
	ResultSuccess          = "success"
	ResultTimeout          = "timeout"
	ResultNegativeResponse = "negative_response"
	ResultCommunication    = "communication_error"
	ResultNotSendable      = "not_sendable"
	ResultMalformed        = "malformed_response"
)

// Metric is one request/response exchange with the node.
type Metric struct {
	Timestamp time.Time
	Session   string
	Service   string
	Target    string
	Success   bool
	RTTMs     float64
	Result    string
	NRC       uint8
	Error     string
}

// Sink collects exchanges and event counts. A nil Sink discards everything.
type Sink struct {
	mu          sync.RWMutex
	metrics     []Metric
	events      int
	eventErrors int
}

// Summary aggregates a set of exchanges.
type Summary struct {
	TotalOperations     int
	SuccessfulOps       int
	FailedOps           int
	TimeoutCount        int
	NegativeResponses   int
	CommunicationErrors int
	EventsReceived      int
	EventErrors         int
	MinRTT              float64
	MaxRTT              float64
	AvgRTT              float64
	P50RTT              float64
	P90RTT              float64
	P95RTT              float64
	P99RTT              float64
	// RTTBuckets counts successful exchanges per latency band, keyed by
	// rttBands names.
	RTTBuckets   map[string]int
	RTTByService map[string]*ServiceStats
	NRCCounts    map[uint8]int
}

// ServiceStats aggregates the exchanges of one service.
type ServiceStats struct {
	Count   int
	Success int
	Failed  int
	MinRTT  float64
	MaxRTT  float64
	AvgRTT  float64
	SumRTT  float64
}

// rttBands are the latency histogram bands in ascending order. The last band
// is open ended.
var rttBands = []struct {
	name  string
	label string
	below float64
}{
	{"lt_1ms", "<1ms", 1},
	{"1_5ms", "1-5ms", 5},
	{"5_10ms", "5-10ms", 10},
	{"10_50ms", "10-50ms", 50},
	{"50_100ms", "50-100ms", 100},
	{"100_500ms", "100-500ms", 500},
	{"gt_500ms", ">500ms", math.Inf(1)},
}

func NewSink() *Sink {
	return &Sink{}
}

// Record adds one exchange.
func (s *Sink) Record(m Metric) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.metrics = append(s.metrics, m)
	s.mu.Unlock()
}

// RecordEvent counts one asynchronous push, or an event error when failed.
func (s *Sink) RecordEvent(failed bool) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if failed {
		s.eventErrors++
	} else {
		s.events++
	}
}

// GetMetrics returns a copy of the recorded exchanges.
func (s *Sink) GetMetrics() []Metric {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Metric(nil), s.metrics...)
}

// GetSummary aggregates everything recorded so far. The result is not
// shared with the sink.
func (s *Sink) GetSummary() *Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	summary := Summarize(s.metrics)
	summary.EventsReceived = s.events
	summary.EventErrors = s.eventErrors
	return summary
}

// Summarize aggregates a list of exchanges, e.g. one loaded with
// ReadMetricsCSV.
func Summarize(metrics []Metric) *Summary {
	summary := &Summary{
		RTTBuckets:   make(map[string]int),
		RTTByService: make(map[string]*ServiceStats),
		NRCCounts:    make(map[uint8]int),
	}

	var rtts []float64
	var sum float64
	for _, m := range metrics {
		summary.TotalOperations++
		stats := summary.RTTByService[m.Service]
		if stats == nil {
			stats = &ServiceStats{}
			summary.RTTByService[m.Service] = stats
		}
		stats.Count++

		if !m.Success {
			summary.FailedOps++
			stats.Failed++
			switch m.Result {
			case ResultTimeout:
				summary.TimeoutCount++
			case ResultNegativeResponse:
				summary.NegativeResponses++
				summary.NRCCounts[m.NRC]++
			case ResultCommunication:
				summary.CommunicationErrors++
			}
			continue
		}

		summary.SuccessfulOps++
		stats.Success++
		if m.RTTMs <= 0 {
			continue
		}
		rtts = append(rtts, m.RTTMs)
		sum += m.RTTMs
		summary.MinRTT, summary.MaxRTT = widen(summary.MinRTT, summary.MaxRTT, m.RTTMs)
		stats.MinRTT, stats.MaxRTT = widen(stats.MinRTT, stats.MaxRTT, m.RTTMs)
		stats.SumRTT += m.RTTMs
		stats.AvgRTT = stats.SumRTT / float64(stats.Success)
		for _, band := range rttBands {
			if m.RTTMs < band.below {
				summary.RTTBuckets[band.name]++
				break
			}
		}
	}

	if len(rtts) > 0 {
		summary.AvgRTT = sum / float64(len(rtts))
		sort.Float64s(rtts)
		summary.P50RTT = percentile(rtts, 0.50)
		summary.P90RTT = percentile(rtts, 0.90)
		summary.P95RTT = percentile(rtts, 0.95)
		summary.P99RTT = percentile(rtts, 0.99)
	}
	return summary
}

// widen extends [lo, hi] to include v; a zero lo means unset.
func widen(lo, hi, v float64) (float64, float64) {
	if lo == 0 || v < lo {
		lo = v
	}
	if v > hi {
		hi = v
	}
	return lo, hi
}

// percentile uses the nearest-rank method on sorted values.
func percentile(sorted []float64, p float64) float64 {
	rank := int(math.Ceil(p*float64(len(sorted)))) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}
