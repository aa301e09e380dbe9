package observ

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

type registry struct {
	mu       sync.Mutex
	counters map[string]map[string]int64   // name -> labelsKey -> count
	gauges   map[string]map[string]float64 // name -> labelsKey -> value
	hist     map[string]map[string][]float64
}

var reg = &registry{
	counters: map[string]map[string]int64{},
	gauges:   map[string]map[string]float64{},
	hist:     map[string]map[string][]float64{},
}

// canonicalize label map so key order is stable
func canonLabels(lbl map[string]string) string {
	if len(lbl) == 0 {
		return ""
	}
	keys := make([]string, 0, len(lbl))
	for k := range lbl {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(lbl[k])
	}
	return b.String()
}

func IncCounter(name string, labels map[string]string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	m, ok := reg.counters[name]
	if !ok {
		m = map[string]int64{}
		reg.counters[name] = m
	}
	m[canonLabels(labels)]++
}

func SetGauge(name string, value float64, labels map[string]string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	m, ok := reg.gauges[name]
	if !ok {
		m = map[string]float64{}
		reg.gauges[name] = m
	}
	m[canonLabels(labels)] = value
}

func Observe(name string, value float64, labels map[string]string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	m, ok := reg.hist[name]
	if !ok {
		m = map[string][]float64{}
		reg.hist[name] = m
	}
	k := canonLabels(labels)
	m[k] = append(m[k], value)
}

// RecordDuration records a duration observation in milliseconds.
func RecordDuration(name string, duration time.Duration, labels map[string]string) {
	Observe(name+"_ms", float64(duration.Milliseconds()), labels)
}

// Handler serves the raw registry as JSON for quick operator checks.
func Handler() http.Handler {
	type dump struct {
		Counters map[string]map[string]int64     `json:"counters"`
		Gauges   map[string]map[string]float64   `json:"gauges"`
		Hist     map[string]map[string][]float64 `json:"histograms"`
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reg.mu.Lock()
		defer reg.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(dump{Counters: reg.counters, Gauges: reg.gauges, Hist: reg.hist})
	})
}

// PipelineHealth is the health summary served by the control server. Status
// degrades when the queue is saturated or dispatch latency drifts.
type PipelineHealth struct {
	Status          string  `json:"status"` // "healthy" | "degraded"
	Timestamp       string  `json:"timestamp"`
	Uptime          string  `json:"uptime"`
	QueueDepth      int     `json:"queue_depth"`
	QueueCapacity   int     `json:"queue_capacity"`
	DispatchP95Ms   int64   `json:"dispatch_p95_ms"`
	GateBlockedRate float64 `json:"gate_blocked_rate"`
}

var startTime = time.Now()

// HealthHandler reports pipeline health from the registry. queueCapacity is
// the configured max queue size, used to judge saturation.
func HealthHandler(queueCapacity int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reg.mu.Lock()
		h := PipelineHealth{
			Status:        "healthy",
			Timestamp:     time.Now().UTC().Format(time.RFC3339),
			Uptime:        time.Since(startTime).String(),
			QueueCapacity: queueCapacity,
		}
		if depths, ok := reg.gauges["queue_depth"]; ok {
			for _, v := range depths {
				h.QueueDepth = int(v)
				break
			}
		}
		h.DispatchP95Ms = histP95("dispatch_latency_ms")
		h.GateBlockedRate = blockedRate()
		reg.mu.Unlock()

		if queueCapacity > 0 && h.QueueDepth >= queueCapacity*9/10 {
			h.Status = "degraded"
		}
		if h.DispatchP95Ms > 500 {
			h.Status = "degraded"
		}

		statusCode := http.StatusOK
		if h.Status == "degraded" {
			statusCode = http.StatusPartialContent
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		_ = json.NewEncoder(w).Encode(h)
	})
}

// histP95 computes the p95 of a histogram across all label sets.
// Caller holds reg.mu.
func histP95(name string) int64 {
	samples, ok := reg.hist[name]
	if !ok {
		return 0
	}
	var all []float64
	for _, s := range samples {
		all = append(all, s...)
	}
	if len(all) == 0 {
		return 0
	}
	sorted := make([]float64, len(all))
	copy(sorted, all)
	sort.Float64s(sorted)
	idx := int(float64(len(sorted)) * 0.95)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return int64(sorted[idx])
}

// blockedRate is the share of gate evaluations that blocked.
// Caller holds reg.mu.
func blockedRate() float64 {
	verdicts, ok := reg.counters["gate_verdicts_total"]
	if !ok {
		return 0
	}
	var total, blocked int64
	for labels, count := range verdicts {
		total += count
		if strings.Contains(labels, "verdict=BLOCKED") {
			blocked += count
		}
	}
	if total == 0 {
		return 0
	}
	return float64(blocked) / float64(total)
}
