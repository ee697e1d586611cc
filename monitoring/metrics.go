package monitoring

import (
	"runtime"
	"sync"
	"time"
)

// Metrics counts requests and prediction outcomes for the /api/metrics endpoint.
type Metrics struct {
	mu          sync.RWMutex
	startTime   time.Time
	requests    map[int]int64 // by status code
	predictions map[string]*VariantStats
}

// VariantStats counts prediction outcomes of one variant.
type VariantStats struct {
	Total        int64         `json:"total"`
	HighRisk     int64         `json:"high_risk"`
	Normal       int64         `json:"normal"`
	ModelMissing int64         `json:"model_missing"`
	Errors       int64         `json:"errors"`
	Invalid      int64         `json:"invalid"`
	LastLatency  time.Duration `json:"last_latency_ns"`
}

// Outcome classifies a finished prediction request.
type Outcome int

const (
	OutcomeHighRisk Outcome = iota
	OutcomeNormal
	OutcomeModelMissing
	OutcomeError
	OutcomeInvalid
)

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Uptime      time.Duration           `json:"uptime_ns"`
	Requests    map[int]int64           `json:"requests"`
	Predictions map[string]VariantStats `json:"predictions"`
	HeapAlloc   uint64                  `json:"memory_heap_alloc"`
	Goroutines  int                     `json:"goroutines"`
}

// NewMetrics creates empty counters.
func NewMetrics() *Metrics {
	return &Metrics{
		startTime:   time.Now(),
		requests:    make(map[int]int64),
		predictions: make(map[string]*VariantStats),
	}
}

// RecordRequest counts one HTTP response by status code.
func (m *Metrics) RecordRequest(status int) {
	m.mu.Lock()
	m.requests[status]++
	m.mu.Unlock()
}

// RecordPrediction counts one prediction and adds its latency.
func (m *Metrics) RecordPrediction(variant string, outcome Outcome, latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats, ok := m.predictions[variant]
	if !ok {
		stats = &VariantStats{}
		m.predictions[variant] = stats
	}
	stats.Total++
	stats.LastLatency = latency
	switch outcome {
	case OutcomeHighRisk:
		stats.HighRisk++
	case OutcomeNormal:
		stats.Normal++
	case OutcomeModelMissing:
		stats.ModelMissing++
	case OutcomeError:
		stats.Errors++
	case OutcomeInvalid:
		stats.Invalid++
	}
}

// Snapshot returns the current counters.
func (m *Metrics) Snapshot() Snapshot {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := Snapshot{
		Uptime:      time.Since(m.startTime),
		Requests:    make(map[int]int64, len(m.requests)),
		Predictions: make(map[string]VariantStats, len(m.predictions)),
		HeapAlloc:   mem.HeapAlloc,
		Goroutines:  runtime.NumGoroutine(),
	}
	for code, n := range m.requests {
		snap.Requests[code] = n
	}
	for variant, stats := range m.predictions {
		snap.Predictions[variant] = *stats
	}
	return snap
}
