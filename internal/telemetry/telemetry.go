// Package telemetry is the observability surface of spec.md §6: per-tick
// evaluation latency, reconciler latency, risk level, queue depth, and
// breaker trips, exposed as point-in-time snapshots. Grounded on the
// teacher's internal/monitor.SystemMetrics + LatencyHistogram (sliding
// window, lazily recomputed percentiles). The HTTP endpoint that would
// scrape these snapshots is an external process's job, not implemented
// here.
package telemetry

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"fundingarb/internal/model"
)

// LatencyHistogram tracks a bounded sliding window of latency samples with
// lazily recomputed percentiles.
type LatencyHistogram struct {
	mu      sync.Mutex
	samples []float64
	maxSize int
	dirty   bool
	cached  LatencyStats
}

// LatencyStats is a computed summary of a LatencyHistogram's current window.
type LatencyStats struct {
	Min   float64
	Max   float64
	Avg   float64
	P50   float64
	P95   float64
	P99   float64
	Count int
}

// NewLatencyHistogram constructs a histogram retaining at most size samples.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{samples: make([]float64, 0, size), maxSize: size, dirty: true}
}

// Record adds one latency sample in milliseconds.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.samples) >= h.maxSize {
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
	h.dirty = true
}

// RecordDuration converts d to milliseconds and records it.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns min/max/avg/p50/p95/p99 over the current window, recomputing
// only if new samples arrived since the last call.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.dirty && h.cached.Count > 0 {
		return h.cached
	}
	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}
	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	h.cached = LatencyStats{
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n)*0.95)],
		P99:   sorted[int(float64(n)*0.99)],
		Count: n,
	}
	h.dirty = false
	return h.cached
}

// Timer measures elapsed time and records it to a histogram on Stop.
type Timer struct {
	start time.Time
	hist  *LatencyHistogram
}

// NewTimer starts a timer that will record to h when stopped.
func NewTimer(h *LatencyHistogram) *Timer {
	return &Timer{start: time.Now(), hist: h}
}

// Stop records the elapsed duration and returns it.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	if t.hist != nil {
		t.hist.RecordDuration(elapsed)
	}
	return elapsed
}

// Metrics is the single telemetry sink the worker writes to.
type Metrics struct {
	mu sync.RWMutex

	EvaluatorLatency   *LatencyHistogram
	ReconcilerLatency  *LatencyHistogram
	ExecutionLatency   *LatencyHistogram

	ticksProcessed      uint64
	intentsEnqueued     uint64
	errorsCount         uint64
	breakerTrips        uint64
	reconcileMismatches uint64

	lastRiskAction   model.RiskAction
	lastQueueDepth   int
	lastUpdate       time.Time
}

// New constructs a Metrics sink with the teacher's 1000-sample windows.
func New() *Metrics {
	return &Metrics{
		EvaluatorLatency:  NewLatencyHistogram(1000),
		ReconcilerLatency: NewLatencyHistogram(1000),
		ExecutionLatency:  NewLatencyHistogram(1000),
		lastUpdate:        time.Now(),
	}
}

func (m *Metrics) IncrementTicks()              { atomic.AddUint64(&m.ticksProcessed, 1) }
func (m *Metrics) IncrementIntents()            { atomic.AddUint64(&m.intentsEnqueued, 1) }
func (m *Metrics) IncrementErrors()             { atomic.AddUint64(&m.errorsCount, 1) }
func (m *Metrics) IncrementBreakerTrips()       { atomic.AddUint64(&m.breakerTrips, 1) }
func (m *Metrics) IncrementReconcileMismatches(n int) {
	atomic.AddUint64(&m.reconcileMismatches, uint64(n))
}

// SetTickContext records the most recent tick's risk action and queue depth.
func (m *Metrics) SetTickContext(action model.RiskAction, queueDepth int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastRiskAction = action
	m.lastQueueDepth = queueDepth
	m.lastUpdate = time.Now()
}

// Snapshot is a point-in-time read of every counter and histogram.
type Snapshot struct {
	EvaluatorLatency    LatencyStats
	ReconcilerLatency   LatencyStats
	ExecutionLatency    LatencyStats
	TicksProcessed      uint64
	IntentsEnqueued     uint64
	ErrorsCount         uint64
	BreakerTrips        uint64
	ReconcileMismatches uint64
	LastRiskAction      model.RiskAction
	LastQueueDepth      int
	GoroutineCount      int
	HeapAllocBytes      uint64
	Timestamp           time.Time
}

// GetSnapshot returns the current values of every tracked metric.
func (m *Metrics) GetSnapshot() Snapshot {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	m.mu.RLock()
	action := m.lastRiskAction
	depth := m.lastQueueDepth
	m.mu.RUnlock()

	return Snapshot{
		EvaluatorLatency:    m.EvaluatorLatency.Stats(),
		ReconcilerLatency:   m.ReconcilerLatency.Stats(),
		ExecutionLatency:    m.ExecutionLatency.Stats(),
		TicksProcessed:      atomic.LoadUint64(&m.ticksProcessed),
		IntentsEnqueued:     atomic.LoadUint64(&m.intentsEnqueued),
		ErrorsCount:         atomic.LoadUint64(&m.errorsCount),
		BreakerTrips:        atomic.LoadUint64(&m.breakerTrips),
		ReconcileMismatches: atomic.LoadUint64(&m.reconcileMismatches),
		LastRiskAction:      action,
		LastQueueDepth:      depth,
		GoroutineCount:      runtime.NumGoroutine(),
		HeapAllocBytes:      mem.HeapAlloc,
		Timestamp:           time.Now(),
	}
}
