package monitor

import (
	"net/http"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pi42-grid/internal/engine"
	"pi42-grid/internal/strategy"
)

// Metrics exports bot activity to Prometheus and keeps short latency windows
// for the JSON status endpoint. It implements the observer interfaces of the
// pollers, submitter, engine and feed.
//
//   - grid_ticks_total{symbol,tracked}
//   - grid_evaluations_total{symbol,state}
//   - grid_triggers_total{symbol,branch}
//   - grid_orders_total{symbol,status}
//   - grid_order_latency_seconds
//   - grid_poll_total{kind,result}
//   - grid_poll_latency_seconds{kind}
//   - grid_stream_connected
//   - grid_stream_sessions_total
type Metrics struct {
	registry *prometheus.Registry

	ticks        *prometheus.CounterVec
	evaluations  *prometheus.CounterVec
	triggers     *prometheus.CounterVec
	orders       *prometheus.CounterVec
	orderLatency prometheus.Histogram
	polls        *prometheus.CounterVec
	pollLatency  *prometheus.HistogramVec
	connected    prometheus.Gauge
	reconnects   prometheus.Counter

	OrderLatency *LatencyHistogram
	PollLatency  *LatencyHistogram

	ticksProcessed  atomic.Uint64
	ordersSubmitted atomic.Uint64
	ordersFailed    atomic.Uint64
	pollErrors      atomic.Uint64
	streamUp        atomic.Bool
	sessions        atomic.Uint64
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grid_ticks_total",
			Help: "Mark price updates received",
		}, []string{"symbol", "tracked"}),
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grid_evaluations_total",
			Help: "Engine evaluations by resulting state",
		}, []string{"symbol", "state"}),
		triggers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grid_triggers_total",
			Help: "Evaluations that fired, by branch",
		}, []string{"symbol", "branch"}),
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grid_orders_total",
			Help: "Order submissions by status",
		}, []string{"symbol", "status"}),
		orderLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "grid_order_latency_seconds",
			Help:    "Place-order round trip",
			Buckets: prometheus.DefBuckets,
		}),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grid_poll_total",
			Help: "Account polls by kind and result",
		}, []string{"kind", "result"}),
		pollLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "grid_poll_latency_seconds",
			Help:    "Account poll round trip",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "grid_stream_connected",
			Help: "1 while the mark price stream is subscribed",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "grid_stream_sessions_total",
			Help: "Successful stream subscriptions",
		}),
		OrderLatency: NewLatencyHistogram(1000),
		PollLatency:  NewLatencyHistogram(1000),
	}
	m.registry.MustRegister(
		m.ticks, m.evaluations, m.triggers, m.orders, m.orderLatency,
		m.polls, m.pollLatency, m.connected, m.reconnects,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the registry for extra collectors and tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// GaugeFunc registers a gauge sampled at scrape time.
func (m *Metrics) GaugeFunc(name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, fn))
}

func (m *Metrics) ObserveTick(symbol string, tracked bool) {
	label := "false"
	if tracked {
		label = "true"
		m.ticksProcessed.Add(1)
	}
	m.ticks.WithLabelValues(symbol, label).Inc()
}

func (m *Metrics) ObserveStream(connected bool) {
	m.streamUp.Store(connected)
	if connected {
		m.connected.Set(1)
		m.reconnects.Inc()
		m.sessions.Add(1)
		return
	}
	m.connected.Set(0)
}

func (m *Metrics) ObserveEvaluation(symbol string, st engine.State, branch strategy.Branch) {
	m.evaluations.WithLabelValues(symbol, string(st)).Inc()
	if branch != strategy.BranchNone {
		m.triggers.WithLabelValues(symbol, string(branch)).Inc()
	}
}

func (m *Metrics) ObserveSubmission(symbol, status string, took time.Duration) {
	m.orders.WithLabelValues(symbol, status).Inc()
	m.orderLatency.Observe(took.Seconds())
	m.OrderLatency.RecordDuration(took)
	if status == "REJECTED" {
		m.ordersFailed.Add(1)
		return
	}
	m.ordersSubmitted.Add(1)
}

func (m *Metrics) ObservePoll(kind string, err error, took time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
		m.pollErrors.Add(1)
	}
	m.polls.WithLabelValues(kind, result).Inc()
	m.pollLatency.WithLabelValues(kind).Observe(took.Seconds())
	m.PollLatency.RecordDuration(took)
}

// MetricsSnapshot is the JSON view of Metrics.
type MetricsSnapshot struct {
	OrderLatency    LatencyStats `json:"order_latency"`
	PollLatency     LatencyStats `json:"poll_latency"`
	TicksProcessed  uint64       `json:"ticks_processed"`
	OrdersSubmitted uint64       `json:"orders_submitted"`
	OrdersFailed    uint64       `json:"orders_failed"`
	PollErrors      uint64       `json:"poll_errors"`
	StreamConnected bool         `json:"stream_connected"`
	StreamSessions  uint64       `json:"stream_sessions"`
	GoroutineCount  int          `json:"goroutine_count"`
	HeapAlloc       uint64       `json:"heap_alloc_bytes"`
	Timestamp       time.Time    `json:"timestamp"`
}

// GetSnapshot returns a point-in-time metrics snapshot.
func (m *Metrics) GetSnapshot() MetricsSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	return MetricsSnapshot{
		OrderLatency:    m.OrderLatency.Stats(),
		PollLatency:     m.PollLatency.Stats(),
		TicksProcessed:  m.ticksProcessed.Load(),
		OrdersSubmitted: m.ordersSubmitted.Load(),
		OrdersFailed:    m.ordersFailed.Load(),
		PollErrors:      m.pollErrors.Load(),
		StreamConnected: m.streamUp.Load(),
		StreamSessions:  m.sessions.Load(),
		GoroutineCount:  runtime.NumGoroutine(),
		HeapAlloc:       memStats.HeapAlloc,
		Timestamp:       time.Now(),
	}
}

// LatencyHistogram tracks latency samples with a sliding window.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool
	cachedStats LatencyStats
}

// NewLatencyHistogram creates a sliding window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{
		samples: make([]float64, 0, size),
		maxSize: size,
		dirty:   true,
	}
}

// Record adds a latency sample in milliseconds.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.samples) >= h.maxSize {
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
	h.dirty = true
}

// RecordDuration converts duration to ms and records.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns min, max, avg and percentiles, recomputed only after new samples.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dirty && h.cachedStats.Count > 0 {
		return h.cachedStats
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
	h.cachedStats = LatencyStats{
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n)*0.95)],
		P99:   sorted[int(float64(n)*0.99)],
		Count: n,
	}
	h.dirty = false
	return h.cachedStats
}

// LatencyStats holds computed latency statistics in milliseconds.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}
