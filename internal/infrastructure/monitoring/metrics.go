package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and
// records nothing, so domain packages can be used without a registry.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestSize     *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec

	// Block metrics
	BlocksSubmitted prometheus.Counter
	BlocksFinalized *prometheus.CounterVec
	BlockDuration   *prometheus.HistogramVec
	BlocksQueued    prometheus.Gauge
	OutputBytes     prometheus.Counter
	Flushes         prometheus.Counter
	Dispatches      *prometheus.CounterVec
	DispatchLatency prometheus.Histogram

	// Pipeline metrics
	ChannelSends *prometheus.CounterVec
	Conditions   *prometheus.CounterVec
	Failures     *prometheus.CounterVec

	// Session metrics
	SessionsActive prometheus.Gauge
	SessionsTotal  prometheus.Counter

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time
	stop      chan struct{}
	stopOnce  sync.Once

	// Snapshot for JSON API - track current values
	snapshot MetricsSnapshot

	mu sync.RWMutex
}

// MetricsSnapshot holds current metric values for JSON API
type MetricsSnapshot struct {
	TotalRequests   int64   `json:"total_requests"`
	TotalErrors     int64   `json:"total_errors"`
	ActiveSessions  int64   `json:"active_sessions"`
	BlocksSubmitted int64   `json:"blocks_submitted"`
	BlocksFailed    int64   `json:"blocks_failed"`
	DroppedChunks   int64   `json:"dropped_chunks"`
	TotalDuration   float64 `json:"-"` // sum of all request durations
	RequestCount    int64   `json:"-"` // count for averaging
	UptimeSeconds   float64 `json:"uptime_seconds"`
}

// NewMetrics creates a metrics collector on its own registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),
		stop:      make(chan struct{}),

		// HTTP metrics
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "termblocks_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "termblocks_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		RequestSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "termblocks_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000},
			},
			[]string{"method", "path"},
		),
		ResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "termblocks_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000, 10000000},
			},
			[]string{"method", "path"},
		),

		// Block metrics
		BlocksSubmitted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "termblocks_blocks_submitted_total",
				Help: "Total number of commands submitted",
			},
		),
		BlocksFinalized: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "termblocks_blocks_finalized_total",
				Help: "Total number of blocks reaching a terminal status",
			},
			[]string{"status"},
		),
		BlockDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "termblocks_block_duration_seconds",
				Help:    "Wall time from dispatch to completion",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 300},
			},
			[]string{"status"},
		),
		BlocksQueued: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "termblocks_blocks_queued",
				Help: "Number of submitted commands waiting for the shell",
			},
		),
		OutputBytes: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "termblocks_output_bytes_total",
				Help: "Bytes of output appended to blocks",
			},
		),
		Flushes: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "termblocks_output_flushes_total",
				Help: "Number of batched output flushes",
			},
		),
		Dispatches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "termblocks_dispatches_total",
				Help: "Commands written to the terminal",
			},
			[]string{"status"},
		),
		DispatchLatency: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "termblocks_dispatch_duration_seconds",
				Help:    "Time spent writing a command to the terminal",
				Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
			},
		),

		// Pipeline metrics
		ChannelSends: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "termblocks_channel_sends_total",
				Help: "Sends on bounded broadcast channels by outcome",
			},
			[]string{"channel", "outcome"},
		),
		Conditions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "termblocks_conditions_total",
				Help: "Degraded conditions observed by the pipeline",
			},
			[]string{"condition"},
		),
		Failures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "termblocks_failures_total",
				Help: "Failure events published on the failures stream",
			},
			[]string{"kind"},
		),

		// Session metrics
		SessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "termblocks_sessions_active",
				Help: "Number of live shell sessions",
			},
		),
		SessionsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "termblocks_sessions_total",
				Help: "Total number of shell sessions started",
			},
		),

		// WebSocket metrics
		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "termblocks_ws_connections",
				Help: "Number of active WebSocket connections",
			},
		),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "termblocks_ws_messages_total",
				Help: "Total number of WebSocket messages",
			},
			[]string{"direction", "type"},
		),

		// System metrics
		Uptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "termblocks_uptime_seconds",
				Help: "Server uptime in seconds",
			},
		),
	}

	// Start uptime updater
	go m.updateUptime()

	return m
}

// Registry returns the registry all metrics are registered on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Close stops the uptime updater
func (m *Metrics) Close() {
	if m == nil {
		return
	}
	m.stopOnce.Do(func() { close(m.stop) })
}

// updateUptime continuously updates the uptime metric
func (m *Metrics) updateUptime() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Uptime.Set(time.Since(m.startTime).Seconds())
		case <-m.stop:
			return
		}
	}
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration, reqSize, respSize int64) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.RequestSize.WithLabelValues(method, path).Observe(float64(reqSize))
	m.ResponseSize.WithLabelValues(method, path).Observe(float64(respSize))

	// Update snapshot
	m.mu.Lock()
	m.snapshot.TotalRequests++
	m.snapshot.TotalDuration += duration.Seconds()
	m.snapshot.RequestCount++
	if status[0] == '4' || status[0] == '5' {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// RecordBlockSubmitted counts a submitted command
func (m *Metrics) RecordBlockSubmitted() {
	if m == nil {
		return
	}
	m.BlocksSubmitted.Inc()
	m.mu.Lock()
	m.snapshot.BlocksSubmitted++
	m.mu.Unlock()
}

// RecordBlockFinalized records a block reaching a terminal status
func (m *Metrics) RecordBlockFinalized(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.BlocksFinalized.WithLabelValues(status).Inc()
	m.BlockDuration.WithLabelValues(status).Observe(duration.Seconds())
	if status == "failure" {
		m.mu.Lock()
		m.snapshot.BlocksFailed++
		m.mu.Unlock()
	}
}

// SetBlocksQueued sets the number of queued commands
func (m *Metrics) SetBlocksQueued(count int) {
	if m == nil {
		return
	}
	m.BlocksQueued.Set(float64(count))
}

// RecordFlush records one batched output flush
func (m *Metrics) RecordFlush(bytes int) {
	if m == nil {
		return
	}
	m.Flushes.Inc()
	m.OutputBytes.Add(float64(bytes))
}

// RecordDispatch records a command write to the terminal
func (m *Metrics) RecordDispatch(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.Dispatches.WithLabelValues(status).Inc()
	m.DispatchLatency.Observe(duration.Seconds())
}

// RecordChannelSend records the outcome of a broadcast send
func (m *Metrics) RecordChannelSend(channel, outcome string, dropped bool) {
	if m == nil {
		return
	}
	m.ChannelSends.WithLabelValues(channel, outcome).Inc()
	if dropped {
		m.mu.Lock()
		m.snapshot.DroppedChunks++
		m.mu.Unlock()
	}
}

// RecordCondition records a degraded pipeline condition
func (m *Metrics) RecordCondition(condition string) {
	if m == nil {
		return
	}
	m.Conditions.WithLabelValues(condition).Inc()
}

// RecordFailure records a published failure event
func (m *Metrics) RecordFailure(kind string) {
	if m == nil {
		return
	}
	m.Failures.WithLabelValues(kind).Inc()
}

// SetSessionsActive sets the number of live sessions
func (m *Metrics) SetSessionsActive(count int) {
	if m == nil {
		return
	}
	m.SessionsActive.Set(float64(count))
	m.mu.Lock()
	m.snapshot.ActiveSessions = int64(count)
	m.mu.Unlock()
}

// IncSessionsTotal increments the sessions started counter
func (m *Metrics) IncSessionsTotal() {
	if m == nil {
		return
	}
	m.SessionsTotal.Inc()
}

// RecordWSMessage records a WebSocket message
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Inc()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Dec()
}

// Snapshot returns the current values for the JSON API
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap := m.snapshot
	snap.UptimeSeconds = time.Since(m.startTime).Seconds()
	return snap
}
