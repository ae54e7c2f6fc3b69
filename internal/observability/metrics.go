package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Stream metrics
	activeStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "personalize_gateway_active_streams",
		Help: "Number of stream executions currently running",
	})

	totalStreams = promauto.NewCounter(prometheus.CounterOpts{
		Name: "personalize_gateway_streams_total",
		Help: "Total number of stream executions",
	})

	streamDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "personalize_gateway_stream_duration_seconds",
		Help:    "Duration of stream executions in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
	})

	initiatedRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "personalize_gateway_initiate_requests_total",
		Help: "Total number of initiate requests",
	}, []string{"status"})

	// Text generation metrics
	generationRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "personalize_gateway_generation_requests_total",
		Help: "Total number of text generation requests",
	}, []string{"status"})

	generationLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "personalize_gateway_generation_latency_seconds",
		Help:    "Text generation latency in seconds",
		Buckets: []float64{0.5, 1.0, 2.0, 5.0, 10.0, 30.0, 60.0, 120.0},
	})

	// Speech synthesis metrics
	synthesisRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "personalize_gateway_synthesis_requests_total",
		Help: "Total number of speech synthesis requests",
	}, []string{"status"})

	synthesisLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "personalize_gateway_synthesis_latency_seconds",
		Help:    "Speech synthesis latency in seconds",
		Buckets: []float64{0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
	})

	// Event metrics
	eventsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "personalize_gateway_events_sent_total",
		Help: "Total number of push events sent to clients",
	}, []string{"event"})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "personalize_gateway_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "personalize_gateway_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})
)

// StreamMetrics tracks metrics for a single stream execution
type StreamMetrics struct {
	streamID       string
	startTime      time.Time
	genStartTime   time.Time
	synthStartTime time.Time
	mu             sync.Mutex
}

// NewStreamMetrics creates a new metrics tracker for a stream execution
func NewStreamMetrics(streamID string) *StreamMetrics {
	return &StreamMetrics{
		streamID:  streamID,
		startTime: time.Now(),
	}
}

// RecordStreamStart records the start of a stream execution
func (m *StreamMetrics) RecordStreamStart() {
	activeStreams.Inc()
	totalStreams.Inc()
}

// RecordStreamEnd records the end of a stream execution
func (m *StreamMetrics) RecordStreamEnd() {
	activeStreams.Dec()
	streamDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordGenerationStart records the start of text generation
func (m *StreamMetrics) RecordGenerationStart() {
	m.mu.Lock()
	m.genStartTime = time.Now()
	m.mu.Unlock()
}

// RecordGenerationEnd records the end of text generation
func (m *StreamMetrics) RecordGenerationEnd(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.genStartTime.IsZero() {
		generationLatency.Observe(time.Since(m.genStartTime).Seconds())
	}

	status := "success"
	if !success {
		status = "error"
	}
	generationRequests.WithLabelValues(status).Inc()
}

// RecordSynthesisStart records the start of speech synthesis
func (m *StreamMetrics) RecordSynthesisStart() {
	m.mu.Lock()
	m.synthStartTime = time.Now()
	m.mu.Unlock()
}

// RecordSynthesisEnd records the end of speech synthesis
func (m *StreamMetrics) RecordSynthesisEnd(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.synthStartTime.IsZero() {
		synthesisLatency.Observe(time.Since(m.synthStartTime).Seconds())
	}

	status := "success"
	if !success {
		status = "error"
	}
	synthesisRequests.WithLabelValues(status).Inc()
}

// RecordError records an error
func (m *StreamMetrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordInitiate records the outcome of an initiate request
func RecordInitiate(status string) {
	initiatedRequests.WithLabelValues(status).Inc()
}

// RecordEventSent records a push event delivered to a client
func RecordEventSent(event string) {
	eventsSent.WithLabelValues(event).Inc()
}

// UpdateCircuitBreakerState updates the circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}
