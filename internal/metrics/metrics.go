package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all the application metrics
type Metrics struct {
	// HTTP request metrics
	HTTPRequestTotal    *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Analysis metrics
	AnalysisTotal          *prometheus.CounterVec
	AnalysisDuration       *prometheus.HistogramVec
	ProviderFailureTotal   *prometheus.CounterVec
	AdvancedFailureTotal   *prometheus.CounterVec
	QuestionsAnsweredTotal prometheus.Counter
	ReportRenderDuration   prometheus.Histogram

	// Storage operation metrics
	StorageOperationTotal    *prometheus.CounterVec
	StorageOperationDuration *prometheus.HistogramVec

	// Event publishing metrics
	EventPublishTotal    *prometheus.CounterVec
	EventPublishDuration *prometheus.HistogramVec

	// Schema validation metrics
	SchemaValidationTotal *prometheus.CounterVec
}

// Global metrics instance with mutex for thread safety
var (
	globalMetrics *Metrics
	metricsMutex  sync.Mutex
)

// analysisBuckets cover fast fallbacks up to the 300s provider ceiling.
var analysisBuckets = []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300}

// NewMetrics creates a new Metrics instance with all required metrics
func NewMetrics() *Metrics {
	metricsMutex.Lock()
	defer metricsMutex.Unlock()

	// Return existing instance if already created
	if globalMetrics != nil {
		return globalMetrics
	}

	m := &Metrics{
		HTTPRequestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),

		AnalysisTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "evidence_analyses_total",
			Help: "Total number of evidence analyses by mode and outcome",
		}, []string{"mode", "outcome"}),

		AnalysisDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "evidence_analysis_duration_seconds",
			Help:    "End-to-end evidence analysis duration in seconds",
			Buckets: analysisBuckets,
		}, []string{"mode", "category"}),

		ProviderFailureTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "evidence_provider_failures_total",
			Help: "Total number of failed narrative provider calls",
		}, []string{"provider"}),

		AdvancedFailureTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "evidence_advanced_failures_total",
			Help: "Total number of advanced analyses that degraded to basic",
		}, []string{"category"}),

		QuestionsAnsweredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "evidence_questions_answered_total",
			Help: "Total number of evidence questions answered",
		}),

		ReportRenderDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "evidence_report_render_duration_seconds",
			Help:    "PDF report rendering duration in seconds",
			Buckets: prometheus.DefBuckets,
		}),

		StorageOperationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storage_operations_total",
			Help: "Total number of storage operations",
		}, []string{"operation", "status"}),

		StorageOperationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "storage_operation_duration_seconds",
			Help:    "Storage operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation", "status"}),

		EventPublishTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "event_publish_total",
			Help: "Total number of event publish operations",
		}, []string{"event_type", "status"}),

		EventPublishDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "event_publish_duration_seconds",
			Help:    "Event publish duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"event_type", "status"}),

		SchemaValidationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "schema_validation_total",
			Help: "Total number of request schema validations",
		}, []string{"schema", "status"}),
	}

	registerMetrics(m)
	globalMetrics = m
	return m
}

// registerMetrics registers all metrics with the default registry
func registerMetrics(m *Metrics) {
	// Try to register each metric, ignore if already registered
	registerOrGet(m.HTTPRequestTotal)
	registerOrGet(m.HTTPRequestDuration)
	registerOrGet(m.AnalysisTotal)
	registerOrGet(m.AnalysisDuration)
	registerOrGet(m.ProviderFailureTotal)
	registerOrGet(m.AdvancedFailureTotal)
	registerOrGet(m.QuestionsAnsweredTotal)
	registerOrGet(m.ReportRenderDuration)
	registerOrGet(m.StorageOperationTotal)
	registerOrGet(m.StorageOperationDuration)
	registerOrGet(m.EventPublishTotal)
	registerOrGet(m.EventPublishDuration)
	registerOrGet(m.SchemaValidationTotal)
}

// registerOrGet tries to register a metric, returns the existing one if already registered
func registerOrGet(c prometheus.Collector) prometheus.Collector {
	if err := prometheus.Register(c); err != nil {
		// If already registered, return the existing collector
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector
		}
	}
	return c
}

// The helpers below are safe on a nil *Metrics so components can run without metrics.

// ObserveAnalysis records one finished analysis.
func (m *Metrics) ObserveAnalysis(mode, category, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.AnalysisTotal.WithLabelValues(mode, outcome).Inc()
	m.AnalysisDuration.WithLabelValues(mode, category).Observe(elapsed.Seconds())
}

// ProviderFailed counts one failed narrative provider call.
func (m *Metrics) ProviderFailed(provider string) {
	if m == nil {
		return
	}
	m.ProviderFailureTotal.WithLabelValues(provider).Inc()
}

// AdvancedFailed counts one advanced analysis that fell back to basic.
func (m *Metrics) AdvancedFailed(category string) {
	if m == nil {
		return
	}
	m.AdvancedFailureTotal.WithLabelValues(category).Inc()
}

// ObserveStorage records one storage operation.
func (m *Metrics) ObserveStorage(operation string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	status := statusOf(err)
	m.StorageOperationTotal.WithLabelValues(operation, status).Inc()
	m.StorageOperationDuration.WithLabelValues(operation, status).Observe(elapsed.Seconds())
}

// ObserveEvent records one event publish.
func (m *Metrics) ObserveEvent(eventType string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	status := statusOf(err)
	m.EventPublishTotal.WithLabelValues(eventType, status).Inc()
	m.EventPublishDuration.WithLabelValues(eventType, status).Observe(elapsed.Seconds())
}

// ObserveValidation records one schema validation.
func (m *Metrics) ObserveValidation(schema string, valid bool) {
	if m == nil {
		return
	}
	status := "valid"
	if !valid {
		status = "invalid"
	}
	m.SchemaValidationTotal.WithLabelValues(schema, status).Inc()
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
