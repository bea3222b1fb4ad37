package metrics

import (
	"database/sql"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	metricPrefix = "qhome_metering_"

	// ResultSuccess labels a successful operation.
	ResultSuccess = "success"
	// ResultError labels a failed operation.
	ResultError = "error"
)

var (
	registerOnce sync.Once

	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec

	coverageQueryTotal   *prometheus.CounterVec
	coverageQueryLatency *prometheus.HistogramVec
	coverageGapUnits     *prometheus.GaugeVec

	meterCreateTotal *prometheus.CounterVec
	bulkCreateUnits  *prometheus.CounterVec

	assignmentCreateTotal   *prometheus.CounterVec
	assignmentCreateLatency *prometheus.HistogramVec
	assignmentDeleteTotal   *prometheus.CounterVec
	assignmentProgress      *prometheus.GaugeVec

	cycleStatusChangeTotal *prometheus.CounterVec

	eventsPublished *prometheus.CounterVec
)

// Init registers observability metrics and DB-backed gauges.
func Init(db *sql.DB, logger *zap.Logger) {
	registerOnce.Do(func() {
		httpRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "http_requests_total",
				Help: "Total HTTP requests by method and status class",
			},
			[]string{"method", "class"},
		)
		httpLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "http_latency_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		)

		coverageQueryTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "coverage_query_total",
				Help: "Total unassigned-coverage queries by result",
			},
			[]string{"result"},
		)
		coverageQueryLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "coverage_query_latency_seconds",
				Help:    "Unassigned-coverage query latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		coverageGapUnits = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "coverage_gap_units",
				Help: "Units lacking meter or assignment per cycle, as of last query",
			},
			[]string{"cycle", "kind"},
		)

		meterCreateTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "meter_create_total",
				Help: "Total meter create operations by result",
			},
			[]string{"result"},
		)
		bulkCreateUnits = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "meter_bulk_create_units_total",
				Help: "Units handled by bulk meter creation by outcome",
			},
			[]string{"outcome"},
		)

		assignmentCreateTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "assignment_create_total",
				Help: "Total assignment create operations by result",
			},
			[]string{"result"},
		)
		assignmentCreateLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "assignment_create_latency_seconds",
				Help:    "Assignment create latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		assignmentDeleteTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "assignment_delete_total",
				Help: "Total assignment delete operations by result",
			},
			[]string{"result"},
		)
		assignmentProgress = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "assignment_progress_percent",
				Help: "Reading progress percent per assignment, as of last query",
			},
			[]string{"assignment"},
		)

		cycleStatusChangeTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "cycle_status_change_total",
				Help: "Total cycle status change attempts by result",
			},
			[]string{"result"},
		)

		eventsPublished = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "events_published_total",
				Help: "Total domain events published by type and result",
			},
			[]string{"type", "result"},
		)

		prometheus.MustRegister(
			httpRequests,
			httpLatency,
			coverageQueryTotal,
			coverageQueryLatency,
			coverageGapUnits,
			meterCreateTotal,
			bulkCreateUnits,
			assignmentCreateTotal,
			assignmentCreateLatency,
			assignmentDeleteTotal,
			assignmentProgress,
			cycleStatusChangeTotal,
			eventsPublished,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveHTTP records request duration by method and status class.
func ObserveHTTP(method string, status int, duration time.Duration) {
	class := "2xx"
	switch {
	case status >= 500:
		class = "5xx"
	case status >= 400:
		class = "4xx"
	case status >= 300:
		class = "3xx"
	}
	if httpRequests != nil {
		httpRequests.WithLabelValues(method, class).Inc()
	}
	if httpLatency != nil {
		httpLatency.WithLabelValues(method).Observe(duration.Seconds())
	}
}

// ObserveCoverageQuery records coverage query latency and result.
func ObserveCoverageQuery(result string, duration time.Duration) {
	if result == "" {
		result = ResultSuccess
	}
	if coverageQueryTotal != nil {
		coverageQueryTotal.WithLabelValues(result).Inc()
	}
	if coverageQueryLatency != nil {
		coverageQueryLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// SetCoverageGaps publishes the last observed gap counts for a cycle.
func SetCoverageGaps(cycleID string, missingMeters, unassigned int) {
	if coverageGapUnits == nil || cycleID == "" {
		return
	}
	coverageGapUnits.WithLabelValues(cycleID, "missing_meter").Set(float64(missingMeters))
	coverageGapUnits.WithLabelValues(cycleID, "unassigned").Set(float64(unassigned))
}

// ObserveMeterCreate records a meter create result.
func ObserveMeterCreate(result string) {
	if result == "" {
		result = ResultSuccess
	}
	if meterCreateTotal != nil {
		meterCreateTotal.WithLabelValues(result).Inc()
	}
}

// AddBulkCreateUnits adds bulk-create unit outcomes.
func AddBulkCreateUnits(outcome string, count int) {
	if count <= 0 || bulkCreateUnits == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	bulkCreateUnits.WithLabelValues(outcome).Add(float64(count))
}

// ObserveAssignmentCreate records assignment create latency and result.
func ObserveAssignmentCreate(result string, duration time.Duration) {
	if result == "" {
		result = ResultSuccess
	}
	if assignmentCreateTotal != nil {
		assignmentCreateTotal.WithLabelValues(result).Inc()
	}
	if assignmentCreateLatency != nil {
		assignmentCreateLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// ObserveAssignmentDelete records an assignment delete result.
func ObserveAssignmentDelete(result string) {
	if result == "" {
		result = ResultSuccess
	}
	if assignmentDeleteTotal != nil {
		assignmentDeleteTotal.WithLabelValues(result).Inc()
	}
}

// SetAssignmentProgress publishes the last computed progress percent.
func SetAssignmentProgress(assignmentID string, percent float64) {
	if assignmentProgress == nil || assignmentID == "" {
		return
	}
	assignmentProgress.WithLabelValues(assignmentID).Set(percent)
}

// ObserveCycleStatusChange records a cycle status change attempt.
func ObserveCycleStatusChange(result string) {
	if result == "" {
		result = ResultSuccess
	}
	if cycleStatusChangeTotal != nil {
		cycleStatusChangeTotal.WithLabelValues(result).Inc()
	}
}

// ObserveEventPublished records a domain event publish attempt.
func ObserveEventPublished(eventType, result string) {
	if eventType == "" {
		eventType = "unknown"
	}
	if result == "" {
		result = ResultSuccess
	}
	if eventsPublished != nil {
		eventsPublished.WithLabelValues(eventType, result).Inc()
	}
}
