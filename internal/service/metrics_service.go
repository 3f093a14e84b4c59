package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/sma-substitute-api/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation for HTTP traffic and the
// substitution engine. All methods are safe on a nil receiver.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	leaveDecisions  *prometheus.CounterVec
	assignments     *prometheus.CounterVec
	tickDuration    prometheus.Histogram
	tickRows        *prometheus.CounterVec
	notifications   *prometheus.CounterVec
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	leaveDecisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "leave_decisions_total",
		Help: "Leave requests leaving PENDING, by resulting status",
	}, []string{"status"})

	assignments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "substitute_assignments_total",
		Help: "Substitute assignment resolutions by outcome and type",
	}, []string{"outcome", "type"})

	tickDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "escalation_tick_duration_seconds",
		Help:    "Duration of escalation scheduler ticks",
		Buckets: prometheus.DefBuckets,
	})

	tickRows := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "escalation_rows_total",
		Help: "Rows visited by the escalation scheduler by scan and result",
	}, []string{"scan", "result"})

	notifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_dispatched_total",
		Help: "Notification dispatch attempts by result",
	}, []string{"result"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, leaveDecisions, assignments, tickDuration, tickRows, notifications, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		leaveDecisions:  leaveDecisions,
		assignments:     assignments,
		tickDuration:    tickDuration,
		tickRows:        tickRows,
		notifications:   notifications,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Registry returns the underlying registry.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordLeaveDecision counts a leave request reaching status.
func (m *MetricsService) RecordLeaveDecision(status models.LeaveStatus) {
	if m == nil {
		return
	}
	m.leaveDecisions.WithLabelValues(string(status)).Inc()
}

// RecordAssignment counts a resolved substitute assignment.
func (m *MetricsService) RecordAssignment(status models.AssignmentStatus, kind models.AssignmentType) {
	if m == nil {
		return
	}
	m.assignments.WithLabelValues(string(status), string(kind)).Inc()
}

// ObserveEscalationTick records the duration and per-row results of one tick.
func (m *MetricsService) ObserveEscalationTick(report models.TickReport) {
	if m == nil || report.Skipped {
		return
	}
	m.tickDuration.Observe(report.FinishedAt.Sub(report.StartedAt).Seconds())
	add := func(scan, result string, n int) {
		if n > 0 {
			m.tickRows.WithLabelValues(scan, result).Add(float64(n))
		}
	}
	add("leave", "auto_approved", report.LeavesAutoApproved)
	add("leave", "skipped", report.LeavesSkipped)
	add("leave", "failed", report.LeavesFailed)
	add("assignment", "auto_assigned", report.AutoAssigned)
	add("assignment", "unassigned", report.Unassigned)
	add("assignment", "skipped", report.AssignmentsSkipped)
	add("assignment", "failed", report.AssignmentsFailed)
}

// RecordNotification counts a notification dispatch attempt.
func (m *MetricsService) RecordNotification(result string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(result).Inc()
}
