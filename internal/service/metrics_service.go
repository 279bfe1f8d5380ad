package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the demand
// lifecycle, vote and ledger subsystems.
type MetricsService struct {
	registry *prometheus.Registry
	handler  http.Handler

	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec

	transitionsTotal    *prometheus.CounterVec
	votesTotal          prometheus.Counter
	duplicateVotesTotal prometheus.Counter
	chainVerifications  prometheus.Counter
	chainMismatches     prometheus.Counter
	eventsPublished     prometheus.Counter
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

	transitionsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "demand_transitions_total",
		Help: "Total demand lifecycle transitions applied",
	}, []string{"action", "new_status"})

	votesTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "demand_votes_total",
		Help: "Total votes accepted",
	})

	duplicateVotesTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "demand_duplicate_votes_total",
		Help: "Total votes rejected as duplicates",
	})

	chainVerifications := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ledger_chain_verifications_total",
		Help: "Total ledger chain replays completed",
	})

	chainMismatches := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ledger_chain_mismatches_total",
		Help: "Total ledger chain verification failures",
	})

	eventsPublished := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "broadcast_events_published_total",
		Help: "Total state-change events published",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(
		requestDuration,
		requestTotal,
		transitionsTotal,
		votesTotal,
		duplicateVotesTotal,
		chainVerifications,
		chainMismatches,
		eventsPublished,
		goroutines,
	)

	return &MetricsService{
		registry:            registry,
		handler:             promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:     requestDuration,
		requestTotal:        requestTotal,
		transitionsTotal:    transitionsTotal,
		votesTotal:          votesTotal,
		duplicateVotesTotal: duplicateVotesTotal,
		chainVerifications:  chainVerifications,
		chainMismatches:     chainMismatches,
		eventsPublished:     eventsPublished,
	}
}

// Handler returns the Prometheus scrape handler.
func (s *MetricsService) Handler() http.Handler {
	return s.handler
}

// ObserveHTTPRequest records latency and count for one request.
func (s *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if s == nil {
		return
	}
	labels := []string{method, path, fmt.Sprintf("%d", status)}
	s.requestDuration.WithLabelValues(labels...).Observe(duration.Seconds())
	s.requestTotal.WithLabelValues(labels...).Inc()
}

// IncTransition counts an applied lifecycle transition.
func (s *MetricsService) IncTransition(action, newStatus string) {
	if s == nil {
		return
	}
	s.transitionsTotal.WithLabelValues(action, newStatus).Inc()
}

// IncVote counts an accepted vote.
func (s *MetricsService) IncVote() {
	if s == nil {
		return
	}
	s.votesTotal.Inc()
}

// IncDuplicateVote counts a rejected duplicate vote.
func (s *MetricsService) IncDuplicateVote() {
	if s == nil {
		return
	}
	s.duplicateVotesTotal.Inc()
}

// IncChainVerification counts a completed chain replay.
func (s *MetricsService) IncChainVerification() {
	if s == nil {
		return
	}
	s.chainVerifications.Inc()
}

// IncChainMismatch counts a failed chain verification.
func (s *MetricsService) IncChainMismatch() {
	if s == nil {
		return
	}
	s.chainMismatches.Inc()
}

// IncEventPublished counts a broadcast event.
func (s *MetricsService) IncEventPublished() {
	if s == nil {
		return
	}
	s.eventsPublished.Inc()
}
