package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the dispatch service
	Registry = prometheus.NewRegistry()

	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// ScheduleRuns counts scheduling runs by outcome (success, error)
	ScheduleRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "dispatch_schedule_runs_total", Help: "Scheduling runs by outcome."},
		[]string{"outcome"},
	)
	ScheduleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "dispatch_schedule_run_seconds", Help: "Scheduling run duration in seconds.", Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60}},
	)
	// Assignments counts jobs by the path that placed them (crew, individual, unassigned)
	Assignments = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "dispatch_assignments_total", Help: "Jobs placed per assignment path."},
		[]string{"path"},
	)

	ProviderRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "dispatch_provider_requests_total", Help: "External provider calls by provider and outcome."},
		[]string{"provider", "outcome"},
	)
	CacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "dispatch_distance_cache_lookups_total", Help: "Distance cache lookups by cache and result."},
		[]string{"cache", "result"},
	)
)

// RegisterDefault registers collectors to the dispatch registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(ScheduleRuns)
		Registry.MustRegister(ScheduleDuration)
		Registry.MustRegister(Assignments)
		Registry.MustRegister(ProviderRequests)
		Registry.MustRegister(CacheLookups)
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once
