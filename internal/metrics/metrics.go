package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus collector the service exports
type Metrics struct {
	registry *prometheus.Registry

	EventsIngested    *prometheus.CounterVec
	DuplicateEvents   prometheus.Counter
	SightingsRecorded *prometheus.CounterVec
	CampaignsCreated  prometheus.Counter
	RulesGenerated    prometheus.Counter
	TaskDuration      *prometheus.HistogramVec
	TaskFailures      *prometheus.CounterVec
	HTTPRequests      *prometheus.CounterVec
}

// New builds and registers all collectors on a private registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		EventsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "threatmesh",
			Name:      "events_ingested_total",
			Help:      "Threat events accepted, by source type.",
		}, []string{"source_type"}),
		DuplicateEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "threatmesh",
			Name:      "events_duplicate_total",
			Help:      "Ingestion submissions dropped as duplicates.",
		}),
		SightingsRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "threatmesh",
			Name:      "sightings_recorded_total",
			Help:      "Sightings recorded, by sighting type.",
		}, []string{"type"}),
		CampaignsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "threatmesh",
			Name:      "campaigns_created_total",
			Help:      "Campaigns created by the correlation engine.",
		}),
		RulesGenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "threatmesh",
			Name:      "rules_generated_total",
			Help:      "Detection rules generated or refreshed.",
		}),
		TaskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "threatmesh",
			Name:      "task_duration_seconds",
			Help:      "Background task run duration.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"task"}),
		TaskFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "threatmesh",
			Name:      "task_failures_total",
			Help:      "Background task runs that returned an error.",
		}, []string{"task"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "threatmesh",
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by route and status code.",
		}, []string{"route", "status"}),
	}

	reg.MustRegister(
		m.EventsIngested, m.DuplicateEvents, m.SightingsRecorded,
		m.CampaignsCreated, m.RulesGenerated,
		m.TaskDuration, m.TaskFailures, m.HTTPRequests,
	)
	return m
}

// Handler returns the /metrics HTTP handler for this registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
