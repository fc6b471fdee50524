package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "catalog",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, route and status code.",
	}, []string{"method", "route", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "catalog",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10},
	}, []string{"method", "route"})

	UpstreamRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "catalog",
		Name:      "upstream_requests_total",
		Help:      "Requests to the availability API by operation and outcome (ok, not_found, transient, error).",
	}, []string{"op", "outcome"})

	UpstreamRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "catalog",
		Name:      "upstream_request_duration_seconds",
		Help:      "Availability API request duration in seconds.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
	}, []string{"op"})

	CacheOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "catalog",
		Name:      "cache_outcomes_total",
		Help:      "Read-path outcomes by endpoint (hit, refreshed, degraded, empty, failed).",
	}, []string{"endpoint", "outcome"})

	NormalizationSkipsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "catalog",
		Name:      "normalization_skips_total",
		Help:      "Upstream sub-records dropped during normalization by reason.",
	}, []string{"reason"})

	GenreLinkFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "catalog",
		Name:      "genre_link_failures_total",
		Help:      "Genre links that failed and were skipped without failing the title save.",
	})

	BackfillItemsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "catalog",
		Name:      "backfill_items_total",
		Help:      "Backfill items by kind and result (persisted, filtered, failed).",
	}, []string{"kind", "result"})

	RefreshJobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "catalog",
		Name:      "refresh_jobs_total",
		Help:      "Queued title refreshes by result (ok, not_found, retry, dead_letter, bad_payload).",
	}, []string{"result"})

	BackfillRunning = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "catalog",
		Name:      "backfill_running",
		Help:      "1 while a backfill job is running.",
	})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		UpstreamRequestsTotal,
		UpstreamRequestDuration,
		CacheOutcomesTotal,
		NormalizationSkipsTotal,
		GenreLinkFailuresTotal,
		BackfillItemsTotal,
		BackfillRunning,
		RefreshJobsTotal,
	)
}
