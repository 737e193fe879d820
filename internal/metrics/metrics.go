// Package metrics exposes Prometheus collectors for the harvester.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	urlsFoundTotal       prometheus.Counter
	pagesTotal           *prometheus.CounterVec
	retriesTotal         prometheus.Counter
	fetchDurationSeconds *prometheus.HistogramVec
	throttleDelaySeconds *prometheus.HistogramVec
	batchesTotal         prometheus.Counter
	activeWorkers        prometheus.Gauge

	once sync.Once
)

// Init registers the collectors. It is safe to call multiple times.
func Init() {
	once.Do(func() {
		urlsFoundTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "harvester_urls_found_total",
			Help: "Total number of distinct page URLs discovered from sitemaps.",
		})

		pagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_pages_total",
				Help: "Total number of pages processed, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		retriesTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "harvester_fetch_retries_total",
			Help: "Total number of fetch retries after transient failures.",
		})

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_fetch_duration_seconds",
				Help:    "Fetch latency, labeled by domain.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"domain"},
		)

		throttleDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_throttle_delay_seconds",
				Help:    "Delay introduced by the per-domain throttle.",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"domain"},
		)

		batchesTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "harvester_batches_total",
			Help: "Total number of sub-batches fully settled.",
		})

		activeWorkers = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "harvester_active_workers",
			Help: "Number of in-flight page workers.",
		})
	})
}

// IncFound increments the discovered-URL counter.
func IncFound() {
	Init()
	urlsFoundTotal.Inc()
}

// IncOutcome increments the page counter for an outcome ("success",
// "failure" or "restored").
func IncOutcome(outcome string) {
	Init()
	pagesTotal.WithLabelValues(outcome).Inc()
}

// IncRetry increments the retry counter.
func IncRetry() {
	Init()
	retriesTotal.Inc()
}

// IncBatch increments the settled sub-batch counter.
func IncBatch() {
	Init()
	batchesTotal.Inc()
}

// ObserveFetchDuration records fetch latency for a domain.
func ObserveFetchDuration(domain string, d time.Duration) {
	Init()
	fetchDurationSeconds.WithLabelValues(domain).Observe(d.Seconds())
}

// ObserveThrottleDelay records the wait imposed by the domain throttle.
func ObserveThrottleDelay(domain string, d time.Duration) {
	Init()
	throttleDelaySeconds.WithLabelValues(domain).Observe(d.Seconds())
}

// WorkerStarted increments the in-flight worker gauge.
func WorkerStarted() {
	Init()
	activeWorkers.Inc()
}

// WorkerDone decrements the in-flight worker gauge.
func WorkerDone() {
	Init()
	activeWorkers.Dec()
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}
