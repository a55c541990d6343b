// Package metrics exposes Prometheus collectors for the harvester service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	harvestItemsTotal          *prometheus.CounterVec
	harvestBytesTotal          *prometheus.CounterVec
	harvestJobsTotal           *prometheus.CounterVec
	harvestJobDurationSeconds  *prometheus.HistogramVec
	extractionConfidence       prometheus.Histogram
	programsCurrent            prometheus.Gauge
	dataGapsCurrent            *prometheus.GaugeVec
	matchRequestsTotal         prometheus.Counter
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		harvestItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_items_total",
				Help: "Total number of items harvested, labeled by tier and outcome.",
			},
			[]string{"tier", "outcome"},
		)

		harvestBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		harvestJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_jobs_total",
				Help: "Total number of pipeline jobs, labeled by type and status.",
			},
			[]string{"type", "status"},
		)

		harvestJobDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvest_job_duration_seconds",
				Help:    "Histogram of pipeline job durations, labeled by type.",
				Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
			},
			[]string{"type"},
		)

		extractionConfidence = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "extraction_confidence",
				Help:    "Histogram of per-candidate extraction confidence scores.",
				Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
			},
		)

		programsCurrent = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "programs_current",
				Help: "Number of canonical programs after the latest merge.",
			},
		)

		dataGapsCurrent = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "data_gaps_current",
				Help: "Number of open data gaps, labeled by importance.",
			},
			[]string{"importance"},
		)

		matchRequestsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "match_requests_total",
				Help: "Total number of criteria match queries served.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveItem increments the per-tier item counters.
func ObserveItem(tier, outcome string, bytesFetched int, site string) {
	harvestItemsTotal.WithLabelValues(tier, outcome).Inc()
	if bytesFetched > 0 {
		harvestBytesTotal.WithLabelValues(SanitizeSite(site)).Add(float64(bytesFetched))
	}
}

// ObserveJob records a finished job's status and duration.
func ObserveJob(jobType, status string, duration time.Duration) {
	harvestJobsTotal.WithLabelValues(jobType, status).Inc()
	harvestJobDurationSeconds.WithLabelValues(jobType).Observe(duration.Seconds())
}

// ObserveConfidence records a candidate's extraction confidence.
func ObserveConfidence(score float64) {
	extractionConfidence.Observe(score)
}

// SetPrograms records the canonical program count after a merge.
func SetPrograms(count int) {
	programsCurrent.Set(float64(count))
}

// SetGaps records the open gap count for one importance level.
func SetGaps(importance string, count int) {
	dataGapsCurrent.WithLabelValues(importance).Set(float64(count))
}

// ObserveMatchRequest increments the match query counter.
func ObserveMatchRequest() {
	matchRequestsTotal.Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
