// Package metrics exposes Prometheus collectors for the RAG service.
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
	crawlRunsTotal        *prometheus.CounterVec
	articlesProcessed     *prometheus.CounterVec
	pagesFetchedTotal     prometheus.Counter
	indexRecordsTotal     prometheus.Gauge
	queryDurationSeconds  prometheus.Histogram
	generationFallbacks   prometheus.Counter
	httpRequestDuration   *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus collectors. Safe to call repeatedly.
func Init() {
	once.Do(func() {
		crawlRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rag_crawl_runs_total",
				Help: "Total crawl runs, labeled by final status.",
			},
			[]string{"status"},
		)
		articlesProcessed = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rag_crawl_articles_total",
				Help: "Articles handled by the crawler, labeled by outcome.",
			},
			[]string{"outcome"},
		)
		pagesFetchedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "rag_crawl_list_pages_total",
				Help: "Listing pages fetched across all runs.",
			},
		)
		indexRecordsTotal = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "rag_index_records",
				Help: "Current number of records in the vector index.",
			},
		)
		queryDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "rag_query_duration_seconds",
				Help:    "End-to-end query answering latency.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
		)
		generationFallbacks = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "rag_generation_fallbacks_total",
				Help: "Times the primary generation provider failed over.",
			},
		)
		httpRequestDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// RecordRun counts a finished crawl run by status.
func RecordRun(status string) {
	if crawlRunsTotal != nil {
		crawlRunsTotal.WithLabelValues(status).Inc()
	}
}

// RecordArticle counts one article outcome: ingested, skipped or error.
func RecordArticle(outcome string) {
	if articlesProcessed != nil {
		articlesProcessed.WithLabelValues(outcome).Inc()
	}
}

// RecordListPage counts one fetched listing page.
func RecordListPage() {
	if pagesFetchedTotal != nil {
		pagesFetchedTotal.Inc()
	}
}

// SetIndexRecords updates the index size gauge.
func SetIndexRecords(n int) {
	if indexRecordsTotal != nil {
		indexRecordsTotal.Set(float64(n))
	}
}

// ObserveQuery records one query latency.
func ObserveQuery(d time.Duration) {
	if queryDurationSeconds != nil {
		queryDurationSeconds.Observe(d.Seconds())
	}
}

// RecordFallback counts one generation failover.
func RecordFallback() {
	if generationFallbacks != nil {
		generationFallbacks.Inc()
	}
}

// ObserveHTTPRequest records one served HTTP request.
func ObserveHTTPRequest(method, route string, d time.Duration) {
	if httpRequestDuration != nil {
		httpRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
	}
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
