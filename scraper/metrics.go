package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the scraper.
type Metrics struct {
	Registry             *prometheus.Registry
	RequestsTotal        *prometheus.CounterVec
	RequestDuration      prometheus.Histogram
	PrintersScraped      prometheus.Counter
	ParseFailuresTotal   prometheus.Counter
	RetriesTotal         prometheus.Counter
	ErrorsTotal          *prometheus.CounterVec
	PagesDiscoveredTotal prometheus.Counter
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_requests_total",
			Help: "Total HTTP requests issued by the scraper.",
		},
		[]string{"phase"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scraper_request_duration_seconds",
			Help:    "HTTP request latency for scraper requests.",
			Buckets: prometheus.DefBuckets,
		},
	)
	printersScraped := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_printers_scraped_total",
			Help: "Total number of printer records sent to the pipeline.",
		},
	)
	parseFailures := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_parse_failures_total",
			Help: "Total number of product pages that failed to parse.",
		},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_retries_total",
			Help: "Total number of retry attempts scheduled.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_errors_total",
			Help: "Total number of scraper errors by type.",
		},
		[]string{"error_type"},
	)
	pagesDiscovered := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_catalog_pages_total",
			Help: "Total number of catalog listing pages fetched.",
		},
	)

	registry.MustRegister(requests, requestDuration, printersScraped, parseFailures, retries, errorsTotal, pagesDiscovered)

	return &Metrics{
		Registry:             registry,
		RequestsTotal:        requests,
		RequestDuration:      requestDuration,
		PrintersScraped:      printersScraped,
		ParseFailuresTotal:   parseFailures,
		RetriesTotal:         retries,
		ErrorsTotal:          errorsTotal,
		PagesDiscoveredTotal: pagesDiscovered,
	}
}

// IncRequest increments the requests total counter.
func (m *Metrics) IncRequest(phase string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(phase).Inc()
}

// ObserveDuration records an HTTP request duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

// IncPrinters increments the scraped printers counter.
func (m *Metrics) IncPrinters() {
	if m == nil {
		return
	}
	m.PrintersScraped.Inc()
}

// IncParseFailures increments the parse failure counter.
func (m *Metrics) IncParseFailures() {
	if m == nil {
		return
	}
	m.ParseFailuresTotal.Inc()
}

// IncRetries increments the retries counter.
func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

// IncPages increments the catalog page counter.
func (m *Metrics) IncPages() {
	if m == nil {
		return
	}
	m.PagesDiscoveredTotal.Inc()
}
