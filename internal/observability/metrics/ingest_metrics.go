package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	FileOutcomeSuccess = "success"
	FileOutcomeFailure = "failure"
	FileOutcomeSkipped = "skipped"
)

// IngestMetrics captures ingestion health signals scraped from /metrics.
type IngestMetrics struct {
	filesProcessed *prometheus.CounterVec
	rowsInserted   *prometheus.CounterVec
	rowsDropped    *prometheus.CounterVec
	duplicates     *prometheus.CounterVec
	fileDuration   *prometheus.HistogramVec
	lastRun        prometheus.Gauge
}

var (
	ingestMetricsOnce sync.Once
	ingestMetrics     *IngestMetrics
)

// Ingest returns the singleton ingestion metrics registry.
func Ingest() *IngestMetrics {
	return IngestWithConfig(Config{})
}

// IngestWithConfig returns the singleton ingestion metrics registry using config labels.
func IngestWithConfig(cfg Config) *IngestMetrics {
	ingestMetricsOnce.Do(func() {
		ingestMetrics = newIngestMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return ingestMetrics
}

// NewIngestMetrics registers a fresh set of ingestion metrics on registerer.
func NewIngestMetrics(registerer prometheus.Registerer, cfg Config) *IngestMetrics {
	return newIngestMetrics(registerer, cfg)
}

func newIngestMetrics(registerer prometheus.Registerer, cfg Config) *IngestMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "corehours"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	m := &IngestMetrics{
		filesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "corehours_ingest_files_total",
			Help:        "Source files handled by ingestion, by mode and outcome.",
			ConstLabels: constLabels,
		}, []string{"mode", "outcome"}),
		rowsInserted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "corehours_ingest_rows_inserted_total",
			Help:        "Job rows inserted, by resource type.",
			ConstLabels: constLabels,
		}, []string{"resource_type"}),
		rowsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "corehours_ingest_rows_dropped_total",
			Help:        "Raw lines dropped by the parser, by reason.",
			ConstLabels: constLabels,
		}, []string{"reason"}),
		duplicates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "corehours_ingest_duplicates_total",
			Help:        "Parsed jobs skipped because their job id was already stored for the file.",
			ConstLabels: constLabels,
		}, []string{"mode"}),
		fileDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "corehours_ingest_file_duration_seconds",
			Help:        "Time spent processing a single source file.",
			ConstLabels: constLabels,
			Buckets:     prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"mode"}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "corehours_ingest_last_run_timestamp_seconds",
			Help:        "Unix time of the last completed ingestion run.",
			ConstLabels: constLabels,
		}),
	}

	registerer.MustRegister(
		m.filesProcessed,
		m.rowsInserted,
		m.rowsDropped,
		m.duplicates,
		m.fileDuration,
		m.lastRun,
	)
	return m
}

func (m *IngestMetrics) IncFile(mode, outcome string) {
	if m == nil {
		return
	}
	m.filesProcessed.WithLabelValues(mode, outcome).Inc()
}

func (m *IngestMetrics) AddRowsInserted(resourceType string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.rowsInserted.WithLabelValues(resourceType).Add(float64(n))
}

func (m *IngestMetrics) AddRowsDropped(reason string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.rowsDropped.WithLabelValues(reason).Add(float64(n))
}

func (m *IngestMetrics) AddDuplicates(mode string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.duplicates.WithLabelValues(mode).Add(float64(n))
}

func (m *IngestMetrics) ObserveFileDuration(mode string, d time.Duration) {
	if m == nil {
		return
	}
	m.fileDuration.WithLabelValues(mode).Observe(d.Seconds())
}

func (m *IngestMetrics) MarkRun(at time.Time) {
	if m == nil {
		return
	}
	m.lastRun.Set(float64(at.Unix()))
}
