package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Stages of the create protocol reported on failure.
const (
	StageValidate  = "validate"
	StageBlobWrite = "blob_write"
	StageInsert    = "insert"
	StageHandoff   = "handoff"
)

// Metrics holds all Prometheus metrics for the trace store
type Metrics struct {
	tracesCreated    prometheus.Counter
	createFailures   *prometheus.CounterVec
	cleanupFailures  prometheus.Counter
	softDeletes      prometheus.Counter
	listRequests     *prometheus.CounterVec
	pendingRecovered prometheus.Counter
	uploadBytes      prometheus.Histogram
	blobWriteLatency prometheus.Histogram
	createLatency    prometheus.Histogram
	blobOpLatency    *prometheus.HistogramVec
	blobReadBytes    prometheus.Counter
	blobReadDuration prometheus.Histogram
}

// NewMetrics creates and registers all trace store metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		tracesCreated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "traces_created_total",
				Help: "Total number of traces committed for import",
			},
		),
		createFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trace_create_failures_total",
				Help: "Total number of failed trace creates by protocol stage",
			},
			[]string{"stage"},
		),
		cleanupFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "trace_cleanup_failures_total",
				Help: "Total number of compensating cleanups that failed",
			},
		),
		softDeletes: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "traces_soft_deleted_total",
				Help: "Total number of traces hidden by their owner",
			},
		),
		listRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trace_list_requests_total",
				Help: "Total number of trace listings by visibility case",
			},
			[]string{"case"},
		),
		pendingRecovered: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "trace_pending_recovered_total",
				Help: "Total number of abandoned pending traces removed by the sweeper",
			},
		),
		uploadBytes: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "trace_upload_bytes",
				Help:    "Size of committed trace uploads in bytes",
				Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
			},
		),
		blobWriteLatency: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "trace_blob_write_latency_ms",
				Help:    "Latency of temporary blob writes in milliseconds",
				Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
			},
		),
		createLatency: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "trace_create_latency_ms",
				Help:    "Latency of the full create protocol in milliseconds",
				Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
			},
		),
		blobOpLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "trace_blob_operation_latency_ms",
				Help:    "Latency of blob store operations in milliseconds",
				Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
			},
			[]string{"operation", "outcome"},
		),
		blobReadBytes: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "trace_blob_read_bytes_total",
				Help: "Total number of bytes streamed out of the blob store",
			},
		),
		blobReadDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "trace_blob_read_duration_ms",
				Help:    "Time from opening a blob until it was closed, in milliseconds",
				Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
			},
		),
	}
}

// IncrementTracesCreated counts a committed trace of the given size.
func (m *Metrics) IncrementTracesCreated(size int64) {
	m.tracesCreated.Inc()
	m.uploadBytes.Observe(float64(size))
}

// IncrementCreateFailures counts a create that failed at stage.
func (m *Metrics) IncrementCreateFailures(stage string) {
	m.createFailures.WithLabelValues(stage).Inc()
}

// IncrementCleanupFailures counts a compensating action that failed.
func (m *Metrics) IncrementCleanupFailures() {
	m.cleanupFailures.Inc()
}

// IncrementSoftDeletes counts a soft-deleted trace.
func (m *Metrics) IncrementSoftDeletes() {
	m.softDeletes.Inc()
}

// IncrementListRequests counts a listing for a visibility case.
func (m *Metrics) IncrementListRequests(visibilityCase string) {
	m.listRequests.WithLabelValues(visibilityCase).Inc()
}

// AddPendingRecovered counts pending traces removed by the sweeper.
func (m *Metrics) AddPendingRecovered(n int) {
	m.pendingRecovered.Add(float64(n))
}

// RecordBlobWriteLatency records the latency of a temporary blob write
func (m *Metrics) RecordBlobWriteLatency(milliseconds int64) {
	m.blobWriteLatency.Observe(float64(milliseconds))
}

// RecordCreateLatency records the latency of a whole create
func (m *Metrics) RecordCreateLatency(milliseconds int64) {
	m.createLatency.Observe(float64(milliseconds))
}

// RecordBlobOperation records the latency of one blob store call.
func (m *Metrics) RecordBlobOperation(operation string, milliseconds int64, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.blobOpLatency.WithLabelValues(operation, outcome).Observe(float64(milliseconds))
}

// RecordBlobRead records a finished blob download.
func (m *Metrics) RecordBlobRead(bytes, milliseconds int64) {
	m.blobReadBytes.Add(float64(bytes))
	m.blobReadDuration.Observe(float64(milliseconds))
}
