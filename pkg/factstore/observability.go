package factstore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Logger is the structured logging seam every component writes through. A
// Store defaults to a disabled logger; collaborators inject one via
// WithLogger. The core never logs payload bytes.
type Logger interface {
	Debug(msg string, fields map[string]any)
	Error(msg string, err error, fields map[string]any)
}

// Metrics is the counters/histograms seam every component writes through. A
// Store defaults to a no-op implementation; collaborators inject one via
// WithMetrics.
type Metrics interface {
	RecordAppend(duration time.Duration, factCount int, outcome string)
	RecordQueryEvaluation(duration time.Duration, matchCount int)
	RecordStreamBatch(batchSize int)
}

// noopLogger discards everything. It is the Store default, so components
// never need a nil check before logging.
type noopLogger struct{}

func (noopLogger) Debug(string, map[string]any)        {}
func (noopLogger) Error(string, error, map[string]any) {}

// noopMetrics discards everything. It is the Store default.
type noopMetrics struct{}

func (noopMetrics) RecordAppend(time.Duration, int, string)  {}
func (noopMetrics) RecordQueryEvaluation(time.Duration, int) {}
func (noopMetrics) RecordStreamBatch(int)                    {}

// zerologLogger adapts a zerolog.Logger to the Logger seam.
type zerologLogger struct {
	log zerolog.Logger
}

// NewZerologLogger wraps log as a Logger.
func NewZerologLogger(log zerolog.Logger) Logger {
	return zerologLogger{log: log}
}

func (l zerologLogger) Debug(msg string, fields map[string]any) {
	ev := l.log.Debug()
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}

func (l zerologLogger) Error(msg string, err error, fields map[string]any) {
	ev := l.log.Error().Err(err)
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}

// promMetrics is the Prometheus-backed Metrics implementation returned by
// NewPrometheusMetrics.
type promMetrics struct {
	appendDuration *prometheus.HistogramVec
	appendTotal    *prometheus.CounterVec
	queryDuration  prometheus.Histogram
	queryMatches   prometheus.Histogram
	streamBatches  prometheus.Histogram
}

// NewPrometheusMetrics registers and returns a Metrics implementation on
// reg. Passing a fresh registry per Store avoids collector re-registration
// panics when multiple stores share a process.
func NewPrometheusMetrics(reg prometheus.Registerer) Metrics {
	m := &promMetrics{
		appendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "factstore_append_duration_seconds",
			Help: "Append transaction latency by outcome.",
		}, []string{"outcome"}),
		appendTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "factstore_appends_total",
			Help: "Append attempts by outcome.",
		}, []string{"outcome"}),
		queryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "factstore_query_evaluation_duration_seconds",
			Help: "TagQuery evaluation latency.",
		}),
		queryMatches: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "factstore_query_evaluation_matches",
			Help: "Positions returned per TagQuery evaluation.",
		}),
		streamBatches: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "factstore_stream_batch_size",
			Help: "Facts emitted per Streamer batch.",
		}),
	}
	reg.MustRegister(m.appendDuration, m.appendTotal, m.queryDuration, m.queryMatches, m.streamBatches)
	return m
}

func (m *promMetrics) RecordAppend(duration time.Duration, _ int, outcome string) {
	m.appendDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	m.appendTotal.WithLabelValues(outcome).Inc()
}

func (m *promMetrics) RecordQueryEvaluation(duration time.Duration, matchCount int) {
	m.queryDuration.Observe(duration.Seconds())
	m.queryMatches.Observe(float64(matchCount))
}

func (m *promMetrics) RecordStreamBatch(batchSize int) {
	m.streamBatches.Observe(float64(batchSize))
}
