package metrics

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
)

const namespace = "arcframe"

// Metrics holds the arcframe collectors on a private registry
type Metrics struct {
	startTime time.Time
	registry  *prometheus.Registry

	// Decode metrics
	payloadsDecoded *prometheus.CounterVec // format, compression
	payloadBytes    prometheus.Counter

	// Conversion metrics
	shapesClassified      *prometheus.CounterVec // shape
	framesConverted       *prometheus.CounterVec // origin
	rowsConverted         prometheus.Counter
	fieldsConverted       prometheus.Counter
	typesNormalized       prometheus.Counter
	framesSorted          prometheus.Counter
	legacyReconstructions *prometheus.CounterVec // shape
	nullsCoerced          prometheus.Counter

	// Output metrics
	framesEncoded     *prometheus.CounterVec // format
	storageWrites     *prometheus.CounterVec // backend
	storageWriteBytes prometheus.Counter

	errors        *prometheus.CounterVec   // stage
	stageDuration *prometheus.HistogramVec // stage

	logger zerolog.Logger
}

var (
	instance *Metrics
	once     sync.Once
)

// Get returns the singleton metrics instance
func Get() *Metrics {
	once.Do(func() {
		instance = New()
	})
	return instance
}

// Init initializes the singleton with a logger
func Init(logger zerolog.Logger) *Metrics {
	m := Get()
	m.logger = logger.With().Str("component", "metrics").Logger()
	m.logger.Debug().Msg("Metrics collector initialized")
	return m
}

// New creates a metrics set on its own registry. Most callers want Get.
func New() *Metrics {
	m := &Metrics{
		startTime: time.Now(),
		registry:  prometheus.NewRegistry(),
		logger:    zerolog.Nop(),

		payloadsDecoded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payloads_decoded_total",
			Help:      "Payloads decoded, by wire format and compression.",
		}, []string{"format", "compression"}),
		payloadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payload_bytes_total",
			Help:      "Decompressed payload bytes decoded.",
		}),
		shapesClassified: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "shapes_classified_total",
			Help:      "Payloads classified, by detected shape.",
		}, []string{"shape"}),
		framesConverted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_converted_total",
			Help:      "Frames produced, by origin shape.",
		}, []string{"origin"}),
		rowsConverted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_converted_total",
			Help:      "Rows across all converted frames.",
		}),
		fieldsConverted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fields_converted_total",
			Help:      "Fields across all converted frames.",
		}),
		typesNormalized: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "field_types_inferred_total",
			Help:      "Fields whose undefined type was replaced by an inferred one.",
		}),
		framesSorted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sorted_total",
			Help:      "Frames reordered by a sort field.",
		}),
		legacyReconstructions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "legacy_reconstructions_total",
			Help:      "Frames projected back to a legacy shape, by resulting shape.",
		}, []string{"shape"}),
		nullsCoerced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "columnar_nulls_coerced_total",
			Help:      "Values written as null because they did not match the column type.",
		}),
		framesEncoded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_encoded_total",
			Help:      "Frames encoded, by output format.",
		}, []string{"format"}),
		storageWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_writes_total",
			Help:      "Objects written, by storage backend.",
		}, []string{"backend"}),
		storageWriteBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_write_bytes_total",
			Help:      "Bytes written to storage.",
		}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Failures, by pipeline stage.",
		}, []string{"stage"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Time spent per pipeline stage.",
			// 10us .. ~5s
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
		}, []string{"stage"}),
	}

	m.registry.MustRegister(
		m.payloadsDecoded,
		m.payloadBytes,
		m.shapesClassified,
		m.framesConverted,
		m.rowsConverted,
		m.fieldsConverted,
		m.typesNormalized,
		m.framesSorted,
		m.legacyReconstructions,
		m.nullsCoerced,
		m.framesEncoded,
		m.storageWrites,
		m.storageWriteBytes,
		m.errors,
		m.stageDuration,
		collectors.NewGoCollector(),
	)
	return m
}

// Registry returns the registry holding all arcframe collectors
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Uptime returns the time since the metrics set was created
func (m *Metrics) Uptime() time.Duration { return time.Since(m.startTime) }

// Decode Metrics
func (m *Metrics) IncPayloadsDecoded(format, compression string) {
	m.payloadsDecoded.WithLabelValues(format, compression).Inc()
}
func (m *Metrics) AddPayloadBytes(n int) { m.payloadBytes.Add(float64(n)) }

// Conversion Metrics
func (m *Metrics) IncShapeClassified(shape string) { m.shapesClassified.WithLabelValues(shape).Inc() }
func (m *Metrics) IncFramesConverted(origin string, rows, fields int) {
	m.framesConverted.WithLabelValues(origin).Inc()
	m.rowsConverted.Add(float64(rows))
	m.fieldsConverted.Add(float64(fields))
}
func (m *Metrics) AddTypesInferred(n int) { m.typesNormalized.Add(float64(n)) }
func (m *Metrics) IncFramesSorted()       { m.framesSorted.Inc() }
func (m *Metrics) IncLegacyReconstruction(shape string) {
	m.legacyReconstructions.WithLabelValues(shape).Inc()
}
func (m *Metrics) AddNullsCoerced(n int) { m.nullsCoerced.Add(float64(n)) }

// Output Metrics
func (m *Metrics) IncFramesEncoded(format string) { m.framesEncoded.WithLabelValues(format).Inc() }
func (m *Metrics) IncStorageWrite(backend string, bytes int) {
	m.storageWrites.WithLabelValues(backend).Inc()
	m.storageWriteBytes.Add(float64(bytes))
}

// IncErrors counts a failure in stage (decode, classify, convert, sort, encode, write)
func (m *Metrics) IncErrors(stage string) { m.errors.WithLabelValues(stage).Inc() }

// ObserveStage records how long stage took since start
func (m *Metrics) ObserveStage(stage string, start time.Time) {
	m.stageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// WriteTextfile writes all metrics in the Prometheus text format to path,
// for pickup by the node_exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	m.logger.Debug().Str("path", path).Msg("Wrote metrics textfile")
	return nil
}
