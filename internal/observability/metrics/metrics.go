// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "live_translate"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Recognition stream metrics
	StreamsTotal   prometheus.Counter
	StreamsActive  prometheus.Gauge
	StreamsEnded   *prometheus.CounterVec
	StreamDuration prometheus.Histogram
	StreamErrors   *prometheus.CounterVec

	// Recognition result metrics
	Results *prometheus.CounterVec

	// Audio metrics
	AudioBytesReceived  prometheus.Counter
	AudioFramesReceived prometheus.Counter

	// Translation metrics
	TranslationPasses   *prometheus.CounterVec
	TranslationRequests *prometheus.CounterVec
	TranslationLatency  *prometheus.HistogramVec

	// Playback metrics
	PlaybackRequests *prometheus.CounterVec
	SynthesisLatency prometheus.Histogram

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec

	// gRPC metrics
	GRPCRequests *prometheus.CounterVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics on the default registerer.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith creates all Prometheus metrics and registers them on reg.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		StreamsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streams_total",
			Help:      "Total number of recognition streams started",
		}),
		StreamsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "streams_active",
			Help:      "Number of currently active recognition streams",
		}),
		StreamsEnded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streams_ended_total",
			Help:      "Total number of recognition streams ended, by outcome",
		}, []string{"outcome"}),
		StreamDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stream_duration_seconds",
			Help:      "Duration of recognition streams in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		}),
		StreamErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_errors_total",
			Help:      "Total number of recognition stream errors, by kind",
		}, []string{"kind"}),

		Results: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recognition_results_total",
			Help:      "Total number of recognition results received, by kind",
		}, []string{"kind"}),

		AudioBytesReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_received_total",
			Help:      "Total audio bytes forwarded to recognition",
		}),
		AudioFramesReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_received_total",
			Help:      "Total audio frames forwarded to recognition",
		}),

		TranslationPasses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "translation_passes_total",
			Help:      "Total number of translation passes, by speech mode",
		}, []string{"mode"}),
		TranslationRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "translation_requests_total",
			Help:      "Total number of per-slot translation requests, by provider and outcome",
		}, []string{"provider", "outcome"}),
		TranslationLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "translation_latency_seconds",
			Help:      "Per-slot translation latency in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"provider"}),

		PlaybackRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_requests_total",
			Help:      "Total number of playback requests, by outcome",
		}, []string{"outcome"}),
		SynthesisLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "synthesis_latency_seconds",
			Help:      "Time from playback request to audio response",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),

		KafkaPublishTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),

		GRPCRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grpc_requests_total",
			Help:      "Total number of gRPC calls, by method and status code",
		}, []string{"method", "code"}),
	}
}

// RecordStreamStart records a new recognition stream starting.
func (m *Metrics) RecordStreamStart() {
	m.StreamsTotal.Inc()
	m.StreamsActive.Inc()
}

// RecordStreamEnd records a recognition stream ending with the given outcome
// (ended, stopped, error).
func (m *Metrics) RecordStreamEnd(outcome string, durationSeconds float64) {
	m.StreamsActive.Dec()
	m.StreamDuration.Observe(durationSeconds)
	m.StreamsEnded.WithLabelValues(outcome).Inc()
}

// RecordStreamError records a classified stream error.
func (m *Metrics) RecordStreamError(kind string) {
	m.StreamErrors.WithLabelValues(kind).Inc()
}

// RecordResult records a recognition result (final, interim, speaker_labels).
func (m *Metrics) RecordResult(kind string) {
	m.Results.WithLabelValues(kind).Inc()
}

// RecordAudioReceived records audio bytes and frames forwarded to recognition.
func (m *Metrics) RecordAudioReceived(bytes int) {
	m.AudioBytesReceived.Add(float64(bytes))
	m.AudioFramesReceived.Inc()
}

// RecordTranslationPass records a completed translation pass.
func (m *Metrics) RecordTranslationPass(mode string) {
	m.TranslationPasses.WithLabelValues(mode).Inc()
}

// RecordTranslation records a per-slot translation request.
func (m *Metrics) RecordTranslation(provider string, err error, latencySeconds float64) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.TranslationRequests.WithLabelValues(provider, outcome).Inc()
	m.TranslationLatency.WithLabelValues(provider).Observe(latencySeconds)
}

// RecordPlayback records a playback request outcome (issued, played, stale, failed).
func (m *Metrics) RecordPlayback(outcome string) {
	m.PlaybackRequests.WithLabelValues(outcome).Inc()
}

// RecordSynthesis records synthesis latency.
func (m *Metrics) RecordSynthesis(latencySeconds float64) {
	m.SynthesisLatency.Observe(latencySeconds)
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}

// RecordGRPC records a completed gRPC call.
func (m *Metrics) RecordGRPC(method, code string) {
	m.GRPCRequests.WithLabelValues(method, code).Inc()
}
