// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "voice_screening"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Session metrics
	SessionsTotal   prometheus.Counter
	SessionsActive  prometheus.Gauge
	SessionDuration prometheus.Histogram

	// Audio metrics
	AudioBytesReceived  prometheus.Counter
	AudioFramesReceived prometheus.Counter
	AudioFramesRejected *prometheus.CounterVec

	// Transcript metrics
	TranscriptsPartial prometheus.Counter
	SegmentsFinalized  prometheus.Counter

	// Scoring metrics
	ScoresTotal  *prometheus.CounterVec
	ScoreErrors  prometheus.Counter
	ScoreLatency prometheus.Histogram

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec

	// Recognizer metrics
	RecognizerErrors *prometheus.CounterVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		// Session metrics
		SessionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of screening sessions started",
		}),
		SessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently active screening sessions",
		}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Duration of screening sessions in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		}),

		// Audio metrics
		AudioBytesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_received_total",
			Help:      "Total audio bytes received",
		}),
		AudioFramesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_received_total",
			Help:      "Total audio frames received",
		}),
		AudioFramesRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_rejected_total",
			Help:      "Total audio frames rejected before transcription",
		}, []string{"reason"}),

		// Transcript metrics
		TranscriptsPartial: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_partial_total",
			Help:      "Total number of partial transcript updates emitted",
		}),
		SegmentsFinalized: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_finalized_total",
			Help:      "Total number of finalized transcript segments",
		}),

		// Scoring metrics
		ScoresTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scores_total",
			Help:      "Total number of scoring verdicts produced",
		}, []string{"source", "flagged"}),
		ScoreErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "score_errors_total",
			Help:      "Total number of segments with no scoring signal at all",
		}),
		ScoreLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "score_latency_seconds",
			Help:      "Time from segment finalization to scoring verdict",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),

		// Kafka publish metrics
		KafkaPublishTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),

		// Recognizer metrics
		RecognizerErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recognizer_errors_total",
			Help:      "Total number of speech recognizer errors",
		}, []string{"provider"}),
	}
}

// RecordSessionStart records a new session starting.
func (m *Metrics) RecordSessionStart() {
	m.SessionsTotal.Inc()
	m.SessionsActive.Inc()
}

// RecordSessionEnd records a session ending.
func (m *Metrics) RecordSessionEnd(durationSeconds float64) {
	m.SessionsActive.Dec()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordAudioReceived records audio bytes and frames received.
func (m *Metrics) RecordAudioReceived(bytes int) {
	m.AudioBytesReceived.Add(float64(bytes))
	m.AudioFramesReceived.Inc()
}

// RecordFrameRejected records an audio frame rejected before transcription.
func (m *Metrics) RecordFrameRejected(reason string) {
	m.AudioFramesRejected.WithLabelValues(reason).Inc()
}

// RecordPartialTranscript records a partial transcript update.
func (m *Metrics) RecordPartialTranscript() {
	m.TranscriptsPartial.Inc()
}

// RecordSegmentFinalized records a finalized segment.
func (m *Metrics) RecordSegmentFinalized() {
	m.SegmentsFinalized.Inc()
}

// RecordScore records a scoring verdict by source and outcome.
func (m *Metrics) RecordScore(source string, flagged bool, latencySeconds float64) {
	flag := "false"
	if flagged {
		flag = "true"
	}
	m.ScoresTotal.WithLabelValues(source, flag).Inc()
	m.ScoreLatency.Observe(latencySeconds)
}

// RecordScoreError records a segment that produced no scoring signal.
func (m *Metrics) RecordScoreError() {
	m.ScoreErrors.Inc()
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}

// RecordRecognizerError records a speech recognizer error.
func (m *Metrics) RecordRecognizerError(provider string) {
	m.RecognizerErrors.WithLabelValues(provider).Inc()
}
