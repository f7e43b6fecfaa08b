// Package events mirrors finalized segments and scoring verdicts to Kafka
// for downstream audit consumers.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"voice-screening-service/internal/models"
	"voice-screening-service/internal/observability/metrics"
)

// Publisher publishes screening events to separate Kafka topics.
type Publisher struct {
	writerSegment *kafka.Writer
	writerScore   *kafka.Writer
	principal     string
	topicSegment  string
	topicScore    string
	enabled       bool
	metrics       *metrics.Metrics
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers      []string
	TopicSegment string
	TopicScore   string
	Principal    string
	Enabled      bool
}

// SegmentRecord is the audit payload for one finalized segment.
type SegmentRecord struct {
	SessionID string `json:"session_id"`
	SegmentID string `json:"segment_id"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

// ScoreRecord is the audit payload for one scoring verdict.
type ScoreRecord struct {
	SessionID string  `json:"session_id"`
	SegmentID string  `json:"segment_id"`
	Score     float64 `json:"score"`
	Label     string  `json:"label,omitempty"`
	Flagged   bool    `json:"flagged"`
	Source    string  `json:"source"`
}

// New creates a Kafka event publisher with separate topics for segments and
// scores. Disabled configuration yields a log-only publisher.
func New(cfg *Config) *Publisher {
	m := metrics.DefaultMetrics

	if cfg == nil {
		log.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return &Publisher{
			enabled: false,
			metrics: m,
		}
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, using log-only mode")
		return &Publisher{
			principal:    cfg.Principal,
			topicSegment: cfg.TopicSegment,
			topicScore:   cfg.TopicScore,
			enabled:      false,
			metrics:      m,
		}
	}

	// Longer dial timeouts for DNS resolution in Kubernetes.
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}

	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}

	writerSegment := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.TopicSegment,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    transport,
	}

	writerScore := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.TopicScore,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    transport,
	}

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicSegment", cfg.TopicSegment).
		Str("topicScore", cfg.TopicScore).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")

	return &Publisher{
		writerSegment: writerSegment,
		writerScore:   writerScore,
		principal:     cfg.Principal,
		topicSegment:  cfg.TopicSegment,
		topicScore:    cfg.TopicScore,
		enabled:       true,
		metrics:       m,
	}
}

// PublishSegment publishes a finalized segment to the segment topic. The
// session ID keys the message so one session's segments stay ordered.
func (p *Publisher) PublishSegment(ctx context.Context, sessionID string, seg models.TranscriptSegment) error {
	record := SegmentRecord{
		SessionID: sessionID,
		SegmentID: models.SegmentID(seg.Seq),
		Text:      seg.Text,
		Timestamp: seg.Timestamp,
	}
	return p.publish(ctx, p.writerSegment, p.topicSegment, "segment", sessionID, record)
}

// PublishScore publishes a scoring verdict to the score topic.
func (p *Publisher) PublishScore(ctx context.Context, sessionID, segID string, result models.ScoreResult) error {
	record := ScoreRecord{
		SessionID: sessionID,
		SegmentID: segID,
		Score:     result.Score,
		Label:     result.Label,
		Flagged:   result.Flagged,
		Source:    result.Source,
	}
	return p.publish(ctx, p.writerScore, p.topicScore, "score", sessionID, record)
}

// publish is the internal method that writes to a specific Kafka writer.
func (p *Publisher) publish(ctx context.Context, writer *kafka.Writer, topic, eventType, key string, event any) error {
	start := time.Now()

	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to marshal event")
		return err
	}

	log.Debug().
		Str("principal", p.principal).
		Str("topic", topic).
		Str("key", key).
		RawJSON("payload", payload).
		Msg("Publishing event")

	// If Kafka is disabled, just log
	if !p.enabled || writer == nil {
		p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(eventType)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}

	if err := writer.WriteMessages(ctx, msg); err != nil {
		log.Error().
			Err(err).
			Str("topic", topic).
			Str("key", key).
			Msg("Failed to write to Kafka")
		p.metrics.RecordKafkaPublish(topic, eventType, err, time.Since(start).Seconds())
		return err
	}

	p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
	return nil
}

// Close closes both Kafka writers.
func (p *Publisher) Close() error {
	var err error
	if p.writerSegment != nil {
		if e := p.writerSegment.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing segment writer")
			err = e
		}
	}
	if p.writerScore != nil {
		if e := p.writerScore.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing score writer")
			err = e
		}
	}
	return err
}
