// Package events publishes transcript and translation events to Kafka.
package events

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"live-translate-service/internal/models"
	"live-translate-service/internal/observability/metrics"
)

// messageWriter is the subset of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher publishes events to separate topics for transcripts and
// translations. When Kafka is disabled events are only logged.
type Publisher struct {
	writerTranscripts  messageWriter
	writerTranslations messageWriter
	principal          string
	topicTranscripts   string
	topicTranslations  string
	enabled            bool
	metrics            *metrics.Metrics
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers           []string
	TopicTranscripts  string
	TopicTranslations string
	Principal         string
	Enabled           bool
}

// New creates a publisher. A nil config, a disabled config or a config
// without brokers yields a log-only publisher.
func New(cfg *Config, m *metrics.Metrics) *Publisher {
	if m == nil {
		m = metrics.DefaultMetrics
	}

	if cfg == nil {
		log.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return &Publisher{metrics: m}
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, using log-only mode")
		return &Publisher{
			principal:         cfg.Principal,
			topicTranscripts:  cfg.TopicTranscripts,
			topicTranslations: cfg.TopicTranslations,
			metrics:           m,
		}
	}

	// Longer dial timeout for DNS resolution in Kubernetes
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}

	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
			RequiredAcks: kafka.RequireOne,
			Transport:    transport,
		}
	}

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicTranscripts", cfg.TopicTranscripts).
		Str("topicTranslations", cfg.TopicTranslations).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")

	return &Publisher{
		writerTranscripts:  newWriter(cfg.TopicTranscripts),
		writerTranslations: newWriter(cfg.TopicTranslations),
		principal:          cfg.Principal,
		topicTranscripts:   cfg.TopicTranscripts,
		topicTranslations:  cfg.TopicTranslations,
		enabled:            true,
		metrics:            m,
	}
}

// Enabled reports whether events are written to Kafka.
func (p *Publisher) Enabled() bool {
	return p.enabled
}

// PublishTranscript publishes a transcript event keyed by session id.
func (p *Publisher) PublishTranscript(ctx context.Context, event models.TranscriptEvent) error {
	return p.publish(ctx, p.writerTranscripts, p.topicTranscripts, event.EventType, event.SessionID, event)
}

// PublishTranslation publishes a translation event keyed by session id.
func (p *Publisher) PublishTranslation(ctx context.Context, event models.TranslationEvent) error {
	return p.publish(ctx, p.writerTranslations, p.topicTranslations, event.EventType, event.SessionID, event)
}

func (p *Publisher) publish(ctx context.Context, writer messageWriter, topic, eventType, key string, event any) error {
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

// Close closes both writers.
func (p *Publisher) Close() error {
	var err error
	if p.writerTranscripts != nil {
		if e := p.writerTranscripts.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing transcripts writer")
			err = e
		}
	}
	if p.writerTranslations != nil {
		if e := p.writerTranslations.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing translations writer")
			err = e
		}
	}
	return err
}
