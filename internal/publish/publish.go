// Package publish hands finished reports to downstream collaborators (report renderers,
// charting, notification services) over Kafka.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/clinical-reasoning-engine/internal/domain"
)

// EventReportGenerated is the event type of every published report.
const EventReportGenerated = "report.generated"

const eventSource = "clinical-reasoning-engine"

// ReportEvent is the message body written to the topic.
type ReportEvent struct {
	ID               string          `json:"id"`
	Type             string          `json:"type"`
	Source           string          `json:"source"`
	ReportID         string          `json:"report_id"`
	SubjectID        string          `json:"subject_id,omitempty"`
	Urgency          domain.Urgency  `json:"urgency"`
	RiskTier         domain.RiskTier `json:"risk_tier"`
	KnowledgeVersion string          `json:"knowledge_version"`
	Report           *domain.Report  `json:"report"`
	Timestamp        time.Time       `json:"timestamp"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes one message per report. Messages are keyed by report id so every
// version of a report lands on the same partition.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
	logger *logrus.Logger
}

// NewKafkaPublisher creates a synchronous publisher for cfg.Topic.
func NewKafkaPublisher(cfg domain.KafkaConfig, logger *logrus.Logger) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, domain.NewValidationError("kafka.brokers", "at least one broker is required", cfg.Brokers)
	}
	if cfg.Topic == "" {
		return nil, domain.NewValidationError("kafka.topic", "topic is required", cfg.Topic)
	}

	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = 10 * time.Millisecond
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		BatchSize:    1,
		BatchTimeout: batchTimeout,
	}

	return newKafkaPublisher(writer, cfg.Topic, logger), nil
}

func newKafkaPublisher(w messageWriter, topic string, logger *logrus.Logger) *KafkaPublisher {
	return &KafkaPublisher{writer: w, topic: topic, logger: logger}
}

// Publish writes rec as a report.generated event.
func (p *KafkaPublisher) Publish(ctx context.Context, rec *domain.ReportRecord) error {
	if rec == nil {
		return domain.NewValidationError("report", "report is required", nil)
	}

	event := ReportEvent{
		ID:               uuid.New().String(),
		Type:             EventReportGenerated,
		Source:           eventSource,
		ReportID:         rec.ID,
		SubjectID:        rec.SubjectID,
		Urgency:          rec.Urgency,
		RiskTier:         rec.RiskTier,
		KnowledgeVersion: rec.KnowledgeVersion,
		Report:           rec.Report,
		Timestamp:        time.Now().UTC(),
	}

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	message := kafka.Message{
		Key:   []byte(rec.ID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(EventReportGenerated)},
			{Key: "source", Value: []byte(eventSource)},
			{Key: "urgency", Value: []byte(rec.Urgency)},
		},
	}

	if err := p.writer.WriteMessages(ctx, message); err != nil {
		p.logger.WithError(err).WithFields(logrus.Fields{
			"event_id":  event.ID,
			"report_id": rec.ID,
		}).Error("Failed to publish report")
		return fmt.Errorf("failed to publish report %s: %w", rec.ID, err)
	}

	p.logger.WithFields(logrus.Fields{
		"event_id":  event.ID,
		"report_id": rec.ID,
		"topic":     p.topic,
	}).Info("Report published")
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NoopPublisher discards reports. It is used when Kafka is disabled.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, *domain.ReportRecord) error { return nil }

func (NoopPublisher) Close() error { return nil }

// New returns a Kafka publisher behind a circuit breaker when cfg is enabled and a
// NoopPublisher otherwise.
func New(cfg domain.KafkaConfig, logger *logrus.Logger) (domain.ReportPublisher, error) {
	if !cfg.Enabled {
		return NoopPublisher{}, nil
	}
	p, err := NewKafkaPublisher(cfg, logger)
	if err != nil {
		return nil, err
	}
	return NewBreakerPublisher(p, logger), nil
}
