package publish

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinical-reasoning-engine/internal/domain"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testRecord() *domain.ReportRecord {
	return &domain.ReportRecord{
		ID:               "report-1",
		SubjectID:        "subject-1",
		KnowledgeVersion: "2026.1",
		Urgency:          domain.UrgencyUrgent,
		RiskTier:         domain.RiskTierHigh,
		Report:           &domain.Report{Summary: "1 abnormal results:\n"},
	}
}

func header(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestKafkaPublisher_Publish(t *testing.T) {
	w := &fakeWriter{}
	p := newKafkaPublisher(w, "reports", testLogger())

	require.NoError(t, p.Publish(context.Background(), testRecord()))
	require.Len(t, w.messages, 1)

	msg := w.messages[0]
	assert.Equal(t, "report-1", string(msg.Key))
	assert.Equal(t, EventReportGenerated, header(msg, "event-type"))
	assert.Equal(t, "urgent", header(msg, "urgency"))

	var event ReportEvent
	require.NoError(t, json.Unmarshal(msg.Value, &event))
	assert.NotEmpty(t, event.ID)
	assert.Equal(t, EventReportGenerated, event.Type)
	assert.Equal(t, "report-1", event.ReportID)
	assert.Equal(t, "subject-1", event.SubjectID)
	assert.Equal(t, domain.RiskTierHigh, event.RiskTier)
	require.NotNil(t, event.Report)
	assert.Equal(t, "1 abnormal results:\n", event.Report.Summary)
	assert.False(t, event.Timestamp.IsZero())

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestKafkaPublisher_PublishErrors(t *testing.T) {
	w := &fakeWriter{err: errors.New("leader not available")}
	p := newKafkaPublisher(w, "reports", testLogger())

	err := p.Publish(context.Background(), testRecord())
	assert.ErrorContains(t, err, "report-1")
	assert.ErrorContains(t, err, "leader not available")

	var verr *domain.ValidationError
	assert.ErrorAs(t, p.Publish(context.Background(), nil), &verr)
}

func TestNewKafkaPublisher_Validation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     domain.KafkaConfig
		wantErr bool
	}{
		{"no brokers", domain.KafkaConfig{Topic: "reports"}, true},
		{"no topic", domain.KafkaConfig{Brokers: []string{"localhost:9092"}}, true},
		{"valid", domain.KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "reports"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewKafkaPublisher(tt.cfg, testLogger())
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NoError(t, p.Close())
		})
	}
}

func TestNew(t *testing.T) {
	p, err := New(domain.KafkaConfig{Enabled: false}, testLogger())
	require.NoError(t, err)
	assert.IsType(t, NoopPublisher{}, p)
	assert.NoError(t, p.Publish(context.Background(), testRecord()))

	p, err = New(domain.KafkaConfig{Enabled: true, Brokers: []string{"localhost:9092"}, Topic: "reports"}, testLogger())
	require.NoError(t, err)
	assert.IsType(t, &BreakerPublisher{}, p)
	assert.NoError(t, p.Close())
}
