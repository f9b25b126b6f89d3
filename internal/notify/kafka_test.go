package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iago/mileage-reports-back/internal/domain"
	"github.com/iago/mileage-reports-back/internal/logging"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func testJob() *domain.ReportJob {
	return &domain.ReportJob{
		ID:     "job-1",
		UserID: "user-1",
		Status: domain.ReportStatusCompleted,
		Period: domain.DateRange{
			Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
		},
	}
}

func TestKafkaNotifierPublishesKeyedEvents(t *testing.T) {
	writer := &fakeWriter{}
	notifier := newKafkaNotifier(writer, KafkaConfig{
		CompletedTopic: "report.completed",
		FailedTopic:    "report.failed",
	}, logging.Discard())

	ok := notifier.NotifyCompleted(context.Background(), "user-1", testJob(), "https://example/dl")
	require.True(t, ok)
	require.Len(t, writer.messages, 1)

	message := writer.messages[0]
	assert.Equal(t, "report.completed", message.Topic)
	assert.Equal(t, []byte("user-1"), message.Key)

	var event reportEvent
	require.NoError(t, json.Unmarshal(message.Value, &event))
	assert.Equal(t, "report.completed", event.Type)
	assert.Equal(t, "job-1", event.JobID)
	assert.Equal(t, "2024-01-01", event.StartDate)
	assert.Equal(t, "https://example/dl", event.DownloadURL)

	assert.True(t, notifier.NotifyFailed(context.Background(), "user-1", testJob()))
	assert.Equal(t, "report.failed", writer.messages[1].Topic)
}

func TestKafkaNotifierSwallowsPublishErrors(t *testing.T) {
	writer := &fakeWriter{err: errors.New("broker down")}
	notifier := newKafkaNotifier(writer, KafkaConfig{CompletedTopic: "c", FailedTopic: "f"}, logging.Discard())

	assert.False(t, notifier.NotifyFailed(context.Background(), "user-1", testJob()))
}

func TestNewKafkaNotifierRequiresBrokers(t *testing.T) {
	_, err := NewKafkaNotifier(KafkaConfig{}, logging.Discard())
	assert.Error(t, err)
}
