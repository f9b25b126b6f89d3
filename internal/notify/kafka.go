package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/iago/mileage-reports-back/internal/domain"
)

const publishTimeout = 5 * time.Second

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// reportEvent is the payload consumed by the notification service.
type reportEvent struct {
	Type          string    `json:"type"`
	UserID        string    `json:"user_id"`
	JobID         string    `json:"job_id"`
	StartDate     string    `json:"start_date"`
	EndDate       string    `json:"end_date"`
	Status        string    `json:"status"`
	DownloadURL   string    `json:"download_url,omitempty"`
	RetryAttempts int       `json:"retry_attempts"`
	OccurredAt    time.Time `json:"occurred_at"`
}

type KafkaConfig struct {
	Brokers        []string
	CompletedTopic string
	FailedTopic    string
}

// KafkaNotifier publishes report events keyed by user id.
type KafkaNotifier struct {
	writer         messageWriter
	completedTopic string
	failedTopic    string
	logger         *slog.Logger
}

func NewKafkaNotifier(cfg KafkaConfig, logger *slog.Logger) (*KafkaNotifier, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka notifier requires at least one broker")
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		RequiredAcks: kafka.RequireAll,
		Balancer:     &kafka.Hash{},
	}
	return newKafkaNotifier(writer, cfg, logger), nil
}

func newKafkaNotifier(writer messageWriter, cfg KafkaConfig, logger *slog.Logger) *KafkaNotifier {
	return &KafkaNotifier{
		writer:         writer,
		completedTopic: cfg.CompletedTopic,
		failedTopic:    cfg.FailedTopic,
		logger:         logger,
	}
}

func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}

func (n *KafkaNotifier) NotifyCompleted(ctx context.Context, userID string, job *domain.ReportJob, downloadURL string) bool {
	return n.publish(ctx, n.completedTopic, "report.completed", userID, job, downloadURL)
}

func (n *KafkaNotifier) NotifyFailed(ctx context.Context, userID string, job *domain.ReportJob) bool {
	return n.publish(ctx, n.failedTopic, "report.failed", userID, job, "")
}

func (n *KafkaNotifier) publish(
	ctx context.Context,
	topic string,
	eventType string,
	userID string,
	job *domain.ReportJob,
	downloadURL string,
) bool {
	payload, err := json.Marshal(reportEvent{
		Type:          eventType,
		UserID:        userID,
		JobID:         job.ID,
		StartDate:     job.Period.Start.Format(domain.DateLayout),
		EndDate:       job.Period.End.Format(domain.DateLayout),
		Status:        string(job.Status),
		DownloadURL:   downloadURL,
		RetryAttempts: job.RetryAttempts,
		OccurredAt:    time.Now().UTC(),
	})
	if err != nil {
		n.logger.ErrorContext(ctx, "encode report event failed", "job_id", job.ID, "error", err)
		return false
	}

	publishCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	err = n.writer.WriteMessages(publishCtx, kafka.Message{
		Topic: topic,
		Key:   []byte(userID),
		Value: payload,
		Time:  time.Now().UTC(),
	})
	if err != nil {
		n.logger.WarnContext(ctx, "publish report event failed",
			"event", eventType,
			"job_id", job.ID,
			"user_id", userID,
			"error", err)
		return false
	}
	return true
}
