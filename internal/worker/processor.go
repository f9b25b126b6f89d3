package worker

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iago/mileage-reports-back/internal/domain"
	"github.com/iago/mileage-reports-back/internal/queue"
)

const (
	receiveErrorBackoff  = 2 * time.Second
	deadLetterReason     = "report could not be generated after repeated delivery attempts"
	defaultReceiveCount  = 3
	defaultVisibility    = 60 * time.Second
	defaultPollWait      = 10 * time.Second
	minHeartbeatInterval = 10 * time.Millisecond
)

// Reports is the part of the report service the consume loop drives.
type Reports interface {
	GetReportStatus(ctx context.Context, jobID string) (*domain.ReportJob, error)
	MarkProcessing(ctx context.Context, jobID string) (*domain.ReportJob, error)
	GenerateNow(ctx context.Context, jobID string) (*domain.ReportJob, error)
	MarkFailed(ctx context.Context, jobID string, reason string, force bool) (*domain.ReportJob, error)
}

// Outcome describes what happened to one delivery.
type Outcome string

const (
	OutcomeCompleted    Outcome = "completed"
	OutcomeFailed       Outcome = "failed"
	OutcomeDeadLettered Outcome = "dead_lettered"
	OutcomeSkipped      Outcome = "skipped"
	// OutcomeRetained leaves the message for redelivery after its visibility timeout.
	OutcomeRetained Outcome = "retained"
)

type ProcessorConfig struct {
	PollWait          time.Duration
	VisibilityTimeout time.Duration
	MaxReceiveCount   int
}

// Processor consumes report job messages one at a time.
type Processor struct {
	consumer queue.Consumer
	reports  Reports
	cfg      ProcessorConfig
	logger   *slog.Logger
}

func NewProcessor(
	consumer queue.Consumer,
	reports Reports,
	cfg ProcessorConfig,
	logger *slog.Logger,
) *Processor {
	if cfg.PollWait <= 0 {
		cfg.PollWait = defaultPollWait
	}
	if cfg.VisibilityTimeout <= 0 {
		cfg.VisibilityTimeout = defaultVisibility
	}
	if cfg.MaxReceiveCount <= 0 {
		cfg.MaxReceiveCount = defaultReceiveCount
	}
	return &Processor{
		consumer: consumer,
		reports:  reports,
		cfg:      cfg,
		logger:   logger,
	}
}

// Start polls until ctx is cancelled. A message already received when ctx is
// cancelled is processed to the end before Start returns.
func (p *Processor) Start(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		deliveries, err := p.consumer.Receive(ctx, queue.ReceiveOptions{
			MaxMessages:       1,
			Wait:              p.cfg.PollWait,
			VisibilityTimeout: p.cfg.VisibilityTimeout,
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.ErrorContext(ctx, "receive report message failed", "error", err)

			timer := time.NewTimer(receiveErrorBackoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			continue
		}

		for _, delivery := range deliveries {
			p.Handle(context.WithoutCancel(ctx), delivery)
		}
	}
}

// Handle runs one delivery through the dead-letter check, the idempotency
// guards and generation. It never panics the loop on job errors.
func (p *Processor) Handle(ctx context.Context, delivery queue.Delivery) Outcome {
	jobID := strings.TrimSpace(delivery.Body)
	if _, err := uuid.Parse(jobID); err != nil {
		if delivery.ReceiveCount >= p.cfg.MaxReceiveCount {
			p.logger.WarnContext(ctx, "dropping malformed report message",
				"body", delivery.Body,
				"receive_count", delivery.ReceiveCount)
			p.delete(ctx, delivery, jobID)
			return OutcomeDeadLettered
		}
		p.logger.WarnContext(ctx, "malformed report message left for redelivery",
			"body", delivery.Body,
			"receive_count", delivery.ReceiveCount)
		return OutcomeRetained
	}
	logger := p.logger.With("job_id", jobID, "receive_count", delivery.ReceiveCount)

	if delivery.ReceiveCount >= p.cfg.MaxReceiveCount {
		_, err := p.reports.MarkFailed(ctx, jobID, deadLetterReason, true)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			logger.ErrorContext(ctx, "dead-letter report job failed", "error", err)
			return OutcomeRetained
		}
		logger.WarnContext(ctx, "report job dead-lettered")
		p.delete(ctx, delivery, jobID)
		return OutcomeDeadLettered
	}

	job, err := p.reports.GetReportStatus(ctx, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			logger.InfoContext(ctx, "report job no longer exists")
			p.delete(ctx, delivery, jobID)
			return OutcomeSkipped
		}
		logger.ErrorContext(ctx, "load report job failed", "error", err)
		return OutcomeRetained
	}
	switch job.Status {
	case domain.ReportStatusCompleted, domain.ReportStatusFailed, domain.ReportStatusExpired:
		logger.InfoContext(ctx, "duplicate delivery for finished report", "status", job.Status)
		p.delete(ctx, delivery, jobID)
		return OutcomeSkipped
	}

	if _, err := p.reports.MarkProcessing(ctx, jobID); err != nil {
		if errors.Is(err, domain.ErrInvalidState) {
			logger.InfoContext(ctx, "report job changed state before processing", "error", err)
			p.delete(ctx, delivery, jobID)
			return OutcomeSkipped
		}
		return p.fail(ctx, logger, delivery, jobID, err)
	}

	stop := p.heartbeat(ctx, logger, delivery.Handle)
	_, err = p.reports.GenerateNow(ctx, jobID)
	stop()
	if err != nil {
		return p.fail(ctx, logger, delivery, jobID, err)
	}

	logger.InfoContext(ctx, "report job processed")
	p.delete(ctx, delivery, jobID)
	return OutcomeCompleted
}

// fail marks the job failed and acknowledges the message. If the failure
// cannot be persisted the message is kept so the broker redelivers it.
func (p *Processor) fail(
	ctx context.Context,
	logger *slog.Logger,
	delivery queue.Delivery,
	jobID string,
	cause error,
) Outcome {
	logger.ErrorContext(ctx, "report generation failed", "error", cause)

	_, err := p.reports.MarkFailed(ctx, jobID, cause.Error(), false)
	if err != nil && !errors.Is(err, domain.ErrInvalidState) && !errors.Is(err, domain.ErrNotFound) {
		logger.ErrorContext(ctx, "mark report failed failed", "error", err)
		return OutcomeRetained
	}
	p.delete(ctx, delivery, jobID)
	return OutcomeFailed
}

func (p *Processor) delete(ctx context.Context, delivery queue.Delivery, jobID string) {
	if err := p.consumer.Delete(ctx, delivery.Handle); err != nil {
		p.logger.WarnContext(ctx, "delete report message failed",
			"job_id", jobID,
			"handle", delivery.Handle,
			"error", err)
	}
}

// heartbeat extends the message visibility every half timeout until stopped.
func (p *Processor) heartbeat(ctx context.Context, logger *slog.Logger, handle string) func() {
	interval := p.cfg.VisibilityTimeout / 2
	if interval < minHeartbeatInterval {
		interval = minHeartbeatInterval
	}

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := p.consumer.ExtendVisibility(ctx, handle, p.cfg.VisibilityTimeout); err != nil {
					logger.WarnContext(ctx, "extend report message visibility failed", "error", err)
				}
			}
		}
	}()
	return func() {
		cancel()
		wg.Wait()
	}
}
