package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iago/mileage-reports-back/internal/domain"
	"github.com/iago/mileage-reports-back/internal/notify"
	"github.com/iago/mileage-reports-back/internal/queue"
	"github.com/iago/mileage-reports-back/internal/ratelimit"
	"github.com/iago/mileage-reports-back/internal/report"
	"github.com/iago/mileage-reports-back/internal/repository"
	"github.com/iago/mileage-reports-back/internal/storage"
)

const missingBlobMessage = "report file is no longer available"

// DataBuilder produces the snapshot rendered for a job.
type DataBuilder interface {
	Build(ctx context.Context, job *domain.ReportJob) (domain.ReportData, error)
}

// Options are the thresholds the service enforces.
type Options struct {
	Limits         ratelimit.Limits
	MaxRetries     int
	ValidityWindow time.Duration
	DownloadURLTTL time.Duration
	StuckTimeout   time.Duration
	PendingTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		Limits:         ratelimit.DefaultLimits(),
		MaxRetries:     3,
		ValidityWindow: 90 * 24 * time.Hour,
		DownloadURLTTL: time.Hour,
		StuckTimeout:   30 * time.Minute,
		PendingTimeout: 2 * time.Hour,
	}
}

// Deps are the capability handles the service orchestrates.
type Deps struct {
	Jobs     repository.JobsRepository
	Producer queue.Producer
	Builder  DataBuilder
	Renderer report.Renderer
	Blobs    storage.BlobStore
	Notifier notify.Notifier
	Logger   *slog.Logger
}

// DownloadLink is a time-limited URL for a completed report.
type DownloadLink struct {
	URL       string
	FileName  string
	ExpiresAt time.Time
}

// SweepResult counts the jobs a sweep pass changed.
type SweepResult struct {
	Stuck     int
	Abandoned int
	Expired   int
}

// ReportService owns the report job state machine and the creation policy.
type ReportService struct {
	jobs     repository.JobsRepository
	producer queue.Producer
	builder  DataBuilder
	renderer report.Renderer
	blobs    storage.BlobStore
	notifier notify.Notifier
	logger   *slog.Logger
	opts     Options

	// createMu serializes the limit check with the insert it guards.
	createMu sync.Mutex
	now      func() time.Time
	newID    func() string
}

func NewReportService(deps Deps, opts Options) *ReportService {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ReportService{
		jobs:     deps.Jobs,
		producer: deps.Producer,
		builder:  deps.Builder,
		renderer: deps.Renderer,
		blobs:    deps.Blobs,
		notifier: deps.Notifier,
		logger:   logger,
		opts:     opts,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

func (s *ReportService) GenerateReport(
	ctx context.Context,
	userID string,
	period domain.DateRange,
) (*domain.ReportJob, error) {
	if userID == "" {
		return nil, domain.Validation("user id is required")
	}
	if period.Start.IsZero() || period.End.Before(period.Start) {
		return nil, domain.Validation("start_date must be on or before end_date")
	}

	s.createMu.Lock()
	defer s.createMu.Unlock()

	if err := s.checkLimits(ctx, userID); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	job := &domain.ReportJob{
		ID:          s.newID(),
		UserID:      userID,
		Period:      period,
		Status:      domain.ReportStatusPending,
		RequestedAt: now,
		UpdatedAt:   now,
	}
	if err := s.jobs.CreateJob(ctx, job); err != nil {
		return nil, domain.Persistence("create report job", err)
	}

	// The row is committed; an enqueue failure leaves it pending for the sweep.
	s.enqueue(ctx, job)
	return job, nil
}

// GenerateNow builds, renders and stores the report, then completes the job.
// Re-running it for the same job overwrites the stored object.
func (s *ReportService) GenerateNow(ctx context.Context, jobID string) (*domain.ReportJob, error) {
	job, err := s.load(ctx, jobID)
	if err != nil {
		return nil, err
	}

	data, err := s.builder.Build(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("build report %s: %w", jobID, err)
	}
	document, err := s.renderer.Render(data)
	if err != nil {
		return nil, fmt.Errorf("render report %s: %w", jobID, err)
	}
	key := domain.StorageKeyFor(job.ID)
	if err := s.blobs.Put(ctx, key, document, report.ContentType); err != nil {
		return nil, fmt.Errorf("store report %s: %w", jobID, err)
	}

	now := s.now().UTC()
	completed, err := s.jobs.UpdateJob(ctx, jobID, func(job *domain.ReportJob) error {
		if err := transition(job, domain.ReportStatusCompleted, now); err != nil {
			return err
		}
		expiresAt := now.Add(s.opts.ValidityWindow)
		job.FileName = domain.FileNameFor(job.Period)
		job.StorageKey = key
		job.ErrorMessage = ""
		job.CompletedAt = &now
		job.ExpiresAt = &expiresAt
		return nil
	})
	if err != nil {
		return nil, updateError(jobID, err)
	}

	s.logger.InfoContext(ctx, "report completed",
		"job_id", jobID,
		"user_id", completed.UserID,
		"bytes", len(document),
		"trips", len(data.Trips))

	url, err := s.blobs.SignedURL(ctx, key, s.linkTTL(completed, now))
	if err != nil {
		s.logger.WarnContext(ctx, "sign report url for notification failed", "job_id", jobID, "error", err)
		url = ""
	}
	s.notifier.NotifyCompleted(ctx, completed.UserID, completed, url)
	return completed, nil
}

// GetReportStatus loads a job, demoting it to expired when its window has passed.
func (s *ReportService) GetReportStatus(ctx context.Context, jobID string) (*domain.ReportJob, error) {
	job, err := s.load(ctx, jobID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	if job.Status == domain.ReportStatusCompleted && job.Expired(now) {
		return s.expire(ctx, job.ID, "", now)
	}
	return job, nil
}

// ListUserReports returns the user's jobs newest first. Completed jobs past
// their window or missing their blob are demoted before returning.
func (s *ReportService) ListUserReports(ctx context.Context, userID string) ([]domain.ReportJob, error) {
	jobs, err := s.jobs.ListUserJobs(ctx, userID)
	if err != nil {
		return nil, domain.Persistence("list report jobs", err)
	}

	now := s.now().UTC()
	for i := range jobs {
		job := &jobs[i]
		if job.Status != domain.ReportStatusCompleted {
			continue
		}

		reason := ""
		if !job.Expired(now) {
			exists, err := s.blobs.Exists(ctx, job.StorageKey)
			if err != nil {
				s.logger.WarnContext(ctx, "check report blob failed", "job_id", job.ID, "error", err)
				continue
			}
			if exists {
				continue
			}
			reason = missingBlobMessage
		}

		expired, err := s.expire(ctx, job.ID, reason, now)
		if err != nil {
			return nil, err
		}
		jobs[i] = *expired
	}
	return jobs, nil
}

func (s *ReportService) RetryReport(ctx context.Context, jobID, userID string) (*domain.ReportJob, error) {
	job, err := s.load(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.UserID != userID {
		return nil, domain.ErrPermission
	}
	if err := s.checkRetry(job); err != nil {
		return nil, err
	}

	s.createMu.Lock()
	defer s.createMu.Unlock()

	if err := s.checkLimits(ctx, userID); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	retried, err := s.jobs.UpdateJob(ctx, jobID, func(job *domain.ReportJob) error {
		if err := s.checkRetry(job); err != nil {
			return err
		}
		if err := transition(job, domain.ReportStatusPending, now); err != nil {
			return err
		}
		job.RetryAttempts++
		job.ErrorMessage = ""
		job.ProcessingStartedAt = nil
		return nil
	})
	if err != nil {
		return nil, updateError(jobID, err)
	}

	s.logger.InfoContext(ctx, "report retry requested",
		"job_id", jobID,
		"user_id", userID,
		"retry_attempts", retried.RetryAttempts)
	s.enqueue(ctx, retried)
	return retried, nil
}

func (s *ReportService) GetDownloadURL(ctx context.Context, jobID, userID string) (DownloadLink, error) {
	job, err := s.load(ctx, jobID)
	if err != nil {
		return DownloadLink{}, err
	}
	if job.UserID != userID {
		return DownloadLink{}, domain.ErrPermission
	}

	now := s.now().UTC()
	switch job.Status {
	case domain.ReportStatusExpired:
		return DownloadLink{}, domain.ErrExpired
	case domain.ReportStatusCompleted:
	default:
		return DownloadLink{}, &domain.Error{
			Kind:    domain.KindInvalidState,
			Message: fmt.Sprintf("report is %s, download requires a completed report", job.Status),
		}
	}

	if job.Expired(now) {
		if _, err := s.expire(ctx, job.ID, "", now); err != nil {
			return DownloadLink{}, err
		}
		return DownloadLink{}, domain.ErrExpired
	}

	exists, err := s.blobs.Exists(ctx, job.StorageKey)
	if err != nil {
		return DownloadLink{}, fmt.Errorf("check report blob %s: %w", job.StorageKey, err)
	}
	if !exists {
		if _, err := s.expire(ctx, job.ID, missingBlobMessage, now); err != nil {
			return DownloadLink{}, err
		}
		return DownloadLink{}, domain.ErrExpired
	}

	ttl := s.linkTTL(job, now)
	url, err := s.blobs.SignedURL(ctx, job.StorageKey, ttl)
	if err != nil {
		return DownloadLink{}, fmt.Errorf("sign report url %s: %w", job.ID, err)
	}
	return DownloadLink{URL: url, FileName: job.FileName, ExpiresAt: now.Add(ttl)}, nil
}

// MarkProcessing records that the worker has started the job.
func (s *ReportService) MarkProcessing(ctx context.Context, jobID string) (*domain.ReportJob, error) {
	now := s.now().UTC()
	job, err := s.jobs.UpdateJob(ctx, jobID, func(job *domain.ReportJob) error {
		if err := transition(job, domain.ReportStatusProcessing, now); err != nil {
			return err
		}
		job.ProcessingStartedAt = &now
		return nil
	})
	if err != nil {
		return nil, updateError(jobID, err)
	}
	return job, nil
}

// MarkFailed moves the job to failed and notifies the owner once. With force
// the transition is applied from any state; an already failed job is left as is.
func (s *ReportService) MarkFailed(
	ctx context.Context,
	jobID string,
	reason string,
	force bool,
) (*domain.ReportJob, error) {
	return s.fail(ctx, jobID, reason, func(job *domain.ReportJob) (bool, error) {
		if job.Status == domain.ReportStatusFailed {
			return false, nil
		}
		if !force && !domain.CanTransition(job.Status, domain.ReportStatusFailed) {
			return false, domain.InvalidState(job.Status, domain.ReportStatusFailed)
		}
		return true, nil
	})
}

// FailStuckJobs fails processing jobs older than the stuck timeout and pending
// jobs untouched for the pending timeout.
func (s *ReportService) FailStuckJobs(ctx context.Context, now time.Time) (SweepResult, error) {
	var (
		result SweepResult
		errs   []error
	)

	stuckCutoff := now.Add(-s.opts.StuckTimeout)
	stuck, err := s.jobs.ListProcessingStartedBefore(ctx, stuckCutoff)
	if err != nil {
		return result, domain.Persistence("list stuck report jobs", err)
	}
	for _, candidate := range stuck {
		changed, err := s.failIf(ctx, candidate.ID, "processing timed out", func(job *domain.ReportJob) bool {
			return job.Status == domain.ReportStatusProcessing &&
				job.ProcessingStartedAt != nil &&
				job.ProcessingStartedAt.Before(stuckCutoff)
		})
		if err != nil {
			s.logger.ErrorContext(ctx, "fail stuck report job failed", "job_id", candidate.ID, "error", err)
			errs = append(errs, err)
			continue
		}
		if changed {
			result.Stuck++
		}
	}

	if s.opts.PendingTimeout > 0 {
		pendingCutoff := now.Add(-s.opts.PendingTimeout)
		abandoned, err := s.jobs.ListPendingUpdatedBefore(ctx, pendingCutoff)
		if err != nil {
			errs = append(errs, domain.Persistence("list abandoned report jobs", err))
			return result, errors.Join(errs...)
		}
		for _, candidate := range abandoned {
			changed, err := s.failIf(ctx, candidate.ID, "report was never picked up", func(job *domain.ReportJob) bool {
				return job.Status == domain.ReportStatusPending && job.UpdatedAt.Before(pendingCutoff)
			})
			if err != nil {
				s.logger.ErrorContext(ctx, "fail abandoned report job failed", "job_id", candidate.ID, "error", err)
				errs = append(errs, err)
				continue
			}
			if changed {
				result.Abandoned++
			}
		}
	}
	return result, errors.Join(errs...)
}

// ExpireDueReports demotes completed jobs whose window ended at or before now.
func (s *ReportService) ExpireDueReports(ctx context.Context, now time.Time) (int, error) {
	due, err := s.jobs.ListCompletedExpiringBefore(ctx, now)
	if err != nil {
		return 0, domain.Persistence("list expiring report jobs", err)
	}
	expired := 0
	var errs []error
	for _, candidate := range due {
		job, err := s.expire(ctx, candidate.ID, "", now)
		if err != nil {
			s.logger.ErrorContext(ctx, "expire report job failed", "job_id", candidate.ID, "error", err)
			errs = append(errs, err)
			continue
		}
		if job.Status == domain.ReportStatusExpired {
			expired++
		}
	}
	return expired, errors.Join(errs...)
}

func (s *ReportService) failIf(
	ctx context.Context,
	jobID string,
	reason string,
	eligible func(job *domain.ReportJob) bool,
) (bool, error) {
	changed := false
	_, err := s.fail(ctx, jobID, reason, func(job *domain.ReportJob) (bool, error) {
		changed = eligible(job)
		return changed, nil
	})
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	return changed, err
}

// fail applies the failed transition when apply allows it and notifies the
// owner only when the row actually changed.
func (s *ReportService) fail(
	ctx context.Context,
	jobID string,
	reason string,
	apply func(job *domain.ReportJob) (bool, error),
) (*domain.ReportJob, error) {
	now := s.now().UTC()
	changed := false
	job, err := s.jobs.UpdateJob(ctx, jobID, func(job *domain.ReportJob) error {
		ok, err := apply(job)
		if err != nil || !ok {
			return err
		}
		job.Status = domain.ReportStatusFailed
		job.ErrorMessage = reason
		job.UpdatedAt = now
		changed = true
		return nil
	})
	if err != nil {
		return nil, updateError(jobID, err)
	}
	if changed {
		s.logger.WarnContext(ctx, "report failed",
			"job_id", jobID,
			"user_id", job.UserID,
			"reason", reason)
		s.notifier.NotifyFailed(ctx, job.UserID, job)
	}
	return job, nil
}

// expire demotes a completed job; other states are returned unchanged.
func (s *ReportService) expire(
	ctx context.Context,
	jobID string,
	reason string,
	now time.Time,
) (*domain.ReportJob, error) {
	job, err := s.jobs.UpdateJob(ctx, jobID, func(job *domain.ReportJob) error {
		if job.Status != domain.ReportStatusCompleted {
			return nil
		}
		if err := transition(job, domain.ReportStatusExpired, now); err != nil {
			return err
		}
		if reason != "" {
			job.ErrorMessage = reason
		}
		return nil
	})
	if err != nil {
		return nil, updateError(jobID, err)
	}
	if job.Status == domain.ReportStatusExpired {
		s.logger.DebugContext(ctx, "report expired", "job_id", jobID, "reason", reason)
	}
	return job, nil
}

func (s *ReportService) checkRetry(job *domain.ReportJob) error {
	if job.Status != domain.ReportStatusFailed {
		return domain.InvalidState(job.Status, domain.ReportStatusPending)
	}
	if job.RetryAttempts >= s.opts.MaxRetries {
		return domain.ErrMaxRetries
	}
	return nil
}

func (s *ReportService) checkLimits(ctx context.Context, userID string) error {
	now := s.now().UTC()
	counts := ratelimit.Counts{UserID: userID}

	var err error
	if counts.SystemActive, err = s.jobs.CountActiveJobs(ctx); err != nil {
		return domain.Persistence("count active report jobs", err)
	}
	if s.opts.Limits.CooldownWindow > 0 {
		since := now.Add(-s.opts.Limits.CooldownWindow)
		if counts.UserInCooldown, err = s.jobs.CountUserJobsSince(ctx, userID, since); err != nil {
			return domain.Persistence("count recent report jobs", err)
		}
	}
	if counts.UserToday, err = s.jobs.CountUserJobsSince(ctx, userID, ratelimit.DayStart(now)); err != nil {
		return domain.Persistence("count daily report jobs", err)
	}

	if err := ratelimit.Check(s.opts.Limits, counts); err != nil {
		s.logger.InfoContext(ctx, "report request throttled",
			"user_id", userID,
			"system_active", counts.SystemActive,
			"user_today", counts.UserToday,
			"error", err)
		return err
	}
	return nil
}

func (s *ReportService) enqueue(ctx context.Context, job *domain.ReportJob) {
	if err := s.producer.Enqueue(ctx, job.ID); err != nil {
		s.logger.ErrorContext(ctx, "enqueue report job failed",
			"job_id", job.ID,
			"user_id", job.UserID,
			"error", err)
	}
}

func (s *ReportService) load(ctx context.Context, jobID string) (*domain.ReportJob, error) {
	job, err := s.jobs.GetJob(ctx, jobID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, domain.NotFound(jobID)
	}
	if err != nil {
		return nil, domain.Persistence("load report job", err)
	}
	return job, nil
}

// linkTTL caps the configured URL lifetime at the job's remaining window.
func (s *ReportService) linkTTL(job *domain.ReportJob, now time.Time) time.Duration {
	ttl := s.opts.DownloadURLTTL
	if job.ExpiresAt != nil {
		if remaining := job.ExpiresAt.Sub(now); remaining < ttl {
			ttl = remaining
		}
	}
	return ttl
}

func transition(job *domain.ReportJob, to domain.ReportStatus, now time.Time) error {
	if !domain.CanTransition(job.Status, to) {
		return domain.InvalidState(job.Status, to)
	}
	job.Status = to
	job.UpdatedAt = now
	return nil
}

func updateError(jobID string, err error) error {
	var domainErr *domain.Error
	switch {
	case errors.As(err, &domainErr):
		return domainErr
	case errors.Is(err, repository.ErrNotFound):
		return domain.NotFound(jobID)
	default:
		return domain.Persistence("update report job "+jobID, err)
	}
}
