package repository

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/iago/mileage-reports-back/internal/domain"
)

var ErrNotFound = errors.New("resource not found")

// MutateFunc edits a loaded job in place. Returning an error aborts the write.
type MutateFunc func(job *domain.ReportJob) error

// JobsRepository persists report jobs. It holds no business rules; every
// UpdateJob call is a single committed read-modify-write.
type JobsRepository interface {
	CreateJob(ctx context.Context, job *domain.ReportJob) error
	GetJob(ctx context.Context, jobID string) (*domain.ReportJob, error)
	UpdateJob(ctx context.Context, jobID string, mutate MutateFunc) (*domain.ReportJob, error)
	ListUserJobs(ctx context.Context, userID string) ([]domain.ReportJob, error)
	ListProcessingStartedBefore(ctx context.Context, cutoff time.Time) ([]domain.ReportJob, error)
	ListPendingUpdatedBefore(ctx context.Context, cutoff time.Time) ([]domain.ReportJob, error)
	ListCompletedExpiringBefore(ctx context.Context, cutoff time.Time) ([]domain.ReportJob, error)
	CountUserJobsSince(ctx context.Context, userID string, since time.Time) (int, error)
	CountActiveJobs(ctx context.Context) (int, error)
}

// MemoryJobsRepository stores jobs in memory for local development and tests.
type MemoryJobsRepository struct {
	mu   sync.RWMutex
	jobs map[string]*domain.ReportJob
}

func NewMemoryJobsRepository() *MemoryJobsRepository {
	return &MemoryJobsRepository{
		jobs: make(map[string]*domain.ReportJob),
	}
}

func (r *MemoryJobsRepository) CreateJob(_ context.Context, job *domain.ReportJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[job.ID]; exists {
		return errors.New("insert report job: duplicate id " + job.ID)
	}
	r.jobs[job.ID] = job.Clone()
	return nil
}

func (r *MemoryJobsRepository) GetJob(_ context.Context, jobID string) (*domain.ReportJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	return job.Clone(), nil
}

func (r *MemoryJobsRepository) UpdateJob(
	_ context.Context,
	jobID string,
	mutate MutateFunc,
) (*domain.ReportJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	working := current.Clone()
	if err := mutate(working); err != nil {
		return nil, err
	}
	r.jobs[jobID] = working
	return working.Clone(), nil
}

func (r *MemoryJobsRepository) ListUserJobs(_ context.Context, userID string) ([]domain.ReportJob, error) {
	return r.filter(func(job *domain.ReportJob) bool {
		return job.UserID == userID
	}, true), nil
}

func (r *MemoryJobsRepository) ListProcessingStartedBefore(
	_ context.Context,
	cutoff time.Time,
) ([]domain.ReportJob, error) {
	return r.filter(func(job *domain.ReportJob) bool {
		return job.Status == domain.ReportStatusProcessing &&
			job.ProcessingStartedAt != nil &&
			job.ProcessingStartedAt.Before(cutoff)
	}, false), nil
}

func (r *MemoryJobsRepository) ListPendingUpdatedBefore(
	_ context.Context,
	cutoff time.Time,
) ([]domain.ReportJob, error) {
	return r.filter(func(job *domain.ReportJob) bool {
		return job.Status == domain.ReportStatusPending && job.UpdatedAt.Before(cutoff)
	}, false), nil
}

func (r *MemoryJobsRepository) ListCompletedExpiringBefore(
	_ context.Context,
	cutoff time.Time,
) ([]domain.ReportJob, error) {
	return r.filter(func(job *domain.ReportJob) bool {
		return job.Status == domain.ReportStatusCompleted &&
			job.ExpiresAt != nil &&
			!job.ExpiresAt.After(cutoff)
	}, false), nil
}

func (r *MemoryJobsRepository) CountUserJobsSince(_ context.Context, userID string, since time.Time) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, job := range r.jobs {
		if job.UserID == userID && !job.RequestedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (r *MemoryJobsRepository) CountActiveJobs(_ context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, job := range r.jobs {
		if job.Status.Active() {
			count++
		}
	}
	return count, nil
}

func (r *MemoryJobsRepository) filter(keep func(*domain.ReportJob) bool, newestFirst bool) []domain.ReportJob {
	r.mu.RLock()
	defer r.mu.RUnlock()

	items := make([]domain.ReportJob, 0)
	for _, job := range r.jobs {
		if keep(job) {
			items = append(items, *job.Clone())
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if newestFirst {
			return items[i].RequestedAt.After(items[j].RequestedAt)
		}
		return items[i].RequestedAt.Before(items[j].RequestedAt)
	})
	return items
}
