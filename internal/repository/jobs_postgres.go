package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iago/mileage-reports-back/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const selectJobColumns = `
	SELECT id, user_id, start_date, end_date, status, file_name, storage_key, error_message,
		retry_attempts, requested_at, updated_at, processing_started_at, completed_at, expires_at
	FROM report_jobs`

type PostgresJobsRepository struct {
	pool *pgxpool.Pool
}

// Connect opens and pings a pgx pool.
func Connect(ctx context.Context, databaseURL string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse pg config: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pg pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pg: %w", err)
	}
	return pool, nil
}

func NewPostgresJobsRepository(pool *pgxpool.Pool) *PostgresJobsRepository {
	return &PostgresJobsRepository{pool: pool}
}

func (r *PostgresJobsRepository) CreateJob(ctx context.Context, job *domain.ReportJob) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO report_jobs (
			id,
			user_id,
			start_date,
			end_date,
			status,
			file_name,
			storage_key,
			error_message,
			retry_attempts,
			requested_at,
			updated_at,
			processing_started_at,
			completed_at,
			expires_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`,
		job.ID,
		job.UserID,
		job.Period.Start,
		job.Period.End,
		string(job.Status),
		job.FileName,
		job.StorageKey,
		job.ErrorMessage,
		job.RetryAttempts,
		job.RequestedAt,
		job.UpdatedAt,
		job.ProcessingStartedAt,
		job.CompletedAt,
		job.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("insert report job: %w", err)
	}
	return nil
}

func (r *PostgresJobsRepository) GetJob(ctx context.Context, jobID string) (*domain.ReportJob, error) {
	job, err := scanJob(r.pool.QueryRow(ctx, selectJobColumns+` WHERE id = $1`, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query report job: %w", err)
	}
	return job, nil
}

// UpdateJob locks the row, applies mutate and writes every mutable column in one
// transaction. A mutate error rolls the transaction back.
func (r *PostgresJobsRepository) UpdateJob(
	ctx context.Context,
	jobID string,
	mutate MutateFunc,
) (*domain.ReportJob, error) {
	var updated *domain.ReportJob
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		job, err := scanJob(tx.QueryRow(ctx, selectJobColumns+` WHERE id = $1 FOR UPDATE`, jobID))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("lock report job: %w", err)
		}
		if err := mutate(job); err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			UPDATE report_jobs
			SET status = $2,
				file_name = $3,
				storage_key = $4,
				error_message = $5,
				retry_attempts = $6,
				updated_at = $7,
				processing_started_at = $8,
				completed_at = $9,
				expires_at = $10
			WHERE id = $1
		`,
			job.ID,
			string(job.Status),
			job.FileName,
			job.StorageKey,
			job.ErrorMessage,
			job.RetryAttempts,
			job.UpdatedAt,
			job.ProcessingStartedAt,
			job.CompletedAt,
			job.ExpiresAt,
		)
		if err != nil {
			return fmt.Errorf("update report job: %w", err)
		}
		updated = job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *PostgresJobsRepository) ListUserJobs(ctx context.Context, userID string) ([]domain.ReportJob, error) {
	return r.list(ctx, selectJobColumns+` WHERE user_id = $1 ORDER BY requested_at DESC`, userID)
}

func (r *PostgresJobsRepository) ListProcessingStartedBefore(
	ctx context.Context,
	cutoff time.Time,
) ([]domain.ReportJob, error) {
	return r.list(ctx, selectJobColumns+`
		WHERE status = 'processing' AND processing_started_at < $1
		ORDER BY requested_at ASC`, cutoff)
}

func (r *PostgresJobsRepository) ListPendingUpdatedBefore(
	ctx context.Context,
	cutoff time.Time,
) ([]domain.ReportJob, error) {
	return r.list(ctx, selectJobColumns+`
		WHERE status = 'pending' AND updated_at < $1
		ORDER BY requested_at ASC`, cutoff)
}

func (r *PostgresJobsRepository) ListCompletedExpiringBefore(
	ctx context.Context,
	cutoff time.Time,
) ([]domain.ReportJob, error) {
	return r.list(ctx, selectJobColumns+`
		WHERE status = 'completed' AND expires_at <= $1
		ORDER BY requested_at ASC`, cutoff)
}

func (r *PostgresJobsRepository) CountUserJobsSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var total int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM report_jobs WHERE user_id = $1 AND requested_at >= $2`,
		userID, since,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("count user report jobs: %w", err)
	}
	return total, nil
}

func (r *PostgresJobsRepository) CountActiveJobs(ctx context.Context) (int, error) {
	var total int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM report_jobs WHERE status IN ('pending', 'processing')`,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("count active report jobs: %w", err)
	}
	return total, nil
}

func (r *PostgresJobsRepository) list(ctx context.Context, query string, args ...any) ([]domain.ReportJob, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list report jobs: %w", err)
	}
	defer rows.Close()

	items := make([]domain.ReportJob, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan report job: %w", err)
		}
		items = append(items, *job)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate report jobs: %w", rows.Err())
	}
	return items, nil
}

func scanJob(row pgx.Row) (*domain.ReportJob, error) {
	var (
		job    domain.ReportJob
		status string
	)
	err := row.Scan(
		&job.ID,
		&job.UserID,
		&job.Period.Start,
		&job.Period.End,
		&status,
		&job.FileName,
		&job.StorageKey,
		&job.ErrorMessage,
		&job.RetryAttempts,
		&job.RequestedAt,
		&job.UpdatedAt,
		&job.ProcessingStartedAt,
		&job.CompletedAt,
		&job.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	job.Status = domain.ReportStatus(status)
	job.Period.Start = job.Period.Start.UTC()
	job.Period.End = job.Period.End.UTC()
	return &job, nil
}
