package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/iago/mileage-reports-back/internal/service"
)

// Maintenance is the part of the report service the sweep drives.
type Maintenance interface {
	FailStuckJobs(ctx context.Context, now time.Time) (service.SweepResult, error)
	ExpireDueReports(ctx context.Context, now time.Time) (int, error)
}

type SweeperConfig struct {
	Interval     time.Duration
	SweepExpired bool
}

// Sweeper periodically fails jobs that stopped making progress. It shares no
// state with the Processor; both coordinate only through persisted jobs.
type Sweeper struct {
	reports Maintenance
	cfg     SweeperConfig
	logger  *slog.Logger
	now     func() time.Time
}

func NewSweeper(reports Maintenance, cfg SweeperConfig, logger *slog.Logger) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Minute
	}
	return &Sweeper{
		reports: reports,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// Start sweeps once immediately and then on every interval until ctx ends.
func (s *Sweeper) Start(ctx context.Context) {
	s.runLogged(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runLogged(ctx)
		}
	}
}

// RunOnce performs a single sweep pass.
func (s *Sweeper) RunOnce(ctx context.Context) (service.SweepResult, error) {
	now := s.now().UTC()
	result, stuckErr := s.reports.FailStuckJobs(ctx, now)
	if !s.cfg.SweepExpired {
		return result, stuckErr
	}
	expired, expireErr := s.reports.ExpireDueReports(ctx, now)
	result.Expired = expired
	return result, errors.Join(stuckErr, expireErr)
}

func (s *Sweeper) runLogged(ctx context.Context) {
	result, err := s.RunOnce(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.ErrorContext(ctx, "report sweep failed",
				"stuck", result.Stuck,
				"abandoned", result.Abandoned,
				"expired", result.Expired,
				"error", err)
		}
		return
	}
	if result.Stuck+result.Abandoned+result.Expired > 0 {
		s.logger.InfoContext(ctx, "report sweep finished",
			"stuck", result.Stuck,
			"abandoned", result.Abandoned,
			"expired", result.Expired)
	}
}
