// Package notify delivers best-effort report lifecycle signals to users.
package notify

import (
	"context"
	"log/slog"
	"sync"

	"github.com/iago/mileage-reports-back/internal/domain"
)

// Notifier signals report outcomes. Implementations never return errors:
// a false result means the signal was not delivered and has been logged.
type Notifier interface {
	NotifyCompleted(ctx context.Context, userID string, job *domain.ReportJob, downloadURL string) bool
	NotifyFailed(ctx context.Context, userID string, job *domain.ReportJob) bool
}

// LogNotifier writes notifications to the log; used when no broker is configured.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) NotifyCompleted(ctx context.Context, userID string, job *domain.ReportJob, downloadURL string) bool {
	n.logger.InfoContext(ctx, "report ready",
		"user_id", userID,
		"job_id", job.ID,
		"period", job.Period.String(),
		"has_url", downloadURL != "")
	return true
}

func (n *LogNotifier) NotifyFailed(ctx context.Context, userID string, job *domain.ReportJob) bool {
	n.logger.InfoContext(ctx, "report failed",
		"user_id", userID,
		"job_id", job.ID,
		"period", job.Period.String(),
		"retry_attempts", job.RetryAttempts)
	return true
}

// Event is a recorded notification.
type Event struct {
	Kind        string
	UserID      string
	JobID       string
	DownloadURL string
}

// Recorder keeps notifications in memory for assertions.
type Recorder struct {
	mu      sync.Mutex
	events  []Event
	Deliver bool
}

func NewRecorder() *Recorder {
	return &Recorder{Deliver: true}
}

func (r *Recorder) NotifyCompleted(_ context.Context, userID string, job *domain.ReportJob, downloadURL string) bool {
	return r.record(Event{Kind: "completed", UserID: userID, JobID: job.ID, DownloadURL: downloadURL})
}

func (r *Recorder) NotifyFailed(_ context.Context, userID string, job *domain.ReportJob) bool {
	return r.record(Event{Kind: "failed", UserID: userID, JobID: job.ID})
}

func (r *Recorder) record(event Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.Deliver
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Count returns how many events of kind were recorded for jobID.
func (r *Recorder) Count(kind, jobID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, event := range r.events {
		if event.Kind == kind && event.JobID == jobID {
			total++
		}
	}
	return total
}
