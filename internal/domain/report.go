package domain

import (
	"fmt"
	"time"
)

// DateLayout is the wire format for report period boundaries.
const DateLayout = "2006-01-02"

type ReportStatus string

const (
	ReportStatusPending    ReportStatus = "pending"
	ReportStatusProcessing ReportStatus = "processing"
	ReportStatusCompleted  ReportStatus = "completed"
	ReportStatusFailed     ReportStatus = "failed"
	ReportStatusExpired    ReportStatus = "expired"
)

func (s ReportStatus) Valid() bool {
	switch s {
	case ReportStatusPending, ReportStatusProcessing, ReportStatusCompleted, ReportStatusFailed, ReportStatusExpired:
		return true
	}
	return false
}

// Active reports whether the status counts against the system-wide concurrency ceiling.
func (s ReportStatus) Active() bool {
	return s == ReportStatusPending || s == ReportStatusProcessing
}

// CanTransition is the report state machine. Self-transitions on processing and
// completed are allowed because redelivered messages re-run the same job.
func CanTransition(from, to ReportStatus) bool {
	switch to {
	case ReportStatusPending:
		return from == ReportStatusFailed
	case ReportStatusProcessing:
		return from == ReportStatusPending || from == ReportStatusProcessing
	case ReportStatusCompleted:
		switch from {
		case ReportStatusPending, ReportStatusProcessing, ReportStatusCompleted:
			return true
		}
		return false
	case ReportStatusFailed:
		return from == ReportStatusPending || from == ReportStatusProcessing
	case ReportStatusExpired:
		return from == ReportStatusCompleted
	default:
		return false
	}
}

// DateRange is an inclusive calendar range. Both ends are normalized to UTC midnight.
type DateRange struct {
	Start time.Time
	End   time.Time
}

func NewDateRange(start, end time.Time) (DateRange, error) {
	r := DateRange{Start: truncateDay(start), End: truncateDay(end)}
	if r.End.Before(r.Start) {
		return DateRange{}, Validation(fmt.Sprintf(
			"end_date %s is before start_date %s",
			r.End.Format(DateLayout),
			r.Start.Format(DateLayout),
		))
	}
	return r, nil
}

func ParseDateRange(start, end string) (DateRange, error) {
	s, err := time.Parse(DateLayout, start)
	if err != nil {
		return DateRange{}, Validation("start_date must be YYYY-MM-DD")
	}
	e, err := time.Parse(DateLayout, end)
	if err != nil {
		return DateRange{}, Validation("end_date must be YYYY-MM-DD")
	}
	return NewDateRange(s, e)
}

func (r DateRange) String() string {
	return r.Start.Format(DateLayout) + ".." + r.End.Format(DateLayout)
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ReportJob is the persisted record of one user-requested report generation.
type ReportJob struct {
	ID     string
	UserID string
	Period DateRange
	Status ReportStatus

	FileName     string
	StorageKey   string
	ErrorMessage string

	RetryAttempts int

	RequestedAt         time.Time
	UpdatedAt           time.Time
	ProcessingStartedAt *time.Time
	CompletedAt         *time.Time
	ExpiresAt           *time.Time
}

// Expired reports whether a completed job's download window has passed at now.
func (j *ReportJob) Expired(now time.Time) bool {
	if j.Status == ReportStatusExpired {
		return true
	}
	return j.Status == ReportStatusCompleted && j.ExpiresAt != nil && !now.Before(*j.ExpiresAt)
}

func (j *ReportJob) Clone() *ReportJob {
	if j == nil {
		return nil
	}
	clone := *j
	clone.ProcessingStartedAt = cloneTime(j.ProcessingStartedAt)
	clone.CompletedAt = cloneTime(j.CompletedAt)
	clone.ExpiresAt = cloneTime(j.ExpiresAt)
	return &clone
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// StorageKeyFor derives the blob key for a job. It is stable across re-runs so
// regenerating a job overwrites the same object.
func StorageKeyFor(jobID string) string {
	return "reports/" + jobID + ".pdf"
}

func FileNameFor(period DateRange) string {
	return fmt.Sprintf("mileage-report_%s_%s.pdf", period.Start.Format(DateLayout), period.End.Format(DateLayout))
}
