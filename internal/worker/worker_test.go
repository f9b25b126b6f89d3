package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iago/mileage-reports-back/internal/domain"
	"github.com/iago/mileage-reports-back/internal/logging"
	"github.com/iago/mileage-reports-back/internal/notify"
	"github.com/iago/mileage-reports-back/internal/queue"
	"github.com/iago/mileage-reports-back/internal/report"
	"github.com/iago/mileage-reports-back/internal/repository"
	"github.com/iago/mileage-reports-back/internal/service"
	"github.com/iago/mileage-reports-back/internal/storage"
)

type recordingConsumer struct {
	mu       sync.Mutex
	deleted  []string
	extended []string
}

func (c *recordingConsumer) Receive(ctx context.Context, _ queue.ReceiveOptions) ([]queue.Delivery, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (c *recordingConsumer) Delete(_ context.Context, handle string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted = append(c.deleted, handle)
	return nil
}

func (c *recordingConsumer) ExtendVisibility(_ context.Context, handle string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.extended = append(c.extended, handle)
	return nil
}

func (c *recordingConsumer) Deleted() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.deleted...)
}

func (c *recordingConsumer) Extended() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.extended)
}

type failingRenderer struct{}

func (failingRenderer) Render(domain.ReportData) ([]byte, error) {
	return nil, errors.New("renderer crashed")
}

type env struct {
	svc      *service.ReportService
	jobs     *repository.MemoryJobsRepository
	queue    *queue.LocalQueue
	blobs    *storage.MemoryStore
	notifier *notify.Recorder
}

func newEnv(t *testing.T, renderer report.Renderer) *env {
	t.Helper()
	e := &env{
		jobs:     repository.NewMemoryJobsRepository(),
		queue:    queue.NewLocalQueue(),
		blobs:    storage.NewMemoryStore(),
		notifier: notify.NewRecorder(),
	}
	ledger := repository.NewMemoryLedger()
	ledger.PutEmployee(domain.Employee{UserID: "user-1", FullName: "Test Employee"})
	ledger.AddTrip("user-1", domain.TripRecord{
		ID: "trip-1", Date: time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC), Status: domain.TripStatusCompleted,
		Miles: decimal.NewFromInt(100), RatePerMile: decimal.RequireFromString("0.65"),
	})
	if renderer == nil {
		renderer = report.NewPDFRenderer()
	}

	opts := service.DefaultOptions()
	opts.Limits.CooldownLimit = 0
	e.svc = service.NewReportService(service.Deps{
		Jobs:     e.jobs,
		Producer: e.queue,
		Builder:  report.NewBuilder(ledger),
		Renderer: renderer,
		Blobs:    e.blobs,
		Notifier: e.notifier,
		Logger:   logging.Discard(),
	}, opts)
	return e
}

func (e *env) createJob(t *testing.T) *domain.ReportJob {
	t.Helper()
	period, err := domain.ParseDateRange("2024-01-01", "2024-01-31")
	require.NoError(t, err)
	job, err := e.svc.GenerateReport(context.Background(), "user-1", period)
	require.NoError(t, err)
	return job
}

func (e *env) status(t *testing.T, jobID string) domain.ReportStatus {
	t.Helper()
	job, err := e.jobs.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	return job.Status
}

func newTestProcessor(consumer queue.Consumer, reports Reports) *Processor {
	return NewProcessor(consumer, reports, ProcessorConfig{
		PollWait:          20 * time.Millisecond,
		VisibilityTimeout: time.Minute,
		MaxReceiveCount:   3,
	}, logging.Discard())
}

func TestHandleCompletesPendingJob(t *testing.T) {
	e := newEnv(t, nil)
	consumer := &recordingConsumer{}
	job := e.createJob(t)

	outcome := newTestProcessor(consumer, e.svc).Handle(context.Background(), queue.Delivery{
		Body: job.ID, Handle: "h1", ReceiveCount: 1,
	})

	assert.Equal(t, OutcomeCompleted, outcome)
	assert.Equal(t, []string{"h1"}, consumer.Deleted())
	assert.Equal(t, domain.ReportStatusCompleted, e.status(t, job.ID))
	assert.Equal(t, 1, e.notifier.Count("completed", job.ID))
}

func TestHandleDuplicateDeliveryOfCompletedJob(t *testing.T) {
	e := newEnv(t, nil)
	consumer := &recordingConsumer{}
	processor := newTestProcessor(consumer, e.svc)
	job := e.createJob(t)

	require.Equal(t, OutcomeCompleted, processor.Handle(context.Background(), queue.Delivery{Body: job.ID, Handle: "h1", ReceiveCount: 1}))
	outcome := processor.Handle(context.Background(), queue.Delivery{Body: job.ID, Handle: "h2", ReceiveCount: 1})

	assert.Equal(t, OutcomeSkipped, outcome)
	assert.Equal(t, []string{"h1", "h2"}, consumer.Deleted())
	assert.Equal(t, 1, e.blobs.PutCount(domain.StorageKeyFor(job.ID)))
}

func TestHandleDeadLettersAtReceiveCeiling(t *testing.T) {
	for _, status := range []domain.ReportStatus{
		domain.ReportStatusPending,
		domain.ReportStatusProcessing,
		domain.ReportStatusCompleted,
	} {
		t.Run(string(status), func(t *testing.T) {
			e := newEnv(t, nil)
			consumer := &recordingConsumer{}
			job := e.createJob(t)
			_, err := e.jobs.UpdateJob(context.Background(), job.ID, func(j *domain.ReportJob) error {
				j.Status = status
				return nil
			})
			require.NoError(t, err)

			outcome := newTestProcessor(consumer, e.svc).Handle(context.Background(), queue.Delivery{
				Body: job.ID, Handle: "h1", ReceiveCount: 3,
			})

			assert.Equal(t, OutcomeDeadLettered, outcome)
			assert.Equal(t, []string{"h1"}, consumer.Deleted())
			assert.Equal(t, domain.ReportStatusFailed, e.status(t, job.ID))
		})
	}
}

func TestHandleMissingJobDeletesMessage(t *testing.T) {
	e := newEnv(t, nil)
	consumer := &recordingConsumer{}
	processor := newTestProcessor(consumer, e.svc)

	outcome := processor.Handle(context.Background(), queue.Delivery{Body: uuid.NewString(), Handle: "h1", ReceiveCount: 1})
	assert.Equal(t, OutcomeSkipped, outcome)

	outcome = processor.Handle(context.Background(), queue.Delivery{Body: uuid.NewString(), Handle: "h2", ReceiveCount: 5})
	assert.Equal(t, OutcomeDeadLettered, outcome)
	assert.Equal(t, []string{"h1", "h2"}, consumer.Deleted())
}

func TestHandleMalformedBodyIsLeftForRedelivery(t *testing.T) {
	e := newEnv(t, nil)
	consumer := &recordingConsumer{}
	processor := newTestProcessor(consumer, e.svc)

	outcome := processor.Handle(context.Background(), queue.Delivery{Body: "not-a-job", Handle: "h1", ReceiveCount: 1})
	assert.Equal(t, OutcomeRetained, outcome)
	assert.Empty(t, consumer.Deleted())

	outcome = processor.Handle(context.Background(), queue.Delivery{Body: "not-a-job", Handle: "h1", ReceiveCount: 3})
	assert.Equal(t, OutcomeDeadLettered, outcome)
	assert.Equal(t, []string{"h1"}, consumer.Deleted())
}

func TestHandleGenerationFailureMarksFailedAndAcknowledges(t *testing.T) {
	e := newEnv(t, failingRenderer{})
	consumer := &recordingConsumer{}
	job := e.createJob(t)

	outcome := newTestProcessor(consumer, e.svc).Handle(context.Background(), queue.Delivery{
		Body: job.ID, Handle: "h1", ReceiveCount: 1,
	})

	assert.Equal(t, OutcomeFailed, outcome)
	assert.Equal(t, []string{"h1"}, consumer.Deleted())

	stored, err := e.jobs.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReportStatusFailed, stored.Status)
	assert.Contains(t, stored.ErrorMessage, "renderer crashed")
	assert.Empty(t, stored.StorageKey)
	assert.Equal(t, 1, e.notifier.Count("failed", job.ID))
}

func TestHandleFailedJobRedeliveryIsSkipped(t *testing.T) {
	e := newEnv(t, nil)
	consumer := &recordingConsumer{}
	job := e.createJob(t)
	_, err := e.svc.MarkFailed(context.Background(), job.ID, "boom", false)
	require.NoError(t, err)

	outcome := newTestProcessor(consumer, e.svc).Handle(context.Background(), queue.Delivery{
		Body: job.ID, Handle: "h1", ReceiveCount: 2,
	})

	assert.Equal(t, OutcomeSkipped, outcome)
	assert.Equal(t, domain.ReportStatusFailed, e.status(t, job.ID))
}

type stubReports struct {
	generate   func(ctx context.Context) error
	failErr    error
	failCalled int
}

func (s *stubReports) GetReportStatus(_ context.Context, jobID string) (*domain.ReportJob, error) {
	return &domain.ReportJob{ID: jobID, Status: domain.ReportStatusPending}, nil
}

func (s *stubReports) MarkProcessing(_ context.Context, jobID string) (*domain.ReportJob, error) {
	return &domain.ReportJob{ID: jobID, Status: domain.ReportStatusProcessing}, nil
}

func (s *stubReports) GenerateNow(ctx context.Context, jobID string) (*domain.ReportJob, error) {
	if err := s.generate(ctx); err != nil {
		return nil, err
	}
	return &domain.ReportJob{ID: jobID, Status: domain.ReportStatusCompleted}, nil
}

func (s *stubReports) MarkFailed(_ context.Context, jobID string, _ string, _ bool) (*domain.ReportJob, error) {
	s.failCalled++
	if s.failErr != nil {
		return nil, s.failErr
	}
	return &domain.ReportJob{ID: jobID, Status: domain.ReportStatusFailed}, nil
}

func TestHandleKeepsMessageWhenFailureCannotBePersisted(t *testing.T) {
	consumer := &recordingConsumer{}
	reports := &stubReports{
		generate: func(context.Context) error { return errors.New("db timeout") },
		failErr:  domain.Persistence("update report job", errors.New("connection refused")),
	}

	outcome := newTestProcessor(consumer, reports).Handle(context.Background(), queue.Delivery{
		Body: uuid.NewString(), Handle: "h1", ReceiveCount: 1,
	})

	assert.Equal(t, OutcomeRetained, outcome)
	assert.Equal(t, 1, reports.failCalled)
	assert.Empty(t, consumer.Deleted())
}

func TestHandleExtendsVisibilityDuringSlowGeneration(t *testing.T) {
	consumer := &recordingConsumer{}
	reports := &stubReports{generate: func(context.Context) error {
		time.Sleep(120 * time.Millisecond)
		return nil
	}}
	processor := NewProcessor(consumer, reports, ProcessorConfig{
		PollWait:          time.Millisecond,
		VisibilityTimeout: 40 * time.Millisecond,
		MaxReceiveCount:   3,
	}, logging.Discard())

	outcome := processor.Handle(context.Background(), queue.Delivery{Body: uuid.NewString(), Handle: "h1", ReceiveCount: 1})

	assert.Equal(t, OutcomeCompleted, outcome)
	assert.GreaterOrEqual(t, consumer.Extended(), 2)
}

func TestSweeperFailsStuckJobsAndExpiresReports(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	stuck := e.createJob(t)
	_, err := e.svc.MarkProcessing(ctx, stuck.ID)
	require.NoError(t, err)

	sweeper := NewSweeper(e.svc, SweeperConfig{Interval: time.Hour, SweepExpired: true}, logging.Discard())
	sweeper.now = func() time.Time { return time.Now().Add(40 * time.Minute) }

	result, err := sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Stuck)
	assert.Equal(t, domain.ReportStatusFailed, e.status(t, stuck.ID))

	result, err = sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Stuck)
	assert.Equal(t, 1, e.notifier.Count("failed", stuck.ID))

	done := e.createJob(t)
	_, err = e.svc.GenerateNow(ctx, done.ID)
	require.NoError(t, err)

	sweeper.now = func() time.Time { return time.Now().Add(91 * 24 * time.Hour) }
	result, err = sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Expired)
	assert.Equal(t, domain.ReportStatusExpired, e.status(t, done.ID))
}

func TestWorkerRunProcessesQueueAndDrains(t *testing.T) {
	e := newEnv(t, nil)
	processor := NewProcessor(e.queue, e.svc, ProcessorConfig{
		PollWait:          20 * time.Millisecond,
		VisibilityTimeout: time.Minute,
		MaxReceiveCount:   3,
	}, logging.Discard())
	sweeper := NewSweeper(e.svc, SweeperConfig{Interval: time.Hour}, logging.Discard())
	w := New(processor, sweeper, logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		w.Run(ctx)
	}()

	first := e.createJob(t)
	second := e.createJob(t)

	require.Eventually(t, func() bool {
		return e.status(t, first.ID) == domain.ReportStatusCompleted &&
			e.status(t, second.ID) == domain.ReportStatusCompleted
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, 0, e.queue.Len())

	cancel()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop after cancellation")
	}
}

type partialMaintenance struct {
	expireCalls int
}

func (m *partialMaintenance) FailStuckJobs(context.Context, time.Time) (service.SweepResult, error) {
	return service.SweepResult{Stuck: 2}, errors.New("update report job j-1: deadlock detected")
}

func (m *partialMaintenance) ExpireDueReports(context.Context, time.Time) (int, error) {
	m.expireCalls++
	return 3, nil
}

func TestSweeperExpiresEvenWhenStuckPassFails(t *testing.T) {
	maintenance := &partialMaintenance{}
	sweeper := NewSweeper(maintenance, SweeperConfig{Interval: time.Hour, SweepExpired: true}, logging.Discard())

	result, err := sweeper.RunOnce(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, maintenance.expireCalls)
	assert.Equal(t, 2, result.Stuck)
	assert.Equal(t, 3, result.Expired)
}
