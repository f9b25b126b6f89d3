package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iago/mileage-reports-back/internal/domain"
	"github.com/iago/mileage-reports-back/internal/http/middleware"
)

func TestIdempotencyStoreReserveCompleteRelease(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store := newIdempotencyStore(time.Hour)
	store.now = func() time.Time { return now }

	key := idempotencyKey("u-1", "k-1")
	_, reserved := store.Reserve(key, 42)
	require.True(t, reserved)

	entry, reserved := store.Reserve(key, 42)
	require.False(t, reserved)
	assert.Empty(t, entry.JobID, "second caller sees the in-flight reservation")

	store.Complete(key, "job-1")
	entry, reserved = store.Reserve(key, 42)
	require.False(t, reserved)
	assert.Equal(t, "job-1", entry.JobID)

	store.Release(key)
	_, reserved = store.Reserve(key, 42)
	assert.False(t, reserved, "a completed key is not released")

	_, reserved = store.Reserve(idempotencyKey("u-2", "k-1"), 42)
	assert.True(t, reserved, "keys are scoped per user")

	other := idempotencyKey("u-1", "k-2")
	_, reserved = store.Reserve(other, 7)
	require.True(t, reserved)
	store.Release(other)
	_, reserved = store.Reserve(other, 7)
	assert.True(t, reserved, "a failed request frees its key")

	now = now.Add(2 * time.Hour)
	_, reserved = store.Reserve(key, 42)
	assert.True(t, reserved, "expired keys can be reused")
}

type blockingReports struct {
	ReportsService
	entered chan struct{}
	release chan struct{}
	once    sync.Once
	calls   atomic.Int32
}

func (b *blockingReports) GenerateReport(_ context.Context, userID string, period domain.DateRange) (*domain.ReportJob, error) {
	b.calls.Add(1)
	b.once.Do(func() { close(b.entered) })
	<-b.release
	return &domain.ReportJob{ID: "job-1", UserID: userID, Period: period, Status: domain.ReportStatusPending}, nil
}

func TestCreateReportConcurrentSameKeyCreatesOneJob(t *testing.T) {
	reports := &blockingReports{entered: make(chan struct{}), release: make(chan struct{})}
	handler := middleware.Identity(http.HandlerFunc(NewAPI(reports, nil, nil).CreateReport))

	newRequest := func() *http.Request {
		r := httptest.NewRequest(http.MethodPost, "/v1/reports",
			strings.NewReader(`{"start_date":"2024-01-01","end_date":"2024-01-31"}`))
		r.Header.Set(middleware.UserIDHeader, "u-1")
		r.Header.Set("Idempotency-Key", "same-key")
		return r
	}

	first := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		defer close(done)
		handler.ServeHTTP(first, newRequest())
	}()
	<-reports.entered

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, newRequest())
	assert.Equal(t, http.StatusConflict, second.Code)
	assert.Contains(t, second.Body.String(), "idempotency_in_progress")

	close(reports.release)
	<-done
	assert.Equal(t, http.StatusAccepted, first.Code)
	assert.Equal(t, int32(1), reports.calls.Load())
}

func TestHashPayloadIsStable(t *testing.T) {
	a := createReportRequest{StartDate: "2024-01-01", EndDate: "2024-01-31"}
	b := createReportRequest{StartDate: "2024-01-01", EndDate: "2024-01-30"}
	assert.Equal(t, hashPayload(a), hashPayload(a))
	assert.NotEqual(t, hashPayload(a), hashPayload(b))
}

func TestWriteServiceErrorStatusCodes(t *testing.T) {
	cases := []struct {
		err    error
		status int
		retry  string
	}{
		{domain.Validation("bad"), http.StatusBadRequest, ""},
		{domain.SystemLimit("busy"), http.StatusServiceUnavailable, "30"},
		{domain.RateLimited("slow down"), http.StatusTooManyRequests, "60"},
		{domain.NotFound("j"), http.StatusNotFound, ""},
		{domain.ErrPermission, http.StatusForbidden, ""},
		{domain.InvalidState(domain.ReportStatusPending, domain.ReportStatusExpired), http.StatusConflict, ""},
		{domain.ErrMaxRetries, http.StatusConflict, ""},
		{domain.ErrExpired, http.StatusGone, ""},
		{domain.Persistence("load", errors.New("down")), http.StatusInternalServerError, ""},
		{errors.New("unclassified"), http.StatusInternalServerError, ""},
	}

	for _, tc := range cases {
		rec := httptest.NewRecorder()
		writeServiceError(rec, httptest.NewRequest(http.MethodGet, "/", nil), tc.err)
		assert.Equal(t, tc.status, rec.Code, tc.err.Error())
		assert.Equal(t, tc.retry, rec.Header().Get("Retry-After"), tc.err.Error())
	}
}
