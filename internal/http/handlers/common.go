package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"hash/fnv"
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/iago/mileage-reports-back/internal/domain"
	"github.com/iago/mileage-reports-back/internal/http/middleware"
	"github.com/iago/mileage-reports-back/internal/logging"
	"github.com/iago/mileage-reports-back/internal/service"
	"github.com/iago/mileage-reports-back/internal/storage"
)

const (
	idempotencyTTL       = 24 * time.Hour
	maxIdempotencyKeyLen = 255
	maxRequestBodyBytes  = 16 << 10
)

var errInvalidPayload = errors.New("invalid payload")

// ReportsService is the upward interface of the report core.
type ReportsService interface {
	GenerateReport(ctx context.Context, userID string, period domain.DateRange) (*domain.ReportJob, error)
	GetReportStatus(ctx context.Context, jobID string) (*domain.ReportJob, error)
	ListUserReports(ctx context.Context, userID string) ([]domain.ReportJob, error)
	RetryReport(ctx context.Context, jobID, userID string) (*domain.ReportJob, error)
	GetDownloadURL(ctx context.Context, jobID, userID string) (service.DownloadLink, error)
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

type API struct {
	reports     ReportsService
	blobs       storage.Reader
	checks      map[string]HealthCheck
	validate    *validator.Validate
	idempotency *idempotencyStore
}

// NewAPI builds the handlers. blobs may be nil when signed URLs are served by
// the storage provider itself.
func NewAPI(reports ReportsService, blobs storage.Reader, checks map[string]HealthCheck) *API {
	return &API{
		reports:     reports,
		blobs:       blobs,
		checks:      checks,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		idempotency: newIdempotencyStore(idempotencyTTL),
	}
}

type errorPayload struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func writeJSON(w http.ResponseWriter, statusCode int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, r *http.Request, statusCode int, code, message string) {
	payload := errorPayload{RequestID: middleware.GetRequestID(r.Context())}
	payload.Error.Code = code
	payload.Error.Message = message
	writeJSON(w, statusCode, payload)
}

// writeServiceError maps an error kind onto the HTTP error envelope.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var domainErr *domain.Error
	if !errors.As(err, &domainErr) {
		logging.FromContext(r.Context()).ErrorContext(r.Context(), "request failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, "internal_error", "internal error")
		return
	}

	switch domainErr.Kind {
	case domain.KindValidation:
		writeError(w, r, http.StatusBadRequest, "invalid_request", domainErr.Message)
	case domain.KindSystemLimit:
		w.Header().Set("Retry-After", "30")
		writeError(w, r, http.StatusServiceUnavailable, "system_busy", domainErr.Message)
	case domain.KindRateLimited:
		w.Header().Set("Retry-After", "60")
		writeError(w, r, http.StatusTooManyRequests, "rate_limited", domainErr.Message)
	case domain.KindNotFound:
		writeError(w, r, http.StatusNotFound, "not_found", domainErr.Message)
	case domain.KindPermission:
		writeError(w, r, http.StatusForbidden, "forbidden", domainErr.Message)
	case domain.KindInvalidState:
		writeError(w, r, http.StatusConflict, "invalid_state", domainErr.Message)
	case domain.KindMaxRetries:
		writeError(w, r, http.StatusConflict, "max_retries_exceeded", domainErr.Message)
	case domain.KindExpired:
		writeError(w, r, http.StatusGone, "report_expired", domainErr.Message)
	default:
		logging.FromContext(r.Context()).ErrorContext(r.Context(), "request failed",
			"kind", domainErr.Kind,
			"error", err)
		writeError(w, r, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, value any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(value); err != nil {
		return errInvalidPayload
	}
	return nil
}

type idempotencyEntry struct {
	PayloadHash uint64
	// JobID is empty while the first request holding the key is still creating the job.
	JobID     string
	CreatedAt time.Time
}

// idempotencyStore remembers which job a user's Idempotency-Key created.
type idempotencyStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]idempotencyEntry
	now     func() time.Time
}

func newIdempotencyStore(ttl time.Duration) *idempotencyStore {
	return &idempotencyStore{
		ttl:     ttl,
		entries: make(map[string]idempotencyEntry),
		now:     time.Now,
	}
}

func idempotencyKey(userID, key string) string {
	return userID + "\x00" + key
}

// Reserve claims key for payloadHash. When the key is already held, the
// existing entry is returned with reserved=false.
func (s *idempotencyStore) Reserve(key string, payloadHash uint64) (entry idempotencyEntry, reserved bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for k, e := range s.entries {
		if now.Sub(e.CreatedAt) > s.ttl {
			delete(s.entries, k)
		}
	}
	if existing, ok := s.entries[key]; ok {
		return existing, false
	}
	s.entries[key] = idempotencyEntry{PayloadHash: payloadHash, CreatedAt: now}
	return idempotencyEntry{}, true
}

// Complete records the job created under a reserved key.
func (s *idempotencyStore) Complete(key, jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.entries[key]; ok {
		entry.JobID = jobID
		s.entries[key] = entry
	}
}

// Release drops a reservation whose request failed so the key can be reused.
func (s *idempotencyStore) Release(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.entries[key]; ok && entry.JobID == "" {
		delete(s.entries, key)
	}
}

func hashPayload(value any) uint64 {
	payload, _ := json.Marshal(value)
	hasher := fnv.New64a()
	_, _ = hasher.Write(payload)
	return hasher.Sum64()
}
