package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/iago/mileage-reports-back/internal/domain"
	"github.com/iago/mileage-reports-back/internal/http/middleware"
)

type createReportRequest struct {
	StartDate string `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate   string `json:"end_date" validate:"required,datetime=2006-01-02"`
}

type parsedRange struct {
	Start time.Time `validate:"required"`
	End   time.Time `validate:"required,gtefield=Start"`
}

type reportResponse struct {
	ID            string     `json:"id"`
	Status        string     `json:"status"`
	StartDate     string     `json:"start_date"`
	EndDate       string     `json:"end_date"`
	FileName      string     `json:"file_name,omitempty"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	RetryAttempts int        `json:"retry_attempts"`
	RequestedAt   time.Time  `json:"requested_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	StatusURL     string     `json:"status_url"`
}

func toReportResponse(job *domain.ReportJob) reportResponse {
	return reportResponse{
		ID:            job.ID,
		Status:        string(job.Status),
		StartDate:     job.Period.Start.Format(domain.DateLayout),
		EndDate:       job.Period.End.Format(domain.DateLayout),
		FileName:      job.FileName,
		ErrorMessage:  job.ErrorMessage,
		RetryAttempts: job.RetryAttempts,
		RequestedAt:   job.RequestedAt,
		UpdatedAt:     job.UpdatedAt,
		CompletedAt:   job.CompletedAt,
		ExpiresAt:     job.ExpiresAt,
		StatusURL:     "/v1/reports/" + job.ID,
	}
}

func (api *API) CreateReport(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if len(key) > maxIdempotencyKeyLen {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "Idempotency-Key is too long")
		return
	}

	var request createReportRequest
	if err := decodeJSON(w, r, &request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON payload")
		return
	}
	if err := api.validate.Struct(request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "start_date and end_date must be YYYY-MM-DD")
		return
	}
	period, err := api.parseRange(request)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	if key == "" {
		job, err := api.reports.GenerateReport(r.Context(), userID, period)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeCreated(w, job)
		return
	}

	storeKey := idempotencyKey(userID, key)
	payloadHash := hashPayload(request)
	if entry, reserved := api.idempotency.Reserve(storeKey, payloadHash); !reserved {
		switch {
		case entry.PayloadHash != payloadHash:
			writeError(w, r, http.StatusConflict, "idempotency_conflict", "Idempotency-Key already used with a different payload")
		case entry.JobID == "":
			w.Header().Set("Retry-After", "1")
			writeError(w, r, http.StatusConflict, "idempotency_in_progress", "a request with this Idempotency-Key is still being processed")
		default:
			job, err := api.reports.GetReportStatus(r.Context(), entry.JobID)
			if err != nil {
				writeServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusAccepted, toReportResponse(job))
		}
		return
	}

	job, err := api.reports.GenerateReport(r.Context(), userID, period)
	if err != nil {
		api.idempotency.Release(storeKey)
		writeServiceError(w, r, err)
		return
	}
	api.idempotency.Complete(storeKey, job.ID)
	writeCreated(w, job)
}

func writeCreated(w http.ResponseWriter, job *domain.ReportJob) {
	w.Header().Set("Location", "/v1/reports/"+job.ID)
	w.Header().Set("Retry-After", "5")
	writeJSON(w, http.StatusAccepted, toReportResponse(job))
}

func (api *API) parseRange(request createReportRequest) (domain.DateRange, error) {
	start, err := time.Parse(domain.DateLayout, request.StartDate)
	if err != nil {
		return domain.DateRange{}, domain.Validation("start_date must be YYYY-MM-DD")
	}
	end, err := time.Parse(domain.DateLayout, request.EndDate)
	if err != nil {
		return domain.DateRange{}, domain.Validation("end_date must be YYYY-MM-DD")
	}
	if err := api.validate.Struct(parsedRange{Start: start, End: end}); err != nil {
		return domain.DateRange{}, domain.Validation("end_date must be on or after start_date")
	}
	return domain.NewDateRange(start, end)
}

func (api *API) ListReports(w http.ResponseWriter, r *http.Request) {
	jobs, err := api.reports.ListUserReports(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	items := make([]reportResponse, 0, len(jobs))
	for i := range jobs {
		items = append(items, toReportResponse(&jobs[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"total": len(items),
	})
}

func (api *API) GetReport(w http.ResponseWriter, r *http.Request) {
	job, err := api.reports.GetReportStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if job.UserID != middleware.UserID(r.Context()) {
		writeServiceError(w, r, domain.ErrPermission)
		return
	}
	writeJSON(w, http.StatusOK, toReportResponse(job))
}

func (api *API) RetryReport(w http.ResponseWriter, r *http.Request) {
	job, err := api.reports.RetryReport(r.Context(), chi.URLParam(r, "id"), middleware.UserID(r.Context()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Retry-After", "5")
	writeJSON(w, http.StatusAccepted, toReportResponse(job))
}

func (api *API) DownloadReport(w http.ResponseWriter, r *http.Request) {
	link, err := api.reports.GetDownloadURL(r.Context(), chi.URLParam(r, "id"), middleware.UserID(r.Context()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"url":        link.URL,
		"file_name":  link.FileName,
		"expires_at": link.ExpiresAt,
	})
}
