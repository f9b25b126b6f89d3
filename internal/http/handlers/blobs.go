package handlers

import (
	"errors"
	"net/http"
	"path"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/iago/mileage-reports-back/internal/storage"
)

// ServeBlob streams a stored document for a signed token.
func (api *API) ServeBlob(w http.ResponseWriter, r *http.Request) {
	if api.blobs == nil {
		writeError(w, r, http.StatusNotFound, "not_found", "blob serving is not enabled")
		return
	}

	key, object, err := api.blobs.Open(r.Context(), chi.URLParam(r, "token"))
	switch {
	case errors.Is(err, storage.ErrInvalidToken):
		writeError(w, r, http.StatusForbidden, "invalid_token", "download link is invalid or has expired")
		return
	case errors.Is(err, storage.ErrObjectNotFound):
		writeError(w, r, http.StatusGone, "report_expired", "report file is no longer available")
		return
	case err != nil:
		writeServiceError(w, r, err)
		return
	}

	contentType := object.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(object.Data)))
	w.Header().Set("Content-Disposition", `attachment; filename="`+path.Base(key)+`"`)
	w.Header().Set("Cache-Control", "private, no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(object.Data)
}
