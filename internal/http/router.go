package httpserver

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/iago/mileage-reports-back/internal/http/handlers"
	"github.com/iago/mileage-reports-back/internal/http/middleware"
)

type RouterDependencies struct {
	API            *handlers.API
	Logger         *slog.Logger
	AuthToken      string
	CORSOrigins    []string
	RateLimitRPS   float64
	RateLimitBurst int
}

func NewRouter(deps RouterDependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID(deps.Logger))
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Trace)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins: deps.CORSOrigins,
	}))

	r.Get("/healthz", deps.API.Health)

	// Signed tokens authorize blob downloads on their own.
	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(deps.RateLimitRPS, deps.RateLimitBurst))
		r.Get("/v1/blobs/{token}", deps.API.ServeBlob)
	})

	r.Route("/v1/reports", func(r chi.Router) {
		r.Use(middleware.Auth(deps.AuthToken))
		r.Use(middleware.Identity)
		r.Use(middleware.RateLimit(deps.RateLimitRPS, deps.RateLimitBurst))

		r.Post("/", deps.API.CreateReport)
		r.Get("/", deps.API.ListReports)
		r.Get("/{id}", deps.API.GetReport)
		r.Post("/{id}/retry", deps.API.RetryReport)
		r.Get("/{id}/download", deps.API.DownloadReport)
	})

	return r
}
