package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates a new HTTP router with configured routes, middleware, and handlers.
// It sets up download routes, server probes, health check, and Prometheus metrics endpoint.
func NewRouter(downloads DownloadServiceI, servers ServerServiceI, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)

	h := NewDownloadHandler(downloads, servers, logger)

	r.Route("/downloads", func(r chi.Router) {
		r.Get("/", h.ListDownloads)
		r.Post("/", h.CreateDownloads)
		r.Delete("/", h.Delete)
		r.Get("/{taskID}", h.GetDownload)

		r.Post("/start", h.Start)
		r.Post("/pause", h.Pause)
		r.Post("/stop", h.Stop)
		r.Post("/restart", h.Restart)
		r.Post("/clear", h.ClearCompleted)
	})

	r.Post("/servers/{serverID}/inspect", h.InspectServer)
	r.Post("/accounts/{accountID}/refresh", h.RefreshAccount)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
