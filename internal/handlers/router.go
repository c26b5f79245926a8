package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/otcheredev/ris-dicom-relay/internal/middleware"
	"github.com/otcheredev/ris-dicom-relay/internal/services"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig wires the HTTP API
type RouterConfig struct {
	Relay          *services.RelayService
	Health         *HealthHandler
	Events         *EventHub
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
	Metrics        bool
	MaxUploadBytes int64
	PublicURL      string
}

// NewRouter builds the relay's HTTP handler
func NewRouter(cfg RouterConfig) http.Handler {
	sessionHandler := NewSessionHandler(cfg.Relay, cfg.MaxUploadBytes)
	settingsHandler := NewSettingsHandler(cfg.Relay, cfg.PublicURL)

	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Recovery)
	r.Use(middleware.Logging)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   cfg.AllowedMethods,
		AllowedHeaders:   cfg.AllowedHeaders,
		ExposedHeaders:   []string{"Content-Length", "Content-Type", "Content-Disposition"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	if cfg.Health != nil {
		r.Get("/health", cfg.Health.Health)
		r.Get("/ready", cfg.Health.Ready)
	}
	if cfg.Metrics {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.Events != nil {
			r.Get("/events", cfg.Events.ServeWS)
		}

		r.Group(func(r chi.Router) {
			r.Use(chimiddleware.Compress(5))

			r.Post("/files", sessionHandler.Upload)
			r.Get("/files", sessionHandler.ListFiles)
			r.Get("/files/{id}/content", sessionHandler.FileContent)

			r.Get("/studies", sessionHandler.ListStudies)
			r.Put("/studies/{studyUID}/assignment", sessionHandler.AssignStudy)
			r.Post("/studies/anonymize", sessionHandler.Anonymize)
			r.Post("/studies/send", sessionHandler.Send)
			r.Get("/studies/{studyUID}/transmission", sessionHandler.TransmissionState)
			r.Delete("/studies/{studyUID}/transmission", sessionHandler.CancelSend)

			r.Delete("/session", sessionHandler.Clear)
			r.Get("/storage/usage", sessionHandler.StorageUsage)
			r.Get("/audit", sessionHandler.AuditLog)

			r.Get("/settings/server", settingsHandler.GetServer)
			r.Put("/settings/server", settingsHandler.PutServer)
			r.Post("/settings/server/test", settingsHandler.TestServer)
			r.Get("/settings/policy", settingsHandler.GetPolicy)
			r.Put("/settings/policy", settingsHandler.PutPolicy)

			r.Post("/share", settingsHandler.Share)
			r.Post("/share/load", settingsHandler.LoadProject)
		})
	})

	return r
}
