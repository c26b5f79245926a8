package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/otcheredev/ris-dicom-relay/internal/app"
	"github.com/otcheredev/ris-dicom-relay/internal/config"
	"github.com/otcheredev/ris-dicom-relay/internal/handlers"
	"github.com/otcheredev/ris-dicom-relay/pkg/logger"
	"github.com/rs/zerolog/log"
)

func main() {
	// Load configuration
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	// Initialize logger
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	log.Info().Msg("Starting DICOM Relay")

	events := handlers.NewEventHub(cfg.CORS.AllowedOrigins)

	// Wire stores, engines and the session coordinator
	relay, err := app.New(context.Background(), cfg, app.Options{OnEvent: events.Publish})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize relay")
	}
	defer relay.Close()

	if err := relay.Restore(context.Background()); err != nil {
		log.Error().Err(err).Msg("Failed to restore session, starting empty")
	}

	router := handlers.NewRouter(handlers.RouterConfig{
		Relay:          relay.Relay,
		Health:         handlers.NewHealthHandler(relay.Checks),
		Events:         events,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		AllowedMethods: cfg.CORS.AllowedMethods,
		AllowedHeaders: cfg.CORS.AllowedHeaders,
		Metrics:        cfg.Metrics.Enabled,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		PublicURL:      cfg.Relay.PublicURL,
	})

	// Create server
	addr := cfg.Addr()
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("Server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
