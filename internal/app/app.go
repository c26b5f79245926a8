// Package app assembles the relay's stores, engines and coordinator from
// configuration. The server and the CLI share it.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/otcheredev/ris-dicom-relay/internal/adapters"
	"github.com/otcheredev/ris-dicom-relay/internal/anonymizer"
	"github.com/otcheredev/ris-dicom-relay/internal/config"
	"github.com/otcheredev/ris-dicom-relay/internal/database"
	"github.com/otcheredev/ris-dicom-relay/internal/dicomio"
	"github.com/otcheredev/ris-dicom-relay/internal/handlers"
	"github.com/otcheredev/ris-dicom-relay/internal/models"
	"github.com/otcheredev/ris-dicom-relay/internal/repository"
	"github.com/otcheredev/ris-dicom-relay/internal/services"
	"github.com/otcheredev/ris-dicom-relay/internal/session"
	"github.com/otcheredev/ris-dicom-relay/internal/storage"
	"github.com/otcheredev/ris-dicom-relay/internal/transmitter"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Options override parts of the configuration for one process
type Options struct {
	// Mode replaces cfg.Relay.FailureMode when set
	Mode    models.FailureMode
	OnEvent func(session.Event)
}

// App holds the wired components
type App struct {
	Binary      storage.BinaryStore
	Metadata    storage.MetadataStore
	Adapters    *adapters.AdapterFactory
	Transmitter *transmitter.Transmitter
	Session     *session.Coordinator
	Relay       *services.RelayService
	// Checks ping each backing service for /health
	Checks map[string]handlers.Check

	closers []func() error
}

// New connects the configured backends and builds the coordinator
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	a := &App{Checks: make(map[string]handlers.Check)}

	binary, err := a.binaryStore(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Binary = binary
	a.Checks["binary_store"] = func(ctx context.Context) error {
		_, err := binary.UsageInfo(ctx)
		return err
	}

	var db *gorm.DB
	if cfg.NeedsDatabase() {
		db, err = database.Connect(database.Config{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			DBName:   cfg.Database.DBName,
			SSLMode:  cfg.Database.SSLMode,
			LogLevel: cfg.Database.LogLevel,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		// Connect migrates the schema
		a.closers = append(a.closers, func() error { return database.Close(db) })
		a.Checks["database"] = func(context.Context) error { return database.Ping(db) }
	}

	meta, err := a.metadataStore(cfg, db)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Metadata = meta

	var (
		auditor session.Auditor = repository.LogAuditor{}
		audits  services.AuditLister
	)
	if cfg.Database.Audit {
		repo := repository.NewAuditRepository(db)
		auditor, audits = repo, repo
	}

	mode := models.FailureMode(cfg.Relay.FailureMode)
	if opts.Mode != "" {
		mode = opts.Mode
	}

	a.Adapters = adapters.NewAdapterFactory()
	a.closers = append(a.closers, a.Adapters.CloseAll)

	anon := anonymizer.New(binary, dicomio.NewDeidentifier())
	a.Transmitter = transmitter.New(binary, a.Adapters)
	a.Session = session.New(binary, meta, anon, a.Transmitter, session.Config{
		AnonymizeConcurrency: cfg.Relay.AnonymizeConcurrency,
		SendConcurrency:      cfg.Relay.SendConcurrency,
		Mode:                 mode,
		Auditor:              auditor,
		OnEvent:              opts.OnEvent,
	})
	a.Relay = services.NewRelayService(a.Session, a.Transmitter, binary, audits)

	return a, nil
}

func (a *App) binaryStore(ctx context.Context, cfg *config.Config) (storage.BinaryStore, error) {
	switch cfg.Storage.Binary {
	case config.BackendMemory:
		log.Info().Msg("Using in-memory binary store")
		return storage.NewMemoryBinaryStore(cfg.Storage.Quota), nil
	case config.BackendMinio:
		store, err := storage.NewMinioBinaryStore(ctx, storage.MinioOptions{
			Endpoint:        cfg.MinIO.Endpoint,
			AccessKeyID:     cfg.MinIO.AccessKeyID,
			SecretAccessKey: cfg.MinIO.SecretAccessKey,
			Bucket:          cfg.MinIO.Bucket,
			Prefix:          cfg.MinIO.Prefix,
			UseSSL:          cfg.MinIO.UseSSL,
			Quota:           cfg.Storage.Quota,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open minio binary store: %w", err)
		}
		log.Info().Str("endpoint", cfg.MinIO.Endpoint).Str("bucket", cfg.MinIO.Bucket).Msg("MinIO binary store initialized")
		return store, nil
	default:
		store, err := storage.NewFileBinaryStore(cfg.Storage.Dir, cfg.Storage.Quota)
		if err != nil {
			return nil, fmt.Errorf("failed to open file binary store: %w", err)
		}
		log.Info().Str("dir", cfg.Storage.Dir).Msg("File binary store initialized")
		return store, nil
	}
}

func (a *App) metadataStore(cfg *config.Config, db *gorm.DB) (storage.MetadataStore, error) {
	switch cfg.Storage.Metadata {
	case config.BackendMemory:
		log.Info().Msg("Using in-memory metadata store")
		return storage.NewMemoryMetadataStore(), nil
	case config.BackendRedis:
		store, err := storage.NewRedisMetadataStore(storage.RedisOptions{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		a.Checks["redis"] = store.Ping
		log.Info().Str("addr", cfg.Redis.Addr).Msg("Redis metadata store initialized")
		return store, nil
	case config.BackendPostgres:
		log.Info().Msg("Postgres metadata store initialized")
		return repository.NewSessionRepository(db), nil
	default:
		store, err := storage.NewFileMetadataStore(cfg.Storage.Dir)
		if err != nil {
			return nil, fmt.Errorf("failed to open file metadata store: %w", err)
		}
		return store, nil
	}
}

// Restore reloads the persisted session, logging progress
func (a *App) Restore(ctx context.Context) error {
	return a.Session.Restore(ctx, func(p models.Progress) {
		if p.Completed == p.Total {
			log.Info().Int("files", p.Total).Msg("Session restored")
		}
	})
}

// Close releases connections in reverse order of acquisition
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
