// Package config loads the relay's settings from the environment, an
// optional .env file and an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/otcheredev/ris-dicom-relay/internal/models"
	"github.com/spf13/viper"
)

// Storage backends
const (
	BackendFile     = "file"
	BackendMemory   = "memory"
	BackendMinio    = "minio"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config is the full application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	MinIO    MinIOConfig    `mapstructure:"minio"`
	CORS     CORSConfig     `mapstructure:"cors"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Relay    RelayConfig    `mapstructure:"relay"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// MaxUploadBytes bounds one multipart upload request
	MaxUploadBytes int64 `mapstructure:"max_upload_bytes"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// StorageConfig selects the binary and metadata backends
type StorageConfig struct {
	Binary   string `mapstructure:"binary"`
	Metadata string `mapstructure:"metadata"`
	Dir      string `mapstructure:"dir"`
	Quota    int64  `mapstructure:"quota"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
	LogLevel string `mapstructure:"log_level"`
	// Audit stores run audit entries in Postgres
	Audit bool `mapstructure:"audit"`
}

type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// RelayConfig tunes the anonymize and send pipelines
type RelayConfig struct {
	AnonymizeConcurrency int    `mapstructure:"anonymize_concurrency"`
	SendConcurrency      int    `mapstructure:"send_concurrency"`
	FailureMode          string `mapstructure:"failure_mode"`
	PublicURL            string `mapstructure:"public_url"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 60*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Minute)
	v.SetDefault("server.max_upload_bytes", int64(2<<30))

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("storage.binary", BackendFile)
	v.SetDefault("storage.metadata", BackendFile)
	v.SetDefault("storage.dir", "./data")
	v.SetDefault("storage.quota", int64(0))

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "dicom_relay")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("database.audit", false)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "dicom-relay:")

	v.SetDefault("minio.endpoint", "")
	v.SetDefault("minio.access_key_id", "")
	v.SetDefault("minio.secret_access_key", "")
	v.SetDefault("minio.use_ssl", false)
	v.SetDefault("minio.bucket", "dicom-relay")
	v.SetDefault("minio.prefix", "")

	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{"Accept", "Authorization", "Content-Type"})

	v.SetDefault("metrics.enabled", true)

	v.SetDefault("relay.anonymize_concurrency", 3)
	v.SetDefault("relay.send_concurrency", 2)
	v.SetDefault("relay.failure_mode", string(models.CollectAndContinue))
	v.SetDefault("relay.public_url", "")
}

// Load reads .env (if present), the optional YAML file at path and the
// environment. Environment variables use upper-case keys with underscores,
// e.g. SERVER_PORT or STORAGE_BINARY.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Validate rejects unusable combinations
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log format: %s", c.Log.Format)
	}

	switch c.Storage.Binary {
	case BackendFile, BackendMemory:
	case BackendMinio:
		if c.MinIO.Endpoint == "" || c.MinIO.Bucket == "" {
			return fmt.Errorf("minio binary store requires endpoint and bucket")
		}
	default:
		return fmt.Errorf("invalid binary store backend: %s", c.Storage.Binary)
	}

	switch c.Storage.Metadata {
	case BackendFile, BackendMemory, BackendPostgres:
	case BackendRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis metadata store requires an address")
		}
	default:
		return fmt.Errorf("invalid metadata store backend: %s", c.Storage.Metadata)
	}

	if (c.Storage.Binary == BackendFile || c.Storage.Metadata == BackendFile) && c.Storage.Dir == "" {
		return fmt.Errorf("file storage requires a directory")
	}
	if (c.Storage.Metadata == BackendPostgres || c.Database.Audit) && c.Database.Host == "" {
		return fmt.Errorf("postgres requires a database host")
	}

	if c.Relay.AnonymizeConcurrency < 1 || c.Relay.SendConcurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1")
	}
	switch models.FailureMode(c.Relay.FailureMode) {
	case models.CollectAndContinue, models.FailFast:
	default:
		return fmt.Errorf("invalid failure mode: %s", c.Relay.FailureMode)
	}

	return nil
}

// NeedsDatabase reports whether Postgres must be connected
func (c *Config) NeedsDatabase() bool {
	return c.Storage.Metadata == BackendPostgres || c.Database.Audit
}

// Addr returns the listen address
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
