// Package config loads scrubnotes settings from a YAML file, an optional
// .env file and SCRUBNOTES_* environment variables, in that order of
// increasing precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"scrubnotes/internal/blob"
	"scrubnotes/internal/identity"
	"scrubnotes/internal/table"
)

// Config is the whole application configuration.
type Config struct {
	Server  ServerConfig        `yaml:"server"`
	Storage table.Options       `yaml:"storage"`
	Blob    blob.Options        `yaml:"blob"`
	Mail    identity.MailConfig `yaml:"mail"`
	Uploads UploadConfig        `yaml:"uploads"`
	Logging LoggingConfig       `yaml:"logging"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Addr string `yaml:"addr"`
	// BaseURL is the externally visible origin, used in magic links.
	BaseURL        string `yaml:"base_url"`
	RequestTimeout string `yaml:"request_timeout"`
	SecureCookies  bool   `yaml:"secure_cookies"`
}

// UploadConfig limits photo uploads.
type UploadConfig struct {
	MaxBytes int64 `yaml:"max_bytes"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level       string `yaml:"level"` // debug, info, warn, error
	Development bool   `yaml:"development"`
}

// DefaultConfig returns a configuration that runs locally with sqlite and
// filesystem blobs.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:           ":8080",
			BaseURL:        "http://localhost:8080",
			RequestTimeout: "30s",
		},
		Storage: table.Options{
			Driver:     string(table.DriverSQLite),
			SQLitePath: "./scrubnotes.db",
		},
		Blob: blob.Options{
			Driver:        string(blob.DriverFilesystem),
			FSRoot:        "./blobdata",
			PublicBaseURL: blob.DefaultPublicBaseURL,
		},
		Mail: identity.MailConfig{
			AppName:  "Scrub Notes",
			SMTPPort: "587",
		},
		Uploads: UploadConfig{MaxBytes: 10 << 20},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads path (missing file means defaults), then .env in the working
// directory, then the environment.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}
	cfg.applyEnvOverrides()

	return cfg, nil
}

// loadDotEnv fills unset environment variables from file, if it exists.
func loadDotEnv(file string) error {
	if _, err := os.Stat(file); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(file); err != nil {
		return fmt.Errorf("failed to load %s: %w", file, err)
	}
	return nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = strings.EqualFold(v, "true") || v == "1"
		}
	}

	str("SCRUBNOTES_ADDR", &c.Server.Addr)
	if port := os.Getenv("PORT"); port != "" && os.Getenv("SCRUBNOTES_ADDR") == "" {
		c.Server.Addr = ":" + port
	}
	str("SCRUBNOTES_BASE_URL", &c.Server.BaseURL)
	str("SCRUBNOTES_REQUEST_TIMEOUT", &c.Server.RequestTimeout)
	boolean("SCRUBNOTES_SECURE_COOKIES", &c.Server.SecureCookies)

	str("SCRUBNOTES_STORAGE_DRIVER", &c.Storage.Driver)
	str("SCRUBNOTES_SQLITE_PATH", &c.Storage.SQLitePath)
	str("SCRUBNOTES_POSTGRES_DSN", &c.Storage.PostgresDSN)

	str("SCRUBNOTES_BLOB_DRIVER", &c.Blob.Driver)
	str("SCRUBNOTES_BLOB_FS_ROOT", &c.Blob.FSRoot)
	str("SCRUBNOTES_BLOB_PUBLIC_BASE_URL", &c.Blob.PublicBaseURL)
	str("SCRUBNOTES_BLOB_S3_BUCKET", &c.Blob.S3.Bucket)
	str("SCRUBNOTES_BLOB_S3_REGION", &c.Blob.S3.Region)
	str("SCRUBNOTES_BLOB_S3_ENDPOINT", &c.Blob.S3.Endpoint)
	boolean("SCRUBNOTES_BLOB_S3_PATH_STYLE", &c.Blob.S3.PathStyle)
	str("SCRUBNOTES_BLOB_S3_PUBLIC_BASE_URL", &c.Blob.S3.PublicBaseURL)
	str("AWS_ACCESS_KEY_ID", &c.Blob.S3.AccessKeyID)
	str("AWS_SECRET_ACCESS_KEY", &c.Blob.S3.SecretAccessKey)
	str("AWS_SESSION_TOKEN", &c.Blob.S3.SessionToken)

	str("SCRUBNOTES_MAIL_FROM", &c.Mail.From)
	str("RESEND_API_KEY", &c.Mail.ResendAPIKey)
	str("SMTP_HOST", &c.Mail.SMTPHost)
	str("SMTP_PORT", &c.Mail.SMTPPort)
	str("SMTP_USER", &c.Mail.SMTPUser)
	str("SMTP_PASS", &c.Mail.SMTPPass)

	if v := os.Getenv("SCRUBNOTES_UPLOAD_MAX_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Uploads.MaxBytes = n
		}
	}
	str("SCRUBNOTES_LOG_LEVEL", &c.Logging.Level)
	boolean("SCRUBNOTES_LOG_DEV", &c.Logging.Development)
}

// GetRequestTimeout returns the per-request timeout; zero disables it.
func (c *Config) GetRequestTimeout() time.Duration {
	d, err := time.ParseDuration(c.Server.RequestTimeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

var (
	validStorageDrivers = []string{string(table.DriverMemory), string(table.DriverSQLite), string(table.DriverPostgres)}
	validBlobDrivers    = []string{string(blob.DriverFilesystem), string(blob.DriverMemory), string(blob.DriverS3)}
	validLogLevels      = []string{"debug", "info", "warn", "error"}
)

func oneOf(v string, valid []string) bool {
	for _, s := range valid {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

// Validate reports the first setting that cannot work.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Server.RequestTimeout != "" {
		if d, err := time.ParseDuration(c.Server.RequestTimeout); err != nil || d < 0 {
			return fmt.Errorf("invalid server.request_timeout: %q", c.Server.RequestTimeout)
		}
	}
	if !oneOf(c.Storage.Driver, validStorageDrivers) {
		return fmt.Errorf("invalid storage driver: %s (valid: %v)", c.Storage.Driver, validStorageDrivers)
	}
	if strings.EqualFold(c.Storage.Driver, string(table.DriverPostgres)) && c.Storage.PostgresDSN == "" {
		return fmt.Errorf("storage.postgres_dsn is required for the postgres driver")
	}
	if !oneOf(c.Blob.Driver, validBlobDrivers) {
		return fmt.Errorf("invalid blob driver: %s (valid: %v)", c.Blob.Driver, validBlobDrivers)
	}
	if strings.EqualFold(c.Blob.Driver, string(blob.DriverS3)) && c.Blob.S3.Bucket == "" {
		return fmt.Errorf("blob.s3.bucket is required for the s3 driver")
	}
	if c.Mail.ResendAPIKey != "" || c.Mail.SMTPHost != "" {
		if c.Mail.From == "" {
			return fmt.Errorf("mail.from is required when a mail provider is configured")
		}
	}
	if c.Uploads.MaxBytes < 0 {
		return fmt.Errorf("uploads.max_bytes must not be negative")
	}
	if !oneOf(c.Logging.Level, validLogLevels) {
		return fmt.Errorf("invalid log level: %s (valid: %v)", c.Logging.Level, validLogLevels)
	}
	return nil
}
