package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v10"
)

// EnvProduction hides internal error details from HTTP responses.
const EnvProduction = "production"

// Config is the service configuration, read from a TOML file and
// overridden by WA_* environment variables.
type Config struct {
	Env            string `toml:"env" env:"WA_ENV"`
	DataDir        string `toml:"data_dir" env:"WA_DATA_DIR"`
	DefaultSession string `toml:"default_session" env:"WA_DEFAULT_SESSION"`
	// RestoreSessions re-initializes sessions with cached credentials at startup.
	RestoreSessions bool `toml:"restore_sessions" env:"WA_RESTORE_SESSIONS"`

	HTTP     HTTPConfig     `toml:"http" envPrefix:"WA_HTTP_"`
	Database DatabaseConfig `toml:"database" envPrefix:"WA_DB_"`
	Messages MessagesConfig `toml:"messages" envPrefix:"WA_MESSAGES_"`
	QR       QRConfig       `toml:"qr" envPrefix:"WA_QR_"`
	Log      LogConfig      `toml:"log" envPrefix:"WA_LOG_"`
	Health   HealthConfig   `toml:"health" envPrefix:"WA_HEALTH_"`
}

type HTTPConfig struct {
	Addr     string `toml:"addr" env:"ADDR"`
	BasePath string `toml:"base_path" env:"BASE_PATH"`
	// APIToken, when set, is required as a bearer token on message routes.
	APIToken        string        `toml:"api_token" env:"API_TOKEN"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// AllowedOrigins restricts browser origins for CORS and the push
	// channel. Empty allows any origin.
	AllowedOrigins []string `toml:"allowed_origins" env:"ALLOWED_ORIGINS" envSeparator:","`
}

type DatabaseConfig struct {
	Driver string `toml:"driver" env:"DRIVER"` // sqlite3 or postgres
	DSN    string `toml:"dsn" env:"DSN"`
}

type MessagesConfig struct {
	MaxLength      int           `toml:"max_length" env:"MAX_LENGTH"`
	SendTimeout    time.Duration `toml:"send_timeout" env:"SEND_TIMEOUT"`
	BulkInterval   time.Duration `toml:"bulk_interval" env:"BULK_INTERVAL"`
	PendingTTL     time.Duration `toml:"pending_ttl" env:"PENDING_TTL"`
	ReaperInterval time.Duration `toml:"reaper_interval" env:"REAPER_INTERVAL"`
}

type QRConfig struct {
	Backend string   `toml:"backend" env:"BACKEND"` // fs or s3
	Dir     string   `toml:"dir" env:"DIR"`
	Size    int      `toml:"size" env:"SIZE"`
	S3      S3Config `toml:"s3" envPrefix:"S3_"`
}

type S3Config struct {
	Bucket          string `toml:"bucket" env:"BUCKET"`
	Prefix          string `toml:"prefix" env:"PREFIX"`
	Region          string `toml:"region" env:"REGION"`
	Endpoint        string `toml:"endpoint" env:"ENDPOINT"`
	AccessKeyID     string `toml:"access_key_id" env:"ACCESS_KEY_ID"`
	SecretAccessKey string `toml:"secret_access_key" env:"SECRET_ACCESS_KEY"`
	UsePathStyle    bool   `toml:"use_path_style" env:"USE_PATH_STYLE"`
}

type LogConfig struct {
	Level      string `toml:"level" env:"LEVEL"`
	File       string `toml:"file" env:"FILE"`
	MaxSizeMB  int    `toml:"max_size_mb" env:"MAX_SIZE_MB"`
	MaxBackups int    `toml:"max_backups" env:"MAX_BACKUPS"`
	MaxAgeDays int    `toml:"max_age_days" env:"MAX_AGE_DAYS"`
}

type HealthConfig struct {
	// Socket is the unix socket of the gRPC health service. Empty means <data_dir>/health.sock.
	Socket string `toml:"socket" env:"SOCKET"`
}

// Default returns the configuration used when neither file nor environment set a value.
func Default() *Config {
	return &Config{
		Env:             "development",
		DataDir:         "data",
		DefaultSession:  "default",
		RestoreSessions: true,
		HTTP: HTTPConfig{
			Addr:            ":3001",
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Driver: "sqlite3",
		},
		Messages: MessagesConfig{
			MaxLength:      10000,
			SendTimeout:    15 * time.Second,
			BulkInterval:   500 * time.Millisecond,
			PendingTTL:     2 * time.Minute,
			ReaperInterval: 30 * time.Second,
		},
		QR: QRConfig{
			Backend: "fs",
			Size:    256,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  64,
			MaxBackups: 5,
			MaxAgeDays: 14,
		},
	}
}

// Load reads config from path on top of Default and applies environment
// overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the service cannot run with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("database.driver %q: want sqlite3 or postgres", c.Database.Driver)
	}
	if c.Database.Driver == "postgres" && c.Database.DSN == "" {
		return errors.New("database.dsn is required for postgres")
	}
	switch c.QR.Backend {
	case "fs":
	case "s3":
		if c.QR.S3.Bucket == "" {
			return errors.New("qr.s3.bucket is required for the s3 backend")
		}
	default:
		return fmt.Errorf("qr.backend %q: want fs or s3", c.QR.Backend)
	}
	if c.Messages.MaxLength <= 0 {
		return fmt.Errorf("messages.max_length must be positive, got %d", c.Messages.MaxLength)
	}
	if c.Messages.SendTimeout <= 0 {
		return fmt.Errorf("messages.send_timeout must be positive, got %s", c.Messages.SendTimeout)
	}
	if c.Messages.PendingTTL <= c.Messages.SendTimeout {
		return fmt.Errorf("messages.pending_ttl (%s) must exceed messages.send_timeout (%s)",
			c.Messages.PendingTTL, c.Messages.SendTimeout)
	}
	if c.Messages.ReaperInterval <= 0 {
		return fmt.Errorf("messages.reaper_interval must be positive, got %s", c.Messages.ReaperInterval)
	}
	if c.DefaultSession == "" {
		return errors.New("default_session must not be empty")
	}
	return nil
}

// Production reports whether the service runs in production mode.
func (c *Config) Production() bool {
	return c.Env == EnvProduction
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
