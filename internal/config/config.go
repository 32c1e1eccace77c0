// Package config holds the runtime configuration shared by the server and
// the CLI client commands.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tordrt/datasink/internal/db"
)

const (
	DefaultDatabaseURL    = "sqlite://datasink.db"
	DefaultBindAddress    = "127.0.0.1:50051"
	DefaultServerAddress  = "http://127.0.0.1:50051"
	DefaultRequestTimeout = 30 * time.Second
	DefaultStreamBatch    = 100
)

// Environment variables read by FromEnv.
const (
	EnvDatabaseURL    = "DATABASE_URL"
	EnvDatabaseName   = "DATABASE_NAME"
	EnvBindAddress    = "DATASINK_BIND_ADDRESS"
	EnvServerAddress  = "DATASINK_SERVER_ADDRESS"
	EnvSQLiteDriver   = "DATASINK_SQLITE_DRIVER"
	EnvRequestTimeout = "DATASINK_REQUEST_TIMEOUT"
	EnvStreamBatch    = "DATASINK_STREAM_BATCH_SIZE"
	EnvLogLevel       = "DATASINK_LOG_LEVEL"
	EnvLogFormat      = "DATASINK_LOG_FORMAT"
)

// Config is the process configuration. Zero values are replaced by defaults
// in Default and FromEnv.
type Config struct {
	// DatabaseURL is the locator of the default database.
	DatabaseURL string
	// DatabaseName, when set, names the default SQLite database as
	// <name>.db in the working directory.
	DatabaseName string

	BindAddress   string
	ServerAddress string

	SQLiteDriver string

	// RequestTimeout bounds every unary request. Streaming queries are
	// bounded only by the client.
	RequestTimeout time.Duration
	// StreamBatchSize is the number of rows per streamed Query element.
	StreamBatchSize int

	LogLevel  string
	LogFormat string
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		BindAddress:     DefaultBindAddress,
		ServerAddress:   DefaultServerAddress,
		SQLiteDriver:    db.SQLiteDriverMattn,
		RequestTimeout:  DefaultRequestTimeout,
		StreamBatchSize: DefaultStreamBatch,
		LogLevel:        "info",
		LogFormat:       "text",
	}
}

// FromEnv returns Default overridden by the environment. DatabaseURL is left
// empty when neither DATABASE_URL nor DATABASE_NAME is set so that
// ResolveDatabaseURL can tell "not configured" from an explicit value.
func FromEnv() (Config, error) {
	return fromLookup(os.LookupEnv)
}

func fromLookup(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str(EnvDatabaseURL, &cfg.DatabaseURL)
	str(EnvDatabaseName, &cfg.DatabaseName)
	str(EnvBindAddress, &cfg.BindAddress)
	str(EnvServerAddress, &cfg.ServerAddress)
	str(EnvSQLiteDriver, &cfg.SQLiteDriver)
	str(EnvLogLevel, &cfg.LogLevel)
	str(EnvLogFormat, &cfg.LogFormat)

	if v, ok := lookup(EnvRequestTimeout); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", EnvRequestTimeout, err)
		}
		cfg.RequestTimeout = d
	}
	if v, ok := lookup(EnvStreamBatch); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", EnvStreamBatch, err)
		}
		cfg.StreamBatchSize = n
	}
	return cfg, nil
}

// Validate checks the fields that do not depend on the filesystem.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.BindAddress) == "" {
		errs = append(errs, errors.New("bind address must not be empty"))
	}
	if !strings.HasPrefix(c.ServerAddress, "http://") && !strings.HasPrefix(c.ServerAddress, "https://") {
		errs = append(errs, fmt.Errorf("server address %q must start with http:// or https://", c.ServerAddress))
	}
	switch c.SQLiteDriver {
	case db.SQLiteDriverMattn, db.SQLiteDriverModernc:
	default:
		errs = append(errs, fmt.Errorf("unknown sqlite driver %q (use %s or %s)", c.SQLiteDriver, db.SQLiteDriverMattn, db.SQLiteDriverModernc))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("request timeout must be positive, got %s", c.RequestTimeout))
	}
	if c.StreamBatchSize <= 0 {
		errs = append(errs, fmt.Errorf("stream batch size must be positive, got %d", c.StreamBatchSize))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q (use text or json)", c.LogFormat))
	}
	return errors.Join(errs...)
}

// DBOptions returns the backend options implied by the configuration.
func (c Config) DBOptions() db.Options {
	return db.Options{SQLiteDriver: c.SQLiteDriver}
}
