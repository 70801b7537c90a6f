/*
config.go - Server configuration

PURPOSE:
  Collects everything cmd/server needs to start: where to listen, which
  blob store to open, how to log and how often to retry failed flushes.

SOURCES (later wins):
  1. Defaults below
  2. Environment variables
  3. Command-line flags

  FLAG          ENV               DEFAULT
  -port         PORT              8080
  -store        STORE             sqlite   (sqlite | postgres | memory)
  -db           DB_PATH           snapsolpay.db
  -database-url DATABASE_URL      (required when -store=postgres)
  -log-level    LOG_LEVEL         info
  -log-format   LOG_FORMAT        text     (text | json)
  -flush-retry  FLUSH_RETRY_SPEC  @every 30s (robfig/cron spec, "" disables)
  -cors-origins CORS_ORIGINS      *        (comma separated)

SEE ALSO:
  - cmd/server/main.go: consumer
*/
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Store backends.
const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	Port        int
	Store       string
	DBPath      string
	DatabaseURL string
	LogLevel    string
	LogFormat   string
	FlushRetry  string
	CORSOrigins []string
}

// Load parses args (without the program name) on top of the environment.
func Load(args []string) (*Config, error) {
	port, err := strconv.Atoi(getEnv("PORT", "8080"))
	if err != nil {
		return nil, fmt.Errorf("PORT: %w", err)
	}

	cfg := &Config{}
	var origins string

	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.IntVar(&cfg.Port, "port", port, "HTTP server port")
	fs.StringVar(&cfg.Store, "store", getEnv("STORE", StoreSQLite), "blob store: sqlite, postgres or memory")
	fs.StringVar(&cfg.DBPath, "db", getEnv("DB_PATH", "snapsolpay.db"), "SQLite database path")
	fs.StringVar(&cfg.DatabaseURL, "database-url", getEnv("DATABASE_URL", ""), "PostgreSQL connection string")
	fs.StringVar(&cfg.LogLevel, "log-level", getEnv("LOG_LEVEL", "info"), "log level")
	fs.StringVar(&cfg.LogFormat, "log-format", getEnv("LOG_FORMAT", "text"), "log format: text or json")
	fs.StringVar(&cfg.FlushRetry, "flush-retry", getEnv("FLUSH_RETRY_SPEC", "@every 30s"), "cron spec for retrying failed flushes")
	fs.StringVar(&origins, "cors-origins", getEnv("CORS_ORIGINS", "*"), "allowed CORS origins, comma separated")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	cfg.CORSOrigins = splitList(origins)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	switch c.Store {
	case StoreSQLite:
		if c.DBPath == "" {
			return fmt.Errorf("db path is required for the sqlite store")
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres store")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}
	if c.FlushRetry != "" {
		if _, err := cron.ParseStandard(c.FlushRetry); err != nil {
			return fmt.Errorf("flush retry spec: %w", err)
		}
	}
	return nil
}

// Logger builds the process logger.
func (c *Config) Logger() *logrus.Logger {
	logger := logrus.New()
	if c.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
