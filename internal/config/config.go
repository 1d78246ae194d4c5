// Package config provides configuration for the test execution service.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds the service configuration. It is built once at start-up and
// never mutated afterwards.
type Config struct {
	// Server settings
	HTTPPort int

	// Database
	DatabaseURL string

	// Execution layout
	BaseDir     string
	ReportDir   string
	KeywordsDir string

	// External commands
	AllowedCommands  []string
	RunnerCommand    string
	ReportCommand    string
	ExecutionEnabled bool
	ProcessTimeout   time.Duration
	MaxOutputBytes   int

	// Queue
	QueueBackend      string
	QueuePollInterval time.Duration
	QueueLeaseTimeout time.Duration
	QueueMaxAttempts  int
	QueueDrainTimeout time.Duration
	ConsumerWorkers   int

	// Result sinks
	NotifyConfigPath string
	ObjectStore      ObjectStoreConfig

	// Logging
	LogLevel string
}

// ObjectStoreConfig configures report publication. An empty Endpoint
// disables it.
type ObjectStoreConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// Enabled reports whether report publication is configured.
func (c ObjectStoreConfig) Enabled() bool {
	return c.Endpoint != ""
}

const (
	QueueBackendSQLite = "sqlite"
	QueueBackendMemory = "memory"
)

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPPort:          getEnvInt("HTTP_PORT", 8080),
		DatabaseURL:       getEnv("DATABASE_URL", "file:testexec.db?cache=shared&mode=rwc"),
		BaseDir:           getEnv("EXECUTION_BASE_DIR", "/tmp/test-execution"),
		ReportDir:         getEnv("REPORT_DIR", "/tmp/reports"),
		KeywordsDir:       getEnv("KEYWORDS_DIR", "/tmp/keywords"),
		AllowedCommands:   splitList(getEnv("ALLOWED_COMMANDS", "huace-apirun,allure")),
		RunnerCommand:     getEnv("RUNNER_COMMAND", "huace-apirun"),
		ReportCommand:     getEnv("REPORT_COMMAND", "allure"),
		ExecutionEnabled:  getEnvBool("EXECUTION_ENABLED", true),
		ProcessTimeout:    time.Duration(getEnvInt("PROCESS_TIMEOUT_SECONDS", 300)) * time.Second,
		MaxOutputBytes:    getEnvInt("MAX_OUTPUT_BYTES", 1<<20),
		QueueBackend:      getEnv("QUEUE_BACKEND", QueueBackendSQLite),
		QueuePollInterval: time.Duration(getEnvInt("QUEUE_POLL_INTERVAL_MS", 500)) * time.Millisecond,
		QueueLeaseTimeout: time.Duration(getEnvInt("QUEUE_LEASE_TIMEOUT_MS", 600000)) * time.Millisecond,
		QueueMaxAttempts:  getEnvInt("QUEUE_MAX_ATTEMPTS", 3),
		QueueDrainTimeout: time.Duration(getEnvInt("QUEUE_DRAIN_TIMEOUT_MS", 60000)) * time.Millisecond,
		ConsumerWorkers:   getEnvInt("CONSUMER_WORKERS", 2),
		NotifyConfigPath:  getEnv("NOTIFY_CONFIG", ""),
		ObjectStore: ObjectStoreConfig{
			Endpoint:  getEnv("OBJECTSTORE_ENDPOINT", ""),
			AccessKey: getEnv("OBJECTSTORE_ACCESS_KEY", ""),
			SecretKey: getEnv("OBJECTSTORE_SECRET_KEY", ""),
			Bucket:    getEnv("OBJECTSTORE_BUCKET", "test-reports"),
			Region:    getEnv("OBJECTSTORE_REGION", ""),
			UseSSL:    getEnvBool("OBJECTSTORE_USE_SSL", false),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Normalize makes directory paths absolute and validates the result.
func (c *Config) Normalize() error {
	for _, p := range []*string{&c.BaseDir, &c.ReportDir, &c.KeywordsDir} {
		if *p == "" {
			continue
		}
		abs, err := filepath.Abs(*p)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", *p, err)
		}
		*p = abs
	}
	return c.Validate()
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.BaseDir == "" {
		return errors.New("EXECUTION_BASE_DIR is required")
	}
	if !filepath.IsAbs(c.BaseDir) {
		return errors.New("EXECUTION_BASE_DIR must be absolute")
	}
	if c.ProcessTimeout <= 0 {
		return errors.New("PROCESS_TIMEOUT_SECONDS must be positive")
	}
	if len(c.AllowedCommands) == 0 {
		return errors.New("ALLOWED_COMMANDS must not be empty")
	}
	if c.RunnerCommand == "" {
		return errors.New("RUNNER_COMMAND is required")
	}
	if c.ReportCommand == "" {
		return errors.New("REPORT_COMMAND is required")
	}
	if c.MaxOutputBytes <= 0 {
		return errors.New("MAX_OUTPUT_BYTES must be positive")
	}
	switch c.QueueBackend {
	case QueueBackendSQLite, QueueBackendMemory:
	default:
		return fmt.Errorf("QUEUE_BACKEND must be %q or %q", QueueBackendSQLite, QueueBackendMemory)
	}
	if c.QueueMaxAttempts < 1 {
		return errors.New("QUEUE_MAX_ATTEMPTS must be >= 1")
	}
	if c.ConsumerWorkers < 1 {
		return errors.New("CONSUMER_WORKERS must be >= 1")
	}
	if c.QueuePollInterval <= 0 {
		return errors.New("QUEUE_POLL_INTERVAL_MS must be positive")
	}
	if c.QueueLeaseTimeout <= c.ProcessTimeout {
		return errors.New("QUEUE_LEASE_TIMEOUT_MS must exceed the process timeout")
	}
	if c.QueueDrainTimeout < 0 {
		return errors.New("QUEUE_DRAIN_TIMEOUT_MS must not be negative")
	}
	if c.ObjectStore.Enabled() && c.ObjectStore.Bucket == "" {
		return errors.New("OBJECTSTORE_BUCKET is required when OBJECTSTORE_ENDPOINT is set")
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
