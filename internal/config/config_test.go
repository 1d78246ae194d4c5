package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, []string{"huace-apirun", "allure"}, cfg.AllowedCommands)
	assert.Equal(t, 300*time.Second, cfg.ProcessTimeout)
	assert.True(t, cfg.ExecutionEnabled)
	assert.Equal(t, QueueBackendSQLite, cfg.QueueBackend)
	assert.Equal(t, time.Minute, cfg.QueueDrainTimeout)
	assert.False(t, cfg.ObjectStore.Enabled())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("ALLOWED_COMMANDS", " runner-cli , report-cli ,,")
	t.Setenv("EXECUTION_ENABLED", "false")
	t.Setenv("PROCESS_TIMEOUT_SECONDS", "5")
	t.Setenv("EXECUTION_BASE_DIR", t.TempDir())
	t.Setenv("QUEUE_BACKEND", "memory")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"runner-cli", "report-cli"}, cfg.AllowedCommands)
	assert.False(t, cfg.ExecutionEnabled)
	assert.Equal(t, 5*time.Second, cfg.ProcessTimeout)
	assert.Equal(t, QueueBackendMemory, cfg.QueueBackend)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty allow-list", func(c *Config) { c.AllowedCommands = nil }},
		{"relative base", func(c *Config) { c.BaseDir = "relative/dir" }},
		{"zero timeout", func(c *Config) { c.ProcessTimeout = 0 }},
		{"unknown queue", func(c *Config) { c.QueueBackend = "kafka" }},
		{"lease shorter than timeout", func(c *Config) { c.QueueLeaseTimeout = time.Second }},
		{"negative drain", func(c *Config) { c.QueueDrainTimeout = -time.Second }},
		{"bucket missing", func(c *Config) { c.ObjectStore = ObjectStoreConfig{Endpoint: "minio:9000"} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
