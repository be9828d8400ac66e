package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"APP_USERS", "SESSION_SECRET", "GIN_MODE", "JOB_STORE", "MONGO_URI",
		"STORAGE_BACKEND", "GCS_BUCKET", "GENERATION_BACKEND", "GCP_PROJECT",
		"JOB_RETENTION_HOURS", "JOB_MAX_PROCESSING_MINUTES", "GENERATION_TIMEOUT_SECONDS",
		"FREE_CREDITS", "RUN_EMBEDDED_WORKER", "GENERATION_TEMPERATURE",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "redis", cfg.JobStore)
	assert.Equal(t, 24*time.Hour, cfg.Retention())
	assert.Equal(t, 15*time.Minute, cfg.MaxProcessing())
	assert.Equal(t, 10*time.Minute, cfg.GenerationTimeout())
	assert.Equal(t, 3, cfg.FreeCredits)
	assert.Equal(t, "offline", cfg.GenerationBackend)
	assert.InDelta(t, 0.4, cfg.GenerationTemperature, 1e-9)
	assert.False(t, cfg.RunEmbeddedWorker)
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())
	t.Setenv("JOB_RETENTION_HOURS", "48")
	t.Setenv("FREE_CREDITS", "not-a-number")
	t.Setenv("RUN_EMBEDDED_WORKER", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 48*time.Hour, cfg.Retention())
	assert.Equal(t, 3, cfg.FreeCredits, "invalid numbers fall back to defaults")
	assert.True(t, cfg.RunEmbeddedWorker)
}

func TestValidateReleaseRequiresSecrets(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())
	t.Setenv("GIN_MODE", "release")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "APP_USERS")
}

func TestValidateBackends(t *testing.T) {
	base := func() *Config {
		return &Config{
			GinMode:                  "debug",
			JobStore:                 "redis",
			StorageBackend:           "local",
			StorageDir:               "./data",
			GenerationBackend:        "offline",
			JobRetentionHours:        24,
			JobMaxProcessingMinutes:  15,
			GenerationTimeoutSeconds: 600,
			WorkerConcurrency:        4,
			SweepIntervalSeconds:     60,
			GenerationTemperature:    0.4,
		}
	}

	require.NoError(t, base().Validate())

	cfg := base()
	cfg.JobStore = "mongo"
	assert.ErrorContains(t, cfg.Validate(), "MONGO_URI")

	cfg = base()
	cfg.StorageBackend = "gcs"
	assert.ErrorContains(t, cfg.Validate(), "GCS_BUCKET")

	cfg = base()
	cfg.GenerationBackend = "vertex"
	assert.ErrorContains(t, cfg.Validate(), "GCP_PROJECT")

	cfg = base()
	cfg.GenerationTimeoutSeconds = 15 * 60
	assert.ErrorContains(t, cfg.Validate(), "JOB_MAX_PROCESSING_MINUTES")
}

func TestUsers(t *testing.T) {
	cfg := &Config{AppUsers: "alice:$2a$10$abc, bob:$2a$10$def ,broken,:nohash"}
	users := cfg.Users()
	assert.Equal(t, map[string]string{
		"alice": "$2a$10$abc",
		"bob":   "$2a$10$def",
	}, users)
}
