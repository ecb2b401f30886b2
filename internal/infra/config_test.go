package infra

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	// Файла конфига в тестовой директории нет — работаем на дефолтах
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 9090, cfg.Server.MetricsPort)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "info", cfg.Logger.Level)

	assert.Equal(t, 30*time.Second, cfg.Pipeline.StageTimeout)
	assert.Equal(t, uint(3), cfg.Pipeline.RetryAttempts)
	assert.Equal(t, 0.5, cfg.Pipeline.ConfidenceThreshold)
	assert.Equal(t, "raw", cfg.Pipeline.RawBucket)
	assert.Equal(t, "evidence", cfg.Pipeline.EvidenceBucket)

	assert.Equal(t, 100, cfg.Ledger.SegmentMaxRecords)
	assert.Equal(t, 30*time.Second, cfg.Ledger.SegmentMaxAge)
	assert.Equal(t, 365*24*time.Hour, cfg.Ledger.RetentionPeriod)
	assert.Equal(t, 24*time.Hour, cfg.Ledger.DedupTTL)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("PIPELINE_STAGE_TIMEOUT", "7s")
	t.Setenv("REDIS_ADDR", "redis:6380")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 7*time.Second, cfg.Pipeline.StageTimeout)
	assert.Equal(t, "redis:6380", cfg.Redis.Addr)
}

func TestLoadConfigKeysFromEnv(t *testing.T) {
	t.Setenv("AUTH_PUBLIC_KEY_DATA", "-----BEGIN PUBLIC KEY-----")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, []byte("-----BEGIN PUBLIC KEY-----"), cfg.Auth.PublicKey)
}

func TestRedisKeyHelpers(t *testing.T) {
	assert.Equal(t, "evw:ledger:dedup:r-1|t|1", GetDedupKey("r-1|t|1"))
}
