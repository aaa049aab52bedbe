package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(values map[string]string) lookupFunc {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(env(map[string]string{
		"ENVIRONMENT":              "test",
		"KAFKA_BROKERS":            " a:9092, b:9092 ,a:9092",
		"OUTBOX_INTERVAL":          "30s",
		"PILOT_UNITS":              "0315,0316",
		"ARCHIVE_FALLBACK_ENABLED": "true",
	}))
	require.NoError(t, err)

	assert.Equal(t, EnvTest, cfg.Environment)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 30*time.Second, cfg.Outbox.Interval)
	assert.Equal(t, []string{"0315", "0316"}, cfg.Checkpoint.PilotUnits)
	assert.True(t, cfg.Archive.FallbackEnabled)
}

func TestApplyEnvReportsBadValues(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(env(map[string]string{
		"OUTBOX_INTERVAL":          "soon",
		"ARCHIVE_FALLBACK_ENABLED": "maybe",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OUTBOX_INTERVAL")
	assert.Contains(t, err.Error(), "ARCHIVE_FALLBACK_ENABLED")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{
			name: "archive fallback in production",
			mutate: func(c *Config) {
				c.Environment = EnvProduction
				c.Archive.FallbackEnabled = true
			},
			errMsg: "archive fallback",
		},
		{
			name:   "zero interval",
			mutate: func(c *Config) { c.Checkpoint.Interval = 0 },
			errMsg: "intervals must be positive",
		},
		{
			name:   "redis leadership without redis",
			mutate: func(c *Config) { c.Leader.Mode = LeaderRedis },
			errMsg: "redis url",
		},
		{
			name:   "http leadership without elector",
			mutate: func(c *Config) { c.Leader.Mode = LeaderHTTP },
			errMsg: "elector url",
		},
		{
			name:   "no brokers",
			mutate: func(c *Config) { c.Kafka.Brokers = nil },
			errMsg: "kafka broker",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}

	t.Run("fallback allowed outside production", func(t *testing.T) {
		cfg := Default()
		cfg.Archive.FallbackEnabled = true
		assert.NoError(t, cfg.Validate())
	})
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "followup.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
environment: test
kafka:
  brokers: [redpanda:9092]
  topics:
    candidates: followup.candidates.v2
outbox:
  interval: 2m
  batch_size: 50
checkpoint:
  pilot_units: ["0315"]
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"redpanda:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "followup.candidates.v2", cfg.Kafka.Topics.Candidates)
	assert.Equal(t, "followup.answer-received", cfg.Kafka.Topics.AnswerReceived)
	assert.Equal(t, 2*time.Minute, cfg.Outbox.Interval)
	assert.Equal(t, 50, cfg.Outbox.BatchSize)
	assert.Equal(t, 5*time.Minute, cfg.Outbox.InitialDelay)
	assert.Equal(t, []string{"0315"}, cfg.Checkpoint.PilotUnits)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
