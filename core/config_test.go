package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg, err := NewConfig()
	require.NoError(t, err)

	assert.Equal(t, "cd", cfg.MediaType)
	assert.Equal(t, 5, cfg.Workers)
	assert.Equal(t, 80, cfg.HighConfidenceThreshold)
	assert.Equal(t, 79, cfg.ReviewThreshold)
	assert.Equal(t, 0.9, cfg.DuplicateTitleThreshold)
	assert.Equal(t, int64(40*1024*1024), cfg.LLM.MaxBatchPayloadBytes)
	assert.Equal(t, 24*time.Hour, cfg.LLM.BatchDeadline)
	assert.Equal(t, 30*time.Second, cfg.LLM.RetryDelay)
	assert.Equal(t, 1000, cfg.WorldCat.BroadQueryThreshold)
	assert.Equal(t, "IXA", cfg.WorldCat.InstitutionSymbol)
	assert.Equal(t, float64(20), cfg.Alma.RequestsPerSecond)
	assert.Equal(t, "file", cfg.Store.Provider)
}

func TestNewConfigEnvironmentOverride(t *testing.T) {
	t.Setenv("MEDIACAT_WORKERS", "8")
	t.Setenv("MEDIACAT_MEDIA_TYPE", "lp")
	t.Setenv("MEDIACAT_BATCH_MAX_BYTES", "1048576")
	t.Setenv("MEDIACAT_BATCH_CHECK_INTERVAL", "5s")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := NewConfig()
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, "lp", cfg.MediaType)
	assert.Equal(t, int64(1048576), cfg.LLM.MaxBatchPayloadBytes)
	assert.Equal(t, 5*time.Second, cfg.LLM.CheckInterval)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
}

func TestNewConfigOptionBeatsEnvironment(t *testing.T) {
	t.Setenv("MEDIACAT_WORKERS", "8")

	cfg, err := NewConfig(WithWorkers(3))
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Workers)
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate Option
	}{
		{"bad media type", WithMediaType("cassette")},
		{"zero workers", WithWorkers(0)},
		{"redis without url", WithStoreProvider("redis")},
		{"unknown store", WithStoreProvider("dynamo")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewConfig(tt.mutate)
			assert.Error(t, err)
		})
	}
}

func TestConfigValidationThresholds(t *testing.T) {
	cfg := defaultConfig()
	cfg.ReviewThreshold = 85 // above high-confidence threshold
	assert.Error(t, cfg.Validate())

	cfg = defaultConfig()
	cfg.DuplicateTitleThreshold = 1.5
	assert.Error(t, cfg.Validate())
}
