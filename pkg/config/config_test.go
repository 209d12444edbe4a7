package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 10, cfg.Pipeline.MaxGlobalPipelines)
	assert.Equal(t, 1, cfg.Pipeline.MaxUserPipelines)
	assert.Equal(t, 15*time.Minute, cfg.Pipeline.StaleThreshold)
	assert.Equal(t, 30*24*time.Hour, cfg.Retention.SessionRetention)
	assert.Equal(t, 7*24*time.Hour, cfg.Retention.EventTTL)
	assert.Zero(t, cfg.Server.WriteTimeout, "SSE responses must not be cut off by a write timeout")
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SERVER_HOST", "127.0.0.1")
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("MAX_GLOBAL_PIPELINES", "25")
	t.Setenv("MAX_USER_PIPELINES", "2")
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	t.Setenv("MODEL_PRIMARY", "custom-primary-model")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 25, cfg.Pipeline.MaxGlobalPipelines)
	assert.Equal(t, 2, cfg.Pipeline.MaxUserPipelines)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, "custom-primary-model", cfg.LLM.Model(ProfilePrimary))
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"SERVER_PORT", "not-a-port"},
		{"MAX_GLOBAL_PIPELINES", "0"},
		{"MAX_USER_PIPELINES", "-1"},
		{"LLM_MAX_TOKENS", "zero"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestModelProfiles(t *testing.T) {
	cfg := DefaultLLMConfig()

	for _, profile := range []ModelProfile{ProfileLight, ProfileMid, ProfilePrimary, ProfileOrchestrator} {
		assert.NotEmpty(t, cfg.Model(profile), "profile %s must resolve to a model id", profile)
	}
}
