// Package config holds runtime configuration: environment-driven settings
// with built-in defaults for pipeline caps, agent-loop limits, streaming, and
// the HTTP server.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the root configuration assembled at startup.
type Config struct {
	Server    *ServerConfig
	Pipeline  *PipelineConfig
	Agent     *AgentConfig
	Stream    *StreamConfig
	LLM       *LLMConfig
	RateLimit *RateLimitConfig
	Retention *RetentionConfig
}

// Load builds the configuration from environment variables, falling back to
// the built-in defaults for anything unset.
func Load() (*Config, error) {
	cfg := &Config{
		Server:    DefaultServerConfig(),
		Pipeline:  DefaultPipelineConfig(),
		Agent:     DefaultAgentConfig(),
		Stream:    DefaultStreamConfig(),
		LLM:       DefaultLLMConfig(),
		RateLimit: DefaultRateLimitConfig(),
		Retention: DefaultRetentionConfig(),
	}

	cfg.Server.Host = getEnvOrDefault("SERVER_HOST", cfg.Server.Host)
	if port := os.Getenv("SERVER_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid SERVER_PORT: %w", err)
		}
		cfg.Server.Port = p
	}

	if v := os.Getenv("MAX_GLOBAL_PIPELINES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid MAX_GLOBAL_PIPELINES: %q", v)
		}
		cfg.Pipeline.MaxGlobalPipelines = n
	}
	if v := os.Getenv("MAX_USER_PIPELINES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid MAX_USER_PIPELINES: %q", v)
		}
		cfg.Pipeline.MaxUserPipelines = n
	}

	cfg.LLM.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	if v := os.Getenv("LLM_MAX_TOKENS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid LLM_MAX_TOKENS: %q", v)
		}
		cfg.LLM.MaxTokens = n
	}
	for profile, envKey := range map[ModelProfile]string{
		ProfileLight:        "MODEL_LIGHT",
		ProfileMid:          "MODEL_MID",
		ProfilePrimary:      "MODEL_PRIMARY",
		ProfileOrchestrator: "MODEL_ORCHESTRATOR",
	} {
		if v := os.Getenv(envKey); v != "" {
			cfg.LLM.Profiles[profile] = v
		}
	}

	return cfg, nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host string
	Port int

	ReadHeaderTimeout time.Duration
	// WriteTimeout stays zero so long-lived SSE responses are not cut off;
	// the SSE writer arms a per-write deadline (StreamConfig.WriteTimeout)
	// instead.
	WriteTimeout time.Duration

	ShutdownTimeout time.Duration
}

// DefaultServerConfig returns the built-in server defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Host:              "0.0.0.0",
		Port:              8080,
		ReadHeaderTimeout: 10 * time.Second,
		ShutdownTimeout:   5 * time.Second,
	}
}

// RetentionConfig controls the background data-retention sweeps.
type RetentionConfig struct {
	SessionRetention time.Duration
	EventTTL         time.Duration
	CleanupInterval  time.Duration
}

// DefaultRetentionConfig returns the built-in retention defaults.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		SessionRetention: 30 * 24 * time.Hour,
		EventTTL:         7 * 24 * time.Hour,
		CleanupInterval:  time.Hour,
	}
}

// RateLimitConfig controls the per-user token buckets wrapping mutating
// endpoints and the SSE endpoint.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
	// MaxBuckets bounds the bucket registry so cycling identities cannot
	// exhaust memory; least-recently-used buckets are evicted past this.
	MaxBuckets int
}

// DefaultRateLimitConfig returns the built-in rate-limit defaults.
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerSecond: 5,
		Burst:             10,
		MaxBuckets:        10000,
	}
}
