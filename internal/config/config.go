package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the Whisker response service.
type Config struct {
	Port      int
	Version   string
	Standard  TierConfig
	Pro       TierConfig
	Orchestra OrchestraConfig
	Stream    StreamConfig
	Telemetry TelemetryConfig
}

// TierConfig describes one chat-completions model tier. A tier with an
// empty URL is treated as not configured.
type TierConfig struct {
	URL             string
	APIKey          string
	Model           string
	MaxTokens       int
	Temperature     float64
	TopP            float64
	TopK            int
	MinP            float64
	PresencePenalty float64
	EnableThinking  bool
	ThinkingOnly    bool
	RequestTimeout  time.Duration
}

// Configured reports whether the tier has an endpoint to call.
func (t TierConfig) Configured() bool { return t.URL != "" }

// OrchestraConfig bounds the multi-phase pipeline and its tool loop.
type OrchestraConfig struct {
	MaxToolIterations int
	ToolRetryLimit    int
	ReviewMaxTokens   int
}

// StreamConfig bounds the SSE session pool.
type StreamConfig struct {
	MaxSessions       int
	HeartbeatInterval time.Duration
	SweepInterval     time.Duration
	IdleTimeout       time.Duration
	TokenDelay        time.Duration
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Port:    envInt("WHISKER_PORT", 8080),
		Version: envStr("WHISKER_VERSION", "0.4.0"),
		Standard: TierConfig{
			URL:             envStr("STANDARD_MODEL_URL", ""),
			APIKey:          envStr("STANDARD_MODEL_API_KEY", ""),
			Model:           envStr("STANDARD_MODEL_NAME", ""),
			MaxTokens:       envInt("STANDARD_MAX_TOKENS", 2048),
			Temperature:     envFloat("STANDARD_TEMPERATURE", 0.7),
			TopP:            envFloat("STANDARD_TOP_P", 0.9),
			TopK:            envInt("STANDARD_TOP_K", 0),
			MinP:            envFloat("STANDARD_MIN_P", 0),
			PresencePenalty: envFloat("STANDARD_PRESENCE_PENALTY", 0),
			EnableThinking:  envBool("STANDARD_ENABLE_THINKING", false),
			ThinkingOnly:    envBool("STANDARD_THINKING_ONLY", false),
			RequestTimeout:  envDuration("STANDARD_REQUEST_TIMEOUT_MS", 45*time.Second),
		},
		Pro: TierConfig{
			URL:             envStr("PRO_MODEL_URL", ""),
			APIKey:          envStr("PRO_MODEL_API_KEY", ""),
			Model:           envStr("PRO_MODEL_NAME", ""),
			MaxTokens:       envInt("PRO_MAX_TOKENS", 4096),
			Temperature:     envFloat("PRO_TEMPERATURE", 0.6),
			TopP:            envFloat("PRO_TOP_P", 0.95),
			TopK:            envInt("PRO_TOP_K", 0),
			MinP:            envFloat("PRO_MIN_P", 0),
			PresencePenalty: envFloat("PRO_PRESENCE_PENALTY", 0),
			EnableThinking:  envBool("PRO_ENABLE_THINKING", true),
			ThinkingOnly:    envBool("PRO_THINKING_ONLY", false),
			RequestTimeout:  envDuration("PRO_REQUEST_TIMEOUT_MS", 90*time.Second),
		},
		Orchestra: OrchestraConfig{
			MaxToolIterations: envInt("MAX_TOOL_ITERATIONS", 5),
			ToolRetryLimit:    envInt("TOOL_RETRY_LIMIT", 1),
			ReviewMaxTokens:   envInt("REVIEW_MAX_TOKENS", 1024),
		},
		Stream: StreamConfig{
			MaxSessions:       envInt("STREAM_MAX_SESSIONS", 100),
			HeartbeatInterval: envDuration("STREAM_HEARTBEAT_MS", 15*time.Second),
			SweepInterval:     envDuration("STREAM_SWEEP_MS", 60*time.Second),
			IdleTimeout:       envDuration("STREAM_IDLE_TIMEOUT_MS", 5*time.Minute),
			TokenDelay:        envDuration("STREAM_TOKEN_DELAY_MS", 32*time.Millisecond),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", true),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "whisker"),
		},
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// envDuration reads a millisecond count, matching how the upstream
// services express their timeouts.
func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return fallback
}
