package config

import (
	"os"
	"strconv"
	"strings"
)

const (
	envListen        = "LENDINGD_LISTEN"
	envDataDir       = "LENDINGD_DATA_DIR"
	envEnvironment   = "LENDINGD_ENV"
	envLogFile       = "LENDINGD_LOG_FILE"
	envOwner         = "LENDINGD_OWNER"
	envJWTSecret     = "LENDINGD_JWT_SECRET"
	envRatePerSecond = "LENDINGD_RATE_PER_SECOND"
	envRateBurst     = "LENDINGD_RATE_BURST"
	envJournalDSN    = "LENDINGD_JOURNAL_DSN"
	envOTLPEndpoint  = "LENDINGD_OTLP_ENDPOINT"
	envOTLPInsecure  = "LENDINGD_OTLP_INSECURE"

	defaultListen = "0.0.0.0:8645"
)

// ApplyEnv overlays LENDINGD_* environment variables on the configuration.
// The secret named by Auth.HMACSecretEnv is resolved here as well.
func (cfg *Config) ApplyEnv() {
	cfg.ListenAddress = stringFromEnv(envListen, cfg.ListenAddress)
	cfg.DataDir = stringFromEnv(envDataDir, cfg.DataDir)
	cfg.Environment = stringFromEnv(envEnvironment, cfg.Environment)
	cfg.LogFile = stringFromEnv(envLogFile, cfg.LogFile)
	cfg.Owner = stringFromEnv(envOwner, cfg.Owner)
	cfg.RateLimit.RequestsPerSecond = floatFromEnv(envRatePerSecond, cfg.RateLimit.RequestsPerSecond)
	cfg.RateLimit.Burst = intFromEnv(envRateBurst, cfg.RateLimit.Burst)
	cfg.Journal.DSN = stringFromEnv(envJournalDSN, cfg.Journal.DSN)
	cfg.Telemetry.OTLPEndpoint = stringFromEnv(envOTLPEndpoint, cfg.Telemetry.OTLPEndpoint)
	cfg.Telemetry.Insecure = boolFromEnv(envOTLPInsecure, cfg.Telemetry.Insecure)

	if name := strings.TrimSpace(cfg.Auth.HMACSecretEnv); name != "" {
		cfg.Auth.HMACSecret = stringFromEnv(name, cfg.Auth.HMACSecret)
	}
	cfg.Auth.HMACSecret = stringFromEnv(envJWTSecret, cfg.Auth.HMACSecret)
}

// Sanitized returns a copy of the Config with secrets masked for logging.
func (cfg Config) Sanitized() Config {
	clone := cfg
	clone.Assets = append([]AssetConfig(nil), cfg.Assets...)
	if clone.Auth.HMACSecret != "" {
		clone.Auth.HMACSecret = maskSecret(clone.Auth.HMACSecret)
	}
	return clone
}

func maskSecret(value string) string {
	if value == "" {
		return ""
	}
	return "***"
}

func stringFromEnv(key, fallback string) string {
	trimmed := strings.TrimSpace(os.Getenv(key))
	if trimmed == "" {
		return fallback
	}
	return trimmed
}

func boolFromEnv(key string, fallback bool) bool {
	trimmed := strings.TrimSpace(os.Getenv(key))
	if trimmed == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(trimmed)
	if err != nil {
		return fallback
	}
	return parsed
}

func intFromEnv(key string, fallback int) int {
	trimmed := strings.TrimSpace(os.Getenv(key))
	if trimmed == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(trimmed)
	if err != nil {
		return fallback
	}
	return parsed
}

func floatFromEnv(key string, fallback float64) float64 {
	trimmed := strings.TrimSpace(os.Getenv(key))
	if trimmed == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return fallback
	}
	return parsed
}
