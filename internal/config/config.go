package config

import "os"

// Config holds process configuration loaded from environment variables.
// Per-solve search parameters live in solver.Params, loaded separately.
type Config struct {
	RedisURL   string
	EnginePath string
	ParamsPath string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		RedisURL:   envOrDefault("REDIS_URL", ""),
		EnginePath: envOrDefault("ENGINE_PATH", ""),
		ParamsPath: envOrDefault("PARAMS_PATH", ""),
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
