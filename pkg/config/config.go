package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the master's environment-driven settings. Transport-level
// options (listen address, TLS, store backend) are flags on cmd/master.
type Config struct {
	SigningKey string // key for challenge and session tokens

	FilesDir    string // served file tree
	DataDir     string // ledger archive and other local state
	RescanEvery time.Duration
	FlushEvery  time.Duration

	ProbeDuration time.Duration
	MinMbps       float64
}

func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		SigningKey:    getEnv("MASTER_SIGNING_KEY", "change-me-master-key"),
		FilesDir:      getEnv("FILES_DIR", "./files"),
		DataDir:       getEnv("DATA_DIR", "./data"),
		RescanEvery:   getEnvAsDuration("FILES_RESCAN_EVERY", 10*time.Minute),
		FlushEvery:    getEnvAsDuration("LEDGER_FLUSH_EVERY", time.Minute),
		ProbeDuration: getEnvAsDuration("PROBE_DURATION", 10*time.Second),
		MinMbps:       getEnvAsFloat("PROBE_MIN_MBPS", 10),
	}
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}

func getEnvAsFloat(key string, defaultVal float64) float64 {
	if value, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return value
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return value
	}
	return defaultVal
}
