package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Data      DataConfig
	Sync      SyncConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port string
	Host string
	Env  string
}

type DataConfig struct {
	// Dir holds the ledger database, the pairing store and the sync
	// scratch directories.
	Dir string
	// AttachmentsDir is the root of the year/month attachment tree.
	AttachmentsDir string
}

type SyncConfig struct {
	// BackupGrace is how long a served backup archive stays on disk
	// before the deferred cleanup removes it. Slow transfers read from
	// the buffered response, so this only has to cover bookkeeping.
	BackupGrace  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type RateLimitConfig struct {
	PairPerSecond float64
	PairBurst     int
	Enabled       bool
}

func Load() (*Config, error) {
	godotenv.Load()

	grace, err := time.ParseDuration(getEnv("BACKUP_GRACE", "90s"))
	if err != nil {
		return nil, fmt.Errorf("invalid BACKUP_GRACE: %w", err)
	}

	dataDir := getEnv("DATA_DIR", "./data")

	return &Config{
		Server: ServerConfig{
			Port: getEnv("SYNC_PORT", "48080"),
			Host: getEnv("HOST", "0.0.0.0"),
			Env:  getEnv("ENV", "development"),
		},
		Data: DataConfig{
			Dir:            dataDir,
			AttachmentsDir: getEnv("ATTACHMENTS_DIR", filepath.Join(dataDir, "attachments")),
		},
		Sync: SyncConfig{
			BackupGrace:  grace,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		RateLimit: RateLimitConfig{
			PairPerSecond: getEnvAsFloat("PAIR_RATE_PER_SECOND", 5),
			PairBurst:     getEnvAsInt("PAIR_RATE_BURST", 10),
			Enabled:       getEnvAsBool("PAIR_RATE_ENABLED", true),
		},
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}
