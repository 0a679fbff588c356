// Package config loads the worker's runtime configuration from the
// environment.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds runtime configuration for the ingestion worker.
type Config struct {
	DatabaseURL string
	WorkerID    string
	ChainID     int

	PollIntervalProbe   time.Duration
	PollIntervalScanner time.Duration
	PollIntervalRollup  time.Duration
	PollIntervalAlerts  time.Duration

	MaxConcurrentProbes int
	BlockBatchSize      int
	TraceQueueSize      int
	MaxTracesPerMinute  int

	RPCTimeoutDefault time.Duration
	RPCTimeoutTrace   time.Duration
	MaxRetries        int
	BackoffBase       int

	LogLevel string

	// DB pool bounds (internal/store)
	DBMinConns         int
	DBMaxConns         int
	DBCommandTimeout   time.Duration
	AdminListenAddress string
}

// Load reads configuration from the environment. A missing
// DATABASE_URL is a fatal configuration error: the caller should exit
// non-zero.
func Load() (Config, error) {
	loadDotEnv()

	cfg := Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		WorkerID:    getEnv("WORKER_ID", "worker-1"),
		ChainID:     getEnvInt("CHAIN_ID", 5000),

		PollIntervalProbe:   time.Duration(getEnvInt("POLL_INTERVAL_PROBE", 30)) * time.Second,
		PollIntervalScanner: time.Duration(getEnvInt("POLL_INTERVAL_SCANNER", 2)) * time.Second,
		PollIntervalRollup:  time.Duration(getEnvInt("POLL_INTERVAL_ROLLUP", 60)) * time.Second,
		PollIntervalAlerts:  time.Duration(getEnvInt("POLL_INTERVAL_ALERTS", 30)) * time.Second,

		MaxConcurrentProbes: getEnvInt("MAX_CONCURRENT_PROBES", 3),
		BlockBatchSize:      getEnvInt("BLOCK_BATCH_SIZE", 10),
		TraceQueueSize:      getEnvInt("TRACE_QUEUE_SIZE", 100),
		MaxTracesPerMinute:  getEnvInt("MAX_TRACES_PER_MINUTE", 10),

		RPCTimeoutDefault: time.Duration(getEnvInt("RPC_TIMEOUT_DEFAULT", 5)) * time.Second,
		RPCTimeoutTrace:   time.Duration(getEnvInt("RPC_TIMEOUT_TRACE", 10)) * time.Second,
		MaxRetries:        getEnvInt("MAX_RETRIES", 3),
		BackoffBase:       getEnvInt("BACKOFF_BASE", 2),

		LogLevel: getEnv("LOG_LEVEL", "INFO"),

		DBMinConns:         getEnvInt("DB_MIN_CONNS", 2),
		DBMaxConns:         getEnvInt("DB_MAX_CONNS", 20),
		DBCommandTimeout:   time.Duration(getEnvInt("DB_COMMAND_TIMEOUT_SEC", 30)) * time.Second,
		AdminListenAddress: getEnv("ADMIN_LISTEN_ADDRESS", ":9090"),
	}

	if cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("config: DATABASE_URL is required")
	}

	return cfg, nil
}

func loadDotEnv() {
	if err := godotenv.Load(); err == nil {
		log.Printf("config: loaded .env file")
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
