// Package config loads environment-driven options with a typed
// lookup-with-default convention: a default value plus a debug log line
// when that default is used, rather than a flags/viper layer.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/lazuer/tabulate-analysis-core/internal/logger"
)

type Config struct {
	BrokerAddress   string
	RedisAddress    string
	HTTPPort        string
	LogMode         string
	ModelEndpoint   string
	ModelName       string
	ModelContextTok int
	DataDir         string
	InflationPath   string
	WorkerCount     int
	MaxJobAttempts  int

	LeaseDuration          time.Duration
	LeaseExtensionInterval time.Duration
	WorkerShutdownGrace    time.Duration
	PerExecTimeout         time.Duration
	PerJobExecBudget       time.Duration
	PerJobWallTimeout      time.Duration
	PerModelRequestTimeout time.Duration
	MaxRounds              int
	MaxFileBytes           int64
	InflationRefreshMaxAge time.Duration
}

func Load(log *logger.Logger) Config {
	return Config{
		BrokerAddress:   getEnv("BROKER_ADDRESS", "postgres://localhost:5432/analysis?sslmode=disable", log),
		RedisAddress:    getEnv("REDIS_ADDRESS", "localhost:6379", log),
		HTTPPort:        getEnv("HTTP_PORT", "8080", log),
		LogMode:         getEnv("LOG_MODE", "development", log),
		ModelEndpoint:   getEnv("MODEL_ENDPOINT", "http://localhost:11434", log),
		ModelName:       getEnv("MODEL_NAME", "llama3:8b", log),
		ModelContextTok: getEnvInt("MODEL_CONTEXT_TOKENS", 8192, log),
		DataDir:         getEnv("DATA_DIR", "/app/data", log),
		InflationPath:   getEnv("INFLATION_CACHE_PATH", "/app/cache/inflation_data.json", log),
		WorkerCount:     getEnvInt("WORKER_COUNT", 1, log),
		MaxJobAttempts:  getEnvInt("MAX_JOB_ATTEMPTS", 1, log),

		LeaseDuration:          getEnvSeconds("LEASE_DURATION_SECONDS", 600, log),
		LeaseExtensionInterval: getEnvSeconds("LEASE_EXTENSION_INTERVAL_SECONDS", 300, log),
		WorkerShutdownGrace:    getEnvSeconds("WORKER_SHUTDOWN_GRACE_SECONDS", 60, log),
		PerExecTimeout:         getEnvSeconds("PER_EXEC_TIMEOUT_SECONDS", 120, log),
		PerJobExecBudget:       getEnvSeconds("PER_JOB_EXEC_BUDGET_SECONDS", 600, log),
		PerJobWallTimeout:      getEnvSeconds("PER_JOB_WALL_TIMEOUT_SECONDS", 1800, log),
		PerModelRequestTimeout: getEnvSeconds("PER_MODEL_REQUEST_TIMEOUT_SECONDS", 600, log),
		MaxRounds:              getEnvInt("MAX_ROUNDS", 10, log),
		MaxFileBytes:           int64(getEnvInt("MAX_FILE_BYTES", 100*1024*1024, log)),
		InflationRefreshMaxAge: getEnvDays("INFLATION_REFRESH_MAX_AGE_DAYS", 30, log),
	}
}

func getEnv(key, defaultVal string, log *logger.Logger) string {
	val, ok := os.LookupEnv(key)
	if !ok {
		if log != nil {
			log.Debug("environment variable not set, using default", "env_var", key, "default", defaultVal)
		}
		return defaultVal
	}
	return val
}

func getEnvInt(key string, defaultVal int, log *logger.Logger) int {
	val, ok := os.LookupEnv(key)
	if !ok {
		if log != nil {
			log.Debug("environment variable not set, using default", "env_var", key, "default", defaultVal)
		}
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		if log != nil {
			log.Warn("invalid integer env var, using default", "env_var", key, "value", val, "default", defaultVal)
		}
		return defaultVal
	}
	return n
}

func getEnvSeconds(key string, defaultSeconds int, log *logger.Logger) time.Duration {
	return time.Duration(getEnvInt(key, defaultSeconds, log)) * time.Second
}

func getEnvDays(key string, defaultDays int, log *logger.Logger) time.Duration {
	return time.Duration(getEnvInt(key, defaultDays, log)) * 24 * time.Hour
}
