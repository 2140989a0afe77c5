package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	MinSyncIntervalMin = 1
	MaxSyncIntervalMin = 120
)

type Config struct {
	APIBaseURL    string
	AdminAddr     string
	StorePath     string
	DeviceID      string
	LogLevel      string
	LogFormat     string
	LogFile       string
	SyncInterval  time.Duration
	RetryPoll     time.Duration
	HTTPTimeout   time.Duration
	HealthTimeout time.Duration
	AlertsWS      bool
}

func Load() *Config {
	_ = godotenv.Load()

	intervalMin := getEnvInt("SYNC_INTERVAL_MIN", 15)
	if intervalMin > MaxSyncIntervalMin {
		slog.Warn("SYNC_INTERVAL_MIN exceeds safety limit. Clamping to maximum", "requested", intervalMin, "limit", MaxSyncIntervalMin)
		intervalMin = MaxSyncIntervalMin
	} else if intervalMin < MinSyncIntervalMin {
		intervalMin = MinSyncIntervalMin
	}

	return &Config{
		APIBaseURL:    getEnv("API_BASE_URL", "http://localhost:8000"),
		AdminAddr:     getEnv("ADMIN_ADDR", "127.0.0.1:8787"),
		StorePath:     getEnv("STORE_PATH", "agent.db"),
		DeviceID:      getEnv("DEVICE_ID", hostnameFallback()),
		LogLevel:      getEnv("LOG_LEVEL", "INFO"),
		LogFormat:     getEnv("LOG_FORMAT", "TEXT"),
		LogFile:       getEnv("LOG_FILE", "agent.log"),
		SyncInterval:  time.Duration(intervalMin) * time.Minute,
		RetryPoll:     time.Duration(getEnvInt("RETRY_POLL_SEC", 15)) * time.Second,
		HTTPTimeout:   time.Duration(getEnvInt("HTTP_TIMEOUT_SEC", 15)) * time.Second,
		HealthTimeout: time.Duration(getEnvInt("HEALTH_TIMEOUT_SEC", 5)) * time.Second,
		AlertsWS:      getEnvBool("ALERTS_WS", true),
	}
}

func hostnameFallback() string {
	if h, err := os.Hostname(); err == nil {
		return h
	}
	return "unknown-device"
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}
