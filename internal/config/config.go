// Package config loads runtime settings from environment variables.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config is the full runtime configuration.
type Config struct {
	// Bus
	HistorySize int

	// Telegram sink
	TelegramToken  string
	TelegramChatID string

	// Webhook sink
	WebhookURL    string
	WebhookFormat string

	// File sink
	LogDir      string
	LogMaxBytes int64
	LogBackups  int

	// Declarative sink file (optional)
	NotifierFile string

	// Container monitor
	Container     string
	DockerSocket  string
	LoopThreshold int
	LoopWindow    time.Duration

	// Endpoint health checker
	HealthURL       string
	HealthInterval  time.Duration
	HealthTimeout   time.Duration
	HealthThreshold int

	// Host resource monitor
	HostInterval   time.Duration
	CPUThreshold   float64
	RAMThreshold   float64
	DiskThreshold  float64
	HostHysteresis float64
	DiskPath       string

	// Status server
	StatusAddr string
	AdminPass  string

	// Persistence
	DBPath string
}

// Load reads the configuration from the environment.
func Load() Config {
	return Config{
		HistorySize: getEnvInt("WH_HISTORY_SIZE", 100),

		TelegramToken:  getEnv("WH_TELEGRAM_TOKEN", ""),
		TelegramChatID: getEnv("WH_TELEGRAM_CHAT_ID", ""),

		WebhookURL:    getEnv("WH_WEBHOOK_URL", ""),
		WebhookFormat: getEnv("WH_WEBHOOK_FORMAT", "raw"),

		LogDir:      getEnv("WH_LOG_DIR", "logs"),
		LogMaxBytes: int64(getEnvInt("WH_LOG_MAX_BYTES", 5*1024*1024)),
		LogBackups:  getEnvInt("WH_LOG_BACKUPS", 3),

		NotifierFile: getEnv("WH_NOTIFIER_FILE", ""),

		Container:     getEnv("WH_CONTAINER", ""),
		DockerSocket:  getEnv("WH_DOCKER_SOCKET", "/var/run/docker.sock"),
		LoopThreshold: getEnvInt("WH_LOOP_THRESHOLD", 3),
		LoopWindow:    getEnvDuration("WH_LOOP_WINDOW", 5*time.Minute),

		HealthURL:       getEnv("WH_HEALTH_URL", ""),
		HealthInterval:  getEnvDuration("WH_HEALTH_INTERVAL", 30*time.Second),
		HealthTimeout:   getEnvDuration("WH_HEALTH_TIMEOUT", 10*time.Second),
		HealthThreshold: getEnvInt("WH_HEALTH_THRESHOLD", 3),

		HostInterval:   getEnvDuration("WH_HOST_INTERVAL", 60*time.Second),
		CPUThreshold:   getEnvFloat("WH_CPU_THRESHOLD", 90),
		RAMThreshold:   getEnvFloat("WH_RAM_THRESHOLD", 85),
		DiskThreshold:  getEnvFloat("WH_DISK_THRESHOLD", 90),
		HostHysteresis: getEnvFloat("WH_HOST_HYSTERESIS", 0.9),
		DiskPath:       getEnv("WH_DISK_PATH", "/"),

		StatusAddr: getEnv("WH_STATUS_ADDR", ":8090"),
		AdminPass:  getEnv("WH_ADMIN_PASS", ""),

		DBPath: getEnv("WH_DB_PATH", "watchhound.db"),
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if v, err := strconv.Atoi(value); err == nil {
			return v
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			return v
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if v, err := time.ParseDuration(value); err == nil {
			return v
		}
	}
	return fallback
}
