package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config carries everything the process needs from the environment.
type Config struct {
	HTTPAddr string

	OrdersTable     string
	OrderLinesTable string
	ComponentsTable string
	CountersTable   string

	MenuPath  string
	QueuePath string
	DeviceID  string

	SyncInterval time.Duration
	MaxRetries   int

	MetricsNamespace string

	LogLevel string
	LogJSON  bool
}

// Load reads the configuration from the environment, with a best-effort
// .env file for local runs. Every value has a workable default except
// DEVICE_ID, which must differ per till and so has no safe fallback.
func Load() (*Config, error) {
	godotenv.Load()

	cfg := &Config{
		HTTPAddr:         stringFromEnv("HTTP_ADDR", ":8080"),
		OrdersTable:      stringFromEnv("ORDERS_TABLE", "orders"),
		OrderLinesTable:  stringFromEnv("ORDER_LINES_TABLE", "order_lines"),
		ComponentsTable:  stringFromEnv("COMPONENTS_TABLE", "menu_components"),
		CountersTable:    stringFromEnv("COUNTERS_TABLE", "counters"),
		MenuPath:         stringFromEnv("MENU_PATH", "menu.json"),
		QueuePath:        stringFromEnv("QUEUE_PATH", "queue.db"),
		DeviceID:         strings.TrimSpace(os.Getenv("DEVICE_ID")),
		SyncInterval:     durationFromEnv("SYNC_INTERVAL_SECONDS", 10),
		MaxRetries:       intFromEnv("SYNC_MAX_RETRIES", 3),
		MetricsNamespace: stringFromEnv("METRICS_NAMESPACE", "SagraOrders"),
		LogLevel:         stringFromEnv("LOG_LEVEL", "info"),
		LogJSON:          boolFromEnv("LOG_JSON", false),
	}
	if cfg.DeviceID == "" {
		host, err := os.Hostname()
		if err != nil {
			return nil, err
		}
		cfg.DeviceID = host
	}
	return cfg, nil
}

func stringFromEnv(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func intFromEnv(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func boolFromEnv(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func durationFromEnv(key string, defSeconds int) time.Duration {
	return time.Duration(intFromEnv(key, defSeconds)) * time.Second
}
