package config

import (
	"log/slog"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	MinPrefetch = 1
	MaxPrefetch = 10
)

type Config struct {
	RabbitMQURL  string
	ServiceName  string
	HTTPPort     string
	LogLevel     string
	LogFormat    string
	LogFile      string
	Prefetch     int
	PipelineSize int

	StartupRetries  int
	RetryDelay      time.Duration
	PublishAttempts int
	PublishDelay    time.Duration
	MaxRedeliveries int
	RequeueDelay    time.Duration

	ShopLatency time.Duration
	DeliveryFee float64
}

// Load reads the .env file when present and falls back to process environment and defaults
func Load() *Config {
	_ = godotenv.Load()

	prefetch := getEnvInt("RABBITMQ_PREFETCH", 1)
	if prefetch > MaxPrefetch {
		slog.Warn("RABBITMQ_PREFETCH exceeds ordering limit. Clamping to maximum", "requested", prefetch, "limit", MaxPrefetch)
		prefetch = MaxPrefetch
	} else if prefetch < MinPrefetch {
		prefetch = MinPrefetch
	}

	return &Config{
		RabbitMQURL:     rabbitMQURL(),
		ServiceName:     getEnv("SERVICE_NAME", "unknown"),
		HTTPPort:        getEnv("HTTP_PORT", "8000"),
		LogLevel:        getEnv("LOG_LEVEL", "INFO"),
		LogFormat:       getEnv("LOG_FORMAT", "TEXT"),
		LogFile:         getEnv("LOG_FILE", ""),
		Prefetch:        prefetch,
		PipelineSize:    max(getEnvInt("PIPELINE_BUFFER", 16), 1),
		StartupRetries:  max(getEnvInt("RABBITMQ_STARTUP_RETRIES", 5), 1),
		RetryDelay:      time.Duration(getEnvInt("RABBITMQ_RETRY_DELAY_SEC", 5)) * time.Second,
		PublishAttempts: max(getEnvInt("PUBLISH_MAX_ATTEMPTS", 3), 1),
		PublishDelay:    time.Duration(getEnvInt("PUBLISH_RETRY_DELAY_MS", 1000)) * time.Millisecond,
		MaxRedeliveries: max(getEnvInt("CONSUMER_MAX_REDELIVERIES", 5), 1),
		RequeueDelay:    time.Duration(getEnvInt("CONSUMER_REQUEUE_DELAY_MS", 1000)) * time.Millisecond,
		ShopLatency:     time.Duration(getEnvInt("SHOP_LATENCY_MS", 500)) * time.Millisecond,
		DeliveryFee:     getEnvFloat("DELIVERY_FEE", 1.50),
	}
}

// rabbitMQURL prefers RABBITMQ_URL and otherwise assembles the URL from its parts,
// escaping the credentials
func rabbitMQURL() string {
	if raw, ok := os.LookupEnv("RABBITMQ_URL"); ok && raw != "" {
		return raw
	}

	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(getEnv("RABBITMQ_USER", "guest"), getEnv("RABBITMQ_PASS", "guest")),
		Host:   net.JoinHostPort(getEnv("RABBITMQ_HOST", "localhost"), getEnv("RABBITMQ_PORT", "5672")),
		Path:   "/",
	}
	return u.String()
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

func getEnvFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}
