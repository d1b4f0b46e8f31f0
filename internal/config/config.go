package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// maxCredentialSlots bounds the numbered OPENAI_API_KEY_n scan.
const maxCredentialSlots = 16

const defaultSystemPrompt = "You are a helpful assistant for a small personal website. " +
	"Keep replies short, friendly, and in plain text."

type Config struct {
	Addr     string
	LogLevel string

	OpenAIBaseURL     string
	ChatModel         string
	Credentials       []string
	CredentialsSecret string

	SystemPrompt string
	HistoryLimit int

	IPLimit     int
	QuotaWindow time.Duration

	UpstreamTimeout time.Duration

	RedisURL    string
	DatabaseURL string

	UsageQueueURL string
	AlertTopicARN string
	AWSRegion     string

	OTLPEndpoint string
	AdminToken   string

	// Graceful shutdown
	ShutdownTimeout time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		Addr:              getEnv("ADDR", ":8080"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		OpenAIBaseURL:     getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		ChatModel:         getEnv("CHAT_MODEL", "gpt-4o-mini"),
		Credentials:       credentialsFromEnv(),
		CredentialsSecret: getEnv("CREDENTIALS_SECRET", ""),
		SystemPrompt:      getEnv("SYSTEM_PROMPT", defaultSystemPrompt),
		HistoryLimit:      getIntEnv("HISTORY_LIMIT", 8),
		IPLimit:           getIntEnv("IP_LIMIT", 20),
		QuotaWindow:       getDurationEnv("QUOTA_WINDOW", 48*time.Hour),
		UpstreamTimeout:   getDurationEnv("UPSTREAM_TIMEOUT", 60*time.Second),
		RedisURL:          getEnv("REDIS_URL", ""),
		DatabaseURL:       getEnv("DATABASE_URL", ""),
		UsageQueueURL:     getEnv("USAGE_QUEUE_URL", ""),
		AlertTopicARN:     getEnv("ALERT_TOPIC_ARN", ""),
		AWSRegion:         getEnv("AWS_REGION", "us-east-1"),
		OTLPEndpoint:      getEnv("OTLP_ENDPOINT", ""),
		AdminToken:        getEnv("ADMIN_TOKEN", ""),
		ShutdownTimeout:   getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),
	}

	return cfg, nil
}

// credentialsFromEnv collects upstream API keys from the numbered slots
// first, then the comma-separated list. Empty entries are dropped here;
// deduplication happens when the pool is built.
func credentialsFromEnv() []string {
	var keys []string
	for i := 1; i <= maxCredentialSlots; i++ {
		if v := strings.TrimSpace(os.Getenv(fmt.Sprintf("OPENAI_API_KEY_%d", i))); v != "" {
			keys = append(keys, v)
		}
	}
	for _, part := range strings.Split(getEnv("OPENAI_API_KEYS", ""), ",") {
		if part = strings.TrimSpace(part); part != "" {
			keys = append(keys, part)
		}
	}
	return keys
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}
