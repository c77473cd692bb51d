package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the chat server configuration, read from the environment. A
// .env file in the working directory is loaded first when present.
type Config struct {
	HTTPPort          string
	ObsHTTPAddr       string
	PublicURL         string
	DatabaseURL       string
	RedisAddr         string
	CacheTTL          time.Duration
	KafkaBrokers      []string
	KafkaTopic        string
	InstanceID        string
	ServiceName       string
	UploadDir         string
	CORSOrigins       []string
	RateLimitRequests int
	RateLimitWindow   string
	SocketSendRate    float64
	SocketSendBurst   int
	TracingEnabled    bool
	JaegerURL         string
}

func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		HTTPPort:          fixPort(getEnv("HTTP_PORT", ":8080")),
		ObsHTTPAddr:       fixPort(getEnv("HTTP_ADDR", ":8090")),
		PublicURL:         strings.TrimRight(getEnv("PUBLIC_URL", "http://localhost:8080"), "/"),
		DatabaseURL:       getEnv("DATABASE_URL", ""),
		RedisAddr:         getEnv("REDIS_ADDR", ""),
		CacheTTL:          getEnvDuration("CACHE_TTL", 10*time.Minute),
		KafkaBrokers:      splitList(getEnv("KAFKA_BROKERS", "")),
		KafkaTopic:        getEnv("KAFKA_TOPIC", "chat-message-events"),
		InstanceID:        getEnv("INSTANCE_ID", getEnv("HOSTNAME", "")),
		ServiceName:       getEnv("SERVICE_NAME", "taskchat-server"),
		UploadDir:         getEnv("UPLOAD_DIR", "./uploads"),
		CORSOrigins:       splitList(getEnv("CORS_ORIGINS", "*")),
		RateLimitRequests: getEnvInt("RATE_LIMIT_REQUESTS", 120),
		RateLimitWindow:   getEnv("RATE_LIMIT_WINDOW", "1m"),
		SocketSendRate:    getEnvFloat("SOCKET_SEND_RATE", 5),
		SocketSendBurst:   getEnvInt("SOCKET_SEND_BURST", 20),
		TracingEnabled:    getEnvBool("TRACING_ENABLED", false),
		JaegerURL:         getEnv("JAEGER_URL", "http://localhost:14268/api/traces"),
	}
}

func fixPort(port string) string {
	if port != "" && !strings.Contains(port, ":") {
		return ":" + port
	}
	return port
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v == "true"
}

func getEnvInt(key string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

func getEnvFloat(key string, fallback float64) float64 {
	v, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return fallback
	}
	return v
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
