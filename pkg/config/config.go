package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all process configuration. It is loaded once at startup and
// passed by value into the components that need it; nothing in the session
// core reads the environment directly.
type Config struct {
	Port    string
	GinMode string

	// Logging
	LogLevel  string
	LogFormat string

	// Session tokens (HMAC shared secret between cloud and SDK)
	SessionJWTSecret string

	// NATS (optional; empty disables cross-instance session release)
	NatsURL string

	// App catalog seed file (JSON list of registered apps)
	AppCatalogPath string

	// Public base URL apps use to connect back after a start webhook
	PublicURL string

	// Server
	ServerShutdownTimeoutSeconds int
}

// Load reads configuration from .env (if present) and the environment.
func Load() *Config {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	return &Config{
		Port:    getEnvOrDefault("PORT", "8080"),
		GinMode: getEnvOrDefault("GIN_MODE", "debug"),

		LogLevel:  getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", ""),

		SessionJWTSecret: getEnvOrDefault("SESSION_JWT_SECRET", ""),

		NatsURL: getEnvOrDefault("NATS_URL", ""),

		AppCatalogPath: getEnvOrDefault("APP_CATALOG_PATH", ""),

		PublicURL: getEnvOrDefault("PUBLIC_URL", "ws://localhost:8080"),

		ServerShutdownTimeoutSeconds: getEnvIntOrDefault("SERVER_SHUTDOWN_TIMEOUT_SECONDS", 15),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
