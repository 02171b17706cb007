package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server (host simulator)
	Port string
	Env  string

	// Identity
	JWTSecret     string
	IdentityToken string

	// Widget
	HostWSURL string

	// Channel hardening
	AllowedOrigins []string

	// Status flag auto-clear delays, in seconds
	SaveSuccessClearSeconds int
	SaveErrorClearSeconds   int
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	cfg := &Config{
		Port:                    getEnvOrDefault("PORT", "8080"),
		Env:                     getEnvOrDefault("ENV", "development"),
		JWTSecret:               mustGetEnv("JWT_SECRET"),
		IdentityToken:           getEnvOrDefault("IDENTITY_TOKEN", ""),
		HostWSURL:               getEnvOrDefault("HOST_WS_URL", "ws://localhost:8080/ws"),
		AllowedOrigins:          splitList(getEnvOrDefault("ALLOWED_ORIGINS", "")),
		SaveSuccessClearSeconds: getEnvAsIntOrDefault("SAVE_SUCCESS_CLEAR_SECONDS", 3),
		SaveErrorClearSeconds:   getEnvAsIntOrDefault("SAVE_ERROR_CLEAR_SECONDS", 5),
	}

	return cfg
}

func mustGetEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		panic(fmt.Sprintf("required environment variable %s is not set", key))
	}
	return val
}

func getEnvOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsIntOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

func splitList(val string) []string {
	if val == "" {
		return nil
	}
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
