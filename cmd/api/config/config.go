package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/joho/godotenv"
)

type Config struct {
	Port                string
	DataDir             string
	JwtSecret           string
	MaxConcurrentBuilds int
	BuildTimeout        time.Duration
	ContainerEngine     string
	RegistryInsecure    bool
	MaxRequestSize      datasize.ByteSize
	Version             string

	OtelEnabled     bool
	OtelEndpoint    string
	OtelInsecure    bool
	OtelServiceName string
}

// Load loads configuration from environment variables
// Automatically loads .env file if present
func Load() (*Config, error) {
	// Try to load .env file (fail silently if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		DataDir:         getEnv("DATA_DIR", "/var/lib/layerbuild"),
		JwtSecret:       getEnv("JWT_SECRET", ""),
		ContainerEngine: getEnv("CONTAINER_ENGINE", "docker"),
		Version:         getEnv("VERSION", "dev"),
		OtelEndpoint:    getEnv("OTEL_ENDPOINT", "127.0.0.1:4317"),
		OtelServiceName: getEnv("OTEL_SERVICE_NAME", "layerbuild"),
	}

	var err error
	if cfg.MaxConcurrentBuilds, err = strconv.Atoi(getEnv("MAX_CONCURRENT_BUILDS", "2")); err != nil || cfg.MaxConcurrentBuilds < 1 {
		return nil, fmt.Errorf("MAX_CONCURRENT_BUILDS must be a positive integer")
	}
	if cfg.BuildTimeout, err = time.ParseDuration(getEnv("BUILD_TIMEOUT", "10m")); err != nil {
		return nil, fmt.Errorf("BUILD_TIMEOUT: %w", err)
	}
	if err := cfg.MaxRequestSize.UnmarshalText([]byte(getEnv("MAX_REQUEST_SIZE", "1MB"))); err != nil {
		return nil, fmt.Errorf("MAX_REQUEST_SIZE: %w", err)
	}
	for key, dst := range map[string]*bool{
		"REGISTRY_INSECURE": &cfg.RegistryInsecure,
		"OTEL_ENABLED":      &cfg.OtelEnabled,
		"OTEL_INSECURE":     &cfg.OtelInsecure,
	} {
		if *dst, err = strconv.ParseBool(getEnv(key, "false")); err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
