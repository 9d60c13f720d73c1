package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Console (browser-facing) server
	Host           string
	Port           string
	AllowedOrigins []string
	ConsoleRateRPS float64
	MaxUploadSize  int64
	LogLevel       string
	MaxWorkspaces  int
	IdleTimeout    time.Duration

	// Remote analysis service
	ServiceBaseURL  string
	APIPrefix       string
	RequestTimeout  time.Duration
	GalleryPageSize int

	// Optional Azure Blob credentials for result images hosted on blob storage
	AzureAccountName string
	AzureAccountKey  string

	// Local stub of the analysis service
	StubHost string
	StubPort string
	StubDSN  string
}

func (c *Config) ServerAddress() string {
	return net.JoinHostPort(strings.TrimSpace(c.Host), strings.TrimSpace(c.Port))
}

func (c *Config) StubAddress() string {
	return net.JoinHostPort(strings.TrimSpace(c.StubHost), strings.TrimSpace(c.StubPort))
}

// ServiceAPIURL is the base every remote call is built on, e.g. http://localhost:8000/api/v1
func (c *Config) ServiceAPIURL() string {
	return strings.TrimRight(c.ServiceBaseURL, "/") + "/" + strings.Trim(c.APIPrefix, "/")
}

// AzureEnabled reports whether blob-hosted images can be fetched
func (c *Config) AzureEnabled() bool {
	return c.AzureAccountName != "" && c.AzureAccountKey != ""
}

// LoadFromEnv reads an optional .env file, then the process environment
func LoadFromEnv() (*Config, error) {
	// A missing .env is normal outside development
	_ = godotenv.Load()

	cfg := &Config{
		Host:             getEnvOrDefault("HOST", "0.0.0.0"),
		Port:             getEnvOrDefault("PORT", "3000"),
		AllowedOrigins:   splitList(getEnvOrDefault("ALLOWED_ORIGINS", "http://localhost:3000,http://127.0.0.1:3000")),
		ConsoleRateRPS:   parseFloatOrDefault("CONSOLE_RATE_LIMIT", 20),
		MaxUploadSize:    parseIntOrDefault("MAX_UPLOAD_SIZE", 10*1024*1024), // 10MiB
		LogLevel:         getEnvOrDefault("LOG_LEVEL", "info"),
		MaxWorkspaces:    int(parseIntOrDefault("MAX_WORKSPACES", 64)),
		IdleTimeout:      parseDurationOrDefault("WORKSPACE_IDLE_TIMEOUT", 30*time.Minute),
		ServiceBaseURL:   getEnvOrDefault("SERVICE_BASE_URL", "http://localhost:8000"),
		APIPrefix:        getEnvOrDefault("API_PREFIX", "/api/v1"),
		RequestTimeout:   parseDurationOrDefault("REQUEST_TIMEOUT", 60*time.Second),
		GalleryPageSize:  int(parseIntOrDefault("GALLERY_PAGE_SIZE", 50)),
		AzureAccountName: os.Getenv("AZURE_STORAGE_ACCOUNT"),
		AzureAccountKey:  os.Getenv("AZURE_STORAGE_KEY"),
		StubHost:         getEnvOrDefault("STUB_HOST", "0.0.0.0"),
		StubPort:         getEnvOrDefault("STUB_PORT", "8000"),
		StubDSN:          getEnvOrDefault("STUB_DSN", "file::memory:?cache=shared"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges the rest of the program relies on
func (c *Config) Validate() error {
	for name, port := range map[string]string{"PORT": c.Port, "STUB_PORT": c.StubPort} {
		p, err := strconv.Atoi(strings.TrimSpace(port))
		if err != nil || p < 1 || p > 65535 {
			return fmt.Errorf("invalid %s: %q", name, port)
		}
	}
	u, err := url.Parse(c.ServiceBaseURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("invalid SERVICE_BASE_URL: %q", c.ServiceBaseURL)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be > 0 (got %s)", c.RequestTimeout)
	}
	if c.GalleryPageSize < 1 || c.GalleryPageSize > 100 {
		return fmt.Errorf("GALLERY_PAGE_SIZE must be within 1..100 (got %d)", c.GalleryPageSize)
	}
	if c.MaxUploadSize <= 0 {
		return fmt.Errorf("MAX_UPLOAD_SIZE must be > 0 (got %d)", c.MaxUploadSize)
	}
	if c.MaxWorkspaces < 1 {
		return fmt.Errorf("MAX_WORKSPACES must be > 0 (got %d)", c.MaxWorkspaces)
	}
	if c.ConsoleRateRPS <= 0 {
		return fmt.Errorf("CONSOLE_RATE_LIMIT must be > 0 (got %v)", c.ConsoleRateRPS)
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(strings.TrimSpace(value)); err == nil && duration > 0 {
			return duration
		}
	}
	return defaultValue
}

func parseIntOrDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func parseFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return f
		}
	}
	return defaultValue
}
