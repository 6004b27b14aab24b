// Package config loads runtime settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultRelays are tried in order after the direct request fails.
var DefaultRelays = []string{
	"https://api.allorigins.win/raw?url={url}",
	"https://corsproxy.io/?url={url}",
	"https://api.rss2json.com/v1/api.json?rss_url={url}",
}

type Config struct {
	// Registry and dictionary
	SourcesPath    string // YAML list of sources; built-in list when empty
	DictionaryPath string // YAML bilingual table; embedded table when empty

	// Retrieval
	Relays           []string
	AttemptTimeout   time.Duration
	RetryAttempts    int
	RetryDelay       time.Duration
	FetchConcurrency int // 0 = one goroutine per source
	MaxBodyBytes     int64
	UserAgent        string

	// Search
	SearchLimit    int
	SearchMaxLimit int

	// Enrichment
	EnrichEnabled     bool
	EnrichConcurrency int
	EnrichHosts       []string

	// Service
	PollSchedule string
	HTTPAddr     string
	Debug        bool

	// Relay service
	RelayAddr     string
	RelayCacheTTL time.Duration
	RelayRate     float64

	// Session state
	SessionBackend string // file | postgres | none
	SessionFile    string
	SessionTTL     time.Duration
	DatabaseURL    string
}

// Load reads a .env file when present, then the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Relays:            append([]string(nil), DefaultRelays...),
		AttemptTimeout:    10 * time.Second,
		RetryAttempts:     1,
		RetryDelay:        500 * time.Millisecond,
		MaxBodyBytes:      5 << 20,
		UserAgent:         "Mozilla/5.0 (compatible; NewsMesh/1.0)",
		SearchLimit:       20,
		SearchMaxLimit:    100,
		EnrichEnabled:     true,
		EnrichConcurrency: 4,
		PollSchedule:      "@every 10m",
		HTTPAddr:          ":8080",
		RelayAddr:         ":8081",
		RelayCacheTTL:     60 * time.Second,
		RelayRate:         5,
		SessionBackend:    "file",
		SessionFile:       "sessions.json",
		SessionTTL:        30 * 24 * time.Hour,
	}

	cfg.SourcesPath = os.Getenv("SOURCES_PATH")
	cfg.DictionaryPath = os.Getenv("DICTIONARY_PATH")
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")

	if v := os.Getenv("RELAYS"); v != "" {
		cfg.Relays = splitList(v)
	}
	cfg.AttemptTimeout = getEnvDurationOrDefault("ATTEMPT_TIMEOUT", cfg.AttemptTimeout)
	cfg.RetryAttempts = getEnvIntOrDefault("RETRY_ATTEMPTS", cfg.RetryAttempts)
	cfg.RetryDelay = getEnvDurationOrDefault("RETRY_DELAY", cfg.RetryDelay)
	cfg.FetchConcurrency = getEnvIntOrDefault("FETCH_CONCURRENCY", cfg.FetchConcurrency)
	if v := os.Getenv("MAX_BODY_BYTES"); v != "" {
		if val, err := strconv.ParseInt(v, 10, 64); err == nil && val > 0 {
			cfg.MaxBodyBytes = val
		}
	}
	cfg.UserAgent = getEnvOrDefault("USER_AGENT", cfg.UserAgent)

	cfg.SearchLimit = getEnvIntOrDefault("SEARCH_LIMIT", cfg.SearchLimit)
	cfg.SearchMaxLimit = getEnvIntOrDefault("SEARCH_MAX_LIMIT", cfg.SearchMaxLimit)

	if v := os.Getenv("ENRICH_ENABLED"); v != "" {
		cfg.EnrichEnabled = v == "true" || v == "1"
	}
	cfg.EnrichConcurrency = getEnvIntOrDefault("ENRICH_CONCURRENCY", cfg.EnrichConcurrency)
	if v := os.Getenv("ENRICH_HOSTS"); v != "" {
		cfg.EnrichHosts = splitList(v)
	}

	cfg.PollSchedule = getEnvOrDefault("POLL_SCHEDULE", cfg.PollSchedule)
	cfg.HTTPAddr = getEnvOrDefault("HTTP_ADDR", cfg.HTTPAddr)
	if debug := os.Getenv("DEBUG"); debug == "true" {
		cfg.Debug = true
	}

	cfg.RelayAddr = getEnvOrDefault("RELAY_ADDR", cfg.RelayAddr)
	cfg.RelayCacheTTL = getEnvDurationOrDefault("RELAY_CACHE_TTL", cfg.RelayCacheTTL)
	if v := os.Getenv("RELAY_RATE"); v != "" {
		if val, err := strconv.ParseFloat(v, 64); err == nil && val > 0 {
			cfg.RelayRate = val
		}
	}

	cfg.SessionBackend = strings.ToLower(getEnvOrDefault("SESSION_BACKEND", cfg.SessionBackend))
	cfg.SessionFile = getEnvOrDefault("SESSION_FILE", cfg.SessionFile)
	cfg.SessionTTL = getEnvDurationOrDefault("SESSION_TTL", cfg.SessionTTL)

	return cfg, cfg.Validate()
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) Validate() error {
	if c.AttemptTimeout < time.Second || c.AttemptTimeout > time.Minute {
		return fmt.Errorf("ATTEMPT_TIMEOUT must be between 1s and 60s, got %s", c.AttemptTimeout)
	}
	if c.RetryAttempts < 1 {
		return fmt.Errorf("RETRY_ATTEMPTS must be at least 1")
	}
	if c.FetchConcurrency < 0 {
		return fmt.Errorf("FETCH_CONCURRENCY must not be negative")
	}
	if c.SearchLimit <= 0 || c.SearchMaxLimit < c.SearchLimit {
		return fmt.Errorf("SEARCH_LIMIT must be positive and not exceed SEARCH_MAX_LIMIT")
	}
	if c.EnrichConcurrency <= 0 {
		return fmt.Errorf("ENRICH_CONCURRENCY must be positive")
	}
	for _, r := range c.Relays {
		if !strings.Contains(r, "{url}") {
			return fmt.Errorf("relay template %q has no {url} placeholder", r)
		}
	}
	switch c.SessionBackend {
	case "file", "none":
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when SESSION_BACKEND=postgres")
		}
	default:
		return fmt.Errorf("SESSION_BACKEND must be 'file', 'postgres' or 'none'")
	}
	return nil
}
