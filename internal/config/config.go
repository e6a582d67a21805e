package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port      int
	DBPath    string
	APIKey    string
	SecretKey string
	LogLevel  string
	LogFile   string
	// Sync
	SyncInterval     time.Duration
	CallTimeout      time.Duration
	BackoffBase      time.Duration
	BackoffMax       time.Duration
	AzureDevOpsURL   string
	GitHubAPIURL     string
	IntegrationsFile string
}

func Load() (*Config, error) {
	cfg := &Config{
		Port:             envInt("HIVE_PORT", 8750),
		DBPath:           envStr("HIVE_DB_PATH", "/data/hive-sync.db"),
		APIKey:           envStr("HIVE_API_KEY", ""),
		SecretKey:        envStr("HIVE_SECRET_KEY", ""),
		LogLevel:         envStr("LOG_LEVEL", "info"),
		LogFile:          envStr("LOG_FILE", ""),
		SyncInterval:     envDuration("SYNC_INTERVAL", 15*time.Minute),
		CallTimeout:      envDuration("SYNC_CALL_TIMEOUT", 20*time.Second),
		BackoffBase:      envDuration("SYNC_BACKOFF_BASE", time.Minute),
		BackoffMax:       envDuration("SYNC_BACKOFF_MAX", 6*time.Hour),
		AzureDevOpsURL:   envStr("AZURE_DEVOPS_URL", "https://dev.azure.com"),
		GitHubAPIURL:     envStr("GITHUB_API_URL", "https://api.github.com"),
		IntegrationsFile: envStr("INTEGRATIONS_FILE", ""),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("HIVE_PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.DBPath == "" {
		return fmt.Errorf("HIVE_DB_PATH must not be empty")
	}
	if c.SecretKey == "" {
		return fmt.Errorf("HIVE_SECRET_KEY must be set (base64, 32 bytes)")
	}
	if c.SyncInterval < 0 {
		return fmt.Errorf("SYNC_INTERVAL must not be negative, got %s", c.SyncInterval)
	}
	if c.CallTimeout <= 0 {
		return fmt.Errorf("SYNC_CALL_TIMEOUT must be positive, got %s", c.CallTimeout)
	}
	if c.BackoffBase < 0 || c.BackoffMax < 0 {
		return fmt.Errorf("SYNC_BACKOFF_BASE and SYNC_BACKOFF_MAX must not be negative")
	}
	if c.BackoffMax > 0 && c.BackoffBase > c.BackoffMax {
		return fmt.Errorf("SYNC_BACKOFF_BASE (%s) must not exceed SYNC_BACKOFF_MAX (%s)", c.BackoffBase, c.BackoffMax)
	}
	if c.AzureDevOpsURL == "" || c.GitHubAPIURL == "" {
		return fmt.Errorf("AZURE_DEVOPS_URL and GITHUB_API_URL must not be empty")
	}
	return nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

// envDuration accepts Go durations ("90s", "15m") or plain seconds.
func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
