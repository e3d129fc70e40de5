// Package config loads process configuration from flags, environment and a .env file.
package config

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/discsync/discsync-server/internal/fingerprint"
)

// Store backends.
const (
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
)

// Config holds all application configuration.
type Config struct {
	App     AppConfig
	Logger  LoggerConfig
	Store   StoreConfig
	Ingest  IngestConfig
	Server  ServerConfig
	API     APIConfig
	Metrics MetricsConfig
}

// AppConfig contains general application settings.
type AppConfig struct {
	Environment string // development, staging, production
}

// LoggerConfig contains logging configuration.
type LoggerConfig struct {
	Level string // debug, info, warn, error
}

// StoreConfig selects and locates the state store.
type StoreConfig struct {
	DataPath      string
	Backend       string
	HashAlgorithm fingerprint.Algorithm
}

// IngestConfig controls the ingestion driver and inbox watcher.
type IngestConfig struct {
	Workers         int
	InboxPath       string        // empty disables the watcher
	StaleRunTimeout time.Duration // zero disables the periodic reaper
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	// MaxConnections caps concurrently accepted connections; zero means unlimited.
	MaxConnections int
}

// APIConfig contains outbox API settings.
type APIConfig struct {
	CORSOrigins []string
	RateLimit   float64 // requests per second per client; zero disables limiting
	RateBurst   int
	// RateLimitIdleTTL is how long an idle client keeps its limiter; zero keeps them forever.
	RateLimitIdleTTL time.Duration
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool
}

// LoadConfig loads configuration from os.Args using the default flag set.
func LoadConfig() (*Config, error) {
	return Load(flag.CommandLine, os.Args[1:])
}

// Load registers the configuration flags on fs, parses args and resolves every value.
// Callers may register their own flags on fs before calling Load.
// Precedence (highest to lowest):
// 1. Command-line flags.
// 2. Environment variables.
// 3. .env file.
// 4. Default values.
func Load(fs *flag.FlagSet, args []string) (*Config, error) {
	env := fs.String("env", "", "Environment (development, staging, production)")
	logLevel := fs.String("log-level", "", "Log level (debug, info, warn, error)")

	dataPath := fs.String("data-path", "", "Directory holding the state store")
	backend := fs.String("store-backend", "", "State store backend (sqlite, badger)")
	hashAlgorithm := fs.String("hash-algorithm", "", "Record fingerprint digest (sha256, blake3, blake2b)")

	workers := fs.String("workers", "", "Concurrent record workers per run (default: 4)")
	inboxPath := fs.String("inbox-path", "", "Drop directory watched for NDJSON files")
	staleRunTimeout := fs.String("stale-run-timeout", "", "Fail runs left processing longer than this (0 disables)")

	serverPort := fs.String("port", "", "Server port (default: 8080)")
	readTimeout := fs.String("read-timeout", "", "HTTP read timeout (default: 15s)")
	writeTimeout := fs.String("write-timeout", "", "HTTP write timeout (default: 15s)")
	idleTimeout := fs.String("idle-timeout", "", "HTTP idle timeout (default: 60s)")
	maxConnections := fs.String("max-connections", "", "Maximum concurrent HTTP connections (0 means unlimited)")

	corsOrigins := fs.String("cors-origins", "", "Comma-separated allowed CORS origins")
	rateLimit := fs.String("rate-limit", "", "API requests per second per client (default: 20)")
	rateBurst := fs.String("rate-burst", "", "API burst size per client (default: 40)")
	rateIdleTTL := fs.String("rate-limit-idle-ttl", "", "Forget idle API clients after this long (default: 10m)")
	metricsEnabled := fs.String("metrics-enabled", "", "Expose /metrics (default: true)")

	envFile := fs.String("env-file", ".env", "Path to .env file")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	// Load .env file if it exists (silently ignore if not found).
	_ = loadEnvFile(*envFile)

	cfg := &Config{
		App: AppConfig{
			Environment: getConfigValue(*env, "ENV", "development"),
		},
		Logger: LoggerConfig{
			Level: getConfigValue(*logLevel, "LOG_LEVEL", "info"),
		},
		Store: StoreConfig{
			DataPath: getConfigValue(*dataPath, "DATA_PATH", ""),
			Backend:  strings.ToLower(getConfigValue(*backend, "STORE_BACKEND", BackendSQLite)),
		},
		Ingest: IngestConfig{
			Workers:   getIntConfigValue(*workers, "INGEST_WORKERS", 4),
			InboxPath: getConfigValue(*inboxPath, "INBOX_PATH", ""),
		},
		Server: ServerConfig{
			Port:           getConfigValue(*serverPort, "SERVER_PORT", "8080"),
			MaxConnections: getIntConfigValue(*maxConnections, "SERVER_MAX_CONNECTIONS", 0),
		},
		API: APIConfig{
			CORSOrigins: splitList(getConfigValue(*corsOrigins, "CORS_ORIGINS", "")),
			RateBurst:   getIntConfigValue(*rateBurst, "API_RATE_BURST", 40),
		},
		Metrics: MetricsConfig{
			Enabled: getBoolConfigValue(*metricsEnabled, "METRICS_ENABLED", true),
		},
	}

	alg, err := fingerprint.ParseAlgorithm(getConfigValue(*hashAlgorithm, "HASH_ALGORITHM", string(fingerprint.SHA256)))
	if err != nil {
		return nil, fmt.Errorf("invalid hash algorithm: %w", err)
	}
	cfg.Store.HashAlgorithm = alg

	rateStr := getConfigValue(*rateLimit, "API_RATE_LIMIT", "20")
	rate, err := strconv.ParseFloat(rateStr, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid rate limit %q: %w", rateStr, err)
	}
	cfg.API.RateLimit = rate

	durations := []struct {
		name   string
		value  string
		target *time.Duration
	}{
		{"stale run timeout", getConfigValue(*staleRunTimeout, "STALE_RUN_TIMEOUT", "0"), &cfg.Ingest.StaleRunTimeout},
		{"read timeout", getConfigValue(*readTimeout, "SERVER_READ_TIMEOUT", "15s"), &cfg.Server.ReadTimeout},
		{"write timeout", getConfigValue(*writeTimeout, "SERVER_WRITE_TIMEOUT", "15s"), &cfg.Server.WriteTimeout},
		{"idle timeout", getConfigValue(*idleTimeout, "SERVER_IDLE_TIMEOUT", "60s"), &cfg.Server.IdleTimeout},
		{"rate limit idle ttl", getConfigValue(*rateIdleTTL, "API_RATE_LIMIT_IDLE_TTL", "10m"), &cfg.API.RateLimitIdleTTL},
	}
	for _, d := range durations {
		parsed, err := time.ParseDuration(d.value)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", d.name, d.value, err)
		}
		*d.target = parsed
	}

	if err := cfg.expandDataPath(); err != nil {
		return nil, fmt.Errorf("invalid data path: %w", err)
	}

	if cfg.Ingest.InboxPath != "" {
		expanded, err := expandPath(cfg.Ingest.InboxPath, "")
		if err != nil {
			return nil, fmt.Errorf("invalid inbox path: %w", err)
		}
		cfg.Ingest.InboxPath = expanded
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required config values are present and valid.
func (c *Config) Validate() error {
	if c.App.Environment == "" {
		return errors.New("ENV is required")
	}

	validEnvs := map[string]bool{
		"development": true,
		"staging":     true,
		"production":  true,
	}
	if !validEnvs[c.App.Environment] {
		return fmt.Errorf("invalid environment: %s (must be development, staging, or production)", c.App.Environment)
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[strings.ToLower(c.Logger.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logger.Level)
	}

	if c.Store.DataPath == "" {
		return errors.New("data path cannot be empty after expansion")
	}

	switch c.Store.Backend {
	case BackendSQLite, BackendBadger:
	default:
		return fmt.Errorf("invalid store backend: %s (must be sqlite or badger)", c.Store.Backend)
	}

	if c.Store.HashAlgorithm == "" {
		c.Store.HashAlgorithm = fingerprint.SHA256
	}
	if _, err := fingerprint.ParseAlgorithm(string(c.Store.HashAlgorithm)); err != nil {
		return err
	}

	if c.Ingest.Workers < 1 {
		return fmt.Errorf("invalid ingest workers: %d (must be at least 1)", c.Ingest.Workers)
	}

	if c.Ingest.StaleRunTimeout < 0 {
		return errors.New("stale run timeout cannot be negative")
	}

	if c.Server.MaxConnections < 0 {
		return errors.New("max connections cannot be negative")
	}

	if c.API.RateLimit < 0 {
		return errors.New("rate limit cannot be negative")
	}
	if c.API.RateLimitIdleTTL < 0 {
		return errors.New("rate limit idle ttl cannot be negative")
	}
	if c.API.RateLimit > 0 && c.API.RateBurst < 1 {
		return fmt.Errorf("invalid rate burst: %d (must be at least 1 when limiting)", c.API.RateBurst)
	}

	return nil
}

// StorePath returns the on-disk location of the selected backend.
func (c *Config) StorePath() string {
	if c.Store.Backend == BackendBadger {
		return filepath.Join(c.Store.DataPath, "badger")
	}
	return filepath.Join(c.Store.DataPath, "discsync.db")
}

// IsProduction reports whether the app runs in production.
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// expandPath expands ~ and makes the path absolute.
// If path is empty and defaultPath is provided, uses the default.
func expandPath(path, defaultPath string) (string, error) {
	if path == "" {
		return defaultPath, nil
	}

	// Expand tilde.
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}

	// Make absolute if needed.
	if !filepath.IsAbs(path) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("failed to get absolute path: %w", err)
		}
		path = absPath
	}

	return filepath.Clean(path), nil
}

// expandDataPath defaults the data path to ~/discsync/data.
func (c *Config) expandDataPath() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}
	defaultPath := filepath.Join(homeDir, "discsync", "data")

	expanded, err := expandPath(c.Store.DataPath, defaultPath)
	if err != nil {
		return err
	}
	c.Store.DataPath = expanded
	return nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for part := range strings.SplitSeq(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getConfigValue returns the first non-empty value from flag, env var, or default.
func getConfigValue(flagValue, envKey, defaultValue string) string {
	// Priority 1: Command-line flag.
	if flagValue != "" {
		return flagValue
	}

	// Priority 2: Environment variable.
	if envValue := os.Getenv(envKey); envValue != "" {
		return envValue
	}

	// Priority 3: Default value.
	return defaultValue
}

// getBoolConfigValue returns a bool from flag, env var, or default.
// Accepts: "true", "1", "yes" (case-insensitive) as true; anything else is false.
func getBoolConfigValue(flagValue, envKey string, defaultValue bool) bool {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	strValue = strings.ToLower(strValue)
	return strValue == "true" || strValue == "1" || strValue == "yes"
}

// getIntConfigValue returns an int from flag, env var, or default.
func getIntConfigValue(flagValue, envKey string, defaultValue int) int {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	result, err := strconv.Atoi(strValue)
	if err != nil {
		return defaultValue
	}
	return result
}

// loadEnvFile loads environment variables from a .env file.
// Format: KEY=value (one per line, # for comments).
func loadEnvFile(path string) error {
	file, err := os.Open(path) //#nosec G304 -- Config file path from user input is expected
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return fmt.Errorf("invalid format at line %d: %s", lineNum, line)
		}

		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)

		// Only set if not already set (env vars take precedence over .env file).
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("failed to set env var %s: %w", key, err)
			}
		}
	}

	return scanner.Err()
}
