package config

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/discsync/discsync-server/internal/fingerprint"
)

var configEnvKeys = []string{
	"ENV", "LOG_LEVEL", "DATA_PATH", "STORE_BACKEND", "HASH_ALGORITHM",
	"INGEST_WORKERS", "INBOX_PATH", "STALE_RUN_TIMEOUT", "SERVER_PORT",
	"SERVER_READ_TIMEOUT", "SERVER_WRITE_TIMEOUT", "SERVER_IDLE_TIMEOUT", "SERVER_MAX_CONNECTIONS",
	"CORS_ORIGINS", "API_RATE_LIMIT", "API_RATE_BURST", "API_RATE_LIMIT_IDLE_TTL", "METRICS_ENABLED",
}

// clearEnv blanks every config key for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range configEnvKeys {
		t.Setenv(k, "")
	}
}

func load(t *testing.T, args ...string) (*Config, error) {
	t.Helper()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	args = append([]string{"-env-file", filepath.Join(t.TempDir(), "missing.env")}, args...)
	return Load(fs, args)
}

func validConfig() *Config {
	return &Config{
		App:    AppConfig{Environment: "development"},
		Logger: LoggerConfig{Level: "info"},
		Store: StoreConfig{
			DataPath:      "/var/lib/discsync",
			Backend:       BackendSQLite,
			HashAlgorithm: fingerprint.SHA256,
		},
		Ingest: IngestConfig{Workers: 4},
		API:    APIConfig{RateLimit: 20, RateBurst: 40},
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	dataDir := t.TempDir()

	cfg, err := load(t, "-data-path", dataDir)
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.App.Environment)
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, dataDir, cfg.Store.DataPath)
	assert.Equal(t, BackendSQLite, cfg.Store.Backend)
	assert.Equal(t, fingerprint.SHA256, cfg.Store.HashAlgorithm)
	assert.Equal(t, 4, cfg.Ingest.Workers)
	assert.Empty(t, cfg.Ingest.InboxPath)
	assert.Zero(t, cfg.Ingest.StaleRunTimeout)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 15*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, 60*time.Second, cfg.Server.IdleTimeout)
	assert.Zero(t, cfg.Server.MaxConnections)
	assert.Nil(t, cfg.API.CORSOrigins)
	assert.InDelta(t, 20.0, cfg.API.RateLimit, 0.0001)
	assert.Equal(t, 40, cfg.API.RateBurst)
	assert.Equal(t, 10*time.Minute, cfg.API.RateLimitIdleTTL)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, filepath.Join(dataDir, "discsync.db"), cfg.StorePath())
}

func TestLoad_EnvironmentValues(t *testing.T) {
	clearEnv(t)
	dataDir := t.TempDir()
	inbox := t.TempDir()

	t.Setenv("ENV", "production")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("DATA_PATH", dataDir)
	t.Setenv("STORE_BACKEND", "BADGER")
	t.Setenv("INGEST_WORKERS", "8")
	t.Setenv("INBOX_PATH", inbox)
	t.Setenv("STALE_RUN_TIMEOUT", "6h")
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("SERVER_READ_TIMEOUT", "5s")
	t.Setenv("SERVER_MAX_CONNECTIONS", "256")
	t.Setenv("HASH_ALGORITHM", "blake2b")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("API_RATE_LIMIT", "2.5")
	t.Setenv("API_RATE_BURST", "5")
	t.Setenv("API_RATE_LIMIT_IDLE_TTL", "90s")
	t.Setenv("METRICS_ENABLED", "no")

	cfg, err := load(t)
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.Equal(t, BackendBadger, cfg.Store.Backend)
	assert.Equal(t, fingerprint.BLAKE2B, cfg.Store.HashAlgorithm)
	assert.Equal(t, 8, cfg.Ingest.Workers)
	assert.Equal(t, inbox, cfg.Ingest.InboxPath)
	assert.Equal(t, 6*time.Hour, cfg.Ingest.StaleRunTimeout)
	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 256, cfg.Server.MaxConnections)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.API.CORSOrigins)
	assert.InDelta(t, 2.5, cfg.API.RateLimit, 0.0001)
	assert.Equal(t, 5, cfg.API.RateBurst)
	assert.Equal(t, 90*time.Second, cfg.API.RateLimitIdleTTL)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, filepath.Join(dataDir, "badger"), cfg.StorePath())
}

func TestLoad_FlagOverridesEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("STORE_BACKEND", "badger")

	cfg, err := load(t, "-data-path", t.TempDir(), "-port", "7070", "-store-backend", "sqlite")
	require.NoError(t, err)

	assert.Equal(t, "7070", cfg.Server.Port)
	assert.Equal(t, BackendSQLite, cfg.Store.Backend)
}

func TestLoad_CallerFlags(t *testing.T) {
	clearEnv(t)
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	entityType := fs.String("type", "", "entity type")

	cfg, err := Load(fs, []string{
		"-env-file", filepath.Join(t.TempDir(), "missing.env"),
		"-data-path", t.TempDir(),
		"-type", "artist",
		"artists.ndjson",
	})
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "artist", *entityType)
	assert.Equal(t, []string{"artists.ndjson"}, fs.Args())
}

func TestLoad_EnvFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	content := "STORE_BACKEND=badger\nINGEST_WORKERS=2\nDATA_PATH=" + dir + "\n"
	require.NoError(t, os.WriteFile(envFile, []byte(content), 0o644))

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg, err := Load(fs, []string{"-env-file", envFile})
	require.NoError(t, err)

	assert.Equal(t, BackendBadger, cfg.Store.Backend)
	assert.Equal(t, 2, cfg.Ingest.Workers)
	assert.Equal(t, dir, cfg.Store.DataPath)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
		want string
	}{
		{"bad hash", "HASH_ALGORITHM", "md5", "hash algorithm"},
		{"bad timeout", "SERVER_READ_TIMEOUT", "soon", "read timeout"},
		{"bad stale timeout", "STALE_RUN_TIMEOUT", "forever", "stale run timeout"},
		{"bad rate", "API_RATE_LIMIT", "fast", "rate limit"},
		{"bad rate idle ttl", "API_RATE_LIMIT_IDLE_TTL", "later", "rate limit idle ttl"},
		{"negative rate idle ttl", "API_RATE_LIMIT_IDLE_TTL", "-1m", "rate limit idle ttl"},
		{"bad backend", "STORE_BACKEND", "postgres", "store backend"},
		{"bad env", "ENV", "test", "environment"},
		{"zero workers", "INGEST_WORKERS", "0", "ingest workers"},
		{"negative connections", "SERVER_MAX_CONNECTIONS", "-1", "max connections"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.val)

			_, err := load(t, "-data-path", t.TempDir())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidate_AllEnvironments(t *testing.T) {
	tests := []struct {
		env   string
		valid bool
	}{
		{"development", true},
		{"staging", true},
		{"production", true},
		{"test", false},
		{"", false},
		{"DEVELOPMENT", false}, // case sensitive
	}

	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			cfg := validConfig()
			cfg.App.Environment = tt.env

			err := cfg.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestValidate_AllLogLevels(t *testing.T) {
	tests := []struct {
		level string
		valid bool
	}{
		{"debug", true},
		{"info", true},
		{"warn", true},
		{"error", true},
		{"DEBUG", true}, // case insensitive
		{"trace", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			cfg := validConfig()
			cfg.Logger.Level = tt.level

			err := cfg.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestValidate_Store(t *testing.T) {
	cfg := validConfig()
	cfg.Store.DataPath = ""
	assert.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.Store.Backend = "postgres"
	assert.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.Store.HashAlgorithm = "md5"
	assert.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.Store.HashAlgorithm = ""
	require.NoError(t, cfg.Validate())
	assert.Equal(t, fingerprint.SHA256, cfg.Store.HashAlgorithm)
}

func TestValidate_IngestAndAPI(t *testing.T) {
	cfg := validConfig()
	cfg.Ingest.StaleRunTimeout = -time.Minute
	assert.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.API.RateLimit = -1
	assert.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.API.RateBurst = 0
	assert.Error(t, cfg.Validate())

	// Burst is irrelevant when limiting is disabled.
	cfg = validConfig()
	cfg.API.RateLimit = 0
	cfg.API.RateBurst = 0
	assert.NoError(t, cfg.Validate())
}

func TestExpandPath(t *testing.T) {
	got, err := expandPath("", "/default")
	require.NoError(t, err)
	assert.Equal(t, "/default", got)

	got, err = expandPath("/abs/../abs/path", "")
	require.NoError(t, err)
	assert.Equal(t, "/abs/path", got)

	home, err := os.UserHomeDir()
	require.NoError(t, err)
	got, err = expandPath("~/discsync", "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "discsync"), got)

	got, err = expandPath("relative/path", "")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(got))
	assert.Contains(t, got, "relative/path")
}

func TestGetConfigValue_Precedence(t *testing.T) {
	assert.Equal(t, "flag-value", getConfigValue("flag-value", "TEST_ENV_KEY", "default-value"))

	t.Setenv("TEST_ENV_KEY", "env-value")
	assert.Equal(t, "env-value", getConfigValue("", "TEST_ENV_KEY", "default-value"))

	assert.Equal(t, "default-value", getConfigValue("", "NONEXISTENT_KEY", "default-value"))
}

func TestGetIntAndBoolConfigValue(t *testing.T) {
	t.Setenv("TEST_INT", "12")
	assert.Equal(t, 12, getIntConfigValue("", "TEST_INT", 1))
	assert.Equal(t, 3, getIntConfigValue("3", "TEST_INT", 1))

	t.Setenv("TEST_INT", "twelve")
	assert.Equal(t, 1, getIntConfigValue("", "TEST_INT", 1))

	for _, v := range []string{"true", "1", "YES"} {
		assert.True(t, getBoolConfigValue(v, "TEST_BOOL", false), v)
	}
	assert.False(t, getBoolConfigValue("off", "TEST_BOOL", true))
	assert.True(t, getBoolConfigValue("", "TEST_BOOL_UNSET", true))
}

func TestLoadEnvFile_ValidFile(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")

	content := `# Test env file
ENV=staging
LOG_LEVEL=debug
DATA_PATH=/test/path
# Comment line
QUOTED_VALUE="some value"
SINGLE_QUOTED='another value'
`
	require.NoError(t, os.WriteFile(envFile, []byte(content), 0o644))

	keys := []string{"ENV", "LOG_LEVEL", "DATA_PATH", "QUOTED_VALUE", "SINGLE_QUOTED"}
	for _, k := range keys {
		t.Setenv(k, "")
	}

	require.NoError(t, loadEnvFile(envFile))

	assert.Equal(t, "staging", os.Getenv("ENV"))
	assert.Equal(t, "debug", os.Getenv("LOG_LEVEL"))
	assert.Equal(t, "/test/path", os.Getenv("DATA_PATH"))
	assert.Equal(t, "some value", os.Getenv("QUOTED_VALUE"))
	assert.Equal(t, "another value", os.Getenv("SINGLE_QUOTED"))
}

func TestLoadEnvFile_InvalidFormat(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")

	content := `VALID_KEY=valid_value
INVALID LINE WITHOUT EQUALS
ANOTHER_VALID=value
`
	require.NoError(t, os.WriteFile(envFile, []byte(content), 0o644))
	t.Setenv("VALID_KEY", "")

	err := loadEnvFile(envFile)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestLoadEnvFile_NonExistentFile(t *testing.T) {
	assert.Error(t, loadEnvFile("/nonexistent/file/.env"))
}

func TestLoadEnvFile_ExistingEnvVarsNotOverwritten(t *testing.T) {
	t.Setenv("TEST_VAR", "original-value")

	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte(`TEST_VAR=new-value`), 0o644))

	require.NoError(t, loadEnvFile(envFile))
	assert.Equal(t, "original-value", os.Getenv("TEST_VAR"))
}

func TestLoadEnvFile_Whitespace(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte(`  KEY_WITH_SPACES  =  value with spaces  `), 0o644))
	t.Setenv("KEY_WITH_SPACES", "")

	require.NoError(t, loadEnvFile(envFile))
	assert.Equal(t, "value with spaces", os.Getenv("KEY_WITH_SPACES"))
}
