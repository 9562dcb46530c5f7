package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// unsetEnv removes keys for the duration of the test.
func unsetEnv(t *testing.T, keys ...string) {
	for _, k := range keys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestNewConfig_Env(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("POSTGRES_DBSTRING", "postgres://judge@localhost/judge")
	t.Setenv("RABBIT_USER", "guest")
	t.Setenv("RABBIT_PASSWORD", "guest")
	t.Setenv("COMPILE_TIMEOUT", "45s")
	t.Setenv("SANDBOX_BACKEND", "sandbox")
	unsetEnv(t, "WORKERS_COUNT", "LOG_LEVEL", "MAX_RETRIES", "LOCK_TTL", "SANDBOX_CPUS", "TEST_DATA_CACHE_SIZE", "DEFAULT_MEMORY_MB")

	cfg, err := NewConfig()
	require.NoError(t, err)
	require.Equal(t, "postgres://judge@localhost/judge", cfg.PostgresString)
	require.Equal(t, 45*time.Second, cfg.CompileTimeout)
	require.Equal(t, "sandbox", cfg.SandboxBackend)
	require.Equal(t, 0.5, cfg.SandboxCPUs)
	require.Equal(t, "warn", cfg.LogLevel)
	require.Equal(t, 5, cfg.MaxRetries)
	require.Equal(t, runtime.NumCPU(), cfg.WorkersCount)
	require.Equal(t, 10*time.Minute, cfg.LockTTL)
	require.EqualValues(t, 512<<20, cfg.TestDataCache)
	require.EqualValues(t, 256, cfg.DefaultMemoryMB)
}

func TestNewConfig_DotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	unsetEnv(t, "POSTGRES_DBSTRING", "RABBIT_USER", "RABBIT_PASSWORD", "WORKERS_COUNT")
	env := "POSTGRES_DBSTRING=postgres://from-file\nRABBIT_USER=u\nRABBIT_PASSWORD=p\nWORKERS_COUNT=3\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(env), 0o600))

	cfg, err := NewConfig()
	require.NoError(t, err)
	require.Equal(t, "postgres://from-file", cfg.PostgresString)
	require.Equal(t, 3, cfg.WorkersCount)
}

func TestNewConfig_Required(t *testing.T) {
	t.Chdir(t.TempDir())
	unsetEnv(t, "POSTGRES_DBSTRING", "RABBIT_USER", "RABBIT_PASSWORD")

	_, err := NewConfig()
	require.Error(t, err)
}
