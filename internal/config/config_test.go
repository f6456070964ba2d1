package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aletheia/internal/errors"
)

func baseEnv(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("TAVILY_API_KEY", "tvly-test")
	t.Setenv("CONFIG_FILE", "")
}

func TestLoadDefaults(t *testing.T) {
	baseEnv(t)
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, 500*time.Millisecond, cfg.LLM.RetryBackoff)
	assert.Equal(t, 5*time.Second, cfg.Engine.FetchTimeout)
	assert.Equal(t, 30, cfg.Engine.EvidenceCap)
	assert.Equal(t, 4, cfg.Engine.MaxParallel)
	assert.Equal(t, "file", cfg.Artifacts.Store)
	assert.Equal(t, "6060", cfg.Profiling.Port)
}

func TestLoadEnvOverrides(t *testing.T) {
	baseEnv(t)
	t.Chdir(t.TempDir())
	t.Setenv("MAX_PARALLEL", "8")
	t.Setenv("FETCH_TIMEOUT", "2s")
	t.Setenv("FETCH_CACHE", "redis")
	t.Setenv("REDIS_ADDR", "cache:6379")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Engine.MaxParallel)
	assert.Equal(t, 2*time.Second, cfg.Engine.FetchTimeout)
	assert.Equal(t, "redis", cfg.Cache.Backend)
	assert.Equal(t, "cache:6379", cfg.Cache.RedisAddr)
}

func TestLoadConfigFile(t *testing.T) {
	baseEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "aletheia.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine:\n  evidence_cap: 12\nsearch:\n  provider: brave\n  brave_key: b-key\n"), 0o644))
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.Engine.EvidenceCap)
	assert.Equal(t, "brave", cfg.Search.Provider)
}

func TestValidation(t *testing.T) {
	baseEnv(t)
	t.Chdir(t.TempDir())
	t.Setenv("ARTIFACT_STORE", "postgres")
	t.Setenv("DATABASE_URL", "")

	_, err := Load()
	require.Error(t, err)
	assert.Equal(t, errors.CodeConfigInvalid, errors.GetCode(err))
}

func TestMissingSearchKey(t *testing.T) {
	baseEnv(t)
	t.Chdir(t.TempDir())
	t.Setenv("TAVILY_API_KEY", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TAVILY_API_KEY")
}
