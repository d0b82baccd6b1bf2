package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinical-reasoning-engine/internal/domain"
)

func TestDefaultLiteConfig(t *testing.T) {
	cfg := DefaultLiteConfig()

	assert.Equal(t, ".clinical-reasoning-engine", filepath.Base(cfg.DataDir))
	assert.Empty(t, cfg.KnowledgeDir)
	assert.Equal(t, 8, cfg.KnowledgeCacheSize)
	assert.Equal(t, domain.HistorySQLite, cfg.History)
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
}

func TestLoadLiteConfig_Defaults(t *testing.T) {
	clearEnvVars(t)

	cfg := LoadLiteConfig()

	assert.NotEmpty(t, cfg.DataDir)
	assert.Equal(t, 8, cfg.KnowledgeCacheSize)
	assert.Equal(t, domain.HistorySQLite, cfg.History)
}

func TestLoadLiteConfig_EnvironmentOverrides(t *testing.T) {
	clearEnvVars(t)

	t.Setenv("CRE_DATA_DIR", "/tmp/test-cre")
	t.Setenv("CRE_KB_DIR", "/srv/knowledge")
	t.Setenv("CRE_KB_CACHE_SIZE", "3")
	t.Setenv("CRE_HISTORY", "none")
	t.Setenv("CRE_HTTP_PORT", "9090")
	t.Setenv("CRE_LOG_LEVEL", "debug")
	t.Setenv("CRE_LOG_FORMAT", "json")

	cfg := LoadLiteConfig()

	assert.Equal(t, "/tmp/test-cre", cfg.DataDir)
	assert.Equal(t, "/srv/knowledge", cfg.KnowledgeDir)
	assert.Equal(t, 3, cfg.KnowledgeCacheSize)
	assert.Equal(t, domain.HistoryNone, cfg.History)
	assert.Equal(t, 9090, cfg.HTTPPort)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestLoadLiteConfig_IgnoresInvalidValues(t *testing.T) {
	clearEnvVars(t)

	t.Setenv("CRE_KB_CACHE_SIZE", "-1")
	t.Setenv("CRE_HTTP_PORT", "not-a-port")
	t.Setenv("CRE_HISTORY", "postgres")

	cfg := LoadLiteConfig()

	assert.Equal(t, 8, cfg.KnowledgeCacheSize)
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, domain.HistorySQLite, cfg.History, "the CLI has no PostgreSQL history")
}

func TestLiteConfig_Paths(t *testing.T) {
	cfg := &LiteConfig{DataDir: "/home/user/.clinical-reasoning-engine"}

	assert.Equal(t, "/home/user/.clinical-reasoning-engine/reports.db", cfg.HistoryDBPath())
	assert.Equal(t, "/home/user/.clinical-reasoning-engine/exports", cfg.ExportDir())
}

func TestLiteConfig_EnsureDataDir(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "config-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir)

	cfg := &LiteConfig{DataDir: filepath.Join(tmpDir, "cre")}

	err = cfg.EnsureDataDir()
	require.NoError(t, err)

	_, err = os.Stat(cfg.DataDir)
	assert.NoError(t, err)

	_, err = os.Stat(cfg.ExportDir())
	assert.NoError(t, err)
}

func clearEnvVars(t *testing.T) {
	t.Helper()
	vars := []string{
		"CRE_DATA_DIR",
		"CRE_KB_DIR",
		"CRE_KB_CACHE_SIZE",
		"CRE_HISTORY",
		"CRE_HTTP_PORT",
		"CRE_LOG_LEVEL",
		"CRE_LOG_FORMAT",
	}
	for _, v := range vars {
		// t.Setenv restores the previous value when the test ends
		t.Setenv(v, "")
		os.Unsetenv(v)
	}
}

func TestLiteConfig_ServiceConfig(t *testing.T) {
	cfg := &LiteConfig{
		DataDir:            "/data/cre",
		KnowledgeDir:       "/data/kb",
		KnowledgeCacheSize: 4,
		History:            domain.HistorySQLite,
		HTTPPort:           9090,
		LogLevel:           "debug",
		LogFormat:          "json",
	}

	full := cfg.ServiceConfig()
	assert.Equal(t, "127.0.0.1", full.Server.Host)
	assert.Equal(t, 9090, full.Server.Port)
	assert.Equal(t, "/data/cre/reports.db", full.History.SQLitePath)
	assert.Equal(t, "/data/kb", full.Knowledge.Dir)
	assert.Equal(t, 4, full.Knowledge.CacheSize)
	assert.False(t, full.Kafka.Enabled)
	assert.False(t, full.Cache.Enabled)

	cfg.History = domain.HistoryNone
	assert.Empty(t, cfg.ServiceConfig().History.SQLitePath)
}
