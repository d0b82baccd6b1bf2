// Package config provides configuration for the server and the CLI.
// This file contains the lightweight, environment-only configuration used by the CLI.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/clinical-reasoning-engine/internal/domain"
)

// LiteConfig is a simplified configuration for standalone operation.
// It requires no external services and uses sensible defaults.
type LiteConfig struct {
	// Data storage
	DataDir string // Base directory for the history database and exports

	// Knowledge bases
	KnowledgeDir       string // Directory of versioned knowledge bases; empty serves only the built-in tables
	KnowledgeCacheSize int    // Parsed versions kept in memory

	// History backend: sqlite or none
	History string

	HTTPPort int // Port for the serve command

	// Logging
	LogLevel  string // Log level: debug, info, warn, error
	LogFormat string // Log format: json, text
}

// DefaultLiteConfig returns a configuration with sensible defaults.
func DefaultLiteConfig() *LiteConfig {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".clinical-reasoning-engine")

	return &LiteConfig{
		DataDir:            dataDir,
		KnowledgeCacheSize: 8,
		History:            domain.HistorySQLite,
		HTTPPort:           8080,
		LogLevel:           "info",
		LogFormat:          "text",
	}
}

// LoadLiteConfig loads configuration from environment variables.
// Falls back to defaults if not set.
func LoadLiteConfig() *LiteConfig {
	cfg := DefaultLiteConfig()

	if v := os.Getenv("CRE_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	if v := os.Getenv("CRE_KB_DIR"); v != "" {
		cfg.KnowledgeDir = v
	}
	if v := os.Getenv("CRE_KB_CACHE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.KnowledgeCacheSize = n
		}
	}

	switch v := os.Getenv("CRE_HISTORY"); v {
	case domain.HistorySQLite, domain.HistoryNone:
		cfg.History = v
	}

	if v := os.Getenv("CRE_HTTP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.HTTPPort = n
		}
	}

	if v := os.Getenv("CRE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("CRE_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}

	return cfg
}

// HistoryDBPath returns the path to the report history SQLite database.
func (c *LiteConfig) HistoryDBPath() string {
	return filepath.Join(c.DataDir, "reports.db")
}

// ExportDir returns the directory for JSON exports.
func (c *LiteConfig) ExportDir() string {
	return filepath.Join(c.DataDir, "exports")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *LiteConfig) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return err
	}
	return os.MkdirAll(c.ExportDir(), 0755)
}

// ServiceConfig expands the lite settings into a full configuration for the serve command.
// Only the local SQLite history is available; Kafka, Redis and PostgreSQL stay off.
func (c *LiteConfig) ServiceConfig() *domain.Config {
	historyCfg := domain.HistoryConfig{Backend: c.History}
	if c.History == domain.HistorySQLite {
		historyCfg.SQLitePath = c.HistoryDBPath()
	}

	return &domain.Config{
		Environment: "development",
		Server: domain.ServerConfig{
			Host:           "127.0.0.1",
			Port:           c.HTTPPort,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   30 * time.Second,
			IdleTimeout:    120 * time.Second,
			RequestTimeout: 15 * time.Second,
			MaxBodyBytes:   1 << 20,
		},
		Logging: domain.LoggingConfig{Level: c.LogLevel, Format: c.LogFormat},
		Knowledge: domain.KnowledgeConfig{
			Dir:            c.KnowledgeDir,
			DefaultVersion: "default",
			CacheSize:      c.KnowledgeCacheSize,
		},
		History: historyCfg,
	}
}
