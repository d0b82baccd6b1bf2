// Package app wires configuration into loggers, stores and publishers for the binaries.
package app

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/clinical-reasoning-engine/internal/database"
	"github.com/clinical-reasoning-engine/internal/domain"
	"github.com/clinical-reasoning-engine/internal/history"
)

// NewLogger builds a logger writing to stderr. format is "json" or "text".
func NewLogger(level, format string) (*logrus.Logger, error) {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)

	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	logger.SetLevel(lvl)

	switch strings.ToLower(format) {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	case "text", "":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
	return logger, nil
}

// OpenHistory opens the report store selected by cfg.History, running migrations first
// when PostgreSQL is selected and cfg.Database.MigrateOnStart is set. The store is wrapped
// in the Redis cache when cfg.Cache is enabled. A nil store means history is disabled.
func OpenHistory(ctx context.Context, cfg *domain.Config, logger *logrus.Logger) (domain.ReportStore, error) {
	var store domain.ReportStore

	switch cfg.History.Backend {
	case domain.HistoryNone, "":
		logger.Info("Report history disabled")
		return nil, nil

	case domain.HistorySQLite:
		s, err := history.NewSQLiteStore(cfg.History.SQLitePath, logger)
		if err != nil {
			return nil, err
		}
		store = s

	case domain.HistoryPostgres:
		s, err := openPostgres(ctx, cfg.Database, logger)
		if err != nil {
			return nil, err
		}
		store = s

	default:
		return nil, fmt.Errorf("invalid history backend: %s", cfg.History.Backend)
	}

	if !cfg.Cache.Enabled {
		return store, nil
	}
	cached, err := history.NewCachedStore(store, cfg.Cache, logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	logger.Info("Report cache enabled")
	return cached, nil
}

// pgStore closes the pool together with the store.
type pgStore struct {
	*history.PostgresStore
	db *database.DB
}

func (s *pgStore) Close() error {
	err := s.PostgresStore.Close()
	s.db.Close()
	return err
}

func openPostgres(ctx context.Context, cfg domain.DatabaseConfig, logger *logrus.Logger) (domain.ReportStore, error) {
	dbConfig := database.ConfigFromDomain(cfg)

	if cfg.MigrateOnStart {
		if err := Migrate(ctx, dbConfig.URL(), true, logger); err != nil {
			return nil, err
		}
	}

	db, err := database.NewConnection(ctx, dbConfig, logger)
	if err != nil {
		return nil, err
	}

	store, err := history.NewPostgresStore(db.SQL(), logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &pgStore{PostgresStore: store, db: db}, nil
}

// Migrate applies (up) or rolls back one step of (down) the embedded schema migrations.
func Migrate(ctx context.Context, databaseURL string, up bool, logger *logrus.Logger) error {
	runner, err := database.NewMigrationRunner(databaseURL, logger)
	if err != nil {
		return err
	}
	defer runner.Close()

	if up {
		return runner.Up(ctx)
	}
	return runner.Down(ctx)
}
