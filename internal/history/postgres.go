package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/sirupsen/logrus"

	"github.com/clinical-reasoning-engine/internal/domain"
)

// PostgresStore implements domain.ReportStore using PostgreSQL.
type PostgresStore struct {
	db     *sql.DB
	logger *logrus.Logger
}

// NewPostgresStore creates a new PostgreSQL report store.
// It expects the reports table to already exist (created via migrations).
func NewPostgresStore(db *sql.DB, logger *logrus.Logger) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{db: db, logger: logger}, nil
}

// NewPostgresStoreFromPool wraps a pgx pool in database/sql and creates a store over it.
func NewPostgresStoreFromPool(pool *pgxpool.Pool, logger *logrus.Logger) (*PostgresStore, error) {
	db := stdlib.OpenDBFromPool(pool)
	store, err := NewPostgresStore(db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgresStoreFromURL creates a new PostgreSQL report store from a connection URL.
func NewPostgresStoreFromURL(databaseURL string, logger *logrus.Logger) (*PostgresStore, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	store, err := NewPostgresStore(db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Save stores or replaces a report. The original created_at is kept on conflict.
func (s *PostgresStore) Save(ctx context.Context, rec *domain.ReportRecord) error {
	if err := prepare(rec); err != nil {
		return err
	}
	body, err := encodeReport(rec.Report)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO reports (
			id, subject_id, knowledge_version, urgency, risk_tier, body, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			subject_id = EXCLUDED.subject_id,
			knowledge_version = EXCLUDED.knowledge_version,
			urgency = EXCLUDED.urgency,
			risk_tier = EXCLUDED.risk_tier,
			body = EXCLUDED.body
		RETURNING created_at
	`

	err = s.db.QueryRowContext(ctx, query,
		rec.ID,
		rec.SubjectID,
		rec.KnowledgeVersion,
		string(rec.Urgency),
		string(rec.RiskTier),
		string(body),
		rec.CreatedAt,
	).Scan(&rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"report_id":  rec.ID,
		"subject_id": rec.SubjectID,
		"urgency":    rec.Urgency,
	}).Debug("Report saved")
	return nil
}

// Get retrieves a report by id.
func (s *PostgresStore) Get(ctx context.Context, id string) (*domain.ReportRecord, error) {
	query := `
		SELECT id, subject_id, knowledge_version, urgency, risk_tier, body, created_at
		FROM reports
		WHERE id = $1
	`

	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get report: %w", err)
	}
	return rec, nil
}

// List returns reports newest first with pagination.
func (s *PostgresStore) List(ctx context.Context, subjectID string, limit, offset int) ([]*domain.ReportRecord, error) {
	query := `
		SELECT id, subject_id, knowledge_version, urgency, risk_tier, body, created_at
		FROM reports
		WHERE $1 = '' OR subject_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := s.db.QueryContext(ctx, query, subjectID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	defer rows.Close()

	result := []*domain.ReportRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result = append(result, rec)
	}

	return result, rows.Err()
}

// Count returns the total number of reports.
func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM reports").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count reports: %w", err)
	}
	return count, nil
}

// Delete removes a report by id.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM reports WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete report: %w", err)
	}
	return nil
}

// ExportJSON exports all reports to a JSON writer.
func (s *PostgresStore) ExportJSON(ctx context.Context, w io.Writer) error {
	all, err := s.List(ctx, "", maxExportLimit, 0)
	if err != nil {
		return fmt.Errorf("failed to list reports: %w", err)
	}
	return writeExport(w, all)
}

// ImportJSON imports reports from a JSON reader.
func (s *PostgresStore) ImportJSON(ctx context.Context, r io.Reader) (imported int, skipped int, err error) {
	return importRecords(ctx, s, r)
}

// Close closes the store and releases resources.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
