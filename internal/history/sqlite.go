package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/clinical-reasoning-engine/internal/domain"
)

// SQLiteStore implements domain.ReportStore using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
	logger *logrus.Logger
}

// NewSQLiteStore creates a new SQLite report store.
// It creates the database file and schema if they don't exist.
func NewSQLiteStore(dbPath string, logger *logrus.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL lets the server read while the CLI writes
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	logger.WithField("path", dbPath).Debug("SQLite report store opened")
	return &SQLiteStore{db: db, dbPath: dbPath, logger: logger}, nil
}

func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS reports (
		id TEXT PRIMARY KEY,
		subject_id TEXT NOT NULL DEFAULT '',
		knowledge_version TEXT NOT NULL DEFAULT '',
		urgency TEXT NOT NULL DEFAULT '',
		risk_tier TEXT NOT NULL DEFAULT '',
		body TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_reports_subject ON reports(subject_id);
	CREATE INDEX IF NOT EXISTS idx_reports_created_at ON reports(created_at);
	`

	_, err := db.Exec(schema)
	return err
}

// Save stores or replaces a report.
func (s *SQLiteStore) Save(ctx context.Context, rec *domain.ReportRecord) error {
	if err := prepare(rec); err != nil {
		return err
	}
	body, err := encodeReport(rec.Report)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO reports (id, subject_id, knowledge_version, urgency, risk_tier, body, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			subject_id = excluded.subject_id,
			knowledge_version = excluded.knowledge_version,
			urgency = excluded.urgency,
			risk_tier = excluded.risk_tier,
			body = excluded.body
	`,
		rec.ID,
		rec.SubjectID,
		rec.KnowledgeVersion,
		string(rec.Urgency),
		string(rec.RiskTier),
		string(body),
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"report_id":  rec.ID,
		"subject_id": rec.SubjectID,
	}).Debug("Report saved")
	return nil
}

// Get retrieves a report by id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*domain.ReportRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, subject_id, knowledge_version, urgency, risk_tier, body, created_at
		FROM reports
		WHERE id = ?
	`, id)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan: %w", err)
	}
	return rec, nil
}

// List returns reports newest first, optionally for one subject.
func (s *SQLiteStore) List(ctx context.Context, subjectID string, limit, offset int) ([]*domain.ReportRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, subject_id, knowledge_version, urgency, risk_tier, body, created_at
		FROM reports
		WHERE ? = '' OR subject_id = ?
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`, subjectID, subjectID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
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
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM reports").Scan(&count)
	return count, err
}

// Delete removes a report by id.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM reports WHERE id = ?", id)
	return err
}

// ExportJSON exports all reports to a JSON writer.
func (s *SQLiteStore) ExportJSON(ctx context.Context, w io.Writer) error {
	all, err := s.List(ctx, "", maxExportLimit, 0)
	if err != nil {
		return fmt.Errorf("failed to list reports: %w", err)
	}
	return writeExport(w, all)
}

// ImportJSON imports reports from a JSON reader.
func (s *SQLiteStore) ImportJSON(ctx context.Context, r io.Reader) (imported int, skipped int, err error) {
	return importRecords(ctx, s, r)
}

// Close closes the store and releases resources.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// importRecords is shared by every store: existing ids are skipped, the rest are saved.
func importRecords(ctx context.Context, store domain.ReportStore, r io.Reader) (imported int, skipped int, err error) {
	export, err := readExport(r)
	if err != nil {
		return 0, 0, err
	}

	for _, rec := range export.Reports {
		if rec == nil {
			continue
		}
		if rec.ID != "" {
			_, err := store.Get(ctx, rec.ID)
			if err == nil {
				skipped++
				continue
			}
			if !errors.Is(err, domain.ErrNotFound) {
				return imported, skipped, fmt.Errorf("failed to check existing: %w", err)
			}
		}

		if err := store.Save(ctx, rec); err != nil {
			return imported, skipped, fmt.Errorf("failed to save: %w", err)
		}
		imported++
	}
	return imported, skipped, nil
}
