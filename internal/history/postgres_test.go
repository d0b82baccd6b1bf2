package history

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinical-reasoning-engine/internal/domain"
)

var reportColumns = []string{"id", "subject_id", "knowledge_version", "urgency", "risk_tier", "body", "created_at"}

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	store, err := NewPostgresStore(db, testLogger())
	require.NoError(t, err)
	return store, mock
}

func reportBody(t *testing.T, report *domain.Report) []byte {
	t.Helper()
	body, err := json.Marshal(report)
	require.NoError(t, err)
	return body
}

func TestNewPostgresStore_RequiresDB(t *testing.T) {
	_, err := NewPostgresStore(nil, testLogger())
	assert.Error(t, err)
}

func TestPostgresStore_SaveMock(t *testing.T) {
	store, mock := newMockStore(t)
	defer store.Close()

	rec := sampleRecord("report-1", "subject-1", baseTime)
	stored := baseTime.Add(-time.Hour)

	mock.ExpectQuery("INSERT INTO reports").
		WithArgs("report-1", "subject-1", "2026.1", "soon", "intermediate", sqlmock.AnyArg(), baseTime).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(stored))

	require.NoError(t, store.Save(context.Background(), rec))
	assert.Equal(t, stored, rec.CreatedAt, "original created_at is kept on conflict")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveErrorMock(t *testing.T) {
	store, mock := newMockStore(t)
	defer store.Close()

	mock.ExpectQuery("INSERT INTO reports").WillReturnError(errors.New("connection reset"))

	err := store.Save(context.Background(), sampleRecord("report-1", "subject-1", baseTime))
	assert.ErrorContains(t, err, "failed to save report")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetMock(t *testing.T) {
	store, mock := newMockStore(t)
	defer store.Close()

	report := sampleReport(domain.UrgencyUrgent)
	mock.ExpectQuery("SELECT (.+) FROM reports WHERE id = \\$1").
		WithArgs("report-1").
		WillReturnRows(sqlmock.NewRows(reportColumns).
			AddRow("report-1", "subject-1", "2026.1", "urgent", "high", reportBody(t, report), baseTime))

	got, err := store.Get(context.Background(), "report-1")
	require.NoError(t, err)
	assert.Equal(t, domain.UrgencyUrgent, got.Urgency)
	assert.Equal(t, domain.RiskTierHigh, got.RiskTier)
	assert.Equal(t, report.Summary, got.Report.Summary)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetNotFoundMock(t *testing.T) {
	store, mock := newMockStore(t)
	defer store.Close()

	mock.ExpectQuery("SELECT (.+) FROM reports WHERE id = \\$1").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(reportColumns))

	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetCorruptBodyMock(t *testing.T) {
	store, mock := newMockStore(t)
	defer store.Close()

	mock.ExpectQuery("SELECT (.+) FROM reports").
		WithArgs("report-1").
		WillReturnRows(sqlmock.NewRows(reportColumns).
			AddRow("report-1", "", "", "", "", []byte("{"), baseTime))

	_, err := store.Get(context.Background(), "report-1")
	assert.Error(t, err)
	assert.False(t, errors.Is(err, domain.ErrNotFound))
}

func TestPostgresStore_ListMock(t *testing.T) {
	store, mock := newMockStore(t)
	defer store.Close()

	body := reportBody(t, sampleReport(domain.UrgencyRoutine))
	mock.ExpectQuery("SELECT (.+) FROM reports (.+) ORDER BY created_at DESC").
		WithArgs("alice", 10, 0).
		WillReturnRows(sqlmock.NewRows(reportColumns).
			AddRow("report-2", "alice", "2026.1", "routine", "low", body, baseTime.Add(time.Hour)).
			AddRow("report-1", "alice", "2026.1", "routine", "low", body, baseTime))

	got, err := store.List(context.Background(), "alice", 10, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "report-2", got[0].ID)
	assert.Equal(t, "report-1", got[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CountAndDeleteMock(t *testing.T) {
	store, mock := newMockStore(t)
	defer store.Close()

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM reports").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))
	mock.ExpectExec("DELETE FROM reports WHERE id = \\$1").
		WithArgs("report-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	count, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), count)

	require.NoError(t, store.Delete(context.Background(), "report-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ImportSkipsExistingMock(t *testing.T) {
	store, mock := newMockStore(t)
	defer store.Close()

	export := ReportExport{
		Version: ExportVersion,
		Count:   2,
		Reports: []*domain.ReportRecord{
			sampleRecord("existing", "alice", baseTime),
			sampleRecord("fresh", "bob", baseTime),
		},
	}
	data, err := json.Marshal(export)
	require.NoError(t, err)

	body := reportBody(t, sampleReport(domain.UrgencySoon))
	mock.ExpectQuery("SELECT (.+) FROM reports WHERE id").
		WithArgs("existing").
		WillReturnRows(sqlmock.NewRows(reportColumns).
			AddRow("existing", "alice", "2026.1", "soon", "intermediate", body, baseTime))
	mock.ExpectQuery("SELECT (.+) FROM reports WHERE id").
		WithArgs("fresh").
		WillReturnRows(sqlmock.NewRows(reportColumns))
	mock.ExpectQuery("INSERT INTO reports").
		WithArgs("fresh", "bob", "2026.1", "soon", "intermediate", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(baseTime))

	imported, skipped, err := store.ImportJSON(context.Background(), bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 1, imported)
	assert.Equal(t, 1, skipped)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// getTestDB returns a database connection for testing.
// Skip test if TEST_DATABASE_URL is not set.
func getTestDB(t *testing.T) *sql.DB {
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping PostgreSQL tests")
	}

	db, err := sql.Open("pgx", dbURL)
	require.NoError(t, err)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS reports (
			id TEXT PRIMARY KEY,
			subject_id TEXT NOT NULL DEFAULT '',
			knowledge_version TEXT NOT NULL DEFAULT '',
			urgency TEXT NOT NULL DEFAULT '',
			risk_tier TEXT NOT NULL DEFAULT '',
			body JSONB NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)
	`)
	require.NoError(t, err)

	_, err = db.Exec("DELETE FROM reports")
	require.NoError(t, err)

	return db
}

func TestPostgresStore_RoundTrip(t *testing.T) {
	db := getTestDB(t)

	store, err := NewPostgresStore(db, testLogger())
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	rec := NewRecord("subject-1", sampleReport(domain.UrgencySoon))
	require.NoError(t, store.Save(ctx, rec))

	got, err := store.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "subject-1", got.SubjectID)
	assert.Equal(t, domain.UrgencySoon, got.Urgency)
	assert.Equal(t, "LDL-C elevated", got.Report.Abnormalities[0].Label)

	list, err := store.List(ctx, "subject-1", 10, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, store.Delete(ctx, rec.ID))
	_, err = store.Get(ctx, rec.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
