// Package history persists analysis reports so they can be listed per subject, exported and
// re-imported. SQLite backs the CLI, PostgreSQL backs the server and Redis fronts either one.
package history

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/clinical-reasoning-engine/internal/domain"
)

// ExportVersion is the version written into exports.
const ExportVersion = "1.0"

// maxExportLimit is the maximum number of reports exported at once.
const maxExportLimit = 1000000

// ReportExport represents the JSON export format.
type ReportExport struct {
	Version    string                 `json:"version"`
	ExportedAt time.Time              `json:"exported_at"`
	Count      int                    `json:"count"`
	Reports    []*domain.ReportRecord `json:"reports"`
}

// NewRecord wraps a finished report for storage. The urgency and risk tier are copied out
// of the report so stores can index them without decoding the body.
func NewRecord(subjectID string, report *domain.Report) *domain.ReportRecord {
	rec := &domain.ReportRecord{
		ID:        uuid.NewString(),
		SubjectID: subjectID,
		Report:    report,
		CreatedAt: time.Now().UTC(),
	}
	if report != nil {
		rec.KnowledgeVersion = report.KnowledgeVersion
		rec.Urgency = report.Recommendations.Urgency
		rec.RiskTier = domain.RiskTierUnknown
		if report.RiskScore != nil {
			rec.RiskTier = report.RiskScore.Tier
		}
	}
	return rec
}

// prepare fills the identifier and timestamp of a record about to be saved.
func prepare(rec *domain.ReportRecord) error {
	if rec == nil || rec.Report == nil {
		return domain.NewValidationError("report", "report is required", nil)
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	return nil
}

// scanner is an interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanRecord scans a row of id, subject_id, knowledge_version, urgency, risk_tier, body,
// created_at into a record.
func scanRecord(s scanner) (*domain.ReportRecord, error) {
	rec := &domain.ReportRecord{}
	var urgency, tier string
	var body []byte

	if err := s.Scan(&rec.ID, &rec.SubjectID, &rec.KnowledgeVersion, &urgency, &tier, &body, &rec.CreatedAt); err != nil {
		return nil, err
	}
	rec.Urgency = domain.Urgency(urgency)
	rec.RiskTier = domain.RiskTier(tier)

	rec.Report = &domain.Report{}
	if err := json.Unmarshal(body, rec.Report); err != nil {
		return nil, fmt.Errorf("failed to decode report %s: %w", rec.ID, err)
	}
	return rec, nil
}

func encodeReport(report *domain.Report) ([]byte, error) {
	body, err := json.Marshal(report)
	if err != nil {
		return nil, fmt.Errorf("failed to encode report: %w", err)
	}
	return body, nil
}

func notFound(id string) error {
	return fmt.Errorf("report %s: %w", id, domain.ErrNotFound)
}

func writeExport(w io.Writer, all []*domain.ReportRecord) error {
	if all == nil {
		all = []*domain.ReportRecord{}
	}
	export := &ReportExport{
		Version:    ExportVersion,
		ExportedAt: time.Now().UTC(),
		Count:      len(all),
		Reports:    all,
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(export)
}

func readExport(r io.Reader) (*ReportExport, error) {
	var export ReportExport
	if err := json.NewDecoder(r).Decode(&export); err != nil {
		return nil, fmt.Errorf("failed to decode JSON: %w", err)
	}
	return &export, nil
}
