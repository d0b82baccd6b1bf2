package domain

import (
	"context"
	"io"
	"time"
)

// ConfigManager defines the interface for configuration management
type ConfigManager interface {
	GetConfig() *Config
	GetDatabaseConfig() *DatabaseConfig
	GetServerConfig() *ServerConfig
	Reload() error
	Validate() error
	GetDatabaseURL() string
	GetRedisConnectionString() string
	IsProduction() bool
	IsDevelopment() bool
}

// ReportRecord is a persisted analysis report.
type ReportRecord struct {
	ID               string    `json:"id"`
	SubjectID        string    `json:"subject_id"`
	KnowledgeVersion string    `json:"knowledge_version"`
	Urgency          Urgency   `json:"urgency"`
	RiskTier         RiskTier  `json:"risk_tier"`
	Report           *Report   `json:"report"`
	CreatedAt        time.Time `json:"created_at"`
}

// ReportStore persists analysis reports.
type ReportStore interface {
	// Save inserts or replaces a record. An empty ID is assigned and a zero CreatedAt is set.
	Save(ctx context.Context, rec *ReportRecord) error

	// Get returns ErrNotFound (wrapped) when no record has the id.
	Get(ctx context.Context, id string) (*ReportRecord, error)

	// List returns records newest first. An empty subjectID lists every subject.
	List(ctx context.Context, subjectID string, limit, offset int) ([]*ReportRecord, error)

	Count(ctx context.Context) (int64, error)
	Delete(ctx context.Context, id string) error

	// ExportJSON writes every record as one JSON document.
	ExportJSON(ctx context.Context, w io.Writer) error

	// ImportJSON reads an export and skips records whose id already exists.
	ImportJSON(ctx context.Context, r io.Reader) (imported int, skipped int, err error)

	Close() error
}

// ReportPublisher hands finished reports to downstream collaborators.
type ReportPublisher interface {
	Publish(ctx context.Context, rec *ReportRecord) error
	Close() error
}
