package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/clinical-reasoning-engine/internal/domain"
	"github.com/clinical-reasoning-engine/internal/history"
	"github.com/clinical-reasoning-engine/internal/middleware"
	"github.com/clinical-reasoning-engine/internal/service"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// AnalyzeResponse is returned by POST /api/v1/analyze.
type AnalyzeResponse struct {
	ReportID  string         `json:"report_id"`
	Persisted bool           `json:"persisted"`
	Report    *domain.Report `json:"report"`
}

// RiskResponse is returned by POST /api/v1/risk.
type RiskResponse struct {
	RiskScore   *domain.RiskScore   `json:"risk_score"`
	Annotations []domain.Annotation `json:"annotations"`
}

// ScreeningRequest is the body of POST /api/v1/screening.
type ScreeningRequest struct {
	ScreeningType string                `json:"screeningType" binding:"required"`
	Profile       domain.PatientProfile `json:"profile"`
	LastDate      *domain.Date          `json:"lastDate,omitempty"`
}

// ReportList is returned by GET /api/v1/reports.
type ReportList struct {
	Reports []*domain.ReportRecord `json:"reports"`
	Limit   int                    `json:"limit"`
	Offset  int                    `json:"offset"`
}

func (s *Server) handleHealth(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{
		"status":            "healthy",
		"timestamp":         time.Now().UTC(),
		"knowledge_version": s.config.Knowledge.DefaultVersion,
		"history":           s.deps.Store != nil,
	}

	if s.deps.Store != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if _, err := s.deps.Store.Count(ctx); err != nil {
			s.logger.WithError(err).Warn("Report store health check failed")
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}

	c.JSON(status, body)
}

func (s *Server) handleAnalyze(c *gin.Context) {
	var data domain.HealthData
	if err := c.ShouldBindJSON(&data); err != nil {
		s.abortWithError(c, http.StatusBadRequest, domain.ErrCodeInvalidInput, "Invalid health data", err)
		return
	}

	engine, ok := s.engineFor(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	report, err := engine.Analyze(ctx, &data)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrEmptyInput):
			s.abortWithError(c, http.StatusUnprocessableEntity, domain.ErrCodeEmptyInput, "Nothing to analyze", err)
		case ctx.Err() != nil:
			// RequestTimeout answers once the handler returns
		default:
			s.abortWithError(c, http.StatusInternalServerError, domain.ErrCodeInternalServer, "Analysis failed", err)
		}
		return
	}

	rec := history.NewRecord(c.Query("subject_id"), report)
	persisted := false
	if s.deps.Store != nil {
		if err := s.deps.Store.Save(ctx, rec); err != nil {
			s.abortWithError(c, http.StatusInternalServerError, domain.ErrCodeStorage, "Failed to store report", err)
			return
		}
		persisted = true
	}

	// Fan-out is best effort: the caller already has the report
	if err := s.deps.Publisher.Publish(ctx, rec); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"report_id":      rec.ID,
			"correlation_id": c.GetString(middleware.CorrelationIDKey),
		}).Warn("Report publication failed")
	}

	c.JSON(http.StatusOK, AnalyzeResponse{ReportID: rec.ID, Persisted: persisted, Report: report})
}

func (s *Server) handleRisk(c *gin.Context) {
	var in domain.RiskInput
	if err := c.ShouldBindJSON(&in); err != nil {
		s.abortWithError(c, http.StatusBadRequest, domain.ErrCodeInvalidInput, "Invalid risk input", err)
		return
	}

	engine, ok := s.engineFor(c)
	if !ok {
		return
	}

	score, annotations := engine.ScoreRisk(in)
	c.JSON(http.StatusOK, RiskResponse{RiskScore: score, Annotations: annotations})
}

func (s *Server) handleScreening(c *gin.Context) {
	var req ScreeningRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.abortWithError(c, http.StatusBadRequest, domain.ErrCodeInvalidInput, "Invalid screening request", err)
		return
	}

	engine, ok := s.engineFor(c)
	if !ok {
		return
	}

	var lastDate *time.Time
	if req.LastDate != nil && !req.LastDate.IsZero() {
		t := req.LastDate.Time
		lastDate = &t
	}

	schedule, err := engine.ScheduleScreening(req.ScreeningType, req.Profile, lastDate)
	if err != nil {
		var notApplicable *domain.NotApplicableError
		switch {
		case errors.Is(err, domain.ErrUnknownScreening):
			s.abortWithError(c, http.StatusNotFound, domain.ErrCodeNotFound, "Unknown screening type", err)
		case errors.As(err, &notApplicable):
			s.abortWithError(c, http.StatusUnprocessableEntity, domain.ErrCodeInvalidInput, "Screening not applicable", err)
		default:
			s.abortWithError(c, http.StatusInternalServerError, domain.ErrCodeInternalServer, "Screening failed", err)
		}
		return
	}

	c.JSON(http.StatusOK, schedule)
}

func (s *Server) handleQuality(c *gin.Context) {
	var data domain.HealthData
	if err := c.ShouldBindJSON(&data); err != nil {
		s.abortWithError(c, http.StatusBadRequest, domain.ErrCodeInvalidInput, "Invalid health data", err)
		return
	}

	engine, ok := s.engineFor(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, gin.H{"quality_metrics": engine.EvaluateQuality(&data)})
}

func (s *Server) handleKnowledgeVersions(c *gin.Context) {
	versions, err := s.deps.Knowledge.Versions()
	if err != nil {
		s.abortWithError(c, http.StatusInternalServerError, domain.ErrCodeInternalServer, "Failed to list knowledge versions", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"versions": versions})
}

func (s *Server) handleGetReport(c *gin.Context) {
	if !s.requireStore(c) {
		return
	}

	rec, err := s.deps.Store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.abortWithError(c, http.StatusNotFound, domain.ErrCodeNotFound, "Report not found", err)
			return
		}
		s.abortWithError(c, http.StatusInternalServerError, domain.ErrCodeStorage, "Failed to load report", err)
		return
	}

	c.JSON(http.StatusOK, rec)
}

func (s *Server) handleListReports(c *gin.Context) {
	if !s.requireStore(c) {
		return
	}

	limit, err := queryInt(c, "limit", defaultPageSize)
	if err != nil || limit <= 0 || limit > maxPageSize {
		s.abortWithError(c, http.StatusBadRequest, domain.ErrCodeInvalidInput, "limit must be between 1 and 100", err)
		return
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil || offset < 0 {
		s.abortWithError(c, http.StatusBadRequest, domain.ErrCodeInvalidInput, "offset must not be negative", err)
		return
	}

	records, err := s.deps.Store.List(c.Request.Context(), c.Query("subject_id"), limit, offset)
	if err != nil {
		s.abortWithError(c, http.StatusInternalServerError, domain.ErrCodeStorage, "Failed to list reports", err)
		return
	}

	c.JSON(http.StatusOK, ReportList{Reports: records, Limit: limit, Offset: offset})
}

// engineFor resolves the engine for the knowledge_version query parameter.
func (s *Server) engineFor(c *gin.Context) (*service.ReasoningEngine, bool) {
	e, err := s.engine(c.Query("knowledge_version"))
	if err != nil {
		var verr *domain.ValidationError
		switch {
		case errors.Is(err, domain.ErrNotFound):
			s.abortWithError(c, http.StatusNotFound, domain.ErrCodeNotFound, "Unknown knowledge version", err)
		case errors.As(err, &verr):
			s.abortWithError(c, http.StatusBadRequest, domain.ErrCodeInvalidInput, "Invalid knowledge version", err)
		default:
			s.abortWithError(c, http.StatusInternalServerError, domain.ErrCodeInternalServer, "Failed to load knowledge base", err)
		}
		return nil, false
	}
	return e, true
}

func (s *Server) requireStore(c *gin.Context) bool {
	if s.deps.Store != nil {
		return true
	}
	s.abortWithError(c, http.StatusNotFound, domain.ErrCodeNotFound, "Report history is disabled", nil)
	return false
}

func (s *Server) abortWithError(c *gin.Context, status int, code, message string, err error) {
	details := ""
	if err != nil {
		details = err.Error()
	}
	correlationID := c.GetString(middleware.CorrelationIDKey)

	entry := s.logger.WithFields(logrus.Fields{
		"code":           code,
		"status":         status,
		"correlation_id": correlationID,
	})
	if err != nil {
		entry = entry.WithError(err)
	}
	if status >= http.StatusInternalServerError {
		entry.Error(message)
	} else {
		entry.Debug(message)
	}

	c.AbortWithStatusJSON(status, domain.NewAPIError(code, message, details, correlationID))
}

func queryInt(c *gin.Context, key string, fallback int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}
