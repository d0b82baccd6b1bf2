package domain

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors surfaced to callers.
var (
	// ErrEmptyInput is the only error the reasoning core returns: no measurements and no profile.
	ErrEmptyInput       = errors.New("empty input: no measurements and no patient profile")
	ErrNotFound         = errors.New("not found")
	ErrUnknownScreening = errors.New("unknown screening type")
)

// APIError represents a standardized error response
type APIError struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error codes for different failure scenarios
const (
	ErrCodeInvalidInput   = "INVALID_INPUT"
	ErrCodeEmptyInput     = "EMPTY_INPUT"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeStorage        = "STORAGE_ERROR"
	ErrCodeRateLimit      = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternalServer = "INTERNAL_SERVER_ERROR"
)

// NewAPIError creates a new APIError with timestamp
func NewAPIError(code, message, details, requestID string) *APIError {
	return &APIError{
		Code:      code,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
		RequestID: requestID,
	}
}

// ValidationError represents input validation errors
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}

// AnnotationKind classifies a degraded-but-not-fatal condition recorded on a report.
type AnnotationKind string

const (
	AnnotationMissingKnowledge     AnnotationKind = "missing_knowledge_entry"
	AnnotationMalformedMeasurement AnnotationKind = "malformed_measurement"
	AnnotationModelNotApplicable   AnnotationKind = "model_not_applicable"
	AnnotationComputationFailure   AnnotationKind = "computation_failure"
)

// Annotation marks a partial result. Stage names the pipeline component that produced it.
type Annotation struct {
	Stage   string         `json:"stage"`
	Kind    AnnotationKind `json:"kind"`
	Subject string         `json:"subject"`
	Message string         `json:"message"`
}

// MissingKnowledgeError reports an unknown knowledge-base key.
type MissingKnowledgeError struct {
	Table string
	Key   string
}

func (e *MissingKnowledgeError) Error() string {
	return fmt.Sprintf("no %s entry for %q", e.Table, e.Key)
}

// MalformedMeasurementError reports a non-numeric or out-of-domain value.
type MalformedMeasurementError struct {
	Test TestName
	Raw  string
}

func (e *MalformedMeasurementError) Error() string {
	return fmt.Sprintf("malformed measurement %s: %q", e.Test, e.Raw)
}

// NotApplicableError reports input outside a model's validity range.
type NotApplicableError struct {
	Model  string
	Reason string
}

func (e *NotApplicableError) Error() string {
	return fmt.Sprintf("%s not applicable: %s", e.Model, e.Reason)
}

// ComputationError reports an arithmetic failure caught inside a stage.
type ComputationError struct {
	Stage  string
	Reason string
}

func (e *ComputationError) Error() string {
	return fmt.Sprintf("%s computation failed: %s", e.Stage, e.Reason)
}

// AnnotationFromError converts a stage error into a report annotation.
func AnnotationFromError(stage string, err error) Annotation {
	a := Annotation{Stage: stage, Kind: AnnotationComputationFailure, Message: err.Error()}

	var missing *MissingKnowledgeError
	var malformed *MalformedMeasurementError
	var computation *ComputationError
	var notApplicable *NotApplicableError
	switch {
	case errors.As(err, &missing):
		a.Kind = AnnotationMissingKnowledge
		a.Subject = missing.Key
	case errors.As(err, &malformed):
		a.Kind = AnnotationMalformedMeasurement
		a.Subject = string(malformed.Test)
	case errors.As(err, &notApplicable):
		a.Kind = AnnotationModelNotApplicable
		a.Subject = notApplicable.Model
	case errors.As(err, &computation):
		a.Subject = computation.Stage
	}
	return a
}
