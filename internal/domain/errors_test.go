package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestAPIError(t *testing.T) {
	tests := []struct {
		name      string
		code      string
		message   string
		details   string
		requestID string
	}{
		{
			name:      "Empty input",
			code:      ErrCodeEmptyInput,
			message:   "No measurements and no profile",
			details:   "At least one lab panel, vital sign series, symptom or a profile is required",
			requestID: "req-123",
		},
		{
			name:      "Storage error",
			code:      ErrCodeStorage,
			message:   "Report history unavailable",
			details:   "Unable to connect to PostgreSQL",
			requestID: "req-456",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewAPIError(tt.code, tt.message, tt.details, tt.requestID)

			if err.Code != tt.code {
				t.Errorf("Expected code %s, got %s", tt.code, err.Code)
			}
			if err.Message != tt.message {
				t.Errorf("Expected message %s, got %s", tt.message, err.Message)
			}
			if err.RequestID != tt.requestID {
				t.Errorf("Expected requestID %s, got %s", tt.requestID, err.RequestID)
			}
			if time.Since(err.Timestamp) > time.Minute {
				t.Errorf("Timestamp should be recent, got %v", err.Timestamp)
			}

			expectedError := tt.code + ": " + tt.message
			if err.Error() != expectedError {
				t.Errorf("Expected error string %s, got %s", expectedError, err.Error())
			}
		})
	}
}

func TestValidationError(t *testing.T) {
	err := NewValidationError("profile.age", "must be between 0 and 120", 150)

	if err.Field != "profile.age" {
		t.Errorf("Expected field profile.age, got %s", err.Field)
	}
	expected := "validation error for field 'profile.age': must be between 0 and 120"
	if err.Error() != expected {
		t.Errorf("Expected %q, got %q", expected, err.Error())
	}
}

func TestAnnotationFromError(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantKind    AnnotationKind
		wantSubject string
	}{
		{
			name:        "missing knowledge entry",
			err:         &MissingKnowledgeError{Table: "symptom", Key: "hiccups"},
			wantKind:    AnnotationMissingKnowledge,
			wantSubject: "hiccups",
		},
		{
			name:        "malformed measurement",
			err:         &MalformedMeasurementError{Test: TestLDL, Raw: "n/a"},
			wantKind:    AnnotationMalformedMeasurement,
			wantSubject: "ldl",
		},
		{
			name:        "wrapped computation failure",
			err:         fmt.Errorf("risk stage: %w", &ComputationError{Stage: "risk", Reason: "log of zero"}),
			wantKind:    AnnotationComputationFailure,
			wantSubject: "risk",
		},
		{
			name:        "model outside validity range",
			err:         &NotApplicableError{Model: "screening", Reason: "age below 18"},
			wantKind:    AnnotationModelNotApplicable,
			wantSubject: "screening",
		},
		{
			name:     "plain error defaults to computation failure",
			err:      errors.New("boom"),
			wantKind: AnnotationComputationFailure,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := AnnotationFromError("stage", tt.err)
			if a.Kind != tt.wantKind {
				t.Errorf("Expected kind %s, got %s", tt.wantKind, a.Kind)
			}
			if a.Subject != tt.wantSubject {
				t.Errorf("Expected subject %q, got %q", tt.wantSubject, a.Subject)
			}
			if a.Stage != "stage" {
				t.Errorf("Expected stage to be kept, got %q", a.Stage)
			}
		})
	}
}
