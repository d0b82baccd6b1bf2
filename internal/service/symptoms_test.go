package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinical-reasoning-engine/internal/domain"
)

func TestIdentifySymptom(t *testing.T) {
	a := NewSymptomAnalyzer(testKB(t), testLogger())

	tests := []struct {
		description string
		want        string
		found       bool
	}{
		{"Throbbing headache on one side", "headache", true},
		{"Chest pressure when walking uphill", "chest pain", true},
		{"Feeling SHORT OF BREATH at night", "shortness of breath", true},
		{"swollen ankles both legs", "edema", true},
		{"persistent hiccups", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.description, func(t *testing.T) {
			got, ok := a.Identify(tt.description)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractFeatures(t *testing.T) {
	a := NewSymptomAnalyzer(testKB(t), testLogger())

	f := a.ExtractFeatures("Throbbing pain on one side, comes and goes, worse in the morning")

	assert.Equal(t, []string{"unilateral"}, f.Location)
	assert.Equal(t, []string{"throbbing"}, f.Quality)
	assert.Equal(t, []string{"intermittent", "morning"}, f.Timing)
}

func TestParseDurationDays(t *testing.T) {
	tests := []struct {
		input string
		want  int
	}{
		{"10 days", 10},
		{"1 day", 1},
		{"3d", 3},
		{"2 weeks", 14},
		{"1 month", 30},
		{"", 0},
		{"a while", 0},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseDurationDays(tt.input))
		})
	}
}

func TestParseSymptomReport(t *testing.T) {
	a := NewSymptomAnalyzer(testKB(t), testLogger())

	symptoms, errs := a.Parse(domain.SymptomReport{
		Description:        "Severe headache at the back of the head",
		Duration:           "10 days",
		AssociatedSymptoms: []string{"nausea", "headache", "hiccups", "vomiting"},
	})

	require.Len(t, symptoms, 2)
	assert.Equal(t, "headache", symptoms[0].Name)
	assert.Equal(t, domain.SeveritySevere, symptoms[0].Severity)
	assert.Equal(t, 10, symptoms[0].DurationDays)
	assert.Equal(t, []string{"occipital"}, symptoms[0].Features.Location)
	assert.False(t, symptoms[0].Associated)

	assert.Equal(t, "nausea", symptoms[1].Name)
	assert.True(t, symptoms[1].Associated)

	require.Len(t, errs, 1)
	var missing *domain.MissingKnowledgeError
	require.ErrorAs(t, errs[0], &missing)
	assert.Equal(t, "hiccups", missing.Key)
}

func TestSeverityAssessment(t *testing.T) {
	a := NewSymptomAnalyzer(testKB(t), testLogger())

	tests := []struct {
		name   string
		report domain.SymptomReport
		want   domain.SeverityTier
	}{
		{"explicit severity wins", domain.SymptomReport{Description: "unbearable headache", Severity: "Mild"}, domain.SeverityMild},
		{"severe keyword", domain.SymptomReport{Description: "unbearable headache"}, domain.SeveritySevere},
		{"mild keyword", domain.SymptomReport{Description: "slight headache"}, domain.SeverityMild},
		{"default moderate", domain.SymptomReport{Description: "headache"}, domain.SeverityModerate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			symptoms, _ := a.Parse(tt.report)
			require.NotEmpty(t, symptoms)
			assert.Equal(t, tt.want, symptoms[0].Severity)
		})
	}
}

func TestAnalyzeSymptomRedFlags(t *testing.T) {
	a := NewSymptomAnalyzer(testKB(t), testLogger())

	analysis, err := a.Analyze(domain.Symptom{Name: "headache", Severity: domain.SeveritySevere, DurationDays: 10})
	require.NoError(t, err)

	assert.Equal(t, "neurological", analysis.Category)
	assert.Contains(t, analysis.RedFlags, "severe symptom intensity")
	assert.Contains(t, analysis.RedFlags, "symptom persisting longer than 7 days")
	assert.Contains(t, analysis.RedFlags, "sudden onset worst headache of life")
	assert.Contains(t, analysis.RecommendedTests, "neurological examination")

	mild, err := a.Analyze(domain.Symptom{Name: "headache", Severity: domain.SeverityMild, DurationDays: 7})
	require.NoError(t, err)
	assert.NotContains(t, mild.RedFlags, "severe symptom intensity")
	assert.NotContains(t, mild.RedFlags, "symptom persisting longer than 7 days")

	_, err = a.Analyze(domain.Symptom{Name: "hiccups"})
	var missing *domain.MissingKnowledgeError
	assert.ErrorAs(t, err, &missing)
}
