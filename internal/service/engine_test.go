package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinical-reasoning-engine/internal/domain"
)

var engineNow = time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

func testEngine(t *testing.T) *ReasoningEngine {
	t.Helper()
	return NewReasoningEngine(testKB(t), testLogger(), WithClock(func() time.Time { return engineNow }))
}

func smokerHealthData() *domain.HealthData {
	return &domain.HealthData{
		Profile: &domain.PatientProfile{Age: 45, Gender: domain.GenderMale, Smoker: true},
		LabResults: domain.LabResults{
			BloodPressure: &domain.BloodPressurePanel{Systolic: domain.Num(145), Diastolic: domain.Num(95)},
			Lipids: &domain.LipidPanel{
				TotalCholesterol: domain.Num(240),
				HDL:              domain.Num(38),
				LDL:              domain.ParseLabValue("n/a"),
			},
		},
		SymptomHistory: []domain.SymptomReport{{
			Description:        "Throbbing headache at the back of the head",
			Duration:           "3 days",
			AssociatedSymptoms: []string{"hiccups"},
		}},
	}
}

func annotationKinds(report *domain.Report) map[domain.AnnotationKind]int {
	out := map[domain.AnnotationKind]int{}
	for _, a := range report.Annotations {
		out[a.Kind]++
	}
	return out
}

func TestAnalyzeRejectsEmptyInput(t *testing.T) {
	e := testEngine(t)

	_, err := e.Analyze(context.Background(), nil)
	assert.ErrorIs(t, err, domain.ErrEmptyInput)

	_, err = e.Analyze(context.Background(), &domain.HealthData{})
	assert.ErrorIs(t, err, domain.ErrEmptyInput)

	_, err = e.Analyze(context.Background(), &domain.HealthData{
		VitalSigns: domain.VitalSigns{Weight: []domain.Reading{{Date: domain.NewDate(engineNow), Value: 82}}},
	})
	assert.ErrorIs(t, err, domain.ErrEmptyInput)

	report, err := e.Analyze(context.Background(), &domain.HealthData{
		Trends: map[string][]domain.Reading{"hba1c": {{Date: domain.NewDate(engineNow), Value: 7.4}}},
	})
	require.NoError(t, err)
	require.Len(t, report.QualityMetrics, 1)
	assert.Equal(t, ConditionDiabetes, report.QualityMetrics[0].Condition)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.Analyze(ctx, smokerHealthData())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAnalyzeFullReport(t *testing.T) {
	e := testEngine(t)

	report, err := e.Analyze(context.Background(), smokerHealthData())
	require.NoError(t, err)

	assert.Equal(t, engineNow, report.GeneratedAt)
	assert.Equal(t, e.KnowledgeVersion(), report.KnowledgeVersion)

	labels := make([]string, len(report.Abnormalities))
	for i, f := range report.Abnormalities {
		labels[i] = f.Label
	}
	assert.Equal(t, []string{"blood pressure elevated", "HDL-C low", "total cholesterol elevated"}, labels)

	require.Len(t, report.Symptoms, 1)
	assert.Equal(t, "headache", report.Symptoms[0].Symptom.Name)
	assert.NotEmpty(t, report.Diagnoses)

	kinds := annotationKinds(report)
	assert.Equal(t, 1, kinds[domain.AnnotationMalformedMeasurement])
	assert.GreaterOrEqual(t, kinds[domain.AnnotationMissingKnowledge], 1)

	require.NotNil(t, report.RiskScore)
	assert.True(t, report.RiskScore.Applicable)
	assert.NotNil(t, report.RiskScore.Percentage)

	assert.NotEmpty(t, report.ScreeningSchedule)
	require.NotNil(t, report.Eligibility)
	assert.Nil(t, report.Eligibility.Lung)
	assert.Empty(t, report.QualityMetrics)

	assert.Equal(t, domain.UrgencyUrgent, report.Recommendations.Urgency)
	assert.Contains(t, report.Recommendations.FollowUp, "See a doctor within 1 week")
	assert.True(t, strings.HasPrefix(report.Summary, "3 abnormal results:\n"))
}

func TestAnalyzeWithoutProfile(t *testing.T) {
	e := testEngine(t)

	report, err := e.Analyze(context.Background(), &domain.HealthData{
		LabResults: domain.LabResults{
			LiverFunction: &domain.LiverPanel{ALT: domain.Num(120), AST: domain.Num(80)},
		},
	})
	require.NoError(t, err)

	assert.Nil(t, report.RiskScore)
	assert.Nil(t, report.Eligibility)
	assert.NotNil(t, report.ScreeningSchedule)
	assert.Empty(t, report.ScreeningSchedule)
	require.NotNil(t, findPattern(report.Patterns, domain.PatternHepatocellularInjury))
	assert.Contains(t, report.Recommendations.FurtherTesting, "Liver ultrasound")
}

func TestAnalyzeRiskNeedsLipids(t *testing.T) {
	e := testEngine(t)

	report, err := e.Analyze(context.Background(), &domain.HealthData{
		Profile: &domain.PatientProfile{Age: 50, Gender: domain.GenderFemale},
		LabResults: domain.LabResults{
			BloodPressure: &domain.BloodPressurePanel{Systolic: domain.Num(118), Diastolic: domain.Num(76)},
		},
	})
	require.NoError(t, err)

	assert.Nil(t, report.RiskScore)
	assert.Equal(t, 1, annotationKinds(report)[domain.AnnotationModelNotApplicable])
	assert.Empty(t, report.Abnormalities)
	assert.Equal(t, "All results are within the normal range.", report.Summary)
	assert.Equal(t, domain.UrgencyRoutine, report.Recommendations.Urgency)
}

func TestAnalyzeUsesAsOfDate(t *testing.T) {
	e := testEngine(t)
	asOf := time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC)

	data := smokerHealthData()
	data.AsOf = domain.NewDate(asOf)
	data.Screenings = []domain.ScreeningRecord{
		{Type: "cardiovascular.lipids", LastDate: domain.NewDate(asOf.AddDate(-4, 0, 0))},
	}

	report, err := e.Analyze(context.Background(), data)
	require.NoError(t, err)
	assert.Equal(t, asOf, report.GeneratedAt)

	for _, s := range report.ScreeningSchedule {
		if s.ScreeningType != "cardiovascular.lipids" {
			continue
		}
		require.NotNil(t, s.DaysUntilDue)
		assert.Equal(t, 3.0, s.AdjustedIntervalYears)
		assert.Equal(t, -365, *s.DaysUntilDue)
		assert.Equal(t, domain.ScreeningOverdue, s.Urgency)
	}
}

func TestAnalyzeIsSafeForConcurrentUse(t *testing.T) {
	e := testEngine(t)
	want, err := e.Analyze(context.Background(), smokerHealthData())
	require.NoError(t, err)

	var wg sync.WaitGroup
	reports := make([]*domain.Report, 8)
	for i := range reports {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			reports[i], _ = e.Analyze(context.Background(), smokerHealthData())
		}(i)
	}
	wg.Wait()

	for _, got := range reports {
		assert.Equal(t, want, got)
	}
}

func TestEngineEntryPoints(t *testing.T) {
	e := testEngine(t)

	score, annotations := e.ScoreRisk(domain.RiskInput{Age: 30, SystolicBP: 120, TotalCholesterol: 5, HDL: 1.2})
	assert.False(t, score.Applicable)
	require.Len(t, annotations, 1)
	assert.Equal(t, domain.AnnotationModelNotApplicable, annotations[0].Kind)

	last := engineNow.AddDate(0, 0, -100)
	schedule, err := e.ScheduleScreening("cardiovascular.blood_pressure", domain.PatientProfile{Age: 50}, &last)
	require.NoError(t, err)
	require.NotNil(t, schedule.DaysUntilDue)
	assert.Equal(t, domain.ScreeningRoutine, schedule.Urgency)

	metrics := e.EvaluateQuality(&domain.HealthData{
		VitalSigns: domain.VitalSigns{HbA1c: []domain.Reading{{Date: domain.NewDate(engineNow), Value: 6.1}}},
	})
	require.Len(t, metrics, 1)
	assert.Equal(t, HbA1cPrediabetes, metrics[0].Classification)
}
