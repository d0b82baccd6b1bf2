package service

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinical-reasoning-engine/internal/domain"
	"github.com/clinical-reasoning-engine/internal/knowledge"
)

const knowledgeDir = "../knowledge/data/default"

// kbWithParameters loads the default tables from disk and lets the test rewrite parameters.json.
func kbWithParameters(t *testing.T, fn func(*knowledge.Parameters)) *knowledge.KnowledgeBase {
	t.Helper()
	entries, err := os.ReadDir(knowledgeDir)
	require.NoError(t, err)

	fsys := fstest.MapFS{}
	for _, e := range entries {
		data, err := os.ReadFile(filepath.Join(knowledgeDir, e.Name()))
		require.NoError(t, err)
		fsys[e.Name()] = &fstest.MapFile{Data: data}
	}

	var params knowledge.Parameters
	require.NoError(t, json.Unmarshal(fsys["parameters.json"].Data, &params))
	fn(&params)
	data, err := json.Marshal(params)
	require.NoError(t, err)
	fsys["parameters.json"] = &fstest.MapFile{Data: data}

	kb, err := knowledge.Load(fsys, "test")
	require.NoError(t, err)
	return kb
}

func scenarioC() domain.RiskInput {
	return domain.RiskInput{
		Age:              45,
		Gender:           domain.GenderMale,
		SystolicBP:       142,
		TotalCholesterol: 220,
		HDL:              38,
		Smoker:           true,
	}
}

func findIntervention(score *domain.RiskScore, name string) *domain.InterventionEffect {
	for i := range score.Interventions {
		if score.Interventions[i].Name == name {
			return &score.Interventions[i]
		}
	}
	return nil
}

func TestRiskScoreSmokerScenario(t *testing.T) {
	e := NewRiskScoringEngine(testKB(t), testLogger())

	score, errs := e.Score(scenarioC())
	require.Empty(t, errs)
	require.True(t, score.Applicable)
	require.NotNil(t, score.Percentage)

	assert.False(t, score.ComputationFailed)
	assert.Equal(t, TierFor(*score.Percentage), score.Tier)
	assert.Equal(t, 10, score.HorizonYears)

	smoking := findIntervention(score, InterventionSmokingCessation)
	require.NotNil(t, smoking)
	assert.Equal(t, 0.5, smoking.RelativeReduction)
	assert.True(t, smoking.Approximate)

	assert.NotNil(t, findIntervention(score, InterventionBPControl))
	assert.NotNil(t, findIntervention(score, InterventionStatin))
	assert.NotNil(t, findIntervention(score, InterventionLifestyle))
	for _, iv := range score.Interventions {
		assert.LessOrEqual(t, iv.NewRisk, *score.Percentage, iv.Name)
	}

	assert.Contains(t, score.Advice.Priority, "Smoking cessation is the single most important intervention")
}

func TestRiskScoreCalibratedModel(t *testing.T) {
	kb := kbWithParameters(t, func(p *knowledge.Parameters) {
		p.RiskModel.MeanSum = -18
	})
	e := NewRiskScoringEngine(kb, testLogger())

	score, errs := e.Score(scenarioC())
	require.Empty(t, errs)
	require.NotNil(t, score.Percentage)

	assert.InDelta(t, 22.0, *score.Percentage, 1e-9)
	assert.Equal(t, domain.RiskTierVeryHigh, score.Tier)
	assert.Contains(t, score.Advice.Priority, "See a cardiologist soon")
	assert.Contains(t, score.Advice.Pharmacological, "Antihypertensive therapy (ACE inhibitor or ARB)")

	smoking := findIntervention(score, InterventionSmokingCessation)
	require.NotNil(t, smoking)
	assert.InDelta(t, 11.0, smoking.RiskReduction, 1e-9)
	assert.InDelta(t, 11.0, smoking.NewRisk, 1e-9)

	bp := findIntervention(score, InterventionBPControl)
	require.NotNil(t, bp)
	assert.InDelta(t, 0.036, bp.RelativeReduction, 1e-9)
}

func TestRiskScoreOutsideAgeRange(t *testing.T) {
	e := NewRiskScoringEngine(testKB(t), testLogger())

	for _, age := range []float64{25, 39, 80} {
		in := scenarioC()
		in.Age = age

		score, errs := e.Score(in)
		assert.False(t, score.Applicable, "age %v", age)
		assert.Nil(t, score.Percentage)
		assert.Equal(t, domain.RiskTierUnknown, score.Tier)
		assert.NotEmpty(t, score.Reason)
		require.Len(t, errs, 1)
		var notApplicable *domain.NotApplicableError
		assert.ErrorAs(t, errs[0], &notApplicable)
	}

	for _, age := range []float64{40, 79} {
		in := scenarioC()
		in.Age = age
		score, errs := e.Score(in)
		assert.Empty(t, errs, "age %v", age)
		assert.True(t, score.Applicable)
	}
}

func TestRiskScoreComputationFailure(t *testing.T) {
	e := NewRiskScoringEngine(testKB(t), testLogger())

	tests := []struct {
		name   string
		mutate func(*domain.RiskInput)
	}{
		{"zero HDL", func(in *domain.RiskInput) { in.HDL = 0 }},
		{"negative systolic", func(in *domain.RiskInput) { in.SystolicBP = -120 }},
		{"NaN cholesterol", func(in *domain.RiskInput) { in.TotalCholesterol = math.NaN() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := scenarioC()
			tt.mutate(&in)

			score, errs := e.Score(in)
			assert.True(t, score.ComputationFailed)
			assert.Nil(t, score.Percentage)
			assert.Equal(t, domain.RiskTierUnknown, score.Tier)
			require.Len(t, errs, 1)
			var computation *domain.ComputationError
			assert.ErrorAs(t, errs[0], &computation)
		})
	}
}

func TestRiskFactors(t *testing.T) {
	e := NewRiskScoringEngine(testKB(t), testLogger())

	in := scenarioC()
	in.Age = 60
	in.FamilyHistory = true
	in.Diabetic = true
	score, _ := e.Score(in)

	names := func(factors []domain.RiskFactor) []string {
		out := make([]string, len(factors))
		for i, f := range factors {
			out[i] = f.Name
		}
		return out
	}
	assert.Equal(t, []string{"age 55 or older", "male sex", "family history of cardiovascular disease"},
		names(score.NonModifiableFactors))
	assert.Equal(t, []string{"hypertension", "high cholesterol", "low HDL cholesterol", "smoking", "diabetes"},
		names(score.ModifiableFactors))
	assert.Equal(t, "5.69 mmol/L", score.ModifiableFactors[1].Value)
}

func TestTierForPartitionsTheAxis(t *testing.T) {
	tests := []struct {
		pct  float64
		want domain.RiskTier
	}{
		{0, domain.RiskTierLow},
		{4.9, domain.RiskTierLow},
		{5, domain.RiskTierBorderline},
		{7.4, domain.RiskTierBorderline},
		{7.5, domain.RiskTierIntermediate},
		{9.9, domain.RiskTierIntermediate},
		{10, domain.RiskTierHigh},
		{19.9, domain.RiskTierHigh},
		{20, domain.RiskTierVeryHigh},
		{100, domain.RiskTierVeryHigh},
		{math.NaN(), domain.RiskTierUnknown},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, TierFor(tt.pct), "pct %v", tt.pct)
	}

	order := []domain.RiskTier{
		domain.RiskTierLow, domain.RiskTierBorderline, domain.RiskTierIntermediate,
		domain.RiskTierHigh, domain.RiskTierVeryHigh,
	}
	rank := func(tier domain.RiskTier) int {
		for i, o := range order {
			if o == tier {
				return i
			}
		}
		return -1
	}
	prev := 0
	for pct := 0.0; pct <= 100; pct += 0.1 {
		r := rank(TierFor(round(pct, 1)))
		require.GreaterOrEqual(t, r, prev, "pct %v", pct)
		prev = r
	}
}

func TestRiskInputFrom(t *testing.T) {
	profile := domain.PatientProfile{Age: 50, Gender: domain.GenderFemale, Comorbidities: []string{"diabetes"}}

	in, ok := RiskInputFrom(profile, measurements(map[domain.TestName]float64{
		domain.TestSystolic:         130,
		domain.TestTotalCholesterol: 5.0,
		domain.TestHDL:              1.3,
	}))
	require.True(t, ok)
	assert.Equal(t, 50.0, in.Age)
	assert.True(t, in.Diabetic)
	assert.Equal(t, 130.0, in.SystolicBP)

	_, ok = RiskInputFrom(profile, measurements(map[domain.TestName]float64{domain.TestSystolic: 130}))
	assert.False(t, ok)
}
