package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinical-reasoning-engine/internal/domain"
)

func recognize(t *testing.T, values map[domain.TestName]float64, gender domain.Gender) ([]domain.Pattern, []domain.Annotation) {
	t.Helper()
	kb := testKB(t)
	set := measurements(values)
	findings := NewAbnormalityClassifier(kb, testLogger()).Classify(set, domain.PatientProfile{Gender: gender})
	return NewPatternRecognizer(kb, testLogger()).Recognize(findings, set)
}

func findPattern(patterns []domain.Pattern, kind domain.PatternKind) *domain.Pattern {
	for i := range patterns {
		if patterns[i].Kind == kind {
			return &patterns[i]
		}
	}
	return nil
}

func TestHepatocellularInjury(t *testing.T) {
	tests := []struct {
		name         string
		alt, ast     float64
		wantEtiology string
		wantRatio    float64
	}{
		{"ALT dominant", 120, 80, EtiologyViralFattyLiver, 0.667},
		{"AST dominant with marked ALT", 300, 400, EtiologyAlcoholicCirrhotic, 1.333},
		{"AST dominant with modest ALT", 100, 150, "", 1.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			patterns, annotations := recognize(t, map[domain.TestName]float64{
				domain.TestALT: tt.alt,
				domain.TestAST: tt.ast,
			}, "")

			assert.Empty(t, annotations)
			p := findPattern(patterns, domain.PatternHepatocellularInjury)
			require.NotNil(t, p)
			assert.Equal(t, "hepatocellular injury", p.Name)
			assert.Equal(t, tt.wantEtiology, p.Etiology)
			require.NotNil(t, p.Ratio)
			assert.InDelta(t, tt.wantRatio, *p.Ratio, 1e-9)
		})
	}
}

func TestHepatocellularInjuryZeroALT(t *testing.T) {
	r := NewPatternRecognizer(testKB(t), testLogger())
	findings := []domain.AbnormalityFinding{
		{Test: domain.TestALT, Label: LabelALTElevated, Value: 0, Category: domain.CategoryLiver},
		{Test: domain.TestAST, Label: LabelASTElevated, Value: 80, Category: domain.CategoryLiver},
	}

	patterns, annotations := r.Recognize(findings, domain.MeasurementSet{})

	p := findPattern(patterns, domain.PatternHepatocellularInjury)
	require.NotNil(t, p)
	assert.Empty(t, p.Etiology)
	assert.Nil(t, p.Ratio)
	require.Len(t, annotations, 1)
	assert.Equal(t, domain.AnnotationComputationFailure, annotations[0].Kind)
	assert.Equal(t, patternStage, annotations[0].Stage)
}

func TestMetabolicSyndrome(t *testing.T) {
	t.Run("blood pressure and lipids", func(t *testing.T) {
		patterns, _ := recognize(t, map[domain.TestName]float64{
			domain.TestSystolic:         150,
			domain.TestDiastolic:        95,
			domain.TestTotalCholesterol: 6.5,
		}, "")

		p := findPattern(patterns, domain.PatternMetabolicSyndrome)
		require.NotNil(t, p)
		assert.Equal(t, 0.85, p.Confidence)
		assert.Nil(t, findPattern(patterns, domain.PatternCompleteMetabolicSyndrome))
	})

	t.Run("glucose completes the syndrome", func(t *testing.T) {
		patterns, _ := recognize(t, map[domain.TestName]float64{
			domain.TestSystolic:       150,
			domain.TestDiastolic:      95,
			domain.TestHDL:            0.8,
			domain.TestFastingGlucose: 7.5,
		}, domain.GenderMale)

		p := findPattern(patterns, domain.PatternMetabolicSyndrome)
		require.NotNil(t, p)
		assert.Equal(t, 0.95, p.Confidence)

		complete := findPattern(patterns, domain.PatternCompleteMetabolicSyndrome)
		require.NotNil(t, complete)
		assert.Equal(t, 0.90, complete.Confidence)
		assert.ElementsMatch(t, []string{"blood pressure elevated", "HDL-C low", "fasting glucose elevated"}, complete.ComponentFindings)
	})

	t.Run("lipids alone are not a syndrome", func(t *testing.T) {
		patterns, _ := recognize(t, map[domain.TestName]float64{domain.TestTotalCholesterol: 6.5}, "")
		assert.Empty(t, patterns)
	})
}

func TestAnemiaMorphology(t *testing.T) {
	tests := []struct {
		name string
		mcv  float64
		want string
	}{
		{"microcytic", 72, AnemiaMicrocytic},
		{"macrocytic", 108, AnemiaMacrocytic},
		{"normocytic", 90, AnemiaNormocytic},
		{"no MCV defaults to normocytic", 0, AnemiaNormocytic},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			values := map[domain.TestName]float64{domain.TestHemoglobin: 100}
			if tt.mcv > 0 {
				values[domain.TestMCV] = tt.mcv
			}
			patterns, _ := recognize(t, values, domain.GenderMale)

			p := findPattern(patterns, domain.PatternAnemia)
			require.NotNil(t, p)
			assert.Equal(t, tt.want, p.Etiology)
		})
	}
}

func TestPrerenalAzotemia(t *testing.T) {
	t.Run("high ratio", func(t *testing.T) {
		patterns, annotations := recognize(t, map[domain.TestName]float64{
			domain.TestCreatinine: 120,
			domain.TestBUN:        900,
		}, "")

		assert.Empty(t, annotations)
		p := findPattern(patterns, domain.PatternPrerenalAzotemia)
		require.NotNil(t, p)
		require.NotNil(t, p.Ratio)
		assert.InDelta(t, 21.0, *p.Ratio, 1e-9)
	})

	t.Run("ordinary ratio", func(t *testing.T) {
		patterns, _ := recognize(t, map[domain.TestName]float64{
			domain.TestCreatinine: 150,
			domain.TestBUN:        8,
		}, "")
		assert.Nil(t, findPattern(patterns, domain.PatternPrerenalAzotemia))
	})

	t.Run("BUN absent", func(t *testing.T) {
		patterns, _ := recognize(t, map[domain.TestName]float64{domain.TestCreatinine: 150}, "")
		assert.Nil(t, findPattern(patterns, domain.PatternPrerenalAzotemia))
	})
}
