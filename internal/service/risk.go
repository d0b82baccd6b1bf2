package service

import (
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/clinical-reasoning-engine/internal/domain"
	"github.com/clinical-reasoning-engine/internal/knowledge"
)

const riskStage = "risk"

// Risk-factor thresholds, in mmHg and mmol/L.
const (
	riskFactorAge         = 55
	riskFactorSystolic    = 140
	riskFactorCholesterol = 5.2
	riskFactorHDL         = 1.0
)

// Impact levels of risk factors.
const (
	ImpactModerate = "moderate"
	ImpactHigh     = "high"
	ImpactVeryHigh = "very_high"
)

// Intervention names.
const (
	InterventionSmokingCessation = "smoking cessation"
	InterventionBPControl        = "blood pressure control"
	InterventionStatin           = "statin therapy"
	InterventionLifestyle        = "combined lifestyle intervention"
)

// RiskScoringEngine estimates 10-year cardiovascular risk with a pooled-cohort style
// survival model and derives risk factors, intervention effects and tiered advice.
type RiskScoringEngine struct {
	kb     *knowledge.KnowledgeBase
	model  knowledge.RiskModel
	params knowledge.InterventionParameters
	logger *logrus.Logger
}

// NewRiskScoringEngine creates a risk engine over kb.
func NewRiskScoringEngine(kb *knowledge.KnowledgeBase, logger *logrus.Logger) *RiskScoringEngine {
	p := kb.Parameters()
	return &RiskScoringEngine{kb: kb, model: p.RiskModel, params: p.Interventions, logger: logger}
}

// RiskInputFrom assembles the model input from a profile and the current measurements. It
// reports false when a required measurement is absent.
func RiskInputFrom(profile domain.PatientProfile, set domain.MeasurementSet) (domain.RiskInput, bool) {
	in := domain.RiskInput{
		Age:           float64(profile.Age),
		Gender:        profile.Gender,
		Race:          profile.Race,
		Smoker:        profile.Smoker,
		Diabetic:      profile.Diabetic || profile.HasCondition("diabetes"),
		TreatedBP:     profile.TreatedHypertension,
		FamilyHistory: profile.FamilyHistoryCVD,
	}
	sbp, okSBP := set.Get(domain.TestSystolic)
	tc, okTC := set.Get(domain.TestTotalCholesterol)
	hdl, okHDL := set.Get(domain.TestHDL)
	in.SystolicBP, in.TotalCholesterol, in.HDL = sbp, tc, hdl
	return in, profile.Age > 0 && okSBP && okTC && okHDL
}

// Score evaluates the model. It never fails: out-of-range ages yield a not-applicable score
// with a nil percentage, and invalid arithmetic yields a computation-failed score. The
// returned errors describe those conditions for annotation.
func (e *RiskScoringEngine) Score(in domain.RiskInput) (*domain.RiskScore, []error) {
	tc := NormalizeCholesterol(in.TotalCholesterol)
	hdl := NormalizeCholesterol(in.HDL)

	score := &domain.RiskScore{
		ModelName:            e.model.Name,
		HorizonYears:         e.model.HorizonYears,
		Tier:                 domain.RiskTierUnknown,
		ModifiableFactors:    []domain.RiskFactor{},
		NonModifiableFactors: []domain.RiskFactor{},
		Interventions:        []domain.InterventionEffect{},
		Advice:               emptyAdvice(),
	}
	score.NonModifiableFactors, score.ModifiableFactors = identifyRiskFactors(in, tc, hdl)

	if in.Age < e.model.MinAge || in.Age > e.model.MaxAge {
		score.Reason = fmt.Sprintf("age %s outside validated range %s-%s",
			formatNumber(in.Age), formatNumber(e.model.MinAge), formatNumber(e.model.MaxAge))
		return score, []error{&domain.NotApplicableError{Model: e.model.Name, Reason: score.Reason}}
	}
	score.Applicable = true

	if !finitePositive(in.SystolicBP) || !finitePositive(tc) || !finitePositive(hdl) {
		return e.failed(score, "systolic blood pressure, total cholesterol and HDL must be positive numbers")
	}

	coef, key, ok := e.kb.RiskCoefficients(in.Race, in.Gender)
	if !ok {
		return e.failed(score, "no coefficient row for "+key)
	}

	lnAge := math.Log(in.Age)
	sum := coef.Intercept +
		coef.Age*lnAge +
		coef.AgeSquared*lnAge*lnAge +
		coef.SystolicBP*math.Log(in.SystolicBP) +
		coef.TotalCholesterol*math.Log(tc) +
		coef.HDL*math.Log(hdl)
	if in.TreatedBP {
		sum += coef.TreatedBP
	}
	if in.Smoker {
		sum += coef.Smoker
	}
	if in.Diabetic {
		sum += coef.Diabetic
	}

	risk := 1 - math.Pow(e.model.BaselineSurvival, math.Exp(sum-e.model.MeanSum))
	if math.IsNaN(risk) || math.IsInf(risk, 0) {
		return e.failed(score, "survival model produced a non-finite value")
	}

	pct := round(risk*100, 1)
	score.Percentage = &pct
	score.Tier = TierFor(pct)
	score.Interventions = e.interventions(in, tc, pct)
	score.Advice = adviceFor(score.Tier, in)

	e.logger.WithFields(logrus.Fields{
		"coefficients": key,
		"percentage":   pct,
		"tier":         score.Tier,
	}).Debug("Risk score computed")
	return score, nil
}

func (e *RiskScoringEngine) failed(score *domain.RiskScore, reason string) (*domain.RiskScore, []error) {
	score.ComputationFailed = true
	score.Reason = reason
	score.Percentage = nil
	score.Tier = domain.RiskTierUnknown
	err := &domain.ComputationError{Stage: riskStage, Reason: reason}
	e.logger.WithError(err).Warn("Risk computation failed")
	return score, []error{err}
}

// TierFor maps a percentage to its tier. The tiers partition the axis into
// [0,5) [5,7.5) [7.5,10) [10,20) [20,100]. NaN has no tier.
func TierFor(pct float64) domain.RiskTier {
	switch {
	case math.IsNaN(pct):
		return domain.RiskTierUnknown
	case pct < 5:
		return domain.RiskTierLow
	case pct < 7.5:
		return domain.RiskTierBorderline
	case pct < 10:
		return domain.RiskTierIntermediate
	case pct < 20:
		return domain.RiskTierHigh
	default:
		return domain.RiskTierVeryHigh
	}
}

func identifyRiskFactors(in domain.RiskInput, tc, hdl float64) (nonModifiable, modifiable []domain.RiskFactor) {
	nonModifiable = []domain.RiskFactor{}
	modifiable = []domain.RiskFactor{}

	if in.Age >= riskFactorAge {
		nonModifiable = append(nonModifiable, domain.RiskFactor{Name: "age 55 or older", Impact: ImpactModerate})
	}
	if in.Gender == domain.GenderMale {
		nonModifiable = append(nonModifiable, domain.RiskFactor{Name: "male sex", Impact: ImpactModerate})
	}
	if in.FamilyHistory {
		nonModifiable = append(nonModifiable, domain.RiskFactor{Name: "family history of cardiovascular disease", Impact: ImpactHigh})
	}

	if in.SystolicBP >= riskFactorSystolic {
		modifiable = append(modifiable, domain.RiskFactor{
			Name: "hypertension", Value: formatNumber(in.SystolicBP) + " mmHg", Impact: ImpactHigh, RelativeRisk: 2.0,
		})
	}
	if tc >= riskFactorCholesterol {
		modifiable = append(modifiable, domain.RiskFactor{
			Name: "high cholesterol", Value: formatNumber(tc) + " mmol/L", Impact: ImpactModerate, RelativeRisk: 1.5,
		})
	}
	if hdl > 0 && hdl < riskFactorHDL {
		modifiable = append(modifiable, domain.RiskFactor{
			Name: "low HDL cholesterol", Value: formatNumber(hdl) + " mmol/L", Impact: ImpactModerate, RelativeRisk: 1.3,
		})
	}
	if in.Smoker {
		modifiable = append(modifiable, domain.RiskFactor{Name: "smoking", Impact: ImpactVeryHigh, RelativeRisk: 2.0})
	}
	if in.Diabetic {
		modifiable = append(modifiable, domain.RiskFactor{Name: "diabetes", Impact: ImpactHigh, RelativeRisk: 2.0})
	}
	return nonModifiable, modifiable
}

// interventions estimates the effect of each applicable intervention from fixed empirical
// multipliers. The estimates are independent of the survival model and always approximate.
func (e *RiskScoringEngine) interventions(in domain.RiskInput, tc, base float64) []domain.InterventionEffect {
	p := e.params
	out := []domain.InterventionEffect{}

	add := func(name string, relative float64, recommendation string) {
		reduction := base * relative
		out = append(out, domain.InterventionEffect{
			Name:              name,
			RelativeReduction: round(relative, 3),
			RiskReduction:     round(reduction, 1),
			NewRisk:           round(base-reduction, 1),
			Approximate:       true,
			Recommendation:    recommendation,
		})
	}

	if in.Smoker {
		add(InterventionSmokingCessation, p.SmokingCessation,
			"Highest priority intervention with the largest potential benefit")
	}
	if in.SystolicBP >= p.BPControlThreshold {
		drop := in.SystolicBP - p.BPControlTarget
		add(InterventionBPControl, drop/in.SystolicBP*p.BPControlFraction,
			"ACE inhibitor or ARB, DASH diet, sodium restriction and exercise toward <130/80 mmHg")
	}
	if tc >= p.StatinTCThreshold {
		add(InterventionStatin, p.Statin, "Moderate-intensity statin therapy")
	}
	add(InterventionLifestyle, p.Lifestyle,
		"DASH diet, regular exercise, weight loss and limited alcohol")
	return out
}

func emptyAdvice() domain.RiskAdvice {
	return domain.RiskAdvice{
		Priority:        []string{},
		Lifestyle:       []string{},
		Pharmacological: []string{},
		Screening:       []string{},
		FollowUp:        []string{},
	}
}

func adviceFor(tier domain.RiskTier, in domain.RiskInput) domain.RiskAdvice {
	a := emptyAdvice()

	switch tier {
	case domain.RiskTierLow:
		a.Lifestyle = append(a.Lifestyle, "Maintain current healthy lifestyle", "Annual health check-up")
		a.FollowUp = append(a.FollowUp, "Reassess cardiovascular risk annually")
	case domain.RiskTierBorderline:
		a.Lifestyle = append(a.Lifestyle,
			"Start a DASH-style diet",
			"150 minutes of moderate-intensity exercise per week",
			"If smoking, stop")
	case domain.RiskTierIntermediate:
		a.Lifestyle = append(a.Lifestyle,
			"DASH diet with sodium below 1500 mg per day",
			"150 minutes of moderate-intensity aerobic exercise per week",
			"Lose 5-10% of body weight if overweight",
			"Stop smoking and limit alcohol")
		a.Pharmacological = append(a.Pharmacological, "Discuss statin therapy with your doctor")
	case domain.RiskTierHigh, domain.RiskTierVeryHigh:
		a.Lifestyle = append(a.Lifestyle, "Intensive lifestyle intervention")
		a.Pharmacological = append(a.Pharmacological, "Moderate-intensity statin therapy")
		if in.SystolicBP >= riskFactorSystolic {
			a.Pharmacological = append(a.Pharmacological, "Antihypertensive therapy (ACE inhibitor or ARB)")
		}
		a.Priority = append(a.Priority,
			"See a cardiologist soon",
			"Complete cardiovascular work-up (ECG, echocardiogram)")
	}

	switch tier {
	case domain.RiskTierBorderline, domain.RiskTierIntermediate:
		a.FollowUp = append(a.FollowUp, "Recheck in 3-6 months", "Reassess cardiovascular risk")
	case domain.RiskTierHigh, domain.RiskTierVeryHigh:
		a.FollowUp = append(a.FollowUp,
			"Recheck in 1 month",
			"Evaluate the effect of interventions",
			"Adjust the treatment plan")
	}

	if in.Diabetic {
		a.Screening = append(a.Screening,
			"Annual diabetes complication screening",
			"Urine albumin-to-creatinine ratio",
			"Retinal examination")
	}
	if in.Smoker {
		a.Priority = append(a.Priority, "Smoking cessation is the single most important intervention")
	}
	return a
}
