// Package knowledge loads the versioned lookup tables the reasoning engine consults:
// symptom differentials, lab-abnormality thresholds and management, screening protocols and
// the empirical reasoning parameters. A KnowledgeBase is immutable once loaded and safe for
// concurrent reads.
package knowledge

import (
	"github.com/clinical-reasoning-engine/internal/domain"
)

// Age predilections of a diagnosis.
const (
	AgeOver50  = "over_50"
	AgeUnder50 = "under_50"
)

// DiagnosisEntry is one candidate diagnosis of a symptom or abnormality.
type DiagnosisEntry struct {
	Name               string               `json:"name"`
	Description        string               `json:"description,omitempty"`
	LikelihoodBaseline float64              `json:"likelihood_baseline"`
	Risk               domain.DiagnosisRisk `json:"risk"`
	TypicalAgeRange    string               `json:"typical_age_range,omitempty"`
	AgePredilection    string               `json:"age_predilection,omitempty"`
	GenderPredilection domain.Gender        `json:"gender_predilection,omitempty"`
	Cardiovascular     bool                 `json:"cardiovascular,omitempty"`
	SupportingFeatures []string             `json:"supporting_features,omitempty"`
	OpposingFeatures   []string             `json:"opposing_features,omitempty"`
}

// SymptomEntry is the symptom table row.
type SymptomEntry struct {
	Category              string           `json:"category"`
	Keywords              []string         `json:"keywords"`
	DifferentialDiagnoses []DiagnosisEntry `json:"differential_diagnoses"`
	RedFlags              []string         `json:"red_flags,omitempty"`
	KeyQuestions          []string         `json:"key_questions,omitempty"`
	RecommendedTests      []string         `json:"recommended_tests,omitempty"`
}

// FeatureKeywords maps canonical descriptors to the phrases that express them.
type FeatureKeywords struct {
	Location map[string][]string `json:"location"`
	Quality  map[string][]string `json:"quality"`
	Timing   map[string][]string `json:"timing"`
}

// SeverityKeywords lists phrases implying a severe or mild symptom.
type SeverityKeywords struct {
	Severe []string `json:"severe"`
	Mild   []string `json:"mild"`
}

// Direction of a threshold rule.
type Direction string

const (
	DirectionHigh Direction = "high"
	DirectionLow  Direction = "low"
)

// Units names the magnitude heuristic applied before comparison.
type Units string

const (
	UnitsAsIs        Units = ""
	UnitsCholesterol Units = "cholesterol"
	UnitsGlucose     Units = "glucose"
)

// Escalation raises severity once the value passes Value (or the paired value passes Paired).
type Escalation struct {
	Value    float64             `json:"value"`
	Paired   float64             `json:"paired,omitempty"`
	Severity domain.SeverityTier `json:"severity"`
}

// SeverityThresholds is the threshold rule producing one abnormality label.
// Escalations are listed most severe first.
type SeverityThresholds struct {
	Test         domain.TestName        `json:"test"`
	PairedTest   domain.TestName        `json:"paired_test,omitempty"`
	Rank         int                    `json:"rank"`
	Display      string                 `json:"display"`
	Category     domain.FindingCategory `json:"category"`
	Direction    Direction              `json:"direction"`
	Units        Units                  `json:"units,omitempty"`
	Inclusive    bool                   `json:"inclusive"`
	Limit        float64                `json:"limit"`
	FemaleLimit  *float64               `json:"female_limit,omitempty"`
	PairedLimit  float64                `json:"paired_limit,omitempty"`
	BaseSeverity domain.SeverityTier    `json:"base_severity"`
	Escalations  []Escalation           `json:"escalations,omitempty"`
}

// LimitFor returns the gender-specific limit.
func (t SeverityThresholds) LimitFor(g domain.Gender) float64 {
	if g.IsFemale() && t.FemaleLimit != nil {
		return *t.FemaleLimit
	}
	return t.Limit
}

// Management lists the interventions associated with an abnormality.
type Management struct {
	Lifestyle       []string          `json:"lifestyle,omitempty"`
	Pharmacological []string          `json:"pharmacological,omitempty"`
	Targets         map[string]string `json:"targets,omitempty"`
}

// LabAbnormalityEntry is the lab-abnormality table row, keyed by finding label.
type LabAbnormalityEntry struct {
	SeverityThresholds    SeverityThresholds `json:"severity_thresholds"`
	ClinicalSignificance  string             `json:"clinical_significance,omitempty"`
	DifferentialDiagnoses []DiagnosisEntry   `json:"differential_diagnoses,omitempty"`
	Management            Management         `json:"management"`
	Risks                 []string           `json:"risks,omitempty"`
	RedFlags              []string           `json:"red_flags,omitempty"`
	KeyQuestions          []string           `json:"key_questions,omitempty"`
}

// LabRule pairs a finding label with its thresholds.
type LabRule struct {
	Label string
	SeverityThresholds
}

// AgeRecommendation is the per-age-group row of a screening protocol.
// A nil BaseIntervalYears means no fixed interval for the group.
type AgeRecommendation struct {
	BaseIntervalYears *float64 `json:"base_interval_years"`
	Recommendation    string   `json:"recommendation"`
}

// ScreeningProtocol is the screening table row, keyed by dotted screening type.
// A non-empty Gender restricts the protocol to that gender.
type ScreeningProtocol struct {
	Name                       string                       `json:"name"`
	Gender                     domain.Gender                `json:"gender,omitempty"`
	AgeSpecificRecommendations map[string]AgeRecommendation `json:"age_specific_recommendations"`
	RiskAdjustments            map[string]float64           `json:"risk_adjustments,omitempty"`
}

// AppliesTo reports whether the protocol covers gender g. Unknown gender is always covered.
func (p ScreeningProtocol) AppliesTo(g domain.Gender) bool {
	return p.Gender == domain.GenderUnknown || g == domain.GenderUnknown || p.Gender == g
}

// PatternParameters are the empirical constants of the pattern recognizer.
type PatternParameters struct {
	MetabolicSyndrome            float64 `json:"metabolic_syndrome"`
	MetabolicSyndromeWithGlucose float64 `json:"metabolic_syndrome_with_glucose"`
	CompleteMetabolicSyndrome    float64 `json:"complete_metabolic_syndrome"`
	HepatocellularInjury         float64 `json:"hepatocellular_injury"`
	Anemia                       float64 `json:"anemia"`
	PrerenalAzotemia             float64 `json:"prerenal_azotemia"`
	ALTUpperLimit                float64 `json:"alt_upper_limit"`
	AlcoholicALTMultiple         float64 `json:"alcoholic_alt_multiple"`
	MicrocyticMCV                float64 `json:"microcytic_mcv"`
	MacrocyticMCV                float64 `json:"macrocytic_mcv"`
	PrerenalRatio                float64 `json:"prerenal_ratio"`
}

// LikelihoodParameters are the multiplicative differential adjustments.
type LikelihoodParameters struct {
	SupportingFeature      float64 `json:"supporting_feature"`
	OpposingFeature        float64 `json:"opposing_feature"`
	AgePivot               int     `json:"age_pivot"`
	OlderBandMismatch      float64 `json:"older_band_mismatch"`
	YoungerBandMismatch    float64 `json:"younger_band_mismatch"`
	CardiovascularAgeBoost float64 `json:"cardiovascular_age_boost"`
	GenderMismatch         float64 `json:"gender_mismatch"`
	RedFlagDurationDays    int     `json:"red_flag_duration_days"`
}

// InterventionParameters are the approximate relative reductions of the intervention estimator.
type InterventionParameters struct {
	SmokingCessation   float64 `json:"smoking_cessation"`
	BPControlThreshold float64 `json:"bp_control_threshold"`
	BPControlTarget    float64 `json:"bp_control_target"`
	BPControlFraction  float64 `json:"bp_control_fraction"`
	Statin             float64 `json:"statin"`
	StatinTCThreshold  float64 `json:"statin_tc_threshold"`
	Lifestyle          float64 `json:"lifestyle"`
}

// Coefficients is one row of the pooled-cohort style survival model.
type Coefficients struct {
	Intercept        float64 `json:"intercept"`
	Age              float64 `json:"age"`
	AgeSquared       float64 `json:"age_squared"`
	SystolicBP       float64 `json:"systolic_bp"`
	TreatedBP        float64 `json:"treated_bp"`
	Smoker           float64 `json:"smoker"`
	TotalCholesterol float64 `json:"total_cholesterol"`
	HDL              float64 `json:"hdl"`
	Diabetic         float64 `json:"diabetic"`
}

// RiskModel describes the survival model and its validity range.
type RiskModel struct {
	Name             string                  `json:"name"`
	HorizonYears     int                     `json:"horizon_years"`
	MinAge           float64                 `json:"min_age"`
	MaxAge           float64                 `json:"max_age"`
	BaselineSurvival float64                 `json:"baseline_survival"`
	MeanSum          float64                 `json:"mean_sum"`
	Coefficients     map[string]Coefficients `json:"coefficients"`
}

// BPTarget is a blood-pressure goal.
type BPTarget struct {
	SystolicMax  float64 `json:"systolic_max"`
	DiastolicMax float64 `json:"diastolic_max"`
	Rationale    string  `json:"rationale"`
}

// HbA1cTarget is a glycemic goal.
type HbA1cTarget struct {
	Max       float64 `json:"max"`
	Rationale string  `json:"rationale"`
}

// QualityParameters are the chronic-disease targets and grading cut-offs.
type QualityParameters struct {
	SeniorAge        int         `json:"senior_age"`
	YoungAdultAge    int         `json:"young_adult_age"`
	SeniorBP         BPTarget    `json:"senior_bp"`
	DiabetesCKDBP    BPTarget    `json:"diabetes_ckd_bp"`
	GeneralBP        BPTarget    `json:"general_bp"`
	LooseHbA1c       HbA1cTarget `json:"loose_hba1c"`
	TightHbA1c       HbA1cTarget `json:"tight_hba1c"`
	GeneralHbA1c     HbA1cTarget `json:"general_hba1c"`
	TrendPercent     float64     `json:"trend_percent"`
	HbA1cTrendDelta  float64     `json:"hba1c_trend_delta"`
	ModerateCV       float64     `json:"moderate_cv"`
	HighCV           float64     `json:"high_cv"`
	AdherenceDays    int         `json:"adherence_days"`
	ReadingsPerDay   int         `json:"readings_per_day"`
	HbA1cPrediabetes float64     `json:"hba1c_prediabetes"`
	HbA1cDiabetes    float64     `json:"hba1c_diabetes"`

	// Fasting glucose cut-offs in mmol/L.
	FastingGlucoseTargetMax float64 `json:"fasting_glucose_target_max"`
	FastingGlucoseImpaired  float64 `json:"fasting_glucose_impaired"`
	FastingGlucoseDiabetes  float64 `json:"fasting_glucose_diabetes"`

	ComplicationDueSoonDays int                                `json:"complication_due_soon_days"`
	ComplicationScreenings  map[string][]ComplicationScreening `json:"complication_screenings"`
}

// ComplicationScreening is one recurring target-organ check for a chronic condition.
// Frequency is free text such as "annual", "every 6 months" or "every 2-5 years".
type ComplicationScreening struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Frequency   string `json:"frequency"`
	TargetOrgan string `json:"target_organ"`
	Purpose     string `json:"purpose"`
}

// ScreeningParameters bound interval arithmetic and urgency windows.
type ScreeningParameters struct {
	MinimumIntervalYears float64 `json:"minimum_interval_years"`
	UrgentDays           int     `json:"urgent_days"`
	DueSoonDays          int     `json:"due_soon_days"`
}

// Parameters groups every empirical constant that is configuration rather than code.
type Parameters struct {
	Patterns      PatternParameters      `json:"patterns"`
	Likelihood    LikelihoodParameters   `json:"likelihood"`
	Interventions InterventionParameters `json:"interventions"`
	RiskModel     RiskModel              `json:"risk_model"`
	Quality       QualityParameters      `json:"quality"`
	Screening     ScreeningParameters    `json:"screening"`
}
