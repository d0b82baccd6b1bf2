package domain

import (
	"strings"
	"time"
)

// TestName identifies a single measured quantity.
type TestName string

const (
	TestSystolic         TestName = "systolic"
	TestDiastolic        TestName = "diastolic"
	TestTotalCholesterol TestName = "total_cholesterol"
	TestLDL              TestName = "ldl"
	TestHDL              TestName = "hdl"
	TestTriglycerides    TestName = "triglycerides"
	TestFastingGlucose   TestName = "fasting_glucose"
	TestHemoglobin       TestName = "hemoglobin"
	TestWBC              TestName = "white_blood_cell"
	TestPlatelet         TestName = "platelet"
	TestMCV              TestName = "mcv"
	TestALT              TestName = "alt"
	TestAST              TestName = "ast"
	TestCreatinine       TestName = "creatinine"
	TestBUN              TestName = "bun"
)

// Measurement is an immutable input snapshot of one measured value.
type Measurement struct {
	Test      TestName  `json:"test"`
	Value     float64   `json:"value"`
	Unit      string    `json:"unit,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// MeasurementSet indexes measurements by test. The latest value per test wins.
type MeasurementSet map[TestName]Measurement

// NewMeasurementSet builds an index from a measurement list.
func NewMeasurementSet(ms []Measurement) MeasurementSet {
	set := make(MeasurementSet, len(ms))
	for _, m := range ms {
		if prev, ok := set[m.Test]; ok && prev.Timestamp.After(m.Timestamp) {
			continue
		}
		set[m.Test] = m
	}
	return set
}

// Get returns the value for a test and whether it was present.
func (s MeasurementSet) Get(test TestName) (float64, bool) {
	m, ok := s[test]
	if !ok {
		return 0, false
	}
	return m.Value, true
}

// Has reports whether every given test is present.
func (s MeasurementSet) Has(tests ...TestName) bool {
	for _, t := range tests {
		if _, ok := s[t]; !ok {
			return false
		}
	}
	return true
}

// SmokingHistory feeds the lung-cancer screening eligibility check.
type SmokingHistory struct {
	Years            float64  `json:"years"`
	CigarettesPerDay float64  `json:"cigarettesPerDay"`
	QuitYearsAgo     *float64 `json:"quitYearsAgo,omitempty"`
}

// ColorectalHistory feeds the colorectal screening eligibility check.
type ColorectalHistory struct {
	FamilyDiagnosisAge *int `json:"familyDiagnosisAge,omitempty"`
	IBDDiagnosisAge    *int `json:"ibdDiagnosisAge,omitempty"`
}

// PatientProfile is read-only patient context. Age 0 means unknown.
type PatientProfile struct {
	Age                 int                `json:"age"`
	Gender              Gender             `json:"gender"`
	Race                string             `json:"race,omitempty"`
	RiskFactors         []string           `json:"riskFactors,omitempty"`
	Comorbidities       []string           `json:"comorbidities,omitempty"`
	Complications       []string           `json:"complications,omitempty"`
	Smoker              bool               `json:"smoker"`
	Diabetic            bool               `json:"diabetic"`
	TreatedHypertension bool               `json:"treatedHypertension"`
	FamilyHistoryCVD    bool               `json:"familyHistoryCvd"`
	SmokingHistory      *SmokingHistory    `json:"smokingHistory,omitempty"`
	ColorectalHistory   *ColorectalHistory `json:"colorectalHistory,omitempty"`
}

// HasCondition reports whether name appears among risk factors or comorbidities.
func (p *PatientProfile) HasCondition(name string) bool {
	if p == nil {
		return false
	}
	for _, list := range [][]string{p.RiskFactors, p.Comorbidities} {
		for _, v := range list {
			if strings.EqualFold(strings.TrimSpace(v), name) {
				return true
			}
		}
	}
	return false
}

// AbnormalityFinding is a single derived abnormality of one measurement against a threshold.
type AbnormalityFinding struct {
	Test         TestName        `json:"test"`
	Label        string          `json:"label"`
	Value        float64         `json:"value"`
	DisplayValue string          `json:"displayValue"`
	Severity     SeverityTier    `json:"severityTier"`
	Category     FindingCategory `json:"category"`
}

// IsElevation reports whether the finding is a high-side deviation.
func (f AbnormalityFinding) IsElevation() bool {
	return strings.HasSuffix(f.Label, "elevated")
}

// Pattern is a higher-order syndrome inferred from co-occurring findings.
type Pattern struct {
	Kind                 PatternKind `json:"kind"`
	Name                 string      `json:"name"`
	Description          string      `json:"description,omitempty"`
	ComponentFindings    []string    `json:"componentFindings"`
	Confidence           float64     `json:"confidence"`
	ClinicalSignificance string      `json:"clinicalSignificance,omitempty"`
	Etiology             string      `json:"etiology,omitempty"`
	Ratio                *float64    `json:"ratio,omitempty"`
}

// DiagnosisCandidate is one entry of the ranked differential.
type DiagnosisCandidate struct {
	Name               string        `json:"name"`
	Description        string        `json:"description,omitempty"`
	BaselineLikelihood float64       `json:"baselineLikelihood"`
	AdjustedLikelihood float64       `json:"adjustedLikelihood"`
	Risk               DiagnosisRisk `json:"riskTier"`
	SupportingEvidence []string      `json:"supportingEvidence"`
	OpposingEvidence   []string      `json:"opposingEvidence"`
	SupportedBy        []string      `json:"supportedBy"`
	TypicalAgeRange    string        `json:"typicalAgeRange,omitempty"`
	GenderPredilection string        `json:"genderPredilection,omitempty"`
}

// SymptomFeatures are descriptors extracted from free-text symptom descriptions.
type SymptomFeatures struct {
	Location []string `json:"location"`
	Quality  []string `json:"quality"`
	Timing   []string `json:"timing"`
}

// Has reports whether feature appears in any descriptor list.
func (f SymptomFeatures) Has(feature string) bool {
	for _, list := range [][]string{f.Location, f.Quality, f.Timing} {
		for _, v := range list {
			if v == feature {
				return true
			}
		}
	}
	return false
}

// Symptom is a parsed symptom ready for differential generation.
type Symptom struct {
	Name         string          `json:"name"`
	Features     SymptomFeatures `json:"features"`
	Severity     SeverityTier    `json:"severity,omitempty"`
	DurationDays int             `json:"durationDays,omitempty"`
	Timing       string          `json:"timing,omitempty"`
	Associated   bool            `json:"associated"`
}

// SymptomAnalysis is the per-symptom part of the report.
type SymptomAnalysis struct {
	Symptom          Symptom  `json:"symptom"`
	Category         string   `json:"category,omitempty"`
	RedFlags         []string `json:"redFlags"`
	KeyQuestions     []string `json:"keyQuestions"`
	RecommendedTests []string `json:"recommendedTests"`
}

// RiskFactor names one contributor to cardiovascular risk.
type RiskFactor struct {
	Name         string  `json:"name"`
	Value        string  `json:"value,omitempty"`
	Impact       string  `json:"impact"`
	RelativeRisk float64 `json:"relativeRisk,omitempty"`
}

// InterventionEffect is an approximate, heuristic risk reduction for one intervention.
type InterventionEffect struct {
	Name              string  `json:"name"`
	RelativeReduction float64 `json:"relativeReduction"`
	RiskReduction     float64 `json:"riskReduction"`
	NewRisk           float64 `json:"newRisk"`
	Approximate       bool    `json:"approximate"`
	Recommendation    string  `json:"recommendation,omitempty"`
}

// RiskAdvice holds tier-driven advice lists.
type RiskAdvice struct {
	Priority        []string `json:"priority"`
	Lifestyle       []string `json:"lifestyle"`
	Pharmacological []string `json:"pharmacological"`
	Screening       []string `json:"screening"`
	FollowUp        []string `json:"followUp"`
}

// RiskScore is the standardized 10-year cardiovascular risk result.
// Percentage is nil whenever the model is not applicable or computation failed.
type RiskScore struct {
	ModelName            string               `json:"modelName"`
	HorizonYears         int                  `json:"horizonYears"`
	Percentage           *float64             `json:"percentage"`
	Tier                 RiskTier             `json:"tier"`
	Applicable           bool                 `json:"applicable"`
	ComputationFailed    bool                 `json:"computationFailed,omitempty"`
	Reason               string               `json:"reason,omitempty"`
	ModifiableFactors    []RiskFactor         `json:"modifiableFactors"`
	NonModifiableFactors []RiskFactor         `json:"nonModifiableFactors"`
	Interventions        []InterventionEffect `json:"interventions"`
	Advice               RiskAdvice           `json:"advice"`
}

// RiskInput is the profile-derived input of the risk model. Lipids accept either unit system.
type RiskInput struct {
	Age              float64 `json:"age"`
	Gender           Gender  `json:"gender"`
	Race             string  `json:"race,omitempty"`
	SystolicBP       float64 `json:"systolicBP"`
	TotalCholesterol float64 `json:"totalCholesterol"`
	HDL              float64 `json:"hdlCholesterol"`
	Smoker           bool    `json:"smoker"`
	Diabetic         bool    `json:"diabetic"`
	TreatedBP        bool    `json:"treatedBP"`
	FamilyHistory    bool    `json:"familyHistory"`
}

// MetricTarget is a personalized chronic-disease target.
type MetricTarget struct {
	SystolicMax  float64 `json:"systolicMax,omitempty"`
	DiastolicMax float64 `json:"diastolicMax,omitempty"`
	ValueMax     float64 `json:"valueMax,omitempty"`
	Rationale    string  `json:"rationale"`
}

// Variability summarizes dispersion of a series.
type Variability struct {
	StandardDeviation      *float64      `json:"standardDeviation"`
	CoefficientOfVariation *float64      `json:"coefficientOfVariation"`
	Grade                  VarianceGrade `json:"grade"`
}

// Adherence summarizes home-monitoring adherence over the last week.
type Adherence struct {
	Rate           float64 `json:"rate"`
	ActualReadings int     `json:"actualReadings"`
	TargetReadings int     `json:"targetReadings"`
	DaysMeasured   int     `json:"daysMeasured"`
	Grade          string  `json:"grade"`
}

// GlucoseSummary is the fasting glucose section of the diabetes metric, in mmol/L.
type GlucoseSummary struct {
	Average        float64 `json:"average"`
	Unit           string  `json:"unit"`
	TargetMax      float64 `json:"targetMax"`
	AtGoal         bool    `json:"atGoal"`
	Classification string  `json:"classification"`
	Readings       int     `json:"readings"`
}

// ComplicationStatus is the due state of one complication screening.
type ComplicationStatus string

const (
	ComplicationNeverDone ComplicationStatus = "never_done"
	ComplicationOverdue   ComplicationStatus = "overdue"
	ComplicationDueSoon   ComplicationStatus = "due_soon"
	ComplicationUpToDate  ComplicationStatus = "up_to_date"
)

// ComplicationScreeningItem is the status of one target-organ screening.
type ComplicationScreeningItem struct {
	Name            string             `json:"name"`
	DisplayName     string             `json:"displayName"`
	TargetOrgan     string             `json:"targetOrgan,omitempty"`
	FrequencyMonths int                `json:"frequencyMonths"`
	Status          ComplicationStatus `json:"status"`
	LastDate        *time.Time         `json:"lastDate,omitempty"`
	NextDueDate     *time.Time         `json:"nextDueDate,omitempty"`
	DaysSinceLast   *int               `json:"daysSinceLast,omitempty"`
	DaysUntilDue    *int               `json:"daysUntilDue,omitempty"`
}

// ComplicationScreeningStatus summarizes complication screening compliance for one condition.
// ComplianceRate is the percentage of screenings that are done and not overdue.
type ComplicationScreeningStatus struct {
	Screenings     []ComplicationScreeningItem `json:"screenings"`
	Total          int                         `json:"total"`
	UpToDate       int                         `json:"upToDate"`
	DueSoon        int                         `json:"dueSoon"`
	Overdue        int                         `json:"overdue"`
	NeverDone      int                         `json:"neverDone"`
	ComplianceRate float64                     `json:"complianceRate"`
}

// QualityRecommendation is a quality-engine action item.
type QualityRecommendation struct {
	Priority Urgency `json:"priority"`
	Category string  `json:"category"`
	Text     string  `json:"text"`
}

// QualityMetric is the chronic-disease quality summary for one condition.
type QualityMetric struct {
	Condition             string                       `json:"condition"`
	Target                MetricTarget                 `json:"target"`
	ActualAverage         float64                      `json:"actualAverage"`
	SecondaryAverage      *float64                     `json:"secondaryAverage,omitempty"`
	GoalAttainmentRate    float64                      `json:"goalAttainmentRate"`
	ReadingsAtGoal        int                          `json:"readingsAtGoal"`
	TotalReadings         int                          `json:"totalReadings"`
	Trend                 Trend                        `json:"trend"`
	TrendChange           *float64                     `json:"trendChange,omitempty"`
	Variability           Variability                  `json:"variability"`
	VarianceGrade         VarianceGrade                `json:"varianceGrade"`
	Adherence             *Adherence                   `json:"adherence,omitempty"`
	Grade                 QualityGrade                 `json:"grade"`
	Control               ControlClass                 `json:"control,omitempty"`
	Classification        string                       `json:"classification,omitempty"`
	LatestValue           *float64                     `json:"latestValue,omitempty"`
	LatestAtGoal          *bool                        `json:"latestAtGoal,omitempty"`
	FastingGlucose        *GlucoseSummary              `json:"fastingGlucose,omitempty"`
	ComplicationScreening *ComplicationScreeningStatus `json:"complicationScreening,omitempty"`
	Recommendations       []QualityRecommendation      `json:"recommendations"`
}

// IntervalAdjustment records one risk-factor multiplier applied to a screening interval.
type IntervalAdjustment struct {
	RiskFactor string  `json:"riskFactor"`
	Multiplier float64 `json:"multiplier"`
	FromYears  float64 `json:"fromYears"`
	ToYears    float64 `json:"toYears"`
}

// ScreeningSchedule is the risk-adjusted plan for one screening type.
type ScreeningSchedule struct {
	ScreeningType         string               `json:"screeningType"`
	AgeGroup              string               `json:"ageGroup"`
	BaseIntervalYears     float64              `json:"baseIntervalYears"`
	AdjustedIntervalYears float64              `json:"adjustedIntervalYears"`
	Adjustments           []IntervalAdjustment `json:"adjustments"`
	LastDate              *time.Time           `json:"lastDate"`
	NextDueDate           *time.Time           `json:"nextDueDate"`
	DaysUntilDue          *int                 `json:"daysUntilDue,omitempty"`
	Urgency               ScreeningUrgency     `json:"urgencyTier"`
	Recommendation        string               `json:"recommendation,omitempty"`
}

// LungScreeningEligibility is the lung-cancer screening eligibility result.
type LungScreeningEligibility struct {
	Eligible              bool    `json:"eligible"`
	AgeEligible           bool    `json:"ageEligible"`
	PackYearsEligible     bool    `json:"packYearsEligible"`
	SmokingStatusEligible bool    `json:"smokingStatusEligible"`
	PackYears             float64 `json:"packYears"`
}

// ColorectalScreeningEligibility is the colorectal screening eligibility result.
type ColorectalScreeningEligibility struct {
	Eligible           bool     `json:"eligible"`
	StartAge           int      `json:"startAge"`
	IntervalYears      int      `json:"intervalYears"`
	RecommendedMethod  string   `json:"recommendedMethod"`
	AlternativeMethods []string `json:"alternativeMethods"`
}

// ScreeningEligibility groups the eligibility checks.
type ScreeningEligibility struct {
	Lung       *LungScreeningEligibility       `json:"lung,omitempty"`
	Colorectal *ColorectalScreeningEligibility `json:"colorectal,omitempty"`
}

// Recommendation is one prioritized action item.
type Recommendation struct {
	Priority       Urgency                `json:"priorityTier"`
	Category       RecommendationCategory `json:"category"`
	Text           string                 `json:"text"`
	SourceFindings []string               `json:"sourceFindings"`
}

// RecommendationSet is the synthesized, deduplicated action list.
type RecommendationSet struct {
	Urgency         Urgency          `json:"urgency"`
	FollowUp        []string         `json:"followUp"`
	Lifestyle       []string         `json:"lifestyle"`
	Pharmacological []string         `json:"pharmacological"`
	FurtherTesting  []string         `json:"furtherTesting"`
	Items           []Recommendation `json:"items"`
}

// Report is the single structured output handed to report and chart collaborators.
type Report struct {
	GeneratedAt       time.Time             `json:"generatedAt"`
	KnowledgeVersion  string                `json:"knowledgeVersion"`
	Abnormalities     []AbnormalityFinding  `json:"abnormalities"`
	Patterns          []Pattern             `json:"patterns"`
	Symptoms          []SymptomAnalysis     `json:"symptoms"`
	Diagnoses         []DiagnosisCandidate  `json:"diagnoses"`
	RiskScore         *RiskScore            `json:"riskScore"`
	QualityMetrics    []QualityMetric       `json:"qualityMetrics"`
	ScreeningSchedule []ScreeningSchedule   `json:"screeningSchedule"`
	Eligibility       *ScreeningEligibility `json:"screeningEligibility,omitempty"`
	Recommendations   RecommendationSet     `json:"recommendations"`
	Summary           string                `json:"summary"`
	Annotations       []Annotation          `json:"annotations"`
}
