// Package domain contains the core entities of the clinical reasoning engine: measurements,
// derived findings and patterns, ranked diagnoses, risk scores, quality metrics, screening
// schedules and the recommendations synthesized from them.
//
// All derived entities are recomputed per call. Outputs are decision-support suggestions
// only and never constitute a diagnosis.
package domain

import (
	"errors"
)

// SeverityTier grades how far a measurement deviates from its reference range.
// Tiers are ordered: mild < moderate < severe < very_severe.
type SeverityTier string

const (
	SeverityMild       SeverityTier = "mild"
	SeverityModerate   SeverityTier = "moderate"
	SeveritySevere     SeverityTier = "severe"
	SeverityVerySevere SeverityTier = "very_severe"
)

// DiagnosisRisk is the harm potential of a candidate diagnosis. It is the primary
// ranking key of the differential list.
type DiagnosisRisk string

const (
	DiagnosisRiskVeryHigh DiagnosisRisk = "very_high"
	DiagnosisRiskHigh     DiagnosisRisk = "high"
	DiagnosisRiskModerate DiagnosisRisk = "moderate"
	DiagnosisRiskLow      DiagnosisRisk = "low"
)

// RiskTier buckets a 10-year cardiovascular risk percentage.
type RiskTier string

const (
	RiskTierLow          RiskTier = "low"
	RiskTierBorderline   RiskTier = "borderline"
	RiskTierIntermediate RiskTier = "intermediate"
	RiskTierHigh         RiskTier = "high"
	RiskTierVeryHigh     RiskTier = "very_high"
	RiskTierUnknown      RiskTier = "unknown"
)

// Urgency is the priority tier of a recommendation.
type Urgency string

const (
	UrgencyUrgent  Urgency = "urgent"
	UrgencySoon    Urgency = "soon"
	UrgencyRoutine Urgency = "routine"
)

// ScreeningUrgency classifies the time left until a screening is due.
type ScreeningUrgency string

const (
	ScreeningOverdue  ScreeningUrgency = "overdue"
	ScreeningUrgent   ScreeningUrgency = "urgent"
	ScreeningDueSoon  ScreeningUrgency = "due_soon"
	ScreeningRoutine  ScreeningUrgency = "routine"
	ScreeningNoPeriod ScreeningUrgency = "no_fixed_interval"
)

// Gender of the patient. Unknown gender uses the male reference rows, matching the
// reference tables the thresholds were taken from.
type Gender string

const (
	GenderMale    Gender = "male"
	GenderFemale  Gender = "female"
	GenderUnknown Gender = ""
)

// FindingCategory is the closed set of measurement categories the classifier evaluates.
type FindingCategory string

const (
	CategoryCardiovascular FindingCategory = "cardiovascular"
	CategoryLipid          FindingCategory = "lipid"
	CategoryGlucose        FindingCategory = "glucose"
	CategoryBlood          FindingCategory = "blood"
	CategoryLiver          FindingCategory = "liver"
	CategoryKidney         FindingCategory = "kidney"
)

// PatternKind is the closed set of syndrome patterns the recognizer can emit.
type PatternKind string

const (
	PatternMetabolicSyndrome         PatternKind = "metabolic_syndrome"
	PatternCompleteMetabolicSyndrome PatternKind = "complete_metabolic_syndrome"
	PatternHepatocellularInjury      PatternKind = "hepatocellular_injury"
	PatternAnemia                    PatternKind = "anemia"
	PatternPrerenalAzotemia          PatternKind = "prerenal_azotemia"
)

// Trend describes the direction of a serial metric.
type Trend string

const (
	TrendImproving        Trend = "improving"
	TrendWorsening        Trend = "worsening"
	TrendStable           Trend = "stable"
	TrendInsufficientData Trend = "insufficient_data"
)

// VarianceGrade grades the coefficient of variation of a serial metric.
type VarianceGrade string

const (
	VarianceLow              VarianceGrade = "low"
	VarianceModerate         VarianceGrade = "moderate"
	VarianceHigh             VarianceGrade = "high"
	VarianceInsufficientData VarianceGrade = "insufficient_data"
)

// QualityGrade is the letter grade of a goal-attainment style score.
type QualityGrade string

const (
	GradeA QualityGrade = "A"
	GradeB QualityGrade = "B"
	GradeC QualityGrade = "C"
	GradeD QualityGrade = "D"
	GradeF QualityGrade = "F"
)

// ControlClass summarizes chronic-disease control.
type ControlClass string

const (
	ControlOptimal ControlClass = "optimal"
	ControlGood    ControlClass = "good"
	ControlFair    ControlClass = "fair"
	ControlPoor    ControlClass = "poor"
)

// RecommendationCategory groups recommendations into the report sub-lists.
type RecommendationCategory string

const (
	RecommendFollowUp        RecommendationCategory = "follow_up"
	RecommendLifestyle       RecommendationCategory = "lifestyle"
	RecommendPharmacological RecommendationCategory = "pharmacological"
	RecommendFurtherTesting  RecommendationCategory = "further_testing"
)

// Validation errors for enum parsing
var (
	ErrInvalidSeverity      = errors.New("invalid severity tier")
	ErrInvalidDiagnosisRisk = errors.New("invalid diagnosis risk tier")
	ErrInvalidGender        = errors.New("invalid gender")
)

// IsValid reports whether s is a known severity tier.
func (s SeverityTier) IsValid() bool {
	switch s {
	case SeverityMild, SeverityModerate, SeveritySevere, SeverityVerySevere:
		return true
	default:
		return false
	}
}

// Rank orders severity tiers; higher is more severe. Unknown tiers rank 0.
func (s SeverityTier) Rank() int {
	switch s {
	case SeverityMild:
		return 1
	case SeverityModerate:
		return 2
	case SeveritySevere:
		return 3
	case SeverityVerySevere:
		return 4
	default:
		return 0
	}
}

// AtLeast reports whether s is as severe as other or more.
func (s SeverityTier) AtLeast(other SeverityTier) bool {
	return s.Rank() >= other.Rank()
}

func (s SeverityTier) String() string {
	return string(s)
}

// IsValid reports whether r is a known diagnosis risk tier.
func (r DiagnosisRisk) IsValid() bool {
	switch r {
	case DiagnosisRiskVeryHigh, DiagnosisRiskHigh, DiagnosisRiskModerate, DiagnosisRiskLow:
		return true
	default:
		return false
	}
}

// Order is the ranking position of the tier: very_high=1 ... low=4. Unknown tiers sort last.
func (r DiagnosisRisk) Order() int {
	switch r {
	case DiagnosisRiskVeryHigh:
		return 1
	case DiagnosisRiskHigh:
		return 2
	case DiagnosisRiskModerate:
		return 3
	case DiagnosisRiskLow:
		return 4
	default:
		return 5
	}
}

func (r DiagnosisRisk) String() string {
	return string(r)
}

func (t RiskTier) String() string {
	return string(t)
}

// IsValid reports whether u is a known urgency.
func (u Urgency) IsValid() bool {
	switch u {
	case UrgencyUrgent, UrgencySoon, UrgencyRoutine:
		return true
	default:
		return false
	}
}

// Rank orders urgencies; urgent ranks highest.
func (u Urgency) Rank() int {
	switch u {
	case UrgencyUrgent:
		return 3
	case UrgencySoon:
		return 2
	case UrgencyRoutine:
		return 1
	default:
		return 0
	}
}

func (u Urgency) String() string {
	return string(u)
}

// ParseGender normalizes free-form gender input.
func ParseGender(s string) (Gender, error) {
	switch s {
	case "male", "Male", "MALE", "m", "M":
		return GenderMale, nil
	case "female", "Female", "FEMALE", "f", "F":
		return GenderFemale, nil
	case "":
		return GenderUnknown, nil
	default:
		return GenderUnknown, ErrInvalidGender
	}
}

func (g Gender) String() string {
	return string(g)
}

// IsFemale reports whether female reference rows apply.
func (g Gender) IsFemale() bool {
	return g == GenderFemale
}

// IsValid reports whether c is one of the evaluated measurement categories.
func (c FindingCategory) IsValid() bool {
	switch c {
	case CategoryCardiovascular, CategoryLipid, CategoryGlucose, CategoryBlood, CategoryLiver, CategoryKidney:
		return true
	default:
		return false
	}
}

// IsValid reports whether k is a known pattern kind.
func (k PatternKind) IsValid() bool {
	switch k {
	case PatternMetabolicSyndrome, PatternCompleteMetabolicSyndrome, PatternHepatocellularInjury,
		PatternAnemia, PatternPrerenalAzotemia:
		return true
	default:
		return false
	}
}

// IsMetabolic reports whether k is one of the metabolic syndrome patterns.
func (k PatternKind) IsMetabolic() bool {
	return k == PatternMetabolicSyndrome || k == PatternCompleteMetabolicSyndrome
}
