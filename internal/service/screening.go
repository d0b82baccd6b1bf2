package service

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/clinical-reasoning-engine/internal/domain"
	"github.com/clinical-reasoning-engine/internal/knowledge"
)

const screeningStage = "screening"

// Screening types with dedicated eligibility rules.
const (
	ScreeningLung       = "cancer.lung"
	ScreeningColorectal = "cancer.colorectal"
)

// Age groups of the screening protocols.
const (
	AgeGroupYoungAdult = "young_adult"
	AgeGroupMiddleAge  = "middle_age"
	AgeGroupPreSenior  = "pre_senior"
	AgeGroupSenior     = "senior"
)

const (
	minScreeningAge = 18
	daysPerYear     = 365.25
)

// Lung screening criteria.
const (
	lungMinAge            = 50
	lungMaxAge            = 80
	lungMinPackYears      = 20
	lungMaxYearsSinceQuit = 15
)

// Colorectal screening criteria.
const (
	colorectalGeneralStart    = 45
	colorectalGeneralInterval = 10
	colorectalStopAge         = 75
	colorectalFamilyStart     = 40
	colorectalFamilyLead      = 10
	colorectalFamilyInterval  = 5
	colorectalIBDLead         = 8
	colorectalIBDInterval     = 1
)

// ScreeningScheduler computes risk-adjusted screening intervals and due dates.
type ScreeningScheduler struct {
	kb     *knowledge.KnowledgeBase
	params knowledge.ScreeningParameters
	logger *logrus.Logger
}

// NewScreeningScheduler creates a scheduler over kb.
func NewScreeningScheduler(kb *knowledge.KnowledgeBase, logger *logrus.Logger) *ScreeningScheduler {
	return &ScreeningScheduler{kb: kb, params: kb.Parameters().Screening, logger: logger}
}

// AgeGroup maps an adult age to its protocol bracket. Ages under 18 have no bracket.
func AgeGroup(age int) (string, bool) {
	switch {
	case age < minScreeningAge:
		return "", false
	case age < 40:
		return AgeGroupYoungAdult, true
	case age < 50:
		return AgeGroupMiddleAge, true
	case age < 65:
		return AgeGroupPreSenior, true
	default:
		return AgeGroupSenior, true
	}
}

// Schedule plans one screening type. lastDate may be nil when the screening was never done,
// in which case it is overdue with no due date.
func (s *ScreeningScheduler) Schedule(screeningType string, profile domain.PatientProfile, lastDate *time.Time, now time.Time) (*domain.ScreeningSchedule, error) {
	protocol, ok := s.kb.Screening(screeningType)
	if !ok {
		return nil, fmt.Errorf("%w: %w", domain.ErrUnknownScreening,
			&domain.MissingKnowledgeError{Table: "screening protocol", Key: screeningType})
	}
	group, ok := AgeGroup(profile.Age)
	if !ok {
		return nil, &domain.NotApplicableError{
			Model:  screeningType,
			Reason: fmt.Sprintf("screening schedules start at age %d", minScreeningAge),
		}
	}
	rec, ok := protocol.AgeSpecificRecommendations[group]
	if !ok {
		return nil, &domain.MissingKnowledgeError{Table: "screening age group", Key: screeningType + "." + group}
	}

	schedule := &domain.ScreeningSchedule{
		ScreeningType:  screeningType,
		AgeGroup:       group,
		Adjustments:    []domain.IntervalAdjustment{},
		LastDate:       lastDate,
		Recommendation: rec.Recommendation,
	}
	base, covered, ok := baseInterval(screeningType, rec, profile)
	if !ok {
		schedule.Urgency = domain.ScreeningNoPeriod
		return schedule, nil
	}

	interval := base
	factors := make([]string, 0, len(protocol.RiskAdjustments))
	for factor := range protocol.RiskAdjustments {
		factors = append(factors, factor)
	}
	sort.Strings(factors)
	for _, factor := range factors {
		if covered[factor] || !profileHasFactor(profile, factor) {
			continue
		}
		multiplier := protocol.RiskAdjustments[factor]
		from := interval
		interval *= multiplier
		schedule.Adjustments = append(schedule.Adjustments, domain.IntervalAdjustment{
			RiskFactor: factor,
			Multiplier: multiplier,
			FromYears:  round(from, 2),
			ToYears:    round(interval, 2),
		})
	}
	interval = round(math.Max(interval, s.params.MinimumIntervalYears), 2)

	schedule.BaseIntervalYears = base
	schedule.AdjustedIntervalYears = interval

	if lastDate == nil {
		schedule.Urgency = domain.ScreeningOverdue
		return schedule, nil
	}
	next := lastDate.Add(time.Duration(interval * daysPerYear * 24 * float64(time.Hour)))
	days := int(math.Ceil(next.Sub(now).Hours() / 24))
	schedule.NextDueDate = &next
	schedule.DaysUntilDue = &days
	schedule.Urgency = s.urgencyFor(days)
	return schedule, nil
}

// colorectalHistoryFactors are already reflected in an eligibility-derived interval.
var colorectalHistoryFactors = map[string]bool{
	"family_history_colorectal_cancer": true,
	"inflammatory_bowel_disease":       true,
}

// baseInterval returns the bracket interval. A colorectal bracket without one falls back to
// the eligibility interval once a high-risk history makes the patient eligible early; the
// history factors it already accounts for are returned so they are not applied twice.
func baseInterval(screeningType string, rec knowledge.AgeRecommendation, profile domain.PatientProfile) (float64, map[string]bool, bool) {
	if rec.BaseIntervalYears != nil {
		return *rec.BaseIntervalYears, nil, true
	}
	if screeningType != ScreeningColorectal {
		return 0, nil, false
	}
	e := ColorectalEligibility(profile)
	if !e.Eligible {
		return 0, nil, false
	}
	return float64(e.IntervalYears), colorectalHistoryFactors, true
}

func (s *ScreeningScheduler) urgencyFor(days int) domain.ScreeningUrgency {
	switch {
	case days < 0:
		return domain.ScreeningOverdue
	case days < s.params.UrgentDays:
		return domain.ScreeningUrgent
	case days < s.params.DueSoonDays:
		return domain.ScreeningDueSoon
	default:
		return domain.ScreeningRoutine
	}
}

// profileHasFactor matches a protocol risk factor against the profile lists and flags.
func profileHasFactor(profile domain.PatientProfile, factor string) bool {
	switch factor {
	case "smoking":
		if profile.Smoker {
			return true
		}
	case "diabetes":
		if profile.Diabetic {
			return true
		}
	case "hypertension":
		if profile.TreatedHypertension {
			return true
		}
	case "family_history_cvd":
		if profile.FamilyHistoryCVD {
			return true
		}
	case "family_history_colorectal_cancer":
		if profile.ColorectalHistory != nil && profile.ColorectalHistory.FamilyDiagnosisAge != nil {
			return true
		}
	case "inflammatory_bowel_disease":
		if profile.ColorectalHistory != nil && profile.ColorectalHistory.IBDDiagnosisAge != nil {
			return true
		}
	}
	return profile.HasCondition(factor)
}

// ScheduleAll plans every protocol that applies to the profile. Gender-specific protocols
// are skipped for the other gender. Lung and colorectal screening require eligibility.
func (s *ScreeningScheduler) ScheduleAll(profile domain.PatientProfile, records []domain.ScreeningRecord, now time.Time) ([]domain.ScreeningSchedule, []error) {
	schedules := []domain.ScreeningSchedule{}
	if _, ok := AgeGroup(profile.Age); !ok {
		return schedules, []error{&domain.NotApplicableError{
			Model:  screeningStage,
			Reason: fmt.Sprintf("screening schedules start at age %d", minScreeningAge),
		}}
	}

	last := lastScreenings(records)
	var errs []error
	for _, screeningType := range s.kb.ScreeningTypes() {
		protocol, _ := s.kb.Screening(screeningType)
		if !protocol.AppliesTo(profile.Gender) {
			continue
		}
		switch screeningType {
		case ScreeningLung:
			if lung := LungEligibility(profile); lung == nil || !lung.Eligible {
				continue
			}
		case ScreeningColorectal:
			if !ColorectalEligibility(profile).Eligible {
				continue
			}
		}

		var lastDate *time.Time
		if d, ok := last[screeningType]; ok {
			lastDate = &d
		}
		schedule, err := s.Schedule(screeningType, profile, lastDate, now)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		schedules = append(schedules, *schedule)
	}

	recorded := make([]string, 0, len(last))
	for screeningType := range last {
		recorded = append(recorded, screeningType)
	}
	sort.Strings(recorded)
	for _, screeningType := range recorded {
		if _, ok := s.kb.Screening(screeningType); !ok {
			s.logger.WithField("screening_type", screeningType).Debug("Screening record has no protocol")
			errs = append(errs, &domain.MissingKnowledgeError{Table: "screening protocol", Key: screeningType})
		}
	}
	return schedules, errs
}

func lastScreenings(records []domain.ScreeningRecord) map[string]time.Time {
	out := make(map[string]time.Time, len(records))
	for _, r := range records {
		if r.LastDate.IsZero() {
			continue
		}
		if prev, ok := out[r.Type]; !ok || r.LastDate.After(prev) {
			out[r.Type] = r.LastDate.Time
		}
	}
	return out
}

// Eligibility runs the dedicated eligibility checks. Lung is only evaluated with a
// smoking history.
func Eligibility(profile domain.PatientProfile) *domain.ScreeningEligibility {
	if profile.Age <= 0 {
		return nil
	}
	colorectal := ColorectalEligibility(profile)
	return &domain.ScreeningEligibility{
		Lung:       LungEligibility(profile),
		Colorectal: &colorectal,
	}
}

// LungEligibility applies the low-dose CT criteria: age 50-80, at least 20 pack-years and
// currently smoking or quit within 15 years. It returns nil without a smoking history.
func LungEligibility(profile domain.PatientProfile) *domain.LungScreeningEligibility {
	h := profile.SmokingHistory
	if h == nil {
		return nil
	}
	packYears := round(h.Years*h.CigarettesPerDay/20, 1)
	e := &domain.LungScreeningEligibility{
		AgeEligible:           profile.Age >= lungMinAge && profile.Age <= lungMaxAge,
		PackYearsEligible:     packYears >= lungMinPackYears,
		SmokingStatusEligible: h.QuitYearsAgo == nil || *h.QuitYearsAgo < lungMaxYearsSinceQuit,
		PackYears:             packYears,
	}
	e.Eligible = e.AgeEligible && e.PackYearsEligible && e.SmokingStatusEligible
	return e
}

// ColorectalEligibility picks the start age and interval. Inflammatory bowel disease
// overrides a family history, which overrides the general population rule.
func ColorectalEligibility(profile domain.PatientProfile) domain.ColorectalScreeningEligibility {
	e := domain.ColorectalScreeningEligibility{
		StartAge:           colorectalGeneralStart,
		IntervalYears:      colorectalGeneralInterval,
		RecommendedMethod:  "colonoscopy",
		AlternativeMethods: []string{"fit", "flexible_sigmoidoscopy", "ct_colonography"},
	}
	age := profile.Age
	h := profile.ColorectalHistory

	switch {
	case h != nil && h.IBDDiagnosisAge != nil:
		e.StartAge = *h.IBDDiagnosisAge + colorectalIBDLead
		e.IntervalYears = colorectalIBDInterval
		e.Eligible = age >= e.StartAge
	case h != nil && h.FamilyDiagnosisAge != nil:
		e.StartAge = min(colorectalFamilyStart, *h.FamilyDiagnosisAge-colorectalFamilyLead)
		e.IntervalYears = colorectalFamilyInterval
		e.Eligible = age >= e.StartAge && age <= colorectalStopAge
	default:
		e.Eligible = age >= e.StartAge && age <= colorectalStopAge
	}
	return e
}
