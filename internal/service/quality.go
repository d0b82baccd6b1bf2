package service

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/clinical-reasoning-engine/internal/domain"
	"github.com/clinical-reasoning-engine/internal/knowledge"
)

// Conditions the quality engine scores.
const (
	ConditionHypertension = "hypertension"
	ConditionDiabetes     = "diabetes"
)

// Quality recommendation categories.
const (
	QualityMedicationAdjustment  = "medication_adjustment"
	QualityLifestyleModification = "lifestyle_modification"
	QualityMonitoring            = "monitoring"
	QualityTrendAlert            = "trend_alert"
	QualityPositiveFeedback      = "positive_feedback"
	QualityComplicationScreening = "complication_screening"
)

// HbA1c classifications.
const (
	HbA1cNormal      = "normal"
	HbA1cPrediabetes = "prediabetes"
	HbA1cDiabetes    = "diabetes"
)

// Fasting glucose classifications.
const (
	FastingGlucoseNormal   = "normal"
	FastingGlucoseImpaired = "impaired"
	FastingGlucoseDiabetes = "diabetes"
)

// Adherence grades.
const (
	AdherenceExcellent = "excellent"
	AdherenceGood      = "good"
	AdherenceFair      = "fair"
	AdherencePoor      = "poor"
)

// QualityMetricsEngine scores chronic-disease control against personalized targets.
type QualityMetricsEngine struct {
	params knowledge.QualityParameters
	logger *logrus.Logger
}

// NewQualityMetricsEngine creates a quality engine using the quality parameters of kb.
func NewQualityMetricsEngine(kb *knowledge.KnowledgeBase, logger *logrus.Logger) *QualityMetricsEngine {
	return &QualityMetricsEngine{params: kb.Parameters().Quality, logger: logger}
}

// Evaluate scores every condition that has serial data.
func (q *QualityMetricsEngine) Evaluate(data *domain.HealthData, profile domain.PatientProfile, now time.Time) []domain.QualityMetric {
	metrics := []domain.QualityMetric{}
	if data == nil {
		return metrics
	}
	if m := q.Hypertension(data.VitalSigns.BloodPressure, profile, now); m != nil {
		q.addComplicationScreening(m, profile, data.Screenings, now)
		metrics = append(metrics, *m)
	}
	if m := q.Diabetes(data.HbA1cSeries(), data.VitalSigns.Glucose, profile); m != nil {
		q.addComplicationScreening(m, profile, data.Screenings, now)
		metrics = append(metrics, *m)
	}
	return metrics
}

// BloodPressureTarget picks the personalized blood-pressure goal.
func (q *QualityMetricsEngine) BloodPressureTarget(profile domain.PatientProfile) domain.MetricTarget {
	t := q.params.GeneralBP
	switch {
	case profile.Age >= q.params.SeniorAge:
		t = q.params.SeniorBP
	case profile.Diabetic || profile.HasCondition("diabetes") || profile.HasCondition("ckd") ||
		profile.HasCondition("chronic kidney disease"):
		t = q.params.DiabetesCKDBP
	}
	return domain.MetricTarget{SystolicMax: t.SystolicMax, DiastolicMax: t.DiastolicMax, Rationale: t.Rationale}
}

// HbA1cTarget picks the personalized glycemic goal.
func (q *QualityMetricsEngine) HbA1cTarget(profile domain.PatientProfile) domain.MetricTarget {
	t := q.params.GeneralHbA1c
	hasComplications := len(profile.Complications) > 0
	switch {
	case profile.Age >= q.params.SeniorAge || hasComplication(profile, "severe_hypoglycemia") ||
		hasComplication(profile, "advanced_complications"):
		t = q.params.LooseHbA1c
	case profile.Age > 0 && profile.Age < q.params.YoungAdultAge && !hasComplications:
		t = q.params.TightHbA1c
	}
	return domain.MetricTarget{ValueMax: t.Max, Rationale: t.Rationale}
}

func hasComplication(profile domain.PatientProfile, name string) bool {
	for _, c := range profile.Complications {
		if c == name {
			return true
		}
	}
	return false
}

// Hypertension scores a blood-pressure series. It returns nil without readings.
func (q *QualityMetricsEngine) Hypertension(readings []domain.BloodPressureReading, profile domain.PatientProfile, now time.Time) *domain.QualityMetric {
	if len(readings) == 0 {
		return nil
	}
	sorted := domain.SortBloodPressure(readings)
	target := q.BloodPressureTarget(profile)

	systolic := make([]float64, len(sorted))
	diastolic := make([]float64, len(sorted))
	atGoal := 0
	for i, r := range sorted {
		systolic[i], diastolic[i] = r.Systolic, r.Diastolic
		if r.Systolic <= target.SystolicMax && r.Diastolic <= target.DiastolicMax {
			atGoal++
		}
	}

	rate := round(float64(atGoal)/float64(len(sorted)), 3)
	avgSys, avgDia := mean(systolic), mean(diastolic)
	secondary := round(avgDia, 1)
	trend, change := q.halfSplitTrend(systolic)
	variability := q.variability(systolic)
	adherence := q.adherence(sorted, now)
	averageAtGoal := avgSys <= target.SystolicMax && avgDia <= target.DiastolicMax

	m := &domain.QualityMetric{
		Condition:          ConditionHypertension,
		Target:             target,
		ActualAverage:      round(avgSys, 1),
		SecondaryAverage:   &secondary,
		GoalAttainmentRate: rate,
		ReadingsAtGoal:     atGoal,
		TotalReadings:      len(sorted),
		Trend:              trend,
		TrendChange:        change,
		Variability:        variability,
		VarianceGrade:      variability.Grade,
		Adherence:          &adherence,
		Grade:              GradeFor(rate),
		Control:            controlFor(rate, averageAtGoal),
	}
	m.Recommendations = hypertensionRecommendations(m, averageAtGoal)

	q.logger.WithFields(logrus.Fields{
		"condition": m.Condition,
		"readings":  m.TotalReadings,
		"rate":      m.GoalAttainmentRate,
		"grade":     m.Grade,
	}).Debug("Quality metric computed")
	return m
}

// Diabetes scores an HbA1c series and fasting glucose readings. It returns nil when both are
// empty. Without HbA1c the grade follows the fasting glucose average.
func (q *QualityMetricsEngine) Diabetes(hba1c, glucose []domain.Reading, profile domain.PatientProfile) *domain.QualityMetric {
	if len(hba1c) == 0 && len(glucose) == 0 {
		return nil
	}
	m := &domain.QualityMetric{
		Condition:     ConditionDiabetes,
		Target:        q.HbA1cTarget(profile),
		Trend:         domain.TrendInsufficientData,
		Variability:   domain.Variability{Grade: domain.VarianceInsufficientData},
		VarianceGrade: domain.VarianceInsufficientData,
		Grade:         domain.GradeF,
	}
	if len(hba1c) > 0 {
		q.scoreHbA1c(m, hba1c)
	}
	if len(glucose) > 0 {
		m.FastingGlucose = q.FastingGlucose(glucose)
		if len(hba1c) == 0 && m.FastingGlucose.AtGoal {
			m.Grade = domain.GradeA
		}
	}
	m.Recommendations = diabetesRecommendations(m)

	q.logger.WithFields(logrus.Fields{
		"condition": m.Condition,
		"hba1c":     len(hba1c),
		"glucose":   len(glucose),
		"grade":     m.Grade,
	}).Debug("Quality metric computed")
	return m
}

func (q *QualityMetricsEngine) scoreHbA1c(m *domain.QualityMetric, series []domain.Reading) {
	sorted := domain.SortReadings(series)
	target := m.Target

	values := make([]float64, len(sorted))
	atGoal := 0
	for i, r := range sorted {
		values[i] = r.Value
		if r.Value <= target.ValueMax {
			atGoal++
		}
	}

	latest := values[len(values)-1]
	latestAtGoal := latest <= target.ValueMax
	rate := round(float64(atGoal)/float64(len(values)), 3)
	trend, change := q.latestTrend(values)
	variability := q.variability(values)

	if latestAtGoal {
		m.Grade = domain.GradeA
	}
	m.ActualAverage = round(mean(values), 2)
	m.GoalAttainmentRate = rate
	m.ReadingsAtGoal = atGoal
	m.TotalReadings = len(values)
	m.Trend, m.TrendChange = trend, change
	m.Variability, m.VarianceGrade = variability, variability.Grade
	m.Classification = q.ClassifyHbA1c(latest)
	m.LatestValue, m.LatestAtGoal = &latest, &latestAtGoal
}

// FastingGlucose averages fasting glucose readings in mmol/L. Values in mg/dL are converted first.
func (q *QualityMetricsEngine) FastingGlucose(readings []domain.Reading) *domain.GlucoseSummary {
	values := make([]float64, len(readings))
	for i, r := range readings {
		values[i] = NormalizeGlucose(r.Value)
	}
	avg := round(mean(values), 1)
	return &domain.GlucoseSummary{
		Average:        avg,
		Unit:           "mmol/L",
		TargetMax:      q.params.FastingGlucoseTargetMax,
		AtGoal:         avg <= q.params.FastingGlucoseTargetMax,
		Classification: q.ClassifyFastingGlucose(avg),
		Readings:       len(values),
	}
}

// ClassifyFastingGlucose buckets a fasting glucose value in mmol/L.
func (q *QualityMetricsEngine) ClassifyFastingGlucose(v float64) string {
	switch {
	case v < q.params.FastingGlucoseImpaired:
		return FastingGlucoseNormal
	case v < q.params.FastingGlucoseDiabetes:
		return FastingGlucoseImpaired
	default:
		return FastingGlucoseDiabetes
	}
}

// ClassifyHbA1c buckets a single HbA1c percentage.
func (q *QualityMetricsEngine) ClassifyHbA1c(v float64) string {
	switch {
	case v < q.params.HbA1cPrediabetes:
		return HbA1cNormal
	case v < q.params.HbA1cDiabetes:
		return HbA1cPrediabetes
	default:
		return HbA1cDiabetes
	}
}

// ComplicationScreening reports the target-organ screening status for condition. It returns
// nil for a condition without a screening protocol.
func (q *QualityMetricsEngine) ComplicationScreening(condition string, records []domain.ScreeningRecord, now time.Time) *domain.ComplicationScreeningStatus {
	protocol := q.params.ComplicationScreenings[condition]
	if len(protocol) == 0 {
		return nil
	}
	last := lastScreenings(records)
	status := &domain.ComplicationScreeningStatus{
		Screenings: make([]domain.ComplicationScreeningItem, 0, len(protocol)),
		Total:      len(protocol),
	}
	for _, s := range protocol {
		item := domain.ComplicationScreeningItem{
			Name:            s.Name,
			DisplayName:     s.DisplayName,
			TargetOrgan:     s.TargetOrgan,
			FrequencyMonths: parseFrequencyMonths(s.Frequency),
		}
		date, done := last[s.Name]
		if !done {
			item.Status = domain.ComplicationNeverDone
			status.NeverDone++
			status.Screenings = append(status.Screenings, item)
			continue
		}

		due := date.AddDate(0, item.FrequencyMonths, 0)
		since := int(now.Sub(date).Hours() / 24)
		until := int(math.Ceil(due.Sub(now).Hours() / 24))
		item.LastDate, item.NextDueDate = &date, &due
		item.DaysSinceLast, item.DaysUntilDue = &since, &until
		switch {
		case until < 0:
			item.Status = domain.ComplicationOverdue
			status.Overdue++
		case until <= q.params.ComplicationDueSoonDays:
			item.Status = domain.ComplicationDueSoon
			status.DueSoon++
		default:
			item.Status = domain.ComplicationUpToDate
			status.UpToDate++
		}
		status.Screenings = append(status.Screenings, item)
	}
	status.ComplianceRate = round(float64(status.UpToDate+status.DueSoon)/float64(status.Total)*100, 1)
	return status
}

// addComplicationScreening attaches screening status once the condition is diagnosed or any of
// its screenings has been recorded.
func (q *QualityMetricsEngine) addComplicationScreening(m *domain.QualityMetric, profile domain.PatientProfile, records []domain.ScreeningRecord, now time.Time) {
	status := q.ComplicationScreening(m.Condition, records, now)
	if status == nil || (!diagnosed(m.Condition, profile) && status.NeverDone == status.Total) {
		return
	}
	m.ComplicationScreening = status
	if rec, ok := complicationRecommendation(status); ok {
		m.Recommendations = append(m.Recommendations, rec)
	}
}

func diagnosed(condition string, profile domain.PatientProfile) bool {
	switch condition {
	case ConditionDiabetes:
		return profile.Diabetic || profile.HasCondition(ConditionDiabetes)
	case ConditionHypertension:
		return profile.TreatedHypertension || profile.HasCondition(ConditionHypertension)
	default:
		return false
	}
}

var frequencyPattern = regexp.MustCompile(`^every\s+(\d+)(?:\s*-\s*\d+)?\s+(month|year)s?$`)

// parseFrequencyMonths reads a screening frequency such as "annual" or "every 6 months". A range
// like "every 2-5 years" uses its lower bound. Anything unrecognized is treated as annual.
func parseFrequencyMonths(frequency string) int {
	f := strings.ToLower(strings.TrimSpace(frequency))
	switch f {
	case "annual", "annually", "yearly", "every year":
		return 12
	case "monthly", "every month":
		return 1
	}
	match := frequencyPattern.FindStringSubmatch(f)
	if match == nil {
		return 12
	}
	n, err := strconv.Atoi(match[1])
	if err != nil || n <= 0 {
		return 12
	}
	if match[2] == "year" {
		return n * 12
	}
	return n
}

func complicationRecommendation(status *domain.ComplicationScreeningStatus) (domain.QualityRecommendation, bool) {
	var names []string
	priority := domain.UrgencyRoutine
	for _, item := range status.Screenings {
		switch item.Status {
		case domain.ComplicationOverdue:
			priority = domain.UrgencySoon
			names = append(names, item.DisplayName)
		case domain.ComplicationNeverDone:
			names = append(names, item.DisplayName)
		}
	}
	if len(names) == 0 {
		return domain.QualityRecommendation{}, false
	}
	return domain.QualityRecommendation{
		Priority: priority,
		Category: QualityComplicationScreening,
		Text:     "Schedule complication screening: " + strings.Join(names, ", "),
	}, true
}

// halfSplitTrend compares the mean of the first half of a series with the mean of the
// second half. Lower is better. The middle value of an odd series belongs to the second half.
func (q *QualityMetricsEngine) halfSplitTrend(values []float64) (domain.Trend, *float64) {
	if len(values) < 2 {
		return domain.TrendInsufficientData, nil
	}
	mid := len(values) / 2
	first, second := mean(values[:mid]), mean(values[mid:])
	if first == 0 {
		return domain.TrendInsufficientData, nil
	}
	change := round((second-first)/first*100, 1)
	return trendFromChange(change, q.params.TrendPercent), &change
}

// latestTrend compares the last two values of a series against an absolute delta.
func (q *QualityMetricsEngine) latestTrend(values []float64) (domain.Trend, *float64) {
	if len(values) < 2 {
		return domain.TrendInsufficientData, nil
	}
	delta := round(values[len(values)-1]-values[len(values)-2], 2)
	return trendFromChange(delta, q.params.HbA1cTrendDelta), &delta
}

func trendFromChange(change, threshold float64) domain.Trend {
	switch {
	case change < -threshold:
		return domain.TrendImproving
	case change > threshold:
		return domain.TrendWorsening
	default:
		return domain.TrendStable
	}
}

// variability needs at least three values.
func (q *QualityMetricsEngine) variability(values []float64) domain.Variability {
	if len(values) < 3 {
		return domain.Variability{Grade: domain.VarianceInsufficientData}
	}
	m := mean(values)
	sd := populationSD(values, m)
	if m == 0 {
		return domain.Variability{Grade: domain.VarianceInsufficientData}
	}
	cv := sd / m * 100

	grade := domain.VarianceHigh
	switch {
	case cv < q.params.ModerateCV:
		grade = domain.VarianceLow
	case cv <= q.params.HighCV:
		grade = domain.VarianceModerate
	}
	sdRounded, cvRounded := round(sd, 2), round(cv, 2)
	return domain.Variability{StandardDeviation: &sdRounded, CoefficientOfVariation: &cvRounded, Grade: grade}
}

// adherence counts readings within the trailing window ending at now.
func (q *QualityMetricsEngine) adherence(sorted []domain.BloodPressureReading, now time.Time) domain.Adherence {
	days := q.params.AdherenceDays
	windowStart := now.AddDate(0, 0, -days)
	actual := 0
	seen := make(map[string]bool)
	for _, r := range sorted {
		if r.Date.Before(windowStart) || r.Date.After(now) {
			continue
		}
		actual++
		seen[r.Date.Format("2006-01-02")] = true
	}

	target := days * q.params.ReadingsPerDay
	rate := 0.0
	if target > 0 {
		rate = math.Min(float64(actual)/float64(target), 1)
	}
	rate = round(rate, 2)
	return domain.Adherence{
		Rate:           rate,
		ActualReadings: actual,
		TargetReadings: target,
		DaysMeasured:   len(seen),
		Grade:          adherenceGrade(rate),
	}
}

func adherenceGrade(rate float64) string {
	switch {
	case rate >= 0.9:
		return AdherenceExcellent
	case rate >= 0.7:
		return AdherenceGood
	case rate >= 0.5:
		return AdherenceFair
	default:
		return AdherencePoor
	}
}

// GradeFor converts a goal attainment rate into a letter grade.
func GradeFor(rate float64) domain.QualityGrade {
	switch {
	case rate >= 0.9:
		return domain.GradeA
	case rate >= 0.8:
		return domain.GradeB
	case rate >= 0.7:
		return domain.GradeC
	case rate >= 0.6:
		return domain.GradeD
	default:
		return domain.GradeF
	}
}

func controlFor(rate float64, averageAtGoal bool) domain.ControlClass {
	switch {
	case rate >= 0.8 && averageAtGoal:
		return domain.ControlOptimal
	case rate >= 0.5 && averageAtGoal:
		return domain.ControlGood
	case rate >= 0.3:
		return domain.ControlFair
	default:
		return domain.ControlPoor
	}
}

func hypertensionRecommendations(m *domain.QualityMetric, averageAtGoal bool) []domain.QualityRecommendation {
	recs := []domain.QualityRecommendation{}
	if m.GoalAttainmentRate < 0.5 {
		recs = append(recs, domain.QualityRecommendation{
			Priority: domain.UrgencyUrgent,
			Category: QualityMedicationAdjustment,
			Text:     fmt.Sprintf("Only %.0f%% of readings meet the target; review antihypertensive therapy", m.GoalAttainmentRate*100),
		})
	}
	if !averageAtGoal {
		recs = append(recs, domain.QualityRecommendation{
			Priority: domain.UrgencySoon,
			Category: QualityLifestyleModification,
			Text:     "Average blood pressure is above target; reduce sodium, exercise regularly and manage weight",
		})
	}
	recs = append(recs, domain.QualityRecommendation{
		Priority: domain.UrgencyRoutine,
		Category: QualityMonitoring,
		Text:     "Measure blood pressure at home twice daily",
	})
	switch m.Trend {
	case domain.TrendWorsening:
		recs = append(recs, domain.QualityRecommendation{
			Priority: domain.UrgencyUrgent,
			Category: QualityTrendAlert,
			Text:     "Blood pressure is trending upward; contact your doctor",
		})
	case domain.TrendImproving:
		recs = append(recs, domain.QualityRecommendation{
			Priority: domain.UrgencyRoutine,
			Category: QualityPositiveFeedback,
			Text:     "Blood pressure is improving; keep up the current plan",
		})
	}
	return recs
}

func diabetesRecommendations(m *domain.QualityMetric) []domain.QualityRecommendation {
	recs := []domain.QualityRecommendation{}
	hba1cAboveTarget := m.LatestAtGoal != nil && !*m.LatestAtGoal
	if hba1cAboveTarget {
		recs = append(recs, domain.QualityRecommendation{
			Priority: domain.UrgencySoon,
			Category: QualityMedicationAdjustment,
			Text:     fmt.Sprintf("HbA1c is above the %s%% target; review glucose-lowering therapy", formatNumber(m.Target.ValueMax)),
		})
	}
	if g := m.FastingGlucose; g != nil && !g.AtGoal && !hba1cAboveTarget {
		recs = append(recs, domain.QualityRecommendation{
			Priority: domain.UrgencySoon,
			Category: QualityMedicationAdjustment,
			Text: fmt.Sprintf("Average fasting glucose of %s mmol/L is above the %s mmol/L target; review glucose-lowering therapy",
				formatNumber(g.Average), formatNumber(g.TargetMax)),
		})
	}
	recs = append(recs, domain.QualityRecommendation{
		Priority: domain.UrgencyRoutine,
		Category: QualityMonitoring,
		Text:     "Recheck HbA1c every 3 months",
	})
	switch m.Trend {
	case domain.TrendWorsening:
		recs = append(recs, domain.QualityRecommendation{
			Priority: domain.UrgencyUrgent,
			Category: QualityTrendAlert,
			Text:     "HbA1c is rising; contact your doctor",
		})
	case domain.TrendImproving:
		recs = append(recs, domain.QualityRecommendation{
			Priority: domain.UrgencyRoutine,
			Category: QualityPositiveFeedback,
			Text:     "HbA1c is improving; keep up the current plan",
		})
	}
	return recs
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func populationSD(values []float64, m float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += (v - m) * (v - m)
	}
	return math.Sqrt(sum / float64(len(values)))
}
