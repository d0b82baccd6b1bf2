package service

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/clinical-reasoning-engine/internal/domain"
	"github.com/clinical-reasoning-engine/internal/knowledge"
)

// Follow-up advice per overall urgency.
var followUpText = map[domain.Urgency]string{
	domain.UrgencyUrgent:  "See a doctor within 1 week",
	domain.UrgencySoon:    "See a doctor within 1 month",
	domain.UrgencyRoutine: "Recheck in 3-6 months",
}

// Further tests triggered by finding categories and patterns.
var (
	metabolicTests = []string{"10-year ASCVD risk assessment", "Diabetes complication screening"}
	liverTests     = []string{"Hepatitis B and C serology", "Liver ultrasound"}
	kidneyTests    = []string{"eGFR and urine albumin-to-creatinine ratio staging", "Urinary tract ultrasound"}
)

// SynthesisInput carries every upstream result into the synthesizer.
type SynthesisInput struct {
	Findings  []domain.AbnormalityFinding
	Patterns  []domain.Pattern
	Symptoms  []domain.SymptomAnalysis
	Diagnoses []domain.DiagnosisCandidate
	Risk      *domain.RiskScore
	Quality   []domain.QualityMetric
	Screening []domain.ScreeningSchedule
}

// RecommendationSynthesizer merges upstream outputs into one prioritized, deduplicated plan.
type RecommendationSynthesizer struct {
	kb     *knowledge.KnowledgeBase
	logger *logrus.Logger
}

// NewRecommendationSynthesizer creates a synthesizer over kb.
func NewRecommendationSynthesizer(kb *knowledge.KnowledgeBase, logger *logrus.Logger) *RecommendationSynthesizer {
	return &RecommendationSynthesizer{kb: kb, logger: logger}
}

// recommendationList deduplicates by text. A repeated text keeps its first category, takes
// the highest priority seen and accumulates source findings.
type recommendationList struct {
	items []domain.Recommendation
	index map[string]int
}

func (l *recommendationList) add(priority domain.Urgency, category domain.RecommendationCategory, text string, sources ...string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if l.index == nil {
		l.index = make(map[string]int)
	}
	if i, ok := l.index[text]; ok {
		existing := &l.items[i]
		if priority.Rank() > existing.Priority.Rank() {
			existing.Priority = priority
		}
		existing.SourceFindings = dedupe(append(existing.SourceFindings, sources...))
		return
	}
	l.index[text] = len(l.items)
	l.items = append(l.items, domain.Recommendation{
		Priority:       priority,
		Category:       category,
		Text:           text,
		SourceFindings: dedupe(sources),
	})
}

// Synthesize builds the recommendation set. The overall urgency is urgent on any severe
// finding, symptom red flag or high-risk diagnosis, soon with two or more abnormalities and
// routine otherwise.
func (r *RecommendationSynthesizer) Synthesize(in SynthesisInput) domain.RecommendationSet {
	urgency := OverallUrgency(in.Findings, in.Symptoms, in.Diagnoses)
	var list recommendationList

	list.add(urgency, domain.RecommendFollowUp, followUpText[urgency])

	for _, f := range in.Findings {
		entry, ok := r.kb.LabAbnormality(f.Label)
		if !ok {
			continue
		}
		priority := priorityForSeverity(f.Severity)
		for _, text := range entry.Management.Lifestyle {
			list.add(priority, domain.RecommendLifestyle, text, f.Label)
		}
		for _, text := range entry.Management.Pharmacological {
			list.add(priority, domain.RecommendPharmacological, text, f.Label)
		}
	}

	r.addFurtherTesting(&list, in)

	if in.Risk != nil {
		r.addRiskAdvice(&list, in.Risk)
	}
	for _, m := range in.Quality {
		for _, rec := range m.Recommendations {
			list.add(rec.Priority, qualityCategory(rec.Category), rec.Text, m.Condition)
		}
	}
	for _, s := range in.Screening {
		r.addScreening(&list, s)
	}

	sort.SliceStable(list.items, func(i, j int) bool {
		return list.items[i].Priority.Rank() > list.items[j].Priority.Rank()
	})

	set := domain.RecommendationSet{
		Urgency:         urgency,
		FollowUp:        []string{},
		Lifestyle:       []string{},
		Pharmacological: []string{},
		FurtherTesting:  []string{},
		Items:           list.items,
	}
	if set.Items == nil {
		set.Items = []domain.Recommendation{}
	}
	for _, item := range set.Items {
		switch item.Category {
		case domain.RecommendFollowUp:
			set.FollowUp = append(set.FollowUp, item.Text)
		case domain.RecommendLifestyle:
			set.Lifestyle = append(set.Lifestyle, item.Text)
		case domain.RecommendPharmacological:
			set.Pharmacological = append(set.Pharmacological, item.Text)
		case domain.RecommendFurtherTesting:
			set.FurtherTesting = append(set.FurtherTesting, item.Text)
		}
	}

	r.logger.WithFields(logrus.Fields{
		"urgency": urgency,
		"items":   len(set.Items),
	}).Debug("Recommendations synthesized")
	return set
}

func (r *RecommendationSynthesizer) addFurtherTesting(list *recommendationList, in SynthesisInput) {
	for _, p := range in.Patterns {
		if p.Kind.IsMetabolic() {
			for _, t := range metabolicTests {
				list.add(domain.UrgencySoon, domain.RecommendFurtherTesting, t, p.Name)
			}
		}
	}
	for _, f := range in.Findings {
		var tests []string
		switch f.Category {
		case domain.CategoryLiver:
			tests = liverTests
		case domain.CategoryKidney:
			tests = kidneyTests
		}
		for _, t := range tests {
			list.add(domain.UrgencySoon, domain.RecommendFurtherTesting, t, f.Label)
		}
	}
	for _, s := range in.Symptoms {
		priority := domain.UrgencyRoutine
		if len(s.RedFlags) > 0 {
			priority = domain.UrgencyUrgent
		}
		for _, t := range s.RecommendedTests {
			list.add(priority, domain.RecommendFurtherTesting, t, s.Symptom.Name)
		}
	}
}

func (r *RecommendationSynthesizer) addRiskAdvice(list *recommendationList, risk *domain.RiskScore) {
	source := "cardiovascular risk " + string(risk.Tier)
	priority := domain.UrgencyRoutine
	switch risk.Tier {
	case domain.RiskTierHigh, domain.RiskTierVeryHigh:
		priority = domain.UrgencySoon
	}
	for _, text := range risk.Advice.Priority {
		list.add(domain.UrgencyUrgent, domain.RecommendFollowUp, text, source)
	}
	for _, text := range risk.Advice.Lifestyle {
		list.add(priority, domain.RecommendLifestyle, text, source)
	}
	for _, text := range risk.Advice.Pharmacological {
		list.add(priority, domain.RecommendPharmacological, text, source)
	}
	for _, text := range risk.Advice.Screening {
		list.add(priority, domain.RecommendFurtherTesting, text, source)
	}
	for _, text := range risk.Advice.FollowUp {
		list.add(priority, domain.RecommendFollowUp, text, source)
	}
}

func (r *RecommendationSynthesizer) addScreening(list *recommendationList, s domain.ScreeningSchedule) {
	name := s.ScreeningType
	if p, ok := r.kb.Screening(s.ScreeningType); ok && p.Name != "" {
		name = p.Name
	}
	switch s.Urgency {
	case domain.ScreeningOverdue:
		list.add(domain.UrgencySoon, domain.RecommendFurtherTesting, name+" is overdue", s.ScreeningType)
	case domain.ScreeningUrgent:
		list.add(domain.UrgencySoon, domain.RecommendFurtherTesting,
			fmt.Sprintf("%s is due within %d days", name, *s.DaysUntilDue), s.ScreeningType)
	case domain.ScreeningDueSoon:
		list.add(domain.UrgencyRoutine, domain.RecommendFurtherTesting,
			fmt.Sprintf("%s is due within %d days", name, *s.DaysUntilDue), s.ScreeningType)
	}
}

// OverallUrgency derives the report urgency.
func OverallUrgency(findings []domain.AbnormalityFinding, symptoms []domain.SymptomAnalysis, diagnoses []domain.DiagnosisCandidate) domain.Urgency {
	for _, f := range findings {
		if f.Severity.AtLeast(domain.SeveritySevere) {
			return domain.UrgencyUrgent
		}
	}
	for _, s := range symptoms {
		if len(s.RedFlags) > 0 {
			return domain.UrgencyUrgent
		}
	}
	for _, d := range diagnoses {
		if d.Risk == domain.DiagnosisRiskHigh || d.Risk == domain.DiagnosisRiskVeryHigh {
			return domain.UrgencyUrgent
		}
	}
	if len(findings) >= 2 {
		return domain.UrgencySoon
	}
	return domain.UrgencyRoutine
}

func priorityForSeverity(s domain.SeverityTier) domain.Urgency {
	switch {
	case s.AtLeast(domain.SeveritySevere):
		return domain.UrgencyUrgent
	case s == domain.SeverityModerate:
		return domain.UrgencySoon
	default:
		return domain.UrgencyRoutine
	}
}

func qualityCategory(category string) domain.RecommendationCategory {
	switch category {
	case QualityMedicationAdjustment:
		return domain.RecommendPharmacological
	case QualityLifestyleModification:
		return domain.RecommendLifestyle
	default:
		return domain.RecommendFollowUp
	}
}

// Summarize renders the plain-text summary of abnormalities and patterns.
func Summarize(findings []domain.AbnormalityFinding, patterns []domain.Pattern) string {
	if len(findings) == 0 {
		return "All results are within the normal range."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d abnormal results:\n", len(findings))
	for i, f := range findings {
		fmt.Fprintf(&b, "%d. %s: %s (%s)\n", i+1, f.Test, f.DisplayValue, f.Label)
	}
	if len(patterns) > 0 {
		fmt.Fprintf(&b, "\n%d patterns identified:\n", len(patterns))
		for i, p := range patterns {
			fmt.Fprintf(&b, "%d. %s: %s\n", i+1, p.Name, p.Description)
		}
	}
	return b.String()
}
