package service

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/clinical-reasoning-engine/internal/domain"
	"github.com/clinical-reasoning-engine/internal/knowledge"
)

const symptomStage = "symptoms"

var durationPattern = regexp.MustCompile(`(\d+)\s*(days?|d|weeks?|w|months?)\b`)

// SymptomAnalyzer turns free-text symptom reports into structured symptoms.
type SymptomAnalyzer struct {
	kb     *knowledge.KnowledgeBase
	params knowledge.LikelihoodParameters
	logger *logrus.Logger
}

// NewSymptomAnalyzer creates an analyzer over kb.
func NewSymptomAnalyzer(kb *knowledge.KnowledgeBase, logger *logrus.Logger) *SymptomAnalyzer {
	return &SymptomAnalyzer{kb: kb, params: kb.Parameters().Likelihood, logger: logger}
}

// Parse identifies the main symptom of a report and its associated symptoms. An unrecognized
// description is reported as a missing knowledge entry.
func (a *SymptomAnalyzer) Parse(report domain.SymptomReport) ([]domain.Symptom, []error) {
	var symptoms []domain.Symptom
	var errs []error

	main, ok := a.Identify(report.Description)
	if ok {
		symptoms = append(symptoms, domain.Symptom{
			Name:         main,
			Features:     a.ExtractFeatures(report.Description),
			Severity:     a.assessSeverity(report),
			DurationDays: ParseDurationDays(report.Duration),
			Timing:       report.Timing,
		})
	} else {
		errs = append(errs, &domain.MissingKnowledgeError{Table: "symptom", Key: report.Description})
	}

	for _, assoc := range report.AssociatedSymptoms {
		name, ok := a.Identify(assoc)
		if !ok {
			errs = append(errs, &domain.MissingKnowledgeError{Table: "symptom", Key: assoc})
			continue
		}
		if name == main || containsSymptom(symptoms, name) {
			continue
		}
		symptoms = append(symptoms, domain.Symptom{Name: name, Associated: true})
	}

	return symptoms, errs
}

func containsSymptom(symptoms []domain.Symptom, name string) bool {
	for _, s := range symptoms {
		if s.Name == name {
			return true
		}
	}
	return false
}

// Identify maps a description to a canonical symptom. The longest matching keyword wins; ties
// go to the alphabetically first symptom.
func (a *SymptomAnalyzer) Identify(description string) (string, bool) {
	text := strings.ToLower(description)
	best, bestLen := "", 0
	for _, name := range a.kb.SymptomNames() {
		entry, _ := a.kb.Symptom(name)
		for _, kw := range entry.Keywords {
			kw = strings.ToLower(kw)
			if len(kw) > bestLen && strings.Contains(text, kw) {
				best, bestLen = name, len(kw)
			}
		}
	}
	return best, best != ""
}

// ExtractFeatures finds location, quality and timing descriptors in a description.
func (a *SymptomAnalyzer) ExtractFeatures(description string) domain.SymptomFeatures {
	text := strings.ToLower(description)
	vocab := a.kb.FeatureKeywords()
	return domain.SymptomFeatures{
		Location: matchFeatures(text, vocab.Location),
		Quality:  matchFeatures(text, vocab.Quality),
		Timing:   matchFeatures(text, vocab.Timing),
	}
}

func matchFeatures(text string, vocab map[string][]string) []string {
	out := []string{}
	for feature, keywords := range vocab {
		for _, kw := range keywords {
			if strings.Contains(text, strings.ToLower(kw)) {
				out = append(out, feature)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

func (a *SymptomAnalyzer) assessSeverity(report domain.SymptomReport) domain.SeverityTier {
	if s := domain.SeverityTier(strings.ToLower(strings.TrimSpace(report.Severity))); s.IsValid() {
		return s
	}
	text := strings.ToLower(report.Description)
	vocab := a.kb.SeverityKeywords()
	for _, kw := range vocab.Severe {
		if strings.Contains(text, strings.ToLower(kw)) {
			return domain.SeveritySevere
		}
	}
	for _, kw := range vocab.Mild {
		if strings.Contains(text, strings.ToLower(kw)) {
			return domain.SeverityMild
		}
	}
	return domain.SeverityModerate
}

// ParseDurationDays extracts a duration such as "10 days", "2 weeks" or "3d". Unparseable
// input yields 0.
func ParseDurationDays(duration string) int {
	m := durationPattern.FindStringSubmatch(strings.ToLower(duration))
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	switch m[2][0] {
	case 'w':
		return n * 7
	case 'm':
		return n * 30
	default:
		return n
	}
}

// Analyze builds the per-symptom report section: red flags, key questions and tests.
func (a *SymptomAnalyzer) Analyze(symptom domain.Symptom) (domain.SymptomAnalysis, error) {
	analysis := domain.SymptomAnalysis{
		Symptom:          symptom,
		RedFlags:         []string{},
		KeyQuestions:     []string{},
		RecommendedTests: []string{},
	}
	entry, ok := a.kb.Symptom(symptom.Name)
	if !ok {
		return analysis, &domain.MissingKnowledgeError{Table: "symptom", Key: symptom.Name}
	}

	analysis.Category = entry.Category
	var flags []string
	if symptom.Severity == domain.SeveritySevere {
		flags = append(flags, "severe symptom intensity")
	}
	if symptom.DurationDays > a.params.RedFlagDurationDays {
		flags = append(flags, fmt.Sprintf("symptom persisting longer than %d days", a.params.RedFlagDurationDays))
	}
	flags = append(flags, entry.RedFlags...)
	analysis.RedFlags = dedupe(flags)
	analysis.KeyQuestions = append(analysis.KeyQuestions, entry.KeyQuestions...)
	analysis.RecommendedTests = append(analysis.RecommendedTests, entry.RecommendedTests...)
	return analysis, nil
}

// dedupe removes repeated strings, keeping first occurrences in order.
func dedupe(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
