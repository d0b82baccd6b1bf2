package knowledge

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"

	"github.com/clinical-reasoning-engine/internal/domain"
)

// DefaultVersion names the embedded knowledge base.
const DefaultVersion = "default"

// Table files every knowledge-base version must provide.
const (
	symptomsFile          = "symptoms.json"
	labAbnormalitiesFile  = "lab_abnormalities.json"
	screeningProtocolFile = "screening_protocols.json"
	parametersFile        = "parameters.json"
)

//go:embed data/default/*.json
var defaultData embed.FS

// symptomTable is the on-disk layout of symptoms.json.
type symptomTable struct {
	Symptoms         map[string]SymptomEntry `json:"symptoms"`
	FeatureKeywords  FeatureKeywords         `json:"feature_keywords"`
	SeverityKeywords SeverityKeywords        `json:"severity_keywords"`
}

// KnowledgeBase is one loaded, validated version of the lookup tables.
type KnowledgeBase struct {
	version        string
	symptoms       map[string]SymptomEntry
	symptomNames   []string
	features       FeatureKeywords
	severity       SeverityKeywords
	labs           map[string]LabAbnormalityEntry
	rules          []LabRule
	screenings     map[string]ScreeningProtocol
	screeningTypes []string
	params         Parameters
}

// LoadDefault loads the embedded knowledge base.
func LoadDefault() (*KnowledgeBase, error) {
	sub, err := fs.Sub(defaultData, "data/default")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded knowledge base: %w", err)
	}
	return Load(sub, DefaultVersion)
}

// LoadDir loads a knowledge base from a directory on disk.
func LoadDir(dir, version string) (*KnowledgeBase, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("knowledge base %q: %w", version, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("knowledge base %q: %s is not a directory", version, dir)
	}
	return Load(os.DirFS(dir), version)
}

// Load parses and validates the four tables found at the root of fsys.
func Load(fsys fs.FS, version string) (*KnowledgeBase, error) {
	var symptoms symptomTable
	if err := readTable(fsys, symptomsFile, &symptoms); err != nil {
		return nil, err
	}
	labs := make(map[string]LabAbnormalityEntry)
	if err := readTable(fsys, labAbnormalitiesFile, &labs); err != nil {
		return nil, err
	}
	screenings := make(map[string]ScreeningProtocol)
	if err := readTable(fsys, screeningProtocolFile, &screenings); err != nil {
		return nil, err
	}
	var params Parameters
	if err := readTable(fsys, parametersFile, &params); err != nil {
		return nil, err
	}

	kb := &KnowledgeBase{
		version:    version,
		symptoms:   symptoms.Symptoms,
		features:   symptoms.FeatureKeywords,
		severity:   symptoms.SeverityKeywords,
		labs:       labs,
		screenings: screenings,
		params:     params,
	}
	if kb.symptoms == nil {
		kb.symptoms = make(map[string]SymptomEntry)
	}

	if err := kb.validate(); err != nil {
		return nil, fmt.Errorf("knowledge base %q is invalid: %w", version, err)
	}
	kb.index()
	return kb, nil
}

func readTable(fsys fs.FS, name string, v interface{}) error {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", name, err)
	}
	return nil
}

func (kb *KnowledgeBase) index() {
	for name := range kb.symptoms {
		kb.symptomNames = append(kb.symptomNames, name)
	}
	sort.Strings(kb.symptomNames)

	for label, entry := range kb.labs {
		kb.rules = append(kb.rules, LabRule{Label: label, SeverityThresholds: entry.SeverityThresholds})
	}
	sort.Slice(kb.rules, func(i, j int) bool {
		if kb.rules[i].Test != kb.rules[j].Test {
			return kb.rules[i].Test < kb.rules[j].Test
		}
		return kb.rules[i].Rank < kb.rules[j].Rank
	})

	for key := range kb.screenings {
		kb.screeningTypes = append(kb.screeningTypes, key)
	}
	sort.Strings(kb.screeningTypes)
}

// Version returns the version this knowledge base was loaded as.
func (kb *KnowledgeBase) Version() string {
	return kb.version
}

// Symptom looks up a canonical symptom.
func (kb *KnowledgeBase) Symptom(name string) (SymptomEntry, bool) {
	e, ok := kb.symptoms[name]
	return e, ok
}

// SymptomNames returns the canonical symptom names, sorted.
func (kb *KnowledgeBase) SymptomNames() []string {
	return append([]string(nil), kb.symptomNames...)
}

// FeatureKeywords returns the descriptor vocabulary.
func (kb *KnowledgeBase) FeatureKeywords() FeatureKeywords {
	return kb.features
}

// SeverityKeywords returns the severity vocabulary.
func (kb *KnowledgeBase) SeverityKeywords() SeverityKeywords {
	return kb.severity
}

// LabAbnormality looks up an abnormality by finding label.
func (kb *KnowledgeBase) LabAbnormality(label string) (LabAbnormalityEntry, bool) {
	e, ok := kb.labs[label]
	return e, ok
}

// LabRules returns the threshold rules ordered by test, then rank.
func (kb *KnowledgeBase) LabRules() []LabRule {
	return append([]LabRule(nil), kb.rules...)
}

// Screening looks up a screening protocol by dotted type.
func (kb *KnowledgeBase) Screening(screeningType string) (ScreeningProtocol, bool) {
	p, ok := kb.screenings[screeningType]
	return p, ok
}

// ScreeningTypes returns the known screening types, sorted.
func (kb *KnowledgeBase) ScreeningTypes() []string {
	return append([]string(nil), kb.screeningTypes...)
}

// Parameters returns the empirical constants.
func (kb *KnowledgeBase) Parameters() Parameters {
	return kb.params
}

// RiskCoefficients selects the coefficient row for race and gender. Unknown races fall back
// to the white rows and unknown gender to the male rows. The returned key names the row used.
func (kb *KnowledgeBase) RiskCoefficients(race string, gender domain.Gender) (Coefficients, string, bool) {
	g := "male"
	if gender.IsFemale() {
		g = "female"
	}
	race = strings.ToLower(strings.TrimSpace(race))
	if race != "" {
		key := race + "_" + g
		if c, ok := kb.params.RiskModel.Coefficients[key]; ok {
			return c, key, true
		}
	}
	key := "white_" + g
	c, ok := kb.params.RiskModel.Coefficients[key]
	return c, key, ok
}

func (kb *KnowledgeBase) validate() error {
	for name, s := range kb.symptoms {
		if len(s.Keywords) == 0 {
			return fmt.Errorf("symptom %q has no keywords", name)
		}
		if err := validateDiagnoses("symptom "+name, s.DifferentialDiagnoses); err != nil {
			return err
		}
	}

	seen := make(map[string]string)
	for label, e := range kb.labs {
		t := e.SeverityThresholds
		key := fmt.Sprintf("%s/%d", t.Test, t.Rank)
		if other, dup := seen[key]; dup {
			return fmt.Errorf("lab abnormalities %q and %q share test %s rank %d", other, label, t.Test, t.Rank)
		}
		seen[key] = label
		if err := validateThresholds(label, t); err != nil {
			return err
		}
		if err := validateDiagnoses("lab abnormality "+label, e.DifferentialDiagnoses); err != nil {
			return err
		}
	}

	for key, p := range kb.screenings {
		if len(p.AgeSpecificRecommendations) == 0 {
			return fmt.Errorf("screening %q has no age-specific recommendations", key)
		}
		for group, rec := range p.AgeSpecificRecommendations {
			if rec.BaseIntervalYears != nil && *rec.BaseIntervalYears <= 0 {
				return fmt.Errorf("screening %q group %q has non-positive interval", key, group)
			}
		}
		for factor, m := range p.RiskAdjustments {
			if m <= 0 {
				return fmt.Errorf("screening %q adjustment %q must be positive", key, factor)
			}
		}
	}

	return validateParameters(kb.params)
}

func validateDiagnoses(owner string, dx []DiagnosisEntry) error {
	for _, d := range dx {
		if d.Name == "" {
			return fmt.Errorf("%s: diagnosis without name", owner)
		}
		if d.LikelihoodBaseline <= 0 || d.LikelihoodBaseline > 1 {
			return fmt.Errorf("%s: diagnosis %q baseline %v outside (0,1]", owner, d.Name, d.LikelihoodBaseline)
		}
		if !d.Risk.IsValid() {
			return fmt.Errorf("%s: diagnosis %q: %w: %q", owner, d.Name, domain.ErrInvalidDiagnosisRisk, d.Risk)
		}
	}
	return nil
}

// validateThresholds enforces that severity never decreases as the deviation grows.
func validateThresholds(label string, t SeverityThresholds) error {
	if t.Test == "" {
		return fmt.Errorf("lab abnormality %q has no test", label)
	}
	if !t.Category.IsValid() {
		return fmt.Errorf("lab abnormality %q has unknown category %q", label, t.Category)
	}
	if !t.BaseSeverity.IsValid() {
		return fmt.Errorf("lab abnormality %q: %w: %q", label, domain.ErrInvalidSeverity, t.BaseSeverity)
	}
	if t.Limit <= 0 {
		return fmt.Errorf("lab abnormality %q has non-positive limit", label)
	}

	var further func(a, b float64) bool
	switch t.Direction {
	case DirectionHigh:
		further = func(a, b float64) bool { return a > b }
	case DirectionLow:
		further = func(a, b float64) bool { return a < b }
	default:
		return fmt.Errorf("lab abnormality %q has unknown direction %q", label, t.Direction)
	}

	prevValue, prevPaired := t.Limit, t.PairedLimit
	if t.FemaleLimit != nil && further(*t.FemaleLimit, prevValue) {
		prevValue = *t.FemaleLimit
	}
	prevSeverity := t.BaseSeverity
	// Escalations are listed most severe first; walk them from the least severe.
	for i := len(t.Escalations) - 1; i >= 0; i-- {
		esc := t.Escalations[i]
		if !esc.Severity.IsValid() {
			return fmt.Errorf("lab abnormality %q: %w: %q", label, domain.ErrInvalidSeverity, esc.Severity)
		}
		if esc.Severity.Rank() <= prevSeverity.Rank() {
			return fmt.Errorf("lab abnormality %q: escalation to %s does not raise severity", label, esc.Severity)
		}
		if !further(esc.Value, prevValue) {
			return fmt.Errorf("lab abnormality %q: escalation %v is not beyond %v", label, esc.Value, prevValue)
		}
		if t.PairedTest != "" && !further(esc.Paired, prevPaired) {
			return fmt.Errorf("lab abnormality %q: paired escalation %v is not beyond %v", label, esc.Paired, prevPaired)
		}
		prevValue, prevPaired, prevSeverity = esc.Value, esc.Paired, esc.Severity
	}
	return nil
}

func validateParameters(p Parameters) error {
	confidences := map[string]float64{
		"metabolic_syndrome":              p.Patterns.MetabolicSyndrome,
		"metabolic_syndrome_with_glucose": p.Patterns.MetabolicSyndromeWithGlucose,
		"complete_metabolic_syndrome":     p.Patterns.CompleteMetabolicSyndrome,
		"hepatocellular_injury":           p.Patterns.HepatocellularInjury,
		"anemia":                          p.Patterns.Anemia,
		"prerenal_azotemia":               p.Patterns.PrerenalAzotemia,
	}
	for name, c := range confidences {
		if c <= 0 || c > 1 {
			return fmt.Errorf("pattern confidence %s=%v outside (0,1]", name, c)
		}
	}

	multipliers := map[string]float64{
		"supporting_feature":       p.Likelihood.SupportingFeature,
		"opposing_feature":         p.Likelihood.OpposingFeature,
		"older_band_mismatch":      p.Likelihood.OlderBandMismatch,
		"younger_band_mismatch":    p.Likelihood.YoungerBandMismatch,
		"cardiovascular_age_boost": p.Likelihood.CardiovascularAgeBoost,
		"gender_mismatch":          p.Likelihood.GenderMismatch,
	}
	for name, m := range multipliers {
		if m <= 0 {
			return fmt.Errorf("likelihood multiplier %s must be positive", name)
		}
	}

	rm := p.RiskModel
	if rm.BaselineSurvival <= 0 || rm.BaselineSurvival >= 1 {
		return fmt.Errorf("risk model baseline survival %v outside (0,1)", rm.BaselineSurvival)
	}
	if rm.MinAge <= 0 || rm.MaxAge < rm.MinAge {
		return fmt.Errorf("risk model age range [%v,%v] is invalid", rm.MinAge, rm.MaxAge)
	}
	for _, key := range []string{"white_male", "white_female"} {
		if _, ok := rm.Coefficients[key]; !ok {
			return fmt.Errorf("risk model is missing coefficient row %q", key)
		}
	}

	if p.Screening.MinimumIntervalYears <= 0 {
		return fmt.Errorf("screening minimum interval must be positive")
	}
	if p.Quality.AdherenceDays <= 0 || p.Quality.ReadingsPerDay <= 0 {
		return fmt.Errorf("adherence window must be positive")
	}
	if p.Quality.FastingGlucoseImpaired <= 0 || p.Quality.FastingGlucoseDiabetes < p.Quality.FastingGlucoseImpaired {
		return fmt.Errorf("fasting glucose cut-offs %v/%v are invalid",
			p.Quality.FastingGlucoseImpaired, p.Quality.FastingGlucoseDiabetes)
	}
	for condition, screenings := range p.Quality.ComplicationScreenings {
		for _, s := range screenings {
			if s.Name == "" || s.DisplayName == "" {
				return fmt.Errorf("complication screening for %s is missing a name", condition)
			}
		}
	}
	return nil
}
