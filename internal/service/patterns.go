package service

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/clinical-reasoning-engine/internal/domain"
	"github.com/clinical-reasoning-engine/internal/knowledge"
)

// Finding labels the recognizer keys on.
const (
	LabelBloodPressureElevated = "blood pressure elevated"
	LabelHemoglobinLow         = "hemoglobin low"
	LabelCreatinineElevated    = "creatinine elevated"
	LabelALTElevated           = "ALT elevated"
	LabelASTElevated           = "AST elevated"
)

// Etiology buckets of hepatocellular injury.
const (
	EtiologyViralFattyLiver    = "viral/fatty-liver"
	EtiologyAlcoholicCirrhotic = "alcoholic/cirrhotic"
)

// Morphology buckets of anemia.
const (
	AnemiaMicrocytic = "microcytic"
	AnemiaMacrocytic = "macrocytic"
	AnemiaNormocytic = "normocytic"
)

const patternStage = "patterns"

// PatternRecognizer infers syndrome patterns from co-occurring findings.
type PatternRecognizer struct {
	params knowledge.PatternParameters
	logger *logrus.Logger
}

// NewPatternRecognizer creates a recognizer using the pattern parameters of kb.
func NewPatternRecognizer(kb *knowledge.KnowledgeBase, logger *logrus.Logger) *PatternRecognizer {
	return &PatternRecognizer{params: kb.Parameters().Patterns, logger: logger}
}

type findingIndex struct {
	byLabel    map[string]domain.AbnormalityFinding
	byCategory map[domain.FindingCategory][]domain.AbnormalityFinding
}

func indexFindings(findings []domain.AbnormalityFinding) findingIndex {
	idx := findingIndex{
		byLabel:    make(map[string]domain.AbnormalityFinding, len(findings)),
		byCategory: make(map[domain.FindingCategory][]domain.AbnormalityFinding),
	}
	for _, f := range findings {
		idx.byLabel[f.Label] = f
		idx.byCategory[f.Category] = append(idx.byCategory[f.Category], f)
	}
	return idx
}

func (idx findingIndex) has(label string) bool {
	_, ok := idx.byLabel[label]
	return ok
}

func labels(findings []domain.AbnormalityFinding) []string {
	out := make([]string, 0, len(findings))
	for _, f := range findings {
		out = append(out, f.Label)
	}
	return out
}

// Recognize evaluates every pattern predicate. Arithmetic failures are annotated and the
// pattern is still reported without the derived detail.
func (r *PatternRecognizer) Recognize(findings []domain.AbnormalityFinding, set domain.MeasurementSet) ([]domain.Pattern, []domain.Annotation) {
	idx := indexFindings(findings)
	patterns := []domain.Pattern{}
	var annotations []domain.Annotation

	for _, kind := range []domain.PatternKind{
		domain.PatternMetabolicSyndrome,
		domain.PatternCompleteMetabolicSyndrome,
		domain.PatternHepatocellularInjury,
		domain.PatternAnemia,
		domain.PatternPrerenalAzotemia,
	} {
		var p *domain.Pattern
		var err error
		switch kind {
		case domain.PatternMetabolicSyndrome:
			p = r.metabolicSyndrome(idx)
		case domain.PatternCompleteMetabolicSyndrome:
			p = r.completeMetabolicSyndrome(idx)
		case domain.PatternHepatocellularInjury:
			p, err = r.hepatocellularInjury(idx)
		case domain.PatternAnemia:
			p = r.anemia(idx, set)
		case domain.PatternPrerenalAzotemia:
			p, err = r.prerenalAzotemia(idx, set)
		}
		if err != nil {
			r.logger.WithError(err).WithField("pattern", kind).Warn("Pattern computation failed")
			annotations = append(annotations, domain.AnnotationFromError(patternStage, err))
		}
		if p != nil {
			patterns = append(patterns, *p)
		}
	}

	return patterns, annotations
}

func (r *PatternRecognizer) metabolicComponents(idx findingIndex) (bp domain.AbnormalityFinding, lipids, glucose []domain.AbnormalityFinding, ok bool) {
	bp, hasBP := idx.byLabel[LabelBloodPressureElevated]
	lipids = idx.byCategory[domain.CategoryLipid]
	glucose = idx.byCategory[domain.CategoryGlucose]
	return bp, lipids, glucose, hasBP && len(lipids) > 0
}

func (r *PatternRecognizer) metabolicSyndrome(idx findingIndex) *domain.Pattern {
	bp, lipids, glucose, ok := r.metabolicComponents(idx)
	if !ok {
		return nil
	}
	components := append([]string{bp.Label}, labels(lipids)...)
	confidence := r.params.MetabolicSyndrome
	if len(glucose) > 0 {
		confidence = r.params.MetabolicSyndromeWithGlucose
		components = append(components, labels(glucose)...)
	}
	return &domain.Pattern{
		Kind:                 domain.PatternMetabolicSyndrome,
		Name:                 "metabolic syndrome",
		Description:          "Elevated blood pressure with dyslipidemia",
		ComponentFindings:    components,
		Confidence:           confidence,
		ClinicalSignificance: "Cardiovascular risk is markedly increased; combined intervention is needed",
	}
}

func (r *PatternRecognizer) completeMetabolicSyndrome(idx findingIndex) *domain.Pattern {
	bp, lipids, glucose, ok := r.metabolicComponents(idx)
	if !ok || len(glucose) == 0 {
		return nil
	}
	components := append([]string{bp.Label}, labels(lipids)...)
	components = append(components, labels(glucose)...)
	return &domain.Pattern{
		Kind:                 domain.PatternCompleteMetabolicSyndrome,
		Name:                 "complete metabolic syndrome",
		Description:          "Blood pressure, lipids and glucose are all abnormal",
		ComponentFindings:    components,
		Confidence:           r.params.CompleteMetabolicSyndrome,
		ClinicalSignificance: "High-risk state for cardiovascular disease and diabetes; active intervention is needed",
	}
}

func (r *PatternRecognizer) hepatocellularInjury(idx findingIndex) (*domain.Pattern, error) {
	alt, hasALT := idx.byLabel[LabelALTElevated]
	ast, hasAST := idx.byLabel[LabelASTElevated]
	if !hasALT || !hasAST {
		return nil, nil
	}

	p := &domain.Pattern{
		Kind:              domain.PatternHepatocellularInjury,
		Name:              "hepatocellular injury",
		Description:       "ALT and AST are both elevated",
		ComponentFindings: []string{alt.Label, ast.Label},
		Confidence:        r.params.HepatocellularInjury,
	}
	if alt.Value == 0 {
		return p, &domain.ComputationError{Stage: patternStage, Reason: "AST/ALT ratio with zero ALT"}
	}

	ratio := ast.Value / alt.Value
	rounded := round(ratio, 3)
	p.Ratio = &rounded
	p.Description = fmt.Sprintf("ALT and AST are both elevated, AST/ALT ratio %.2f", ratio)

	switch {
	case ratio < 1:
		p.Etiology = EtiologyViralFattyLiver
		p.ClinicalSignificance = "Consider viral hepatitis or non-alcoholic fatty liver disease"
	case alt.Value > r.params.AlcoholicALTMultiple*r.params.ALTUpperLimit:
		p.Etiology = EtiologyAlcoholicCirrhotic
		p.ClinicalSignificance = "Consider alcoholic liver disease or cirrhosis"
	}
	return p, nil
}

func (r *PatternRecognizer) anemia(idx findingIndex, set domain.MeasurementSet) *domain.Pattern {
	hb, ok := idx.byLabel[LabelHemoglobinLow]
	if !ok {
		return nil
	}

	morphology := AnemiaNormocytic
	description := "Normocytic anemia"
	if mcv, ok := set.Get(domain.TestMCV); ok {
		switch {
		case mcv < r.params.MicrocyticMCV:
			morphology = AnemiaMicrocytic
			description = "Microcytic anemia, consider iron deficiency"
		case mcv > r.params.MacrocyticMCV:
			morphology = AnemiaMacrocytic
			description = "Macrocytic anemia, consider vitamin B12 or folate deficiency"
		}
	}

	return &domain.Pattern{
		Kind:              domain.PatternAnemia,
		Name:              "anemia",
		Description:       description,
		ComponentFindings: []string{hb.Label},
		Confidence:        r.params.Anemia,
		Etiology:          morphology,
	}
}

func (r *PatternRecognizer) prerenalAzotemia(idx findingIndex, set domain.MeasurementSet) (*domain.Pattern, error) {
	cr, ok := idx.byLabel[LabelCreatinineElevated]
	if !ok {
		return nil, nil
	}
	bun, hasBUN := set.Get(domain.TestBUN)
	creatinine, hasCr := set.Get(domain.TestCreatinine)
	if !hasBUN || !hasCr {
		return nil, nil
	}

	converted := NormalizeRenal(creatinine)
	if converted <= 0 {
		return nil, &domain.ComputationError{Stage: patternStage, Reason: "BUN/creatinine ratio with non-positive creatinine"}
	}
	ratio := bun / converted
	if ratio <= r.params.PrerenalRatio {
		return nil, nil
	}

	rounded := round(ratio, 2)
	return &domain.Pattern{
		Kind:                 domain.PatternPrerenalAzotemia,
		Name:                 "prerenal azotemia",
		Description:          fmt.Sprintf("BUN/creatinine ratio %.1f exceeds %.0f:1, suggesting volume depletion or reduced cardiac output", ratio, r.params.PrerenalRatio),
		ComponentFindings:    []string{cr.Label},
		Confidence:           r.params.PrerenalAzotemia,
		ClinicalSignificance: "Potentially reversible with volume restoration",
		Ratio:                &rounded,
	}, nil
}
