package service

import (
	"math"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/clinical-reasoning-engine/internal/domain"
	"github.com/clinical-reasoning-engine/internal/knowledge"
)

// Likelihood bounds of every ranked candidate.
const (
	MinLikelihood = 0.01
	MaxLikelihood = 0.95
)

// DifferentialRanker generates, merges and ranks candidate diagnoses.
type DifferentialRanker struct {
	kb     *knowledge.KnowledgeBase
	params knowledge.LikelihoodParameters
	logger *logrus.Logger
}

// NewDifferentialRanker creates a ranker over kb.
func NewDifferentialRanker(kb *knowledge.KnowledgeBase, logger *logrus.Logger) *DifferentialRanker {
	return &DifferentialRanker{kb: kb, params: kb.Parameters().Likelihood, logger: logger}
}

// trigger is a finding or symptom that pulls candidate diagnoses from the knowledge base.
type trigger struct {
	source   string
	features domain.SymptomFeatures
	entries  []knowledge.DiagnosisEntry
}

// Rank returns the merged differential. Candidates sharing a name are merged: supportedBy
// accumulates and the highest adjusted likelihood is kept.
func (r *DifferentialRanker) Rank(findings []domain.AbnormalityFinding, symptoms []domain.Symptom, profile domain.PatientProfile) ([]domain.DiagnosisCandidate, []error) {
	var triggers []trigger
	var errs []error

	for _, f := range findings {
		entry, ok := r.kb.LabAbnormality(f.Label)
		if !ok {
			errs = append(errs, &domain.MissingKnowledgeError{Table: "lab abnormality", Key: f.Label})
			continue
		}
		triggers = append(triggers, trigger{source: f.Label, entries: entry.DifferentialDiagnoses})
	}
	for _, s := range symptoms {
		entry, ok := r.kb.Symptom(s.Name)
		if !ok {
			errs = append(errs, &domain.MissingKnowledgeError{Table: "symptom", Key: s.Name})
			continue
		}
		triggers = append(triggers, trigger{source: s.Name, features: s.Features, entries: entry.DifferentialDiagnoses})
	}

	merged := make(map[string]*domain.DiagnosisCandidate)
	var order []string
	for _, t := range triggers {
		for _, dx := range t.entries {
			candidate := r.Score(dx, t.features, profile)
			candidate.SupportedBy = []string{t.source}

			existing, ok := merged[dx.Name]
			if !ok {
				merged[dx.Name] = &candidate
				order = append(order, dx.Name)
				continue
			}
			existing.SupportedBy = dedupe(append(existing.SupportedBy, t.source))
			existing.SupportingEvidence = dedupe(append(existing.SupportingEvidence, candidate.SupportingEvidence...))
			existing.OpposingEvidence = dedupe(append(existing.OpposingEvidence, candidate.OpposingEvidence...))
			if candidate.AdjustedLikelihood > existing.AdjustedLikelihood {
				existing.AdjustedLikelihood = candidate.AdjustedLikelihood
			}
			if candidate.Risk.Order() < existing.Risk.Order() {
				existing.Risk = candidate.Risk
			}
		}
	}

	out := make([]domain.DiagnosisCandidate, 0, len(order))
	for _, name := range order {
		out = append(out, *merged[name])
	}
	SortDiagnoses(out)

	r.logger.WithFields(logrus.Fields{
		"triggers":   len(triggers),
		"candidates": len(out),
	}).Debug("Differential ranked")
	return out, errs
}

// Score applies the multiplicative likelihood adjustments to one knowledge-base entry.
func (r *DifferentialRanker) Score(dx knowledge.DiagnosisEntry, features domain.SymptomFeatures, profile domain.PatientProfile) domain.DiagnosisCandidate {
	p := r.params
	likelihood := dx.LikelihoodBaseline
	supporting := []string{}
	opposing := []string{}

	for _, f := range dx.SupportingFeatures {
		if features.Has(f) {
			likelihood *= p.SupportingFeature
			supporting = append(supporting, f)
		}
	}
	for _, f := range dx.OpposingFeatures {
		if features.Has(f) {
			likelihood *= p.OpposingFeature
			opposing = append(opposing, f)
		}
	}

	if age := profile.Age; age > 0 {
		switch {
		case dx.AgePredilection == knowledge.AgeOver50 && age < p.AgePivot:
			likelihood *= p.OlderBandMismatch
		case dx.AgePredilection == knowledge.AgeUnder50 && age >= p.AgePivot:
			likelihood *= p.YoungerBandMismatch
		}
		if dx.Cardiovascular && age > p.AgePivot {
			likelihood *= p.CardiovascularAgeBoost
		}
	}

	if profile.Gender != domain.GenderUnknown && dx.GenderPredilection != "" && dx.GenderPredilection != profile.Gender {
		likelihood *= p.GenderMismatch
	}

	return domain.DiagnosisCandidate{
		Name:               dx.Name,
		Description:        dx.Description,
		BaselineLikelihood: dx.LikelihoodBaseline,
		AdjustedLikelihood: ClampLikelihood(likelihood),
		Risk:               dx.Risk,
		SupportingEvidence: supporting,
		OpposingEvidence:   opposing,
		TypicalAgeRange:    dx.TypicalAgeRange,
		GenderPredilection: string(dx.GenderPredilection),
	}
}

// ClampLikelihood bounds a likelihood to [MinLikelihood, MaxLikelihood]. NaN maps to the floor.
func ClampLikelihood(v float64) float64 {
	if math.IsNaN(v) {
		return MinLikelihood
	}
	return math.Max(MinLikelihood, math.Min(v, MaxLikelihood))
}

// SortDiagnoses orders by risk tier (very_high first), then adjusted likelihood descending.
// Risk always dominates likelihood. Name breaks remaining ties.
func SortDiagnoses(dx []domain.DiagnosisCandidate) {
	sort.SliceStable(dx, func(i, j int) bool {
		if oi, oj := dx[i].Risk.Order(), dx[j].Risk.Order(); oi != oj {
			return oi < oj
		}
		if dx[i].AdjustedLikelihood != dx[j].AdjustedLikelihood {
			return dx[i].AdjustedLikelihood > dx[j].AdjustedLikelihood
		}
		return dx[i].Name < dx[j].Name
	})
}
