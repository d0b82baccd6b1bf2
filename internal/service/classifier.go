package service

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/clinical-reasoning-engine/internal/domain"
	"github.com/clinical-reasoning-engine/internal/knowledge"
)

// categoryOrder fixes the order findings are reported in.
var categoryOrder = map[domain.FindingCategory]int{
	domain.CategoryCardiovascular: 0,
	domain.CategoryLipid:          1,
	domain.CategoryGlucose:        2,
	domain.CategoryBlood:          3,
	domain.CategoryLiver:          4,
	domain.CategoryKidney:         5,
}

// AbnormalityClassifier compares measurements against the knowledge-base threshold rules.
type AbnormalityClassifier struct {
	kb     *knowledge.KnowledgeBase
	logger *logrus.Logger
}

// NewAbnormalityClassifier creates a classifier over kb.
func NewAbnormalityClassifier(kb *knowledge.KnowledgeBase, logger *logrus.Logger) *AbnormalityClassifier {
	return &AbnormalityClassifier{kb: kb, logger: logger}
}

// Classify returns one finding per test at most. Rules for the same test are tried in rank
// order and the first that fires wins. Absent tests are skipped silently.
func (c *AbnormalityClassifier) Classify(set domain.MeasurementSet, profile domain.PatientProfile) []domain.AbnormalityFinding {
	findings := []domain.AbnormalityFinding{}
	fired := make(map[domain.TestName]bool)

	for _, rule := range c.kb.LabRules() {
		if fired[rule.Test] {
			continue
		}
		finding, ok := c.evaluate(rule, set, profile.Gender)
		if !ok {
			continue
		}
		fired[rule.Test] = true
		findings = append(findings, finding)

		c.logger.WithFields(logrus.Fields{
			"test":     finding.Test,
			"label":    finding.Label,
			"severity": finding.Severity,
		}).Debug("Abnormality detected")
	}

	sort.SliceStable(findings, func(i, j int) bool {
		return categoryOrder[findings[i].Category] < categoryOrder[findings[j].Category]
	})
	return findings
}

func (c *AbnormalityClassifier) evaluate(rule knowledge.LabRule, set domain.MeasurementSet, gender domain.Gender) (domain.AbnormalityFinding, bool) {
	raw, ok := set.Get(rule.Test)
	if !ok {
		return domain.AbnormalityFinding{}, false
	}
	value := normalize(rule.Units, raw)

	var paired float64
	hasPaired := false
	if rule.PairedTest != "" {
		if p, ok := set.Get(rule.PairedTest); ok {
			paired, hasPaired = normalize(rule.Units, p), true
		}
	}

	fires := beyond(rule, value, rule.LimitFor(gender)) ||
		(hasPaired && beyond(rule, paired, rule.PairedLimit))
	if !fires {
		return domain.AbnormalityFinding{}, false
	}

	severity := rule.BaseSeverity
	for _, esc := range rule.Escalations {
		if beyond(rule, value, esc.Value) || (hasPaired && beyond(rule, paired, esc.Paired)) {
			severity = esc.Severity
			break
		}
	}

	display := formatNumber(value)
	if hasPaired {
		display = fmt.Sprintf("%s/%s", display, formatNumber(paired))
	}
	if rule.Display != "" {
		display += " " + rule.Display
	}

	return domain.AbnormalityFinding{
		Test:         rule.Test,
		Label:        rule.Label,
		Value:        value,
		DisplayValue: display,
		Severity:     severity,
		Category:     rule.Category,
	}, true
}

// beyond reports whether v lies past limit in the rule's direction.
func beyond(rule knowledge.LabRule, v, limit float64) bool {
	if rule.Direction == knowledge.DirectionLow {
		if rule.Inclusive {
			return v <= limit
		}
		return v < limit
	}
	if rule.Inclusive {
		return v >= limit
	}
	return v > limit
}
