package service

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/clinical-reasoning-engine/internal/domain"
	"github.com/clinical-reasoning-engine/internal/knowledge"
)

const (
	classificationStage = "classification"
	differentialStage   = "differential"
)

// ReasoningEngine runs the full pipeline over one health-data snapshot. It holds no
// per-call state and is safe for concurrent use.
type ReasoningEngine struct {
	kb          *knowledge.KnowledgeBase
	classifier  *AbnormalityClassifier
	patterns    *PatternRecognizer
	symptoms    *SymptomAnalyzer
	ranker      *DifferentialRanker
	risk        *RiskScoringEngine
	quality     *QualityMetricsEngine
	screening   *ScreeningScheduler
	synthesizer *RecommendationSynthesizer
	clock       func() time.Time
	logger      *logrus.Logger
}

// Option configures a ReasoningEngine.
type Option func(*ReasoningEngine)

// WithClock replaces time.Now as the reference time used when the input has no as-of date.
func WithClock(clock func() time.Time) Option {
	return func(e *ReasoningEngine) {
		e.clock = clock
	}
}

// NewReasoningEngine wires every component to the same knowledge base.
func NewReasoningEngine(kb *knowledge.KnowledgeBase, logger *logrus.Logger, opts ...Option) *ReasoningEngine {
	e := &ReasoningEngine{
		kb:          kb,
		classifier:  NewAbnormalityClassifier(kb, logger),
		patterns:    NewPatternRecognizer(kb, logger),
		symptoms:    NewSymptomAnalyzer(kb, logger),
		ranker:      NewDifferentialRanker(kb, logger),
		risk:        NewRiskScoringEngine(kb, logger),
		quality:     NewQualityMetricsEngine(kb, logger),
		screening:   NewScreeningScheduler(kb, logger),
		synthesizer: NewRecommendationSynthesizer(kb, logger),
		clock:       time.Now,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// KnowledgeVersion reports the version of the knowledge base in use.
func (e *ReasoningEngine) KnowledgeVersion() string {
	return e.kb.Version()
}

// Analyze produces the report. The only error is domain.ErrEmptyInput (or the context
// error when ctx is already done); every other failure degrades to an annotation.
func (e *ReasoningEngine) Analyze(ctx context.Context, data *domain.HealthData) (*domain.Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if data.IsEmpty() {
		return nil, domain.ErrEmptyInput
	}

	now := data.ReferenceTime(e.clock())
	profile := data.EffectiveProfile()
	report := &domain.Report{
		GeneratedAt:      now,
		KnowledgeVersion: e.kb.Version(),
		Symptoms:         []domain.SymptomAnalysis{},
		Annotations:      []domain.Annotation{},
	}

	measurements, errs := data.Measurements()
	e.annotate(report, classificationStage, errs)
	set := domain.NewMeasurementSet(measurements)

	report.Abnormalities = e.classifier.Classify(set, profile)

	patterns, annotations := e.patterns.Recognize(report.Abnormalities, set)
	report.Patterns = patterns
	report.Annotations = append(report.Annotations, annotations...)

	var symptoms []domain.Symptom
	for _, r := range data.SymptomHistory {
		parsed, errs := e.symptoms.Parse(r)
		e.annotate(report, symptomStage, errs)
		symptoms = append(symptoms, parsed...)
	}
	for _, s := range symptoms {
		analysis, err := e.symptoms.Analyze(s)
		if err != nil {
			e.annotate(report, symptomStage, []error{err})
			continue
		}
		report.Symptoms = append(report.Symptoms, analysis)
	}

	diagnoses, errs := e.ranker.Rank(report.Abnormalities, symptoms, profile)
	e.annotate(report, differentialStage, errs)
	report.Diagnoses = diagnoses

	if data.Profile != nil {
		if in, ok := RiskInputFrom(profile, set); ok {
			score, errs := e.risk.Score(in)
			e.annotate(report, riskStage, errs)
			report.RiskScore = score
		} else {
			e.annotate(report, riskStage, []error{&domain.NotApplicableError{
				Model:  e.risk.model.Name,
				Reason: "requires age, systolic blood pressure, total cholesterol and HDL",
			}})
		}

		schedules, errs := e.screening.ScheduleAll(profile, data.Screenings, now)
		e.annotate(report, screeningStage, errs)
		report.ScreeningSchedule = schedules
		report.Eligibility = Eligibility(profile)
	} else {
		report.ScreeningSchedule = []domain.ScreeningSchedule{}
	}

	report.QualityMetrics = e.quality.Evaluate(data, profile, now)

	report.Recommendations = e.synthesizer.Synthesize(SynthesisInput{
		Findings:  report.Abnormalities,
		Patterns:  report.Patterns,
		Symptoms:  report.Symptoms,
		Diagnoses: report.Diagnoses,
		Risk:      report.RiskScore,
		Quality:   report.QualityMetrics,
		Screening: report.ScreeningSchedule,
	})
	report.Summary = Summarize(report.Abnormalities, report.Patterns)

	e.logger.WithFields(logrus.Fields{
		"knowledge_version": report.KnowledgeVersion,
		"findings":          len(report.Abnormalities),
		"patterns":          len(report.Patterns),
		"diagnoses":         len(report.Diagnoses),
		"annotations":       len(report.Annotations),
		"urgency":           report.Recommendations.Urgency,
	}).Info("Analysis completed")

	return report, nil
}

// annotate records stage errors on the report. Missing knowledge is expected and logged at
// debug level; everything else is a warning.
func (e *ReasoningEngine) annotate(report *domain.Report, stage string, errs []error) {
	for _, err := range errs {
		a := domain.AnnotationFromError(stage, err)
		report.Annotations = append(report.Annotations, a)

		entry := e.logger.WithError(err).WithFields(logrus.Fields{"stage": stage, "kind": a.Kind})
		var missing *domain.MissingKnowledgeError
		var notApplicable *domain.NotApplicableError
		if errors.As(err, &missing) || errors.As(err, &notApplicable) {
			entry.Debug("Stage skipped an entry")
			continue
		}
		entry.Warn("Stage degraded")
	}
}

// ScoreRisk runs only the risk model.
func (e *ReasoningEngine) ScoreRisk(in domain.RiskInput) (*domain.RiskScore, []domain.Annotation) {
	score, errs := e.risk.Score(in)
	return score, toAnnotations(riskStage, errs)
}

// ScheduleScreening plans one screening type.
func (e *ReasoningEngine) ScheduleScreening(screeningType string, profile domain.PatientProfile, lastDate *time.Time) (*domain.ScreeningSchedule, error) {
	return e.screening.Schedule(screeningType, profile, lastDate, e.clock())
}

// EvaluateQuality runs only the quality metrics.
func (e *ReasoningEngine) EvaluateQuality(data *domain.HealthData) []domain.QualityMetric {
	return e.quality.Evaluate(data, data.EffectiveProfile(), data.ReferenceTime(e.clock()))
}

func toAnnotations(stage string, errs []error) []domain.Annotation {
	out := make([]domain.Annotation, 0, len(errs))
	for _, err := range errs {
		out = append(out, domain.AnnotationFromError(stage, err))
	}
	return out
}
