package service

import (
	"math"
	"strconv"

	"github.com/clinical-reasoning-engine/internal/knowledge"
)

// Magnitude heuristics for values that may arrive in either unit system. A value above the
// threshold is taken to be in conventional units and converted to SI.
const (
	cholesterolConventionalAbove = 10.0
	cholesterolMgPerMmol         = 38.67
	glucoseConventionalAbove     = 30.0
	glucoseMgPerMmol             = 18.0
	renalConventionalAbove       = 100.0
	renalConversionFactor        = 2.8
)

// NormalizeCholesterol converts a cholesterol or triglyceride value to mmol/L.
func NormalizeCholesterol(v float64) float64 {
	if v > cholesterolConventionalAbove {
		return v / cholesterolMgPerMmol
	}
	return v
}

// NormalizeGlucose converts a glucose value to mmol/L.
func NormalizeGlucose(v float64) float64 {
	if v > glucoseConventionalAbove {
		return v / glucoseMgPerMmol
	}
	return v
}

// NormalizeRenal applies the BUN/creatinine heuristic used by the prerenal ratio.
func NormalizeRenal(v float64) float64 {
	if v > renalConventionalAbove {
		return v / renalConversionFactor
	}
	return v
}

func normalize(units knowledge.Units, v float64) float64 {
	switch units {
	case knowledge.UnitsCholesterol:
		return NormalizeCholesterol(v)
	case knowledge.UnitsGlucose:
		return NormalizeGlucose(v)
	default:
		return v
	}
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(round(v, 2), 'f', -1, 64)
}

func finitePositive(v float64) bool {
	return v > 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}
