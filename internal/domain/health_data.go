package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Date accepts either RFC 3339 timestamps or plain YYYY-MM-DD dates.
type Date struct {
	time.Time
}

const dateLayout = "2006-01-02"

// UnmarshalJSON implements json.Unmarshaler.
func (d *Date) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		d.Time = time.Time{}
		return nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		d.Time = t
		return nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return fmt.Errorf("invalid date %q: %w", s, err)
	}
	d.Time = t
	return nil
}

// MarshalJSON implements json.Marshaler.
func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.Time.Format(time.RFC3339))
}

// NewDate wraps t.
func NewDate(t time.Time) Date {
	return Date{Time: t}
}

// LabValue is the explicit parse result of a loosely typed lab value. Values arrive as JSON
// numbers or numeric strings (optionally followed by a unit). Valid is false for
// non-numeric, non-finite or non-positive input.
type LabValue struct {
	Raw     string
	Value   float64
	Present bool
	Valid   bool
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *LabValue) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*v = LabValue{}
		return nil
	}
	raw := string(b)
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		raw = s
	}
	*v = ParseLabValue(raw)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (v LabValue) MarshalJSON() ([]byte, error) {
	if !v.Present {
		return []byte("null"), nil
	}
	if v.Valid {
		return json.Marshal(v.Value)
	}
	return json.Marshal(v.Raw)
}

// ParseLabValue parses the leading numeric token of raw.
func ParseLabValue(raw string) LabValue {
	out := LabValue{Raw: raw, Present: true}
	fields := strings.Fields(strings.TrimSpace(raw))
	if len(fields) == 0 {
		return out
	}
	n, err := strconv.ParseFloat(fields[0], 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) || n <= 0 {
		return out
	}
	out.Value = n
	out.Valid = true
	return out
}

// Num builds a valid LabValue from a number. Used by tests and programmatic callers.
func Num(n float64) LabValue {
	return ParseLabValue(strconv.FormatFloat(n, 'f', -1, 64))
}

// BloodPressurePanel is a single office blood-pressure measurement.
type BloodPressurePanel struct {
	Systolic  LabValue `json:"systolic"`
	Diastolic LabValue `json:"diastolic"`
}

// LipidPanel values are in mmol/L or mg/dL.
type LipidPanel struct {
	TotalCholesterol LabValue `json:"total_cholesterol"`
	LDL              LabValue `json:"ldl"`
	HDL              LabValue `json:"hdl"`
	Triglycerides    LabValue `json:"triglycerides"`
}

// GlucosePanel values are in mmol/L or mg/dL.
type GlucosePanel struct {
	Fasting LabValue `json:"fasting"`
}

// CBCPanel is a complete blood count. Hemoglobin in g/L, counts in 10^9/L, MCV in fL.
type CBCPanel struct {
	Hemoglobin     LabValue `json:"hemoglobin"`
	WhiteBloodCell LabValue `json:"white_blood_cell"`
	Platelet       LabValue `json:"platelet"`
	MCV            LabValue `json:"mcv"`
}

// LiverPanel values are in U/L.
type LiverPanel struct {
	ALT LabValue `json:"alt"`
	AST LabValue `json:"ast"`
}

// KidneyPanel holds creatinine (umol/L) and BUN.
type KidneyPanel struct {
	Creatinine LabValue `json:"creatinine"`
	BUN        LabValue `json:"bun"`
}

// LabResults groups the panels. Absent panels are nil and silently skipped.
type LabResults struct {
	BloodPressure  *BloodPressurePanel `json:"blood_pressure,omitempty"`
	Lipids         *LipidPanel         `json:"lipids,omitempty"`
	Glucose        *GlucosePanel       `json:"glucose,omitempty"`
	CBC            *CBCPanel           `json:"cbc,omitempty"`
	LiverFunction  *LiverPanel         `json:"liver_function,omitempty"`
	KidneyFunction *KidneyPanel        `json:"kidney_function,omitempty"`
	CollectedAt    Date                `json:"collected_at,omitempty"`
}

// Reading is one dated value of a serial metric.
type Reading struct {
	Date  Date    `json:"date"`
	Value float64 `json:"value"`
}

// BloodPressureReading is one dated home or office reading.
type BloodPressureReading struct {
	Date      Date    `json:"date"`
	Systolic  float64 `json:"systolic"`
	Diastolic float64 `json:"diastolic"`
}

// VitalSigns holds serial measurements used by the quality engine.
type VitalSigns struct {
	BloodPressure []BloodPressureReading `json:"bloodPressure,omitempty"`
	Glucose       []Reading              `json:"glucose,omitempty"`
	HbA1c         []Reading              `json:"hba1c,omitempty"`
	Weight        []Reading              `json:"weight,omitempty"`
}

// SymptomReport is one free-text symptom entry.
type SymptomReport struct {
	Description        string   `json:"description"`
	Duration           string   `json:"duration,omitempty"`
	Severity           string   `json:"severity,omitempty"`
	Timing             string   `json:"timing,omitempty"`
	AssociatedSymptoms []string `json:"associated_symptoms,omitempty"`
	Date               Date     `json:"date,omitempty"`
}

// Medication is a current medication entry.
type Medication struct {
	Name      string `json:"name"`
	Dose      string `json:"dose,omitempty"`
	Frequency string `json:"frequency,omitempty"`
	Class     string `json:"class,omitempty"`
}

// ScreeningRecord is the last completed screening of a type.
type ScreeningRecord struct {
	Type     string `json:"type"`
	LastDate Date   `json:"lastDate"`
}

// HealthData is the aggregated input snapshot assembled by the external data aggregator.
type HealthData struct {
	Profile         *PatientProfile      `json:"profile"`
	ChronicDiseases []string             `json:"chronicDiseases,omitempty"`
	VitalSigns      VitalSigns           `json:"vitalSigns"`
	LabResults      LabResults           `json:"labResults"`
	SymptomHistory  []SymptomReport      `json:"symptomHistory,omitempty"`
	Medications     []Medication         `json:"medications,omitempty"`
	Screenings      []ScreeningRecord    `json:"screenings,omitempty"`
	Trends          map[string][]Reading `json:"trends,omitempty"`
	AsOf            Date                 `json:"asOf,omitempty"`
}

// IsEmpty reports whether there is nothing to reason about at all. Only inputs some analysis
// reads count: weight and trend series other than hba1c are carried but never analyzed.
func (h *HealthData) IsEmpty() bool {
	if h == nil {
		return true
	}
	if h.Profile != nil {
		return false
	}
	lr := h.LabResults
	hasLabs := lr.BloodPressure != nil || lr.Lipids != nil || lr.Glucose != nil ||
		lr.CBC != nil || lr.LiverFunction != nil || lr.KidneyFunction != nil
	hasVitals := len(h.VitalSigns.BloodPressure) > 0 || len(h.VitalSigns.Glucose) > 0 ||
		len(h.HbA1cSeries()) > 0
	return !hasLabs && !hasVitals && len(h.SymptomHistory) == 0
}

// ReferenceTime returns AsOf when set, else fallback.
func (h *HealthData) ReferenceTime(fallback time.Time) time.Time {
	if h == nil || h.AsOf.IsZero() {
		return fallback
	}
	return h.AsOf.Time
}

// EffectiveProfile merges chronic diseases and medications into the profile.
func (h *HealthData) EffectiveProfile() PatientProfile {
	var p PatientProfile
	if h == nil {
		return p
	}
	if h.Profile != nil {
		p = *h.Profile
		p.Comorbidities = append([]string(nil), h.Profile.Comorbidities...)
	}
	p.Comorbidities = append(p.Comorbidities, h.ChronicDiseases...)
	if p.HasCondition("diabetes") {
		p.Diabetic = true
	}
	for _, m := range h.Medications {
		if strings.EqualFold(m.Class, "antihypertensive") {
			p.TreatedHypertension = true
		}
	}
	return p
}

type labField struct {
	test  TestName
	value LabValue
	unit  string
}

// Measurements flattens the lab panels into measurements. Malformed values are excluded and
// returned as errors. When no office blood pressure is present the latest vital-sign reading
// is used.
func (h *HealthData) Measurements() ([]Measurement, []error) {
	if h == nil {
		return nil, nil
	}
	lr := h.LabResults
	var fields []labField
	if bp := lr.BloodPressure; bp != nil {
		fields = append(fields,
			labField{TestSystolic, bp.Systolic, "mmHg"},
			labField{TestDiastolic, bp.Diastolic, "mmHg"})
	} else if latest, ok := h.latestBloodPressure(); ok {
		fields = append(fields,
			labField{TestSystolic, Num(latest.Systolic), "mmHg"},
			labField{TestDiastolic, Num(latest.Diastolic), "mmHg"})
	}
	if l := lr.Lipids; l != nil {
		fields = append(fields,
			labField{TestTotalCholesterol, l.TotalCholesterol, ""},
			labField{TestLDL, l.LDL, ""},
			labField{TestHDL, l.HDL, ""},
			labField{TestTriglycerides, l.Triglycerides, ""})
	}
	if g := lr.Glucose; g != nil {
		fields = append(fields, labField{TestFastingGlucose, g.Fasting, ""})
	}
	if c := lr.CBC; c != nil {
		fields = append(fields,
			labField{TestHemoglobin, c.Hemoglobin, "g/L"},
			labField{TestWBC, c.WhiteBloodCell, "10^9/L"},
			labField{TestPlatelet, c.Platelet, "10^9/L"},
			labField{TestMCV, c.MCV, "fL"})
	}
	if lf := lr.LiverFunction; lf != nil {
		fields = append(fields,
			labField{TestALT, lf.ALT, "U/L"},
			labField{TestAST, lf.AST, "U/L"})
	}
	if k := lr.KidneyFunction; k != nil {
		fields = append(fields,
			labField{TestCreatinine, k.Creatinine, "umol/L"},
			labField{TestBUN, k.BUN, ""})
	}

	var out []Measurement
	var errs []error
	for _, f := range fields {
		if !f.value.Present {
			continue
		}
		if !f.value.Valid {
			errs = append(errs, &MalformedMeasurementError{Test: f.test, Raw: f.value.Raw})
			continue
		}
		out = append(out, Measurement{
			Test:      f.test,
			Value:     f.value.Value,
			Unit:      f.unit,
			Timestamp: lr.CollectedAt.Time,
		})
	}
	return out, errs
}

func (h *HealthData) latestBloodPressure() (BloodPressureReading, bool) {
	readings := h.VitalSigns.BloodPressure
	if len(readings) == 0 {
		return BloodPressureReading{}, false
	}
	sorted := SortBloodPressure(readings)
	return sorted[len(sorted)-1], true
}

// SortBloodPressure returns a date-ordered copy of readings.
func SortBloodPressure(readings []BloodPressureReading) []BloodPressureReading {
	out := append([]BloodPressureReading(nil), readings...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Date.Before(out[j].Date.Time)
	})
	return out
}

// SortReadings returns a date-ordered copy of readings.
func SortReadings(readings []Reading) []Reading {
	out := append([]Reading(nil), readings...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Date.Before(out[j].Date.Time)
	})
	return out
}

// HbA1cSeries returns the HbA1c series from vital signs, falling back to trends["hba1c"].
func (h *HealthData) HbA1cSeries() []Reading {
	if h == nil {
		return nil
	}
	if len(h.VitalSigns.HbA1c) > 0 {
		return h.VitalSigns.HbA1c
	}
	return h.Trends["hba1c"]
}
