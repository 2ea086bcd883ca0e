package diagnosis

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/telecare/telecare/internal/platform/apperr"
)

// DeclaredSeverity is how bad the patient says the symptoms are.
type DeclaredSeverity string

const (
	DeclaredMild     DeclaredSeverity = "mild"
	DeclaredModerate DeclaredSeverity = "moderate"
	DeclaredSevere   DeclaredSeverity = "severe"
)

func (s DeclaredSeverity) Valid() bool {
	switch s {
	case DeclaredMild, DeclaredModerate, DeclaredSevere:
		return true
	}
	return false
}

// Severity is the bucket derived from a diagnosis.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

type ConsultationType string

const (
	TypeChat      ConsultationType = "chat"
	TypeVideo     ConsultationType = "video"
	TypeEmergency ConsultationType = "emergency"
)

func (t ConsultationType) Valid() bool {
	switch t {
	case TypeChat, TypeVideo, TypeEmergency:
		return true
	}
	return false
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

type Investigation struct {
	Name     string   `json:"name" bson:"name"`
	Priority Priority `json:"priority" bson:"priority"`
	Reason   string   `json:"reason,omitempty" bson:"reason,omitempty"`
}

// Request is the structured symptom payload sent for diagnosis.
type Request struct {
	PrimarySymptom     string           `json:"primary_symptom"`
	AdditionalSymptoms []string         `json:"additional_symptoms,omitempty"`
	Duration           string           `json:"duration"`
	Severity           DeclaredSeverity `json:"severity"`
	MedicalHistory     []string         `json:"medical_history,omitempty"`
	CurrentMedications []string         `json:"current_medications,omitempty"`
	Allergies          []string         `json:"allergies,omitempty"`
	Age                *int             `json:"age,omitempty"`
	Gender             string           `json:"gender,omitempty"`
}

func (r *Request) Validate() error {
	if r == nil {
		return apperr.Validation(apperr.CodeInvalidInput, "symptom payload is required")
	}
	if strings.TrimSpace(r.PrimarySymptom) == "" {
		return apperr.Validation(apperr.CodeInvalidInput, "primary_symptom is required")
	}
	if strings.TrimSpace(r.Duration) == "" {
		return apperr.Validation(apperr.CodeInvalidInput, "duration is required")
	}
	if !r.Severity.Valid() {
		return apperr.Validation(apperr.CodeInvalidInput,
			"severity must be one of mild, moderate, severe (got %q)", r.Severity)
	}
	if r.Age != nil && (*r.Age < 0 || *r.Age > 150) {
		return apperr.Validation(apperr.CodeInvalidInput, "age must be between 0 and 150")
	}
	return nil
}

// Symptoms returns the primary symptom followed by the additional ones.
func (r *Request) Symptoms() []string {
	out := make([]string, 0, 1+len(r.AdditionalSymptoms))
	out = append(out, strings.TrimSpace(r.PrimarySymptom))
	for _, s := range r.AdditionalSymptoms {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// CacheKey hashes the request with case and list order normalized, so
// equivalent payloads share a cache entry.
func (r *Request) CacheKey() string {
	norm := struct {
		Primary     string   `json:"p"`
		Additional  []string `json:"a"`
		Duration    string   `json:"d"`
		Severity    string   `json:"s"`
		History     []string `json:"h"`
		Medications []string `json:"m"`
		Allergies   []string `json:"al"`
		Age         *int     `json:"age"`
		Gender      string   `json:"g"`
	}{
		Primary:     normalize(r.PrimarySymptom),
		Additional:  normalizeList(r.AdditionalSymptoms),
		Duration:    normalize(r.Duration),
		Severity:    normalize(string(r.Severity)),
		History:     normalizeList(r.MedicalHistory),
		Medications: normalizeList(r.CurrentMedications),
		Allergies:   normalizeList(r.Allergies),
		Age:         r.Age,
		Gender:      normalize(r.Gender),
	}
	raw, _ := json.Marshal(norm)
	sum := sha256.Sum256(raw)
	return "diagnosis:" + hex.EncodeToString(sum[:])
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = normalize(s); s != "" {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// Result is the diagnosis embedded into sessions and consultations.
type Result struct {
	Diagnosis        string           `json:"diagnosis" bson:"diagnosis"`
	Confidence       float64          `json:"confidence" bson:"confidence"`
	Severity         Severity         `json:"severity" bson:"severity"`
	ConsultationType ConsultationType `json:"consultation_type" bson:"consultation_type"`
	Investigations   []Investigation  `json:"investigations,omitempty" bson:"investigations,omitempty"`
	Medications      []string         `json:"medications,omitempty" bson:"medications,omitempty"`
	IsFallback       bool             `json:"is_fallback" bson:"is_fallback"`
	FromCache        bool             `json:"from_cache" bson:"from_cache"`
	IsRecovered      bool             `json:"is_recovered,omitempty" bson:"is_recovered,omitempty"`
	GeneratedAt      time.Time        `json:"generated_at" bson:"generated_at"`
}

// RecoveredConfidenceCap bounds the confidence of a diagnosis carried over
// from a recovered payment session.
const RecoveredConfidenceCap = 0.3

const recoveredTag = "(Recovered from session)"

// AsRecovered returns a copy with confidence clamped and text tagged.
func (r Result) AsRecovered() Result {
	out := r
	if out.Confidence > RecoveredConfidenceCap {
		out.Confidence = RecoveredConfidenceCap
	}
	if !strings.HasSuffix(out.Diagnosis, recoveredTag) {
		out.Diagnosis = strings.TrimSpace(out.Diagnosis + " " + recoveredTag)
	}
	out.IsRecovered = true
	out.Investigations = append([]Investigation(nil), r.Investigations...)
	out.Medications = append([]string(nil), r.Medications...)
	return out
}
