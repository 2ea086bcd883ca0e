package diagnosis

import (
	"fmt"
	"strings"
	"time"
)

type keywordRule struct {
	keyword  string
	severity Severity
}

// fallbackRules is matched against the lower-cased symptom text.
var fallbackRules = []keywordRule{
	{"chest pain", SeverityCritical},
	{"difficulty breathing", SeverityCritical},
	{"shortness of breath", SeverityCritical},
	{"unconscious", SeverityCritical},
	{"severe bleeding", SeverityCritical},
	{"stroke", SeverityCritical},
	{"seizure", SeverityCritical},
	{"suicidal", SeverityCritical},
	{"high fever", SeverityHigh},
	{"persistent vomiting", SeverityHigh},
	{"severe headache", SeverityHigh},
	{"fracture", SeverityHigh},
	{"dehydration", SeverityHigh},
	{"blood in", SeverityHigh},
}

var fallbackConfidence = map[Severity]float64{
	SeverityCritical: 0.5,
	SeverityHigh:     0.45,
	SeverityMedium:   0.4,
	SeverityLow:      0.4,
}

var fallbackInvestigations = map[Severity][]Investigation{
	SeverityCritical: {
		{Name: "Immediate emergency evaluation", Priority: PriorityHigh, Reason: "Emergency symptoms reported"},
		{Name: "Vital signs monitoring", Priority: PriorityHigh, Reason: "Emergency symptoms reported"},
	},
	SeverityHigh: {
		{Name: "Complete blood count", Priority: PriorityHigh, Reason: "Severe symptoms reported"},
		{Name: "Physician video assessment", Priority: PriorityHigh, Reason: "Severe symptoms reported"},
	},
	SeverityMedium: {
		{Name: "General physical examination", Priority: PriorityMedium, Reason: "Moderate symptoms reported"},
	},
	SeverityLow: {
		{Name: "General physical examination", Priority: PriorityLow, Reason: "Routine follow-up"},
	},
}

// classify returns the highest severity suggested by keyword matches and the
// declared severity.
func classify(req *Request) Severity {
	text := strings.ToLower(strings.Join(req.Symptoms(), " "))

	best := SeverityLow
	if req.Severity == DeclaredModerate {
		best = SeverityMedium
	}
	if req.Severity == DeclaredSevere {
		best = SeverityHigh
	}
	for _, rule := range fallbackRules {
		if severityRank[rule.severity] > severityRank[best] && strings.Contains(text, rule.keyword) {
			best = rule.severity
		}
	}
	return best
}

// Fallback builds a deterministic rule-based diagnosis for when the
// diagnosis service cannot be reached.
func Fallback(req *Request, now time.Time) *Result {
	severity := classify(req)

	var text string
	switch severity {
	case SeverityCritical:
		text = "Possible medical emergency based on reported symptoms. Seek immediate care."
	case SeverityHigh:
		text = "Symptoms need prompt medical evaluation by a physician."
	default:
		text = fmt.Sprintf("Preliminary assessment for %s; a doctor will review your symptoms.",
			strings.ToLower(strings.TrimSpace(req.PrimarySymptom)))
	}

	invs := append([]Investigation(nil), fallbackInvestigations[severity]...)
	return &Result{
		Diagnosis:        text,
		Confidence:       fallbackConfidence[severity],
		Severity:         severity,
		ConsultationType: ConsultationTypeFor(severity, invs),
		Investigations:   invs,
		IsFallback:       true,
		GeneratedAt:      now.UTC(),
	}
}
