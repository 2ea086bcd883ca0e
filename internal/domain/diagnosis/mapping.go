package diagnosis

import (
	"strings"
	"time"
)

// SeverityForConfidence buckets a model confidence score. Low confidence
// maps to critical: an unsure model escalates to a human.
func SeverityForConfidence(confidence float64) Severity {
	switch {
	case confidence >= 0.9:
		return SeverityHigh
	case confidence >= 0.7:
		return SeverityMedium
	case confidence >= 0.5:
		return SeverityLow
	default:
		return SeverityCritical
	}
}

func ConsultationTypeFor(severity Severity, investigations []Investigation) ConsultationType {
	if severity == SeverityCritical {
		return TypeEmergency
	}
	if severity == SeverityHigh {
		return TypeVideo
	}
	for _, inv := range investigations {
		if inv.Priority == PriorityHigh {
			return TypeVideo
		}
	}
	return TypeChat
}

func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

func normalizePriority(p string) Priority {
	switch Priority(strings.ToLower(strings.TrimSpace(p))) {
	case PriorityHigh:
		return PriorityHigh
	case PriorityMedium:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// FromResponse maps a diagnosis service response into a Result.
func FromResponse(resp *ServiceResponse, now time.Time) *Result {
	invs := make([]Investigation, 0, len(resp.SuggestedInvestigations))
	for _, si := range resp.SuggestedInvestigations {
		if strings.TrimSpace(si.Name) == "" {
			continue
		}
		invs = append(invs, Investigation{
			Name:     si.Name,
			Priority: normalizePriority(si.Priority),
			Reason:   si.Reason,
		})
	}

	confidence := clampConfidence(resp.ConfidenceScore)
	severity := SeverityForConfidence(confidence)
	return &Result{
		Diagnosis:        strings.TrimSpace(resp.Diagnosis),
		Confidence:       confidence,
		Severity:         severity,
		ConsultationType: ConsultationTypeFor(severity, invs),
		Investigations:   invs,
		Medications:      append([]string(nil), resp.RecommendedMedications...),
		GeneratedAt:      now.UTC(),
	}
}
