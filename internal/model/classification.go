package model

import "strings"

// ClassificationType is the intent category assigned to a message.
type ClassificationType string

const (
	TypeIncident       ClassificationType = "incident"
	TypeKnowledgeQuery ClassificationType = "knowledge_query"
	TypeSupportRequest ClassificationType = "support_request"
	TypeDeploymentHelp ClassificationType = "deployment_help"
	TypeGeneral        ClassificationType = "general"
)

// Valid reports whether t is a known classification type.
func (t ClassificationType) Valid() bool {
	switch t {
	case TypeIncident, TypeKnowledgeQuery, TypeSupportRequest, TypeDeploymentHelp, TypeGeneral:
		return true
	}
	return false
}

// ClassificationTypes lists every known classification type.
func ClassificationTypes() []ClassificationType {
	return []ClassificationType{TypeIncident, TypeKnowledgeQuery, TypeSupportRequest, TypeDeploymentHelp, TypeGeneral}
}

// Severity is the urgency assigned to a message.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Severities lists every known severity from lowest to highest.
func Severities() []Severity {
	return []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}
}

// Classification is the result of intent understanding for one message.
type Classification struct {
	Type       ClassificationType `json:"type"`
	Severity   Severity           `json:"severity"`
	Confidence float64            `json:"confidence"`
	Entities   []string           `json:"entities,omitempty"`

	// Degraded is set when the raw classification had to be coerced into range.
	Degraded bool `json:"degraded,omitempty"`
}

// FallbackClassification is used when no classification could be obtained.
func FallbackClassification() Classification {
	return Classification{Type: TypeGeneral, Severity: SeverityLow, Confidence: 0}
}

// typeAliases maps labels produced by older prompts onto the current enumeration.
var typeAliases = map[string]ClassificationType{
	"general_inquiry": TypeGeneral,
}

// NormalizeClassification coerces a raw classification into the enumerations.
// Unrecognized types and severities become general and low, and confidence is
// clamped into [0,1]; any coercion sets Degraded rather than failing.
func NormalizeClassification(rawType, rawSeverity string, confidence float64, entities []string) Classification {
	c := Classification{Confidence: confidence}

	t := ClassificationType(strings.ToLower(strings.TrimSpace(rawType)))
	if alias, ok := typeAliases[string(t)]; ok {
		t = alias
	}
	if t.Valid() {
		c.Type = t
	} else {
		c.Type = TypeGeneral
		c.Degraded = true
	}

	s := Severity(strings.ToLower(strings.TrimSpace(rawSeverity)))
	if s.Valid() {
		c.Severity = s
	} else {
		c.Severity = SeverityLow
		c.Degraded = true
	}

	switch {
	case c.Confidence != c.Confidence: // NaN
		c.Confidence = 0
		c.Degraded = true
	case c.Confidence < 0:
		c.Confidence = 0
		c.Degraded = true
	case c.Confidence > 1:
		c.Confidence = 1
		c.Degraded = true
	}

	for _, e := range entities {
		if e = strings.TrimSpace(e); e != "" {
			c.Entities = append(c.Entities, e)
		}
	}

	return c
}
