package registry

import (
	"fmt"
	"strings"

	"github.com/capitalize-ai/oncall-dispatch/internal/model"
)

// ValidationError reports every problem found in a set of workflow definitions.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 1 {
		return "invalid workflow definitions: " + e.Issues[0]
	}
	return fmt.Sprintf("invalid workflow definitions (%d issues): %s", len(e.Issues), strings.Join(e.Issues, "; "))
}

// fieldAliases maps accepted alternate field names onto the condition schema.
var fieldAliases = map[string]model.ConditionField{
	"classification_type": model.FieldClassificationType,
	"type":                model.FieldClassificationType,
	"severity":            model.FieldSeverity,
	"urgency":             model.FieldSeverity,
	"entities":            model.FieldEntities,
	"channel_type":        model.FieldChannelType,
}

// canonicalField resolves a document field name. ok is false for unknown fields.
func canonicalField(name string) (model.ConditionField, bool) {
	f, ok := fieldAliases[strings.ToLower(strings.TrimSpace(name))]
	return f, ok
}

// Validate checks a set of definitions and returns the issues found.
// An empty list means the set can be loaded.
func Validate(defs []model.WorkflowDefinition) []string {
	var issues []string

	names := make(map[string]int, len(defs))
	for index, def := range defs {
		if def.Name == "" {
			continue
		}
		if first, exists := names[def.Name]; exists {
			issues = append(issues, fmt.Sprintf(
				"workflows[%d] %q: duplicate workflow name (first used at workflows[%d])",
				index, def.Name, first,
			))
			continue
		}
		names[def.Name] = index
	}

	for index, def := range defs {
		prefix := fmt.Sprintf("workflows[%d] %q:", index, def.Name)
		issues = append(issues, validateDefinition(def, prefix)...)
	}

	return issues
}

func validateDefinition(def model.WorkflowDefinition, prefix string) []string {
	var issues []string

	if strings.TrimSpace(def.Name) == "" {
		issues = append(issues, prefix+" name is required")
	}

	seen := make(map[model.ConditionField]bool, len(def.Conditions))
	for _, cond := range def.Conditions {
		field, _ := canonicalField(string(cond.Field))
		if field != "" && seen[field] {
			issues = append(issues, fmt.Sprintf("%s condition field %q appears more than once", prefix, field))
		}
		seen[field] = true
		issues = append(issues, validateCondition(cond, prefix)...)
	}

	if len(def.Actions) == 0 {
		issues = append(issues, prefix+" at least one action is required")
	}
	for i, action := range def.Actions {
		if !action.Type.Valid() {
			issues = append(issues, fmt.Sprintf("%s actions[%d]: unknown action type %q", prefix, i, action.Type))
		}
		if action.Timeout < 0 {
			issues = append(issues, fmt.Sprintf("%s actions[%d]: timeout must not be negative", prefix, i))
		}
	}

	return issues
}

func validateCondition(cond model.Condition, prefix string) []string {
	var issues []string

	field, ok := canonicalField(string(cond.Field))
	if !ok {
		return append(issues, fmt.Sprintf("%s unknown condition field %q", prefix, cond.Field))
	}

	switch cond.Kind {
	case model.ConditionEquals:
		if len(cond.Values) != 1 {
			issues = append(issues, fmt.Sprintf("%s condition %q: equals takes exactly one value", prefix, cond.Field))
		}
	case model.ConditionIn:
		if len(cond.Values) == 0 {
			issues = append(issues, fmt.Sprintf("%s condition %q: list must not be empty", prefix, cond.Field))
		}
	default:
		issues = append(issues, fmt.Sprintf("%s condition %q: unknown condition kind %q", prefix, cond.Field, cond.Kind))
	}

	for _, v := range cond.Values {
		if !validValue(field, v) {
			issues = append(issues, fmt.Sprintf("%s condition %q: unknown value %q", prefix, cond.Field, v))
		}
	}

	return issues
}

func validValue(field model.ConditionField, v string) bool {
	switch field {
	case model.FieldClassificationType:
		return model.ClassificationType(v).Valid()
	case model.FieldSeverity:
		return model.Severity(v).Valid()
	case model.FieldChannelType:
		return model.ChannelType(v).Valid()
	}
	return v != ""
}
