// Package matcher selects the workflow a classified message should run.
package matcher

import (
	"github.com/capitalize-ai/oncall-dispatch/internal/model"
)

// Match returns the first definition in defs whose conditions all hold.
// defs must already be in priority order; disabled definitions are skipped.
func Match(cls model.Classification, msg model.MessageContext, defs []model.WorkflowDefinition) (*model.WorkflowDefinition, bool) {
	for i := range defs {
		if !defs[i].Enabled {
			continue
		}
		if matchesAll(defs[i].Conditions, cls, msg) {
			wf := defs[i]
			return &wf, true
		}
	}
	return nil, false
}

func matchesAll(conds []model.Condition, cls model.Classification, msg model.MessageContext) bool {
	for _, c := range conds {
		if !Evaluate(c, cls, msg) {
			return false
		}
	}
	return true
}

// Evaluate reports whether a single condition holds. Entity conditions hold
// if any extracted entity is accepted.
func Evaluate(c model.Condition, cls model.Classification, msg model.MessageContext) bool {
	switch c.Field {
	case model.FieldClassificationType:
		return accepts(c, string(cls.Type))
	case model.FieldSeverity:
		return accepts(c, string(cls.Severity))
	case model.FieldChannelType:
		return accepts(c, string(msg.ChannelType))
	case model.FieldEntities:
		for _, e := range cls.Entities {
			if accepts(c, e) {
				return true
			}
		}
		return false
	}
	return false
}

func accepts(c model.Condition, v string) bool {
	switch c.Kind {
	case model.ConditionEquals:
		return len(c.Values) == 1 && c.Values[0] == v
	case model.ConditionIn:
		for _, accepted := range c.Values {
			if accepted == v {
				return true
			}
		}
	}
	return false
}

// ConditionResult is the evaluation of one condition.
type ConditionResult struct {
	Condition model.Condition
	Actual    []string
	Holds     bool
}

// Evaluation describes how one definition fared against a classification.
type Evaluation struct {
	Workflow   string
	Priority   int
	Enabled    bool
	Matched    bool
	Conditions []ConditionResult
}

// Explain evaluates every definition in order and reports per-condition
// results. It is used for dry runs; Match is the dispatch path.
func Explain(cls model.Classification, msg model.MessageContext, defs []model.WorkflowDefinition) []Evaluation {
	out := make([]Evaluation, 0, len(defs))
	for _, def := range defs {
		ev := Evaluation{Workflow: def.Name, Priority: def.Priority, Enabled: def.Enabled, Matched: def.Enabled}
		for _, c := range def.Conditions {
			holds := Evaluate(c, cls, msg)
			ev.Conditions = append(ev.Conditions, ConditionResult{Condition: c, Actual: actual(c.Field, cls, msg), Holds: holds})
			if !holds {
				ev.Matched = false
			}
		}
		out = append(out, ev)
	}
	return out
}

func actual(f model.ConditionField, cls model.Classification, msg model.MessageContext) []string {
	switch f {
	case model.FieldClassificationType:
		return []string{string(cls.Type)}
	case model.FieldSeverity:
		return []string{string(cls.Severity)}
	case model.FieldChannelType:
		return []string{string(msg.ChannelType)}
	case model.FieldEntities:
		return cls.Entities
	}
	return nil
}
