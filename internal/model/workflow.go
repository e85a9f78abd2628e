package model

import "time"

// ActionType tags one step of a workflow.
type ActionType string

const (
	ActionEscalate     ActionType = "escalate"
	ActionCreateTicket ActionType = "create_ticket"
	ActionSearchKB     ActionType = "search_kb"
	ActionFetchDocs    ActionType = "fetch_docs"
	ActionRespond      ActionType = "respond"
)

// Valid reports whether a is a known action type.
func (a ActionType) Valid() bool {
	switch a {
	case ActionEscalate, ActionCreateTicket, ActionSearchKB, ActionFetchDocs, ActionRespond:
		return true
	}
	return false
}

// AlwaysCritical reports whether failures of this action type always halt a workflow.
func (a ActionType) AlwaysCritical() bool {
	return a == ActionEscalate || a == ActionCreateTicket
}

// ActionSpec is one step of a workflow.
type ActionSpec struct {
	Type   ActionType     `json:"type" yaml:"type"`
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`

	// Critical marks an otherwise non-critical action as critical.
	Critical bool `json:"critical,omitempty" yaml:"critical,omitempty"`

	// Timeout bounds the collaborator call. Zero means the executor default.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"-"`
}

// IsCritical reports whether a failure of this action halts the workflow.
func (a ActionSpec) IsCritical() bool {
	return a.Critical || a.Type.AlwaysCritical()
}

// StringParam returns a string parameter or def when absent or not a string.
func (a ActionSpec) StringParam(name, def string) string {
	if v, ok := a.Params[name].(string); ok && v != "" {
		return v
	}
	return def
}

// IntParam returns an integer parameter or def when absent.
func (a ActionSpec) IntParam(name string, def int) int {
	switch v := a.Params[name].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

// StringsParam returns a list parameter. A single string is returned as a one-element list.
func (a ActionSpec) StringsParam(name string) []string {
	switch v := a.Params[name].(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// ConditionField is a field of the fixed schema trigger conditions may reference.
type ConditionField string

const (
	FieldClassificationType ConditionField = "classification_type"
	FieldSeverity           ConditionField = "severity"
	FieldEntities           ConditionField = "entities"
	FieldChannelType        ConditionField = "channel_type"
)

// ConditionKind is the closed set of comparison kinds.
type ConditionKind string

const (
	// ConditionEquals holds when the field equals the single accepted value.
	ConditionEquals ConditionKind = "equals"
	// ConditionIn holds when the field is one of the accepted values.
	ConditionIn ConditionKind = "in"
)

// Condition is a single field-level constraint of a workflow trigger.
type Condition struct {
	Field  ConditionField `json:"field"`
	Kind   ConditionKind  `json:"kind"`
	Values []string       `json:"values"`
}

// WorkflowDefinition is a declarative rule that maps classification
// conditions to an ordered action list.
type WorkflowDefinition struct {
	Name             string       `json:"name"`
	Description      string       `json:"description,omitempty"`
	Priority         int          `json:"priority"`
	Enabled          bool         `json:"enabled"`
	Conditions       []Condition  `json:"trigger_conditions"`
	Actions          []ActionSpec `json:"actions"`
	ResponseTemplate string       `json:"response_template,omitempty"`

	// LoadIndex is the position in the loaded document, used to break priority ties.
	LoadIndex int `json:"-"`
}

// TriggerDocument renders the conditions back into the document shape:
// equals conditions as scalars, membership conditions as lists.
func (w WorkflowDefinition) TriggerDocument() map[string]any {
	out := make(map[string]any, len(w.Conditions))
	for _, c := range w.Conditions {
		if c.Kind == ConditionEquals && len(c.Values) == 1 {
			out[string(c.Field)] = c.Values[0]
			continue
		}
		values := make([]string, len(c.Values))
		copy(values, c.Values)
		out[string(c.Field)] = values
	}
	return out
}
