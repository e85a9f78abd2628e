package registry

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/capitalize-ai/oncall-dispatch/internal/model"
)

// Document is a parsed workflow configuration file.
type Document struct {
	Workflows         []model.WorkflowDefinition
	ResponseTemplates map[string]string
}

type rawDocument struct {
	Workflows         []rawWorkflow     `yaml:"workflows"`
	ResponseTemplates map[string]string `yaml:"response_templates,omitempty"`
}

type rawWorkflow struct {
	Name              string      `yaml:"name"`
	Description       string      `yaml:"description,omitempty"`
	Priority          int         `yaml:"priority"`
	Enabled           *bool       `yaml:"enabled,omitempty"`
	TriggerConditions yaml.Node   `yaml:"trigger_conditions,omitempty"`
	Actions           []rawAction `yaml:"actions"`
	ResponseTemplate  string      `yaml:"response_template,omitempty"`
}

type rawAction struct {
	Type     string         `yaml:"type"`
	Params   map[string]any `yaml:"params,omitempty"`
	Critical bool           `yaml:"critical,omitempty"`
	Timeout  string         `yaml:"timeout,omitempty"`
}

// LoadFile reads and parses a workflow document from disk.
func LoadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow file: %w", err)
	}
	doc, err := ParseDocument(data)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}
	return doc, nil
}

// ParseDocument parses a YAML or JSON workflow document and validates it.
// Condition values keep their document type: a scalar becomes an equals
// condition and a sequence becomes a membership condition. Non-string
// values are rejected rather than coerced.
func ParseDocument(data []byte) (*Document, error) {
	var raw rawDocument
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse workflow document: %w", err)
	}

	var issues []string
	doc := &Document{
		Workflows:         make([]model.WorkflowDefinition, 0, len(raw.Workflows)),
		ResponseTemplates: raw.ResponseTemplates,
	}

	for index, rw := range raw.Workflows {
		prefix := fmt.Sprintf("workflows[%d] %q:", index, rw.Name)

		def := model.WorkflowDefinition{
			Name:             rw.Name,
			Description:      rw.Description,
			Priority:         rw.Priority,
			Enabled:          rw.Enabled == nil || *rw.Enabled,
			ResponseTemplate: rw.ResponseTemplate,
			LoadIndex:        index,
		}

		conds, condIssues := decodeConditions(&rw.TriggerConditions, prefix)
		issues = append(issues, condIssues...)
		def.Conditions = conds

		for i, ra := range rw.Actions {
			action := model.ActionSpec{
				Type:     model.ActionType(strings.TrimSpace(ra.Type)),
				Params:   ra.Params,
				Critical: ra.Critical,
			}
			if ra.Timeout != "" {
				d, err := time.ParseDuration(ra.Timeout)
				if err != nil {
					issues = append(issues, fmt.Sprintf("%s actions[%d]: invalid timeout %q: %v", prefix, i, ra.Timeout, err))
				}
				action.Timeout = d
			}
			def.Actions = append(def.Actions, action)
		}

		doc.Workflows = append(doc.Workflows, def)
	}

	issues = append(issues, Validate(doc.Workflows)...)
	for _, def := range doc.Workflows {
		if def.ResponseTemplate == "" || doc.ResponseTemplates == nil {
			continue
		}
		if _, ok := doc.ResponseTemplates[def.ResponseTemplate]; !ok {
			issues = append(issues, fmt.Sprintf("workflows[%d] %q: unknown response template %q", def.LoadIndex, def.Name, def.ResponseTemplate))
		}
	}
	if len(issues) > 0 {
		return nil, &ValidationError{Issues: issues}
	}

	return doc, nil
}

func decodeConditions(node *yaml.Node, prefix string) ([]model.Condition, []string) {
	if node.Kind == 0 {
		return nil, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, []string{prefix + " trigger_conditions must be a mapping"}
	}

	var (
		conds  []model.Condition
		issues []string
	)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]

		field, ok := canonicalField(key.Value)
		if !ok {
			issues = append(issues, fmt.Sprintf("%s unknown condition field %q", prefix, key.Value))
			continue
		}

		switch value.Kind {
		case yaml.ScalarNode:
			if value.ShortTag() != "!!str" {
				issues = append(issues, fmt.Sprintf("%s condition %q: value %s must be a string, got %s", prefix, key.Value, value.Value, value.ShortTag()))
				continue
			}
			conds = append(conds, model.Condition{Field: field, Kind: model.ConditionEquals, Values: []string{value.Value}})
		case yaml.SequenceNode:
			values := make([]string, 0, len(value.Content))
			for _, item := range value.Content {
				if item.Kind != yaml.ScalarNode || item.ShortTag() != "!!str" {
					issues = append(issues, fmt.Sprintf("%s condition %q: list item %s must be a string", prefix, key.Value, item.Value))
					continue
				}
				values = append(values, item.Value)
			}
			conds = append(conds, model.Condition{Field: field, Kind: model.ConditionIn, Values: values})
		default:
			issues = append(issues, fmt.Sprintf("%s condition %q: value must be a string or a list of strings", prefix, key.Value))
		}
	}

	sort.SliceStable(conds, func(i, j int) bool { return conds[i].Field < conds[j].Field })
	return conds, issues
}

// Marshal encodes the document back into its YAML form.
func (d *Document) Marshal() ([]byte, error) {
	out := struct {
		Workflows         []map[string]any  `yaml:"workflows"`
		ResponseTemplates map[string]string `yaml:"response_templates,omitempty"`
	}{ResponseTemplates: d.ResponseTemplates}

	for _, def := range d.Workflows {
		w := map[string]any{
			"name":     def.Name,
			"priority": def.Priority,
			"enabled":  def.Enabled,
		}
		if def.Description != "" {
			w["description"] = def.Description
		}
		if len(def.Conditions) > 0 {
			w["trigger_conditions"] = def.TriggerDocument()
		}
		if def.ResponseTemplate != "" {
			w["response_template"] = def.ResponseTemplate
		}

		actions := make([]rawAction, 0, len(def.Actions))
		for _, a := range def.Actions {
			ra := rawAction{Type: string(a.Type), Params: a.Params, Critical: a.Critical}
			if a.Timeout > 0 {
				ra.Timeout = a.Timeout.String()
			}
			actions = append(actions, ra)
		}
		w["actions"] = actions

		out.Workflows = append(out.Workflows, w)
	}

	data, err := yaml.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("failed to encode workflow document: %w", err)
	}
	return data, nil
}
