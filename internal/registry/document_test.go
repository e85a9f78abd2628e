package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/oncall-dispatch/internal/model"
)

const sampleDocument = `
workflows:
  - name: incident_response
    priority: 100
    trigger_conditions:
      classification_type: incident
      urgency: [high, critical]
    actions:
      - type: escalate
        params:
          escalation_level: high
          notify_channels: ["#oncall"]
      - type: create_ticket
        params: {priority: high}
        timeout: 3s
      - type: respond
        params: {template: incident_ack}
    response_template: incident_ack
  - name: kb_lookup
    priority: 50
    enabled: false
    trigger_conditions:
      type: knowledge_query
      entities: "42"
    actions:
      - type: search_kb
        params: {max_results: 3}
response_templates:
  incident_ack: "Escalated at {{.escalation_level}} priority."
`

func TestParseDocument(t *testing.T) {
	doc, err := ParseDocument([]byte(sampleDocument))
	require.NoError(t, err)
	require.Len(t, doc.Workflows, 2)

	incident := doc.Workflows[0]
	assert.True(t, incident.Enabled)
	assert.Equal(t, []model.Condition{
		{Field: model.FieldClassificationType, Kind: model.ConditionEquals, Values: []string{"incident"}},
		{Field: model.FieldSeverity, Kind: model.ConditionIn, Values: []string{"high", "critical"}},
	}, incident.Conditions)
	assert.Equal(t, 3*time.Second, incident.Actions[1].Timeout)
	assert.Equal(t, []string{"#oncall"}, incident.Actions[0].StringsParam("notify_channels"))

	kb := doc.Workflows[1]
	assert.False(t, kb.Enabled)
	assert.Equal(t, model.Condition{Field: model.FieldEntities, Kind: model.ConditionEquals, Values: []string{"42"}}, kb.Conditions[0])
	assert.Equal(t, 3, kb.Actions[0].IntParam("max_results", 5))

	assert.Contains(t, doc.ResponseTemplates, "incident_ack")
}

func TestParseDocumentRejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "non-string scalar",
			doc: `
workflows:
  - name: a
    trigger_conditions: {entities: 42}
    actions: [{type: respond}]`,
			want: "must be a string",
		},
		{
			name: "non-string list item",
			doc: `
workflows:
  - name: a
    trigger_conditions: {entities: ["x", 7]}
    actions: [{type: respond}]`,
			want: "list item 7 must be a string",
		},
		{
			name: "unknown field",
			doc: `
workflows:
  - name: a
    trigger_conditions: {mood: grumpy}
    actions: [{type: respond}]`,
			want: `unknown condition field "mood"`,
		},
		{
			name: "unknown enum value",
			doc: `
workflows:
  - name: a
    trigger_conditions: {severity: apocalyptic}
    actions: [{type: respond}]`,
			want: `unknown value "apocalyptic"`,
		},
		{
			name: "unknown action",
			doc: `
workflows:
  - name: a
    actions: [{type: reboot}]`,
			want: `unknown action type "reboot"`,
		},
		{
			name: "bad timeout",
			doc: `
workflows:
  - name: a
    actions: [{type: respond, timeout: soon}]`,
			want: `invalid timeout "soon"`,
		},
		{
			name: "empty name",
			doc: `
workflows:
  - actions: [{type: respond}]`,
			want: "name is required",
		},
		{
			name: "unknown template",
			doc: `
workflows:
  - name: a
    actions: [{type: respond}]
    response_template: missing
response_templates:
  other: hi`,
			want: `unknown response template "missing"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDocument([]byte(tt.doc))
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Error(), tt.want)
		})
	}
}

func TestDocumentRoundTrip(t *testing.T) {
	doc, err := ParseDocument([]byte(sampleDocument))
	require.NoError(t, err)

	data, err := doc.Marshal()
	require.NoError(t, err)

	again, err := ParseDocument(data)
	require.NoError(t, err)

	assert.Equal(t, doc.ResponseTemplates, again.ResponseTemplates)
	require.Len(t, again.Workflows, len(doc.Workflows))
	for i := range doc.Workflows {
		want, got := doc.Workflows[i], again.Workflows[i]
		assert.Equal(t, want.Name, got.Name)
		assert.Equal(t, want.Priority, got.Priority)
		assert.Equal(t, want.Enabled, got.Enabled)
		assert.Equal(t, want.Conditions, got.Conditions, "conditions of %s", want.Name)
		assert.Equal(t, want.ResponseTemplate, got.ResponseTemplate)
		require.Len(t, got.Actions, len(want.Actions))
		for j := range want.Actions {
			assert.Equal(t, want.Actions[j].Type, got.Actions[j].Type)
			assert.Equal(t, want.Actions[j].Timeout, got.Actions[j].Timeout)
			assert.Equal(t, want.Actions[j].IsCritical(), got.Actions[j].IsCritical())
		}
	}
}

func TestParseDocumentJSON(t *testing.T) {
	doc, err := ParseDocument([]byte(`{"workflows":[{"name":"j","priority":1,"trigger_conditions":{"severity":"high"},"actions":[{"type":"respond"}]}]}`))
	require.NoError(t, err)
	assert.Equal(t, model.ConditionEquals, doc.Workflows[0].Conditions[0].Kind)
}
