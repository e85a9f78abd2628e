package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const flow = `
workflows:
  - name: incident_response
    priority: 100
    trigger_conditions:
      classification_type: incident
      severity: [high, critical]
    actions:
      - type: escalate
      - type: respond
  - name: catch_all
    priority: 1
    actions:
      - type: respond
`

func run(t *testing.T, doc string, args ...string) (string, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "flow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--file", path))
	err := cmd.Execute()
	return out.String(), err
}

func TestValidate(t *testing.T) {
	out, err := run(t, flow, "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "2 workflows")

	out, err = run(t, "workflows:\n  - name: empty\n", "validate")
	require.Error(t, err)
	assert.Contains(t, out, "at least one action")
}

func TestList(t *testing.T) {
	out, err := run(t, flow, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "severity in [high,critical]")
	assert.Less(t, bytes.Index([]byte(out), []byte("incident_response")), bytes.Index([]byte(out), []byte("catch_all")))
}

func TestMatch(t *testing.T) {
	out, err := run(t, flow, "match", "--type", "incident", "--severity", "critical")
	require.NoError(t, err)
	assert.Contains(t, out, "incident_response (priority 100): MATCH")
	assert.Contains(t, out, "selected: incident_response")

	out, err = run(t, flow, "match", "--type", "incident", "--severity", "low")
	require.NoError(t, err)
	assert.Contains(t, out, "[x] severity in [high,critical] (actual [low])")
	assert.Contains(t, out, "selected: catch_all")
}
