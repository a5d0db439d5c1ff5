package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadScenario_ValidFile(t *testing.T) {
	dir := t.TempDir()
	scenarioPath := filepath.Join(dir, "test.yaml")

	content := `
name: test_scenario
description: "Test scenario for validation"
flow:
  - op: create_request
    as: u1
    role: requester
    args:
      id: r1
      hours: 3
  - op: offline
assertions:
  - type: trace_contains
    op: create_request
`
	require.NoError(t, os.WriteFile(scenarioPath, []byte(content), 0644))

	scenario, err := LoadScenario(scenarioPath)
	require.NoError(t, err)

	assert.Equal(t, "test_scenario", scenario.Name)
	assert.Equal(t, "Test scenario for validation", scenario.Description)
	assert.Len(t, scenario.Flow, 2)
	assert.Len(t, scenario.Assertions, 1)
	assert.Equal(t, OpCreateRequest, scenario.Flow[0].Op)
	assert.Equal(t, "r1", scenario.Flow[0].Args["id"])
	assert.Equal(t, 3, scenario.Flow[0].Args["hours"])
	assert.Equal(t, OpOffline, scenario.Flow[1].Op)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "malformed yaml",
			content: "name: [unclosed",
			wantErr: "failed to parse YAML",
		},
		{
			name: "unknown field",
			content: `
name: s
description: d
flow: [{op: drain}]
assertion: []
`,
			wantErr: "field assertion not found",
		},
		{
			name: "missing name",
			content: `
description: d
flow: [{op: drain}]
assertions: [{type: queue_length}]
`,
			wantErr: "name is required",
		},
		{
			name: "missing description",
			content: `
name: s
flow: [{op: drain}]
assertions: [{type: queue_length}]
`,
			wantErr: "description is required",
		},
		{
			name: "empty flow",
			content: `
name: s
description: d
assertions: [{type: queue_length}]
`,
			wantErr: "flow list is required",
		},
		{
			name: "no assertions",
			content: `
name: s
description: d
flow: [{op: drain}]
`,
			wantErr: "assertions list is required",
		},
		{
			name: "unknown op",
			content: `
name: s
description: d
flow: [{op: teleport}]
assertions: [{type: queue_length}]
`,
			wantErr: `flow[0]: unknown op "teleport"`,
		},
		{
			name: "actor op without role",
			content: `
name: s
description: d
flow: [{op: apply, as: t1, args: {request: r1}}]
assertions: [{type: queue_length}]
`,
			wantErr: "flow[0]: role is required for apply",
		},
		{
			name: "trace_contains without op",
			content: `
name: s
description: d
flow: [{op: drain}]
assertions: [{type: trace_contains}]
`,
			wantErr: "op is required for trace_contains",
		},
		{
			name: "trace_order without ops",
			content: `
name: s
description: d
flow: [{op: drain}]
assertions: [{type: trace_order}]
`,
			wantErr: "ops list is required for trace_order",
		},
		{
			name: "final_state without id",
			content: `
name: s
description: d
flow: [{op: drain}]
assertions: [{type: final_state, table: requests, expect: {status: SCHEDULED}}]
`,
			wantErr: "table and id are required",
		},
		{
			name: "final_state without expect",
			content: `
name: s
description: d
flow: [{op: drain}]
assertions: [{type: final_state, table: requests, id: r1}]
`,
			wantErr: "expect is required for final_state",
		},
		{
			name: "unknown assertion type",
			content: `
name: s
description: d
flow: [{op: drain}]
assertions: [{type: eventually}]
`,
			wantErr: `unknown assertion type "eventually"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadScenario_Testdata(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("testdata", "scenarios", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			s, err := LoadScenario(path)
			require.NoError(t, err)
			assert.Equal(t, filepath.Base(path), s.Name+".yaml")
		})
	}
}
