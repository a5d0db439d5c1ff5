package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadTestdata(t *testing.T, name string) *Scenario {
	t.Helper()
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
	require.NoError(t, err)
	return s
}

func requirePass(t *testing.T, result *Result) {
	t.Helper()
	require.True(t, result.Pass, "errors:\n%v\ntrace:\n%s", result.Errors, Render("", result.Trace))
}

func TestRun_SelectTrainer(t *testing.T) {
	result, err := Run(loadTestdata(t, "select-trainer"))
	require.NoError(t, err)
	requirePass(t, result)
	assert.Len(t, result.Trace, 9)
}

func TestRun_OfflineEdit(t *testing.T) {
	result, err := Run(loadTestdata(t, "offline-edit"))
	require.NoError(t, err)
	requirePass(t, result)

	var drains []TraceEvent
	for _, ev := range result.Trace {
		if ev.Op == OpDrain {
			drains = append(drains, ev)
		}
	}
	require.Len(t, drains, 3)
	assert.Equal(t, 1, drains[0].Result["retained"], "offline drain keeps the edit")
	assert.Equal(t, 1, drains[1].Result["succeeded"])
	assert.Equal(t, 0, drains[2].Result["succeeded"], "replayed once")
}

func TestRun_UnexpectedOutcomeFails(t *testing.T) {
	scenario := &Scenario{
		Name:        "wrong_expectation",
		Description: "an apply to a missing request is expected to succeed",
		Flow: []Step{
			{Op: OpApply, As: "t1", Role: "trainer", Args: map[string]any{"request": "missing"}},
			{Op: OpDrain},
		},
		Assertions: []Assertion{{Type: AssertQueueLength, Count: 0}},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "flow[0] apply: expected ok, got NOT_FOUND")
	require.Len(t, result.Trace, 2, "execution continues after a mismatch")
}

func TestRun_FailedAssertion(t *testing.T) {
	scenario := &Scenario{
		Name:        "queue_not_empty",
		Description: "an offline edit stays queued",
		Flow: []Step{
			{Op: OpCreateRequest, As: "u1", Role: "requester", Args: map[string]any{
				"id": "r1", "title": "Budgeting", "specialization": "financial_planning",
				"province": "Bali", "date": "2024-02-01T09:00:00Z", "hours": 2,
			}},
			{Op: OpOffline},
			{Op: OpEditRequest, As: "u1", Role: "requester", Args: map[string]any{"id": "r1", "hours": 4}, Expect: OutcomeQueued},
		},
		Assertions: []Assertion{
			{Type: AssertQueueLength, Count: 0},
			{Type: AssertFinalState, Table: "requests", ID: "r1", Expect: map[string]any{"duration_hours": 2}},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "1 queued actions")
}

func TestRun_OfflineTransitionReplays(t *testing.T) {
	result, err := Run(&Scenario{
		Name:        "offline_transition",
		Description: "a queued review replays when the store returns",
		Flow: append(approvedRequest("CC_APPROVED"),
			Step{Op: OpOffline},
			Step{Op: OpTransition, As: "u3", Role: "reviewer_pm", Args: map[string]any{"id": "r1", "to": "PM_APPROVED"}, Expect: OutcomeQueued},
			Step{Op: OpOnline},
			Step{Op: OpDrain},
		),
		Assertions: []Assertion{
			{Type: AssertQueueLength, Count: 0},
			{Type: AssertFinalState, Table: "requests", ID: "r1", Expect: map[string]any{"status": "PM_APPROVED"}},
			{Type: AssertTraceCount, Op: "lost", Count: 0},
		},
	})
	require.NoError(t, err)
	requirePass(t, result)
}

func TestRun_RejectedReplayIsLost(t *testing.T) {
	result, err := Run(&Scenario{
		Name:        "lost_apply",
		Description: "an offline bid from a trainer without a profile is refused on replay",
		Flow: append(approvedRequest("PM_APPROVED"),
			Step{Op: OpOffline},
			Step{Op: OpApply, As: "t9", Role: "trainer", Args: map[string]any{"request": "r1"}, Expect: OutcomeQueued},
			Step{Op: OpOnline},
			Step{Op: OpDrain},
		),
		Assertions: []Assertion{
			{Type: AssertQueueLength, Count: 0},
			{Type: AssertTraceContains, Op: OpDrain, Result: map[string]any{"dropped": 1}},
			{Type: AssertTraceContains, Op: "lost", Outcome: "NOT_ELIGIBLE", Result: map[string]any{"type": "apply_trainer", "reason": "rejected"}},
		},
	})
	require.NoError(t, err)
	requirePass(t, result)

	last := result.Trace[len(result.Trace)-1]
	assert.Equal(t, "lost", last.Op)
}

// approvedRequest creates r1 and walks it up to status.
func approvedRequest(status string) []Step {
	steps := []Step{
		{Op: OpCreateRequest, As: "u1", Role: "requester", Args: map[string]any{
			"id": "r1", "title": "Budgeting", "specialization": "financial_planning",
			"province": "Bali", "date": "2024-02-01T09:00:00Z", "hours": 2,
		}},
		{Op: OpTransition, As: "u2", Role: "reviewer_cc", Args: map[string]any{"id": "r1", "to": "CC_APPROVED"}},
	}
	if status == "PM_APPROVED" {
		steps = append(steps, Step{Op: OpTransition, As: "u3", Role: "reviewer_pm", Args: map[string]any{"id": "r1", "to": "PM_APPROVED"}})
	}
	return steps
}
