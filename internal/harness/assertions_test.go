package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/trainflow/internal/domain"
	"github.com/roach88/trainflow/internal/offline"
	"github.com/roach88/trainflow/internal/store"
)

var sampleTrace = []TraceEvent{
	{Step: 1, Op: OpCreateRequest, Actor: "u1/requester", Outcome: OutcomeOK,
		Result: map[string]any{"id": "r1", "status": "UNDER_REVIEW"}},
	{Step: 2, Op: OpOffline, Outcome: OutcomeOK},
	{Step: 3, Op: OpEditRequest, Actor: "u1/requester", Outcome: OutcomeQueued,
		Result: map[string]any{"id": "r1", "status": "UNDER_REVIEW"}},
	{Step: 4, Op: OpOnline, Outcome: OutcomeOK},
	{Step: 5, Op: OpDrain, Outcome: OutcomeOK,
		Result: map[string]any{"succeeded": 1, "retained": 0, "dropped": 0}},
	{Step: 6, Op: OpSelect, Actor: "u4/supervisor", Outcome: "ALREADY_ASSIGNED"},
}

func TestAssertTraceContains(t *testing.T) {
	tests := []struct {
		name      string
		assertion Assertion
		wantErr   bool
	}{
		{"op only", Assertion{Op: OpEditRequest}, false},
		{"op and outcome", Assertion{Op: OpEditRequest, Outcome: OutcomeQueued}, false},
		{"wrong outcome", Assertion{Op: OpEditRequest, Outcome: OutcomeOK}, true},
		{"result subset", Assertion{Op: OpDrain, Result: map[string]any{"succeeded": 1}}, false},
		{"result mismatch", Assertion{Op: OpDrain, Result: map[string]any{"succeeded": 2}}, true},
		{"result key missing", Assertion{Op: OpDrain, Result: map[string]any{"skipped": true}}, true},
		{"error kind", Assertion{Op: OpSelect, Outcome: "ALREADY_ASSIGNED"}, false},
		{"absent op", Assertion{Op: OpApply}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.assertion.Type = AssertTraceContains
			err := assertTraceContains(sampleTrace, tt.assertion)
			if tt.wantErr {
				require.Error(t, err)
				var ae *AssertionError
				require.ErrorAs(t, err, &ae)
				assert.Contains(t, err.Error(), "Full trace:")
				assert.Contains(t, err.Error(), "01 create_request u1/requester -> ok")
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestAssertTraceOrder(t *testing.T) {
	assert.NoError(t, assertTraceOrder(sampleTrace, Assertion{Ops: []string{OpCreateRequest, OpOffline, OpDrain}}))
	assert.NoError(t, assertTraceOrder(sampleTrace, Assertion{Ops: []string{OpOffline, OpSelect}}))

	err := assertTraceOrder(sampleTrace, Assertion{Ops: []string{OpDrain, OpOffline}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "should be before")

	err = assertTraceOrder(sampleTrace, Assertion{Ops: []string{OpCreateRequest, OpApply}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing op: apply")
}

func TestAssertTraceCount(t *testing.T) {
	assert.NoError(t, assertTraceCount(sampleTrace, Assertion{Op: OpDrain, Count: 1}))
	assert.NoError(t, assertTraceCount(sampleTrace, Assertion{Op: OpApply, Count: 0}))
	assert.NoError(t, assertTraceCount(sampleTrace, Assertion{Op: OpEditRequest, Outcome: OutcomeOK, Count: 0}))

	err := assertTraceCount(sampleTrace, Assertion{Op: OpDrain, Count: 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 occurrences")
}

func TestAssertFinalState(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	defer st.Close()

	_, err = st.Create(ctx, store.TableRequests, "r1", domain.TrainingRequest{
		ID:                "r1",
		Status:            domain.StatusTRAssigned,
		AssignedTrainerID: "t1",
		DurationHours:     3,
	})
	require.NoError(t, err)

	tests := []struct {
		name    string
		id      string
		expect  map[string]any
		wantErr string
	}{
		{"matches", "r1", map[string]any{"status": "TR_ASSIGNED", "assigned_trainer_id": "t1"}, ""},
		{"number from yaml int", "r1", map[string]any{"duration_hours": 3}, ""},
		{"wrong value", "r1", map[string]any{"status": "SCHEDULED"}, `field "status" = TR_ASSIGNED`},
		{"missing field", "r1", map[string]any{"nope": "x"}, `field "nope" not present`},
		{"missing record", "r2", map[string]any{"status": "TR_ASSIGNED"}, "record not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := assertFinalState(ctx, st, Assertion{
				Type:   AssertFinalState,
				Table:  store.TableRequests,
				ID:     tt.id,
				Expect: tt.expect,
			})
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestAssertQueueLength(t *testing.T) {
	q, err := offline.Open(context.Background(), offline.Options{})
	require.NoError(t, err)

	assert.NoError(t, assertQueueLength(q, Assertion{Count: 0}))

	_, err = q.Enqueue(context.Background(), domain.ActionUpdateRequest, map[string]string{"id": "r1"})
	require.NoError(t, err)
	assert.NoError(t, assertQueueLength(q, Assertion{Count: 1}))
	assert.Error(t, assertQueueLength(q, Assertion{Count: 0}))
}

func TestValuesEqual(t *testing.T) {
	tests := []struct {
		name     string
		actual   any
		expected any
		want     bool
	}{
		{"both nil", nil, nil, true},
		{"nil vs value", nil, "x", false},
		{"strings", "a", "a", true},
		{"json float vs yaml int", float64(3), 3, true},
		{"int64 vs int", int64(3), 3, true},
		{"number vs string", float64(3), "3", false},
		{"bools", true, true, true},
		{"lists", []any{"t1", "u1"}, []any{"t1", "u1"}, true},
		{"list order matters", []any{"u1", "t1"}, []any{"t1", "u1"}, false},
		{"list length", []any{"t1"}, []any{"t1", "u1"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, valuesEqual(tt.actual, tt.expected))
		})
	}
}

func TestEvaluateAssertions_RequiresContext(t *testing.T) {
	result := NewResult()
	errs := EvaluateAssertions(result, []Assertion{
		{Type: AssertFinalState, Table: "requests", ID: "r1", Expect: map[string]any{"status": "x"}},
		{Type: AssertQueueLength},
		{Type: "bogus"},
	}, nil)
	require.Len(t, errs, 3)
	assert.Contains(t, errs[0], "final_state requires a store")
	assert.Contains(t, errs[1], "queue_length requires a queue")
	assert.Contains(t, errs[2], `unknown assertion type "bogus"`)
}
