package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/trainflow/internal/domain"
	"github.com/roach88/trainflow/internal/local"
	"github.com/roach88/trainflow/internal/store"
)

func change(t *testing.T, table string, op store.ChangeOp, id string, version int64, v any) store.Change {
	t.Helper()
	c := store.Change{Table: table, Op: op, ID: id}
	if v != nil {
		data, err := json.Marshal(v)
		require.NoError(t, err)
		c.Record = &store.Record{Table: table, ID: id, Version: version, Data: data}
	}
	return c
}

func TestApply_InsertUpdateDelete(t *testing.T) {
	state := local.New()
	r := New(state, nil)
	ev := domain.CalendarEvent{ID: "e1", Title: "first", Type: domain.EventMeeting}

	out, err := r.Apply(change(t, store.TableEvents, store.OpInsert, "e1", 1, ev))
	require.NoError(t, err)
	assert.Equal(t, Added, out)

	// Insert of an existing id is ignored.
	ev.Title = "dup"
	out, err = r.Apply(change(t, store.TableEvents, store.OpInsert, "e1", 1, ev))
	require.NoError(t, err)
	assert.Equal(t, Ignored, out)
	assert.Equal(t, "first", state.Events()[0].Title)

	ev.Title = "second"
	out, err = r.Apply(change(t, store.TableEvents, store.OpUpdate, "e1", 2, ev))
	require.NoError(t, err)
	assert.Equal(t, Replaced, out)
	assert.Equal(t, "second", state.Events()[0].Title)

	out, err = r.Apply(change(t, store.TableEvents, store.OpDelete, "e1", 0, nil))
	require.NoError(t, err)
	assert.Equal(t, Removed, out)
	assert.Empty(t, state.Events())

	out, err = r.Apply(change(t, store.TableEvents, store.OpDelete, "e1", 0, nil))
	require.NoError(t, err)
	assert.Equal(t, Ignored, out)
}

func TestApply_LastWriterWins(t *testing.T) {
	state := local.New()
	r := New(state, nil)
	req := domain.TrainingRequest{ID: "r1", Title: "local", Status: domain.StatusUnderReview}
	state.Apply(func(v *local.View) {
		req.Version = 5
		v.Requests.Put(req)
	})

	// An older version still replaces fields other than the trainer.
	req.Title = "remote"
	out, err := r.Apply(change(t, store.TableRequests, store.OpUpdate, "r1", 2, req))
	require.NoError(t, err)
	assert.Equal(t, Replaced, out)

	got, _ := state.Request("r1")
	assert.Equal(t, "remote", got.Title)
	assert.Equal(t, int64(2), got.Version)
}

func TestApply_TrainerAssignmentIsVersionGuarded(t *testing.T) {
	assigned := domain.TrainingRequest{
		ID:                "r1",
		Status:            domain.StatusTRAssigned,
		AssignedTrainerID: "t1",
	}

	tests := []struct {
		name     string
		incoming domain.TrainingRequest
		version  int64
		want     Outcome
		trainer  string
	}{
		{
			name:     "stale reassignment",
			incoming: domain.TrainingRequest{ID: "r1", Status: domain.StatusTRAssigned, AssignedTrainerID: "t2"},
			version:  4,
			want:     Discarded,
			trainer:  "t1",
		},
		{
			name:     "same version reassignment",
			incoming: domain.TrainingRequest{ID: "r1", Status: domain.StatusTRAssigned, AssignedTrainerID: "t2"},
			version:  5,
			want:     Discarded,
			trainer:  "t1",
		},
		{
			name:     "stale clear",
			incoming: domain.TrainingRequest{ID: "r1", Status: domain.StatusPMApproved},
			version:  3,
			want:     Discarded,
			trainer:  "t1",
		},
		{
			name:     "newer reassignment",
			incoming: domain.TrainingRequest{ID: "r1", Status: domain.StatusTRAssigned, AssignedTrainerID: "t2"},
			version:  6,
			want:     Replaced,
			trainer:  "t2",
		},
		{
			name:     "same trainer older version",
			incoming: domain.TrainingRequest{ID: "r1", Status: domain.StatusSVApproved, AssignedTrainerID: "t1"},
			version:  1,
			want:     Replaced,
			trainer:  "t1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := local.New()
			state.Apply(func(v *local.View) {
				cur := assigned
				cur.Version = 5
				v.Requests.Put(cur)
			})
			r := New(state, nil)

			out, err := r.Apply(change(t, store.TableRequests, store.OpUpdate, "r1", tt.version, tt.incoming))
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)

			got, _ := state.Request("r1")
			assert.Equal(t, tt.trainer, got.AssignedTrainerID)
		})
	}
}

func TestApply_UnknownTableIgnored(t *testing.T) {
	r := New(local.New(), nil)
	out, err := r.Apply(store.Change{Table: store.TableMessages, Op: store.OpInsert, ID: "m1"})
	require.NoError(t, err)
	assert.Equal(t, Ignored, out)
}

func TestApply_MissingRecord(t *testing.T) {
	r := New(local.New(), nil)
	_, err := r.Apply(store.Change{Table: store.TableRequests, Op: store.OpUpdate, ID: "r1"})
	require.Error(t, err)
}

func TestRun_FollowsStoreSubscription(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	ctx := context.Background()

	state := local.New()
	r := New(state, nil)
	sub := st.Subscribe(store.TableRequests, nil)

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, sub) }()

	_, err = st.Create(ctx, store.TableRequests, "r1", domain.TrainingRequest{ID: "r1", Title: "a"})
	require.NoError(t, err)
	_, err = st.Update(ctx, store.TableRequests, "r1", store.Patch{"title": "b"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, ok := state.Request("r1")
		return ok && got.Title == "b" && got.Version == 2
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, st.Close())
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after store close")
	}
}

type closedSource struct{ err error }

func (s closedSource) Next(context.Context) (store.Change, error) {
	return store.Change{}, s.err
}

func TestRun_ClosedSourceEndsCleanly(t *testing.T) {
	r := New(local.New(), nil)
	wrapped := fmt.Errorf("feed closed: %w", store.ErrSubscriptionClosed)
	require.NoError(t, r.Run(context.Background(), closedSource{err: wrapped}))

	boom := errors.New("connection reset")
	require.ErrorIs(t, r.Run(context.Background(), closedSource{err: boom}), boom)
}
