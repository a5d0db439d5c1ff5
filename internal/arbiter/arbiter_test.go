package arbiter

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/trainflow/internal/catalog"
	"github.com/roach88/trainflow/internal/domain"
	"github.com/roach88/trainflow/internal/ident"
	"github.com/roach88/trainflow/internal/store"
	"github.com/roach88/trainflow/internal/testutil"
)

var supervisor = domain.Actor{UserID: "u4", Role: domain.RoleSupervisor}

type fixture struct {
	store   *store.Store
	arbiter *Arbiter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	a := New(Config{
		Store:   st,
		Catalog: catalog.MustLoad(),
		Clock:   testutil.NewSteppingClock(testutil.Epoch, time.Second),
		IDs:     ident.NewSequence("app"),
	})
	return &fixture{store: st, arbiter: a}
}

func (f *fixture) request(t *testing.T, id string, status domain.Status, trainer string) {
	t.Helper()
	_, err := f.store.Create(context.Background(), store.TableRequests, id, domain.TrainingRequest{
		ID:                id,
		Title:             "Public speaking basics",
		Specialization:    "communication",
		Status:            status,
		RequesterID:       "u1",
		AssignedTrainerID: trainer,
		DurationHours:     2,
	})
	require.NoError(t, err)
}

func (f *fixture) profile(t *testing.T, id string, labels ...string) {
	t.Helper()
	_, err := f.store.Create(context.Background(), store.TableProfiles, id, domain.TrainerProfile{
		ID:              id,
		DisplayName:     id,
		Specializations: domain.NewSpecSet(labels...),
	})
	require.NoError(t, err)
}

func (f *fixture) get(t *testing.T, id string) domain.TrainingRequest {
	t.Helper()
	rec, err := f.store.Get(context.Background(), store.TableRequests, id)
	require.NoError(t, err)
	req, err := store.Decode[domain.TrainingRequest](rec)
	require.NoError(t, err)
	return req
}

func TestApply(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		status  domain.Status
		trainer string
		labels  []string
		wantErr error
	}{
		{name: "profile label maps to request id", status: domain.StatusPMApproved, labels: []string{"Communication Skills"}},
		{name: "label matched after normalization", status: domain.StatusPMApproved, labels: []string{"  communication   SKILLS "}},
		{name: "other specialization", status: domain.StatusPMApproved, labels: []string{"Leadership & Management"}, wantErr: domain.ErrNotEligible},
		{name: "wrong stage", status: domain.StatusCCApproved, labels: []string{"Communication Skills"}, wantErr: domain.ErrNotEligible},
		{name: "already assigned", status: domain.StatusTRAssigned, trainer: "t9", labels: []string{"Communication Skills"}, wantErr: domain.ErrNotEligible},
		{name: "no profile", status: domain.StatusPMApproved, wantErr: domain.ErrNotEligible},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.request(t, "r1", tt.status, tt.trainer)
			if tt.labels != nil {
				f.profile(t, "t1", tt.labels...)
			}

			app, err := f.arbiter.Apply(ctx, "r1", "t1", "I can run this")
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				apps, err := f.arbiter.Applications(ctx, "r1")
				require.NoError(t, err)
				assert.Empty(t, apps)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, domain.ApplicationPending, app.Status)
			assert.Equal(t, "t1", app.TrainerID)
			assert.Equal(t, "I can run this", app.Message)
		})
	}
}

func TestApply_UnknownRequest(t *testing.T) {
	f := newFixture(t)
	_, err := f.arbiter.Apply(context.Background(), "missing", "t1", "")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestApply_AlreadyApplied(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.request(t, "r1", domain.StatusPMApproved, "")
	f.profile(t, "t1", "Communication Skills")

	_, err := f.arbiter.Apply(ctx, "r1", "t1", "")
	require.NoError(t, err)
	_, err = f.arbiter.Apply(ctx, "r1", "t1", "again")
	require.ErrorIs(t, err, domain.ErrAlreadyApplied)
}

func TestApply_ReopensRejectedApplication(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.request(t, "r1", domain.StatusPMApproved, "")
	f.profile(t, "t1", "Communication Skills")

	first, err := f.arbiter.Apply(ctx, "r1", "t1", "first")
	require.NoError(t, err)
	_, err = f.arbiter.RejectApplication(ctx, first.ID, supervisor)
	require.NoError(t, err)

	again, err := f.arbiter.Apply(ctx, "r1", "t1", "second")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, domain.ApplicationPending, again.Status)
	assert.Equal(t, "second", again.Message)
	assert.Nil(t, again.ReviewedAt)
	assert.Empty(t, again.ReviewedBy)

	apps, err := f.arbiter.Applications(ctx, "r1")
	require.NoError(t, err)
	assert.Len(t, apps, 1)
}

// interceptBackend runs beforeCreate once, ahead of the next application insert.
type interceptBackend struct {
	store.Backend
	beforeCreate func()
}

func (b *interceptBackend) Create(ctx context.Context, table, id string, data any) (store.Record, error) {
	if table == store.TableApplications && b.beforeCreate != nil {
		fn := b.beforeCreate
		b.beforeCreate = nil
		fn()
	}
	return b.Backend.Create(ctx, table, id, data)
}

func TestApply_SelectionCommittedBeforeInsert(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.request(t, "r1", domain.StatusPMApproved, "")
	f.profile(t, "t1", "Communication Skills")
	f.profile(t, "t2", "Communication Skills")

	_, err := f.arbiter.Apply(ctx, "r1", "t1", "")
	require.NoError(t, err)

	backend := &interceptBackend{Backend: f.store}
	backend.beforeCreate = func() {
		_, err := f.arbiter.SelectTrainer(ctx, "r1", "t1", supervisor)
		require.NoError(t, err)
	}
	late := New(Config{
		Store:   backend,
		Catalog: catalog.MustLoad(),
		Clock:   testutil.NewSteppingClock(testutil.Epoch, time.Second),
		IDs:     ident.NewSequence("late"),
	})

	_, err = late.Apply(ctx, "r1", "t2", "")
	require.ErrorIs(t, err, domain.ErrNotEligible)

	apps, err := f.arbiter.Applications(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, apps, 2)
	for _, app := range apps {
		assert.NotEqual(t, domain.ApplicationPending, app.Status, "trainer %s", app.TrainerID)
	}
	assert.Equal(t, "t1", f.get(t, "r1").AssignedTrainerID)
}

func TestSelectTrainer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.request(t, "r1", domain.StatusPMApproved, "")
	f.profile(t, "t1", "Communication Skills")
	f.profile(t, "t2", "Communication Skills", "Public Speaking")

	_, err := f.arbiter.Apply(ctx, "r1", "t1", "")
	require.NoError(t, err)
	_, err = f.arbiter.Apply(ctx, "r1", "t2", "")
	require.NoError(t, err)

	ok, err := f.arbiter.Recommendable(ctx, "r1")
	require.NoError(t, err)
	assert.True(t, ok)

	sel, err := f.arbiter.SelectTrainer(ctx, "r1", "t1", supervisor)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusTRAssigned, sel.Request.Status)
	assert.Equal(t, "t1", sel.Request.AssignedTrainerID)
	require.Len(t, sel.Request.History, 1)
	assert.Equal(t, domain.HistoryEntry{
		ActorID:   "u4",
		ActorRole: domain.RoleSupervisor,
		From:      domain.StatusPMApproved,
		To:        domain.StatusTRAssigned,
		At:        sel.Request.History[0].At,
	}, sel.Request.History[0])

	require.NotNil(t, sel.Accepted)
	assert.Equal(t, "t1", sel.Accepted.TrainerID)
	assert.Equal(t, domain.ApplicationAccepted, sel.Accepted.Status)
	require.Len(t, sel.Rejected, 1)
	assert.Equal(t, "t2", sel.Rejected[0].TrainerID)
	assert.Equal(t, "u4", sel.Rejected[0].ReviewedBy)

	stored := f.get(t, "r1")
	assert.Equal(t, "t1", stored.AssignedTrainerID)
	require.NoError(t, stored.CheckInvariant())

	ok, err = f.arbiter.Recommendable(ctx, "r1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSelectTrainer_Rejections(t *testing.T) {
	ctx := context.Background()

	t.Run("wrong role", func(t *testing.T) {
		f := newFixture(t)
		f.request(t, "r1", domain.StatusPMApproved, "")
		_, err := f.arbiter.SelectTrainer(ctx, "r1", "t1", domain.Actor{UserID: "u3", Role: domain.RoleReviewer2})
		require.ErrorIs(t, err, domain.ErrUnauthorized)
	})

	t.Run("wrong stage", func(t *testing.T) {
		f := newFixture(t)
		f.request(t, "r1", domain.StatusCCApproved, "")
		_, err := f.arbiter.SelectTrainer(ctx, "r1", "t1", supervisor)
		require.ErrorIs(t, err, domain.ErrInvalidTransition)
	})

	t.Run("no application", func(t *testing.T) {
		f := newFixture(t)
		f.request(t, "r1", domain.StatusPMApproved, "")
		_, err := f.arbiter.SelectTrainer(ctx, "r1", "t1", supervisor)
		require.ErrorIs(t, err, domain.ErrNotEligible)
		assert.Equal(t, domain.StatusPMApproved, f.get(t, "r1").Status)
	})

	t.Run("already assigned", func(t *testing.T) {
		f := newFixture(t)
		f.request(t, "r1", domain.StatusTRAssigned, "t9")
		_, err := f.arbiter.SelectTrainer(ctx, "r1", "t1", supervisor)
		require.ErrorIs(t, err, domain.ErrAlreadyAssigned)
	})

	t.Run("empty trainer", func(t *testing.T) {
		f := newFixture(t)
		f.request(t, "r1", domain.StatusPMApproved, "")
		_, err := f.arbiter.SelectTrainer(ctx, "r1", "", supervisor)
		require.ErrorIs(t, err, domain.ErrInvalidTransition)
	})
}

func TestSelectTrainer_ConcurrentSelectionsHaveOneWinner(t *testing.T) {
	for round := 0; round < 5; round++ {
		f := newFixture(t)
		ctx := context.Background()
		f.request(t, "r1", domain.StatusPMApproved, "")
		for _, id := range []string{"t1", "t2", "t3"} {
			f.profile(t, id, "Communication Skills")
			_, err := f.arbiter.Apply(ctx, "r1", id, "")
			require.NoError(t, err)
		}

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			winners []string
		)
		for _, trainer := range []string{"t1", "t2"} {
			wg.Add(1)
			go func(trainer string) {
				defer wg.Done()
				_, err := f.arbiter.SelectTrainer(ctx, "r1", trainer, supervisor)
				mu.Lock()
				defer mu.Unlock()
				if err == nil {
					winners = append(winners, trainer)
					return
				}
				assert.ErrorIs(t, err, domain.ErrAlreadyAssigned)
			}(trainer)
		}
		wg.Wait()

		require.Len(t, winners, 1)
		req := f.get(t, "r1")
		assert.Equal(t, winners[0], req.AssignedTrainerID)
		assert.Len(t, req.History, 1)

		apps, err := f.arbiter.Applications(ctx, "r1")
		require.NoError(t, err)
		for _, app := range apps {
			assert.NotEqual(t, domain.ApplicationPending, app.Status, "trainer %s", app.TrainerID)
			if app.TrainerID == winners[0] {
				assert.Equal(t, domain.ApplicationAccepted, app.Status)
			} else {
				assert.Equal(t, domain.ApplicationRejected, app.Status)
			}
		}
	}
}

func TestFinalizeSelection_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.request(t, "r1", domain.StatusPMApproved, "")
	for _, id := range []string{"t1", "t2"} {
		f.profile(t, id, "Communication Skills")
		_, err := f.arbiter.Apply(ctx, "r1", id, "")
		require.NoError(t, err)
	}
	_, err := f.arbiter.SelectTrainer(ctx, "r1", "t1", supervisor)
	require.NoError(t, err)

	sel, err := f.arbiter.FinalizeSelection(ctx, "r1", supervisor)
	require.NoError(t, err)
	assert.Nil(t, sel.Accepted)
	assert.Empty(t, sel.Rejected)

	f.request(t, "r2", domain.StatusPMApproved, "")
	_, err = f.arbiter.FinalizeSelection(ctx, "r2", supervisor)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestRejectApplication(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*fixture, domain.TrainerApplication) {
		f := newFixture(t)
		f.request(t, "r1", domain.StatusPMApproved, "")
		f.profile(t, "t1", "Communication Skills")
		app, err := f.arbiter.Apply(ctx, "r1", "t1", "")
		require.NoError(t, err)
		return f, app
	}

	t.Run("supervisor rejects", func(t *testing.T) {
		f, app := setup(t)
		got, err := f.arbiter.RejectApplication(ctx, app.ID, supervisor)
		require.NoError(t, err)
		assert.Equal(t, domain.ApplicationRejected, got.Status)
		assert.Equal(t, "u4", got.ReviewedBy)
		require.NotNil(t, got.ReviewedAt)

		again, err := f.arbiter.RejectApplication(ctx, app.ID, supervisor)
		require.NoError(t, err)
		assert.Equal(t, got.Version, again.Version)
	})

	t.Run("non-supervisor", func(t *testing.T) {
		f, app := setup(t)
		_, err := f.arbiter.RejectApplication(ctx, app.ID, domain.Actor{UserID: "u3", Role: domain.RoleReviewer2})
		require.ErrorIs(t, err, domain.ErrUnauthorized)
	})

	t.Run("after supervisor approval", func(t *testing.T) {
		f, app := setup(t)
		_, err := f.store.Update(ctx, store.TableRequests, "r1", store.Patch{
			"status":              domain.StatusSVApproved,
			"assigned_trainer_id": "t1",
		})
		require.NoError(t, err)
		_, err = f.arbiter.RejectApplication(ctx, app.ID, supervisor)
		require.ErrorIs(t, err, domain.ErrInvalidTransition)
	})

	t.Run("selected trainer", func(t *testing.T) {
		f, app := setup(t)
		_, err := f.arbiter.SelectTrainer(ctx, "r1", "t1", supervisor)
		require.NoError(t, err)

		_, err = f.arbiter.RejectApplication(ctx, app.ID, supervisor)
		require.ErrorIs(t, err, domain.ErrAlreadyAssigned)

		apps, err := f.arbiter.Applications(ctx, "r1")
		require.NoError(t, err)
		require.Len(t, apps, 1)
		assert.Equal(t, domain.ApplicationAccepted, apps[0].Status)
		assert.Equal(t, "t1", f.get(t, "r1").AssignedTrainerID)
	})

	t.Run("missing", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.arbiter.RejectApplication(ctx, "nope", supervisor)
		require.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestCanRecommend(t *testing.T) {
	req := domain.TrainingRequest{ID: "r1", Status: domain.StatusPMApproved}
	pending := func(trainer string) domain.TrainerApplication {
		return domain.TrainerApplication{TrainingRequestID: "r1", TrainerID: trainer, Status: domain.ApplicationPending}
	}

	assert.False(t, CanRecommend(req, []domain.TrainerApplication{pending("t1")}))
	assert.True(t, CanRecommend(req, []domain.TrainerApplication{pending("t1"), pending("t2")}))

	rejected := pending("t3")
	rejected.Status = domain.ApplicationRejected
	assert.False(t, CanRecommend(req, []domain.TrainerApplication{pending("t1"), rejected}))

	assigned := req
	assigned.AssignedTrainerID = "t1"
	assert.False(t, CanRecommend(assigned, []domain.TrainerApplication{pending("t1"), pending("t2")}))

	other := req
	other.Status = domain.StatusCCApproved
	assert.False(t, CanRecommend(other, []domain.TrainerApplication{pending("t1"), pending("t2")}))
}
