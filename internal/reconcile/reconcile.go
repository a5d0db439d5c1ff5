// Package reconcile folds change-feed events into local state.
//
// Inserts add a record when absent, updates replace it (last writer wins),
// deletes remove it. The one exception is trainer assignment: an update
// that would move an already-set assigned_trainer_id to a different value
// is applied only if its store version is newer than the local copy.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/trainflow/internal/domain"
	"github.com/roach88/trainflow/internal/local"
	"github.com/roach88/trainflow/internal/store"
)

// Source yields changes in delivery order. *store.Subscription and
// *feed.Subscriber implement it.
type Source interface {
	Next(ctx context.Context) (store.Change, error)
}

// Outcome describes what Apply did with a change.
type Outcome string

const (
	Added     Outcome = "added"
	Replaced  Outcome = "replaced"
	Removed   Outcome = "removed"
	Ignored   Outcome = "ignored"
	Discarded Outcome = "discarded"
)

// Reconciler applies remote changes to a local.State.
type Reconciler struct {
	state  *local.State
	logger *slog.Logger
}

// New returns a reconciler writing into state.
func New(state *local.State, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{state: state, logger: logger}
}

// Run consumes src until ctx is done or the source closes. A source that
// ends with store.ErrSubscriptionClosed, or an error wrapping it, ends Run
// cleanly. Decode failures are logged and skipped.
func (r *Reconciler) Run(ctx context.Context, src Source) error {
	for {
		c, err := src.Next(ctx)
		if err != nil {
			if errors.Is(err, store.ErrSubscriptionClosed) {
				return nil
			}
			return err
		}
		if _, err := r.Apply(c); err != nil {
			r.logger.Warn("change not applied",
				"table", c.Table,
				"id", c.ID,
				"op", c.Op,
				"error", err)
		}
	}
}

// Apply folds one change into local state.
func (r *Reconciler) Apply(c store.Change) (Outcome, error) {
	switch c.Table {
	case store.TableRequests:
		return r.applyRequest(c)
	case store.TableApplications:
		return apply(r.state, c, func(v *local.View) *local.Collection[domain.TrainerApplication] { return v.Applications })
	case store.TableEvents:
		return apply(r.state, c, func(v *local.View) *local.Collection[domain.CalendarEvent] { return v.Events })
	case store.TableProfiles:
		return apply(r.state, c, func(v *local.View) *local.Collection[domain.TrainerProfile] { return v.Profiles })
	case store.TableChannels:
		return apply(r.state, c, func(v *local.View) *local.Collection[domain.Channel] { return v.Channels })
	}
	return Ignored, nil
}

func (r *Reconciler) applyRequest(c store.Change) (Outcome, error) {
	if c.Op != store.OpUpdate {
		return apply(r.state, c, func(v *local.View) *local.Collection[domain.TrainingRequest] { return v.Requests })
	}

	incoming, err := decode[domain.TrainingRequest](c)
	if err != nil {
		return Ignored, err
	}

	outcome := Replaced
	r.state.Apply(func(v *local.View) {
		current, ok := v.Requests.Get(c.ID)
		if ok && reassigns(current, incoming) && incoming.Version <= current.Version {
			outcome = Discarded
			return
		}
		if !ok {
			outcome = Added
		}
		v.Requests.Put(incoming)
	})

	if outcome == Discarded {
		r.logger.Warn("stale trainer assignment discarded",
			"request_id", c.ID,
			"incoming_version", incoming.Version,
			"incoming_trainer", incoming.AssignedTrainerID)
	}
	return outcome, nil
}

// reassigns reports whether next moves an already-set trainer assignment.
func reassigns(current, next domain.TrainingRequest) bool {
	return current.AssignedTrainerID != "" && next.AssignedTrainerID != current.AssignedTrainerID
}

func apply[T local.Keyed](state *local.State, c store.Change, pick func(*local.View) *local.Collection[T]) (Outcome, error) {
	switch c.Op {
	case store.OpDelete:
		outcome := Ignored
		state.Apply(func(v *local.View) {
			if pick(v).Remove(c.ID) {
				outcome = Removed
			}
		})
		return outcome, nil

	case store.OpInsert:
		item, err := decode[T](c)
		if err != nil {
			return Ignored, err
		}
		outcome := Ignored
		state.Apply(func(v *local.View) {
			if pick(v).Insert(item) {
				outcome = Added
			}
		})
		return outcome, nil

	case store.OpUpdate:
		item, err := decode[T](c)
		if err != nil {
			return Ignored, err
		}
		outcome := Replaced
		state.Apply(func(v *local.View) {
			col := pick(v)
			if _, ok := col.Get(c.ID); !ok {
				outcome = Added
			}
			col.Put(item)
		})
		return outcome, nil
	}
	return Ignored, fmt.Errorf("unknown change op %q", c.Op)
}

func decode[T any](c store.Change) (T, error) {
	if c.Record == nil {
		var zero T
		return zero, fmt.Errorf("%s %s/%s: missing record", c.Op, c.Table, c.ID)
	}
	return store.Decode[T](*c.Record)
}
