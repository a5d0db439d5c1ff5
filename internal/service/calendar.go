package service

import (
	"context"
	"strings"

	"github.com/roach88/trainflow/internal/conflict"
	"github.com/roach88/trainflow/internal/domain"
	"github.com/roach88/trainflow/internal/local"
	"github.com/roach88/trainflow/internal/store"
)

// Scheduled is the outcome of ScheduleEvent. Created is false when the
// event was held back by conflicts the caller did not force past.
type Scheduled struct {
	Event   domain.CalendarEvent `json:"event"`
	Report  conflict.Report      `json:"conflicts"`
	Created bool                 `json:"created"`
}

// CheckConflicts runs the detector over window.
func (s *Service) CheckConflicts(proposed conflict.Proposal, window []domain.CalendarEvent) conflict.Report {
	return conflict.Detect(proposed, window)
}

// Conflicts checks proposed against the calendar days it touches.
func (s *Service) Conflicts(ctx context.Context, proposed conflict.Proposal) (conflict.Report, error) {
	events, err := s.events(ctx)
	if err != nil {
		return nil, err
	}
	return conflict.Detect(proposed, conflict.DayWindow(proposed, events)), nil
}

// ScheduleEvent adds ev to the calendar.
//
// A high-severity conflict fails with ConflictBlocked and the report. Lesser
// conflicts hold the event back unless force is set.
func (s *Service) ScheduleEvent(ctx context.Context, actor domain.Actor, ev domain.CalendarEvent, force bool) (Result[Scheduled], error) {
	if ev.ID == "" {
		ev.ID = s.ids.NewID()
	}
	if ev.OwnerID == "" {
		ev.OwnerID = actor.UserID
	}
	if err := ev.Validate(); err != nil {
		return Result[Scheduled]{}, err
	}

	report, err := s.Conflicts(ctx, conflict.FromEvent(ev))
	if err != nil {
		return Result[Scheduled]{}, err
	}
	out := Scheduled{Event: ev, Report: report}
	if report.HasBlocking() {
		return Result[Scheduled]{Value: out}, domain.NewError(domain.KindConflictBlocked,
			"event overlaps "+strings.Join(report.EventIDs(), ", "))
	}
	if len(report) > 0 && !force {
		s.logger.Info("event held back by conflicts",
			"event_id", ev.ID,
			"conflicts", len(report))
		return Result[Scheduled]{Value: out}, nil
	}

	if s.Online() {
		created, err := s.createEvent(ctx, ev)
		if err == nil {
			out.Event = created
			out.Created = true
			return Result[Scheduled]{Value: out}, nil
		}
		if !transient(err) {
			return Result[Scheduled]{}, err
		}
	}

	s.state.Apply(func(v *local.View) { v.Events.Put(ev) })
	actionID, err := s.enqueue(ctx, domain.ActionCreateEvent, eventPayload{Actor: actor, Event: ev})
	if err != nil {
		return Result[Scheduled]{}, err
	}
	out.Created = true
	return Result[Scheduled]{Value: out, Queued: true, ActionID: actionID}, nil
}

func (s *Service) createEvent(ctx context.Context, ev domain.CalendarEvent) (domain.CalendarEvent, error) {
	rec, err := s.store.Create(ctx, store.TableEvents, ev.ID, ev)
	if err != nil {
		return domain.CalendarEvent{}, store.DomainError(err, "calendar event")
	}
	created, err := store.Decode[domain.CalendarEvent](rec)
	if err != nil {
		return domain.CalendarEvent{}, err
	}
	s.state.Apply(func(v *local.View) { v.Events.Put(created) })
	s.logger.Info("calendar event created",
		"event_id", created.ID,
		"type", created.Type)
	return created, nil
}

// Events lists the calendar.
func (s *Service) Events(ctx context.Context) ([]domain.CalendarEvent, error) {
	return s.events(ctx)
}

func (s *Service) events(ctx context.Context) ([]domain.CalendarEvent, error) {
	if s.Online() {
		recs, err := s.store.Query(ctx, store.TableEvents, nil)
		if err == nil {
			events, err := store.DecodeAll[domain.CalendarEvent](recs)
			if err != nil {
				return nil, err
			}
			s.state.Apply(func(v *local.View) {
				for _, ev := range events {
					v.Events.Put(ev)
				}
			})
			return events, nil
		}
		if !transient(err) {
			return nil, store.DomainError(err, "calendar events")
		}
	}
	return s.state.Events(), nil
}
