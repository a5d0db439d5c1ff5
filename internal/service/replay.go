package service

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/roach88/trainflow/internal/conflict"
	"github.com/roach88/trainflow/internal/domain"
	"github.com/roach88/trainflow/internal/local"
	"github.com/roach88/trainflow/internal/offline"
	"github.com/roach88/trainflow/internal/store"
)

// Queued action payloads. Each carries what the online path needs to
// re-run its checks against the store.

type createRequestPayload struct {
	Request domain.TrainingRequest `json:"request"`
}

type updateRequestPayload struct {
	RequestID string              `json:"request_id"`
	Actor     domain.Actor        `json:"actor"`
	Patch     domain.ContentPatch `json:"patch"`
}

type transitionPayload struct {
	RequestID string        `json:"request_id"`
	Target    domain.Status `json:"target"`
	Actor     domain.Actor  `json:"actor"`
	Comment   string        `json:"comment,omitempty"`
}

type applyPayload struct {
	ApplicationID string `json:"application_id"`
	RequestID     string `json:"request_id"`
	TrainerID     string `json:"trainer_id"`
	Message       string `json:"message,omitempty"`
}

type rejectPayload struct {
	ApplicationID string       `json:"application_id"`
	Actor         domain.Actor `json:"actor"`
}

type finalizePayload struct {
	RequestID string       `json:"request_id"`
	Actor     domain.Actor `json:"actor"`
}

type messagePayload struct {
	Message domain.Message `json:"message"`
}

type profilePayload struct {
	Actor   domain.Actor          `json:"actor"`
	Profile domain.TrainerProfile `json:"profile"`
}

// eventPayload carries a user-scheduled event, or the training event and
// channel created when a request reaches SCHEDULED.
type eventPayload struct {
	Actor   domain.Actor         `json:"actor"`
	Event   domain.CalendarEvent `json:"event"`
	Channel *domain.Channel      `json:"channel,omitempty"`
}

func (s *Service) registerHandlers() {
	s.queue.Register(domain.ActionCreateRequest, handler(s.replayCreateRequest))
	s.queue.Register(domain.ActionUpdateRequest, handler(s.replayUpdateRequest))
	s.queue.Register(domain.ActionTransition, handler(s.replayTransition))
	s.queue.Register(domain.ActionApplyTrainer, handler(s.replayApply))
	s.queue.Register(domain.ActionRejectApplication, handler(s.replayReject))
	s.queue.Register(domain.ActionSendMessage, handler(s.replayMessage))
	s.queue.Register(domain.ActionUpdateProfile, handler(s.replayProfile))
	s.queue.Register(domain.ActionCreateEvent, handler(s.replayEvent))
	s.queue.Register(domain.ActionFinalizeSelection, handler(s.replayFinalize))
}

// handler decodes an action's payload before calling fn. A payload that
// does not decode is never retried.
func handler[P any](fn func(ctx context.Context, p P) error) offline.Handler {
	return func(ctx context.Context, action domain.OfflineAction) error {
		var p P
		if err := json.Unmarshal(action.Payload, &p); err != nil {
			return domain.WrapError(domain.KindValidation, "malformed "+string(action.Type)+" payload", err)
		}
		return fn(ctx, p)
	}
}

func (s *Service) replayCreateRequest(ctx context.Context, p createRequestPayload) error {
	_, err := s.createRequestRemote(ctx, p.Request)
	if errors.Is(err, store.ErrDuplicate) {
		return nil
	}
	if err != nil && !transient(err) {
		s.state.Apply(func(v *local.View) { v.Requests.Remove(p.Request.ID) })
	}
	return err
}

func (s *Service) replayUpdateRequest(ctx context.Context, p updateRequestPayload) error {
	_, err := s.editRemote(ctx, p.RequestID, p.Actor, p.Patch)
	if err != nil && !transient(err) {
		s.refreshRequest(ctx, p.RequestID)
	}
	return err
}

func (s *Service) replayTransition(ctx context.Context, p transitionPayload) error {
	_, err := s.transitionRemote(ctx, p.RequestID, p.Target, p.Actor, p.Comment)
	if err == nil || transient(err) {
		return err
	}
	if current, rerr := s.remoteRequest(ctx, p.RequestID); rerr == nil && current.Status == p.Target {
		s.putRequest(current)
		return nil
	}
	s.refreshRequest(ctx, p.RequestID)
	return err
}

func (s *Service) replayApply(ctx context.Context, p applyPayload) error {
	app, err := s.arbiter.ApplyWithID(ctx, p.ApplicationID, p.RequestID, p.TrainerID, p.Message)
	switch {
	case err == nil:
		s.state.Apply(func(v *local.View) {
			if app.ID != p.ApplicationID {
				v.Applications.Remove(p.ApplicationID)
			}
			v.Applications.Put(app)
		})
		return nil
	case transient(err):
		return err
	case errors.Is(err, domain.ErrAlreadyApplied):
		if _, gerr := s.store.Get(ctx, store.TableApplications, p.ApplicationID); gerr == nil {
			return nil
		}
	}
	s.state.Apply(func(v *local.View) { v.Applications.Remove(p.ApplicationID) })
	return err
}

func (s *Service) replayReject(ctx context.Context, p rejectPayload) error {
	app, err := s.arbiter.RejectApplication(ctx, p.ApplicationID, p.Actor)
	if err != nil {
		return err
	}
	s.putApplication(app)
	return nil
}

func (s *Service) replayFinalize(ctx context.Context, p finalizePayload) error {
	sel, err := s.arbiter.FinalizeSelection(ctx, p.RequestID, p.Actor)
	if err != nil {
		return err
	}
	s.applySelection(sel)
	return nil
}

func (s *Service) replayMessage(ctx context.Context, p messagePayload) error {
	_, err := s.sendRemote(ctx, p.Message)
	if errors.Is(err, store.ErrDuplicate) {
		return nil
	}
	return err
}

func (s *Service) replayProfile(ctx context.Context, p profilePayload) error {
	_, err := s.saveProfile(ctx, p.Profile)
	return err
}

func (s *Service) replayEvent(ctx context.Context, p eventPayload) error {
	if p.Channel != nil {
		return s.createCalendarEntries(ctx, p.Event, p.Channel)
	}

	recs, err := s.store.Query(ctx, store.TableEvents, nil)
	if err != nil {
		return store.DomainError(err, "calendar events")
	}
	events, err := store.DecodeAll[domain.CalendarEvent](recs)
	if err != nil {
		return err
	}
	proposal := conflict.FromEvent(p.Event)
	if conflict.Detect(proposal, conflict.DayWindow(proposal, events)).HasBlocking() {
		s.state.Apply(func(v *local.View) { v.Events.Remove(p.Event.ID) })
		return domain.NewError(domain.KindConflictBlocked, "event overlaps an event created while offline")
	}

	_, err = s.createEvent(ctx, p.Event)
	if errors.Is(err, store.ErrDuplicate) {
		return nil
	}
	return err
}

// refreshRequest replaces the optimistic local copy with the stored one.
func (s *Service) refreshRequest(ctx context.Context, id string) {
	req, err := s.remoteRequest(ctx, id)
	if err != nil {
		s.logger.Warn("could not refresh request after rejected replay",
			"request_id", id,
			"error", err)
		return
	}
	s.putRequest(req)
}
