package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/trainflow/internal/domain"
	"github.com/roach88/trainflow/internal/local"
	"github.com/roach88/trainflow/internal/store"
	"github.com/roach88/trainflow/internal/visibility"
	"github.com/roach88/trainflow/internal/workflow"
)

// CreateRequest files a new training request on behalf of a requester.
func (s *Service) CreateRequest(ctx context.Context, actor domain.Actor, draft domain.TrainingRequest) (Result[domain.TrainingRequest], error) {
	if actor.Role != domain.RoleRequester || actor.UserID == "" {
		return Result[domain.TrainingRequest]{}, domain.NewError(domain.KindUnauthorized, "only a requester may create training requests")
	}

	now := s.clock.Now()
	req := draft.Clone()
	if req.ID == "" {
		req.ID = s.ids.NewID()
	}
	req.RequesterID = actor.UserID
	req.Status = domain.StatusUnderReview
	req.AssignedTrainerID = ""
	req.History = nil
	req.CreatedAt = now
	req.UpdatedAt = now
	req.Version = 0

	if err := s.validateContent(req); err != nil {
		return Result[domain.TrainingRequest]{}, err
	}

	if s.Online() {
		created, err := s.createRequestRemote(ctx, req)
		if err == nil {
			return Result[domain.TrainingRequest]{Value: created}, nil
		}
		if !transient(err) {
			return Result[domain.TrainingRequest]{}, err
		}
	}

	s.putRequest(req)
	id, err := s.enqueue(ctx, domain.ActionCreateRequest, createRequestPayload{Request: req})
	if err != nil {
		return Result[domain.TrainingRequest]{}, err
	}
	return Result[domain.TrainingRequest]{Value: req, Queued: true, ActionID: id}, nil
}

func (s *Service) validateContent(req domain.TrainingRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if req.RequestedDate.IsZero() {
		return domain.NewError(domain.KindValidation, "requested date is required")
	}
	if !s.catalog.Known(req.Specialization) {
		return domain.NewError(domain.KindValidation, fmt.Sprintf("unknown specialization %q", req.Specialization))
	}
	return nil
}

func (s *Service) createRequestRemote(ctx context.Context, req domain.TrainingRequest) (domain.TrainingRequest, error) {
	rec, err := s.store.Create(ctx, store.TableRequests, req.ID, req)
	if errors.Is(err, store.ErrDuplicate) {
		return domain.TrainingRequest{}, domain.WrapError(domain.KindValidation, "training request id already exists", err)
	}
	if err != nil {
		return domain.TrainingRequest{}, store.DomainError(err, "training request")
	}
	created, err := store.Decode[domain.TrainingRequest](rec)
	if err != nil {
		return domain.TrainingRequest{}, err
	}
	s.putRequest(created)
	s.logger.Info("training request created",
		"request_id", created.ID,
		"requester_id", created.RequesterID,
		"specialization", created.Specialization)
	return created, nil
}

// EditRequest changes request content. Only the owning requester may edit,
// and only while the request is UNDER_REVIEW.
func (s *Service) EditRequest(ctx context.Context, requestID string, actor domain.Actor, patch domain.ContentPatch) (Result[domain.TrainingRequest], error) {
	if patch.Empty() {
		return Result[domain.TrainingRequest]{}, domain.NewError(domain.KindValidation, "nothing to change")
	}

	if s.Online() {
		updated, err := s.editRemote(ctx, requestID, actor, patch)
		if err == nil {
			return Result[domain.TrainingRequest]{Value: updated}, nil
		}
		if !transient(err) {
			return Result[domain.TrainingRequest]{}, err
		}
	}

	current, err := s.localRequest(requestID)
	if err != nil {
		return Result[domain.TrainingRequest]{}, err
	}
	next, err := s.machine.EditContent(current, actor, patch)
	if err != nil {
		return Result[domain.TrainingRequest]{}, err
	}
	if err := s.validateContent(next); err != nil {
		return Result[domain.TrainingRequest]{}, err
	}

	s.putRequest(next)
	id, err := s.enqueue(ctx, domain.ActionUpdateRequest, updateRequestPayload{
		RequestID: requestID,
		Actor:     actor,
		Patch:     patch,
	})
	if err != nil {
		return Result[domain.TrainingRequest]{}, err
	}
	return Result[domain.TrainingRequest]{Value: next, Queued: true, ActionID: id}, nil
}

func (s *Service) editRemote(ctx context.Context, requestID string, actor domain.Actor, patch domain.ContentPatch) (domain.TrainingRequest, error) {
	current, err := s.remoteRequest(ctx, requestID)
	if err != nil {
		return domain.TrainingRequest{}, err
	}
	next, err := s.machine.EditContent(current, actor, patch)
	if err != nil {
		return domain.TrainingRequest{}, err
	}
	if err := s.validateContent(next); err != nil {
		return domain.TrainingRequest{}, err
	}

	rec, err := s.store.UpdateIf(ctx, store.TableRequests, requestID,
		store.Filter{
			store.Eq("status", domain.StatusUnderReview),
			store.Eq("requester_id", actor.UserID),
		},
		contentPatch(next))
	if errors.Is(err, store.ErrConditionFailed) {
		return domain.TrainingRequest{}, domain.WrapError(domain.KindEditNotAllowed, "request left review before the edit was saved", err)
	}
	if err != nil {
		return domain.TrainingRequest{}, store.DomainError(err, "training request")
	}

	updated, err := store.Decode[domain.TrainingRequest](rec)
	if err != nil {
		return domain.TrainingRequest{}, err
	}
	s.putRequest(updated)
	s.logger.Info("training request edited", "request_id", requestID)
	return updated, nil
}

func contentPatch(r domain.TrainingRequest) store.Patch {
	return store.Patch{
		"title":            r.Title,
		"description":      r.Description,
		"specialization":   r.Specialization,
		"province":         r.Province,
		"requested_date":   r.RequestedDate,
		"duration_hours":   r.DurationHours,
		"max_participants": r.MaxParticipants,
		"updated_at":       r.UpdatedAt,
	}
}

// SubmitTransition moves a request to target on behalf of actor.
//
// Role and table checks run before anything is written. Reaching SCHEDULED
// also creates the training's calendar event and a direct-message channel
// between requester and trainer. TR_ASSIGNED is reached through
// SelectTrainer; submitted directly it fails its guard.
func (s *Service) SubmitTransition(ctx context.Context, requestID string, target domain.Status, actor domain.Actor, comment string) (Result[domain.TrainingRequest], error) {
	if s.Online() {
		updated, err := s.transitionRemote(ctx, requestID, target, actor, comment)
		if err == nil || updated.ID != "" {
			return Result[domain.TrainingRequest]{Value: updated}, err
		}
		if !transient(err) {
			return Result[domain.TrainingRequest]{}, err
		}
	}

	current, err := s.localRequest(requestID)
	if err != nil {
		return Result[domain.TrainingRequest]{}, err
	}
	next, err := s.machine.Execute(current, target, actor, comment)
	if err != nil {
		return Result[domain.TrainingRequest]{}, err
	}

	s.putRequest(next)
	id, err := s.enqueue(ctx, domain.ActionTransition, transitionPayload{
		RequestID: requestID,
		Target:    target,
		Actor:     actor,
		Comment:   comment,
	})
	if err != nil {
		return Result[domain.TrainingRequest]{}, err
	}
	return Result[domain.TrainingRequest]{Value: next, Queued: true, ActionID: id}, nil
}

func (s *Service) transitionRemote(ctx context.Context, requestID string, target domain.Status, actor domain.Actor, comment string) (domain.TrainingRequest, error) {
	current, err := s.remoteRequest(ctx, requestID)
	if err != nil {
		return domain.TrainingRequest{}, err
	}
	next, err := s.machine.Execute(current, target, actor, comment)
	if err != nil {
		return domain.TrainingRequest{}, err
	}

	rec, err := s.store.UpdateIf(ctx, store.TableRequests, requestID,
		store.Filter{store.Eq("status", current.Status)},
		store.Patch{
			"status":     next.Status,
			"history":    next.History,
			"updated_at": next.UpdatedAt,
		})
	if errors.Is(err, store.ErrConditionFailed) {
		return domain.TrainingRequest{}, domain.WrapError(domain.KindInvalidTransition,
			fmt.Sprintf("request moved on from %s before the transition was saved", current.Status), err)
	}
	if err != nil {
		return domain.TrainingRequest{}, store.DomainError(err, "training request")
	}

	updated, err := store.Decode[domain.TrainingRequest](rec)
	if err != nil {
		return domain.TrainingRequest{}, err
	}
	s.putRequest(updated)
	s.logger.Info("training request transitioned",
		"request_id", requestID,
		"from", current.Status,
		"to", updated.Status,
		"actor_id", actor.UserID,
		"actor_role", actor.Role)

	if t, ok := workflow.Lookup(current.Status, target); ok && t.Schedules {
		if err := s.scheduleTraining(ctx, updated, actor); err != nil {
			return updated, fmt.Errorf("request scheduled, creating calendar entries: %w", err)
		}
	}
	return updated, nil
}

// scheduleTraining creates the session's calendar event and the
// requester-trainer channel. Both use ids derived from the request, so
// running it again is harmless. If the store drops out, the work is queued.
func (s *Service) scheduleTraining(ctx context.Context, req domain.TrainingRequest, actor domain.Actor) error {
	ev := trainingEvent(req)
	ch := directChannel(req, s.clock.Now())

	err := s.createCalendarEntries(ctx, ev, &ch)
	if transient(err) {
		_, qerr := s.enqueue(ctx, domain.ActionCreateEvent, eventPayload{Actor: actor, Event: ev, Channel: &ch})
		return qerr
	}
	return err
}

func (s *Service) createCalendarEntries(ctx context.Context, ev domain.CalendarEvent, ch *domain.Channel) error {
	rec, err := s.store.Create(ctx, store.TableEvents, ev.ID, ev)
	switch {
	case errors.Is(err, store.ErrDuplicate):
	case err != nil:
		return store.DomainError(err, "calendar event")
	default:
		created, err := store.Decode[domain.CalendarEvent](rec)
		if err != nil {
			return err
		}
		s.state.Apply(func(v *local.View) { v.Events.Put(created) })
	}

	if ch == nil {
		return nil
	}
	_, err = s.store.Create(ctx, store.TableChannels, ch.ID, ch)
	switch {
	case errors.Is(err, store.ErrDuplicate):
	case err != nil:
		return store.DomainError(err, "channel")
	default:
		s.state.Apply(func(v *local.View) { v.Channels.Put(*ch) })
	}

	s.logger.Info("training scheduled",
		"request_id", ev.TrainingRequestID,
		"event_id", ev.ID,
		"channel_id", ch.ID)
	return nil
}

// trainingEvent is the calendar entry created when a request is scheduled.
func trainingEvent(req domain.TrainingRequest) domain.CalendarEvent {
	attendees := []string{req.AssignedTrainerID}
	if req.RequesterID != req.AssignedTrainerID {
		attendees = append(attendees, req.RequesterID)
	}
	return domain.CalendarEvent{
		ID:                req.ID + "-event",
		Title:             req.Title,
		Start:             req.RequestedDate,
		End:               req.RequestedDate.Add(time.Duration(req.DurationHours) * time.Hour),
		Location:          req.Province,
		Attendees:         attendees,
		Type:              domain.EventTraining,
		TrainingRequestID: req.ID,
		MaxAttendees:      req.MaxParticipants,
		OwnerID:           req.RequesterID,
	}
}

func directChannel(req domain.TrainingRequest, now time.Time) domain.Channel {
	return domain.Channel{
		ID:                req.ID + "-dm",
		Members:           []string{req.RequesterID, req.AssignedTrainerID},
		TrainingRequestID: req.ID,
		CreatedAt:         now,
	}
}

// Request returns one request, from the store when online.
func (s *Service) Request(ctx context.Context, id string) (domain.TrainingRequest, error) {
	if s.Online() {
		req, err := s.remoteRequest(ctx, id)
		if err == nil {
			s.putRequest(req)
			return req, nil
		}
		if !transient(err) {
			return domain.TrainingRequest{}, err
		}
	}
	return s.localRequest(id)
}

// RequestsVisibleTo lists the requests viewer may see. Online it refreshes
// local state from the store first. A trainer or supervisor without
// explicit specializations is matched on their stored profile.
func (s *Service) RequestsVisibleTo(ctx context.Context, viewer visibility.Viewer) ([]domain.TrainingRequest, error) {
	if s.Online() {
		recs, err := s.store.Query(ctx, store.TableRequests, nil)
		switch {
		case err == nil:
			reqs, err := store.DecodeAll[domain.TrainingRequest](recs)
			if err != nil {
				return nil, err
			}
			s.state.Apply(func(v *local.View) {
				for _, r := range reqs {
					v.Requests.Put(r)
				}
			})
		case !transient(err):
			return nil, err
		}
	}

	if len(viewer.Specializations) == 0 && viewer.UserID != "" &&
		(viewer.Role == domain.RoleTrainer || viewer.Role == domain.RoleSupervisor) {
		if p, ok := s.profile(ctx, viewer.UserID); ok {
			viewer.Specializations = p.Specializations
		}
	}
	return s.visibility.Apply(viewer, s.state.Requests()), nil
}

// AllowedTransitions lists the targets actor may move req to.
func AllowedTransitions(req domain.TrainingRequest, role domain.Role) []domain.Status {
	var out []domain.Status
	for _, t := range workflow.Allowed(req.Status, role) {
		out = append(out, t.To)
	}
	return out
}
