package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/trainflow/internal/arbiter"
	"github.com/roach88/trainflow/internal/domain"
	"github.com/roach88/trainflow/internal/local"
	"github.com/roach88/trainflow/internal/store"
)

// ApplyAsTrainer records trainerID's bid on a request.
//
// Offline, eligibility is checked against local state and the bid is
// queued under the id it will carry once replayed.
func (s *Service) ApplyAsTrainer(ctx context.Context, requestID, trainerID, message string) (Result[domain.TrainerApplication], error) {
	id := s.ids.NewID()

	if s.Online() {
		app, err := s.arbiter.ApplyWithID(ctx, id, requestID, trainerID, message)
		if err == nil {
			s.putApplication(app)
			return Result[domain.TrainerApplication]{Value: app}, nil
		}
		if !transient(err) {
			return Result[domain.TrainerApplication]{}, err
		}
	}

	app, err := s.applyLocally(id, requestID, trainerID, message)
	if err != nil {
		return Result[domain.TrainerApplication]{}, err
	}
	actionID, err := s.enqueue(ctx, domain.ActionApplyTrainer, applyPayload{
		ApplicationID: app.ID,
		RequestID:     requestID,
		TrainerID:     trainerID,
		Message:       message,
	})
	if err != nil {
		return Result[domain.TrainerApplication]{}, err
	}
	return Result[domain.TrainerApplication]{Value: app, Queued: true, ActionID: actionID}, nil
}

// applyLocally mirrors the arbiter's checks against local state. A missing
// local profile is not held against the trainer; the replay decides.
func (s *Service) applyLocally(id, requestID, trainerID, message string) (domain.TrainerApplication, error) {
	if trainerID == "" {
		return domain.TrainerApplication{}, domain.NewError(domain.KindValidation, "trainer is required")
	}
	req, err := s.localRequest(requestID)
	if err != nil {
		return domain.TrainerApplication{}, err
	}
	if req.Status != domain.StatusPMApproved {
		return domain.TrainerApplication{}, domain.NewError(domain.KindNotEligible,
			fmt.Sprintf("request is %s, applications open only at %s", req.Status, domain.StatusPMApproved))
	}
	if req.AssignedTrainerID != "" {
		return domain.TrainerApplication{}, domain.NewError(domain.KindNotEligible, "request already has a trainer")
	}

	var (
		app     domain.TrainerApplication
		outcome error
	)
	s.state.Apply(func(v *local.View) {
		for _, existing := range v.Applications.All() {
			if existing.TrainingRequestID == requestID && existing.TrainerID == trainerID &&
				existing.Status != domain.ApplicationRejected {
				outcome = domain.NewError(domain.KindAlreadyApplied, "trainer has already applied to this request")
				return
			}
		}
		if p, ok := v.Profiles.Get(trainerID); ok && !s.catalog.Matches(req.Specialization, p.Specializations) {
			outcome = domain.NewError(domain.KindNotEligible,
				fmt.Sprintf("trainer is not specialized in %s", req.Specialization))
			return
		}
		app = domain.TrainerApplication{
			ID:                id,
			TrainingRequestID: requestID,
			TrainerID:         trainerID,
			Message:           message,
			Status:            domain.ApplicationPending,
			AppliedAt:         s.clock.Now(),
		}
		v.Applications.Put(app)
	})
	return app, outcome
}

// SelectTrainer assigns trainerID to a PM_APPROVED request. It is never
// queued: offline it fails with NetworkUnavailable.
//
// Once the assignment is committed the selection stands. If settling the
// other applications fails, it is retried once and then queued as a
// finalize action for the next drain.
func (s *Service) SelectTrainer(ctx context.Context, requestID, trainerID string, actor domain.Actor) (arbiter.Selection, error) {
	if !s.Online() {
		return arbiter.Selection{}, offlineErr("trainer selection")
	}

	sel, err := s.arbiter.SelectTrainer(ctx, requestID, trainerID, actor)
	if sel.Request.ID == "" {
		return sel, err
	}
	s.applySelection(sel)
	if err == nil {
		return sel, nil
	}

	s.logger.Warn("settling applications after selection failed",
		"request_id", requestID,
		"trainer_id", trainerID,
		"error", err)
	final, ferr := s.arbiter.FinalizeSelection(ctx, requestID, actor)
	if ferr == nil {
		s.applySelection(final)
		sel.Accepted = final.Accepted
		sel.Rejected = final.Rejected
		return sel, nil
	}
	if _, qerr := s.enqueue(ctx, domain.ActionFinalizeSelection, finalizePayload{
		RequestID: requestID,
		Actor:     actor,
	}); qerr != nil {
		return sel, fmt.Errorf("queue selection finalize: %w", qerr)
	}
	return sel, nil
}

func (s *Service) applySelection(sel arbiter.Selection) {
	s.state.Apply(func(v *local.View) {
		v.Requests.Put(sel.Request)
		if sel.Accepted != nil {
			v.Applications.Put(*sel.Accepted)
		}
		for _, app := range sel.Rejected {
			v.Applications.Put(app)
		}
	})
}

// RejectApplication marks an application rejected.
func (s *Service) RejectApplication(ctx context.Context, applicationID string, actor domain.Actor) (Result[domain.TrainerApplication], error) {
	if actor.Role != domain.RoleSupervisor {
		return Result[domain.TrainerApplication]{}, domain.NewError(domain.KindUnauthorized, "only a supervisor may reject applications")
	}

	if s.Online() {
		app, err := s.arbiter.RejectApplication(ctx, applicationID, actor)
		if err == nil {
			s.putApplication(app)
			return Result[domain.TrainerApplication]{Value: app}, nil
		}
		if !transient(err) {
			return Result[domain.TrainerApplication]{}, err
		}
	}

	app, err := s.rejectLocally(applicationID, actor)
	if err != nil {
		return Result[domain.TrainerApplication]{}, err
	}
	actionID, err := s.enqueue(ctx, domain.ActionRejectApplication, rejectPayload{
		ApplicationID: applicationID,
		Actor:         actor,
	})
	if err != nil {
		return Result[domain.TrainerApplication]{}, err
	}
	return Result[domain.TrainerApplication]{Value: app, Queued: true, ActionID: actionID}, nil
}

func (s *Service) rejectLocally(applicationID string, actor domain.Actor) (domain.TrainerApplication, error) {
	var (
		app     domain.TrainerApplication
		outcome error
	)
	s.state.Apply(func(v *local.View) {
		current, ok := v.Applications.Get(applicationID)
		if !ok {
			outcome = domain.NewError(domain.KindNotFound, "application not found")
			return
		}
		req, ok := v.Requests.Get(current.TrainingRequestID)
		if ok && !arbiter.ReviewOpen(req.Status) {
			outcome = domain.NewError(domain.KindInvalidTransition,
				fmt.Sprintf("applications can no longer be rejected once the request is %s", req.Status))
			return
		}
		app = current
		if app.Status == domain.ApplicationRejected {
			return
		}
		if err := arbiter.Rejectable(req, app); err != nil {
			outcome = err
			return
		}
		now := s.clock.Now()
		app.Status = domain.ApplicationRejected
		app.ReviewedAt = &now
		app.ReviewedBy = actor.UserID
		v.Applications.Put(app)
	})
	return app, outcome
}

// Applications lists the bids on a request.
func (s *Service) Applications(ctx context.Context, requestID string) ([]domain.TrainerApplication, error) {
	if s.Online() {
		apps, err := s.arbiter.Applications(ctx, requestID)
		if err == nil {
			s.state.Apply(func(v *local.View) {
				for _, app := range apps {
					v.Applications.Put(app)
				}
			})
			return apps, nil
		}
		if !transient(err) {
			return nil, err
		}
	}
	return s.state.Applications(requestID), nil
}

// CanRecommend reports whether assisted selection may be offered for a
// request. Online it reads the store; otherwise, or when the store cannot
// be reached, it judges local state.
func (s *Service) CanRecommend(ctx context.Context, requestID string) (bool, error) {
	if s.Online() {
		ok, err := s.arbiter.Recommendable(ctx, requestID)
		if err == nil || !transient(err) {
			return ok, err
		}
	}
	req, ok := s.state.Request(requestID)
	if !ok {
		return false, domain.NewError(domain.KindNotFound, "training request not found")
	}
	return arbiter.CanRecommend(req, s.state.Applications(requestID)), nil
}

func (s *Service) putApplication(app domain.TrainerApplication) {
	s.state.Apply(func(v *local.View) { v.Applications.Put(app) })
}

// profile returns a stored profile, falling back to local state.
func (s *Service) profile(ctx context.Context, userID string) (domain.TrainerProfile, bool) {
	if s.Online() {
		rec, err := s.store.Get(ctx, store.TableProfiles, userID)
		if err == nil {
			p, err := store.Decode[domain.TrainerProfile](rec)
			if err == nil {
				s.state.Apply(func(v *local.View) { v.Profiles.Put(p) })
				return p, true
			}
		}
		if errors.Is(err, store.ErrNotFound) {
			return domain.TrainerProfile{}, false
		}
	}
	var (
		p  domain.TrainerProfile
		ok bool
	)
	s.state.Read(func(v *local.View) { p, ok = v.Profiles.Get(userID) })
	return p, ok
}
