// Package arbiter manages trainer bids on training requests.
//
// Selection is the one operation that needs server-side atomicity: two
// supervisors may race to pick different trainers. SelectTrainer therefore
// issues a single conditional write (assigned_trainer_id IS NULL and status
// PM_APPROVED) and only then settles the remaining applications with an
// idempotent batch update.
package arbiter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/trainflow/internal/catalog"
	"github.com/roach88/trainflow/internal/clock"
	"github.com/roach88/trainflow/internal/domain"
	"github.com/roach88/trainflow/internal/ident"
	"github.com/roach88/trainflow/internal/store"
	"github.com/roach88/trainflow/internal/workflow"
)

// Arbiter applies, selects, and rejects trainer applications.
type Arbiter struct {
	store   store.Backend
	machine *workflow.Machine
	catalog *catalog.Catalog
	clock   clock.Clock
	ids     ident.Generator
	logger  *slog.Logger
}

// Config wires an Arbiter.
type Config struct {
	Store   store.Backend
	Machine *workflow.Machine
	Catalog *catalog.Catalog
	Clock   clock.Clock
	IDs     ident.Generator
	Logger  *slog.Logger
}

// New returns an Arbiter. Store and Catalog are required.
func New(cfg Config) *Arbiter {
	a := &Arbiter{
		store:   cfg.Store,
		machine: cfg.Machine,
		catalog: cfg.Catalog,
		clock:   cfg.Clock,
		ids:     cfg.IDs,
		logger:  cfg.Logger,
	}
	if a.clock == nil {
		a.clock = clock.System{}
	}
	if a.machine == nil {
		a.machine = workflow.New(a.clock)
	}
	if a.ids == nil {
		a.ids = ident.UUIDv7{}
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	return a
}

// Selection is the outcome of a successful SelectTrainer.
type Selection struct {
	Request  domain.TrainingRequest      `json:"request"`
	Accepted *domain.TrainerApplication  `json:"accepted,omitempty"`
	Rejected []domain.TrainerApplication `json:"rejected"`
}

// Apply records a trainer's bid on a request.
//
// Fails with AlreadyApplied if a non-rejected application for the pair
// exists, and with NotEligible if the request is not PM_APPROVED, already
// has a trainer, or the trainer's profile does not cover the request's
// specialization. A rejected application for the pair is reopened.
func (a *Arbiter) Apply(ctx context.Context, requestID, trainerID, message string) (domain.TrainerApplication, error) {
	return a.ApplyWithID(ctx, a.ids.NewID(), requestID, trainerID, message)
}

// ApplyWithID is Apply with a caller-chosen id for a new application, so
// a replayed offline bid lands on the id the client already shows.
func (a *Arbiter) ApplyWithID(ctx context.Context, id, requestID, trainerID, message string) (domain.TrainerApplication, error) {
	if trainerID == "" {
		return domain.TrainerApplication{}, domain.NewError(domain.KindValidation, "trainer is required")
	}

	req, err := a.request(ctx, requestID)
	if err != nil {
		return domain.TrainerApplication{}, err
	}

	existing, found, err := a.application(ctx, requestID, trainerID)
	if err != nil {
		return domain.TrainerApplication{}, err
	}
	if found && existing.Status != domain.ApplicationRejected {
		return domain.TrainerApplication{}, domain.NewError(domain.KindAlreadyApplied, "trainer has already applied to this request")
	}

	if err := a.eligible(ctx, req, trainerID); err != nil {
		return domain.TrainerApplication{}, err
	}

	now := a.clock.Now()
	if found {
		rec, err := a.store.UpdateIf(ctx, store.TableApplications, existing.ID,
			store.Filter{store.Eq("status", domain.ApplicationRejected)},
			store.Patch{
				"status":      domain.ApplicationPending,
				"message":     message,
				"applied_at":  now,
				"reviewed_at": nil,
				"reviewed_by": nil,
			})
		if errors.Is(err, store.ErrConditionFailed) {
			return domain.TrainerApplication{}, domain.NewError(domain.KindAlreadyApplied, "trainer has already applied to this request")
		}
		if err != nil {
			return domain.TrainerApplication{}, store.DomainError(err, "application")
		}
		a.logger.Info("application reopened",
			"application_id", existing.ID,
			"request_id", requestID,
			"trainer_id", trainerID)
		if err := a.recheck(ctx, requestID, existing.ID); err != nil {
			return domain.TrainerApplication{}, err
		}
		return store.Decode[domain.TrainerApplication](rec)
	}

	app := domain.TrainerApplication{
		ID:                id,
		TrainingRequestID: requestID,
		TrainerID:         trainerID,
		Message:           message,
		Status:            domain.ApplicationPending,
		AppliedAt:         now,
	}
	rec, err := a.store.Create(ctx, store.TableApplications, app.ID, app)
	if errors.Is(err, store.ErrDuplicate) {
		return domain.TrainerApplication{}, domain.NewError(domain.KindAlreadyApplied, "trainer has already applied to this request")
	}
	if err != nil {
		return domain.TrainerApplication{}, store.DomainError(err, "application")
	}

	a.logger.Info("application created",
		"application_id", app.ID,
		"request_id", requestID,
		"trainer_id", trainerID)

	// A selection may have committed between the eligibility read and the
	// insert, after its batch had already settled the pending applications.
	if err := a.recheck(ctx, requestID, app.ID); err != nil {
		return domain.TrainerApplication{}, err
	}
	return store.Decode[domain.TrainerApplication](rec)
}

// recheck rejects a freshly created application whose request stopped
// taking bids before the insert landed.
func (a *Arbiter) recheck(ctx context.Context, requestID, applicationID string) error {
	req, err := a.request(ctx, requestID)
	if err != nil {
		return err
	}
	if req.Status == domain.StatusPMApproved && req.AssignedTrainerID == "" {
		return nil
	}

	_, err = a.store.UpdateIf(ctx, store.TableApplications, applicationID,
		store.Filter{store.Eq("status", domain.ApplicationPending)},
		store.Patch{
			"status":      domain.ApplicationRejected,
			"reviewed_at": a.clock.Now(),
		})
	if err != nil && !errors.Is(err, store.ErrConditionFailed) {
		return store.DomainError(err, "application")
	}
	a.logger.Info("application closed by concurrent selection",
		"application_id", applicationID,
		"request_id", requestID,
		"trainer_id", req.AssignedTrainerID)
	return domain.NewError(domain.KindNotEligible, "request already has a trainer")
}

// eligible checks request stage and the trainer's specialization through
// the catalog mapping table.
func (a *Arbiter) eligible(ctx context.Context, req domain.TrainingRequest, trainerID string) error {
	if req.Status != domain.StatusPMApproved {
		return domain.NewError(domain.KindNotEligible,
			fmt.Sprintf("request is %s, applications open only at %s", req.Status, domain.StatusPMApproved))
	}
	if req.AssignedTrainerID != "" {
		return domain.NewError(domain.KindNotEligible, "request already has a trainer")
	}

	rec, err := a.store.Get(ctx, store.TableProfiles, trainerID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.NewError(domain.KindNotEligible, "trainer has no profile")
	}
	if err != nil {
		return store.DomainError(err, "trainer profile")
	}
	profile, err := store.Decode[domain.TrainerProfile](rec)
	if err != nil {
		return err
	}
	if !a.catalog.Matches(req.Specialization, profile.Specializations) {
		return domain.NewError(domain.KindNotEligible,
			fmt.Sprintf("trainer is not specialized in %s", req.Specialization))
	}
	return nil
}

// SelectTrainer assigns trainerID to the request.
//
// The transition is validated by the workflow machine, then committed with
// one conditional write. A caller that loses the race gets AlreadyAssigned.
// The selected trainer must hold a pending application.
//
// After the write, every other pending application is rejected and the
// winner's is accepted. If that batch fails the assignment still stands:
// the returned Selection carries the assigned request alongside the error,
// and FinalizeSelection completes the batch.
func (a *Arbiter) SelectTrainer(ctx context.Context, requestID, trainerID string, actor domain.Actor) (Selection, error) {
	req, err := a.request(ctx, requestID)
	if err != nil {
		return Selection{}, err
	}

	next, err := a.machine.ExecuteWith(req, domain.StatusTRAssigned, actor, "", func(r *domain.TrainingRequest) {
		r.AssignedTrainerID = trainerID
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) && req.AssignedTrainerID != "" {
			return Selection{}, domain.WrapError(domain.KindAlreadyAssigned, "request already has a trainer", err)
		}
		return Selection{}, err
	}

	app, found, err := a.application(ctx, requestID, trainerID)
	if err != nil {
		return Selection{}, err
	}
	if !found || app.Status != domain.ApplicationPending {
		return Selection{}, domain.NewError(domain.KindNotEligible, "trainer has no pending application for this request")
	}

	rec, err := a.store.UpdateIf(ctx, store.TableRequests, requestID,
		store.Filter{
			store.IsNull("assigned_trainer_id"),
			store.Eq("status", domain.StatusPMApproved),
		},
		store.Patch{
			"assigned_trainer_id": trainerID,
			"status":              next.Status,
			"history":             next.History,
			"updated_at":          next.UpdatedAt,
		})
	if errors.Is(err, store.ErrConditionFailed) {
		a.logger.Info("selection lost race",
			"request_id", requestID,
			"trainer_id", trainerID)
		return Selection{}, domain.WrapError(domain.KindAlreadyAssigned, "another trainer was selected first", err)
	}
	if err != nil {
		return Selection{}, store.DomainError(err, "training request")
	}

	assigned, err := store.Decode[domain.TrainingRequest](rec)
	if err != nil {
		return Selection{}, err
	}
	a.logger.Info("trainer selected",
		"request_id", requestID,
		"trainer_id", trainerID,
		"actor_id", actor.UserID)

	sel := Selection{Request: assigned}
	accepted, rejected, err := a.settle(ctx, requestID, trainerID, actor)
	if err != nil {
		return sel, fmt.Errorf("trainer assigned, settling applications: %w", err)
	}
	sel.Accepted = accepted
	sel.Rejected = rejected
	return sel, nil
}

// FinalizeSelection re-runs the application batch for a request that
// already has a trainer. It is idempotent.
func (a *Arbiter) FinalizeSelection(ctx context.Context, requestID string, actor domain.Actor) (Selection, error) {
	req, err := a.request(ctx, requestID)
	if err != nil {
		return Selection{}, err
	}
	if req.AssignedTrainerID == "" {
		return Selection{}, domain.NewError(domain.KindInvalidTransition, "request has no trainer to finalize")
	}
	accepted, rejected, err := a.settle(ctx, requestID, req.AssignedTrainerID, actor)
	if err != nil {
		return Selection{Request: req}, err
	}
	return Selection{Request: req, Accepted: accepted, Rejected: rejected}, nil
}

func (a *Arbiter) settle(ctx context.Context, requestID, trainerID string, actor domain.Actor) (*domain.TrainerApplication, []domain.TrainerApplication, error) {
	now := a.clock.Now()
	review := store.Patch{"reviewed_at": now, "reviewed_by": actor.UserID}

	rejectPatch := store.Patch{"status": domain.ApplicationRejected}
	for k, v := range review {
		rejectPatch[k] = v
	}
	recs, err := a.store.UpdateWhere(ctx, store.TableApplications,
		store.Filter{
			store.Eq("training_request_id", requestID),
			store.Eq("status", domain.ApplicationPending),
			store.Ne("trainer_id", trainerID),
		},
		rejectPatch)
	if err != nil {
		return nil, nil, store.DomainError(err, "applications")
	}
	rejected, err := store.DecodeAll[domain.TrainerApplication](recs)
	if err != nil {
		return nil, nil, err
	}

	acceptPatch := store.Patch{"status": domain.ApplicationAccepted}
	for k, v := range review {
		acceptPatch[k] = v
	}
	recs, err = a.store.UpdateWhere(ctx, store.TableApplications,
		store.Filter{
			store.Eq("training_request_id", requestID),
			store.Eq("trainer_id", trainerID),
			store.Eq("status", domain.ApplicationPending),
		},
		acceptPatch)
	if err != nil {
		return nil, rejected, store.DomainError(err, "applications")
	}

	var accepted *domain.TrainerApplication
	if len(recs) > 0 {
		app, err := store.Decode[domain.TrainerApplication](recs[0])
		if err != nil {
			return nil, rejected, err
		}
		accepted = &app
	}
	return accepted, rejected, nil
}

// RejectApplication marks a pending application rejected. Supervisor only,
// and only while the parent request has not reached SV_APPROVED.
// Rejecting an already rejected application is a no-op. The selected
// trainer's application cannot be rejected: it fails with AlreadyAssigned.
func (a *Arbiter) RejectApplication(ctx context.Context, applicationID string, actor domain.Actor) (domain.TrainerApplication, error) {
	if actor.Role != domain.RoleSupervisor {
		return domain.TrainerApplication{}, domain.NewError(domain.KindUnauthorized, "only a supervisor may reject applications")
	}

	rec, err := a.store.Get(ctx, store.TableApplications, applicationID)
	if err != nil {
		return domain.TrainerApplication{}, store.DomainError(err, "application")
	}
	app, err := store.Decode[domain.TrainerApplication](rec)
	if err != nil {
		return domain.TrainerApplication{}, err
	}

	req, err := a.request(ctx, app.TrainingRequestID)
	if err != nil {
		return domain.TrainerApplication{}, err
	}
	if !ReviewOpen(req.Status) {
		return domain.TrainerApplication{}, domain.NewError(domain.KindInvalidTransition,
			fmt.Sprintf("applications can no longer be rejected once the request is %s", req.Status))
	}
	if app.Status == domain.ApplicationRejected {
		return app, nil
	}
	if err := Rejectable(req, app); err != nil {
		return domain.TrainerApplication{}, err
	}

	rec, err = a.store.UpdateIf(ctx, store.TableApplications, applicationID,
		store.Filter{store.Eq("status", domain.ApplicationPending)},
		store.Patch{
			"status":      domain.ApplicationRejected,
			"reviewed_at": a.clock.Now(),
			"reviewed_by": actor.UserID,
		})
	if errors.Is(err, store.ErrConditionFailed) {
		if rec, err = a.store.Get(ctx, store.TableApplications, applicationID); err == nil {
			current, derr := store.Decode[domain.TrainerApplication](rec)
			if derr != nil {
				return domain.TrainerApplication{}, derr
			}
			if current.Status != domain.ApplicationRejected {
				return domain.TrainerApplication{}, domain.NewError(domain.KindAlreadyAssigned,
					"application was accepted for the selected trainer")
			}
			return current, nil
		}
	}
	if err != nil {
		return domain.TrainerApplication{}, store.DomainError(err, "application")
	}

	a.logger.Info("application rejected",
		"application_id", applicationID,
		"request_id", app.TrainingRequestID,
		"actor_id", actor.UserID)
	return store.Decode[domain.TrainerApplication](rec)
}

// ReviewOpen reports whether applications to a request in status s may
// still be rejected.
func ReviewOpen(s domain.Status) bool {
	switch s {
	case domain.StatusUnderReview, domain.StatusCCApproved, domain.StatusPMApproved, domain.StatusTRAssigned:
		return true
	}
	return false
}

// Rejectable refuses rejection of the application that won selection.
func Rejectable(req domain.TrainingRequest, app domain.TrainerApplication) error {
	if app.Status == domain.ApplicationAccepted ||
		(req.AssignedTrainerID != "" && app.TrainerID == req.AssignedTrainerID) {
		return domain.NewError(domain.KindAlreadyAssigned,
			"the selected trainer's application cannot be rejected")
	}
	return nil
}

// Applications lists the applications for a request in store order.
func (a *Arbiter) Applications(ctx context.Context, requestID string) ([]domain.TrainerApplication, error) {
	recs, err := a.store.Query(ctx, store.TableApplications,
		store.Filter{store.Eq("training_request_id", requestID)})
	if err != nil {
		return nil, store.DomainError(err, "applications")
	}
	return store.DecodeAll[domain.TrainerApplication](recs)
}

// Recommendable reports CanRecommend for a stored request.
func (a *Arbiter) Recommendable(ctx context.Context, requestID string) (bool, error) {
	req, err := a.request(ctx, requestID)
	if err != nil {
		return false, err
	}
	apps, err := a.Applications(ctx, requestID)
	if err != nil {
		return false, err
	}
	return CanRecommend(req, apps), nil
}

// CanRecommend gates assisted selection: the request is PM_APPROVED, has no
// trainer, and at least two of its applications are pending.
func CanRecommend(req domain.TrainingRequest, apps []domain.TrainerApplication) bool {
	if req.Status != domain.StatusPMApproved || req.AssignedTrainerID != "" {
		return false
	}
	pending := 0
	for _, app := range apps {
		if app.TrainingRequestID == req.ID && app.Status == domain.ApplicationPending {
			pending++
		}
	}
	return pending >= 2
}

func (a *Arbiter) request(ctx context.Context, id string) (domain.TrainingRequest, error) {
	rec, err := a.store.Get(ctx, store.TableRequests, id)
	if err != nil {
		return domain.TrainingRequest{}, store.DomainError(err, "training request")
	}
	return store.Decode[domain.TrainingRequest](rec)
}

func (a *Arbiter) application(ctx context.Context, requestID, trainerID string) (domain.TrainerApplication, bool, error) {
	recs, err := a.store.Query(ctx, store.TableApplications, store.Filter{
		store.Eq("training_request_id", requestID),
		store.Eq("trainer_id", trainerID),
	})
	if err != nil {
		return domain.TrainerApplication{}, false, store.DomainError(err, "application")
	}
	if len(recs) == 0 {
		return domain.TrainerApplication{}, false, nil
	}
	app, err := store.Decode[domain.TrainerApplication](recs[0])
	if err != nil {
		return domain.TrainerApplication{}, false, err
	}
	return app, true, nil
}
