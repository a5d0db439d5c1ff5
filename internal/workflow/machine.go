// Package workflow implements the role-gated status machine for training
// requests.
//
// The machine is a pure function of (request, target status, actor): it never
// touches storage and never mutates its input. Callers persist the returned
// request themselves, which lets the arbiter fold the TR_ASSIGNED transition
// into a single conditional write.
//
// Check order:
//  1. (current, target) must be a row of the table, else InvalidTransition
//  2. the actor's role must be allowed on that row, else Unauthorized
//  3. the row's guard must hold, else InvalidTransition
//
// Nothing is applied unless all three pass.
package workflow

import (
	"fmt"

	"github.com/roach88/trainflow/internal/clock"
	"github.com/roach88/trainflow/internal/domain"
)

// Guard is an extra precondition on a transition, evaluated against the
// request as it would look after the transition.
type Guard func(next domain.TrainingRequest) error

// Transition is one row of the table.
type Transition struct {
	From  domain.Status
	To    domain.Status
	Roles []domain.Role
	Guard Guard

	// Schedules marks the transition that creates the calendar event and
	// direct-message channel as a side effect.
	Schedules bool
}

func (t Transition) allows(role domain.Role) bool {
	for _, r := range t.Roles {
		if r == role {
			return true
		}
	}
	return false
}

func trainerSelected(next domain.TrainingRequest) error {
	if next.AssignedTrainerID == "" {
		return domain.NewError(domain.KindInvalidTransition, "no trainer application has been selected")
	}
	return nil
}

// table is the fixed stage sequence. Order matters only for Allowed output.
var table = []Transition{
	{From: domain.StatusUnderReview, To: domain.StatusCCApproved, Roles: []domain.Role{domain.RoleReviewer1}},
	{From: domain.StatusUnderReview, To: domain.StatusRejected, Roles: []domain.Role{domain.RoleReviewer1}},
	{From: domain.StatusCCApproved, To: domain.StatusPMApproved, Roles: []domain.Role{domain.RoleReviewer2}},
	{From: domain.StatusPMApproved, To: domain.StatusTRAssigned, Roles: []domain.Role{domain.RoleSupervisor}, Guard: trainerSelected},
	{From: domain.StatusTRAssigned, To: domain.StatusSVApproved, Roles: []domain.Role{domain.RoleSupervisor}},
	{From: domain.StatusSVApproved, To: domain.StatusFinalApproved, Roles: []domain.Role{domain.RoleReviewer2}},
	{From: domain.StatusFinalApproved, To: domain.StatusScheduled, Roles: []domain.Role{domain.RoleRequester}, Schedules: true},
	{From: domain.StatusScheduled, To: domain.StatusCompleted, Roles: []domain.Role{domain.RoleRequester, domain.RoleTrainer}},
	{From: domain.StatusScheduled, To: domain.StatusCancelled, Roles: []domain.Role{domain.RoleRequester}},
}

// Table returns a copy of the transition table.
func Table() []Transition {
	out := make([]Transition, len(table))
	copy(out, table)
	return out
}

// Lookup returns the row for (from, to).
func Lookup(from, to domain.Status) (Transition, bool) {
	for _, t := range table {
		if t.From == from && t.To == to {
			return t, true
		}
	}
	return Transition{}, false
}

// Allowed returns the transitions leaving status that role may execute.
func Allowed(status domain.Status, role domain.Role) []Transition {
	var out []Transition
	for _, t := range table {
		if t.From == status && t.allows(role) {
			out = append(out, t)
		}
	}
	return out
}

// Machine executes transitions, stamping history with its clock.
type Machine struct {
	clock clock.Clock
}

// New creates a Machine. A nil clock uses the system clock.
func New(c clock.Clock) *Machine {
	if c == nil {
		c = clock.System{}
	}
	return &Machine{clock: c}
}

// Check validates a transition without applying it.
// next is the request as the caller intends to persist it (used by guards);
// pass the current request when no other fields change.
func (m *Machine) Check(current domain.TrainingRequest, target domain.Status, actor domain.Actor, next domain.TrainingRequest) (Transition, error) {
	t, ok := Lookup(current.Status, target)
	if !ok {
		return Transition{}, domain.NewError(domain.KindInvalidTransition,
			fmt.Sprintf("no transition from %s to %s", current.Status, target))
	}
	if !t.allows(actor.Role) {
		return Transition{}, domain.NewError(domain.KindUnauthorized,
			fmt.Sprintf("role %q may not move a request from %s to %s", actor.Role, current.Status, target))
	}
	if err := checkIdentity(current, actor); err != nil {
		return Transition{}, err
	}
	if t.Guard != nil {
		if err := t.Guard(next); err != nil {
			return Transition{}, err
		}
	}
	return t, nil
}

// checkIdentity binds person-scoped roles to the request. A requester acts
// only on their own request and a trainer only on a request assigned to them.
// Automation without a user id is trusted by role alone.
func checkIdentity(req domain.TrainingRequest, actor domain.Actor) error {
	if actor.UserID == "" {
		return nil
	}
	switch actor.Role {
	case domain.RoleRequester:
		if actor.UserID != req.RequesterID {
			return domain.NewError(domain.KindUnauthorized, "only the original requester may act on this request")
		}
	case domain.RoleTrainer:
		if actor.UserID != req.AssignedTrainerID {
			return domain.NewError(domain.KindUnauthorized, "only the assigned trainer may act on this request")
		}
	}
	return nil
}

// Execute validates and applies a status transition.
// Returns an updated copy with one appended history entry; req is untouched.
func (m *Machine) Execute(req domain.TrainingRequest, target domain.Status, actor domain.Actor, comment string) (domain.TrainingRequest, error) {
	return m.ExecuteWith(req, target, actor, comment, nil)
}

// ExecuteWith is Execute with a mutation applied to the copy before guards run.
// The arbiter uses it to set the assigned trainer together with TR_ASSIGNED.
func (m *Machine) ExecuteWith(req domain.TrainingRequest, target domain.Status, actor domain.Actor, comment string, mutate func(*domain.TrainingRequest)) (domain.TrainingRequest, error) {
	next := req.Clone()
	if mutate != nil {
		mutate(&next)
	}
	if _, err := m.Check(req, target, actor, next); err != nil {
		return domain.TrainingRequest{}, err
	}

	now := m.clock.Now()
	next.Status = target
	next.UpdatedAt = now
	next.History = append(next.History, domain.HistoryEntry{
		ActorID:   actor.UserID,
		ActorRole: actor.Role,
		From:      req.Status,
		To:        target,
		At:        now,
		Comment:   comment,
	})
	return next, nil
}

// EditContent applies a content patch. Only the owning requester may edit,
// and only while the request is still UNDER_REVIEW.
func (m *Machine) EditContent(req domain.TrainingRequest, actor domain.Actor, patch domain.ContentPatch) (domain.TrainingRequest, error) {
	if actor.Role != domain.RoleRequester || actor.UserID == "" || actor.UserID != req.RequesterID {
		return domain.TrainingRequest{}, domain.NewError(domain.KindEditNotAllowed, "only the original requester may edit a request")
	}
	if req.Status != domain.StatusUnderReview {
		return domain.TrainingRequest{}, domain.NewError(domain.KindEditNotAllowed,
			fmt.Sprintf("request in %s can no longer be edited", req.Status))
	}

	next := patch.ApplyTo(req)
	if err := next.Validate(); err != nil {
		return domain.TrainingRequest{}, err
	}
	next.UpdatedAt = m.clock.Now()
	return next, nil
}
