package domain

import "time"

// Status is the workflow stage of a TrainingRequest.
type Status string

const (
	StatusUnderReview   Status = "UNDER_REVIEW"
	StatusCCApproved    Status = "CC_APPROVED"
	StatusPMApproved    Status = "PM_APPROVED"
	StatusTRAssigned    Status = "TR_ASSIGNED"
	StatusSVApproved    Status = "SV_APPROVED"
	StatusFinalApproved Status = "FINAL_APPROVED"
	StatusScheduled     Status = "SCHEDULED"
	StatusCompleted     Status = "COMPLETED"
	StatusCancelled     Status = "CANCELLED"
	StatusRejected      Status = "REJECTED"
)

// AllStatuses lists every status in workflow order, terminal states last.
var AllStatuses = []Status{
	StatusUnderReview,
	StatusCCApproved,
	StatusPMApproved,
	StatusTRAssigned,
	StatusSVApproved,
	StatusFinalApproved,
	StatusScheduled,
	StatusCompleted,
	StatusCancelled,
	StatusRejected,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusRejected
}

// RequiresTrainer reports whether a request in status s must have an
// assigned trainer.
func (s Status) RequiresTrainer() bool {
	switch s {
	case StatusTRAssigned, StatusSVApproved, StatusFinalApproved,
		StatusScheduled, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Role identifies the capacity an actor acts in.
type Role string

const (
	RoleRequester  Role = "requester"
	RoleReviewer1  Role = "reviewer_cc" // first-stage reviewer
	RoleReviewer2  Role = "reviewer_pm" // project manager
	RoleSupervisor Role = "supervisor"
	RoleTrainer    Role = "trainer"
	RoleBoard      Role = "board"
)

// AllRoles lists every role.
var AllRoles = []Role{
	RoleRequester,
	RoleReviewer1,
	RoleReviewer2,
	RoleSupervisor,
	RoleTrainer,
	RoleBoard,
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	for _, known := range AllRoles {
		if r == known {
			return true
		}
	}
	return false
}

// Actor is the user performing an operation.
// UserID may be empty for automation acting purely by role.
type Actor struct {
	UserID string `json:"user_id,omitempty"`
	Role   Role   `json:"role"`
}

// HistoryEntry records one status transition.
type HistoryEntry struct {
	ActorID   string    `json:"actor_id,omitempty"`
	ActorRole Role      `json:"actor_role"`
	From      Status    `json:"from"`
	To        Status    `json:"to"`
	At        time.Time `json:"at"`
	Comment   string    `json:"comment,omitempty"`
}

// TrainingRequest is a request for a training session.
type TrainingRequest struct {
	ID                string         `json:"id"`
	Title             string         `json:"title"`
	Description       string         `json:"description"`
	Specialization    string         `json:"specialization"`
	Province          string         `json:"province"`
	RequestedDate     time.Time      `json:"requested_date"`
	DurationHours     int            `json:"duration_hours"`
	MaxParticipants   int            `json:"max_participants"`
	Status            Status         `json:"status"`
	RequesterID       string         `json:"requester_id"`
	AssignedTrainerID string         `json:"assigned_trainer_id,omitempty"`
	History           []HistoryEntry `json:"history,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`

	// Version is assigned by the backing store on every write.
	Version int64 `json:"-"`
}

// RecordID implements the local collection key.
func (r TrainingRequest) RecordID() string { return r.ID }

// Clone returns a deep copy of the request.
func (r TrainingRequest) Clone() TrainingRequest {
	out := r
	if r.History != nil {
		out.History = make([]HistoryEntry, len(r.History))
		copy(out.History, r.History)
	}
	return out
}

// CheckInvariant verifies that trainer assignment agrees with status.
func (r TrainingRequest) CheckInvariant() error {
	hasTrainer := r.AssignedTrainerID != ""
	if hasTrainer != r.Status.RequiresTrainer() {
		if hasTrainer {
			return NewError(KindValidation, "trainer assigned in status "+string(r.Status))
		}
		return NewError(KindValidation, "no trainer assigned in status "+string(r.Status))
	}
	return nil
}

// Validate checks the fields a requester supplies on creation.
func (r TrainingRequest) Validate() error {
	switch {
	case r.Title == "":
		return NewError(KindValidation, "title is required")
	case r.Specialization == "":
		return NewError(KindValidation, "specialization is required")
	case r.RequesterID == "":
		return NewError(KindValidation, "requester is required")
	case r.DurationHours <= 0:
		return NewError(KindValidation, "duration must be positive")
	case r.MaxParticipants < 0:
		return NewError(KindValidation, "max participants must not be negative")
	}
	return nil
}

// ContentPatch carries requester-editable fields. Nil fields are unchanged.
type ContentPatch struct {
	Title           *string    `json:"title,omitempty"`
	Description     *string    `json:"description,omitempty"`
	Specialization  *string    `json:"specialization,omitempty"`
	Province        *string    `json:"province,omitempty"`
	RequestedDate   *time.Time `json:"requested_date,omitempty"`
	DurationHours   *int       `json:"duration_hours,omitempty"`
	MaxParticipants *int       `json:"max_participants,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p ContentPatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Specialization == nil &&
		p.Province == nil && p.RequestedDate == nil && p.DurationHours == nil &&
		p.MaxParticipants == nil
}

// ApplyTo returns a copy of r with the patch applied.
func (p ContentPatch) ApplyTo(r TrainingRequest) TrainingRequest {
	out := r.Clone()
	if p.Title != nil {
		out.Title = *p.Title
	}
	if p.Description != nil {
		out.Description = *p.Description
	}
	if p.Specialization != nil {
		out.Specialization = *p.Specialization
	}
	if p.Province != nil {
		out.Province = *p.Province
	}
	if p.RequestedDate != nil {
		out.RequestedDate = *p.RequestedDate
	}
	if p.DurationHours != nil {
		out.DurationHours = *p.DurationHours
	}
	if p.MaxParticipants != nil {
		out.MaxParticipants = *p.MaxParticipants
	}
	return out
}

// SetVersion records the store version after a read.
func (r *TrainingRequest) SetVersion(v int64) { r.Version = v }
