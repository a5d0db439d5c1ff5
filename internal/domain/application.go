package domain

import "time"

// ApplicationStatus is the review state of a TrainerApplication.
type ApplicationStatus string

const (
	ApplicationPending  ApplicationStatus = "pending"
	ApplicationAccepted ApplicationStatus = "accepted"
	ApplicationRejected ApplicationStatus = "rejected"
)

// TrainerApplication is a trainer's bid on a training request.
type TrainerApplication struct {
	ID                string            `json:"id"`
	TrainingRequestID string            `json:"training_request_id"`
	TrainerID         string            `json:"trainer_id"`
	Message           string            `json:"message,omitempty"`
	Status            ApplicationStatus `json:"status"`
	AppliedAt         time.Time         `json:"applied_at"`
	ReviewedAt        *time.Time        `json:"reviewed_at,omitempty"`
	ReviewedBy        string            `json:"reviewed_by,omitempty"`

	Version int64 `json:"-"`
}

// RecordID implements the local collection key.
func (a TrainerApplication) RecordID() string { return a.ID }

// TrainerProfile describes a trainer's declared specializations.
// Specializations are stored in the profile vocabulary.
type TrainerProfile struct {
	ID              string    `json:"id"`
	DisplayName     string    `json:"display_name"`
	Specializations SpecSet   `json:"specializations"`
	UpdatedAt       time.Time `json:"updated_at"`

	Version int64 `json:"-"`
}

// RecordID implements the local collection key.
func (p TrainerProfile) RecordID() string { return p.ID }

// SetVersion records the store version after a read.
func (a *TrainerApplication) SetVersion(v int64) { a.Version = v }

// SetVersion records the store version after a read.
func (p *TrainerProfile) SetVersion(v int64) { p.Version = v }
