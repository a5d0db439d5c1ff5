// Package visibility decides which training requests a viewer may see.
package visibility

import (
	"github.com/roach88/trainflow/internal/catalog"
	"github.com/roach88/trainflow/internal/domain"
)

// Viewer is the person looking at the request list. Specializations are in
// the role-profile vocabulary and mapped through the catalog.
type Viewer struct {
	UserID          string         `json:"user_id"`
	Role            domain.Role    `json:"role"`
	Specializations domain.SpecSet `json:"specializations,omitempty"`
}

// Filter applies role-based visibility rules.
type Filter struct {
	catalog *catalog.Catalog
}

// New returns a filter consulting cat for specialization matching.
func New(cat *catalog.Catalog) *Filter {
	return &Filter{catalog: cat}
}

// Visible reports whether v may see req.
//
//	requester   own requests
//	reviewer_cc UNDER_REVIEW
//	trainer     PM_APPROVED, unassigned, matching specialization
//	supervisor  PM_APPROVED or TR_ASSIGNED, matching specialization
//	reviewer_pm CC_APPROVED onward (not UNDER_REVIEW or REJECTED)
//	board       everything
func (f *Filter) Visible(v Viewer, req domain.TrainingRequest) bool {
	switch v.Role {
	case domain.RoleRequester:
		return v.UserID != "" && req.RequesterID == v.UserID
	case domain.RoleReviewer1:
		return req.Status == domain.StatusUnderReview
	case domain.RoleTrainer:
		return req.Status == domain.StatusPMApproved &&
			req.AssignedTrainerID == "" &&
			f.catalog.Matches(req.Specialization, v.Specializations)
	case domain.RoleSupervisor:
		return (req.Status == domain.StatusPMApproved || req.Status == domain.StatusTRAssigned) &&
			f.catalog.Matches(req.Specialization, v.Specializations)
	case domain.RoleReviewer2:
		return req.Status != domain.StatusUnderReview && req.Status != domain.StatusRejected
	case domain.RoleBoard:
		return true
	}
	return false
}

// Apply returns the requests v may see, preserving order.
func (f *Filter) Apply(v Viewer, reqs []domain.TrainingRequest) []domain.TrainingRequest {
	out := make([]domain.TrainingRequest, 0, len(reqs))
	for _, r := range reqs {
		if f.Visible(v, r) {
			out = append(out, r)
		}
	}
	return out
}
