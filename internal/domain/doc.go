// Package domain defines the core entities of the training approval workflow.
//
// The package holds plain data types and the error taxonomy shared by every
// other component:
//   - TrainingRequest: the request moving through the review stages
//   - TrainerApplication: a trainer's bid on an approved request
//   - CalendarEvent: a scheduled commitment used for conflict detection
//   - Channel / Message: direct messaging opened when a session is scheduled
//   - TrainerProfile: a trainer's specializations in the profile vocabulary
//   - OfflineAction: a mutation waiting in the local offline queue
//
// Types in this package carry no behavior that touches storage or the
// network. Status transitions live in internal/workflow, bid arbitration in
// internal/arbiter.
package domain
