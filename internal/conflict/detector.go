// Package conflict detects scheduling conflicts between a proposed event and
// existing calendar events.
//
// Detection is a pure function. Three independent checks run against every
// existing event, so one event may contribute several entries:
//
//	time_overlap       high    half-open intervals intersect
//	trainer_conflict   medium  at least one shared attendee
//	location_conflict  low     same normalized location
//
// Intervals are half-open: [s1,e1) and [s2,e2) overlap iff s1 < e2 && s2 < e1,
// so back-to-back events never conflict.
package conflict

import (
	"time"

	"github.com/roach88/trainflow/internal/domain"
	"github.com/roach88/trainflow/internal/textnorm"
)

// Kind names a conflict check.
type Kind string

const (
	KindTimeOverlap      Kind = "time_overlap"
	KindTrainerConflict  Kind = "trainer_conflict"
	KindLocationConflict Kind = "location_conflict"
)

// Severity ranks a conflict.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// Resolution is an option offered to the caller for a conflicting proposal.
type Resolution string

const (
	ResolutionCancel     Resolution = "cancel"
	ResolutionReschedule Resolution = "reschedule"
	ResolutionForce      Resolution = "force"
)

// Entry is one detected conflict.
type Entry struct {
	EventID  string   `json:"conflicting_event_id"`
	Kind     Kind     `json:"kind"`
	Severity Severity `json:"severity"`
}

// Report is the ordered result of Detect: existing-event order, then
// time, trainer, location within one event.
type Report []Entry

// Proposal is the event being scheduled.
type Proposal struct {
	Start     time.Time `json:"start_date"`
	End       time.Time `json:"end_date"`
	Location  string    `json:"location,omitempty"`
	Attendees []string  `json:"attendees,omitempty"`

	// ExcludeID skips the existing event with this id, so rescheduling an
	// event does not conflict with its own previous slot.
	ExcludeID string `json:"exclude_id,omitempty"`
}

// FromEvent builds a proposal from an event, excluding the event itself.
func FromEvent(e domain.CalendarEvent) Proposal {
	return Proposal{
		Start:     e.Start,
		End:       e.End,
		Location:  e.Location,
		Attendees: e.Attendees,
		ExcludeID: e.ID,
	}
}

// Overlaps reports whether [s1,e1) and [s2,e2) intersect.
func Overlaps(s1, e1, s2, e2 time.Time) bool {
	return s1.Before(e2) && s2.Before(e1)
}

// Detect checks proposed against every existing event.
func Detect(proposed Proposal, existing []domain.CalendarEvent) Report {
	attendees := make(map[string]struct{}, len(proposed.Attendees))
	for _, a := range proposed.Attendees {
		attendees[a] = struct{}{}
	}

	var report Report
	for _, ev := range existing {
		if proposed.ExcludeID != "" && ev.ID == proposed.ExcludeID {
			continue
		}
		if Overlaps(proposed.Start, proposed.End, ev.Start, ev.End) {
			report = append(report, Entry{EventID: ev.ID, Kind: KindTimeOverlap, Severity: SeverityHigh})
		}
		if sharesAttendee(attendees, ev.Attendees) {
			report = append(report, Entry{EventID: ev.ID, Kind: KindTrainerConflict, Severity: SeverityMedium})
		}
		if textnorm.Equal(proposed.Location, ev.Location) {
			report = append(report, Entry{EventID: ev.ID, Kind: KindLocationConflict, Severity: SeverityLow})
		}
	}
	return report
}

func sharesAttendee(set map[string]struct{}, others []string) bool {
	for _, o := range others {
		if _, ok := set[o]; ok {
			return true
		}
	}
	return false
}

// HasBlocking reports whether the report contains a high-severity entry.
func (r Report) HasBlocking() bool {
	for _, e := range r {
		if e.Severity == SeverityHigh {
			return true
		}
	}
	return false
}

// HasBlockingConflict is the function form of Report.HasBlocking.
func HasBlockingConflict(r Report) bool {
	return r.HasBlocking()
}

// Resolutions returns the options offered for the report. Force is only
// offered when nothing blocks.
func (r Report) Resolutions() []Resolution {
	if r.HasBlocking() {
		return []Resolution{ResolutionCancel, ResolutionReschedule}
	}
	return []Resolution{ResolutionCancel, ResolutionReschedule, ResolutionForce}
}

// Allows reports whether res is one of the offered resolutions.
func (r Report) Allows(res Resolution) bool {
	for _, o := range r.Resolutions() {
		if o == res {
			return true
		}
	}
	return false
}

// EventIDs returns the distinct conflicting event ids in report order.
func (r Report) EventIDs() []string {
	seen := make(map[string]bool, len(r))
	var ids []string
	for _, e := range r {
		if !seen[e.EventID] {
			seen[e.EventID] = true
			ids = append(ids, e.EventID)
		}
	}
	return ids
}

// DayWindow returns the events that overlap the calendar days (UTC) the
// proposal touches. Callers pass the result to Detect so attendee and
// location checks only consider the same days.
func DayWindow(proposed Proposal, events []domain.CalendarEvent) []domain.CalendarEvent {
	start := proposed.Start.UTC().Truncate(24 * time.Hour)
	end := proposed.End.UTC().Truncate(24 * time.Hour)
	if !end.Equal(proposed.End.UTC()) || end.Equal(start) {
		end = end.Add(24 * time.Hour)
	}

	var out []domain.CalendarEvent
	for _, ev := range events {
		if Overlaps(start, end, ev.Start, ev.End) {
			out = append(out, ev)
		}
	}
	return out
}
