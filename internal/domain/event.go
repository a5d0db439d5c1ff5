package domain

import "time"

// EventType classifies calendar events.
type EventType string

const (
	EventTraining     EventType = "training"
	EventMeeting      EventType = "meeting"
	EventAvailability EventType = "availability"
	EventOther        EventType = "other"
)

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	switch t {
	case EventTraining, EventMeeting, EventAvailability, EventOther:
		return true
	}
	return false
}

// CalendarEvent occupies the half-open interval [Start, End).
type CalendarEvent struct {
	ID                string    `json:"id"`
	Title             string    `json:"title"`
	Start             time.Time `json:"start_date"`
	End               time.Time `json:"end_date"`
	Location          string    `json:"location,omitempty"`
	Attendees         []string  `json:"attendees,omitempty"`
	Type              EventType `json:"type"`
	TrainingRequestID string    `json:"training_request_id,omitempty"`
	MaxAttendees      int       `json:"max_attendees,omitempty"`
	OwnerID           string    `json:"owner_id,omitempty"`

	Version int64 `json:"-"`
}

// RecordID implements the local collection key.
func (e CalendarEvent) RecordID() string { return e.ID }

// Validate checks interval and type.
func (e CalendarEvent) Validate() error {
	if e.Title == "" {
		return NewError(KindValidation, "event title is required")
	}
	if !e.End.After(e.Start) {
		return NewError(KindValidation, "event must end after it starts")
	}
	if !e.Type.Valid() {
		return NewError(KindValidation, "unknown event type "+string(e.Type))
	}
	if e.MaxAttendees > 0 && len(e.Attendees) > e.MaxAttendees {
		return NewError(KindValidation, "attendees exceed max_attendees")
	}
	return nil
}

// Channel is a direct-message channel between two users.
type Channel struct {
	ID                string    `json:"id"`
	Members           []string  `json:"members"`
	TrainingRequestID string    `json:"training_request_id,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// RecordID implements the local collection key.
func (c Channel) RecordID() string { return c.ID }

// Message is one message posted to a channel.
type Message struct {
	ID        string    `json:"id"`
	ChannelID string    `json:"channel_id"`
	SenderID  string    `json:"sender_id"`
	Body      string    `json:"body"`
	SentAt    time.Time `json:"sent_at"`
}

// SetVersion records the store version after a read.
func (e *CalendarEvent) SetVersion(v int64) { e.Version = v }
