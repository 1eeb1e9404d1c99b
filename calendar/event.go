package calendar

import (
	"errors"
	"fmt"
	"time"
)

// Classification controls who may see an event's details.
type Classification int

const (
	// ClassPrivate is the default: details visible to the owner only.
	ClassPrivate Classification = iota
	// ClassFreeBusy exposes only busy/free state to other users.
	ClassFreeBusy
	// ClassPublic exposes the full event.
	ClassPublic
)

// String returns the interchange token for the classification.
func (c Classification) String() string {
	switch c {
	case ClassPublic:
		return "PUBLIC"
	case ClassFreeBusy:
		return "X-FREEBUSY"
	default:
		return "PRIVATE"
	}
}

// EventLink ties an event to a resource in another subsystem, e.g. the
// course element it was created from.
type EventLink struct {
	Provider    string
	ID          string
	DisplayName string
	URI         string
	IconCSS     string
}

// Event is a single calendar entry. Begin and End are instants; for
// all-day events both sit on midnight boundaries and End is the start
// of the last included day (the exclusive-end adjustment happens at
// the serialization boundary, not here).
type Event struct {
	ID       string
	Subject  string
	Location string

	Begin  time.Time
	End    time.Time
	AllDay bool

	Classification Classification

	// RecurrenceRule is either one of the symbolic tokens from rule.go
	// or raw rule text starting with "FREQ=".
	RecurrenceRule string
	// RecurrenceEnd bounds the recurrence (the UNTIL component). Zero
	// means unbounded.
	RecurrenceEnd time.Time
	// ExclusionRule lists dates subtracted from the expansion.
	ExclusionRule string

	Created   time.Time
	Modified  time.Time
	CreatedBy string

	Comment          string
	ParticipantCount *int64
	Participants     []string
	SourceNodeID     string
	Links            []EventLink
}

// Validate checks the invariants the store enforces on write.
func (ev *Event) Validate() error {
	if ev.ID == "" {
		return errors.New("event has no id")
	}
	if ev.End.Before(ev.Begin) {
		return fmt.Errorf("event %s ends before it begins", ev.ID)
	}
	return nil
}

// NormalizeAllDay snaps Begin and End to midnight of their respective
// calendar days. No-op for timed events.
func (ev *Event) NormalizeAllDay() {
	if !ev.AllDay {
		return
	}
	ev.Begin = Midnight(ev.Begin)
	ev.End = Midnight(ev.End)
}

// Duration returns End - Begin.
func (ev *Event) Duration() time.Duration {
	return ev.End.Sub(ev.Begin)
}

// Clone returns a deep copy of the event.
func (ev *Event) Clone() *Event {
	cp := *ev
	if ev.ParticipantCount != nil {
		n := *ev.ParticipantCount
		cp.ParticipantCount = &n
	}
	cp.Participants = append([]string(nil), ev.Participants...)
	cp.Links = append([]EventLink(nil), ev.Links...)
	return &cp
}

// Midnight truncates t to the start of its calendar day, keeping the
// location.
func Midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// SameDay reports whether a and b fall on the same calendar day.
func SameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// Occurrence is one concrete instance produced by expanding a
// recurring event. It is transient: never persisted, and Event points
// back at the seed record it was derived from.
type Occurrence struct {
	Begin time.Time
	End   time.Time
	Event *Event
}
