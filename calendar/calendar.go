// Package calendar holds the data model shared by the codec, the
// recurrence engine and the store: calendars keyed by (kind, id) and
// the events they contain.
package calendar

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind classifies the owner of a calendar.
type Kind string

const (
	KindUser     Kind = "user"
	KindGroup    Kind = "group"
	KindCourse   Kind = "course"
	KindImported Kind = "imported"
)

// ParseKind validates a kind string.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindUser, KindGroup, KindCourse, KindImported:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown calendar kind %q", s)
}

// Key identifies one calendar. It doubles as the name of the
// calendar's mutual-exclusion zone and its cache key.
type Key struct {
	Kind Kind
	ID   string
}

// String renders the key as "kind/id".
func (k Key) String() string {
	return string(k.Kind) + "/" + k.ID
}

// Validate checks that the key can address a durable document.
func (k Key) Validate() error {
	if _, err := ParseKind(string(k.Kind)); err != nil {
		return err
	}
	if k.ID == "" {
		return errors.New("empty calendar id")
	}
	if strings.ContainsAny(k.ID, `/\`) || k.ID == "." || k.ID == ".." {
		return fmt.Errorf("calendar id %q is not a valid document name", k.ID)
	}
	return nil
}

// Calendar is a set of events keyed by event id. The identity is
// immutable once created; events are mutated through the store.
type Calendar struct {
	Key    Key
	events map[string]*Event
}

// New creates an empty calendar for the given key.
func New(key Key) *Calendar {
	return &Calendar{Key: key, events: make(map[string]*Event)}
}

// Add inserts an event. An event with the same id is replaced, which
// keeps the one-event-per-id invariant.
func (c *Calendar) Add(ev *Event) {
	if c.events == nil {
		c.events = make(map[string]*Event)
	}
	c.events[ev.ID] = ev
}

// Remove deletes the event with the given id and reports whether it
// was present.
func (c *Calendar) Remove(id string) bool {
	_, ok := c.events[id]
	delete(c.events, id)
	return ok
}

// Get returns the event with the given id, or nil.
func (c *Calendar) Get(id string) *Event {
	return c.events[id]
}

// Len returns the number of events.
func (c *Calendar) Len() int {
	return len(c.events)
}

// Events returns the events sorted by id. The slice is freshly
// allocated; the events themselves are shared.
func (c *Calendar) Events() []*Event {
	out := make([]*Event, 0, len(c.events))
	for _, ev := range c.events {
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Clone returns a deep copy. The store hands out clones so cached
// state is never aliased by callers.
func (c *Calendar) Clone() *Calendar {
	cp := New(c.Key)
	for id, ev := range c.events {
		cp.events[id] = ev.Clone()
	}
	return cp
}
