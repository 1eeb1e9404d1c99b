// Package ics converts calendars to and from their iCalendar
// interchange representation.
package ics

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/samber/mo"

	"github.com/openledge/calstore/calendar"
)

// ErrMalformedDocument is returned when an interchange document cannot
// be parsed at all. Individual unsupported components inside an
// otherwise healthy document are skipped, not errors.
var ErrMalformedDocument = errors.New("malformed calendar document")

const prodID = "-//openledge//calstore//EN"

// Custom properties carried per event. Values that hold several fields
// join them with linkDelimiter; the delimiter is not escaped inside
// field values, a known limitation of the format.
const (
	propComment          = "X-CALSTORE-COMMENT"
	propParticipantCount = "X-CALSTORE-NUM-PARTICIPANTS"
	propParticipants     = "X-CALSTORE-PARTICIPANTS"
	propSourceNode       = "X-CALSTORE-SOURCE-NODE"
	propCreatedBy        = "X-CALSTORE-CREATED-BY"
	propLink             = "X-CALSTORE-LINK"
)

const linkDelimiter = "§"

// Codec encodes and decodes calendars. Timed events are written in the
// configured location; all-day events are written as date-only values
// with an exclusive end day.
type Codec struct {
	loc    *time.Location
	logger *slog.Logger
}

// NewCodec builds a codec. A nil location means UTC, a nil logger
// means slog.Default.
func NewCodec(loc *time.Location, logger *slog.Logger) *Codec {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Codec{loc: loc, logger: logger}
}

// Encode renders the calendar as one iCalendar document. Events are
// emitted in id order so identical calendars encode identically.
func (c *Codec) Encode(cal *calendar.Calendar) (string, error) {
	doc := ical.NewCalendar()
	doc.Props.SetText(ical.PropVersion, "2.0")
	doc.Props.SetText(ical.PropProductID, prodID)

	for _, ev := range cal.Events() {
		doc.Children = append(doc.Children, c.encodeEvent(ev))
	}

	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(doc); err != nil {
		return "", fmt.Errorf("encoding calendar %s: %w", cal.Key, err)
	}
	return buf.String(), nil
}

func (c *Codec) encodeEvent(ev *calendar.Event) *ical.Component {
	comp := ical.NewComponent(ical.CompEvent)
	comp.Props.SetText(ical.PropUID, ev.ID)
	comp.Props.SetText(ical.PropSummary, ev.Subject)
	if ev.Location != "" {
		comp.Props.SetText(ical.PropLocation, ev.Location)
	}

	if ev.AllDay {
		// Stored end is exclusive: one day past the last included day.
		comp.Props.SetDate(ical.PropDateTimeStart, calendar.Midnight(ev.Begin))
		comp.Props.SetDate(ical.PropDateTimeEnd, calendar.Midnight(ev.End).AddDate(0, 0, 1))
	} else {
		comp.Props.SetDateTime(ical.PropDateTimeStart, ev.Begin.In(c.loc))
		comp.Props.SetDateTime(ical.PropDateTimeEnd, ev.End.In(c.loc))
	}

	stamp := ev.Modified
	if stamp.IsZero() {
		stamp = ev.Created
	}
	if stamp.IsZero() {
		stamp = time.Now()
	}
	comp.Props.SetDateTime(ical.PropDateTimeStamp, stamp.UTC())
	if !ev.Created.IsZero() {
		comp.Props.SetDateTime(ical.PropCreated, ev.Created.UTC())
	}
	if !ev.Modified.IsZero() {
		comp.Props.SetDateTime(ical.PropLastModified, ev.Modified.UTC())
	}

	comp.Props.SetText(ical.PropClass, ev.Classification.String())

	if rule := calendar.RuleText(ev.RecurrenceRule, ev.RecurrenceEnd); rule != "" {
		p := ical.NewProp(ical.PropRecurrenceRule)
		p.Value = rule
		comp.Props.Set(p)
	}
	if ev.ExclusionRule != "" {
		p := ical.NewProp(ical.PropExceptionDates)
		p.Value = ev.ExclusionRule
		comp.Props.Set(p)
	}

	if ev.CreatedBy != "" {
		comp.Props.SetText(propCreatedBy, ev.CreatedBy)
	}
	if ev.Comment != "" {
		comp.Props.SetText(propComment, ev.Comment)
	}
	if ev.ParticipantCount != nil {
		comp.Props.SetText(propParticipantCount, strconv.FormatInt(*ev.ParticipantCount, 10))
	}
	if len(ev.Participants) > 0 {
		comp.Props.SetText(propParticipants, strings.Join(ev.Participants, linkDelimiter))
	}
	if ev.SourceNodeID != "" {
		comp.Props.SetText(propSourceNode, ev.SourceNodeID)
	}
	for _, link := range ev.Links {
		p := ical.NewProp(propLink)
		p.SetText(strings.Join([]string{
			link.Provider, link.ID, link.DisplayName, link.URI, link.IconCSS,
		}, linkDelimiter))
		comp.Props.Add(p)
	}

	return comp
}

// Decode parses one iCalendar document into a calendar with the given
// key. Component kinds other than events are skipped: timezone
// definitions silently, everything else with a log line. A document
// that cannot be parsed at all yields ErrMalformedDocument.
func (c *Codec) Decode(key calendar.Key, text string) (*calendar.Calendar, error) {
	doc, err := ical.NewDecoder(strings.NewReader(normalize(text))).Decode()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}

	cal := calendar.New(key)
	for _, comp := range doc.Children {
		switch comp.Name {
		case ical.CompEvent:
			ev, err := c.decodeEvent(comp)
			if err != nil {
				c.logger.Warn("skipping undecodable event component",
					"calendar", key, "error", err)
				continue
			}
			cal.Add(ev)
		case ical.CompTimezone:
			// Zone definitions carry no events.
		default:
			c.logger.Warn("skipping unsupported calendar component",
				"calendar", key, "component", comp.Name)
		}
	}
	return cal, nil
}

func (c *Codec) decodeEvent(comp *ical.Component) (*calendar.Event, error) {
	uid, ok := optText(comp, ical.PropUID).Get()
	if !ok {
		return nil, errors.New("event without UID")
	}

	startProp := comp.Props.Get(ical.PropDateTimeStart)
	if startProp == nil {
		return nil, fmt.Errorf("event %s without DTSTART", uid)
	}
	// All-day detection hangs off the date-only marker on the begin
	// value and nothing else.
	allDay := strings.EqualFold(startProp.Params.Get(ical.ParamValue), "DATE")

	begin, err := comp.Props.DateTime(ical.PropDateTimeStart, c.loc)
	if err != nil {
		return nil, fmt.Errorf("event %s: bad DTSTART: %w", uid, err)
	}

	var end time.Time
	switch {
	case comp.Props.Get(ical.PropDateTimeEnd) != nil:
		end, err = comp.Props.DateTime(ical.PropDateTimeEnd, c.loc)
		if err != nil {
			return nil, fmt.Errorf("event %s: bad DTEND: %w", uid, err)
		}
	case comp.Props.Get(ical.PropDuration) != nil:
		dur, derr := comp.Props.Get(ical.PropDuration).Duration()
		if derr != nil {
			return nil, fmt.Errorf("event %s: bad DURATION: %w", uid, derr)
		}
		end = begin.Add(dur)
	case allDay:
		end = begin.AddDate(0, 0, 1)
	default:
		end = begin
	}
	if allDay {
		// Stored end is exclusive; the domain end is inclusive.
		end = end.AddDate(0, 0, -1)
	}

	ev := &calendar.Event{
		ID:     uid,
		Begin:  begin,
		End:    end,
		AllDay: allDay,
	}
	ev.NormalizeAllDay()

	ev.Subject = optText(comp, ical.PropSummary).OrElse("")
	ev.Location = optText(comp, ical.PropLocation).OrElse("")
	ev.Classification = decodeClass(optText(comp, ical.PropClass).OrElse(""))

	if comp.Props.Get(ical.PropCreated) != nil {
		if created, err := comp.Props.DateTime(ical.PropCreated, time.UTC); err == nil {
			ev.Created = created
		}
	}
	if comp.Props.Get(ical.PropLastModified) != nil {
		if modified, err := comp.Props.DateTime(ical.PropLastModified, time.UTC); err == nil {
			ev.Modified = modified
		}
	}

	if p := comp.Props.Get(ical.PropRecurrenceRule); p != nil && p.Value != "" {
		ev.RecurrenceEnd = calendar.UntilFromRule(p.Value)
		if sym := calendar.SymbolForRule(p.Value); sym != "" {
			ev.RecurrenceRule = sym
		} else {
			ev.RecurrenceRule = p.Value
		}
	}
	if p := comp.Props.Get(ical.PropExceptionDates); p != nil {
		ev.ExclusionRule = p.Value
	}

	ev.CreatedBy = optText(comp, propCreatedBy).OrElse("")
	ev.Comment = optText(comp, propComment).OrElse("")
	ev.SourceNodeID = optText(comp, propSourceNode).OrElse("")
	if raw, ok := optText(comp, propParticipantCount).Get(); ok {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			ev.ParticipantCount = &n
		} else {
			c.logger.Warn("ignoring non-numeric participant count",
				"event", uid, "value", raw)
		}
	}
	if raw, ok := optText(comp, propParticipants).Get(); ok {
		ev.Participants = strings.Split(raw, linkDelimiter)
	}
	for _, p := range comp.Props.Values(propLink) {
		value, err := p.Text()
		if err != nil {
			value = p.Value
		}
		if value == "" {
			continue
		}
		ev.Links = append(ev.Links, decodeLink(value))
	}

	return ev, nil
}

// decodeLink splits a delimited link value. The format grew over time:
// a shorter list means missing trailing optional fields (the 4-field
// legacy form omits the icon class), never an error.
func decodeLink(value string) calendar.EventLink {
	fields := strings.Split(value, linkDelimiter)
	for len(fields) < 5 {
		fields = append(fields, "")
	}
	return calendar.EventLink{
		Provider:    fields[0],
		ID:          fields[1],
		DisplayName: fields[2],
		URI:         fields[3],
		IconCSS:     fields[4],
	}
}

func decodeClass(token string) calendar.Classification {
	switch strings.ToUpper(token) {
	case "PUBLIC":
		return calendar.ClassPublic
	case "X-FREEBUSY":
		return calendar.ClassFreeBusy
	default:
		return calendar.ClassPrivate
	}
}

// optText reads a property as unescaped text.
func optText(comp *ical.Component, name string) mo.Option[string] {
	p := comp.Props.Get(name)
	if p == nil || p.Value == "" {
		return mo.None[string]()
	}
	v, err := p.Text()
	if err != nil {
		return mo.Some(p.Value)
	}
	return mo.Some(v)
}
