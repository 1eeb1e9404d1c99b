package store

import (
	"context"
	"sort"
	"time"

	"github.com/samber/mo"

	"github.com/openledge/calstore/calendar"
	"github.com/openledge/calstore/internal/match"
)

// FindQuery filters the events of one calendar. Pattern is a wildcard
// expression matched against subject and location ("" matches
// everything); Class restricts by classification when present; From/To
// bound the query window.
type FindQuery struct {
	Pattern string
	Class   mo.Option[calendar.Classification]
	From    time.Time
	To      time.Time
}

func (q FindQuery) matches(ev *calendar.Event) bool {
	if class, ok := q.Class.Get(); ok && ev.Classification != class {
		return false
	}
	if q.Pattern == "" {
		return true
	}
	return match.Wildcard(q.Pattern, ev.Subject) || match.Wildcard(q.Pattern, ev.Location)
}

// FindEvents returns every occurrence in the calendar for key that
// touches the query window and passes the filter: seed events that
// intersect the window plus the expanded occurrences of recurring
// ones, merged and sorted by begin. A seed whose rule text is corrupt
// contributes no recurrences but does not disturb its siblings.
func (s *Store) FindEvents(ctx context.Context, key calendar.Key, q FindQuery) ([]calendar.Occurrence, error) {
	cal, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	var out []calendar.Occurrence
	for _, ev := range cal.Events() {
		if !q.matches(ev) {
			continue
		}
		if !ev.Begin.After(q.To) && !ev.End.Before(q.From) {
			out = append(out, calendar.Occurrence{Begin: ev.Begin, End: ev.End, Event: ev})
		}
		out = append(out, s.engine.Expand(ev, q.From, q.To)...)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Begin.Before(out[j].Begin) })
	return out, nil
}
