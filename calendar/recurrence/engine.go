// Package recurrence expands recurring events into concrete
// occurrences inside a query window.
package recurrence

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/openledge/calstore/calendar"
)

// Engine evaluates recurrence and exclusion rules. Rule parse failures
// degrade to "no occurrences" so one corrupt event cannot break the
// expansion of its siblings.
type Engine struct {
	logger *slog.Logger
}

// NewEngine creates an engine. A nil logger falls back to slog.Default.
func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{logger: logger}
}

// Expand returns the occurrences of ev between periodStart and
// periodEnd, sorted by begin ascending. The seed instance (the
// occurrence whose begin equals the event's own begin) is never
// reported; callers merging with the seed event sort the union
// themselves. Events without a recurrence rule expand to nothing.
func (e *Engine) Expand(ev *calendar.Event, periodStart, periodEnd time.Time) []calendar.Occurrence {
	if ev == nil || ev.RecurrenceRule == "" {
		return nil
	}

	set, err := e.ruleSet(ev)
	if err != nil {
		e.logger.Warn("skipping event with malformed recurrence rule",
			"event", ev.ID, "rule", ev.RecurrenceRule, "error", err)
		return nil
	}

	// Rule evaluation runs in floating wall-clock time; the window is
	// rebased the same way so comparisons line up.
	candidates := set.Between(floating(periodStart), floating(periodEnd), true)

	exclusions := e.parseExclusions(ev)
	until := ev.RecurrenceEnd
	if until.IsZero() {
		until = calendar.UntilFromRule(ev.RecurrenceRule)
	}

	duration := ev.Duration()
	var out []calendar.Occurrence
	for _, c := range candidates {
		begin := time.Date(c.Year(), c.Month(), c.Day(),
			ev.Begin.Hour(), ev.Begin.Minute(), ev.Begin.Second(), 0, ev.Begin.Location())
		if begin.Equal(ev.Begin) {
			continue // seed instance, reported by the caller
		}
		if excluded(begin, exclusions) {
			continue
		}
		// Date-only storage and the rule machinery disagree about the
		// final day of bounded all-day recurrences; drop anything the
		// rule emitted past the declared end.
		if ev.AllDay && !until.IsZero() && calendar.Midnight(begin).After(calendar.Midnight(until)) {
			continue
		}
		out = append(out, calendar.Occurrence{Begin: begin, End: begin.Add(duration), Event: ev})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Begin.Before(out[j].Begin) })
	return out
}

// ruleSet parses the event's rule, resolving symbolic tokens first.
func (e *Engine) ruleSet(ev *calendar.Event) (*rrule.Set, error) {
	text := ev.RecurrenceRule
	if !strings.HasPrefix(text, "FREQ=") {
		text = calendar.RuleText(ev.RecurrenceRule, ev.RecurrenceEnd)
		if text == "" {
			return nil, fmt.Errorf("unrecognized recurrence rule %q", ev.RecurrenceRule)
		}
	}
	dtstart := floating(ev.Begin).Format("20060102T150405Z")
	return rrule.StrToRRuleSet(fmt.Sprintf("DTSTART:%s\nRRULE:%s", dtstart, text))
}

// exclusion is one entry of an exclusion rule. Date-only entries match
// any occurrence on that calendar day; dated-time entries require an
// exact wall-clock match.
type exclusion struct {
	at       time.Time
	dateOnly bool
}

// parseExclusions interprets the event's exclusion rule: an optional
// "EXDATE..." prefix followed by a comma-separated date list. A token
// of bare-date length carries no time of day and is matched at day
// granularity. Unparsable tokens are logged and dropped.
func (e *Engine) parseExclusions(ev *calendar.Event) []exclusion {
	value := ev.ExclusionRule
	if value == "" {
		return nil
	}
	if strings.HasPrefix(strings.ToUpper(value), "EXDATE") {
		if _, rest, ok := strings.Cut(value, ":"); ok {
			value = rest
		}
	}

	var out []exclusion
	for _, token := range strings.Split(value, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		if len(token) == len("20060102") {
			t, err := time.Parse("20060102", token)
			if err != nil {
				e.logger.Warn("dropping malformed exclusion date",
					"event", ev.ID, "token", token, "error", err)
				continue
			}
			out = append(out, exclusion{at: t, dateOnly: true})
			continue
		}
		t, err := time.Parse("20060102T150405Z", token)
		if err != nil {
			t, err = time.Parse("20060102T150405", token)
		}
		if err != nil {
			e.logger.Warn("dropping malformed exclusion date",
				"event", ev.ID, "token", token, "error", err)
			continue
		}
		out = append(out, exclusion{at: t})
	}
	return out
}

func excluded(begin time.Time, exclusions []exclusion) bool {
	for _, ex := range exclusions {
		if ex.dateOnly {
			if calendar.SameDay(begin, ex.at) {
				return true
			}
			continue
		}
		if floating(begin).Equal(floating(ex.at)) {
			return true
		}
	}
	return false
}

// floating rebases t's wall-clock reading into UTC so rule arithmetic
// is independent of the zones the inputs arrived in.
func floating(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.UTC)
}
