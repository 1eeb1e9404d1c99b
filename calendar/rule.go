package calendar

import (
	"sort"
	"strings"
	"time"
)

// Symbolic recurrence tokens. The codec collapses the two common rule
// shapes (weekday-only daily, biweekly) to these on decode and expands
// them back to canonical rule text on encode; the plain frequencies
// round-trip trivially.
const (
	RecurDaily     = "daily"
	RecurWorkdaily = "workdaily"
	RecurWeekly    = "weekly"
	RecurBiweekly  = "biweekly"
	RecurMonthly   = "monthly"
	RecurYearly    = "yearly"
)

const (
	untilLayoutUTC  = "20060102T150405Z"
	untilLayoutFull = "20060102T150405"
	untilLayoutDate = "20060102"
)

var workdays = []string{"FR", "MO", "TH", "TU", "WE"} // sorted

// RuleText expands a symbolic recurrence token into canonical rule
// text, appending UNTIL when until is non-zero. Raw "FREQ=" text is
// returned verbatim (it already carries its own termination). An
// unrecognized token yields "".
func RuleText(rule string, until time.Time) string {
	var text string
	switch rule {
	case RecurDaily:
		text = "FREQ=DAILY"
	case RecurWorkdaily:
		text = "FREQ=DAILY;BYDAY=MO,TU,WE,TH,FR"
	case RecurWeekly:
		text = "FREQ=WEEKLY"
	case RecurBiweekly:
		text = "FREQ=WEEKLY;INTERVAL=2"
	case RecurMonthly:
		text = "FREQ=MONTHLY"
	case RecurYearly:
		text = "FREQ=YEARLY"
	default:
		if strings.HasPrefix(rule, "FREQ=") {
			return rule
		}
		return ""
	}
	if !until.IsZero() {
		text += ";UNTIL=" + until.UTC().Format(untilLayoutUTC)
	}
	return text
}

// SymbolForRule collapses canonical rule text to a symbolic token.
// Exactly two enriched shapes collapse beyond their frequency: a daily
// rule over the Monday-Friday day list becomes "workdaily" and a
// weekly rule with interval 2 becomes "biweekly". Every other
// day-list/interval combination collapses to the bare frequency; an
// unknown frequency yields "".
func SymbolForRule(text string) string {
	parts := ruleParts(text)
	switch parts["FREQ"] {
	case "DAILY":
		if sameDaySet(parts["BYDAY"], workdays) {
			return RecurWorkdaily
		}
		return RecurDaily
	case "WEEKLY":
		if parts["INTERVAL"] == "2" {
			return RecurBiweekly
		}
		return RecurWeekly
	case "MONTHLY":
		return RecurMonthly
	case "YEARLY":
		return RecurYearly
	}
	return ""
}

// UntilFromRule extracts the UNTIL date from rule text, or the zero
// time if absent or unparsable.
func UntilFromRule(text string) time.Time {
	v := ruleParts(text)["UNTIL"]
	if v == "" {
		return time.Time{}
	}
	for _, layout := range []string{untilLayoutUTC, untilLayoutFull, untilLayoutDate} {
		if t, err := time.Parse(layout, v); err == nil {
			return t
		}
	}
	return time.Time{}
}

func ruleParts(text string) map[string]string {
	parts := make(map[string]string)
	for _, seg := range strings.Split(text, ";") {
		k, v, ok := strings.Cut(seg, "=")
		if !ok {
			continue
		}
		parts[strings.ToUpper(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}
	return parts
}

func sameDaySet(byday string, want []string) bool {
	if byday == "" {
		return false
	}
	days := strings.Split(strings.ToUpper(byday), ",")
	for i := range days {
		days[i] = strings.TrimSpace(days[i])
	}
	sort.Strings(days)
	if len(days) != len(want) {
		return false
	}
	for i := range days {
		if days[i] != want[i] {
			return false
		}
	}
	return true
}
