package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRuleText(t *testing.T) {
	until := time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		rule     string
		until    time.Time
		expected string
	}{
		{
			name:     "workdaily expands to the weekday list",
			rule:     RecurWorkdaily,
			expected: "FREQ=DAILY;BYDAY=MO,TU,WE,TH,FR",
		},
		{
			name:     "biweekly expands to interval 2",
			rule:     RecurBiweekly,
			expected: "FREQ=WEEKLY;INTERVAL=2",
		},
		{
			name:     "plain frequency",
			rule:     RecurMonthly,
			expected: "FREQ=MONTHLY",
		},
		{
			name:     "until is appended",
			rule:     RecurDaily,
			until:    until,
			expected: "FREQ=DAILY;UNTIL=20240630T000000Z",
		},
		{
			name:     "raw rule text passes through verbatim",
			rule:     "FREQ=WEEKLY;BYDAY=TU,TH",
			until:    until,
			expected: "FREQ=WEEKLY;BYDAY=TU,TH",
		},
		{
			name:     "unknown token yields nothing",
			rule:     "fortnightly",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, RuleText(tt.rule, tt.until))
		})
	}
}

func TestSymbolForRule(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		expected string
	}{
		{
			name:     "weekday daily collapses to workdaily",
			text:     "FREQ=DAILY;BYDAY=MO,TU,WE,TH,FR",
			expected: RecurWorkdaily,
		},
		{
			name:     "day order does not matter",
			text:     "FREQ=DAILY;BYDAY=FR,TH,WE,TU,MO",
			expected: RecurWorkdaily,
		},
		{
			name:     "weekly interval 2 collapses to biweekly",
			text:     "FREQ=WEEKLY;INTERVAL=2",
			expected: RecurBiweekly,
		},
		{
			name:     "other day lists collapse to the bare frequency",
			text:     "FREQ=DAILY;BYDAY=MO,WE",
			expected: RecurDaily,
		},
		{
			name:     "other intervals collapse to the bare frequency",
			text:     "FREQ=WEEKLY;INTERVAL=3",
			expected: RecurWeekly,
		},
		{
			name:     "until does not disturb collapsing",
			text:     "FREQ=WEEKLY;INTERVAL=2;UNTIL=20240630T000000Z",
			expected: RecurBiweekly,
		},
		{
			name:     "yearly",
			text:     "FREQ=YEARLY",
			expected: RecurYearly,
		},
		{
			name:     "unknown frequency does not collapse",
			text:     "FREQ=SECONDLY",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SymbolForRule(tt.text))
		})
	}
}

func TestSymbolicRoundTrip(t *testing.T) {
	for _, symbol := range []string{
		RecurDaily, RecurWorkdaily, RecurWeekly, RecurBiweekly, RecurMonthly, RecurYearly,
	} {
		t.Run(symbol, func(t *testing.T) {
			text := RuleText(symbol, time.Time{})
			assert.Equal(t, symbol, SymbolForRule(text))
		})
	}
}

func TestUntilFromRule(t *testing.T) {
	assert.Equal(t,
		time.Date(2024, 6, 30, 12, 0, 0, 0, time.UTC),
		UntilFromRule("FREQ=DAILY;UNTIL=20240630T120000Z"))
	assert.Equal(t,
		time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC),
		UntilFromRule("FREQ=DAILY;UNTIL=20240630"))
	assert.True(t, UntilFromRule("FREQ=DAILY").IsZero())
	assert.True(t, UntilFromRule("FREQ=DAILY;UNTIL=garbage").IsZero())
}
