// Package timeframe expands timeframe tokens into half-open calendar date
// ranges. It is the only place date windows are computed.
package timeframe

import (
	"strings"
	"time"
)

// Token is one of the recognised timeframe shorthands.
type Token string

const (
	Today     Token = "today"
	Tomorrow  Token = "tomorrow"
	ThisWeek  Token = "this_week"
	ThisMonth Token = "this_month"
	Default   Token = ""
)

// DateLayout is the ISO-8601 calendar date format used in CRM filters.
const DateLayout = "2006-01-02"

// Tokens lists the recognised tokens.
var Tokens = []Token{Today, Tomorrow, ThisWeek, ThisMonth}

// Parse maps free text onto a Token. Matching ignores case, surrounding space
// and the space/hyphen/underscore distinction. Unrecognised input reports
// false and resolves to Default.
func Parse(s string) (Token, bool) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer(" ", "_", "-", "_").Replace(norm)
	for _, t := range Tokens {
		if string(t) == norm {
			return t, true
		}
	}
	return Default, false
}

// Window is a [Start, End) range of calendar days.
type Window struct {
	Start time.Time
	End   time.Time
}

// Range expands a token anchored at now's calendar day, in now's location.
// Unrecognised tokens yield the one-day default window and never fail.
func Range(token string, now time.Time) Window {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	t, _ := Parse(token)

	switch t {
	case Tomorrow:
		return Window{Start: day.AddDate(0, 0, 1), End: day.AddDate(0, 0, 2)}
	case ThisWeek:
		return Window{Start: day, End: day.AddDate(0, 0, 7)}
	case ThisMonth:
		return Window{Start: day, End: day.AddDate(0, 1, 0)}
	default:
		return Window{Start: day, End: day.AddDate(0, 0, 1)}
	}
}

// Format returns the window bounds as YYYY-MM-DD strings.
func (w Window) Format() (start, end string) {
	return w.Start.Format(DateLayout), w.End.Format(DateLayout)
}

// Days is the number of calendar days covered.
func (w Window) Days() int {
	return int(w.End.Sub(w.Start).Hours()/24 + 0.5)
}
