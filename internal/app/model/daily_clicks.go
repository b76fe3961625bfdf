package model

import "sort"

// DateLayout is the calendar-date format used for analytics keys.
const DateLayout = "2006-01-02"

// DailyClicks maps a calendar date (DateLayout) to the number of clicks on
// that date. Dates without clicks are absent.
type DailyClicks map[string]int64

// DailyClickCount is one entry of DailyClicks.
type DailyClickCount struct {
	Date  string `json:"clickDate"`
	Count int64  `json:"count"`
}

// Sorted returns the entries ordered by date.
func (d DailyClicks) Sorted() []DailyClickCount {
	out := make([]DailyClickCount, 0, len(d))
	for date, count := range d {
		out = append(out, DailyClickCount{Date: date, Count: count})
	}
	// DateLayout sorts lexically in chronological order.
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}
