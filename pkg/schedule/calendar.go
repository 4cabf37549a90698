package schedule

import (
	"slices"
	"time"
)

// TimeOfDay is an hour/minute pair inside a calendar schedule.
type TimeOfDay struct {
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
}

// Calendar is the structured schedule form. Every non-nil field is a whitelist
// for the matching timestamp component; a nil field matches any value.
type Calendar struct {
	Years       []int       `json:"years,omitempty"`
	Months      []int       `json:"months,omitempty"`
	Weekdays    []int       `json:"weekdays,omitempty"`
	DaysOfMonth []int       `json:"daysOfMonth,omitempty"`
	Times       []TimeOfDay `json:"times,omitempty"`
}

func (c *Calendar) matches(t time.Time) bool {
	if c.Years != nil && !slices.Contains(c.Years, t.Year()) {
		return false
	}
	if c.Months != nil && !slices.Contains(c.Months, int(t.Month())) {
		return false
	}
	if c.Weekdays != nil && !slices.Contains(c.Weekdays, int(t.Weekday())) {
		return false
	}
	if c.DaysOfMonth != nil && !slices.Contains(c.DaysOfMonth, t.Day()) {
		return false
	}
	if len(c.Times) == 0 {
		return true
	}
	return slices.Contains(c.Times, TimeOfDay{Hour: t.Hour(), Minute: t.Minute()})
}
