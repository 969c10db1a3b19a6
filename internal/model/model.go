package model

import (
	"errors"
	"strings"
	"time"
)

// DateLayout is the storage form of event dates (calendar dates, no time).
const DateLayout = "2006-01-02"

// ErrEmptyDate is returned by ParseDate for blank input.
var ErrEmptyDate = errors.New("empty date")

// EventRecord is a single event row as stored in the events table. Every
// event is all-day: StartDate/EndDate are YYYY-MM-DD strings and EndDate
// may be empty for single-day events.
type EventRecord struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Sport     string    `json:"sport" db:"sport"`
	StartDate string    `json:"start_date" db:"start_date"`
	EndDate   string    `json:"end_date,omitempty" db:"end_date"`
	Location  string    `json:"location" db:"location"`
	Age       string    `json:"age" db:"age"`
	Gender    string    `json:"gender" db:"gender"`
	EventType string    `json:"event_type" db:"event_type"`
	Website   string    `json:"website,omitempty" db:"website"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// LastDate returns EndDate, or StartDate when EndDate is blank.
func (e EventRecord) LastDate() string {
	if strings.TrimSpace(e.EndDate) == "" {
		return e.StartDate
	}
	return e.EndDate
}

// DateRange bounds an event's start date. A nil bound is unconstrained.
type DateRange struct {
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`
}

// IsZero reports whether neither bound is set.
func (r DateRange) IsZero() bool {
	return r.Start == nil && r.End == nil
}

// FilterCriteria holds the field filters selected in the UI. An empty
// string leaves the field unconstrained.
type FilterCriteria struct {
	Sport     string    `json:"sport"`
	Location  string    `json:"location"`
	Age       string    `json:"age"`
	Gender    string    `json:"gender"`
	EventType string    `json:"event_type"`
	DateRange DateRange `json:"date_range"`
}

// ParseDate parses a stored YYYY-MM-DD value as a civil date, returned as
// midnight UTC. Event dates carry no zone, so the display zone never moves
// them to a neighboring day.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, ErrEmptyDate
	}
	// Values written by older ingestion jobs sometimes carry a time part.
	if len(s) > len(DateLayout) && (s[len(DateLayout)] == 'T' || s[len(DateLayout)] == ' ') {
		s = s[:len(DateLayout)]
	}
	return time.Parse(DateLayout, s)
}

// CivilDate returns the calendar date of t, read in t's location, as
// midnight UTC. Local midnight does not exist on days whose DST gap starts
// at 00:00, so civil dates are never built in the display zone.
func CivilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// SameDay reports whether a and b fall on the same calendar date.
func SameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
