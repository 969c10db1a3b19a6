package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "sportscal/internal/log"
)

// ParsedEvent is one VEVENT from a feed. Recurrence is kept unexpanded;
// see Expand.
type ParsedEvent struct {
	Source Source

	UID      string
	Sequence int

	Summary     string
	Description string
	Location    string
	URL         string
	Categories  []string
	Cancelled   bool

	Start  time.Time
	End    time.Time
	AllDay bool

	RRule        string
	ExDates      []time.Time
	RecurrenceID *time.Time
}

// IsOverride reports whether the event replaces one recurrence instance.
func (e ParsedEvent) IsOverride() bool {
	return e.RecurrenceID != nil
}

// Parse reads a feed body. Events that cannot be read are logged and
// skipped; only an unreadable document is an error.
func Parse(src Source, body []byte, loc *time.Location) ([]ParsedEvent, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, errors.New("ics: empty feed body")
	}
	if loc == nil {
		loc = time.UTC
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ics: parse %s: %w", src.ID, err)
	}

	out := make([]ParsedEvent, 0, len(cal.Events()))
	for _, ve := range cal.Events() {
		ev, err := parseVEvent(src, ve, loc)
		if err != nil {
			appLog.Warn("skipping feed event", "feed", src.ID, "reason", err.Error())
			continue
		}
		out = append(out, ev)
	}
	appLog.Debug("feed parsed", "feed", src.ID, "events", len(out))
	return out, nil
}

func parseVEvent(src Source, ve *ical.VEvent, loc *time.Location) (ParsedEvent, error) {
	ev := ParsedEvent{Source: src}

	ev.UID = propValue(ve, ical.ComponentPropertyUniqueId)
	if ev.UID == "" {
		return ev, errors.New("missing UID")
	}
	if n, err := strconv.Atoi(propValue(ve, ical.ComponentPropertySequence)); err == nil {
		ev.Sequence = n
	}
	ev.Summary = strings.TrimSpace(propValue(ve, ical.ComponentPropertySummary))
	ev.Description = propValue(ve, ical.ComponentPropertyDescription)
	ev.Location = strings.TrimSpace(propValue(ve, ical.ComponentPropertyLocation))
	ev.URL = strings.TrimSpace(propValue(ve, ical.ComponentPropertyUrl))
	ev.Cancelled = strings.EqualFold(propValue(ve, ical.ComponentPropertyStatus), string(ical.ObjectStatusCancelled))

	for _, p := range ve.GetProperties(ical.ComponentPropertyCategories) {
		for _, c := range strings.Split(p.Value, ",") {
			if c = strings.TrimSpace(c); c != "" {
				ev.Categories = append(ev.Categories, c)
			}
		}
	}

	dtstart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtstart == nil {
		return ev, fmt.Errorf("event %s has no DTSTART", ev.UID)
	}
	ev.AllDay = isDateValue(dtstart)

	// DATE values are civil dates and stay at midnight UTC; only timed
	// values are placed in loc.
	var err error
	if ev.AllDay {
		ev.Start, err = parseICSTime(dtstart.Value, loc)
	} else {
		ev.Start, err = ve.GetStartAt()
	}
	if err != nil {
		return ev, fmt.Errorf("event %s DTSTART: %w", ev.UID, err)
	}
	if ev.AllDay {
		ev.Start = civilDay(ev.Start)
	} else {
		ev.Start = floatToLocation(ev.Start, dtstart, loc)
	}

	if dtend := ve.GetProperty(ical.ComponentPropertyDtEnd); dtend != nil {
		if ev.AllDay {
			if end, err := parseICSTime(dtend.Value, loc); err == nil {
				ev.End = civilDay(end)
			}
		} else if end, err := ve.GetEndAt(); err == nil {
			ev.End = floatToLocation(end, dtend, loc)
		}
	}
	if ev.End.IsZero() || ev.End.Before(ev.Start) {
		if ev.AllDay {
			ev.End = ev.Start.AddDate(0, 0, 1)
		} else {
			ev.End = ev.Start
		}
	}

	ev.RRule = propValue(ve, ical.ComponentPropertyRrule)

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			if t, err := parseICSTime(part, paramTZ(p, loc)); err == nil {
				ev.ExDates = append(ev.ExDates, t)
			}
		}
	}

	if rid := ve.GetProperty(ical.ComponentPropertyRecurrenceId); rid != nil {
		if t, err := parseICSTime(rid.Value, paramTZ(rid, loc)); err == nil {
			ev.RecurrenceID = &t
		}
	}
	return ev, nil
}

func propValue(ve *ical.VEvent, p ical.ComponentProperty) string {
	if prop := ve.GetProperty(p); prop != nil {
		return prop.Value
	}
	return ""
}

func isDateValue(p *ical.IANAProperty) bool {
	if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

// floatToLocation moves floating times (no TZID, no Z), which the library
// reads in time.Local, to the same wall clock in loc.
func floatToLocation(t time.Time, p *ical.IANAProperty, loc *time.Location) time.Time {
	if _, ok := p.ICalParameters["TZID"]; ok || strings.HasSuffix(p.Value, "Z") {
		return t
	}
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, loc)
}

func paramTZ(p *ical.IANAProperty, def *time.Location) *time.Location {
	if tz, ok := p.ICalParameters["TZID"]; ok && len(tz) == 1 {
		if loc, err := time.LoadLocation(tz[0]); err == nil {
			return loc
		}
	}
	return def
}

// parseICSTime reads DATE, local DATE-TIME and UTC DATE-TIME forms. DATE
// values are returned as civil dates at midnight UTC, since midnight may
// not exist in loc.
func parseICSTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	switch {
	case v == "":
		return time.Time{}, errors.New("empty time value")
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, loc)
	default:
		return time.Parse("20060102", v)
	}
}
