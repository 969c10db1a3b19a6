package ics

import (
	"errors"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	appLog "sportscal/internal/log"
)

const defaultMaxPerEvent = 500

// Occurrence is one dated instance of a feed event.
type Occurrence struct {
	FeedID      string
	UID         string
	Summary     string
	Description string
	Location    string
	URL         string
	Categories  []string
	AllDay      bool
	Start       time.Time
	End         time.Time
}

// Window bounds expansion. Occurrences starting in [From, To] are kept.
type Window struct {
	From time.Time
	To   time.Time
	// MaxPerEvent caps instances per recurring event.
	MaxPerEvent int
}

// Expand turns parsed events into occurrences within w, applying EXDATEs,
// RECURRENCE-ID overrides and cancellations. Output is ordered by start.
func Expand(events []ParsedEvent, w Window) ([]Occurrence, error) {
	if w.To.Before(w.From) {
		return nil, errors.New("ics: window ends before it starts")
	}
	if w.MaxPerEvent <= 0 {
		w.MaxPerEvent = defaultMaxPerEvent
	}

	base := map[string][]ParsedEvent{}
	overrides := map[string][]ParsedEvent{}
	var order []string
	for _, ev := range events {
		if ev.IsOverride() {
			overrides[ev.UID] = append(overrides[ev.UID], ev)
			continue
		}
		if _, seen := base[ev.UID]; !seen {
			order = append(order, ev.UID)
		}
		base[ev.UID] = append(base[ev.UID], ev)
	}

	var out []Occurrence
	for _, uid := range order {
		for _, ev := range base[uid] {
			out = append(out, expandOne(ev, overrides[uid], w)...)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Start.Before(out[j].Start)
	})
	return out, nil
}

func expandOne(ev ParsedEvent, ovs []ParsedEvent, w Window) []Occurrence {
	if ev.AllDay {
		w.From, w.To = civilDay(w.From), civilDay(w.To)
	}
	if ev.RRule == "" {
		if ev.Cancelled || !inWindow(ev.Start, w) {
			return nil
		}
		return []Occurrence{occurrenceOf(ev, ev.Start, ev.End)}
	}

	rule, err := rrule.StrToRRule(ev.RRule)
	if err != nil {
		appLog.Error("feed event has unreadable RRULE", err, "feed", ev.Source.ID, "uid", ev.UID, "rrule", ev.RRule)
		if ev.Cancelled || !inWindow(ev.Start, w) {
			return nil
		}
		return []Occurrence{occurrenceOf(ev, ev.Start, ev.End)}
	}
	rule.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(rule)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	loc := ev.Start.Location()
	starts := set.Between(w.From.In(loc), w.To.In(loc), true)
	if len(starts) > w.MaxPerEvent {
		appLog.Warn("recurrence truncated", "feed", ev.Source.ID, "uid", ev.UID, "cap", w.MaxPerEvent)
		starts = starts[:w.MaxPerEvent]
	}

	dur := ev.End.Sub(ev.Start)
	out := make([]Occurrence, 0, len(starts))
	for _, s := range starts {
		inst, start, end := ev, s, s.Add(dur)
		if ev.AllDay {
			end = s.AddDate(0, 0, daysBetween(ev.Start, ev.End))
		}
		if o, ok := overrideFor(ovs, s); ok {
			inst, start, end = o, o.Start, o.End
		}
		if inst.Cancelled {
			continue
		}
		out = append(out, occurrenceOf(inst, start, end))
	}
	return out
}

func overrideFor(ovs []ParsedEvent, start time.Time) (ParsedEvent, bool) {
	for _, o := range ovs {
		if o.RecurrenceID.Equal(start) {
			return o, true
		}
		// DATE-valued RECURRENCE-IDs match by calendar day.
		if o.AllDay {
			rid := o.RecurrenceID.In(start.Location())
			if rid.Year() == start.Year() && rid.YearDay() == start.YearDay() {
				return o, true
			}
		}
	}
	return ParsedEvent{}, false
}

func occurrenceOf(ev ParsedEvent, start, end time.Time) Occurrence {
	return Occurrence{
		FeedID:      ev.Source.ID,
		UID:         ev.UID,
		Summary:     ev.Summary,
		Description: ev.Description,
		Location:    ev.Location,
		URL:         ev.URL,
		Categories:  ev.Categories,
		AllDay:      ev.AllDay,
		Start:       start,
		End:         end,
	}
}

func inWindow(t time.Time, w Window) bool {
	return !t.Before(w.From) && !t.After(w.To)
}

// civilDay returns t's calendar date, read in t's location, at midnight UTC.
func civilDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// daysBetween counts calendar days from a to b, ignoring DST shifts.
func daysBetween(a, b time.Time) int {
	return int(civilDay(b).Sub(civilDay(a)).Hours() / 24)
}

// Span returns the first and last calendar days the occurrence covers, as
// civil dates at midnight UTC. Timed occurrences are read in loc. All-day
// ends are exclusive; a timed event ending exactly at midnight also ends
// on the previous day.
func (o Occurrence) Span(loc *time.Location) (first, last time.Time) {
	start, end := o.Start, o.End
	if !o.AllDay {
		if loc == nil {
			loc = time.UTC
		}
		start, end = start.In(loc), end.In(loc)
	}
	first = civilDay(start)
	if !end.After(start) {
		return first, first
	}
	last = civilDay(end)
	if o.AllDay || (end.Hour() == 0 && end.Minute() == 0 && end.Second() == 0) {
		last = last.AddDate(0, 0, -1)
	}
	if last.Before(first) {
		return first, first
	}
	return first, last
}
