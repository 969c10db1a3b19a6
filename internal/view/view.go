// Package view projects a filtered event set into month, week, day and list
// layouts. Every projection is recomputed from its inputs; nothing is cached.
package view

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"sportscal/internal/model"
)

// DayCap is the number of events shown per cell in month and week grids.
const DayCap = 2

// Mode is the closed set of view layouts: Month, Week, Day and List.
type Mode interface {
	Name() string
	isMode()
}

type (
	Month struct{}
	Week  struct{}
	Day   struct{}
	List  struct{ Sort ListSort }
)

func (Month) Name() string { return "month" }
func (Week) Name() string  { return "week" }
func (Day) Name() string   { return "day" }
func (List) Name() string  { return "list" }

func (Month) isMode() {}
func (Week) isMode()  {}
func (Day) isMode()   {}
func (List) isMode()  {}

// ParseMode maps a mode name to its Mode. List starts with the default
// sort.
func ParseMode(name string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "month", "":
		return Month{}, nil
	case "week":
		return Week{}, nil
	case "day":
		return Day{}, nil
	case "list":
		return List{Sort: DefaultListSort()}, nil
	}
	return nil, fmt.Errorf("view: unknown mode %q", name)
}

// State is the navigation state owned by the caller. Only Anchor's
// calendar date, read in its own location, is used; grid days are civil
// dates at midnight UTC.
type State struct {
	Mode   Mode
	Anchor time.Time
}

// DayGrouping holds the events starting on one grid day. Events is already
// truncated to DayCap where the layout truncates; Overflow counts the rest.
type DayGrouping struct {
	Date     time.Time           `json:"date"`
	Events   []model.EventRecord `json:"events"`
	Overflow int                 `json:"overflow"`
	// InPeriod is false for leading/trailing cells outside the month.
	InPeriod bool `json:"in_period"`
}

// Projection is the render-ready output for one State.
type Projection struct {
	Mode  string              `json:"mode"`
	Start time.Time           `json:"start"`
	End   time.Time           `json:"end"`
	Days  []DayGrouping       `json:"days,omitempty"`
	List  []model.EventRecord `json:"list,omitempty"`
}

// Project dispatches to the projector for st.Mode. A nil mode projects as
// Month.
func Project(events []model.EventRecord, st State) Projection {
	switch m := st.Mode.(type) {
	case Week:
		return WeekView(events, st.Anchor)
	case Day:
		return DayView(events, st.Anchor)
	case List:
		return ListView(events, m.Sort)
	case Month:
		return MonthView(events, st.Anchor)
	default:
		return MonthView(events, st.Anchor)
	}
}

// MonthView lays out the Sunday-to-Saturday weeks overlapping anchor's
// month. A cell holding more than DayCap events is sorted by name and
// truncated; smaller cells keep input order.
func MonthView(events []model.EventRecord, anchor time.Time) Projection {
	anchor = model.CivilDate(anchor)
	first := time.Date(anchor.Year(), anchor.Month(), 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1)
	gridStart := weekStart(first)
	gridEnd := weekStart(last).AddDate(0, 0, 6)

	byDay := indexByStart(events)
	days := gridDays(gridStart, gridEnd)

	p := Projection{Mode: Month{}.Name(), Start: gridStart, End: gridEnd, Days: make([]DayGrouping, 0, len(days))}
	for _, d := range days {
		evs := byDay[d.Format(model.DateLayout)]
		g := DayGrouping{Date: d, InPeriod: d.Month() == anchor.Month()}
		if len(evs) > DayCap {
			sorted := sortByName(evs)
			g.Events = sorted[:DayCap]
			g.Overflow = len(sorted) - DayCap
		} else {
			g.Events = append([]model.EventRecord{}, evs...)
		}
		p.Days = append(p.Days, g)
	}
	return p
}

// WeekView lays out the seven days from the Sunday on/before anchor. Unlike
// MonthView each day is always sorted by name before truncation.
func WeekView(events []model.EventRecord, anchor time.Time) Projection {
	start := weekStart(anchor)
	end := start.AddDate(0, 0, 6)

	byDay := indexByStart(events)
	days := gridDays(start, end)

	p := Projection{Mode: Week{}.Name(), Start: start, End: end, Days: make([]DayGrouping, 0, len(days))}
	for _, d := range days {
		sorted := sortByName(byDay[d.Format(model.DateLayout)])
		g := DayGrouping{Date: d, InPeriod: true, Events: sorted}
		if len(sorted) > DayCap {
			g.Events = sorted[:DayCap]
			g.Overflow = len(sorted) - DayCap
		}
		p.Days = append(p.Days, g)
	}
	return p
}

// DayView returns every event starting on anchor's date, sorted by name.
func DayView(events []model.EventRecord, anchor time.Time) Projection {
	d := model.CivilDate(anchor)
	byDay := indexByStart(events)
	return Projection{
		Mode:  Day{}.Name(),
		Start: d,
		End:   d,
		Days: []DayGrouping{{
			Date:     d,
			Events:   sortByName(byDay[d.Format(model.DateLayout)]),
			InPeriod: true,
		}},
	}
}

// ListView returns the whole visible set ordered by s.
func ListView(events []model.EventRecord, s ListSort) Projection {
	return Projection{Mode: List{}.Name(), List: SortList(events, s)}
}

func weekStart(t time.Time) time.Time {
	d := model.CivilDate(t)
	return d.AddDate(0, 0, -int(d.Weekday()))
}

// indexByStart groups events by normalized start date, keeping input order
// within a day. Records with unparseable start dates are left out.
func indexByStart(events []model.EventRecord) map[string][]model.EventRecord {
	out := make(map[string][]model.EventRecord)
	for _, ev := range events {
		d, err := model.ParseDate(ev.StartDate)
		if err != nil {
			continue
		}
		key := d.Format(model.DateLayout)
		out[key] = append(out[key], ev)
	}
	return out
}

// sortByName returns a copy of events ordered by case-insensitive name.
func sortByName(events []model.EventRecord) []model.EventRecord {
	out := make([]model.EventRecord, len(events))
	copy(out, events)
	sort.SliceStable(out, func(i, j int) bool {
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out
}
