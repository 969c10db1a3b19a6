// Package filter derives the visible event set from search text, field
// filters and a date range.
package filter

import (
	"strings"

	"sportscal/internal/model"
)

// Events returns the events that pass query and criteria, preserving input
// order. Only an empty query is unconstrained; any other query, spaces
// included, is matched as given. It never fails: a record whose start date
// cannot be parsed simply does not satisfy a date bound.
func Events(events []model.EventRecord, query string, criteria model.FilterCriteria) []model.EventRecord {
	q := strings.ToLower(query)
	loc := strings.ToLower(strings.TrimSpace(criteria.Location))

	out := make([]model.EventRecord, 0, len(events))
	for _, ev := range events {
		if q != "" && !matchesQuery(ev, q) {
			continue
		}
		if criteria.Sport != "" && ev.Sport != criteria.Sport {
			continue
		}
		if loc != "" && !strings.Contains(strings.ToLower(ev.Location), loc) {
			continue
		}
		if criteria.Age != "" && ev.Age != criteria.Age {
			continue
		}
		if criteria.Gender != "" && ev.Gender != criteria.Gender {
			continue
		}
		if criteria.EventType != "" && ev.EventType != criteria.EventType {
			continue
		}
		if !inRange(ev.StartDate, criteria.DateRange) {
			continue
		}
		out = append(out, ev)
	}
	return out
}

func matchesQuery(ev model.EventRecord, q string) bool {
	return strings.Contains(strings.ToLower(ev.Name), q) ||
		strings.Contains(strings.ToLower(ev.Location), q) ||
		strings.Contains(strings.ToLower(ev.Sport), q)
}

// inRange compares calendar dates only; the bounds' clock time and zone
// are ignored beyond selecting their date.
func inRange(startDate string, r model.DateRange) bool {
	if r.IsZero() {
		return true
	}
	start, err := model.ParseDate(startDate)
	if err != nil {
		return false
	}
	if r.Start != nil && start.Before(model.CivilDate(*r.Start)) {
		return false
	}
	if r.End != nil && start.After(model.CivilDate(*r.End)) {
		return false
	}
	return true
}

// Options lists the distinct non-placeholder values of each filterable
// field, for populating filter dropdowns.
type Options struct {
	Sports     []string `json:"sports"`
	Ages       []string `json:"ages"`
	Genders    []string `json:"genders"`
	EventTypes []string `json:"event_types"`
}

// CollectOptions gathers distinct field values in first-seen order.
func CollectOptions(events []model.EventRecord) Options {
	var o Options
	seen := map[string]map[string]bool{}
	add := func(field string, dst *[]string, v string) {
		if model.IsPlaceholder(v) {
			return
		}
		if seen[field] == nil {
			seen[field] = map[string]bool{}
		}
		if seen[field][v] {
			return
		}
		seen[field][v] = true
		*dst = append(*dst, v)
	}
	for _, ev := range events {
		add("sport", &o.Sports, ev.Sport)
		add("age", &o.Ages, ev.Age)
		add("gender", &o.Genders, ev.Gender)
		add("event_type", &o.EventTypes, ev.EventType)
	}
	return o
}
