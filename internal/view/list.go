package view

import (
	"fmt"
	"sort"
	"strings"

	"sportscal/internal/model"
)

// SortField is a column the list view can be ordered by.
type SortField string

const (
	SortStartDate SortField = "start_date"
	SortName      SortField = "name"
	SortSport     SortField = "sport"
	SortLocation  SortField = "location"
	SortAge       SortField = "age"
	SortGender    SortField = "gender"
	SortEventType SortField = "event_type"
)

type SortDir string

const (
	Asc  SortDir = "asc"
	Desc SortDir = "desc"
)

// ListSort is the list view's current ordering.
type ListSort struct {
	Field SortField `json:"field"`
	Dir   SortDir   `json:"dir"`
}

func DefaultListSort() ListSort {
	return ListSort{Field: SortStartDate, Dir: Asc}
}

// Toggle returns the ordering after the user selects field: the same
// field flips direction, a new field starts ascending.
func (s ListSort) Toggle(field SortField) ListSort {
	if s.Field == field {
		if s.Dir == Asc {
			return ListSort{Field: field, Dir: Desc}
		}
		return ListSort{Field: field, Dir: Asc}
	}
	return ListSort{Field: field, Dir: Asc}
}

// ParseListSort validates a field and direction taken from a request.
// Empty values fall back to the default ordering.
func ParseListSort(field, dir string) (ListSort, error) {
	s := DefaultListSort()
	if field != "" {
		f := SortField(strings.ToLower(field))
		switch f {
		case SortStartDate, SortName, SortSport, SortLocation, SortAge, SortGender, SortEventType:
			s.Field = f
		default:
			return s, fmt.Errorf("view: unknown sort field %q", field)
		}
	}
	switch strings.ToLower(dir) {
	case "", string(Asc):
		s.Dir = Asc
	case string(Desc):
		s.Dir = Desc
	default:
		return s, fmt.Errorf("view: unknown sort direction %q", dir)
	}
	return s, nil
}

// SortList returns a sorted copy of events. Ties keep input order.
func SortList(events []model.EventRecord, s ListSort) []model.EventRecord {
	out := make([]model.EventRecord, len(events))
	copy(out, events)

	cmp := compareBy(s.Field)
	sort.SliceStable(out, func(i, j int) bool {
		c := cmp(out[i], out[j])
		if s.Dir == Desc {
			return c > 0
		}
		return c < 0
	})
	return out
}

func compareBy(field SortField) func(a, b model.EventRecord) int {
	if field == SortStartDate || field == "" {
		return func(a, b model.EventRecord) int {
			return compareDates(a.StartDate, b.StartDate)
		}
	}
	get := textField(field)
	return func(a, b model.EventRecord) int {
		return strings.Compare(strings.ToLower(get(a)), strings.ToLower(get(b)))
	}
}

func textField(field SortField) func(model.EventRecord) string {
	switch field {
	case SortSport:
		return func(e model.EventRecord) string { return e.Sport }
	case SortLocation:
		return func(e model.EventRecord) string { return e.Location }
	case SortAge:
		return func(e model.EventRecord) string { return e.Age }
	case SortGender:
		return func(e model.EventRecord) string { return e.Gender }
	case SortEventType:
		return func(e model.EventRecord) string { return e.EventType }
	default:
		return func(e model.EventRecord) string { return e.Name }
	}
}

// compareDates orders unparseable dates before all valid ones, as an empty
// string would sort.
func compareDates(a, b string) int {
	ta, errA := model.ParseDate(a)
	tb, errB := model.ParseDate(b)
	switch {
	case errA != nil && errB != nil:
		return 0
	case errA != nil:
		return -1
	case errB != nil:
		return 1
	}
	return ta.Compare(tb)
}
