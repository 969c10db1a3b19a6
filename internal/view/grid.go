package view

import (
	"time"

	"github.com/teambition/rrule-go"

	appLog "sportscal/internal/log"
)

// gridDays returns every midnight from start to end inclusive, both in
// start's location.
func gridDays(start, end time.Time) []time.Time {
	r, err := rrule.NewRRule(rrule.ROption{
		Freq:    rrule.DAILY,
		Dtstart: start,
		Until:   end,
	})
	if err != nil {
		appLog.Error("view: daily rule failed; stepping manually", err, "start", start, "end", end)
		return stepDays(start, end)
	}
	return r.All()
}

func stepDays(start, end time.Time) []time.Time {
	var out []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		out = append(out, d)
	}
	return out
}
