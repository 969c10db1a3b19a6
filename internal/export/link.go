package export

import (
	"net/url"
	"strings"

	"sportscal/internal/datefmt"
	appLog "sportscal/internal/log"
	"sportscal/internal/model"
)

const (
	calendarServiceBase = "https://calendar.google.com/calendar/render"
	linkDateLayout      = "20060102"

	// PlaceholderLink is returned when no link can be built.
	PlaceholderLink = "#"
)

// CalendarServiceLink returns a Google Calendar "add event" URL for ev as an
// all-day span with an exclusive end date. It never fails; on bad input it
// logs and returns PlaceholderLink.
func CalendarServiceLink(ev model.EventRecord, timezone string) string {
	start, last, err := spanOf(ev)
	if err != nil {
		appLog.Error("export: calendar link unavailable", err, "event_id", ev.ID, "name", ev.Name)
		return PlaceholderLink
	}

	dates := start.Format(linkDateLayout) + "/" + last.AddDate(0, 0, 1).Format(linkDateLayout)

	var b strings.Builder
	b.WriteString(calendarServiceBase)
	b.WriteString("?action=TEMPLATE")
	b.WriteString("&text=" + escape(strings.TrimSpace(ev.Name)))
	b.WriteString("&dates=" + dates)
	b.WriteString("&details=" + escape(Description(ev)))
	b.WriteString("&location=" + escape(model.DisplayValue(ev.Location, "")))
	if timezone != "" {
		b.WriteString("&ctz=" + escape(datefmt.LoadLocation(timezone).String()))
	}
	return b.String()
}

// escape matches encodeURIComponent closely enough for query values:
// spaces become %20 rather than '+'.
func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
