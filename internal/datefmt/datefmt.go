// Package datefmt renders stored event dates for display in a chosen IANA
// timezone.
package datefmt

import (
	"fmt"
	"strings"
	"time"

	appLog "sportscal/internal/log"
	"sportscal/internal/model"
)

const (
	singleLayout     = "Monday, Jan 2, 2006"
	rangeStartLayout = "Mon, Jan 2"
	rangeEndLayout   = "Mon, Jan 2, 2006"

	// rangeSeparator is an en dash padded with spaces.
	rangeSeparator = " – "
)

// LoadLocation resolves an IANA name, falling back to UTC (and logging)
// when the name is empty or unknown.
func LoadLocation(name string) *time.Location {
	name = strings.TrimSpace(name)
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		appLog.Error("datefmt: unknown timezone; using UTC", err, "timezone", name)
		return time.UTC
	}
	return loc
}

// FormatRange formats start (and end, when it falls on a later day) as a
// display string. Both values are civil dates.
func FormatRange(start, end string) (string, error) {
	s, err := model.ParseDate(start)
	if err != nil {
		return "", fmt.Errorf("datefmt: start date %q: %w", start, err)
	}
	if strings.TrimSpace(end) == "" {
		return s.Format(singleLayout), nil
	}
	e, err := model.ParseDate(end)
	if err != nil {
		return "", fmt.Errorf("datefmt: end date %q: %w", end, err)
	}
	if model.SameDay(s, e) {
		return s.Format(singleLayout), nil
	}
	return s.Format(rangeStartLayout) + rangeSeparator + e.Format(rangeEndLayout), nil
}

// FormatEventDateDisplay is the fail-soft form of FormatRange: on malformed
// input it logs and returns start unchanged. Stored dates are civil, so the
// viewer's timezone never changes the rendered day; it is only logged.
func FormatEventDateDisplay(start, end, timezone string) string {
	out, err := FormatRange(start, end)
	if err != nil {
		appLog.Warn("datefmt: returning raw date", "start", start, "end", end, "timezone", timezone, "err", err.Error())
		return start
	}
	return out
}
