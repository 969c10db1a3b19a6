package datefmt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatEventDateDisplay(t *testing.T) {
	const tz = "America/New_York"
	tests := []struct {
		name       string
		start, end string
		want       string
	}{
		{name: "same day", start: "2024-03-15", end: "2024-03-15", want: "Friday, Mar 15, 2024"},
		{name: "no end", start: "2024-03-15", want: "Friday, Mar 15, 2024"},
		{name: "range", start: "2024-03-15", end: "2024-03-17", want: "Fri, Mar 15 – Sun, Mar 17, 2024"},
		{name: "range across year", start: "2024-12-30", end: "2025-01-02", want: "Mon, Dec 30 – Thu, Jan 2, 2025"},
		{name: "malformed start", start: "March 15", end: "2024-03-17", want: "March 15"},
		{name: "malformed end", start: "2024-03-15", end: "soon", want: "2024-03-15"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, FormatEventDateDisplay(tc.start, tc.end, tz))
		})
	}
}

func TestDateIsCivilInAnyZone(t *testing.T) {
	for _, tz := range []string{"Pacific/Kiritimati", "Pacific/Pago_Pago", "UTC", ""} {
		assert.Equal(t, "Friday, Mar 15, 2024", FormatEventDateDisplay("2024-03-15", "", tz), tz)
	}

	// Zones whose DST gap starts at midnight, so 00:00 does not exist.
	assert.Equal(t, "Sunday, Sep 8, 2024", FormatEventDateDisplay("2024-09-08", "2024-09-08", "America/Santiago"))
	assert.Equal(t, "Sat, Sep 7 – Sun, Sep 8, 2024", FormatEventDateDisplay("2024-09-07", "2024-09-08", "America/Santiago"))
	assert.Equal(t, "Sunday, Nov 4, 2018", FormatEventDateDisplay("2018-11-04", "", "America/Sao_Paulo"))
	assert.Equal(t, "Sunday, Oct 15, 2017", FormatEventDateDisplay("2017-10-15", "", "America/Sao_Paulo"))
}

func TestFormatRangeReportsErrors(t *testing.T) {
	_, err := FormatRange("", "")
	require.Error(t, err)

	out, err := FormatRange("2024-03-15", "2024-03-16")
	require.NoError(t, err)
	assert.Equal(t, "Fri, Mar 15 – Sat, Mar 16, 2024", out)
}

func TestLoadLocationFallsBack(t *testing.T) {
	assert.Equal(t, time.UTC, LoadLocation("Mars/Olympus_Mons"))
	assert.Equal(t, "America/Chicago", LoadLocation("America/Chicago").String())
}
