package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sportscal/internal/config"
	"sportscal/internal/ics"
	"sportscal/internal/model"
	"sportscal/internal/store"
)

const leagueFeed = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//League//Schedule//EN
BEGIN:VEVENT
UID:cup-1
DTSTAMP:20240101T000000Z
SUMMARY:Spring Cup
LOCATION:Austin\, TX
DTSTART;VALUE=DATE:20240315
DTEND;VALUE=DATE:20240318
URL:https://example.org/cup
END:VEVENT
BEGIN:VEVENT
UID:cup-1-mirror
DTSTAMP:20240101T000000Z
SUMMARY:Spring Cup
LOCATION:Austin\, TX
DTSTART;VALUE=DATE:20240315
DTEND;VALUE=DATE:20240318
END:VEVENT
BEGIN:VEVENT
UID:practice
DTSTAMP:20240101T000000Z
SUMMARY:Practice
DTSTART;TZID=America/Chicago:20240305T180000
DTEND;TZID=America/Chicago:20240305T193000
RRULE:FREQ=WEEKLY;COUNT=3
URL:http://localhost:8080/practice
END:VEVENT
BEGIN:VEVENT
UID:untitled
DTSTAMP:20240101T000000Z
DTSTART;VALUE=DATE:20240401
END:VEVENT
END:VCALENDAR
`

type fakeFetcher struct {
	bodies map[string]string
}

func (f fakeFetcher) Fetch(ctx context.Context, src ics.Source) (ics.FetchResult, error) {
	body, ok := f.bodies[src.URL]
	if !ok {
		return ics.FetchResult{}, errors.New("404 Not Found")
	}
	return ics.FetchResult{Source: src, Body: []byte(strings.ReplaceAll(body, "\n", "\r\n"))}, nil
}

func newIngester(t *testing.T, mem *store.Memory, feeds ...config.FeedConfig) *Ingester {
	t.Helper()
	loc, err := time.LoadLocation("America/Chicago")
	require.NoError(t, err)
	return &Ingester{
		Feeds:       feeds,
		Fetcher:     fakeFetcher{bodies: map[string]string{"https://league.example.org/feed.ics": leagueFeed}},
		Writer:      mem,
		Location:    loc,
		HorizonDays: 60,
		Now:         func() time.Time { return time.Date(2024, 3, 1, 7, 0, 0, 0, loc) },
	}
}

var leagueCfg = config.FeedConfig{
	ID:        "league",
	URL:       "https://league.example.org/feed.ics",
	Sport:     "Soccer",
	Age:       "U12",
	Gender:    "Girls",
	EventType: "Tournament",
}

func TestRunImportsFeed(t *testing.T) {
	mem := store.NewMemory()
	in := newIngester(t, mem, leagueCfg)

	reports, err := in.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, reports, 1)
	rep := reports[0]
	assert.Equal(t, 6, rep.Fetched)
	assert.Equal(t, 1, rep.Invalid)
	assert.Equal(t, 1, rep.Duplicates)
	assert.Equal(t, 4, rep.Inserted)
	assert.Zero(t, rep.Updated)

	all, err := mem.FetchAll(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 4)

	byName := map[string][]model.EventRecord{}
	for _, ev := range all {
		byName[ev.Name] = append(byName[ev.Name], ev)
	}
	cup := byName["Spring Cup"][0]
	assert.Equal(t, "2024-03-15", cup.StartDate)
	assert.Equal(t, "2024-03-17", cup.EndDate)
	assert.Equal(t, "Austin, TX", cup.Location)
	assert.Equal(t, "Soccer", cup.Sport)
	assert.Equal(t, "U12", cup.Age)
	assert.Equal(t, "https://example.org/cup", cup.Website)

	require.Len(t, byName["Practice"], 3)
	for _, p := range byName["Practice"] {
		assert.Empty(t, p.EndDate)
		assert.Empty(t, p.Website)
	}

	// A second run updates in place.
	reports, err = in.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, reports[0].Inserted)
	assert.Equal(t, 4, reports[0].Updated)
}

func TestRunContinuesPastFailingFeed(t *testing.T) {
	mem := store.NewMemory()
	broken := config.FeedConfig{ID: "broken", URL: "https://nowhere.example.org/x.ics", Sport: "Soccer"}
	in := newIngester(t, mem, broken, leagueCfg)

	reports, err := in.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "feed broken")
	require.Len(t, reports, 2)
	assert.Error(t, reports[0].Err)
	assert.Equal(t, 4, reports[1].Inserted)
}

func TestToRecordIsDeterministic(t *testing.T) {
	loc := time.UTC
	o := ics.Occurrence{
		UID:     "x",
		Summary: "  Fall Classic ",
		AllDay:  true,
		Start:   time.Date(2024, 10, 5, 0, 0, 0, 0, loc),
		End:     time.Date(2024, 10, 6, 0, 0, 0, 0, loc),
	}
	feed := config.FeedConfig{ID: "f", Sport: "Lacrosse", Location: "Denver, CO"}

	a := ToRecord(feed, o, loc)
	b := ToRecord(feed, o, loc)
	assert.Equal(t, a.ID, b.ID)
	assert.Equal(t, "Fall Classic", a.Name)
	assert.Equal(t, "Denver, CO", a.Location)
	assert.Equal(t, "2024-10-05", a.StartDate)
	assert.Empty(t, a.EndDate)

	o.Start = o.Start.AddDate(0, 0, 7)
	o.End = o.End.AddDate(0, 0, 7)
	assert.NotEqual(t, a.ID, ToRecord(feed, o, loc).ID)
}

func TestToRecordKeepsAllDayDateInAnyZone(t *testing.T) {
	o := ics.Occurrence{
		UID:     "final",
		Summary: "Final",
		AllDay:  true,
		Start:   time.Date(2024, 9, 8, 0, 0, 0, 0, time.UTC),
		End:     time.Date(2024, 9, 10, 0, 0, 0, 0, time.UTC),
	}
	feed := config.FeedConfig{ID: "f", Sport: "Soccer"}
	for _, name := range []string{"America/Santiago", "America/Chicago", "Pacific/Kiritimati"} {
		loc, err := time.LoadLocation(name)
		require.NoError(t, err)
		rec := ToRecord(feed, o, loc)
		assert.Equal(t, "2024-09-08", rec.StartDate, name)
		assert.Equal(t, "2024-09-09", rec.EndDate, name)
	}
}
