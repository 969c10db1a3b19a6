// Package export serializes events into iCalendar files and Google Calendar
// links.
package export

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	"sportscal/internal/datefmt"
	appLog "sportscal/internal/log"
	"sportscal/internal/model"
)

const (
	ContentType     = "text/calendar; charset=utf-8"
	BulkFilename    = "sports-events.ics"
	productService  = "sportscal"
	uidDomain       = "sportscal"
	maxFilenameBase = 60
)

var (
	// ErrNoEvents is returned by BulkEventsFile for empty input.
	ErrNoEvents = errors.New("export: no events to export")
	// ErrNoValidEvents is returned when every event failed to serialize.
	ErrNoValidEvents = errors.New("export: no valid events to export")

	uidNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://sportscal/events"))
	slugStrip    = regexp.MustCompile(`[^a-z0-9]+`)

	serialConfig = &ical.SerializationConfiguration{
		MaxLength:         75,
		PropertyMaxLength: 75,
		NewLine:           string(ical.WithNewLineWindows),
	}
)

// ExportError reports why one event could not be exported.
type ExportError struct {
	EventID string
	Name    string
	Reason  string
	Err     error
}

func (e *ExportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("export event %q: %s: %v", e.EventID, e.Reason, e.Err)
	}
	return fmt.Sprintf("export event %q: %s", e.EventID, e.Reason)
}

func (e *ExportError) Unwrap() error { return e.Err }

// FilePayload is a downloadable calendar file.
type FilePayload struct {
	Filename    string
	ContentType string
	Body        []byte
}

// BulkResult describes a multi-event export. Failed lists the events that
// were left out of Payload.
type BulkResult struct {
	Payload  FilePayload
	Exported int
	Failed   []*ExportError
}

// Exporter builds calendar files. Now stamps DTSTAMP and defaults to
// time.Now.
type Exporter struct {
	Now func() time.Time
}

func New() *Exporter {
	return &Exporter{Now: time.Now}
}

var defaultExporter = New()

// SingleEventFile exports one event with the default Exporter.
func SingleEventFile(ev model.EventRecord, timezone string) (FilePayload, error) {
	return defaultExporter.SingleEventFile(ev, timezone)
}

// BulkEventsFile exports events with the default Exporter.
func BulkEventsFile(events []model.EventRecord, timezone string) (BulkResult, error) {
	return defaultExporter.BulkEventsFile(events, timezone)
}

// SingleEventFile returns a one-event calendar. Failures are *ExportError.
func (x *Exporter) SingleEventFile(ev model.EventRecord, timezone string) (FilePayload, error) {
	loc := datefmt.LoadLocation(timezone)
	vev, err := x.buildEvent(ev)
	if err != nil {
		appLog.Error("export: event skipped", err, "event_id", ev.ID, "name", ev.Name, "start_date", ev.StartDate, "end_date", ev.EndDate)
		return FilePayload{}, err
	}

	cal := newCalendar(loc)
	cal.AddVEvent(vev)

	var b strings.Builder
	if err := cal.SerializeTo(&b, serialConfig); err != nil {
		xerr := &ExportError{EventID: ev.ID, Name: ev.Name, Reason: "serialize calendar", Err: err}
		appLog.Error("export: calendar serialization failed", xerr, "event_id", ev.ID)
		return FilePayload{}, xerr
	}

	return FilePayload{
		Filename:    filenameFor(ev),
		ContentType: ContentType,
		Body:        []byte(b.String()),
	}, nil
}

// BulkEventsFile returns one calendar holding every event that serializes
// cleanly. Events that fail are logged and omitted; they never leave
// partial lines in the document. ErrNoEvents and ErrNoValidEvents mark the
// two empty outcomes.
func (x *Exporter) BulkEventsFile(events []model.EventRecord, timezone string) (BulkResult, error) {
	var res BulkResult
	if len(events) == 0 {
		return res, ErrNoEvents
	}

	loc := datefmt.LoadLocation(timezone)
	cal := newCalendar(loc)

	for _, ev := range events {
		vev, err := x.buildEvent(ev)
		if err != nil {
			var xerr *ExportError
			if !errors.As(err, &xerr) {
				xerr = &ExportError{EventID: ev.ID, Name: ev.Name, Reason: "build", Err: err}
			}
			appLog.Error("export: event skipped in bulk export", err, "event_id", ev.ID, "name", ev.Name)
			res.Failed = append(res.Failed, xerr)
			continue
		}
		cal.AddVEvent(vev)
		res.Exported++
	}

	if res.Exported == 0 {
		return res, ErrNoValidEvents
	}

	var b strings.Builder
	if err := cal.SerializeTo(&b, serialConfig); err != nil {
		return res, fmt.Errorf("export: serialize calendar: %w", err)
	}

	res.Payload = FilePayload{
		Filename:    BulkFilename,
		ContentType: ContentType,
		Body:        []byte(b.String()),
	}
	appLog.Info("export: bulk calendar built", "exported", res.Exported, "failed", len(res.Failed))
	return res, nil
}

func newCalendar(loc *time.Location) *ical.Calendar {
	cal := ical.NewCalendarFor(productService)
	cal.SetMethod(ical.MethodPublish)
	cal.SetCalscale("GREGORIAN")
	cal.SetXWRTimezone(loc.String())
	return cal
}

// buildEvent converts ev into a VEVENT and serializes it once on its own,
// so an event that cannot be written is rejected before it reaches a
// shared calendar.
func (x *Exporter) buildEvent(ev model.EventRecord) (*ical.VEvent, error) {
	fail := func(reason string, err error) (*ical.VEvent, error) {
		return nil, &ExportError{EventID: ev.ID, Name: ev.Name, Reason: reason, Err: err}
	}

	name := strings.TrimSpace(ev.Name)
	if name == "" {
		return fail("missing name", nil)
	}
	start, last, err := spanOf(ev)
	if err != nil {
		return fail("invalid dates", err)
	}

	now := time.Now
	if x.Now != nil {
		now = x.Now
	}

	vev := ical.NewEvent(eventUID(ev))
	vev.SetDtStampTime(now())
	vev.SetSummary(name)
	vev.SetDescription(Description(ev))
	if !model.IsPlaceholder(ev.Location) {
		vev.SetLocation(strings.TrimSpace(ev.Location))
	}
	vev.SetAllDayStartAt(start)
	vev.SetAllDayEndAt(last.AddDate(0, 0, 1))
	vev.SetStatus(ical.ObjectStatusConfirmed)
	vev.SetTimeTransparency(ical.TransparencyTransparent)
	if model.IsValidExternalWebsite(ev.Website) {
		vev.SetURL(strings.TrimSpace(ev.Website))
	}
	if !model.IsPlaceholder(ev.Sport) {
		vev.SetProperty(ical.ComponentPropertyCategories, strings.TrimSpace(ev.Sport))
	}

	var scratch strings.Builder
	if err := vev.SerializeTo(&scratch, serialConfig); err != nil {
		return fail("serialize event", err)
	}
	return vev, nil
}

// spanOf returns the first and last (inclusive) civil dates of ev.
func spanOf(ev model.EventRecord) (time.Time, time.Time, error) {
	start, err := model.ParseDate(ev.StartDate)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("start date %q: %w", ev.StartDate, err)
	}
	last, err := model.ParseDate(ev.LastDate())
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("end date %q: %w", ev.EndDate, err)
	}
	if last.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("end date %s before start date %s", ev.EndDate, ev.StartDate)
	}
	return start, last, nil
}

// Description is the event body shared by calendar files and links.
func Description(ev model.EventRecord) string {
	lines := []string{
		"Sport: " + model.DisplayValue(ev.Sport),
		"Age: " + model.DisplayAge(ev.Age),
		"Gender: " + model.DisplayGender(ev.Gender),
		"Type: " + model.DisplayEventType(ev.EventType),
	}
	if model.IsValidExternalWebsite(ev.Website) {
		lines = append(lines, "Website: "+strings.TrimSpace(ev.Website))
	}
	return strings.Join(lines, "\n")
}

func eventUID(ev model.EventRecord) string {
	id := strings.TrimSpace(ev.ID)
	if id == "" {
		id = uuid.NewSHA1(uidNamespace, []byte(ev.Name+"|"+ev.StartDate+"|"+ev.Location)).String()
	}
	return id + "@" + uidDomain
}

func filenameFor(ev model.EventRecord) string {
	base := strings.Trim(slugStrip.ReplaceAllString(strings.ToLower(ev.Name), "-"), "-")
	if len(base) > maxFilenameBase {
		base = strings.TrimRight(base[:maxFilenameBase], "-")
	}
	if base == "" {
		base = "event"
	}
	return base + ".ics"
}
