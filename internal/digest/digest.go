// Package digest sends the daily email listing events added to the
// calendar since the previous run.
package digest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"sportscal/internal/datefmt"
	appLog "sportscal/internal/log"
	"sportscal/internal/metrics"
	"sportscal/internal/model"
)

const rule = "============================================================"

// Source supplies recently created events.
type Source interface {
	FetchCreatedSince(ctx context.Context, since time.Time) ([]model.EventRecord, error)
}

// Sender delivers one plain-text message.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Message is a composed digest.
type Message struct {
	Subject string
	Body    string
	Count   int
}

// Digest composes and sends the daily summary.
type Digest struct {
	Source      Source
	Sender      Sender
	Metrics     *metrics.Metrics
	Recipient   string
	CalendarURL string
	Timezone    string
	Lookback    time.Duration
	Now         func() time.Time
}

// Run fetches events created within the lookback window and mails them.
// A window with no new events still sends the "no new events" message.
func (d *Digest) Run(ctx context.Context) (Message, error) {
	now := time.Now
	if d.Now != nil {
		now = d.Now
	}
	lookback := d.Lookback
	if lookback <= 0 {
		lookback = 24 * time.Hour
	}
	since := now().Add(-lookback)

	events, err := d.Source.FetchCreatedSince(ctx, since)
	if err != nil {
		d.Metrics.ObserveDigest("error")
		return Message{}, fmt.Errorf("digest: fetch new events: %w", err)
	}
	appLog.Info("digest collected new events", "count", len(events), "since", since.Format(time.RFC3339))

	msg := Compose(events, lookback, d.CalendarURL, d.Timezone)
	if err := d.Sender.Send(ctx, d.Recipient, msg.Subject, msg.Body); err != nil {
		d.Metrics.ObserveDigest("error")
		return msg, fmt.Errorf("digest: send: %w", err)
	}

	status := "sent"
	if msg.Count == 0 {
		status = "empty"
	}
	d.Metrics.ObserveDigest(status)
	appLog.Info("digest sent", "recipient", d.Recipient, "events", msg.Count)
	return msg, nil
}

// Compose builds the subject and body for events.
func Compose(events []model.EventRecord, lookback time.Duration, calendarURL, timezone string) Message {
	window := describeWindow(lookback)
	if len(events) == 0 {
		return Message{
			Subject: "Daily Sports Events Update - No New Events",
			Body: "Hello!\n\n" +
				"No new sports events were added to the calendar in the " + window + ".\n\n" +
				"Your calendar is up to date!\n\n" +
				"Best regards,\nSports Events Calendar\n",
		}
	}

	n := len(events)
	var b strings.Builder
	fmt.Fprintf(&b, "Hello!\n\nHere are the %d new sports %s added to your calendar in the %s:\n\n", n, plural(n, "event"), window)
	b.WriteString(rule + "\n\n")
	for i, ev := range events {
		fmt.Fprintf(&b, "%d. %s\n\n", i+1, formatEvent(ev, timezone))
	}
	b.WriteString(rule + "\n\n")
	fmt.Fprintf(&b, "Total new events: %d\n\n", n)
	if calendarURL != "" {
		fmt.Fprintf(&b, "View your full calendar at: %s\n\n", calendarURL)
	}
	b.WriteString("Best regards,\nSports Events Calendar\n")

	return Message{
		Subject: fmt.Sprintf("Daily Sports Events Update - %d New %s", n, plural(n, "Event")),
		Body:    b.String(),
		Count:   n,
	}
}

func formatEvent(ev model.EventRecord, timezone string) string {
	name := strings.TrimSpace(ev.Name)
	if name == "" {
		name = "Unnamed Event"
	}
	lines := []string{
		name,
		"   Date: " + datefmt.FormatEventDateDisplay(ev.StartDate, ev.EndDate, timezone),
		"   Location: " + model.DisplayValue(ev.Location, "Location TBD"),
		"   Sport: " + model.DisplayValue(ev.Sport, "Sport TBD"),
		"   Who: " + model.DisplayValue(ev.Gender, "All") + " | " + model.DisplayValue(ev.Age, "All Ages"),
	}
	if !model.IsPlaceholder(ev.EventType) {
		lines = append(lines, "   Type: "+strings.TrimSpace(ev.EventType))
	}
	if model.IsValidExternalWebsite(ev.Website) {
		lines = append(lines, "   Website: "+ev.Website)
	}
	return strings.Join(lines, "\n")
}

func describeWindow(d time.Duration) string {
	h := int(d.Hours())
	if h == 1 {
		return "last hour"
	}
	return fmt.Sprintf("last %d hours", h)
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}
