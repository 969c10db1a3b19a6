// Package store reads and writes event records in the hosted Postgres
// database and relays its change notifications.
package store

import (
	"context"
	"errors"
	"time"

	"sportscal/internal/model"
)

var (
	// ErrInvalidEvent is returned for records rejected before writing.
	ErrInvalidEvent = errors.New("store: invalid event")
)

// Reader is the read side consumed by the calendar: a full snapshot and a
// change subscription.
type Reader interface {
	FetchAll(ctx context.Context) ([]model.EventRecord, error)
	// Subscribe calls onChange after every committed change until ctx is
	// done or the returned function is called.
	Subscribe(ctx context.Context, onChange func()) (unsubscribe func(), err error)
}

// Writer is the side used by ingestion and the digest job.
type Writer interface {
	Upsert(ctx context.Context, source string, events []model.EventRecord) (UpsertResult, error)
	FetchCreatedSince(ctx context.Context, since time.Time) ([]model.EventRecord, error)
	Stats(ctx context.Context, today time.Time) (Stats, error)
}

// Store is implemented by Postgres and Memory.
type Store interface {
	Reader
	Writer
}

// UpsertResult counts what an Upsert did.
type UpsertResult struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
}

// Stats summarizes the table.
type Stats struct {
	Total    int            `json:"total"`
	BySport  map[string]int `json:"by_sport"`
	Upcoming int            `json:"upcoming_7d"`
}

// dedupeKey is the identity used to merge rediscovered events.
func dedupeKey(ev model.EventRecord) string {
	return ev.Name + "\x00" + ev.StartDate + "\x00" + ev.Location
}
