package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	appLog "sportscal/internal/log"
	"sportscal/internal/model"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const selectColumns = `
	id::text AS id,
	name,
	sport,
	to_char(start_date, 'YYYY-MM-DD') AS start_date,
	COALESCE(to_char(end_date, 'YYYY-MM-DD'), '') AS end_date,
	location,
	age,
	gender,
	event_type,
	website,
	created_at`

// Postgres is the events table in the hosted database.
type Postgres struct {
	db      *sqlx.DB
	dsn     string
	channel string

	// MinReconnect/MaxReconnect bound the LISTEN connection's backoff.
	MinReconnect time.Duration
	MaxReconnect time.Duration
}

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn, channel string) (*Postgres, error) {
	if dsn == "" {
		return nil, errors.New("store: database url is empty")
	}
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	p := NewPostgres(db, channel)
	p.dsn = dsn
	return p, nil
}

// NewPostgres wraps an existing handle. Subscribe needs the DSN and only
// works on stores created by Open.
func NewPostgres(db *sqlx.DB, channel string) *Postgres {
	return &Postgres{
		db:           db,
		channel:      channel,
		MinReconnect: 10 * time.Second,
		MaxReconnect: time.Minute,
	}
}

func (p *Postgres) Close() error {
	return p.db.Close()
}

// Migrate applies the embedded schema migrations.
func (p *Postgres) Migrate() error {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("store: migration source: %w", err)
	}
	driver, err := migratepg.WithInstance(p.db.DB, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("store: migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("store: migration instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("store: migrate up: %w", err)
	}
	version, dirty, _ := m.Version()
	appLog.Info("store migrations applied", "version", version, "dirty", dirty)
	return nil
}

// FetchAll returns every event ordered by start date then name.
func (p *Postgres) FetchAll(ctx context.Context) ([]model.EventRecord, error) {
	var out []model.EventRecord
	q := `SELECT` + selectColumns + ` FROM events ORDER BY start_date, name`
	if err := p.db.SelectContext(ctx, &out, q); err != nil {
		return nil, fmt.Errorf("store: fetch all: %w", err)
	}
	return out, nil
}

// FetchCreatedSince returns events created at or after since, newest first.
func (p *Postgres) FetchCreatedSince(ctx context.Context, since time.Time) ([]model.EventRecord, error) {
	var out []model.EventRecord
	q := `SELECT` + selectColumns + ` FROM events WHERE created_at >= $1 ORDER BY created_at DESC`
	if err := p.db.SelectContext(ctx, &out, q, since); err != nil {
		return nil, fmt.Errorf("store: fetch created since: %w", err)
	}
	return out, nil
}

const upsertQuery = `
	INSERT INTO events (id, name, sport, start_date, end_date, location, age, gender, event_type, website, source)
	VALUES ($1, $2, $3, $4::date, NULLIF($5, '')::date, $6, $7, $8, $9, $10, $11)
	ON CONFLICT (name, start_date, location) DO UPDATE SET
		sport = EXCLUDED.sport,
		end_date = EXCLUDED.end_date,
		age = EXCLUDED.age,
		gender = EXCLUDED.gender,
		event_type = EXCLUDED.event_type,
		website = EXCLUDED.website,
		source = EXCLUDED.source,
		updated_at = now()
	RETURNING (xmax = 0) AS inserted`

// Upsert writes events in one transaction. Rows matching an existing
// (name, start_date, location) are updated in place.
func (p *Postgres) Upsert(ctx context.Context, source string, events []model.EventRecord) (UpsertResult, error) {
	var res UpsertResult
	for _, ev := range events {
		if err := Validate(ev); err != nil {
			return res, err
		}
	}

	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("store: begin tx: %w", err)
	}
	defer func() {
		if tx != nil {
			_ = tx.Rollback()
		}
	}()

	for _, ev := range events {
		var inserted bool
		err := tx.QueryRowxContext(ctx, upsertQuery,
			ev.ID, strings.TrimSpace(ev.Name), ev.Sport, ev.StartDate, ev.EndDate,
			ev.Location, ev.Age, ev.Gender, ev.EventType, ev.Website, source,
		).Scan(&inserted)
		if err != nil {
			return UpsertResult{}, fmt.Errorf("store: upsert %q: %w", ev.Name, describePQ(err))
		}
		if inserted {
			res.Inserted++
		} else {
			res.Updated++
		}
	}

	if err := tx.Commit(); err != nil {
		return UpsertResult{}, fmt.Errorf("store: commit: %w", err)
	}
	tx = nil
	return res, nil
}

// Stats counts all events, events per sport, and events starting within
// seven days of today.
func (p *Postgres) Stats(ctx context.Context, today time.Time) (Stats, error) {
	st := Stats{BySport: map[string]int{}}

	if err := p.db.GetContext(ctx, &st.Total, `SELECT count(*) FROM events`); err != nil {
		return st, fmt.Errorf("store: count: %w", err)
	}

	var rows []struct {
		Sport string `db:"sport"`
		Count int    `db:"count"`
	}
	err := p.db.SelectContext(ctx, &rows, `
		SELECT COALESCE(NULLIF(sport, ''), 'Unknown') AS sport, count(*) AS count
		FROM events
		GROUP BY 1`)
	if err != nil {
		return st, fmt.Errorf("store: count by sport: %w", err)
	}
	for _, r := range rows {
		st.BySport[r.Sport] = r.Count
	}

	day := model.CivilDate(today)
	from := day.Format(model.DateLayout)
	to := day.AddDate(0, 0, 7).Format(model.DateLayout)
	err = p.db.GetContext(ctx, &st.Upcoming, `
		SELECT count(*) FROM events
		WHERE start_date >= $1::date AND start_date < $2::date`, from, to)
	if err != nil {
		return st, fmt.Errorf("store: count upcoming: %w", err)
	}
	return st, nil
}

// Subscribe opens a dedicated LISTEN connection on the notify channel.
// A reconnect also triggers onChange, since notifications sent while the
// connection was down are lost.
func (p *Postgres) Subscribe(ctx context.Context, onChange func()) (func(), error) {
	if p.dsn == "" {
		return nil, errors.New("store: subscribe requires a store opened with a DSN")
	}

	l := pq.NewListener(p.dsn, p.MinReconnect, p.MaxReconnect, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnectionAttemptFailed, pq.ListenerEventDisconnected:
			appLog.Error("store listener connection problem", err, "channel", p.channel)
		case pq.ListenerEventReconnected:
			appLog.Info("store listener reconnected", "channel", p.channel)
		}
	})
	if err := l.Listen(p.channel); err != nil {
		_ = l.Close()
		return nil, fmt.Errorf("store: listen %s: %w", p.channel, err)
	}
	appLog.Info("store listening for changes", "channel", p.channel)

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		relayNotifications(ctx, l.Notify, onChange)
	}()

	return func() {
		cancel()
		<-done
		if err := l.Close(); err != nil {
			appLog.Error("store listener close failed", err, "channel", p.channel)
		}
	}, nil
}

// relayNotifications turns notifications into onChange calls until ctx is
// done or ch closes. A nil notification marks a reconnect.
func relayNotifications(ctx context.Context, ch <-chan *pq.Notification, onChange func()) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-ch:
			if !ok {
				return
			}
			if n == nil {
				appLog.Info("store notification stream resumed; forcing refresh")
			} else {
				appLog.Debug("store change notification", "channel", n.Channel, "payload", n.Extra)
			}
			onChange()
		}
	}
}

func describePQ(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return fmt.Errorf("%w (code %s, constraint %s)", err, pqErr.Code, pqErr.Constraint)
	}
	return err
}

// Validate applies the checks ingestion performs before writing: a name,
// a sport and a parseable start date, and no end date before the start.
func Validate(ev model.EventRecord) error {
	if strings.TrimSpace(ev.ID) == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidEvent)
	}
	if strings.TrimSpace(ev.Name) == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidEvent)
	}
	if model.IsPlaceholder(ev.Sport) {
		return fmt.Errorf("%w: %q has no sport", ErrInvalidEvent, ev.Name)
	}
	start, err := model.ParseDate(ev.StartDate)
	if err != nil {
		return fmt.Errorf("%w: %q start date: %v", ErrInvalidEvent, ev.Name, err)
	}
	if strings.TrimSpace(ev.EndDate) != "" {
		end, err := model.ParseDate(ev.EndDate)
		if err != nil {
			return fmt.Errorf("%w: %q end date: %v", ErrInvalidEvent, ev.Name, err)
		}
		if end.Before(start) {
			return fmt.Errorf("%w: %q ends before it starts", ErrInvalidEvent, ev.Name)
		}
	}
	return nil
}
