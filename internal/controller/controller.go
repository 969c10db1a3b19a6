// Package controller keeps the in-memory snapshot of event records that
// every calendar view is computed from.
//
// Refresh requests arrive on a channel (startup, store notifications, the
// manual retry endpoint, the periodic cron job). Each request starts a full
// fetch tagged with a generation number; a result is applied only if no
// newer fetch has started since, so a slow stale fetch can never overwrite
// a fresher one.
package controller

import (
	"context"
	"errors"
	"sync"
	"time"

	appLog "sportscal/internal/log"
	"sportscal/internal/metrics"
	"sportscal/internal/model"
	"sportscal/internal/store"
)

// ErrNoSnapshot is returned by State before the first successful load.
var ErrNoSnapshot = errors.New("controller: no snapshot loaded")

// Snapshot is an immutable copy of the store contents. Callers must not
// modify Events.
type Snapshot struct {
	Events     []model.EventRecord
	Generation uint64
	LoadedAt   time.Time
}

// LoadError describes the most recent failed fetch.
type LoadError struct {
	Generation uint64
	At         time.Time
	Err        error
}

func (e *LoadError) Error() string {
	return "load failed: " + e.Err.Error()
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// Controller owns the snapshot.
type Controller struct {
	reader  store.Reader
	metrics *metrics.Metrics
	now     func() time.Time

	// FetchTimeout bounds each store fetch.
	FetchTimeout time.Duration

	refresh chan struct{}

	mu      sync.RWMutex
	issued  uint64
	snap    *Snapshot
	loadErr *LoadError

	waiters []waiter
}

// waiter is released once a load of generation min or later settles.
type waiter struct {
	min  uint64
	done chan struct{}
}

func New(reader store.Reader, m *metrics.Metrics) *Controller {
	return &Controller{
		reader:       reader,
		metrics:      m,
		now:          time.Now,
		FetchTimeout: 30 * time.Second,
		refresh:      make(chan struct{}, 1),
	}
}

// Refresh asks the run loop for a full re-fetch. It never blocks;
// requests made while one is already queued collapse into it.
func (c *Controller) Refresh() {
	select {
	case c.refresh <- struct{}{}:
	default:
	}
}

// RefreshAndWait requests a re-fetch and blocks until a load started after
// the request settles or ctx is done. Loads already in flight do not count.
func (c *Controller) RefreshAndWait(ctx context.Context) error {
	ch := make(chan struct{})
	c.mu.Lock()
	c.waiters = append(c.waiters, waiter{min: c.issued + 1, done: ch})
	c.mu.Unlock()

	c.Refresh()
	select {
	case <-ch:
	case <-ctx.Done():
		return ctx.Err()
	}
	if lerr := c.LastError(); lerr != nil {
		return lerr
	}
	return nil
}

// State returns the current snapshot and the last load error. Before the
// first successful load the snapshot is nil and err is the load error, or
// ErrNoSnapshot if nothing has failed yet.
func (c *Controller) State() (*Snapshot, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.snap == nil {
		if c.loadErr != nil {
			return nil, c.loadErr
		}
		return nil, ErrNoSnapshot
	}
	return c.snap, nil
}

// LastError returns the most recent load failure, or nil if the latest
// applied load succeeded.
func (c *Controller) LastError() *LoadError {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loadErr
}

// Run subscribes to store changes, performs the initial load and serves
// refresh requests until ctx is done.
func (c *Controller) Run(ctx context.Context) error {
	unsubscribe, err := c.reader.Subscribe(ctx, c.Refresh)
	if err != nil {
		// Without notifications the cron refresh still keeps data current.
		appLog.Error("controller subscribe failed; relying on periodic refresh", err)
	} else {
		defer unsubscribe()
	}

	var wg sync.WaitGroup
	defer wg.Wait()

	c.Refresh()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.refresh:
			gen := c.begin()
			wg.Add(1)
			go func() {
				defer wg.Done()
				c.load(ctx, gen)
			}()
		}
	}
}

func (c *Controller) begin() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.issued++
	return c.issued
}

func (c *Controller) load(ctx context.Context, gen uint64) {
	fctx, cancel := context.WithTimeout(ctx, c.FetchTimeout)
	defer cancel()

	events, err := c.reader.FetchAll(fctx)
	if err != nil && ctx.Err() != nil {
		// Shutting down; not a load failure.
		return
	}
	c.apply(gen, events, err)
}

// apply installs the result of fetch gen. It reports whether the result
// was kept.
func (c *Controller) apply(gen uint64, events []model.EventRecord, err error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.issued {
		appLog.Debug("controller dropping superseded load", "generation", gen, "latest", c.issued)
		c.metrics.ObserveRefresh("stale", 0)
		return false
	}

	now := c.now()
	if err != nil {
		c.loadErr = &LoadError{Generation: gen, At: now, Err: err}
		appLog.Error("controller load failed", err, "generation", gen, "has_snapshot", c.snap != nil)
		c.metrics.ObserveRefresh("error", 0)
	} else {
		if events == nil {
			events = []model.EventRecord{}
		}
		c.snap = &Snapshot{Events: events, Generation: gen, LoadedAt: now}
		c.loadErr = nil
		appLog.Info("controller snapshot loaded", "generation", gen, "events", len(events))
		c.metrics.ObserveRefresh("ok", len(events))
	}

	pending := c.waiters[:0]
	for _, w := range c.waiters {
		if gen >= w.min {
			close(w.done)
			continue
		}
		pending = append(pending, w)
	}
	c.waiters = pending
	return true
}
