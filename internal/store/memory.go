package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"sportscal/internal/model"
)

// Memory is an in-process Store used by tests and by the server when no
// database is configured.
type Memory struct {
	mu      sync.RWMutex
	events  []model.EventRecord
	byKey   map[string]int
	subs    map[int]func()
	nextSub int
	now     func() time.Time

	// FailFetch, when set, is returned by FetchAll.
	FailFetch error
}

func NewMemory(events ...model.EventRecord) *Memory {
	m := &Memory{
		byKey: map[string]int{},
		subs:  map[int]func(){},
		now:   time.Now,
	}
	m.Set(events)
	return m
}

// Set replaces the contents and notifies subscribers.
func (m *Memory) Set(events []model.EventRecord) {
	m.mu.Lock()
	m.events = make([]model.EventRecord, 0, len(events))
	m.byKey = map[string]int{}
	for _, ev := range events {
		m.byKey[dedupeKey(ev)] = len(m.events)
		m.events = append(m.events, ev)
	}
	m.mu.Unlock()
	m.notify()
}

func (m *Memory) FetchAll(ctx context.Context) ([]model.EventRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.FailFetch != nil {
		return nil, m.FailFetch
	}
	return append([]model.EventRecord(nil), m.events...), nil
}

func (m *Memory) Subscribe(ctx context.Context, onChange func()) (func(), error) {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = onChange
	m.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
	go func() {
		<-ctx.Done()
		unsubscribe()
	}()
	return unsubscribe, nil
}

func (m *Memory) Upsert(ctx context.Context, source string, events []model.EventRecord) (UpsertResult, error) {
	var res UpsertResult
	for _, ev := range events {
		if err := Validate(ev); err != nil {
			return res, err
		}
	}

	m.mu.Lock()
	now := m.now()
	for _, ev := range events {
		key := dedupeKey(ev)
		if i, ok := m.byKey[key]; ok {
			ev.ID = m.events[i].ID
			ev.CreatedAt = m.events[i].CreatedAt
			m.events[i] = ev
			res.Updated++
			continue
		}
		ev.CreatedAt = now
		m.byKey[key] = len(m.events)
		m.events = append(m.events, ev)
		res.Inserted++
	}
	m.mu.Unlock()

	if len(events) > 0 {
		m.notify()
	}
	return res, nil
}

func (m *Memory) FetchCreatedSince(ctx context.Context, since time.Time) ([]model.EventRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.EventRecord
	for _, ev := range m.events {
		if !ev.CreatedAt.Before(since) {
			out = append(out, ev)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Memory) Stats(ctx context.Context, today time.Time) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := Stats{Total: len(m.events), BySport: map[string]int{}}
	from := model.CivilDate(today)
	to := from.AddDate(0, 0, 7)
	for _, ev := range m.events {
		sport := ev.Sport
		if sport == "" {
			sport = "Unknown"
		}
		st.BySport[sport]++

		start, err := model.ParseDate(ev.StartDate)
		if err != nil {
			continue
		}
		if !start.Before(from) && start.Before(to) {
			st.Upcoming++
		}
	}
	return st, nil
}

func (m *Memory) notify() {
	m.mu.RLock()
	subs := make([]func(), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.RUnlock()
	for _, fn := range subs {
		fn()
	}
}
