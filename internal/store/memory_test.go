package store

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sportscal/internal/model"
)

func TestMemoryUpsertMergesOnNameDateLocation(t *testing.T) {
	m := NewMemory()
	clock := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return clock }

	first := model.EventRecord{ID: "a", Name: "Cup", Sport: "Soccer", StartDate: "2024-03-15", Location: "Austin", Age: "U10"}
	res, err := m.Upsert(context.Background(), "feed", []model.EventRecord{first})
	require.NoError(t, err)
	assert.Equal(t, UpsertResult{Inserted: 1}, res)

	clock = clock.Add(time.Hour)
	again := first
	again.ID = "b"
	again.Age = "U12"
	other := first
	other.ID = "c"
	other.Location = "Dallas"
	res, err = m.Upsert(context.Background(), "feed", []model.EventRecord{again, other})
	require.NoError(t, err)
	assert.Equal(t, UpsertResult{Inserted: 1, Updated: 1}, res)

	all, err := m.FetchAll(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].ID)
	assert.Equal(t, "U12", all[0].Age)
	assert.Equal(t, time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC), all[0].CreatedAt)

	recent, err := m.FetchCreatedSince(context.Background(), time.Date(2024, 3, 1, 8, 30, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "c", recent[0].ID)
}

func TestMemorySubscribe(t *testing.T) {
	m := NewMemory()
	var calls atomic.Int32
	unsub, err := m.Subscribe(context.Background(), func() { calls.Add(1) })
	require.NoError(t, err)

	m.Set([]model.EventRecord{{ID: "a"}})
	assert.Equal(t, int32(1), calls.Load())

	unsub()
	m.Set(nil)
	assert.Equal(t, int32(1), calls.Load())
}

func TestMemoryStats(t *testing.T) {
	m := NewMemory(
		model.EventRecord{ID: "1", Sport: "Soccer", StartDate: "2024-03-10"},
		model.EventRecord{ID: "2", Sport: "Soccer", StartDate: "2024-03-16"},
		model.EventRecord{ID: "3", Sport: "", StartDate: "2024-03-17"},
		model.EventRecord{ID: "4", Sport: "Lacrosse", StartDate: "bad"},
	)
	st, err := m.Stats(context.Background(), time.Date(2024, 3, 10, 18, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 4, st.Total)
	assert.Equal(t, map[string]int{"Soccer": 2, "Unknown": 1, "Lacrosse": 1}, st.BySport)
	assert.Equal(t, 2, st.Upcoming)
}
