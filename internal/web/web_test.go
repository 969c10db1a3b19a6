package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sportscal/internal/controller"
	"sportscal/internal/metrics"
	"sportscal/internal/model"
	"sportscal/internal/store"
)

type fakeSnapshots struct {
	snap       *controller.Snapshot
	err        error
	refreshErr error
	refreshes  int
}

func (f *fakeSnapshots) State() (*controller.Snapshot, error) {
	if f.snap == nil {
		if f.err == nil {
			return nil, controller.ErrNoSnapshot
		}
		return nil, f.err
	}
	return f.snap, nil
}

func (f *fakeSnapshots) RefreshAndWait(ctx context.Context) error {
	f.refreshes++
	return f.refreshErr
}

type fakeStats struct{}

func (fakeStats) Stats(ctx context.Context, today time.Time) (store.Stats, error) {
	return store.Stats{Total: 3, BySport: map[string]int{"Soccer": 3}, Upcoming: 1}, nil
}

func sampleEvents() []model.EventRecord {
	return []model.EventRecord{
		{ID: "1", Name: "Zeta Cup", Sport: "Soccer", StartDate: "2024-03-15", EndDate: "2024-03-17", Location: "Austin, TX", Age: "U12", Website: "https://example.org/zeta"},
		{ID: "2", Name: "Alpha Open", Sport: "Soccer", StartDate: "2024-03-15", Location: "Dallas, TX", Gender: "Girls"},
		{ID: "3", Name: "Mid Classic", Sport: "Lacrosse", StartDate: "2024-03-15", Location: "Denver, CO"},
		{ID: "4", Name: "Broken", Sport: "Soccer", StartDate: "TBD"},
	}
}

func newTestServer(t *testing.T, snaps *fakeSnapshots) *Server {
	t.Helper()
	reg := prometheus.NewRegistry()
	s := NewServer(snaps, fakeStats{}, Options{
		Timezone:    "America/New_York",
		CORSOrigins: []string{"http://localhost:3000"},
		Gatherer:    reg,
		Metrics:     metrics.NewWithRegistry(reg),
	})
	s.now = func() time.Time { return time.Date(2024, 3, 15, 14, 0, 0, 0, time.UTC) }
	return s
}

func loaded() *fakeSnapshots {
	return &fakeSnapshots{snap: &controller.Snapshot{Events: sampleEvents(), Generation: 7, LoadedAt: time.Now()}}
}

func do(t *testing.T, s *Server, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	rec := do(t, newTestServer(t, loaded()), http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestEventsWithoutSnapshotIs503(t *testing.T) {
	s := newTestServer(t, &fakeSnapshots{err: errors.New("connection refused")})
	for _, path := range []string{"/api/events", "/api/view", "/api/options", "/api/export.ics", "/api/events/1/ics"} {
		rec := do(t, s, http.MethodGet, path)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
		assert.JSONEq(t, `{"error":"load failed","retry":"/api/refresh"}`, rec.Body.String(), path)
	}
}

func TestEventsFiltered(t *testing.T) {
	rec := do(t, newTestServer(t, loaded()), http.MethodGet, "/api/events?sport=Soccer&location=tx")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp eventsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 4, resp.Total)
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, uint64(7), resp.Generation)
	require.Len(t, resp.Events, 2)
	assert.Equal(t, "Zeta Cup", resp.Events[0].Name)
	assert.Equal(t, "Fri, Mar 15 – Sun, Mar 17, 2024", resp.Events[0].Display.Dates)
	assert.Equal(t, "N/A", resp.Events[0].Display.Gender)
	assert.Contains(t, resp.Events[0].Display.Empty, "gender")
	assert.Equal(t, "https://example.org/zeta", resp.Events[0].Display.Website)
	assert.True(t, strings.HasPrefix(resp.Events[0].CalendarLink, "https://calendar.google.com/calendar/render?"))
}

func TestEventsBadDateBound(t *testing.T) {
	rec := do(t, newTestServer(t, loaded()), http.MethodGet, "/api/events?from=yesterday")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestViewMonth(t *testing.T) {
	rec := do(t, newTestServer(t, loaded()), http.MethodGet, "/api/view?mode=month&date=2024-03-01")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp viewResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "month", resp.Mode)
	assert.Equal(t, "March 2024", resp.Title)
	assert.Equal(t, "2024-02-25", resp.Start)
	assert.Equal(t, "2024-04-06", resp.End)
	assert.Len(t, resp.Days, 42)

	var cell dayDTO
	for _, d := range resp.Days {
		if d.Date == "2024-03-15" {
			cell = d
		}
	}
	assert.True(t, cell.Today)
	assert.Equal(t, 1, cell.Overflow)
	require.Len(t, cell.Events, 2)
	assert.Equal(t, "Alpha Open", cell.Events[0].Name)
	assert.Equal(t, "Mid Classic", cell.Events[1].Name)
}

func TestViewListSorted(t *testing.T) {
	rec := do(t, newTestServer(t, loaded()), http.MethodGet, "/api/view?mode=list&sort=name&dir=desc")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp viewResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.List, 4)
	assert.Equal(t, "Zeta Cup", resp.List[0].Name)
	assert.Equal(t, "Alpha Open", resp.List[3].Name)
	require.NotNil(t, resp.Sort)
	assert.Equal(t, "desc", string(resp.Sort.Dir))
}

func TestViewRejectsBadInput(t *testing.T) {
	s := newTestServer(t, loaded())
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/api/view?mode=year").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/api/view?mode=day&date=soon").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/api/view?mode=list&sort=color").Code)
}

func TestOptionsAndStats(t *testing.T) {
	s := newTestServer(t, loaded())

	rec := do(t, s, http.MethodGet, "/api/options")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"sports":["Soccer","Lacrosse"]`)

	rec = do(t, s, http.MethodGet, "/api/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"total":3,"by_sport":{"Soccer":3},"upcoming_7d":1}`, rec.Body.String())
}

func TestRefresh(t *testing.T) {
	snaps := loaded()
	s := newTestServer(t, snaps)
	rec := do(t, s, http.MethodPost, "/api/refresh")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","generation":7,"events":4}`, rec.Body.String())
	assert.Equal(t, 1, snaps.refreshes)

	snaps.refreshErr = errors.New("db down")
	rec = do(t, s, http.MethodPost, "/api/refresh")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestEventICS(t *testing.T) {
	s := newTestServer(t, loaded())

	rec := do(t, s, http.MethodGet, "/api/events/1/ics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/calendar; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="zeta-cup.ics"`, rec.Header().Get("Content-Disposition"))
	assert.Contains(t, rec.Body.String(), "DTSTART;VALUE=DATE:20240315\r\n")
	assert.Contains(t, rec.Body.String(), "DTEND;VALUE=DATE:20240318\r\n")

	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/api/events/nope/ics").Code)
	assert.Equal(t, http.StatusUnprocessableEntity, do(t, s, http.MethodGet, "/api/events/4/ics").Code)
}

func TestEventLink(t *testing.T) {
	s := newTestServer(t, loaded())
	rec := do(t, s, http.MethodGet, "/api/events/2/link")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "dates=20240315/20240316")

	rec = do(t, s, http.MethodGet, "/api/events/4/link")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"url":"#"}`, rec.Body.String())
}

func TestBulkExport(t *testing.T) {
	s := newTestServer(t, loaded())

	rec := do(t, s, http.MethodGet, "/api/export.ics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("X-Export-Skipped"))
	assert.Equal(t, 3, strings.Count(rec.Body.String(), "BEGIN:VEVENT"))
	assert.Equal(t, `attachment; filename="sports-events.ics"`, rec.Header().Get("Content-Disposition"))

	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/api/export.ics?sport=Curling").Code)
	assert.Equal(t, http.StatusUnprocessableEntity, do(t, s, http.MethodGet, "/api/export.ics?q=broken").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, loaded())
	do(t, s, http.MethodGet, "/api/events")

	rec := do(t, s, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `sportscal_http_requests_total{method="GET",path="/api/events",status_code="200"} 1`)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, loaded())
	req := httptest.NewRequest(http.MethodOptions, "/api/events", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "GET")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestViewsKeepCivilDatesAcrossMidnightDSTGap(t *testing.T) {
	snaps := &fakeSnapshots{snap: &controller.Snapshot{
		Events:     []model.EventRecord{{ID: "f", Name: "Final", Sport: "Soccer", StartDate: "2024-09-08"}},
		Generation: 1,
	}}
	s := NewServer(snaps, fakeStats{}, Options{Timezone: "America/Santiago"})
	s.now = func() time.Time { return time.Date(2024, 9, 8, 15, 0, 0, 0, time.UTC) }

	rec := do(t, s, http.MethodGet, "/api/view?mode=week")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp viewResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "2024-09-08", resp.Anchor)
	assert.Equal(t, "2024-09-08", resp.Start)
	assert.Equal(t, "2024-09-14", resp.End)
	assert.Equal(t, "Sun, Sep 8 – Sat, Sep 14, 2024", resp.Title)
	require.Len(t, resp.Days, 7)
	assert.True(t, resp.Days[0].Today)
	require.Len(t, resp.Days[0].Events, 1)
	assert.Equal(t, "Sunday, Sep 8, 2024", resp.Days[0].Events[0].Display.Dates)

	rec = do(t, s, http.MethodGet, "/api/events?from=2024-09-08&to=2024-09-08")
	require.Equal(t, http.StatusOK, rec.Code)
	var events eventsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	assert.Equal(t, 1, events.Count)
	assert.Contains(t, events.Events[0].CalendarLink, "dates=20240908/20240909")
}
