package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"sportscal/internal/controller"
	"sportscal/internal/datefmt"
	"sportscal/internal/export"
	"sportscal/internal/filter"
	appLog "sportscal/internal/log"
	"sportscal/internal/model"
	"sportscal/internal/view"
)

// eventDTO is a record plus the display strings the UI shows for it.
type eventDTO struct {
	model.EventRecord
	Display      displayDTO `json:"display"`
	CalendarLink string     `json:"calendar_link"`
}

type displayDTO struct {
	Dates     string `json:"dates"`
	Location  string `json:"location"`
	Age       string `json:"age"`
	Gender    string `json:"gender"`
	EventType string `json:"event_type"`
	// Empty fields render in the muted style.
	Empty   []string `json:"empty,omitempty"`
	Website string   `json:"website,omitempty"`
}

type eventsResponse struct {
	Events     []eventDTO `json:"events"`
	Total      int        `json:"total"`
	Count      int        `json:"count"`
	Generation uint64     `json:"generation"`
	LoadedAt   time.Time  `json:"loaded_at"`
	Timezone   string     `json:"timezone"`
}

type dayDTO struct {
	Date     string     `json:"date"`
	Events   []eventDTO `json:"events"`
	Overflow int        `json:"overflow"`
	InPeriod bool       `json:"in_period"`
	Today    bool       `json:"today"`
}

type viewResponse struct {
	Mode   string         `json:"mode"`
	Title  string         `json:"title"`
	Anchor string         `json:"anchor"`
	Start  string         `json:"start,omitempty"`
	End    string         `json:"end,omitempty"`
	Days   []dayDTO       `json:"days,omitempty"`
	List   []eventDTO     `json:"list,omitempty"`
	Sort   *view.ListSort `json:"sort,omitempty"`
	Count  int            `json:"count"`
}

type loadFailedResponse struct {
	Error string `json:"error"`
	Retry string `json:"retry"`
}

// snapshot writes 503 and returns false while nothing has been loaded.
func (s *Server) snapshot(w http.ResponseWriter) (*controller.Snapshot, bool) {
	snap, err := s.snaps.State()
	if err != nil {
		appLog.Warn("serving without snapshot", "err", err.Error())
		writeJSON(w, http.StatusServiceUnavailable, loadFailedResponse{Error: "load failed", Retry: "/api/refresh"})
		return nil, false
	}
	return snap, true
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot(w)
	if !ok {
		return
	}
	query, criteria, err := parseFilters(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	visible := filter.Events(snap.Events, query, criteria)
	writeJSON(w, http.StatusOK, eventsResponse{
		Events:     s.toDTOs(visible),
		Total:      len(snap.Events),
		Count:      len(visible),
		Generation: snap.Generation,
		LoadedAt:   snap.LoadedAt,
		Timezone:   s.loc.String(),
	})
}

// handleView projects the filtered set.
//
// GET /api/view?mode=month&date=2024-03-15&sort=name&dir=desc&sport=...
func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot(w)
	if !ok {
		return
	}
	q := r.URL.Query()

	mode, err := view.ParseMode(q.Get("mode"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, isList := mode.(view.List); isList {
		ls, err := view.ParseListSort(q.Get("sort"), q.Get("dir"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		mode = view.List{Sort: ls}
	}

	today := model.CivilDate(s.now().In(s.loc))
	anchor := today
	if d := q.Get("date"); d != "" {
		anchor, err = model.ParseDate(d)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid date %q", d))
			return
		}
	}

	query, criteria, err := parseFilters(q)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	visible := filter.Events(snap.Events, query, criteria)
	p := view.Project(visible, view.State{Mode: mode, Anchor: anchor})

	resp := viewResponse{
		Mode:   p.Mode,
		Title:  title(mode, p, anchor),
		Anchor: anchor.Format(model.DateLayout),
		Count:  len(visible),
	}
	if lm, isList := mode.(view.List); isList {
		resp.List = s.toDTOs(p.List)
		resp.Sort = &lm.Sort
	} else {
		resp.Start = p.Start.Format(model.DateLayout)
		resp.End = p.End.Format(model.DateLayout)
		resp.Days = make([]dayDTO, 0, len(p.Days))
		for _, d := range p.Days {
			resp.Days = append(resp.Days, dayDTO{
				Date:     d.Date.Format(model.DateLayout),
				Events:   s.toDTOs(d.Events),
				Overflow: d.Overflow,
				InPeriod: d.InPeriod,
				Today:    model.SameDay(d.Date, today),
			})
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func title(mode view.Mode, p view.Projection, anchor time.Time) string {
	switch mode.(type) {
	case view.Month:
		return anchor.Format("January 2006")
	case view.Week:
		t, err := datefmt.FormatRange(p.Start.Format(model.DateLayout), p.End.Format(model.DateLayout))
		if err == nil {
			return t
		}
	case view.Day:
		t, err := datefmt.FormatRange(anchor.Format(model.DateLayout), "")
		if err == nil {
			return t
		}
	}
	return "All Events"
}

func (s *Server) handleOptions(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, filter.CollectOptions(snap.Events))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		writeError(w, http.StatusNotImplemented, "statistics unavailable")
		return
	}
	st, err := s.stats.Stats(r.Context(), s.now().In(s.loc))
	if err != nil {
		appLog.Error("stats query failed", err)
		writeError(w, http.StatusInternalServerError, "failed to load statistics")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleRefresh forces a full re-fetch and waits for it to settle.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.opts.RefreshTimeout)
	defer cancel()

	if err := s.snaps.RefreshAndWait(ctx); err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		appLog.Error("manual refresh failed", err)
		writeJSON(w, status, loadFailedResponse{Error: "load failed", Retry: "/api/refresh"})
		return
	}

	type refreshResponse struct {
		Status     string `json:"status"`
		Generation uint64 `json:"generation"`
		Events     int    `json:"events"`
	}
	resp := refreshResponse{Status: "ok"}
	if snap, err := s.snaps.State(); err == nil {
		resp.Generation = snap.Generation
		resp.Events = len(snap.Events)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEventICS(w http.ResponseWriter, r *http.Request) {
	ev, ok := s.lookup(w, r)
	if !ok {
		return
	}
	p, err := s.exporter.SingleEventFile(ev, s.loc.String())
	if err != nil {
		s.opts.Metrics.ObserveExport("single", "error", 0)
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	s.opts.Metrics.ObserveExport("single", "ok", 0)
	writeFile(w, p)
}

func (s *Server) handleEventLink(w http.ResponseWriter, r *http.Request) {
	ev, ok := s.lookup(w, r)
	if !ok {
		return
	}
	link := export.CalendarServiceLink(ev, s.loc.String())
	status := "ok"
	if link == export.PlaceholderLink {
		status = "error"
	}
	s.opts.Metrics.ObserveExport("link", status, 0)
	writeJSON(w, http.StatusOK, map[string]string{"url": link})
}

// handleBulkExport downloads the filtered set as one calendar.
func (s *Server) handleBulkExport(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot(w)
	if !ok {
		return
	}
	query, criteria, err := parseFilters(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	visible := filter.Events(snap.Events, query, criteria)

	res, err := s.exporter.BulkEventsFile(visible, s.loc.String())
	switch {
	case errors.Is(err, export.ErrNoEvents):
		s.opts.Metrics.ObserveExport("bulk", "empty", 0)
		writeError(w, http.StatusNotFound, "no events to export")
		return
	case errors.Is(err, export.ErrNoValidEvents):
		s.opts.Metrics.ObserveExport("bulk", "error", len(res.Failed))
		writeError(w, http.StatusUnprocessableEntity, "no valid events to export")
		return
	case err != nil:
		s.opts.Metrics.ObserveExport("bulk", "error", 0)
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}
	s.opts.Metrics.ObserveExport("bulk", "ok", len(res.Failed))
	w.Header().Set("X-Export-Skipped", strconv.Itoa(len(res.Failed)))
	writeFile(w, res.Payload)
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (model.EventRecord, bool) {
	snap, ok := s.snapshot(w)
	if !ok {
		return model.EventRecord{}, false
	}
	id := chi.URLParam(r, "id")
	for _, ev := range snap.Events {
		if ev.ID == id {
			return ev, true
		}
	}
	writeError(w, http.StatusNotFound, "event not found")
	return model.EventRecord{}, false
}

func writeFile(w http.ResponseWriter, p export.FilePayload) {
	w.Header().Set("Content-Type", p.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", p.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(p.Body)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(p.Body); err != nil {
		appLog.Error("failed to write calendar file", err, "filename", p.Filename)
	}
}

// parseFilters reads q, sport, location, age, gender, event_type, from
// and to.
func parseFilters(q url.Values) (string, model.FilterCriteria, error) {
	c := model.FilterCriteria{
		Sport:     strings.TrimSpace(q.Get("sport")),
		Location:  strings.TrimSpace(q.Get("location")),
		Age:       strings.TrimSpace(q.Get("age")),
		Gender:    strings.TrimSpace(q.Get("gender")),
		EventType: strings.TrimSpace(q.Get("event_type")),
	}
	for _, b := range []struct {
		key string
		dst **time.Time
	}{{"from", &c.DateRange.Start}, {"to", &c.DateRange.End}} {
		v := q.Get(b.key)
		if v == "" {
			continue
		}
		t, err := model.ParseDate(v)
		if err != nil {
			return "", c, fmt.Errorf("invalid %s date %q", b.key, v)
		}
		*b.dst = &t
	}
	return q.Get("q"), c, nil
}

func (s *Server) toDTOs(events []model.EventRecord) []eventDTO {
	out := make([]eventDTO, 0, len(events))
	tz := s.loc.String()
	for _, ev := range events {
		d := displayDTO{
			Dates:     datefmt.FormatEventDateDisplay(ev.StartDate, ev.EndDate, tz),
			Location:  model.DisplayLocation(ev.Location),
			Age:       model.DisplayAge(ev.Age),
			Gender:    model.DisplayGender(ev.Gender),
			EventType: model.DisplayEventType(ev.EventType),
		}
		for _, f := range []struct{ name, raw string }{
			{"location", ev.Location}, {"age", ev.Age}, {"gender", ev.Gender}, {"event_type", ev.EventType},
		} {
			if model.DisplayStyle(f.raw) == model.StyleEmpty {
				d.Empty = append(d.Empty, f.name)
			}
		}
		if model.IsValidExternalWebsite(ev.Website) {
			d.Website = ev.Website
		}
		out = append(out, eventDTO{
			EventRecord:  ev,
			Display:      d,
			CalendarLink: export.CalendarServiceLink(ev, tz),
		})
	}
	return out
}
