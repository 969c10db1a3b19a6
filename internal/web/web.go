// Package web serves the calendar API: the filtered event list, view
// projections, filter options, statistics and calendar exports.
package web

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sportscal/internal/controller"
	"sportscal/internal/datefmt"
	"sportscal/internal/export"
	appLog "sportscal/internal/log"
	"sportscal/internal/metrics"
	"sportscal/internal/store"
)

// Snapshots is the read side of the controller.
type Snapshots interface {
	State() (*controller.Snapshot, error)
	RefreshAndWait(ctx context.Context) error
}

// StatsSource reports store statistics.
type StatsSource interface {
	Stats(ctx context.Context, today time.Time) (store.Stats, error)
}

// Options configures a Server.
type Options struct {
	Timezone    string
	CORSOrigins []string
	// Gatherer backs /metrics; nil disables the endpoint.
	Gatherer prometheus.Gatherer
	Metrics  *metrics.Metrics
	// RefreshTimeout bounds POST /api/refresh.
	RefreshTimeout time.Duration
}

// Server provides the HTTP API.
type Server struct {
	snaps    Snapshots
	stats    StatsSource
	exporter *export.Exporter
	opts     Options
	loc      *time.Location
	now      func() time.Time
	router   chi.Router
}

func NewServer(snaps Snapshots, stats StatsSource, opts Options) *Server {
	if opts.RefreshTimeout <= 0 {
		opts.RefreshTimeout = 30 * time.Second
	}
	s := &Server{
		snaps:    snaps,
		stats:    stats,
		exporter: export.New(),
		opts:     opts,
		loc:      datefmt.LoadLocation(opts.Timezone),
		now:      time.Now,
		router:   chi.NewRouter(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/health", s.handleHealth)
	if s.opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.opts.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			ExposedHeaders: []string{"Content-Disposition", "X-Export-Skipped"},
			MaxAge:         300,
		}))

		r.Get("/events", s.handleEvents)
		r.Get("/view", s.handleView)
		r.Get("/options", s.handleOptions)
		r.Get("/stats", s.handleStats)
		r.Post("/refresh", s.handleRefresh)
		r.Get("/export.ics", s.handleBulkExport)
		r.Get("/events/{id}/ics", s.handleEventICS)
		r.Get("/events/{id}/link", s.handleEventLink)
	})
}

// requestLogger logs each request and records HTTP metrics under the
// matched route pattern.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				path = p
			}
		}
		elapsed := time.Since(start)
		s.opts.Metrics.ObserveHTTP(r.Method, path, strconv.Itoa(status), elapsed.Seconds())
		appLog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration_ms", elapsed.Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
