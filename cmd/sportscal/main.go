package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"

	"sportscal/internal/config"
	"sportscal/internal/controller"
	"sportscal/internal/datefmt"
	"sportscal/internal/digest"
	"sportscal/internal/export"
	"sportscal/internal/ingest"
	appLog "sportscal/internal/log"
	"sportscal/internal/metrics"
	"sportscal/internal/store"
	"sportscal/internal/web"
)

const version = "0.3.0"

type flagConfig struct {
	configPath string
	listen     string
	migrate    bool
	ingestOnce bool
	digestOnce bool
	exportPath string
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	level, ok := appLog.ParseLevel(conf.LogLevel)
	if !ok {
		appLog.Warn("unknown log level; using INFO", "log_level", conf.LogLevel)
	}
	appLog.Configure(os.Stderr, conf.LogFormat, level)

	appLog.Info("sportscal starting", "version", version)
	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"database", conf.DatabaseURL != "",
		"refresh", conf.RefreshCron,
		"feeds", len(conf.Ingest.Feeds),
		"ingest_cron", conf.Ingest.Cron,
		"digest_enabled", conf.Digest.Enabled(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	if err := run(ctx, conf, flags); err != nil {
		appLog.Error("sportscal exited with error", err)
		os.Exit(1)
	}
	appLog.Info("sportscal exiting")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/sportscal/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.migrate, "migrate", false, "Apply database migrations and exit")
	flag.BoolVar(&cfg.ingestOnce, "ingest-once", false, "Import all configured feeds once and exit")
	flag.BoolVar(&cfg.digestOnce, "digest-once", false, "Send the new-events digest once and exit")
	flag.StringVar(&cfg.exportPath, "export", "", "Write every stored event to this .ics file and exit")

	flag.Parse()

	return cfg
}

// openStore returns the Postgres store, or an in-memory one when no
// database is configured.
func openStore(ctx context.Context, conf *config.Config) (store.Store, func(), error) {
	if conf.DatabaseURL == "" {
		appLog.Warn("no database configured; using in-memory store")
		return store.NewMemory(), func() {}, nil
	}
	pg, err := store.Open(ctx, conf.DatabaseURL, conf.NotifyChannel)
	if err != nil {
		return nil, nil, err
	}
	if err := pg.Migrate(); err != nil {
		_ = pg.Close()
		return nil, nil, err
	}
	return pg, func() {
		if err := pg.Close(); err != nil {
			appLog.Error("failed to close database", err)
		}
	}, nil
}

func run(ctx context.Context, conf *config.Config, flags flagConfig) error {
	st, closeStore, err := openStore(ctx, conf)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer closeStore()
	if flags.migrate {
		appLog.Info("migrations applied")
		return nil
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewWithRegistry(reg)

	loc := datefmt.LoadLocation(conf.Timezone)
	ingester := ingest.New(conf.Ingest, loc, st, m)
	dig := newDigest(conf, st, m)

	switch {
	case flags.ingestOnce:
		_, err := ingester.Run(ctx)
		return err
	case flags.digestOnce:
		if dig == nil {
			return errors.New("digest is not configured")
		}
		_, err := dig.Run(ctx)
		return err
	case flags.exportPath != "":
		return exportAll(ctx, st, conf.Timezone, flags.exportPath)
	}

	ctrl := controller.New(st, m)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := ctrl.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			appLog.Error("controller stopped", err)
		}
	}()

	sched := cron.New(cron.WithLocation(loc))
	if err := schedule(sched, conf.RefreshCron, "refresh", func() { ctrl.Refresh() }); err != nil {
		return err
	}
	if err := schedule(sched, conf.Ingest.Cron, "ingest", func() {
		if _, err := ingester.Run(ctx); err != nil {
			appLog.Error("scheduled ingest finished with errors", err)
		}
	}); err != nil {
		return err
	}
	if dig != nil {
		if err := schedule(sched, conf.Digest.Cron, "digest", func() {
			if _, err := dig.Run(ctx); err != nil {
				appLog.Error("scheduled digest failed", err)
			}
		}); err != nil {
			return err
		}
	}
	sched.Start()
	defer func() { <-sched.Stop().Done() }()

	srv := &http.Server{
		Addr: conf.Listen,
		Handler: web.NewServer(ctrl, st, web.Options{
			Timezone:    conf.Timezone,
			CORSOrigins: conf.CORSOrigins,
			Gatherer:    reg,
			Metrics:     m,
		}).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("http server listening", "addr", conf.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error("http shutdown failed", err)
	}
	wg.Wait()
	return nil
}

func schedule(c *cron.Cron, spec, name string, job func()) error {
	if spec == "" {
		appLog.Info("job disabled", "job", name)
		return nil
	}
	if _, err := c.AddFunc(spec, job); err != nil {
		return fmt.Errorf("schedule %s %q: %w", name, spec, err)
	}
	appLog.Info("job scheduled", "job", name, "cron", spec)
	return nil
}

func newDigest(conf *config.Config, src digest.Source, m *metrics.Metrics) *digest.Digest {
	d := conf.Digest
	if d.Recipient == "" || d.SMTPHost == "" || d.Sender == "" {
		return nil
	}
	return &digest.Digest{
		Source: src,
		Sender: digest.NewSMTPSender(digest.SMTPConfig{
			Host:     d.SMTPHost,
			Port:     d.SMTPPort,
			Username: d.SMTPUser,
			Password: d.SMTPPassword,
			Sender:   d.Sender,
		}),
		Metrics:     m,
		Recipient:   d.Recipient,
		CalendarURL: d.CalendarURL,
		Timezone:    conf.Timezone,
		Lookback:    time.Duration(d.LookbackHours) * time.Hour,
		Now:         time.Now,
	}
}

func exportAll(ctx context.Context, r store.Reader, timezone, path string) error {
	events, err := r.FetchAll(ctx)
	if err != nil {
		return err
	}
	res, err := export.BulkEventsFile(events, timezone)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, res.Payload.Body, 0o644); err != nil {
		return err
	}
	appLog.Info("calendar exported", "path", path, "exported", res.Exported, "skipped", len(res.Failed))
	return nil
}
