package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/elonfeng/socialpulse/internal/config"
	"github.com/elonfeng/socialpulse/internal/logging"
	"github.com/elonfeng/socialpulse/internal/metrics"
	"github.com/elonfeng/socialpulse/internal/pipeline"
	"github.com/elonfeng/socialpulse/internal/scheduler"
	"github.com/elonfeng/socialpulse/internal/store"
	"github.com/elonfeng/socialpulse/pkg/alert"
	"github.com/elonfeng/socialpulse/pkg/report"
	"github.com/elonfeng/socialpulse/pkg/server"
	"github.com/elonfeng/socialpulse/pkg/source"
)

type collectOptions struct {
	platform string
	handles  []string
	count    int
	backend  string
	noStore  bool
	noCharts bool
	export   string
}

type reportOptions struct {
	source     string
	platform   string
	since      time.Duration
	backend    string
	perSource  bool
	jsonOutput bool
}

func loadConfig() (*config.Config, logging.Logger, error) {
	boot := logging.New(logLevel, "text")
	config.LoadEnv(boot)

	path := cfgFile
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, logging.New(cfg.Log.Level, cfg.Log.Format), nil
}

func buildCollectors(cfg *config.Config, log logging.Logger) *source.Registry {
	c := cfg.Collectors
	timeout := cfg.Collect.ParseTimeout()
	return source.NewRegistry(
		source.NewTimeline(c.Timeline.BaseURL, c.Timeline.BearerToken, timeout),
		source.NewFeed(c.Feed.NitterURL, timeout),
		source.NewVideoAPI(c.VideoAPI.BaseURL, c.VideoAPI.APIKey, timeout),
		source.NewChannel(source.RodFactory(c.Channel.BrowserBin), source.ChannelOptions{
			Strategies:  source.DefaultChannelStrategies(c.Channel.ParseStrategyTimeout()),
			Scrolls:     c.Channel.Scrolls,
			ScrollPause: c.Channel.ParseScrollPause(),
			ConsentWait: c.Channel.ParseConsentWait(),
			DebugDir:    c.Channel.DebugDir,
			Logger:      log,
		}),
		source.NewPagePosts(c.Page.BaseURL, c.Page.Cookies, c.Page.MaxPages, timeout),
	)
}

// openStore connects to the backend. An unreachable backend is logged and
// yields a nil store so collection still runs and reports.
func openStore(ctx context.Context, cfg *config.Config, backend string, log logging.Logger) (store.Store, string, error) {
	if backend == "" {
		backend = cfg.Storage.Backend
	}
	if backend == store.BackendNone {
		return nil, backend, nil
	}
	db, err := store.Open(ctx, store.Options{
		Backend:    backend,
		Dir:        cfg.Storage.JSON.Dir,
		Path:       cfg.Storage.SQLite.Path,
		URI:        cfg.Storage.Mongo.URI,
		Database:   cfg.Storage.Mongo.Database,
		Collection: cfg.Storage.Mongo.Collection,
		Timeout:    cfg.Storage.ParseTimeout(),
	})
	if err != nil {
		if store.IsUnavailable(err) {
			log.WithError(err).WithField("backend", backend).Warn("store unavailable, continuing without persistence")
			return nil, backend, nil
		}
		return nil, backend, fmt.Errorf("open store: %w", err)
	}
	return db, backend, nil
}

func buildReporter(cfg *config.Config, log logging.Logger) *report.Reporter {
	return report.New(report.Options{Dir: cfg.Report.Dir, Logger: log})
}

func buildRunner(cfg *config.Config, db store.Store, backend string, rep *report.Reporter, m *metrics.Metrics, log logging.Logger) *pipeline.Runner {
	return pipeline.New(pipeline.Config{
		Collectors:      buildCollectors(cfg, log),
		Store:           db,
		Backend:         backend,
		Reporter:        rep,
		Metrics:         m,
		Logger:          log,
		MaxAttempts:     cfg.Collect.MaxAttempts,
		Backoff:         cfg.Collect.ParseBackoff(),
		Timeout:         cfg.Collect.ParseTimeout(),
		PerSourceCharts: cfg.Report.PerSource,
		ExportPath:      cfg.Report.Export,
	})
}

func buildAlertManager(cfg *config.Config) *alert.Manager {
	var notifiers []alert.Notifier

	if cfg.Alerts.Slack.Enabled && cfg.Alerts.Slack.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewSlack(cfg.Alerts.Slack.WebhookURL))
	}
	if cfg.Alerts.Discord.Enabled && cfg.Alerts.Discord.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewDiscord(cfg.Alerts.Discord.WebhookURL))
	}
	if cfg.Alerts.Webhook.Enabled && cfg.Alerts.Webhook.URL != "" {
		notifiers = append(notifiers, alert.NewWebhook(cfg.Alerts.Webhook.URL, cfg.Alerts.Webhook.Secret))
	}

	return alert.NewManager(notifiers)
}

func notificationFor(sum pipeline.Summary) *alert.Notification {
	n := &alert.Notification{
		RunID:     sum.RunID,
		Title:     "socialpulse run " + sum.StartedAt.UTC().Format("2006-01-02 15:04"),
		Totals:    sum.Totals(),
		Processed: sum.Processed(),
		Stored:    sum.Stored(),
		Sources:   len(sum.Outcomes),
		Failed:    sum.Failed(),
	}
	for _, o := range sum.Outcomes {
		n.Lines = append(n.Lines, o.Line())
	}
	for _, c := range sum.Charts {
		if c.Rendered() {
			n.Charts = append(n.Charts, c.Artifact.Path)
		}
	}
	return n
}

func notify(mgr *alert.Manager, log logging.Logger) scheduler.AfterRun {
	return func(ctx context.Context, sum pipeline.Summary) {
		if !mgr.HasNotifiers() {
			return
		}
		if err := mgr.Broadcast(ctx, notificationFor(sum)); err != nil {
			log.WithError(err).Warn("alert delivery failed")
		}
	}
}

// collectRefs builds refs from flags, falling back to the config file.
func collectRefs(cfg *config.Config, opts collectOptions) ([]source.Ref, error) {
	if len(opts.handles) == 0 {
		refs, err := cfg.Refs()
		if err != nil {
			return nil, err
		}
		if len(refs) == 0 {
			return nil, errors.New("no sources: pass --platform and --handle or list sources in the config file")
		}
		return refs, nil
	}
	if opts.platform == "" {
		return nil, errors.New("--handle needs --platform")
	}
	platform, err := source.ParsePlatform(opts.platform)
	if err != nil {
		return nil, err
	}
	refs := make([]source.Ref, 0, len(opts.handles))
	for _, h := range opts.handles {
		ref, err := source.NewRef(platform, h, opts.count)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

func runCollect(ctx context.Context, opts collectOptions) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	refs, err := collectRefs(cfg, opts)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var (
		db      store.Store
		backend string
	)
	if !opts.noStore {
		db, backend, err = openStore(ctx, cfg, opts.backend, log)
		if err != nil {
			return err
		}
		if db != nil {
			defer db.Close()
		}
	}

	var rep *report.Reporter
	if cfg.Report.Enabled && !opts.noCharts {
		rep = buildReporter(cfg, log)
	}
	if opts.export != "" {
		cfg.Report.Export = opts.export
	}

	runner := buildRunner(cfg, db, backend, rep, metrics.New(nil), log)
	sum := runner.Run(ctx, refs)

	for _, line := range sum.Lines() {
		fmt.Println(line)
	}

	notify(buildAlertManager(cfg), log)(ctx, sum)

	if len(sum.Outcomes) > 0 && sum.Failed() == len(sum.Outcomes) {
		return fmt.Errorf("all %d sources failed", sum.Failed())
	}
	return nil
}

func runReport(ctx context.Context, opts reportOptions) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}

	db, backend, err := openStore(ctx, cfg, opts.backend, log)
	if err != nil {
		return err
	}
	if db == nil {
		return fmt.Errorf("report needs a reachable store (backend %q)", backend)
	}
	defer db.Close()

	filter := store.Filter{Source: opts.source}
	if opts.platform != "" {
		if filter.Platform, err = source.ParsePlatform(opts.platform); err != nil {
			return err
		}
	}
	if opts.since > 0 {
		filter.Since = time.Now().Add(-opts.since)
	}

	cfg.Report.PerSource = cfg.Report.PerSource || opts.perSource
	runner := buildRunner(cfg, db, backend, buildReporter(cfg, log), metrics.New(nil), log)
	results, set, err := runner.Report(ctx, filter)
	if err != nil {
		return err
	}

	if opts.jsonOutput {
		type row struct {
			Kind   report.Kind `json:"kind"`
			Source string      `json:"source,omitempty"`
			Status string      `json:"status"`
			Path   string      `json:"path,omitempty"`
			Reason string      `json:"reason,omitempty"`
		}
		rows := make([]row, 0, len(results))
		for _, r := range results {
			rw := row{Kind: r.Kind, Source: r.Source, Status: r.Status(), Reason: r.Reason}
			if r.Rendered() {
				rw.Path = r.Artifact.Path
			} else if r.Err != nil {
				rw.Reason = r.Err.Error()
			}
			rows = append(rows, rw)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	if set.Len() == 0 {
		fmt.Println("no records found (try collecting data first: socialpulse collect)")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CHART\tSOURCE\tSTATUS\tPATH")
	for _, r := range results {
		var detail string
		switch {
		case r.Rendered():
			detail = r.Artifact.Path
		case r.Err != nil:
			detail = r.Err.Error()
		default:
			detail = r.Reason
		}
		src := r.Source
		if src == "" {
			src = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Kind, src, r.Status(), detail)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("%d/%d charts rendered from %d records\n", report.Count(results), len(results), set.Len())
	return nil
}

func runServe(port int) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	if port == 0 {
		port = cfg.Server.Port
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, backend, err := openStore(ctx, cfg, "", log)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}
	refs, err := cfg.Refs()
	if err != nil {
		return err
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	rep := buildReporter(cfg, log)
	srv := server.New(server.Options{
		Store:    db,
		Runner:   buildRunner(cfg, db, backend, rep, m, log),
		Refs:     refs,
		ChartDir: rep.Dir(),
		Port:     port,
		Logger:   log,
	})
	return srv.ListenAndServe(ctx)
}

func runDaemon(port int, interval string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	if port == 0 {
		port = cfg.Server.Port
	}
	if interval != "" {
		cfg.Schedule.Interval = interval
	}
	refs, err := cfg.Refs()
	if err != nil {
		return err
	}
	if len(refs) == 0 {
		return errors.New("no sources configured")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, backend, err := openStore(ctx, cfg, "", log)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	var rep *report.Reporter
	if cfg.Report.Enabled {
		rep = buildReporter(cfg, log)
	}
	runner := buildRunner(cfg, db, backend, rep, m, log)
	sched := scheduler.New(runner, refs, cfg.Schedule.ParseInterval(), notify(buildAlertManager(cfg), log), log)
	srv := server.New(server.Options{
		Store:    db,
		Runner:   runner,
		Refs:     refs,
		ChartDir: cfg.Report.Dir,
		Port:     port,
		Logger:   log,
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error { return srv.ListenAndServe(ctx) })

	err = g.Wait()
	log.Info("shutting down")
	return err
}
