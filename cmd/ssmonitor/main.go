package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aluiziolira/ss-monitor/config"
	"github.com/aluiziolira/ss-monitor/models"
	"github.com/aluiziolira/ss-monitor/notifier"
	"github.com/aluiziolira/ss-monitor/pipeline"
	"github.com/aluiziolira/ss-monitor/scheduler"
	"github.com/aluiziolira/ss-monitor/scraper"
	"github.com/aluiziolira/ss-monitor/server"
	"github.com/aluiziolira/ss-monitor/session"
	"github.com/aluiziolira/ss-monitor/store"
	"github.com/aluiziolira/ss-monitor/subscription"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file")
	flag.Int("pages", 0, "Maximum listing pages scanned per section")
	flag.Int("parallel", 0, "Number of subscribers scanned concurrently")
	flag.Duration("tick", 0, "How often due subscribers are checked (e.g. 5m)")
	flag.Duration("listing-ttl", 0, "Deactivate listings unseen for this long (0 disables)")
	flag.Duration("cooldown", 0, "Suppress identical notifications within this window (0 disables)")
	flag.String("store", "", "Storage backend: memory or postgres")
	flag.String("database-url", "", "PostgreSQL connection string")
	flag.String("notifiers", "", "Comma-separated notifiers: log, telegram, jsonl, csv")
	flag.String("audit-file", "", "Audit file for the jsonl and csv notifiers")
	flag.Bool("telegram-bot", false, "Accept subscription commands over Telegram")
	flag.String("metrics-addr", "", "Ops listen address serving /metrics, /healthz and /status (e.g. :9090)")
	flag.Bool("v", false, "Enable verbose logging")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := applyFlags(flag.CommandLine, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "invalid flag: %v\n", err)
		os.Exit(1)
	}

	logger, level := newLogger(cfg.Verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		slog.Error("monitor failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, waiting for in-flight scans to finish")
	}()

	slog.Info("starting monitor",
		slog.String("base_url", cfg.BaseURL),
		slog.String("store", cfg.Store),
		slog.Any("notifiers", cfg.Notifiers),
		slog.Duration("tick", cfg.TickInterval),
		slog.Int("workers", cfg.Parallelism),
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	st, err := store.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("close store", slog.Any("error", err))
		}
	}()

	var tg *notifier.Telegram
	if cfg.TelegramBot || contains(cfg.Notifiers, "telegram") {
		tg, err = notifier.NewTelegram(cfg.TelegramToken, &http.Client{Timeout: 90 * time.Second})
		if err != nil {
			return err
		}
	}

	notify, err := buildNotifier(cfg, tg)
	if err != nil {
		return fmt.Errorf("build notifiers: %w", err)
	}
	defer func() {
		if c, ok := notify.(io.Closer); ok {
			if err := c.Close(); err != nil {
				slog.Error("close notifiers", slog.Any("error", err))
			}
		}
	}()

	fetchMetrics := scraper.NewMetrics(reg)
	fetcher, err := scraper.NewFetcher(cfg, fetchMetrics)
	if err != nil {
		return fmt.Errorf("initialising fetcher: %w", err)
	}
	source := scraper.NewSource(fetcher, cfg, fetchMetrics)
	reconciler := pipeline.NewReconciler(st)
	sched := scheduler.New(cfg, st, source, reconciler, notify, scheduler.NewMetrics(reg))

	manager := subscription.NewManager(st, cfg.BaseURL)
	seedSubscriptions(ctx, manager, cfg.Subscriptions)

	if cfg.TelegramBot {
		dispatcher := subscription.NewDispatcher(manager, session.NewStore(1024, 30*time.Minute), st, sched)
		go tg.Serve(ctx, dispatcher.Handle)
		slog.Info("telegram command bot enabled")
	}

	var ops *server.Server
	if cfg.MetricsAddr != "" {
		var health server.HealthCheck
		if p, ok := st.(interface{ Ping(context.Context) error }); ok {
			health = p.Ping
		}
		ops = server.New(cfg.MetricsAddr, reg, sched, health)
		ops.Start()
	}

	startTime := time.Now()
	if err := sched.Run(ctx); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}

	if ops != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := ops.Shutdown(shutdownCtx); err != nil {
			slog.Error("ops server shutdown failed", slog.Any("error", err))
		}
		cancel()
	}

	logSummary(time.Since(startTime), reconciler.GetMetrics(), sched.Status(), notify)
	return nil
}

// applyFlags copies explicitly set flags over cfg so they win over file and environment.
func applyFlags(fs *flag.FlagSet, cfg *config.Config) error {
	var err error
	fs.Visit(func(f *flag.Flag) {
		if err != nil {
			return
		}
		getter, ok := f.Value.(flag.Getter)
		if !ok {
			return
		}
		value := getter.Get()
		switch f.Name {
		case "pages":
			cfg.MaxPages = value.(int)
		case "parallel":
			cfg.Parallelism = value.(int)
		case "tick":
			cfg.TickInterval = value.(time.Duration)
		case "listing-ttl":
			cfg.ListingTTL = value.(time.Duration)
		case "cooldown":
			cfg.NotificationCooldown = value.(time.Duration)
		case "store":
			cfg.Store = strings.ToLower(value.(string))
		case "database-url":
			cfg.DatabaseURL = value.(string)
		case "notifiers":
			cfg.Notifiers = config.SplitList(value.(string))
			if len(cfg.Notifiers) == 0 {
				err = fmt.Errorf("-notifiers cannot be empty")
			}
		case "audit-file":
			cfg.AuditFile = value.(string)
		case "telegram-bot":
			cfg.TelegramBot = value.(bool)
		case "metrics-addr":
			cfg.MetricsAddr = value.(string)
		case "v":
			cfg.Verbose = value.(bool)
		}
	})
	return err
}

// buildNotifier assembles the configured notifiers behind one fan-out, wrapped in the
// cooldown when enabled.
func buildNotifier(cfg *config.Config, tg *notifier.Telegram) (_ notifier.Notifier, err error) {
	var targets []notifier.Notifier
	defer func() {
		if err != nil {
			notifier.NewMulti(targets...).Close()
		}
	}()

	for _, name := range cfg.Notifiers {
		switch strings.TrimSpace(name) {
		case "log":
			targets = append(targets, notifier.NewLogNotifier(slog.Default()))
		case "telegram":
			if tg == nil {
				return nil, fmt.Errorf("telegram notifier is not configured")
			}
			targets = append(targets, tg)
		case "jsonl":
			w, err := notifier.NewJSONWriter(cfg.AuditFile)
			if err != nil {
				return nil, err
			}
			targets = append(targets, w)
		case "csv":
			w, err := notifier.NewCSVWriter(csvPath(cfg.AuditFile))
			if err != nil {
				return nil, err
			}
			targets = append(targets, w)
		default:
			return nil, fmt.Errorf("unsupported notifier: %s", name)
		}
	}

	var out notifier.Notifier = notifier.NewMulti(targets...)
	if cfg.NotificationCooldown > 0 {
		out = notifier.NewCooldown(out, cfg.NotificationCooldown, cfg.CooldownCacheSize)
	}
	return out, nil
}

// csvPath keeps the csv audit trail next to the jsonl one when both are enabled.
func csvPath(auditFile string) string {
	if strings.HasSuffix(auditFile, ".csv") {
		return auditFile
	}
	return strings.TrimSuffix(auditFile, ".jsonl") + ".csv"
}

func seedSubscriptions(ctx context.Context, manager *subscription.Manager, seeds []config.SeedSubscription) {
	for _, seed := range seeds {
		filters := subscription.Filters{
			MinPrice: seed.MinPrice,
			MaxPrice: seed.MaxPrice,
			MinArea:  seed.MinArea,
			MaxArea:  seed.MaxArea,
			MinRooms: seed.MinRooms,
			MaxRooms: seed.MaxRooms,
		}
		freq := models.Frequency(strings.ToLower(strings.TrimSpace(seed.Frequency)))
		sub, created, err := manager.Subscribe(ctx, seed.Subscriber, seed.URL, freq, filters)
		if err != nil {
			slog.Error("seed subscription rejected",
				slog.String("subscriber", seed.Subscriber),
				slog.String("url", seed.URL),
				slog.Any("error", err),
			)
			continue
		}
		if !created {
			slog.Debug("seed subscription already present", slog.Int64("subscription", sub.ID))
		}
	}
}

func logSummary(duration time.Duration, metrics map[string]interface{}, status scheduler.Status, notify notifier.Notifier) {
	attrs := []any{
		slog.Duration("uptime", duration),
		slog.Int64("ticks", status.Ticks),
		slog.Int("subscribers", len(status.Subscribers)),
	}
	if processed, ok := metrics["processed_listings"].(int64); ok {
		attrs = append(attrs, slog.Int64("processed_listings", processed))
	}
	if outcomes, ok := metrics["outcomes"].(map[string]int64); ok && len(outcomes) > 0 {
		attrs = append(attrs, slog.Any("outcomes", outcomes))
	}
	if valErrors, ok := metrics["validation_errors"].(map[string]int); ok && len(valErrors) > 0 {
		attrs = append(attrs, slog.Any("validation_errors", valErrors))
	}
	if c, ok := notify.(*notifier.Cooldown); ok {
		attrs = append(attrs, slog.Int64("suppressed_notifications", c.Suppressed()))
	}
	slog.Info("monitor stopped", attrs...)
}

func contains(values []string, want string) bool {
	for _, v := range values {
		if strings.TrimSpace(v) == want {
			return true
		}
	}
	return false
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
