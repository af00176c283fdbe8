package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"sleepcal/internal/calstore"
	"sleepcal/internal/calstore/google"
	"sleepcal/internal/calstore/icsfile"
	"sleepcal/internal/calstore/sqlite"
	"sleepcal/internal/config"
	"sleepcal/internal/health"
	appLog "sleepcal/internal/log"
	"sleepcal/internal/pipeline"
	"sleepcal/internal/reconcile"
	"sleepcal/internal/schedule"
	"sleepcal/internal/web"
)

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath    string
	listen        string
	backend       string
	logLevel      string
	once          string
	email         string
	days          int
	listCalendars bool
	purge         bool
	purgeDays     int
}

func main() {
	// A missing .env is normal outside development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		appLog.Warn("could not load .env", "reason", err.Error())
	}

	flags := parseFlags()

	conf, err := loadConfig(flags)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	appLog.Info("sleepcal starting",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"backend", conf.Calendar.Backend,
		"lookback_days", conf.LookbackDays,
		"sources", len(conf.Sources),
		"refresh", conf.RefreshCron,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, conf, flags); err != nil {
		appLog.Error("sleepcal failed", err)
		os.Exit(1)
	}
	appLog.Info("sleepcal exiting")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "./sleepcal.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.StringVar(&cfg.backend, "backend", "", "Calendar backend: google, ics, sqlite or memory (overrides config if set)")
	flag.StringVar(&cfg.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flag.StringVar(&cfg.once, "once", "", "Sync one export file (JSON, NDJSON or Apple Health export.xml) and exit")
	flag.StringVar(&cfg.email, "email", "", "Owner email selecting the calendar for -once and -purge (default calendar.owner_email)")
	flag.IntVar(&cfg.days, "days", 0, "Lookback in days for -once (default from config)")
	flag.BoolVar(&cfg.listCalendars, "list-calendars", false, "List calendars visible to the backend and exit")
	flag.BoolVar(&cfg.purge, "purge", false, "Delete sleep events from the selected calendar and exit")
	flag.IntVar(&cfg.purgeDays, "purge-days", 30, "How many days back -purge reaches")

	flag.Parse()

	return cfg
}

func loadConfig(flags flagConfig) (*config.Config, error) {
	conf, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	if err := conf.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}

	// CLI flags override the file and the environment.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if flags.backend != "" {
		conf.Calendar.Backend = strings.ToLower(flags.backend)
	}
	if flags.logLevel != "" {
		conf.LogLevel = flags.logLevel
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

func run(ctx context.Context, conf *config.Config, flags flagConfig) error {
	store, feeds, closeStore, err := openStore(ctx, conf)
	if err != nil {
		return err
	}
	defer closeStore()

	syncer := pipeline.New(store,
		pipeline.WithLocation(conf.Location()),
		pipeline.WithLookbackDays(conf.LookbackDays),
	)

	switch {
	case flags.listCalendars:
		return listCalendars(ctx, store)
	case flags.purge:
		return purge(ctx, store, conf, flags)
	case flags.once != "":
		return syncFile(ctx, syncer, conf, flags)
	}

	scheduler := schedule.New(conf, health.NewFetcher(conf.CacheDir), syncer)
	server := web.NewServer(conf, syncer, feeds)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(gctx) })
	g.Go(func() error { return scheduler.Run(gctx) })
	return g.Wait()
}

// openStore builds the configured calendar backend. feeds is non-nil when
// the backend can render iCalendar feeds itself.
func openStore(ctx context.Context, conf *config.Config) (calstore.Store, web.FeedSource, func(), error) {
	noop := func() {}
	loc := conf.Location()

	switch conf.Calendar.Backend {
	case config.BackendGoogle:
		creds, err := google.LoadCredentials(google.CredentialSource{
			JSON: conf.Google.CredentialsJSON,
			File: conf.Google.CredentialsFile,
		})
		if err != nil {
			return nil, nil, noop, err
		}
		if conf.Google.TokenURL != "" {
			creds.JWT.TokenURL = conf.Google.TokenURL
		}
		opts := []google.Option{google.WithLocation(loc)}
		if conf.Google.BaseURL != "" {
			opts = append(opts, google.WithBaseURL(conf.Google.BaseURL))
		}
		appLog.Info("using Google Calendar", "client_email", creds.ClientEmail, "project", creds.ProjectID)
		s, err := google.New(ctx, creds.HTTPClient(ctx), opts...)
		if err != nil {
			return nil, nil, noop, err
		}
		return s, nil, noop, nil

	case config.BackendICS:
		s, err := icsfile.New(conf.Calendar.ICSDir, icsfile.WithLocation(loc))
		if err != nil {
			return nil, nil, noop, err
		}
		return s, s, noop, nil

	case config.BackendSQLite:
		if err := os.MkdirAll(filepath.Dir(conf.Calendar.SQLitePath), 0o700); err != nil {
			return nil, nil, noop, err
		}
		s, err := sqlite.Open(conf.Calendar.SQLitePath, loc)
		if err != nil {
			return nil, nil, noop, err
		}
		return s, nil, func() {
			if err := s.Close(); err != nil {
				appLog.Error("sqlite close failed", err)
			}
		}, nil

	case config.BackendMemory:
		appLog.Warn("memory backend selected; events are lost on exit")
		return calstore.NewMemory(), nil, noop, nil
	}
	return nil, nil, noop, fmt.Errorf("%w: unknown calendar backend %q", calstore.ErrConfiguration, conf.Calendar.Backend)
}

func syncFile(ctx context.Context, syncer *pipeline.Syncer, conf *config.Config, flags flagConfig) error {
	body, err := os.ReadFile(flags.once)
	if err != nil {
		return err
	}
	samples, err := health.ParseExport(flags.once, body)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flags.once, err)
	}

	ctx, cancel := context.WithTimeout(ctx, conf.SyncTimeout)
	defer cancel()

	res, err := syncer.Sync(ctx, pipeline.Request{
		Samples:      samples,
		Email:        conf.Calendar.EmailFor(flags.email),
		CalendarName: conf.Calendar.Name,
		LookbackDays: flags.days,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Synced %d events (%d already present, %d failed) to calendar %s\n",
		res.Created, res.Duplicates, res.Failed, res.CalendarID)
	if res.CalendarURL != "" {
		fmt.Printf("View: %s\n", res.CalendarURL)
	}
	if res.SkippedSamples > 0 || res.SkippedSessions > 0 {
		fmt.Printf("Skipped %d samples and %d sessions\n", res.SkippedSamples, res.SkippedSessions)
	}
	return nil
}

func listCalendars(ctx context.Context, store calstore.Store) error {
	cals, err := store.ListCalendars(ctx)
	if err != nil {
		return err
	}
	_, isGoogle := store.(*google.Store)

	fmt.Printf("%d calendars:\n", len(cals))
	for _, c := range cals {
		marker := "  "
		if strings.Contains(c.Name, pipeline.DefaultCalendarName) {
			marker = "* "
		}
		fmt.Printf("%s%s (%s)\n", marker, c.Name, c.ID)
		if isGoogle && marker == "* " {
			fmt.Printf("    view:      %s\n", google.EmbedURL(c.ID))
			fmt.Printf("    subscribe: %s\n", google.ICalURL(c.ID))
		}
	}
	return nil
}

func purge(ctx context.Context, store calstore.Store, conf *config.Config, flags flagConfig) error {
	name := pipeline.CalendarName(pipeline.Request{Email: conf.Calendar.EmailFor(flags.email), CalendarName: conf.Calendar.Name})
	cals, err := store.ListCalendars(ctx)
	if err != nil {
		return err
	}
	id, ok := calstore.FindCalendar(cals, name)
	if !ok {
		return fmt.Errorf("calendar %q: %w", name, calstore.ErrNotFound)
	}

	now := time.Now()
	n, err := reconcile.Purge(ctx, store, id, now.AddDate(0, 0, -flags.purgeDays), now.Add(24*time.Hour))
	if err != nil {
		return err
	}
	fmt.Printf("Deleted %d sleep events from %q\n", n, name)
	return nil
}
