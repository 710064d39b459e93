package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"rosterlog/internal/config"
	"rosterlog/internal/detect"
	appLog "rosterlog/internal/log"
	"rosterlog/internal/logbook"
	"rosterlog/internal/pending"
	"rosterlog/internal/profile"
	"rosterlog/internal/roster"
	"rosterlog/internal/web"
)

type flagConfig struct {
	configPath string
	listen     string
	once       bool
	serve      bool
	dump       bool
	debug      bool
}

func main() {
	flags := parseFlags()

	if flags.debug {
		appLog.SetLevel(appLog.LevelDebug)
	}

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	appLog.Info("rosterlog starting",
		"config_path", flags.configPath,
		"db_path", conf.DBPath,
		"profile", conf.Profile,
		"grouping_mode", conf.Detection.GroupingMode,
		"time_filter", conf.Detection.TimeFilter,
		"source_count", len(conf.Sources),
		"once", flags.once,
		"serve", flags.serve,
	)

	db, err := logbook.Open(conf.DBPath)
	if err != nil {
		appLog.Error("failed to open database", err, "db_path", conf.DBPath)
		os.Exit(1)
	}
	defer db.Close()

	logbookStore, err := logbook.NewStore(db)
	if err != nil {
		appLog.Error("failed to initialize logbook store", err)
		os.Exit(1)
	}
	logbookStore.ManualLegAdvance = conf.Detection.LegAdvancement == config.LegAdvanceManual
	pendingStore, err := pending.NewStore(db)
	if err != nil {
		appLog.Error("failed to initialize pending store", err)
		os.Exit(1)
	}

	runner := &detect.Runner{
		Cfg:      conf,
		Fetcher:  roster.NewFetcher(conf.CacheDir),
		Profiles: profile.NewStore(conf.ProfileDir),
		Pending:  pendingStore,
		Logbook:  logbookStore,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	if flags.once || !flags.serve {
		runOnce(ctx, runner, flags.dump)
		return
	}

	runDaemon(ctx, conf, runner, logbookStore)
}

func runOnce(ctx context.Context, runner *detect.Runner, dump bool) {
	summary, err := runner.RunPass(ctx, time.Now())
	if err != nil {
		appLog.Error("detection pass failed", err)
		os.Exit(1)
	}

	if dump {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(summary); err != nil {
			appLog.Error("failed to dump pass summary", err)
			os.Exit(1)
		}
		return
	}

	for _, rep := range summary.NewCandidates {
		appLog.Info("new trip candidate",
			"display_id", rep.Candidate.DisplayID,
			"trip_date", rep.Candidate.TripDate.Format("2006-01-02"),
			"legs", len(rep.Candidate.Legs),
			"block_minutes", rep.Candidate.BlockMinutes,
			"continuation", string(rep.Advice.Outcome),
		)
	}
}

func runDaemon(ctx context.Context, conf *config.Config, runner *detect.Runner, logbookStore *logbook.Store) {
	c := cron.New()

	if _, err := c.AddFunc(conf.DetectCron, func() {
		if _, err := runner.RunPass(ctx, time.Now()); err != nil {
			appLog.Error("scheduled detection pass failed", err)
		}
	}); err != nil {
		appLog.Error("invalid detect_cron schedule", err, "schedule", conf.DetectCron)
		os.Exit(1)
	}

	// Reminder tick: fire show-time reminders scheduled by the
	// materializer. Delivery here is a log line; external notifiers
	// tail it.
	if _, err := c.AddFunc("* * * * *", func() {
		due, err := logbookStore.DueReminders(ctx, time.Now())
		if err != nil {
			appLog.Error("reminder check failed", err)
			return
		}
		for _, trip := range due {
			appLog.Info("show time reminder",
				"trip_id", trip.ID,
				"trip_number", trip.TripNumber,
				"trip_date", trip.Date.Format("2006-01-02"),
			)
		}
	}); err != nil {
		appLog.Error("failed to schedule reminder tick", err)
		os.Exit(1)
	}

	c.Start()
	defer c.Stop()

	// Run one pass immediately so the API has data before the first
	// scheduled tick.
	if _, err := runner.RunPass(ctx, time.Now()); err != nil {
		appLog.Error("initial detection pass failed", err)
	}

	if err := web.StartServer(ctx, conf, runner); err != nil {
		appLog.Error("review API terminated", err)
		os.Exit(1)
	}

	appLog.Info("rosterlog exiting")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "rosterlog.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one detection pass and exit")
	flag.BoolVar(&cfg.serve, "serve", false, "Run the review API and scheduled detection passes")
	flag.BoolVar(&cfg.dump, "dump", false, "Print the pass summary as JSON (with -once)")
	flag.BoolVar(&cfg.debug, "debug", false, "Enable debug logging")

	flag.Parse()

	return cfg
}
