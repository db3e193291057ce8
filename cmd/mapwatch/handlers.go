package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dkozlov/mapwatch/internal/config"
	"github.com/dkozlov/mapwatch/internal/scheduler"
	"github.com/dkozlov/mapwatch/internal/store"
	"github.com/dkozlov/mapwatch/pkg/dump"
	"github.com/dkozlov/mapwatch/pkg/ingest"
	"github.com/dkozlov/mapwatch/pkg/notify"
	"github.com/dkozlov/mapwatch/pkg/server"
	"github.com/dkozlov/mapwatch/pkg/stats"
)

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	return config.Load(path)
}

func openStore(cfg *config.Config) (*store.SQLiteStore, error) {
	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return db, nil
}

func buildIngestor(cfg *config.Config, db store.Store) *ingest.Ingestor {
	fetcher := dump.NewFetcher(cfg.Fetch.ParseTimeout())
	return ingest.New(fetcher, db)
}

func buildNotifyManager(cfg *config.Config) *notify.Manager {
	var notifiers []notify.Notifier

	if cfg.Notify.Webhook.Enabled && cfg.Notify.Webhook.URL != "" {
		notifiers = append(notifiers, notify.NewWebhook(cfg.Notify.Webhook.URL, cfg.Notify.Webhook.Secret))
	}

	return notify.NewManager(notifiers)
}

func runIngest(worldID int) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	ingestor := buildIngestor(cfg, db)
	ctx := context.Background()
	today := time.Now()

	worlds := cfg.Worlds
	if worldID != 0 {
		w, ok := cfg.World(worldID)
		if !ok {
			return fmt.Errorf("world %d is not configured", worldID)
		}
		worlds = []config.WorldConfig{w}
	}

	ran := 0
	for _, w := range worlds {
		if worldID == 0 && !w.Enabled {
			continue
		}
		fmt.Fprintf(os.Stderr, "ingesting world %d (%s)...\n", w.ID, w.Name)

		res, err := ingestor.Ingest(ctx, w.ID, w.DumpURL, today)
		if err != nil {
			fmt.Fprintf(os.Stderr, "  error: %v\n", err)
			continue
		}
		fmt.Fprintf(os.Stderr, "  stored %d settlements (%d rows skipped)\n",
			res.VillageCount, res.SkippedRows)

		if pruned, err := db.Prune(ctx, w.ID, cfg.Retention.KeepDays); err != nil {
			fmt.Fprintf(os.Stderr, "  prune error: %v\n", err)
		} else if pruned > 0 {
			fmt.Fprintf(os.Stderr, "  pruned %d old snapshots\n", pruned)
		}
		ran++
	}

	if ran == 0 {
		return fmt.Errorf("no worlds ingested")
	}
	return nil
}

func runDates(worldID, limit int) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	dates, err := db.ListDates(context.Background(), worldID, limit)
	if err != nil {
		return fmt.Errorf("list dates: %w", err)
	}
	if len(dates) == 0 {
		fmt.Println("no snapshots stored (try: mapwatch ingest)")
		return nil
	}

	for _, d := range dates {
		fmt.Println(d.Format(store.DateFormat))
	}
	return nil
}

func runGrowth(worldID, days int, quadrant string, jsonOutput bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	analyzer := stats.NewAnalyzer(db)
	report, err := analyzer.SettlementGrowth(context.Background(), worldID, time.Now(), days)
	if err != nil {
		return fmt.Errorf("settlement growth: %w", err)
	}

	if quadrant != "" {
		q, err := stats.ParseQuadrant(quadrant)
		if err != nil {
			return err
		}
		report.Records = stats.FilterByQuadrant(report.Records, q)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	fmt.Printf("world %d: %s vs %s (%d settlements, %d removed)\n",
		worldID, report.AsOf.Format(store.DateFormat), report.Since.Format(store.DateFormat),
		len(report.Records), report.Removed)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "POP\tDELTA\tIDLE DAYS\tCOORDS\tNAME\tPLAYER\tALLIANCE")
	for _, rec := range report.Records {
		delta := fmt.Sprintf("%+d", rec.Delta)
		if rec.New {
			delta = "new"
		}
		fmt.Fprintf(w, "%d\t%s\t%d\t(%d|%d)\t%s\t%s\t%s\n",
			rec.Population, delta, rec.DaysWithoutGrowth, rec.X, rec.Y,
			rec.Name, rec.Player, rec.Alliance)
	}
	return w.Flush()
}

func runInfo(worldID, top int) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	analyzer := stats.NewAnalyzer(db)
	info, err := analyzer.WorldInfo(context.Background(), worldID, top)
	if err != nil {
		return fmt.Errorf("world info: %w", err)
	}

	fmt.Printf("world %d on %s: %d settlements, %d population\n",
		worldID, info.Date.Format(store.DateFormat), info.Villages, info.Population)

	fmt.Println("\ntribes:")
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TRIBE\tVILLAGES\tPOPULATION")
	for _, t := range info.Tribes {
		fmt.Fprintf(w, "%d\t%d\t%d\n", t.TribeID, t.Villages, t.Population)
	}
	w.Flush()

	fmt.Println("\ntop players:")
	w = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PLAYER\tVILLAGES\tPOPULATION")
	for _, p := range info.TopPlayers {
		fmt.Fprintf(w, "%s\t%d\t%d\n", p.Player, p.Villages, p.Population)
	}
	return w.Flush()
}

func runAlliances(worldID, top int) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	analyzer := stats.NewAnalyzer(db)
	alliances, err := analyzer.AllianceStats(context.Background(), worldID, top)
	if err != nil {
		return fmt.Errorf("alliance stats: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ALLIANCE\tVILLAGES\tMEMBERS\tPOPULATION\tAVG\tGROWTH\tGROWTH %")
	for _, a := range alliances {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%.2f\t%+d\t%.2f\n",
			a.Alliance, a.Villages, a.Members, a.Population,
			a.AvgPopulation, a.Growth, a.GrowthPct)
	}
	return w.Flush()
}

func runServe(port int) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if port == 0 {
		port = cfg.Server.Port
	}

	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	srv := server.New(db, stats.NewAnalyzer(db), buildIngestor(cfg, db), cfg.Worlds, port, log)
	return srv.Serve(ctx)
}

func runDaemon(port int) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if port == 0 {
		port = cfg.Server.Port
	}

	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	ingestor := buildIngestor(cfg, db)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sched := scheduler.New(ingestor, db, buildNotifyManager(cfg), cfg.Worlds,
		cfg.Schedule.ParseIngestInterval(), cfg.Retention.KeepDays, log)

	// Scheduler in the background, HTTP server in the foreground.
	go func() {
		if err := sched.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("scheduler error", "err", err)
		}
	}()

	srv := server.New(db, stats.NewAnalyzer(db), ingestor, cfg.Worlds, port, log)
	return srv.Serve(ctx)
}
