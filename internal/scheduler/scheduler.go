// Package scheduler runs periodic ingestion of all configured worlds.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dkozlov/mapwatch/internal/config"
	"github.com/dkozlov/mapwatch/internal/store"
	"github.com/dkozlov/mapwatch/pkg/ingest"
	"github.com/dkozlov/mapwatch/pkg/notify"
)

// Scheduler triggers ingestion for every enabled world on a fixed
// interval, prunes old snapshots, and broadcasts a run report.
type Scheduler struct {
	ingestor  *ingest.Ingestor
	store     store.Store
	notifyMgr *notify.Manager
	worlds    []config.WorldConfig
	interval  time.Duration
	keepDays  int
	log       *slog.Logger
}

// New creates a scheduler.
func New(
	in *ingest.Ingestor,
	s store.Store,
	mgr *notify.Manager,
	worlds []config.WorldConfig,
	interval time.Duration,
	keepDays int,
	log *slog.Logger,
) *Scheduler {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	if keepDays < 1 {
		keepDays = 10
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		ingestor:  in,
		store:     s,
		notifyMgr: mgr,
		worlds:    worlds,
		interval:  interval,
		keepDays:  keepDays,
		log:       log,
	}
}

// Run starts the scheduler loop. Blocks until ctx is cancelled. The
// first run happens immediately.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info("scheduler started", "interval", s.interval, "worlds", len(s.worlds))
	s.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce ingests every enabled world concurrently, prunes each to the
// retention horizon, and broadcasts the report. Worlds are independent;
// one world's failure never blocks another's ingestion.
func (s *Scheduler) RunOnce(ctx context.Context) *notify.Report {
	today := store.DateOnly(time.Now())
	report := &notify.Report{RanAt: time.Now().UTC(), Date: today}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(4)

	for _, w := range s.worlds {
		if !w.Enabled {
			continue
		}
		w := w
		g.Go(func() error {
			wr := notify.WorldResult{WorldID: w.ID, Name: w.Name}

			res, err := s.ingestor.Ingest(ctx, w.ID, w.DumpURL, today)
			if err != nil {
				s.log.Error("ingestion failed", "world", w.ID, "err", err)
				wr.Error = err.Error()
			} else {
				wr.VillageCount = res.VillageCount
				wr.SkippedRows = res.SkippedRows
				s.log.Info("ingested world", "world", w.ID,
					"villages", res.VillageCount, "skipped", res.SkippedRows)

				pruned, err := s.store.Prune(ctx, w.ID, s.keepDays)
				if err != nil {
					s.log.Error("prune failed", "world", w.ID, "err", err)
				} else {
					if pruned > 0 {
						s.log.Info("pruned snapshots", "world", w.ID, "dropped", pruned)
					}
					wr.Pruned = pruned
				}
			}

			mu.Lock()
			report.Worlds = append(report.Worlds, wr)
			if wr.Error != "" {
				report.Failed++
			} else {
				report.Success++
			}
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	if s.notifyMgr != nil && s.notifyMgr.HasNotifiers() {
		if err := s.notifyMgr.Broadcast(ctx, report); err != nil {
			s.log.Error("notification failed", "err", err)
		}
	}
	return report
}
