// Package ingest coordinates one ingestion run: fetch the world dump,
// parse it, and commit the day's snapshot.
package ingest

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dkozlov/mapwatch/internal/store"
	"github.com/dkozlov/mapwatch/pkg/dump"
)

// Stage names the ingestion phase an error occurred in.
type Stage string

const (
	StageFetch Stage = "fetch"
	StageParse Stage = "parse"
	StageStore Stage = "store"
)

// Error is a staged ingestion failure. The stage tells the caller which
// collaborator failed; the wrapped error carries the detail.
type Error struct {
	Stage   Stage
	WorldID int
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("ingest world %d: %s: %v", e.WorldID, e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Result summarizes one completed ingestion.
type Result struct {
	WorldID      int       `json:"world_id"`
	Date         time.Time `json:"date"`
	VillageCount int       `json:"village_count"`
	SkippedRows  int       `json:"skipped_rows"`
}

// Ingestor runs fetch → parse → commit for one world and day. Distinct
// (world, date) keys run independently; concurrent calls for the same
// key coalesce into a single run.
type Ingestor struct {
	fetcher *dump.Fetcher
	store   store.Store
	group   singleflight.Group
}

// New creates an ingestor.
func New(f *dump.Fetcher, s store.Store) *Ingestor {
	return &Ingestor{fetcher: f, store: s}
}

// Ingest fetches the dump at url and commits it as the snapshot for
// (worldID, date). Re-running for the same day replaces that day's
// snapshot. No partial snapshot is ever visible: a failure in any stage
// leaves the previous snapshot, if any, intact.
func (in *Ingestor) Ingest(ctx context.Context, worldID int, url string, date time.Time) (*Result, error) {
	date = store.DateOnly(date)
	key := fmt.Sprintf("%d/%s", worldID, date.Format(store.DateFormat))

	v, err, _ := in.group.Do(key, func() (any, error) {
		return in.run(ctx, worldID, url, date)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Result), nil
}

func (in *Ingestor) run(ctx context.Context, worldID int, url string, date time.Time) (*Result, error) {
	raw, err := in.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, &Error{Stage: StageFetch, WorldID: worldID, Err: err}
	}

	parsed, err := dump.Parse(raw)
	if err != nil {
		return nil, &Error{Stage: StageParse, WorldID: worldID, Err: err}
	}

	if err := in.store.Commit(ctx, worldID, date, parsed.Villages); err != nil {
		return nil, &Error{Stage: StageStore, WorldID: worldID, Err: err}
	}

	return &Result{
		WorldID:      worldID,
		Date:         date,
		VillageCount: len(parsed.Villages),
		SkippedRows:  len(parsed.Skipped),
	}, nil
}
