package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/dkozlov/mapwatch/pkg/dump"
)

// DateFormat is the canonical snapshot date encoding in the catalog.
const DateFormat = "2006-01-02"

// ErrNotFound is returned when no snapshot exists for the queried key.
var ErrNotFound = errors.New("snapshot not found")

// Snapshot is the fully-materialized roster of one world on one day.
type Snapshot struct {
	WorldID  int            `json:"world_id"`
	Date     time.Time      `json:"date"`
	Villages []dump.Village `json:"villages"`
}

// Store is the persistence interface for settlement snapshots.
type Store interface {
	Commit(ctx context.Context, worldID int, date time.Time, villages []dump.Village) error
	Get(ctx context.Context, worldID int, date time.Time) (*Snapshot, error)
	Latest(ctx context.Context, worldID int) (*Snapshot, error)
	ListDates(ctx context.Context, worldID int, limit int) ([]time.Time, error)
	History(ctx context.Context, worldID int, asOf time.Time, lookbackDays int) ([]Snapshot, error)
	Prune(ctx context.Context, worldID int, keepLastN int) (int, error)

	Close() error
}

// SQLiteStore implements Store using SQLite. Each (world, date) pair
// gets its own table so that retention pruning is a table drop.
type SQLiteStore struct {
	db *sqlx.DB
}

// New opens a SQLite database and runs migrations.
func New(path string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DateOnly truncates t to a UTC calendar date.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func tableName(worldID int, date time.Time) string {
	return fmt.Sprintf("villages_s%d_%s", worldID, date.UTC().Format("2006_01_02"))
}

// Commit atomically replaces the snapshot for (worldID, date). The new
// roster is written to a shadow table and renamed over the old one
// inside a single transaction, so a reader sees either the previous
// snapshot or the new one, never a half-written mix.
func (s *SQLiteStore) Commit(ctx context.Context, worldID int, date time.Time, villages []dump.Village) error {
	date = DateOnly(date)
	table := tableName(worldID, date)
	shadow := table + "_shadow"

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin commit %s: %w", table, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+shadow); err != nil {
		return fmt.Errorf("drop shadow %s: %w", shadow, err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(villageSchema, shadow)); err != nil {
		return fmt.Errorf("create shadow %s: %w", shadow, err)
	}

	stmt, err := tx.PreparexContext(ctx, fmt.Sprintf(insertVillage, shadow))
	if err != nil {
		return fmt.Errorf("prepare insert %s: %w", shadow, err)
	}
	defer stmt.Close()

	for i := range villages {
		v := &villages[i]
		if _, err := stmt.ExecContext(ctx,
			v.Key, v.WorldID, v.X, v.Y, v.TribeID, v.VillageID, v.Name,
			v.PlayerID, v.Player, v.AllianceID, v.Alliance, v.Population,
			v.Capital, v.IsWW, v.WWName,
		); err != nil {
			return fmt.Errorf("insert village %s: %w", v.Key, err)
		}
	}

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
		return fmt.Errorf("drop old %s: %w", table, err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s RENAME TO %s", shadow, table)); err != nil {
		return fmt.Errorf("rename shadow to %s: %w", table, err)
	}

	// Index names embed the table name; the old table's indexes went
	// away with its drop.
	for _, idx := range []string{
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_key ON %s(key)", table, table),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_population ON %s(population)", table, table),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_coords ON %s(x, y)", table, table),
	} {
		if _, err := tx.ExecContext(ctx, idx); err != nil {
			return fmt.Errorf("index %s: %w", table, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO snapshots (world_id, snap_date, village_count, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(world_id, snap_date) DO UPDATE SET
			village_count = excluded.village_count,
			created_at = excluded.created_at
	`, worldID, date.Format(DateFormat), len(villages), time.Now().UTC()); err != nil {
		return fmt.Errorf("catalog snapshot %s: %w", table, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot %s: %w", table, err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, worldID int, date time.Time) (*Snapshot, error) {
	date = DateOnly(date)

	var count int
	err := s.db.GetContext(ctx, &count,
		"SELECT village_count FROM snapshots WHERE world_id = ? AND snap_date = ?",
		worldID, date.Format(DateFormat))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup snapshot %d/%s: %w", worldID, date.Format(DateFormat), err)
	}

	var villages []dump.Village
	query := fmt.Sprintf("SELECT * FROM %s ORDER BY population DESC", tableName(worldID, date))
	if err := s.db.SelectContext(ctx, &villages, query); err != nil {
		return nil, fmt.Errorf("load snapshot %d/%s: %w", worldID, date.Format(DateFormat), err)
	}

	return &Snapshot{WorldID: worldID, Date: date, Villages: villages}, nil
}

func (s *SQLiteStore) Latest(ctx context.Context, worldID int) (*Snapshot, error) {
	var raw string
	err := s.db.GetContext(ctx, &raw,
		"SELECT snap_date FROM snapshots WHERE world_id = ? ORDER BY snap_date DESC LIMIT 1",
		worldID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest snapshot %d: %w", worldID, err)
	}

	date, err := time.ParseInLocation(DateFormat, raw, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("latest snapshot %d: bad catalog date %q: %w", worldID, raw, err)
	}
	return s.Get(ctx, worldID, date)
}

func (s *SQLiteStore) ListDates(ctx context.Context, worldID int, limit int) ([]time.Time, error) {
	if limit <= 0 {
		limit = 100
	}

	var raw []string
	err := s.db.SelectContext(ctx, &raw,
		"SELECT snap_date FROM snapshots WHERE world_id = ? ORDER BY snap_date DESC LIMIT ?",
		worldID, limit)
	if err != nil {
		return nil, fmt.Errorf("list dates %d: %w", worldID, err)
	}

	dates := make([]time.Time, 0, len(raw))
	for _, r := range raw {
		d, err := time.ParseInLocation(DateFormat, r, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("list dates %d: bad catalog date %q: %w", worldID, r, err)
		}
		dates = append(dates, d)
	}
	return dates, nil
}

// History returns the snapshot chain for [asOf-lookbackDays, asOf] in
// date-ascending order, clamped to what actually exists.
func (s *SQLiteStore) History(ctx context.Context, worldID int, asOf time.Time, lookbackDays int) ([]Snapshot, error) {
	asOf = DateOnly(asOf)
	from := asOf.AddDate(0, 0, -lookbackDays)

	var raw []string
	err := s.db.SelectContext(ctx, &raw, `
		SELECT snap_date FROM snapshots
		WHERE world_id = ? AND snap_date >= ? AND snap_date <= ?
		ORDER BY snap_date ASC
	`, worldID, from.Format(DateFormat), asOf.Format(DateFormat))
	if err != nil {
		return nil, fmt.Errorf("history %d: %w", worldID, err)
	}

	snaps := make([]Snapshot, 0, len(raw))
	for _, r := range raw {
		d, err := time.ParseInLocation(DateFormat, r, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("history %d: bad catalog date %q: %w", worldID, r, err)
		}
		snap, err := s.Get(ctx, worldID, d)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, *snap)
	}
	return snaps, nil
}

// Prune drops all partitions for worldID except the newest keepLastN
// and returns the number dropped. Idempotent.
func (s *SQLiteStore) Prune(ctx context.Context, worldID int, keepLastN int) (int, error) {
	if keepLastN < 0 {
		keepLastN = 0
	}

	var raw []string
	err := s.db.SelectContext(ctx, &raw,
		"SELECT snap_date FROM snapshots WHERE world_id = ? ORDER BY snap_date DESC",
		worldID)
	if err != nil {
		return 0, fmt.Errorf("prune %d: %w", worldID, err)
	}
	if len(raw) <= keepLastN {
		return 0, nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("prune %d: %w", worldID, err)
	}
	defer tx.Rollback()

	dropped := 0
	for _, r := range raw[keepLastN:] {
		d, err := time.ParseInLocation(DateFormat, r, time.UTC)
		if err != nil {
			return 0, fmt.Errorf("prune %d: bad catalog date %q: %w", worldID, r, err)
		}
		if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+tableName(worldID, d)); err != nil {
			return 0, fmt.Errorf("prune %d: drop %s: %w", worldID, r, err)
		}
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM snapshots WHERE world_id = ? AND snap_date = ?", worldID, r); err != nil {
			return 0, fmt.Errorf("prune %d: uncatalog %s: %w", worldID, r, err)
		}
		dropped++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("prune %d: %w", worldID, err)
	}
	return dropped, nil
}
