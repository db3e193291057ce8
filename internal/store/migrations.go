package store

// Base schema. Settlement rosters live in per-(world, date) partition
// tables created at commit time; the snapshots table is the catalog of
// which partitions exist.
const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
    world_id      INTEGER NOT NULL,
    snap_date     TEXT NOT NULL,
    village_count INTEGER NOT NULL DEFAULT 0,
    created_at    DATETIME NOT NULL,
    PRIMARY KEY (world_id, snap_date)
);
`

// villageSchema is instantiated once per partition table.
const villageSchema = `
CREATE TABLE %s (
    key        TEXT NOT NULL,
    worldid    INTEGER NOT NULL DEFAULT 0,
    x          INTEGER NOT NULL,
    y          INTEGER NOT NULL,
    tid        INTEGER NOT NULL DEFAULT 0,
    vid        INTEGER NOT NULL DEFAULT 0,
    village    TEXT NOT NULL,
    uid        INTEGER NOT NULL DEFAULT 0,
    player     TEXT NOT NULL DEFAULT '',
    aid        INTEGER NOT NULL DEFAULT 0,
    alliance   TEXT NOT NULL DEFAULT '',
    population INTEGER NOT NULL DEFAULT 0,
    capital    BOOLEAN NOT NULL DEFAULT 0,
    is_ww      BOOLEAN NOT NULL DEFAULT 0,
    ww_name    TEXT NOT NULL DEFAULT ''
)`

const insertVillage = `
INSERT INTO %s (key, worldid, x, y, tid, vid, village, uid, player, aid, alliance, population, capital, is_ww, ww_name)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
