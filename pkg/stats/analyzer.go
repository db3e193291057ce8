package stats

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/dkozlov/mapwatch/internal/store"
)

// GrowthRecord is the day-over-day growth state of one settlement.
type GrowthRecord struct {
	Key               string `json:"key"`
	Name              string `json:"name"`
	X                 int    `json:"x"`
	Y                 int    `json:"y"`
	Player            string `json:"player,omitempty"`
	Alliance          string `json:"alliance,omitempty"`
	Population        int    `json:"population"`
	PrevPopulation    int    `json:"prev_population"`
	Delta             int    `json:"delta"`
	DaysWithoutGrowth int    `json:"days_without_growth"`
	New               bool   `json:"new,omitempty"`
}

// GrowthReport is the growth table for one world plus the count of
// settlements that vanished from the latest snapshot.
type GrowthReport struct {
	AsOf     time.Time      `json:"as_of"`
	Since    time.Time      `json:"since"`
	Records  []GrowthRecord `json:"records"`
	Removed  int            `json:"removed"`
	Compared int            `json:"compared_days"`
}

// TribeStat aggregates one tribe over a single snapshot.
type TribeStat struct {
	TribeID    int `json:"tribe_id"`
	Villages   int `json:"villages"`
	Population int `json:"population"`
}

// AllianceStat aggregates one alliance over a single snapshot, with
// growth figures against the preceding snapshot.
type AllianceStat struct {
	Alliance      string  `json:"alliance"`
	Villages      int     `json:"villages"`
	Members       int     `json:"members"`
	Population    int     `json:"population"`
	AvgPopulation float64 `json:"avg_population"`
	Growth        int     `json:"growth"`
	GrowthPct     float64 `json:"growth_pct"`
}

// PlayerStat is one entry of the top-player ranking.
type PlayerStat struct {
	Player     string `json:"player"`
	Villages   int    `json:"villages"`
	Population int    `json:"population"`
}

// WorldInfo summarizes a whole snapshot.
type WorldInfo struct {
	Date       time.Time    `json:"date"`
	Villages   int          `json:"villages"`
	Population int          `json:"population"`
	Tribes     []TribeStat  `json:"tribes"`
	TopPlayers []PlayerStat `json:"top_players"`
}

// Analyzer derives growth and ranking statistics from stored snapshots.
// It only reads; all computation happens in the pure functions below,
// which take snapshot values directly and carry no hidden state.
type Analyzer struct {
	store store.Store
}

// NewAnalyzer creates an analyzer over the given store.
func NewAnalyzer(s store.Store) *Analyzer {
	return &Analyzer{store: s}
}

// SettlementGrowth joins the asOf snapshot against the snapshot
// lookbackDays earlier (or the oldest available when history is
// shorter) and computes per-settlement growth.
func (a *Analyzer) SettlementGrowth(ctx context.Context, worldID int, asOf time.Time, lookbackDays int) (*GrowthReport, error) {
	if lookbackDays < 1 {
		lookbackDays = 1
	}
	chain, err := a.store.History(ctx, worldID, asOf, lookbackDays)
	if err != nil {
		return nil, fmt.Errorf("load history for world %d: %w", worldID, err)
	}
	if len(chain) == 0 {
		return nil, store.ErrNotFound
	}
	return ComputeGrowth(chain), nil
}

// WorldInfo computes totals, tribe stats and the top-n player ranking
// for the latest snapshot of a world.
func (a *Analyzer) WorldInfo(ctx context.Context, worldID, topPlayers int) (*WorldInfo, error) {
	snap, err := a.store.Latest(ctx, worldID)
	if err != nil {
		return nil, err
	}
	return ComputeWorldInfo(snap, topPlayers), nil
}

// AllianceStats computes the top-n alliance ranking for the latest
// snapshot, with growth figures against the immediately preceding one.
func (a *Analyzer) AllianceStats(ctx context.Context, worldID, topN int) ([]AllianceStat, error) {
	snap, err := a.store.Latest(ctx, worldID)
	if err != nil {
		return nil, err
	}

	var prev *store.Snapshot
	dates, err := a.store.ListDates(ctx, worldID, 2)
	if err != nil {
		return nil, err
	}
	if len(dates) > 1 {
		prev, err = a.store.Get(ctx, worldID, dates[1])
		if err != nil {
			return nil, err
		}
	}

	return ComputeAllianceStats(snap, prev, topN), nil
}

// ComputeGrowth derives growth records from a date-ascending snapshot
// chain. Identity is the settlement key resolved at parse time; a
// settlement missing from the earliest snapshot is new, one missing
// from the latest is counted as removed.
func ComputeGrowth(chain []store.Snapshot) *GrowthReport {
	latest := chain[len(chain)-1]
	earliest := chain[0]

	// Population by key, per day.
	pops := make([]map[string]int, len(chain))
	for i := range chain {
		pops[i] = make(map[string]int, len(chain[i].Villages))
		for _, v := range chain[i].Villages {
			pops[i][v.Key] = v.Population
		}
	}

	report := &GrowthReport{
		AsOf:     latest.Date,
		Since:    earliest.Date,
		Compared: len(chain),
	}

	for _, v := range latest.Villages {
		rec := GrowthRecord{
			Key:               v.Key,
			Name:              v.Name,
			X:                 v.X,
			Y:                 v.Y,
			Player:            v.Player,
			Alliance:          v.Alliance,
			Population:        v.Population,
			DaysWithoutGrowth: noGrowthStreak(pops, v.Key),
		}
		if prev, ok := pops[0][v.Key]; ok {
			rec.PrevPopulation = prev
			rec.Delta = v.Population - prev
		} else {
			rec.New = true
		}
		report.Records = append(report.Records, rec)
	}

	for key := range pops[0] {
		if _, ok := pops[len(pops)-1][key]; !ok {
			report.Removed++
		}
	}

	sort.Slice(report.Records, func(i, j int) bool {
		a, b := report.Records[i], report.Records[j]
		if a.Population != b.Population {
			return a.Population > b.Population
		}
		return a.Key < b.Key
	})
	return report
}

// noGrowthStreak counts, newest to oldest, consecutive daily steps on
// which the settlement's population did not increase. It stops at the
// first strictly-increasing step or where the settlement's history
// starts.
func noGrowthStreak(pops []map[string]int, key string) int {
	streak := 0
	for i := len(pops) - 1; i > 0; i-- {
		newer, ok := pops[i][key]
		if !ok {
			break
		}
		older, ok := pops[i-1][key]
		if !ok {
			break
		}
		if newer > older {
			break
		}
		streak++
	}
	return streak
}

// ComputeTribeStats groups one snapshot by tribe, sorted by total
// population descending.
func ComputeTribeStats(snap *store.Snapshot) []TribeStat {
	byTribe := make(map[int]*TribeStat)
	for _, v := range snap.Villages {
		t, ok := byTribe[v.TribeID]
		if !ok {
			t = &TribeStat{TribeID: v.TribeID}
			byTribe[v.TribeID] = t
		}
		t.Villages++
		t.Population += v.Population
	}

	out := make([]TribeStat, 0, len(byTribe))
	for _, t := range byTribe {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Population != out[j].Population {
			return out[i].Population > out[j].Population
		}
		return out[i].TribeID < out[j].TribeID
	})
	return out
}

// ComputeAllianceStats groups one snapshot by alliance tag, with
// growth computed against prev (zero-filled when prev is nil).
// Settlements without an alliance are not ranked.
func ComputeAllianceStats(snap, prev *store.Snapshot, topN int) []AllianceStat {
	type acc struct {
		stat    AllianceStat
		members map[string]bool
	}

	byTag := make(map[string]*acc)
	for _, v := range snap.Villages {
		if v.Alliance == "" {
			continue
		}
		a, ok := byTag[v.Alliance]
		if !ok {
			a = &acc{stat: AllianceStat{Alliance: v.Alliance}, members: make(map[string]bool)}
			byTag[v.Alliance] = a
		}
		a.stat.Villages++
		a.stat.Population += v.Population
		if v.Player != "" {
			a.members[v.Player] = true
		}
	}

	prevPop := make(map[string]int)
	if prev != nil {
		for _, v := range prev.Villages {
			if v.Alliance != "" {
				prevPop[v.Alliance] += v.Population
			}
		}
	}

	out := make([]AllianceStat, 0, len(byTag))
	for _, a := range byTag {
		s := a.stat
		s.Members = len(a.members)
		if s.Villages > 0 {
			s.AvgPopulation = round2(float64(s.Population) / float64(s.Villages))
		}
		if prev != nil {
			before := prevPop[s.Alliance]
			s.Growth = s.Population - before
			if before > 0 {
				s.GrowthPct = round2(float64(s.Growth) / float64(before) * 100)
			}
		}
		out = append(out, s)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Population != out[j].Population {
			return out[i].Population > out[j].Population
		}
		return out[i].Alliance < out[j].Alliance
	})
	if topN > 0 && len(out) > topN {
		out = out[:topN]
	}
	return out
}

// ComputeWorldInfo summarizes a snapshot. Player ranking is by total
// population descending, then settlement count descending, then name
// ascending; unowned settlements count toward totals but not players.
func ComputeWorldInfo(snap *store.Snapshot, topPlayers int) *WorldInfo {
	info := &WorldInfo{
		Date:     snap.Date,
		Villages: len(snap.Villages),
		Tribes:   ComputeTribeStats(snap),
	}

	byPlayer := make(map[string]*PlayerStat)
	for _, v := range snap.Villages {
		info.Population += v.Population
		if v.Player == "" {
			continue
		}
		p, ok := byPlayer[v.Player]
		if !ok {
			p = &PlayerStat{Player: v.Player}
			byPlayer[v.Player] = p
		}
		p.Villages++
		p.Population += v.Population
	}

	players := make([]PlayerStat, 0, len(byPlayer))
	for _, p := range byPlayer {
		players = append(players, *p)
	}
	sort.Slice(players, func(i, j int) bool {
		if players[i].Population != players[j].Population {
			return players[i].Population > players[j].Population
		}
		if players[i].Villages != players[j].Villages {
			return players[i].Villages > players[j].Villages
		}
		return players[i].Player < players[j].Player
	})
	if topPlayers > 0 && len(players) > topPlayers {
		players = players[:topPlayers]
	}
	info.TopPlayers = players
	return info
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
