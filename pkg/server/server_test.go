package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkozlov/mapwatch/internal/config"
	"github.com/dkozlov/mapwatch/internal/store"
	"github.com/dkozlov/mapwatch/pkg/dump"
	"github.com/dkozlov/mapwatch/pkg/ingest"
	"github.com/dkozlov/mapwatch/pkg/stats"
)

func day(s string) time.Time {
	d, err := time.ParseInLocation(store.DateFormat, s, time.UTC)
	if err != nil {
		panic(err)
	}
	return d
}

func newTestServer(t *testing.T, worlds []config.WorldConfig) (*Server, *store.SQLiteStore) {
	t.Helper()
	db, err := store.New(filepath.Join(t.TempDir(), "mapwatch.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ingestor := ingest.New(dump.NewFetcher(5*time.Second), db)
	return New(db, stats.NewAnalyzer(db), ingestor, worlds, 0, nil), db
}

func seed(t *testing.T, db *store.SQLiteStore, date string, villages ...dump.Village) {
	t.Helper()
	require.NoError(t, db.Commit(context.Background(), 1, day(date), villages))
}

func doRequest(t *testing.T, srv *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	rec := doRequest(t, srv, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMapLatest(t *testing.T) {
	srv, db := newTestServer(t, nil)
	seed(t, db, "2026-08-28", dump.Village{Key: "w:1", Population: 100})
	seed(t, db, "2026-08-29", dump.Village{Key: "w:1", Population: 120})

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/worlds/1/map")
	require.Equal(t, http.StatusOK, rec.Code)

	var snap store.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	require.Len(t, snap.Villages, 1)
	assert.Equal(t, 120, snap.Villages[0].Population)

	rec = doRequest(t, srv, http.MethodGet, "/api/v1/worlds/1/map?date=2026-08-28")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, 100, snap.Villages[0].Population)
}

func TestMapNotFound(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/worlds/1/map")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/api/v1/worlds/1/map?date=not-a-date")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGrowthWithQuadrant(t *testing.T) {
	srv, db := newTestServer(t, nil)
	today := time.Now().UTC().Format(store.DateFormat)
	seed(t, db, today,
		dump.Village{Key: "w:1", X: 5, Y: 5, Population: 100},
		dump.Village{Key: "w:2", X: -5, Y: -5, Population: 200},
	)

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/worlds/1/growth?quadrant=sw&days=7")
	require.Equal(t, http.StatusOK, rec.Code)

	var report stats.GrowthReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.Len(t, report.Records, 1)
	assert.Equal(t, "w:2", report.Records[0].Key)

	rec = doRequest(t, srv, http.MethodGet, "/api/v1/worlds/1/growth?quadrant=upper-left")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIngestEndpoint(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "INSERT INTO x_world VALUES (1,1,1,1,1,'V',1,'P',1,'A',50,NULL,FALSE,NULL);")
	}))
	defer upstream.Close()

	worlds := []config.WorldConfig{{ID: 1, Name: "test", DumpURL: upstream.URL, Enabled: true}}
	srv, db := newTestServer(t, worlds)

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/worlds/1/ingest")
	require.Equal(t, http.StatusOK, rec.Code)

	var res ingest.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 1, res.VillageCount)

	_, err := db.Latest(context.Background(), 1)
	assert.NoError(t, err)

	// Unknown world id.
	rec = doRequest(t, srv, http.MethodPost, "/api/v1/worlds/99/ingest")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestIngestEndpointBadUpstream(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer upstream.Close()

	worlds := []config.WorldConfig{{ID: 1, DumpURL: upstream.URL, Enabled: true}}
	srv, _ := newTestServer(t, worlds)

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/worlds/1/ingest")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestAlliancesEndpoint(t *testing.T) {
	srv, db := newTestServer(t, nil)
	seed(t, db, "2026-08-28",
		dump.Village{Key: "w:1", Alliance: "Red", Player: "A", Population: 1000},
	)
	seed(t, db, "2026-08-29",
		dump.Village{Key: "w:1", Alliance: "Red", Player: "A", Population: 1200},
	)

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/worlds/1/alliances")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data []stats.AllianceStat `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Data, 1)
	assert.Equal(t, 200, body.Data[0].Growth)
	assert.Equal(t, 20.0, body.Data[0].GrowthPct)
}

func TestDatesEndpoint(t *testing.T) {
	srv, db := newTestServer(t, nil)
	seed(t, db, "2026-08-28", dump.Village{Key: "w:1", Population: 1})
	seed(t, db, "2026-08-29", dump.Village{Key: "w:1", Population: 1})

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/worlds/1/dates")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data []string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, []string{"2026-08-29", "2026-08-28"}, body.Data)
}
