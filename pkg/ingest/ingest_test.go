package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkozlov/mapwatch/internal/store"
	"github.com/dkozlov/mapwatch/pkg/dump"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "mapwatch.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func dumpBody(rows int) string {
	var b strings.Builder
	for i := 0; i < rows; i++ {
		fmt.Fprintf(&b, "INSERT INTO `x_world` VALUES (%d,%d,%d,1,%d,'V%d',1,'P',1,'A',%d,NULL,FALSE,NULL);\n",
			i+1, i, -i, 1000+i, i, 100+i)
	}
	return b.String()
}

func day(s string) time.Time {
	d, err := time.ParseInLocation(store.DateFormat, s, time.UTC)
	if err != nil {
		panic(err)
	}
	return d
}

func TestIngestHappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, dumpBody(5))
	}))
	defer srv.Close()

	db := newTestStore(t)
	in := New(dump.NewFetcher(5*time.Second), db)

	res, err := in.Ingest(context.Background(), 1, srv.URL, day("2026-08-29"))
	require.NoError(t, err)
	assert.Equal(t, 5, res.VillageCount)
	assert.Zero(t, res.SkippedRows)
	assert.Equal(t, day("2026-08-29"), res.Date)

	snap, err := db.Get(context.Background(), 1, day("2026-08-29"))
	require.NoError(t, err)
	assert.Len(t, snap.Villages, 5)
}

func TestIngestReportsSkippedRows(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, dumpBody(3))
		fmt.Fprintln(w, "INSERT INTO x_world VALUES (garbage;")
	}))
	defer srv.Close()

	db := newTestStore(t)
	in := New(dump.NewFetcher(5*time.Second), db)

	res, err := in.Ingest(context.Background(), 1, srv.URL, day("2026-08-29"))
	require.NoError(t, err)
	assert.Equal(t, 3, res.VillageCount)
	assert.Equal(t, 1, res.SkippedRows)
}

func TestIngestFetchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	db := newTestStore(t)
	in := New(dump.NewFetcher(5*time.Second), db)

	_, err := in.Ingest(context.Background(), 1, srv.URL, day("2026-08-29"))
	var ingErr *Error
	require.ErrorAs(t, err, &ingErr)
	assert.Equal(t, StageFetch, ingErr.Stage)
	assert.Equal(t, 1, ingErr.WorldID)

	_, err = db.Get(context.Background(), 1, day("2026-08-29"))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestIngestParseErrorLeavesPriorSnapshot(t *testing.T) {
	good := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if good {
			fmt.Fprint(w, dumpBody(4))
			return
		}
		fmt.Fprint(w, "-- empty dump, nothing to see\n")
	}))
	defer srv.Close()

	db := newTestStore(t)
	in := New(dump.NewFetcher(5*time.Second), db)
	ctx := context.Background()

	_, err := in.Ingest(ctx, 1, srv.URL, day("2026-08-29"))
	require.NoError(t, err)

	good = false
	_, err = in.Ingest(ctx, 1, srv.URL, day("2026-08-29"))
	var ingErr *Error
	require.ErrorAs(t, err, &ingErr)
	assert.Equal(t, StageParse, ingErr.Stage)

	var perr *dump.ParseError
	assert.True(t, errors.As(err, &perr))

	// The empty dump must not mask a real outage as zero settlements.
	snap, err := db.Get(ctx, 1, day("2026-08-29"))
	require.NoError(t, err)
	assert.Len(t, snap.Villages, 4)
}

func TestIngestSameDayReplaces(t *testing.T) {
	rows := 5
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, dumpBody(rows))
	}))
	defer srv.Close()

	db := newTestStore(t)
	in := New(dump.NewFetcher(5*time.Second), db)
	ctx := context.Background()

	_, err := in.Ingest(ctx, 1, srv.URL, day("2026-08-29"))
	require.NoError(t, err)

	rows = 2
	res, err := in.Ingest(ctx, 1, srv.URL, day("2026-08-29"))
	require.NoError(t, err)
	assert.Equal(t, 2, res.VillageCount)

	snap, err := db.Get(ctx, 1, day("2026-08-29"))
	require.NoError(t, err)
	assert.Len(t, snap.Villages, 2)

	dates, err := db.ListDates(ctx, 1, 10)
	require.NoError(t, err)
	assert.Len(t, dates, 1)
}

func TestIngestCancelledFetchCommitsNothing(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	db := newTestStore(t)
	in := New(dump.NewFetcher(5*time.Second), db)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := in.Ingest(ctx, 1, srv.URL, day("2026-08-29"))
	var ingErr *Error
	require.ErrorAs(t, err, &ingErr)
	assert.Equal(t, StageFetch, ingErr.Stage)

	_, err = db.Get(context.Background(), 1, day("2026-08-29"))
	assert.ErrorIs(t, err, store.ErrNotFound)
}
