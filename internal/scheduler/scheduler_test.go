package scheduler

import (
	"context"
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
)

func TestRunOnce(t *testing.T) {
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "INSERT INTO x_world VALUES (1,1,1,1,1,'V',1,'P',1,'A',50,NULL,FALSE,NULL);")
	}))
	defer good.Close()

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer bad.Close()

	db, err := store.New(filepath.Join(t.TempDir(), "mapwatch.db"))
	require.NoError(t, err)
	defer db.Close()

	worlds := []config.WorldConfig{
		{ID: 1, Name: "good", DumpURL: good.URL, Enabled: true},
		{ID: 2, Name: "bad", DumpURL: bad.URL, Enabled: true},
		{ID: 3, Name: "off", DumpURL: good.URL, Enabled: false},
	}

	ingestor := ingest.New(dump.NewFetcher(5*time.Second), db)
	sched := New(ingestor, db, nil, worlds, time.Hour, 10, nil)

	report := sched.RunOnce(context.Background())
	assert.Equal(t, 1, report.Success)
	assert.Equal(t, 1, report.Failed)
	assert.Len(t, report.Worlds, 2) // disabled world never runs

	snap, err := db.Latest(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, snap.Villages, 1)

	_, err = db.Latest(context.Background(), 2)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
