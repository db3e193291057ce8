// Package server exposes the ingestion engine's query operations over
// HTTP. Handlers serialize engine results and map engine failures to
// status codes; they never interpret engine internals.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dkozlov/mapwatch/internal/config"
	"github.com/dkozlov/mapwatch/internal/store"
	"github.com/dkozlov/mapwatch/pkg/dump"
	"github.com/dkozlov/mapwatch/pkg/ingest"
	"github.com/dkozlov/mapwatch/pkg/stats"
)

// Server provides the HTTP API.
type Server struct {
	store    store.Store
	analyzer *stats.Analyzer
	ingestor *ingest.Ingestor
	worlds   []config.WorldConfig
	port     int
	log      *slog.Logger
}

// New creates a new HTTP server.
func New(s store.Store, analyzer *stats.Analyzer, ingestor *ingest.Ingestor, worlds []config.WorldConfig, port int, log *slog.Logger) *Server {
	if port == 0 {
		port = 8080
	}
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		store:    s,
		analyzer: analyzer,
		ingestor: ingestor,
		worlds:   worlds,
		port:     port,
		log:      log,
	}
}

// Router builds the route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", s.handleHealth)

	r.Route("/api/v1/worlds", func(r chi.Router) {
		r.Get("/", s.handleWorlds)
		r.Route("/{worldID}", func(r chi.Router) {
			r.Post("/ingest", s.handleIngest)
			r.Get("/map", s.handleMap)
			r.Get("/dates", s.handleDates)
			r.Get("/growth", s.handleGrowth)
			r.Get("/info", s.handleInfo)
			r.Get("/alliances", s.handleAlliances)
		})
	})
	return r
}

// Serve runs the HTTP server until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.Router(),
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", "addr", srv.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleWorlds(w http.ResponseWriter, r *http.Request) {
	type worldInfo struct {
		ID         int        `json:"id"`
		Name       string     `json:"name"`
		Enabled    bool       `json:"enabled"`
		LatestDate *time.Time `json:"latest_date,omitempty"`
		Villages   int        `json:"villages"`
	}

	var infos []worldInfo
	for _, wc := range s.worlds {
		info := worldInfo{ID: wc.ID, Name: wc.Name, Enabled: wc.Enabled}
		if snap, err := s.store.Latest(r.Context(), wc.ID); err == nil {
			info.LatestDate = &snap.Date
			info.Villages = len(snap.Villages)
		}
		infos = append(infos, info)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  infos,
		"count": len(infos),
	})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	worldID, ok := s.worldID(w, r)
	if !ok {
		return
	}

	wc, found := configWorld(s.worlds, worldID)
	if !found {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown world"})
		return
	}

	res, err := s.ingestor.Ingest(r.Context(), wc.ID, wc.DumpURL, time.Now())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleMap(w http.ResponseWriter, r *http.Request) {
	worldID, ok := s.worldID(w, r)
	if !ok {
		return
	}

	var (
		snap *store.Snapshot
		err  error
	)
	if raw := r.URL.Query().Get("date"); raw != "" {
		date, perr := time.ParseInLocation(store.DateFormat, raw, time.UTC)
		if perr != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad date, want YYYY-MM-DD"})
			return
		}
		snap, err = s.store.Get(r.Context(), worldID, date)
	} else {
		snap, err = s.store.Latest(r.Context(), worldID)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleDates(w http.ResponseWriter, r *http.Request) {
	worldID, ok := s.worldID(w, r)
	if !ok {
		return
	}

	limit := queryInt(r, "limit", 30)
	dates, err := s.store.ListDates(r.Context(), worldID, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}

	out := make([]string, len(dates))
	for i, d := range dates {
		out[i] = d.Format(store.DateFormat)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":  out,
		"count": len(out),
	})
}

func (s *Server) handleGrowth(w http.ResponseWriter, r *http.Request) {
	worldID, ok := s.worldID(w, r)
	if !ok {
		return
	}

	days := queryInt(r, "days", 7)
	report, err := s.analyzer.SettlementGrowth(r.Context(), worldID, time.Now(), days)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if raw := r.URL.Query().Get("quadrant"); raw != "" {
		q, err := stats.ParseQuadrant(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		report.Records = stats.FilterByQuadrant(report.Records, q)
	}

	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	worldID, ok := s.worldID(w, r)
	if !ok {
		return
	}

	info, err := s.analyzer.WorldInfo(r.Context(), worldID, queryInt(r, "top", 10))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleAlliances(w http.ResponseWriter, r *http.Request) {
	worldID, ok := s.worldID(w, r)
	if !ok {
		return
	}

	alliances, err := s.analyzer.AllianceStats(r.Context(), worldID, queryInt(r, "top", 10))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":  alliances,
		"count": len(alliances),
	})
}

func (s *Server) worldID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "worldID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad world id"})
		return 0, false
	}
	return id, true
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	var ingErr *ingest.Error
	var parseErr *dump.ParseError

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.As(err, &ingErr):
		switch ingErr.Stage {
		case ingest.StageFetch:
			status = http.StatusBadGateway
		case ingest.StageParse:
			status = http.StatusUnprocessableEntity
		}
	case errors.As(err, &parseErr):
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func configWorld(worlds []config.WorldConfig, id int) (config.WorldConfig, bool) {
	for _, w := range worlds {
		if w.ID == id {
			return w, true
		}
	}
	return config.WorldConfig{}, false
}

func queryInt(r *http.Request, name string, def int) int {
	if raw := r.URL.Query().Get(name); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
