package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/vjranagit/plotbuffer/pkg/history"
	"github.com/vjranagit/plotbuffer/pkg/series"
	"github.com/vjranagit/plotbuffer/pkg/types"
)

// Server exposes the plot buffer over HTTP: point ingest, buffer queries,
// visible-range updates, and a websocket event stream for live rendering.
//
// The buffer is single-writer; the server owns the mutex that serializes
// every handler's access to it.
type Server struct {
	addr      string
	buffer    *series.Buffer
	store     history.Appender
	seriesKey string

	mu     sync.Mutex
	hub    *hub
	server *http.Server
	unsub  func()
}

// NewServer creates an API server for one live series.
func NewServer(addr string, buf *series.Buffer, store history.Appender, seriesKey string) *Server {
	s := &Server{
		addr:      addr,
		buffer:    buf,
		store:     store,
		seriesKey: seriesKey,
		hub:       newHub(),
	}

	// Buffer events fan out to websocket clients. Emission happens under
	// s.mu, so the translation needs no locking of its own.
	s.unsub = buf.Subscribe(func(ev series.Event) {
		s.hub.broadcastEvent(ev)
	})

	// HTTP ingest cannot guarantee chronological, duplicate-free arrival, so
	// the checked insert path must stay active even if a history seed left
	// the append hint armed.
	buf.SetAppendOnly(false)

	return s
}

// Start runs the websocket hub and the HTTP server. Blocks until the server
// stops.
func (s *Server) Start() error {
	go s.hub.run()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/points", s.handleIngest)
	mux.HandleFunc("/api/v1/series", s.handleSeries)
	mux.HandleFunc("/api/v1/series/nearest", s.handleNearest)
	mux.HandleFunc("/api/v1/series/range", s.handleRange)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ws", s.handleWS)

	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Stop shuts the HTTP server down gracefully and stops the websocket hub.
func (s *Server) Stop(ctx context.Context) error {
	s.unsub()
	s.hub.stop()
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// ingestRequest carries one batch of raw points for a series.
type ingestRequest struct {
	Series string           `json:"series"`
	Points []map[string]any `json:"points"`
}

// handleIngest accepts telemetry: every point goes to the history store, and
// points for the live series additionally stream into the buffer.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request: %v", err), http.StatusBadRequest)
		return
	}
	if req.Series == "" || len(req.Points) == 0 {
		http.Error(w, "Missing series or points", http.StatusBadRequest)
		return
	}

	pts := make([]*types.Point, len(req.Points))
	for i, fields := range req.Points {
		pts[i] = types.NewPoint(fields)
	}

	if s.store != nil {
		if err := s.store.Append(r.Context(), req.Series, pts); err != nil {
			http.Error(w, fmt.Sprintf("Append failed: %v", err), http.StatusInternalServerError)
			return
		}
	}

	stored := 0
	if req.Series == s.seriesKey {
		s.mu.Lock()
		for _, p := range pts {
			if s.buffer.Add(p) {
				stored++
			}
		}
		s.mu.Unlock()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status": "success",
		"stored": stored,
	})
}

// seriesResponse is the full buffer snapshot plus its display configuration.
type seriesResponse struct {
	Name          string         `json:"name"`
	Color         string         `json:"color,omitempty"`
	Markers       bool           `json:"markers"`
	XKey          string         `json:"x_key"`
	YKey          string         `json:"y_key"`
	Interpolation string         `json:"interpolation"`
	Generation    uint64         `json:"generation"`
	Points        []*types.Point `json:"points"`
	Stats         *statsResponse `json:"stats,omitempty"`
}

type statsResponse struct {
	MinValue float64      `json:"min_value"`
	MaxValue float64      `json:"max_value"`
	MinPoint *types.Point `json:"min_point"`
	MaxPoint *types.Point `json:"max_point"`
}

// handleSeries returns the buffer contents and derived configuration.
func (s *Server) handleSeries(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	resp := seriesResponse{
		Name:          s.buffer.Name(),
		Color:         s.buffer.Color(),
		Markers:       s.buffer.Markers(),
		XKey:          s.buffer.XKey(),
		YKey:          s.buffer.YKey(),
		Interpolation: string(s.buffer.Interpolation()),
		Generation:    s.buffer.Generation(),
		Points:        s.buffer.Points(),
	}
	if stats, ok := s.buffer.Stats(); ok {
		resp.Stats = &statsResponse{
			MinValue: stats.MinValue,
			MaxValue: stats.MaxValue,
			MinPoint: stats.MinPoint,
			MaxPoint: stats.MaxPoint,
		}
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// handleNearest returns the stored point closest to the x query parameter.
func (s *Server) handleNearest(w http.ResponseWriter, r *http.Request) {
	x, err := strconv.ParseFloat(r.URL.Query().Get("x"), 64)
	if err != nil {
		http.Error(w, "Invalid or missing x parameter", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	p := s.buffer.Nearest(x)
	s.mu.Unlock()

	if p == nil {
		http.Error(w, "Buffer is empty", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(p)
}

// handleRange sets the visible x range: points outside it are purged to keep
// memory bounded.
func (s *Server) handleRange(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var rng types.Range
	if err := json.NewDecoder(r.Body).Decode(&rng); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request: %v", err), http.StatusBadRequest)
		return
	}
	if rng.Min > rng.Max {
		http.Error(w, "min exceeds max", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.buffer.PurgeOutsideRange(rng)
	remaining := s.buffer.Len()
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":    "success",
		"remaining": remaining,
	})
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status": "healthy",
	})
}

// handleWS upgrades to websocket, replays the current buffer as a snapshot,
// then streams live events.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	snapshot, err := json.Marshal(wireEvent{
		Type:   "snapshot",
		Points: s.buffer.Points(),
	})
	s.mu.Unlock()
	if err != nil {
		http.Error(w, "Snapshot failed", http.StatusInternalServerError)
		return
	}

	s.hub.serve(w, r, snapshot)
}
