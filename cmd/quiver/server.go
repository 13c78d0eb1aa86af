package main

import (
	"net/http"
	"sort"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/semaphore"

	"github.com/23skdu/longbow-quiver/internal/simd"
)

var tracer = otel.Tracer("quiver")

// statsBoard holds the latest report of every worker. Devices are owned by
// their worker goroutine, so the HTTP side only ever sees copies.
type statsBoard struct {
	mu      sync.Mutex
	workers map[int]workerResult
}

func newStatsBoard() *statsBoard {
	return &statsBoard{workers: make(map[int]workerResult)}
}

func (b *statsBoard) update(id int, r workerResult) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.workers[id] = r
}

func (b *statsBoard) snapshot() []workerResult {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]int, 0, len(b.workers))
	for id := range b.workers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]workerResult, 0, len(ids))
	for _, id := range ids {
		out = append(out, b.workers[id])
	}
	return out
}

// statsResponse is the /stats payload.
type statsResponse struct {
	RunID   string         `cbor:"run_id"`
	Host    simd.Features  `cbor:"host"`
	Workers []workerResult `cbor:"workers"`
}

type Server struct {
	runID string
	host  simd.Features
	board *statsBoard
	sem   *semaphore.Weighted
}

func NewServer(runID string, board *statsBoard, maxConcurrent int) *Server {
	return &Server{
		runID: runID,
		host:  simd.DetectFeatures(),
		board: board,
		sem:   semaphore.NewWeighted(int64(maxConcurrent)),
	}
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

func startServer(addr string, srv *Server) {
	log.Info().Str("addr", addr).Msg("Starting stats server")
	if err := http.ListenAndServe(addr, srv.routes()); err != nil {
		log.Error().Err(err).Msg("Stats server failed")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleStats returns the host features and every worker's latest report as
// CBOR.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	_, span := tracer.Start(r.Context(), "handleStats")
	defer span.End()

	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.sem.TryAcquire(1) {
		http.Error(w, "Too many requests", http.StatusTooManyRequests)
		return
	}
	defer s.sem.Release(1)

	data, err := cbor.Marshal(statsResponse{
		RunID:   s.runID,
		Host:    s.host,
		Workers: s.board.snapshot(),
	})
	if err != nil {
		log.Error().Err(err).Msg("encode stats")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/cbor")
	_, _ = w.Write(data)
}
