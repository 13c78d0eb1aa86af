package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-quiver/internal/client"
)

func TestServer_Full(t *testing.T) {
	board := newStatsBoard()
	board.update(1, workerResult{Device: "cpu-1", Iters: 10})
	board.update(0, workerResult{Device: "cpu-0", Iters: 20})
	srv := NewServer("run-1", board, 2)
	mux := srv.routes()

	t.Run("Health Check", func(t *testing.T) {
		req, _ := http.NewRequest("GET", "/health", nil)
		rr := httptest.NewRecorder()

		mux.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "OK", rr.Body.String())
	})

	t.Run("Stats as CBOR", func(t *testing.T) {
		req, _ := http.NewRequest("GET", "/stats", nil)
		rr := httptest.NewRecorder()

		mux.ServeHTTP(rr, req)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "application/cbor", rr.Header().Get("Content-Type"))

		var got statsResponse
		require.NoError(t, cbor.Unmarshal(rr.Body.Bytes(), &got))
		assert.Equal(t, "run-1", got.RunID)
		assert.NotEmpty(t, got.Host.Architecture)
		require.Len(t, got.Workers, 2)
		assert.Equal(t, "cpu-0", got.Workers[0].Device)
		assert.Equal(t, 10, got.Workers[1].Iters)
	})

	t.Run("Stats rejects POST", func(t *testing.T) {
		req, _ := http.NewRequest("POST", "/stats", nil)
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	})

	t.Run("Metrics", func(t *testing.T) {
		req, _ := http.NewRequest("GET", "/metrics", nil)
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusOK, rr.Code)
	})
}

func TestSnapshotSink_ReceivesPublish(t *testing.T) {
	sink := NewSnapshotSink()
	server := flight.NewServerWithMiddleware(nil)
	server.RegisterFlightService(sink)
	require.NoError(t, server.Init("localhost:0"))
	go func() {
		_ = server.Serve()
	}()
	defer server.Shutdown()

	rec, err := sampleSnapshot("run-2", workloadConfig{kind: "cpu", caching: true, size: 4})
	require.NoError(t, err)
	defer rec.Release()

	fc, err := client.NewFlightClient(server.Addr().String())
	require.NoError(t, err)
	defer fc.Close()

	require.NoError(t, fc.DoPut(context.Background(), "snapshots", rec))
	assert.Equal(t, int64(2), sink.Rows("snapshots"))
}
