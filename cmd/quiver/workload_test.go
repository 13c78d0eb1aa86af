package main

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-quiver/internal/mem"
)

func TestRunWorker_CachedReuse(t *testing.T) {
	for _, kind := range []string{"cpu", "cuda", "opencl"} {
		t.Run(kind, func(t *testing.T) {
			board := newStatsBoard()
			cfg := workloadConfig{kind: kind, caching: true, iterations: 50, size: 8, record: true}

			res, err := runWorker(context.Background(), 0, cfg, board)
			require.NoError(t, err)
			assert.Equal(t, 50, res.Iters)
			// input, add, scale and sum each keep one region
			assert.Equal(t, uint64(4), res.Stats.Allocations)
			assert.Equal(t, uint64(4), res.Stats.Frees)
			assert.Equal(t, 0, res.Stats.LiveRegions)
			assert.Equal(t, uint64(4*49), res.Cache.Hits)
			assert.Equal(t, 150, res.Nodes)

			// sum of ((i+j)%17)/1 over j, doubled then halved
			var want float64
			for i := 0; i < 50; i++ {
				for j := 0; j < 8; j++ {
					want += float64((i + j) % 17)
				}
			}
			assert.Equal(t, want, res.Checks)
			assert.Len(t, board.snapshot(), 1)
		})
	}
}

func TestRunWorker_DirectReallocation(t *testing.T) {
	cfg := workloadConfig{kind: "cuda", caching: false, iterations: 10, size: 4}
	res, err := runWorker(context.Background(), 1, cfg, newStatsBoard())
	require.NoError(t, err)
	assert.Equal(t, uint64(40), res.Stats.Allocations)
	assert.Equal(t, uint64(40), res.Stats.Frees)
	assert.Equal(t, uint64(0), res.Cache.Hits)
}

func TestRunWorker_Stack(t *testing.T) {
	cfg := workloadConfig{kind: "stack", caching: true, iterations: 5, size: 16}
	res, err := runWorker(context.Background(), 2, cfg, newStatsBoard())
	require.NoError(t, err)
	assert.Equal(t, uint64(20), res.Stats.Allocations)
	assert.Equal(t, 0, res.Stats.LiveRegions)

	cfg.size = 1 << 20
	_, err = runWorker(context.Background(), 3, cfg, newStatsBoard())
	assert.True(t, errors.Is(err, mem.ErrCapacityExceeded))
}

func TestRunWorkers_HostLimit(t *testing.T) {
	cfg := workloadConfig{kind: "cpu", caching: true, iterations: 2, size: 64, hostLimit: 128}
	err := runWorkers(context.Background(), cfg, 2, newStatsBoard())
	assert.True(t, errors.Is(err, mem.ErrOutOfMemory))
}

func TestNewDevice_Unknown(t *testing.T) {
	_, err := newDevice("tpu", 0, true, 0)
	assert.True(t, errors.Is(err, mem.ErrUnsupported))
}
