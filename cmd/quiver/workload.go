package main

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/23skdu/longbow-quiver/internal/buffer"
	"github.com/23skdu/longbow-quiver/internal/cache"
	"github.com/23skdu/longbow-quiver/internal/device"
	"github.com/23skdu/longbow-quiver/internal/graph"
	"github.com/23skdu/longbow-quiver/internal/mem"
	"github.com/23skdu/longbow-quiver/internal/ops"
)

var inputSite = mem.NewSite()

type workloadConfig struct {
	kind       string
	caching    bool
	hostLimit  int64
	iterations int
	size       int
	record     bool
	duration   time.Duration
}

// workerResult is what a worker hands back after its device is closed.
type workerResult struct {
	Device  string       `cbor:"device"`
	Kind    string       `cbor:"kind"`
	Iters   int          `cbor:"iterations"`
	Checks  float64      `cbor:"checksum"`
	Nodes   int          `cbor:"tape_nodes"`
	Stats   device.Stats `cbor:"stats"`
	Cache   cache.Stats  `cbor:"cache"`
	Elapsed string       `cbor:"elapsed"`
}

func newDevice(kind string, worker int, caching bool, hostLimit int64) (device.Device, error) {
	name := fmt.Sprintf("%s-%d", kind, worker)
	if worker < 0 {
		name = kind + "-sample"
	}
	opts := []device.Option{device.WithName(name), device.WithCaching(caching)}
	switch kind {
	case "cpu":
		return device.NewCPU(append(opts, device.WithHostLimit(hostLimit))...), nil
	case "cuda":
		return device.NewCUDA(device.NewSimDriver(name, int(hostLimit), false), opts...), nil
	case "opencl":
		return device.NewOpenCL(device.NewSimDriver(name, int(hostLimit), true), opts...), nil
	case "stack":
		return device.NewStack[device.Stack64K](opts...), nil
	default:
		return nil, errors.Wrapf(mem.ErrUnsupported, "device %q", kind)
	}
}

// runWorker drives one device through the soak loop: fill an input at a
// fixed site, then add, scale and reduce through the engine. With caching on
// every step after the first reuses its region.
func runWorker(ctx context.Context, id int, cfg workloadConfig, board *statsBoard) (workerResult, error) {
	ctx, span := tracer.Start(ctx, "worker", trace.WithAttributes(attribute.Int("worker", id)))
	defer span.End()

	dev, err := newDevice(cfg.kind, id, cfg.caching, cfg.hostLimit)
	if err != nil {
		return workerResult{}, err
	}
	span.SetAttributes(attribute.String("device", dev.Name()), attribute.Bool("caching", cfg.caching))

	var tape *graph.Tape
	if cfg.record {
		tape = graph.NewTape()
	}
	engine := ops.NewEngine(dev, ops.WithTape(tape))

	start := time.Now()
	var deadline time.Time
	if cfg.duration > 0 {
		deadline = start.Add(cfg.duration)
	}

	res := workerResult{Device: dev.Name(), Kind: dev.Kind().String()}
	fill := make([]float32, cfg.size)
	for i := 0; cfg.duration > 0 || i < cfg.iterations; i++ {
		if ctx.Err() != nil || (!deadline.IsZero() && time.Now().After(deadline)) {
			break
		}
		for j := range fill {
			fill[j] = float32((i + j) % 17)
		}
		v, err := step(engine, fill)
		if err != nil {
			_ = dev.Close()
			return res, errors.Wrapf(err, "worker %d iteration %d", id, i)
		}
		res.Checks += float64(v)
		res.Iters++
		if tape != nil && tape.Len() > 4096 {
			tape.Clear()
		}

		if res.Iters%1000 == 0 {
			board.update(id, snapshotOf(res, dev))
			log.Debug().Str("device", dev.Name()).Int("iter", res.Iters).Msg("soak progress")
		}
	}

	if tape != nil {
		res.Nodes = tape.Len()
	}
	if c := dev.Cache(); c != nil {
		res.Cache = c.Stats()
	}
	if err := dev.Close(); err != nil {
		return res, errors.Wrapf(err, "worker %d close", id)
	}
	res.Stats = dev.Stats()
	res.Elapsed = time.Since(start).Round(time.Millisecond).String()
	board.update(id, res)

	log.Info().
		Str("device", res.Device).
		Int("iterations", res.Iters).
		Uint64("allocations", res.Stats.Allocations).
		Uint64("frees", res.Stats.Frees).
		Uint64("cache_hits", res.Cache.Hits).
		Str("peak", humanize.Bytes(uint64(res.Stats.PeakBytes))).
		Msg("worker finished")
	return res, nil
}

func step(e *ops.Engine, fill []float32) (float32, error) {
	in, err := buffer.Retrieve[float32](e.Device(), inputSite, len(fill))
	if err != nil {
		return 0, err
	}
	defer in.Release()
	if err := in.Write(fill); err != nil {
		return 0, err
	}

	doubled, err := ops.Add(e, in, in)
	if err != nil {
		return 0, err
	}
	defer doubled.Release()

	scaled, err := ops.Scale(e, doubled, 0.5)
	if err != nil {
		return 0, err
	}
	defer scaled.Release()

	total, err := ops.Sum(e, scaled)
	if err != nil {
		return 0, err
	}
	defer total.Release()
	return total.At(0)
}

func snapshotOf(res workerResult, dev device.Device) workerResult {
	res.Stats = dev.Stats()
	if c := dev.Cache(); c != nil {
		res.Cache = c.Stats()
	}
	return res
}
