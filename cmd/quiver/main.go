package main

import (
	"context"
	"flag"
	"os"
	"runtime/pprof"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"golang.org/x/sync/errgroup"

	"github.com/23skdu/longbow-quiver/internal/buffer"
	"github.com/23skdu/longbow-quiver/internal/client"
	"github.com/23skdu/longbow-quiver/internal/device"
	"github.com/23skdu/longbow-quiver/internal/export"
	"github.com/23skdu/longbow-quiver/internal/ops"
	"github.com/23skdu/longbow-quiver/internal/simd"
)

var (
	deviceKind    = flag.String("device", "cpu", "Device kind: cpu, cuda, opencl, stack")
	realloc       = flag.Bool("realloc", false, "Disable the call-site cache (direct reallocation)")
	iterations    = flag.Int("iterations", 1000, "Iterations per worker")
	duration      = flag.Duration("duration", 0, "Run soak test for specified duration instead of -iterations (e.g. 10s, 20m)")
	workers       = flag.Int("workers", 1, "Number of workers, one device each")
	size          = flag.Int("size", 1024, "Elements per buffer")
	hostLimit     = flag.String("host-limit", "0", "Memory limit per device (e.g. 64MB, 0 = unlimited)")
	recordTape    = flag.Bool("tape", false, "Record ops on a tape")
	listenAddr    = flag.String("listen", "", "Address to listen on for HTTP stats server (e.g. :8080)")
	maxConcurrent = flag.Int("max-concurrent", 16, "Maximum concurrent /stats requests")
	serverAddr    = flag.String("server", "", "Flight server address to publish snapshots to (e.g., localhost:3000)")
	datasetName   = flag.String("dataset", "quiver_buffers", "Target dataset name on server")
	flightAddr    = flag.String("flight", "", "Run a snapshot Flight sink on this address (e.g. :9090)")
	outPath       = flag.String("out", "", "Write the final snapshot as an Arrow IPC stream to this file")
	enableOTel    = flag.Bool("otel", false, "Enable OpenTelemetry tracing (stdout)")
	cpuProfile    = flag.String("cpuprofile", "", "Write cpu profile to file")
)

func main() {
	// Initialize logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Caller().Logger()

	flag.Parse()

	if *enableOTel {
		shutdown, err := initTracer()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize tracer")
		}
		defer shutdown(context.Background())
	}

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create CPU profile file")
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal().Err(err).Msg("Could not start CPU profile")
		}
		defer pprof.StopCPUProfile()
	}

	if *flightAddr != "" {
		if err := StartFlightServer(*flightAddr, NewSnapshotSink()); err != nil {
			log.Fatal().Err(err).Msg("Flight server failed")
		}
		return
	}

	limit, err := humanize.ParseBytes(*hostLimit)
	if err != nil {
		log.Fatal().Err(err).Str("host_limit", *hostLimit).Msg("Invalid memory limit")
	}

	cfg := workloadConfig{
		kind:       *deviceKind,
		caching:    device.DefaultCaching && !*realloc,
		hostLimit:  int64(limit),
		iterations: *iterations,
		size:       *size,
		record:     *recordTape,
		duration:   *duration,
	}
	runID := uuid.NewString()
	host := simd.DetectFeatures()
	log.Info().
		Str("run_id", runID).
		Str("arch", host.Architecture).
		Bool("avx2", host.HasAVX2).
		Bool("neon", host.HasNEON).
		Str("device", cfg.kind).
		Bool("caching", cfg.caching).
		Int("workers", *workers).
		Int("size", cfg.size).
		Str("host_limit", humanize.Bytes(limit)).
		Msg("Starting workload")

	board := newStatsBoard()
	if *listenAddr != "" {
		go startServer(*listenAddr, NewServer(runID, board, *maxConcurrent))
	}

	start := time.Now()
	if err := runWorkers(context.Background(), cfg, *workers, board); err != nil {
		log.Fatal().Err(err).Msg("Workload failed")
	}
	log.Info().Dur("elapsed", time.Since(start)).Msg("Workload complete")

	if *outPath == "" && *serverAddr == "" {
		if *listenAddr != "" {
			select {}
		}
		return
	}

	rec, err := sampleSnapshot(runID, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build snapshot")
	}
	defer rec.Release()

	if *outPath != "" {
		if err := writeSnapshot(*outPath, rec); err != nil {
			log.Fatal().Err(err).Msg("Failed to write snapshot")
		}
		log.Info().Str("path", *outPath).Int64("rows", rec.NumRows()).Msg("Snapshot written")
	}

	if *serverAddr != "" {
		fc, err := client.NewFlightClient(*serverAddr)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Flight server")
		}
		pub := client.NewPublisher(fc, client.NewCircuitBreaker(3, 30*time.Second), *datasetName, 60*time.Second)
		defer func() {
			if err := pub.Close(); err != nil {
				log.Warn().Err(err).Msg("Failed to close flight client")
			}
		}()
		if err := pub.Publish(context.Background(), rec); err != nil {
			log.Error().Err(err).Msg("Snapshot publish failed")
			return
		}
		log.Info().Str("server", *serverAddr).Str("dataset", *datasetName).Msg("Snapshot published")
	}

	if *listenAddr != "" {
		select {}
	}
}

// runWorkers starts n workers, each on its own device.
func runWorkers(ctx context.Context, cfg workloadConfig, n int, board *statsBoard) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			_, err := runWorker(ctx, i, cfg, board)
			return err
		})
	}
	return g.Wait()
}

// sampleSnapshot runs one step on a fresh device and exports its buffers.
func sampleSnapshot(runID string, cfg workloadConfig) (arrow.RecordBatch, error) {
	dev, err := newDevice(cfg.kind, -1, cfg.caching, cfg.hostLimit)
	if err != nil {
		return nil, err
	}
	defer dev.Close()
	e := ops.NewEngine(dev)

	n := min(cfg.size, 16)
	data := make([]float32, n)
	for i := range data {
		data[i] = float32(i)
	}
	in, err := buffer.FromSlice(dev, data)
	if err != nil {
		return nil, err
	}
	defer in.Release()
	sum, err := ops.Add(e, in, in)
	if err != nil {
		return nil, err
	}
	defer sum.Release()

	snap := export.NewSnapshot(memory.NewGoAllocator(), export.WithRunID(runID))
	defer snap.Release()
	if err := export.Add(snap, "input", in); err != nil {
		return nil, err
	}
	if err := export.Add(snap, "doubled", sum); err != nil {
		return nil, err
	}
	return snap.Record(), nil
}

func writeSnapshot(path string, rec arrow.RecordBatch) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create snapshot file")
	}
	if err := export.WriteIPC(f, rec); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func initTracer() (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String("quiver"),
		)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return tp.Shutdown, nil
}
