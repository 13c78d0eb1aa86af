// Package device implements the backends a Buffer can live on: host memory
// (CPU), two GPU backends reached through a Driver (CUDA and OpenCL), and a
// fixed-capacity arena that never touches the heap (Stack).
//
// A Device is a single-owner resource. It is not safe for concurrent use;
// callers that need parallelism create one device per goroutine.
package device

import (
	"sync/atomic"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rs/zerolog"

	"github.com/23skdu/longbow-quiver/internal/cache"
	"github.com/23skdu/longbow-quiver/internal/mem"
)

// Device allocates, frees and transfers memory regions on one backend.
type Device interface {
	Kind() mem.Kind
	ID() mem.DeviceID
	Name() string
	Capabilities() mem.Capabilities

	// Allocate returns a region of count elements. It fails with
	// mem.ErrOutOfMemory, or mem.ErrCapacityExceeded on bounded devices.
	Allocate(count int, dtype mem.DType) (mem.Region, error)

	// Deallocate releases r. Freeing a region twice fails with
	// mem.ErrDoubleFree and leaves the backend untouched.
	Deallocate(r mem.Region) error

	// CopyIn writes src into r starting at byte offset. Device-buffer
	// backends block until the transfer completes.
	CopyIn(r mem.Region, offset int, src []byte) error

	// CopyOut reads len(dst) bytes of r starting at byte offset.
	CopyOut(r mem.Region, offset int, dst []byte) error

	// Synchronize blocks until queued backend work is complete.
	Synchronize() error

	// Cache returns the call-site cache, nil when caching is off.
	Cache() *cache.Cache

	Stats() Stats

	// Close frees every region still resident in the cache, then any region
	// that was never released. Further calls fail with mem.ErrDeviceClosed.
	Close() error
}

// Stats counts backend traffic for one device.
type Stats struct {
	Allocations uint64 `cbor:"allocations"`
	Frees       uint64 `cbor:"frees"`
	LiveRegions int    `cbor:"live_regions"`
	LiveBytes   int    `cbor:"live_bytes"`
	PeakBytes   int    `cbor:"peak_bytes"`
}

var deviceCounter atomic.Uint64

func nextDeviceID() mem.DeviceID {
	return mem.DeviceID(deviceCounter.Add(1))
}

type config struct {
	name      string
	caching   bool
	hostLimit int64
	allocator memory.Allocator
	logger    *zerolog.Logger
}

// Option configures a device at construction.
type Option func(*config)

// WithCaching turns the call-site cache on or off. Off is the direct
// reallocation mode: every buffer allocates on creation and frees on release.
func WithCaching(enabled bool) Option {
	return func(c *config) { c.caching = enabled }
}

// WithName overrides the device name used in logs and metric labels.
func WithName(name string) Option {
	return func(c *config) { c.name = name }
}

// WithHostLimit bounds the live host bytes of a CPU device; allocations past
// the limit fail with mem.ErrOutOfMemory. Zero means unbounded.
func WithHostLimit(bytes int64) Option {
	return func(c *config) { c.hostLimit = bytes }
}

// WithAllocator sets the Arrow allocator backing CPU regions.
func WithAllocator(a memory.Allocator) Option {
	return func(c *config) { c.allocator = a }
}

// WithLogger sets the parent logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *config) { c.logger = &l }
}

func newConfig(defaultName string, opts []Option) config {
	cfg := config{
		name:    defaultName,
		caching: DefaultCaching,
	}
	for _, o := range opts {
		o(&cfg)
	}
	return cfg
}
