package device

import (
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-quiver/internal/cache"
	"github.com/23skdu/longbow-quiver/internal/mem"
)

// memoryBackend is the raw allocation layer under a heap device: the Arrow
// allocator for the CPU, a Driver for the GPU backends.
type memoryBackend interface {
	alloc(nbytes int) (mem.Handle, []byte, error)
	free(r mem.Region) error
	write(r mem.Region, offset int, src []byte) error
	read(r mem.Region, offset int, dst []byte) error
	sync() error
}

// heapDevice carries the bookkeeping shared by every device whose regions
// come from a dynamic allocator: live-region tracking, the call-site cache,
// stats and teardown.
type heapDevice struct {
	id      mem.DeviceID
	kind    mem.Kind
	name    string
	caps    mem.Capabilities
	backend memoryBackend

	cache  *cache.Cache
	live   map[mem.RegionID]mem.Region
	nextID mem.RegionID
	closed bool

	stats   Stats
	metrics deviceMetrics
	logger  zerolog.Logger
}

func newHeapDevice(kind mem.Kind, caps mem.Capabilities, backend memoryBackend, cfg config) *heapDevice {
	parent := log.Logger
	if cfg.logger != nil {
		parent = *cfg.logger
	}
	caps.Caching = cfg.caching
	d := &heapDevice{
		id:      nextDeviceID(),
		kind:    kind,
		name:    cfg.name,
		caps:    caps,
		backend: backend,
		live:    make(map[mem.RegionID]mem.Region),
		metrics: newDeviceMetrics(cfg.name),
		logger:  parent.With().Str("device", cfg.name).Logger(),
	}
	if cfg.caching {
		d.cache = cache.New(d)
	}
	d.logger.Debug().Str("kind", kind.String()).Bool("caching", cfg.caching).Msg("device created")
	return d
}

func (d *heapDevice) Kind() mem.Kind                 { return d.kind }
func (d *heapDevice) ID() mem.DeviceID               { return d.id }
func (d *heapDevice) Name() string                   { return d.name }
func (d *heapDevice) Capabilities() mem.Capabilities { return d.caps }
func (d *heapDevice) Cache() *cache.Cache            { return d.cache }
func (d *heapDevice) Stats() Stats                   { return d.stats }

func (d *heapDevice) Allocate(count int, dtype mem.DType) (mem.Region, error) {
	if d.closed {
		return mem.Region{}, errors.Wrapf(mem.ErrDeviceClosed, "%s: allocate", d.name)
	}
	if count < 0 || dtype.Size() == 0 {
		return mem.Region{}, errors.Wrapf(mem.ErrInvalidCount, "%s: allocate %d x %s", d.name, count, dtype)
	}
	nbytes, ok := mem.ByteSize(count, dtype)
	if !ok {
		return mem.Region{}, errors.Wrapf(mem.ErrOutOfMemory, "%s: %d x %s overflows the address space", d.name, count, dtype)
	}
	h, host, err := d.backend.alloc(nbytes)
	if err != nil {
		return mem.Region{}, err
	}

	d.nextID++
	r := mem.NewRegion(d.nextID, d.id, d.kind, dtype, count, h)
	if d.caps.HostAddressable {
		r = r.WithHost(host)
	}
	d.live[r.ID] = r
	d.stats.allocated(d.metrics, nbytes)

	d.logger.Debug().
		Uint64("region", uint64(r.ID)).
		Int("count", count).
		Str("dtype", dtype.String()).
		Str("size", humanize.Bytes(uint64(nbytes))).
		Msg("allocated")
	return r, nil
}

func (d *heapDevice) Deallocate(r mem.Region) error {
	if d.closed {
		return errors.Wrapf(mem.ErrDeviceClosed, "%s: free region %d", d.name, r.ID)
	}
	stored, err := d.lookup(r)
	if err != nil {
		return err
	}
	delete(d.live, stored.ID)
	d.stats.freed(d.metrics, stored.Bytes())
	d.logger.Debug().Uint64("region", uint64(stored.ID)).Msg("freed")
	return d.backend.free(stored)
}

func (d *heapDevice) CopyIn(r mem.Region, offset int, src []byte) error {
	stored, err := d.transferTarget(r, offset, len(src))
	if err != nil {
		return err
	}
	return d.backend.write(stored, offset, src)
}

func (d *heapDevice) CopyOut(r mem.Region, offset int, dst []byte) error {
	stored, err := d.transferTarget(r, offset, len(dst))
	if err != nil {
		return err
	}
	return d.backend.read(stored, offset, dst)
}

func (d *heapDevice) Synchronize() error {
	if d.closed {
		return errors.Wrapf(mem.ErrDeviceClosed, "%s: synchronize", d.name)
	}
	return d.backend.sync()
}

func (d *heapDevice) Close() error {
	if d.closed {
		return nil
	}
	var first error
	if d.cache != nil {
		first = d.cache.Clear()
	}
	if n := len(d.live); n > 0 {
		d.logger.Warn().Int("regions", n).Int("bytes", d.stats.LiveBytes).Msg("reclaiming regions never released")
		for _, r := range d.live {
			d.stats.freed(d.metrics, r.Bytes())
			if err := d.backend.free(r); err != nil && first == nil {
				first = err
			}
		}
		d.live = make(map[mem.RegionID]mem.Region)
	}
	d.closed = true
	d.logger.Debug().Uint64("allocations", d.stats.Allocations).Uint64("frees", d.stats.Frees).Msg("device closed")
	return first
}

// lookup resolves r against the live table; a miss means the region was
// already freed (or never came from this device).
func (d *heapDevice) lookup(r mem.Region) (mem.Region, error) {
	if r.Device != d.id {
		return mem.Region{}, errors.Wrapf(mem.ErrUnsupported, "%s: region %d belongs to device %d", d.name, r.ID, r.Device)
	}
	stored, ok := d.live[r.ID]
	if !ok {
		return mem.Region{}, errors.Wrapf(mem.ErrDoubleFree, "%s: region %d", d.name, r.ID)
	}
	return stored, nil
}

func (d *heapDevice) transferTarget(r mem.Region, offset, n int) (mem.Region, error) {
	if d.closed {
		return mem.Region{}, errors.Wrapf(mem.ErrDeviceClosed, "%s: transfer", d.name)
	}
	if r.Device != d.id {
		return mem.Region{}, errors.Wrapf(mem.ErrUnsupported, "%s: region %d belongs to device %d", d.name, r.ID, r.Device)
	}
	stored, ok := d.live[r.ID]
	if !ok {
		return mem.Region{}, errors.Wrapf(mem.ErrReleased, "%s: region %d", d.name, r.ID)
	}
	if offset < 0 || offset+n > stored.Bytes() {
		return mem.Region{}, errors.Wrapf(mem.ErrSizeMismatch, "%s: %d bytes at offset %d into %d-byte region", d.name, n, offset, stored.Bytes())
	}
	return stored, nil
}
