package device

import (
	"unsafe"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-quiver/internal/cache"
	"github.com/23skdu/longbow-quiver/internal/mem"
)

// Arena is the inline storage of a stack device. The array length fixes the
// capacity at the type level; words keep every region 8-byte aligned.
type Arena interface {
	~[32]uint64 | ~[512]uint64 | ~[8192]uint64
}

// Arena sizes.
type (
	Stack256 [32]uint64
	Stack4K  [512]uint64
	Stack64K [8192]uint64
)

// maxStackRegions bounds how many regions can be live at once; the slot
// table is inline so bookkeeping never allocates either.
const maxStackRegions = 64

type stackSlot struct {
	id     mem.RegionID
	offset int
	size   int
	freed  bool
}

// StackDevice hands out regions from inline, fixed-capacity storage with a
// bump pointer. It has no cache and never calls a heap allocator: freeing the
// most recent region(s) rewinds the pointer, so scoped Release calls reclaim
// storage in LIFO order. Out-of-order frees are deferred until the regions
// above them are gone.
type StackDevice[A Arena] struct {
	id     mem.DeviceID
	name   string
	arena  A
	top    int
	slots  [maxStackRegions]stackSlot
	nslots int
	nextID mem.RegionID
	closed bool

	stats   Stats
	metrics deviceMetrics
	logger  zerolog.Logger
}

var (
	_ Device = (*StackDevice[Stack256])(nil)
	_ Device = (*StackDevice[Stack4K])(nil)
	_ Device = (*StackDevice[Stack64K])(nil)
)

// NewStack creates a stack device with arena type A. Caching options are
// ignored: the storage is already owned by the device, reuse is automatic.
func NewStack[A Arena](opts ...Option) *StackDevice[A] {
	cfg := newConfig("Stack", opts)
	parent := log.Logger
	if cfg.logger != nil {
		parent = *cfg.logger
	}
	return &StackDevice[A]{
		id:      nextDeviceID(),
		name:    cfg.name,
		metrics: newDeviceMetrics(cfg.name),
		logger:  parent.With().Str("device", cfg.name).Logger(),
	}
}

func (s *StackDevice[A]) Kind() mem.Kind      { return mem.KindStack }
func (s *StackDevice[A]) ID() mem.DeviceID    { return s.id }
func (s *StackDevice[A]) Name() string        { return s.name }
func (s *StackDevice[A]) Cache() *cache.Cache { return nil }
func (s *StackDevice[A]) Stats() Stats        { return s.stats }
func (s *StackDevice[A]) Synchronize() error  { return nil }

func (s *StackDevice[A]) Capabilities() mem.Capabilities {
	return mem.Capabilities{HostAddressable: true, BoundedCapacity: true}
}

// Capacity is the arena size in bytes.
func (s *StackDevice[A]) Capacity() int {
	return int(unsafe.Sizeof(s.arena))
}

// Used is the number of arena bytes below the bump pointer.
func (s *StackDevice[A]) Used() int {
	return s.top
}

func (s *StackDevice[A]) storage() []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(&s.arena)), unsafe.Sizeof(s.arena))
}

func (s *StackDevice[A]) Allocate(count int, dtype mem.DType) (mem.Region, error) {
	if s.closed {
		return mem.Region{}, errors.Wrapf(mem.ErrDeviceClosed, "%s: allocate", s.name)
	}
	if count < 0 || dtype.Size() == 0 {
		return mem.Region{}, errors.Wrapf(mem.ErrInvalidCount, "%s: allocate %d x %s", s.name, count, dtype)
	}
	// Capacity failures return the bare sentinel and never touch the heap.
	nbytes, ok := mem.ByteSize(count, dtype)
	if !ok || nbytes > s.Capacity()-s.top {
		return mem.Region{}, mem.ErrCapacityExceeded
	}
	aligned := (nbytes + 7) &^ 7
	if s.nslots == maxStackRegions {
		return mem.Region{}, mem.ErrCapacityExceeded
	}

	s.nextID++
	slot := s.nslots
	s.slots[slot] = stackSlot{id: s.nextID, offset: s.top, size: aligned}
	s.nslots++

	host := s.storage()[s.top : s.top+nbytes : s.top+nbytes]
	clear(host)
	s.top += aligned
	s.stats.allocated(s.metrics, nbytes)

	r := mem.NewRegion(s.nextID, s.id, mem.KindStack, dtype, count, mem.Handle(slot))
	return r.WithHost(host), nil
}

func (s *StackDevice[A]) Deallocate(r mem.Region) error {
	if s.closed {
		return errors.Wrapf(mem.ErrDeviceClosed, "%s: free region %d", s.name, r.ID)
	}
	slot, err := s.slot(r)
	if err != nil {
		return err
	}
	slot.freed = true
	s.stats.freed(s.metrics, r.Bytes())

	for s.nslots > 0 && s.slots[s.nslots-1].freed {
		s.nslots--
		s.top = s.slots[s.nslots].offset
		s.slots[s.nslots] = stackSlot{}
	}
	return nil
}

func (s *StackDevice[A]) CopyIn(r mem.Region, offset int, src []byte) error {
	host, err := s.transferTarget(r, offset, len(src))
	if err != nil {
		return err
	}
	copy(host, src)
	return nil
}

func (s *StackDevice[A]) CopyOut(r mem.Region, offset int, dst []byte) error {
	host, err := s.transferTarget(r, offset, len(dst))
	if err != nil {
		return err
	}
	copy(dst, host)
	return nil
}

// Close invalidates every region; the arena itself goes away with the device.
func (s *StackDevice[A]) Close() error {
	if s.closed {
		return nil
	}
	if s.stats.LiveRegions > 0 {
		s.logger.Warn().Int("regions", s.stats.LiveRegions).Msg("closing stack device with live regions")
		for i := 0; i < s.nslots; i++ {
			if sl := s.slots[i]; !sl.freed {
				s.stats.Frees++
				s.metrics.frees.Inc()
			}
		}
		s.metrics.liveBytes.Sub(float64(s.stats.LiveBytes))
		s.stats.LiveRegions = 0
		s.stats.LiveBytes = 0
	}
	s.nslots = 0
	s.top = 0
	s.closed = true
	return nil
}

func (s *StackDevice[A]) slot(r mem.Region) (*stackSlot, error) {
	if r.Device != s.id {
		return nil, errors.Wrapf(mem.ErrUnsupported, "%s: region %d belongs to device %d", s.name, r.ID, r.Device)
	}
	i := int(r.Handle)
	if i < 0 || i >= s.nslots || s.slots[i].id != r.ID || s.slots[i].freed {
		return nil, errors.Wrapf(mem.ErrDoubleFree, "%s: region %d", s.name, r.ID)
	}
	return &s.slots[i], nil
}

func (s *StackDevice[A]) transferTarget(r mem.Region, offset, n int) ([]byte, error) {
	if s.closed {
		return nil, errors.Wrapf(mem.ErrDeviceClosed, "%s: transfer", s.name)
	}
	sl, err := s.slot(r)
	if err != nil {
		return nil, errors.Wrapf(mem.ErrReleased, "%s: region %d", s.name, r.ID)
	}
	if offset < 0 || offset+n > r.Bytes() {
		return nil, errors.Wrapf(mem.ErrSizeMismatch, "%s: %d bytes at offset %d into %d-byte region", s.name, n, offset, r.Bytes())
	}
	start := sl.offset + offset
	return s.storage()[start : start+n], nil
}
