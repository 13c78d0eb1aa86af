// Package cache reuses device regions across repeated calls from the same
// call site. Each device owns one Cache; the key is the pair (device, site)
// and at most one region is retained per key.
//
// Keying by static call site instead of runtime shape makes reuse nearly free
// in loops that allocate the same shapes every iteration. A site whose shape
// changes between calls misses every time; that is expected behaviour.
package cache

import (
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-quiver/internal/mem"
)

// Allocator is the device side of the cache. The cache never touches backend
// memory on its own; every allocation and free goes through the device.
type Allocator interface {
	ID() mem.DeviceID
	Name() string
	Allocate(count int, dtype mem.DType) (mem.Region, error)
	Deallocate(r mem.Region) error
}

// Key identifies one allocation site on one device.
type Key struct {
	Device mem.DeviceID
	Site   mem.Site
}

// Entry is a resident region and its bookkeeping.
type Entry struct {
	Key    Key
	Region mem.Region
	// Uses counts hand-outs, including the allocation that created the entry.
	Uses uint64
	// InUse is set while a buffer holds the region.
	InUse bool
}

// Stats summarises cache activity.
type Stats struct {
	Hits          uint64 `cbor:"hits"`
	Misses        uint64 `cbor:"misses"`
	Evictions     uint64 `cbor:"evictions"`
	Resident      int    `cbor:"resident"`
	ResidentBytes int    `cbor:"resident_bytes"`
}

// Cache is not safe for concurrent use: it belongs to the goroutine that
// owns its device.
type Cache struct {
	alloc Allocator

	// index maps keys to slots in entries. Buffers hold (site, region) values,
	// never pointers into entries, so growing the slice is safe.
	index   map[Key]int
	entries []Entry
	free    []int

	stats   Stats
	metrics cacheMetrics
	logger  zerolog.Logger
}

// New creates an empty cache that allocates through alloc.
func New(alloc Allocator) *Cache {
	return &Cache{
		alloc:   alloc,
		index:   make(map[Key]int),
		metrics: newCacheMetrics(alloc.Name()),
		logger:  log.With().Str("component", "cache").Str("device", alloc.Name()).Logger(),
	}
}

// GetOrAllocate returns a region for site with count elements of dtype.
//
// The boolean reports whether the region is cache-managed: true means it must
// be handed back with Return; false means the caller owns it outright and
// frees it through the device. That happens for SiteNone and when the entry
// for site is still held by a live buffer, so one region never has two owners.
func (c *Cache) GetOrAllocate(site mem.Site, count int, dtype mem.DType) (mem.Region, bool, error) {
	// Reject impossible requests before an idle entry is evicted for them.
	if count < 0 || dtype.Size() == 0 {
		return mem.Region{}, false, errors.Wrapf(mem.ErrInvalidCount, "cache: %d x %s", count, dtype)
	}
	if _, ok := mem.ByteSize(count, dtype); !ok {
		return mem.Region{}, false, errors.Wrapf(mem.ErrOutOfMemory, "cache: %d x %s overflows the address space", count, dtype)
	}

	if site == mem.SiteNone {
		r, err := c.alloc.Allocate(count, dtype)
		return r, false, err
	}

	key := Key{Device: c.alloc.ID(), Site: site}
	if slot, ok := c.index[key]; ok {
		e := &c.entries[slot]
		switch {
		case e.InUse:
			c.miss()
			c.logger.Debug().Uint64("site", uint64(site)).Msg("site busy, allocating uncached region")
			r, err := c.alloc.Allocate(count, dtype)
			return r, false, err
		case e.Region.Count == count && e.Region.DType == dtype:
			e.Uses++
			e.InUse = true
			c.stats.Hits++
			c.metrics.hits.Inc()
			return e.Region, true, nil
		default:
			if err := c.evict(slot); err != nil {
				return mem.Region{}, false, err
			}
		}
	}

	c.miss()
	r, err := c.alloc.Allocate(count, dtype)
	if err != nil {
		return mem.Region{}, false, err
	}
	c.insert(Entry{Key: key, Region: r, Uses: 1, InUse: true})
	return r, true, nil
}

// Return hands a region back to the entry for site. It reports false when
// the region is not the one cached there; the caller must then free it.
func (c *Cache) Return(site mem.Site, r mem.Region) bool {
	slot, ok := c.index[Key{Device: c.alloc.ID(), Site: site}]
	if !ok {
		return false
	}
	e := &c.entries[slot]
	if !e.InUse || e.Region.ID != r.ID {
		return false
	}
	e.InUse = false
	return true
}

// Lookup returns the entry for site, if any.
func (c *Cache) Lookup(site mem.Site) (Entry, bool) {
	slot, ok := c.index[Key{Device: c.alloc.ID(), Site: site}]
	if !ok {
		return Entry{}, false
	}
	return c.entries[slot], true
}

// Len is the number of resident regions.
func (c *Cache) Len() int {
	return len(c.index)
}

// Stats returns a copy of the counters.
func (c *Cache) Stats() Stats {
	return c.stats
}

// Entries returns a copy of every resident entry.
func (c *Cache) Entries() []Entry {
	out := make([]Entry, 0, len(c.index))
	for _, slot := range c.index {
		out = append(out, c.entries[slot])
	}
	return out
}

// Clear frees every resident region, including ones still held by buffers.
// Devices call it on teardown. The first free error is returned after all
// entries have been dropped.
func (c *Cache) Clear() error {
	var first error
	for _, slot := range c.index {
		r := c.entries[slot].Region
		if err := c.alloc.Deallocate(r); err != nil && first == nil {
			first = errors.Wrapf(err, "cache: free region %d", r.ID)
		}
	}
	if n := len(c.index); n > 0 {
		c.logger.Debug().Int("regions", n).Msg("cache cleared")
	}
	c.index = make(map[Key]int)
	c.entries = c.entries[:0]
	c.free = c.free[:0]
	c.metrics.resident.Sub(float64(c.stats.Resident))
	c.metrics.residentBytes.Sub(float64(c.stats.ResidentBytes))
	c.stats.Resident = 0
	c.stats.ResidentBytes = 0
	return first
}

func (c *Cache) miss() {
	c.stats.Misses++
	c.metrics.misses.Inc()
}

func (c *Cache) insert(e Entry) {
	var slot int
	if n := len(c.free); n > 0 {
		slot = c.free[n-1]
		c.free = c.free[:n-1]
		c.entries[slot] = e
	} else {
		slot = len(c.entries)
		c.entries = append(c.entries, e)
	}
	c.index[e.Key] = slot
	c.stats.Resident++
	c.stats.ResidentBytes += e.Region.Bytes()
	c.metrics.resident.Inc()
	c.metrics.residentBytes.Add(float64(e.Region.Bytes()))
}

// evict frees the region in slot. The entry is removed even when the free
// fails so a broken region is never handed out again.
func (c *Cache) evict(slot int) error {
	e := c.entries[slot]
	delete(c.index, e.Key)
	c.entries[slot] = Entry{}
	c.free = append(c.free, slot)
	c.stats.Resident--
	c.stats.ResidentBytes -= e.Region.Bytes()
	c.stats.Evictions++
	c.metrics.resident.Dec()
	c.metrics.residentBytes.Sub(float64(e.Region.Bytes()))
	c.metrics.evictions.Inc()

	c.logger.Debug().
		Uint64("site", uint64(e.Key.Site)).
		Int("count", e.Region.Count).
		Uint64("uses", e.Uses).
		Msg("evicting cached region")

	if err := c.alloc.Deallocate(e.Region); err != nil {
		return errors.Wrapf(err, "cache: evict region %d", e.Region.ID)
	}
	return nil
}

