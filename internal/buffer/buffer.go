// Package buffer provides Buffer, a typed handle to a region on a device.
//
// A buffer either owns its region (and frees it, or hands it back to the
// device cache, on Release) or borrows one it must never free. Buffers share
// the single-owner rule of their device: they are not safe for concurrent use.
package buffer

import (
	"github.com/pkg/errors"

	"github.com/23skdu/longbow-quiver/internal/device"
	"github.com/23skdu/longbow-quiver/internal/mem"
)

// Mode is the ownership mode of a buffer.
type Mode uint8

const (
	// Owned buffers free their region on Release.
	Owned Mode = iota
	// Cached buffers hand their region back to the device cache on Release.
	Cached
	// Borrowed buffers never free anything.
	Borrowed
)

func (m Mode) String() string {
	switch m {
	case Owned:
		return "owned"
	case Cached:
		return "cached"
	case Borrowed:
		return "borrowed"
	default:
		return "unknown"
	}
}

// Tracker is notified when a buffer is released. The graph tape implements
// it so freed identities stay distinguishable from live ones.
type Tracker interface {
	Released(id mem.BufferID)
}

// Buffer is a typed view of length elements of a region.
type Buffer[T mem.Element] struct {
	dev    device.Device
	region mem.Region
	site   mem.Site
	length int
	mode   Mode
	id     mem.BufferID

	// owner is set on views taken with (*Buffer).Borrow.
	owner    *Buffer[T]
	released bool
	tracker  Tracker
}

// New allocates a fresh region of n elements that the buffer owns outright.
func New[T mem.Element](dev device.Device, n int) (*Buffer[T], error) {
	r, err := dev.Allocate(n, mem.DTypeOf[T]())
	if err != nil {
		return nil, errors.Wrapf(err, "buffer: new %d x %s", n, mem.DTypeOf[T]())
	}
	return &Buffer[T]{dev: dev, region: r, length: n, mode: Owned, id: mem.NextBufferID()}, nil
}

// Retrieve returns a buffer of n elements for site, reusing the region the
// device cache holds for it when the shape matches. Without a cache it
// behaves like New. Contents of a reused region are whatever the previous
// holder left there.
func Retrieve[T mem.Element](dev device.Device, site mem.Site, n int) (*Buffer[T], error) {
	c := dev.Cache()
	if c == nil {
		b, err := New[T](dev, n)
		if err != nil {
			return nil, err
		}
		b.site = site
		return b, nil
	}

	r, cached, err := c.GetOrAllocate(site, n, mem.DTypeOf[T]())
	if err != nil {
		return nil, errors.Wrapf(err, "buffer: retrieve %d x %s", n, mem.DTypeOf[T]())
	}
	mode := Owned
	if cached {
		mode = Cached
	}
	return &Buffer[T]{dev: dev, region: r, site: site, length: n, mode: mode, id: mem.NextBufferID()}, nil
}

// FromSlice allocates an owned buffer and copies data into it.
func FromSlice[T mem.Element](dev device.Device, data []T) (*Buffer[T], error) {
	b, err := New[T](dev, len(data))
	if err != nil {
		return nil, err
	}
	if err := b.Write(data); err != nil {
		_ = b.Release()
		return nil, err
	}
	return b, nil
}

// Borrow wraps the first n elements of a region owned elsewhere. Releasing
// the result never frees the region.
func Borrow[T mem.Element](dev device.Device, r mem.Region, n int) (*Buffer[T], error) {
	if r.Device != dev.ID() {
		return nil, errors.Wrapf(mem.ErrUnsupported, "buffer: region %d is not on %s", r.ID, dev.Name())
	}
	if r.DType != mem.DTypeOf[T]() {
		return nil, errors.Wrapf(mem.ErrUnsupported, "buffer: borrow %s region as %s", r.DType, mem.DTypeOf[T]())
	}
	if n < 0 || n > r.Count {
		return nil, errors.Wrapf(mem.ErrSizeMismatch, "buffer: borrow %d of %d elements", n, r.Count)
	}
	return &Buffer[T]{dev: dev, region: r, length: n, mode: Borrowed, id: mem.NextBufferID()}, nil
}

// Borrow returns a non-owning view of b. Using the view after b is released
// fails with mem.ErrReleased.
func (b *Buffer[T]) Borrow() *Buffer[T] {
	owner := b
	if b.owner != nil {
		owner = b.owner
	}
	return &Buffer[T]{
		dev:    b.dev,
		region: b.region,
		length: b.length,
		mode:   Borrowed,
		id:     mem.NextBufferID(),
		owner:  owner,
	}
}

func (b *Buffer[T]) Len() int              { return b.length }
func (b *Buffer[T]) Device() device.Device { return b.dev }
func (b *Buffer[T]) ID() mem.BufferID      { return b.id }
func (b *Buffer[T]) Site() mem.Site        { return b.site }
func (b *Buffer[T]) Mode() Mode            { return b.mode }

// Region exposes the raw region for kernels.
func (b *Buffer[T]) Region() mem.Region { return b.region }

// Released reports whether Release has been called, or the owner of a view
// has been released.
func (b *Buffer[T]) Released() bool {
	return b.released || (b.owner != nil && b.owner.released)
}

// Track registers t to be notified on Release.
func (b *Buffer[T]) Track(t Tracker) {
	b.tracker = t
}

// Host returns the elements in place when the region is host-addressable.
func (b *Buffer[T]) Host() ([]T, bool) {
	if b.Released() || !b.region.HostAddressable() {
		return nil, false
	}
	return b.view(), true
}

// At returns element i.
func (b *Buffer[T]) At(i int) (T, error) {
	var one [1]T
	if err := b.check(i); err != nil {
		return one[0], err
	}
	if b.region.HostAddressable() {
		return b.view()[i], nil
	}
	size := b.region.DType.Size()
	if err := b.dev.CopyOut(b.region, i*size, mem.AsBytes(one[:])); err != nil {
		return one[0], errors.Wrapf(err, "buffer: read element %d", i)
	}
	return one[0], nil
}

// Set stores v at element i.
func (b *Buffer[T]) Set(i int, v T) error {
	if err := b.check(i); err != nil {
		return err
	}
	if b.region.HostAddressable() {
		b.view()[i] = v
		return nil
	}
	one := [1]T{v}
	size := b.region.DType.Size()
	if err := b.dev.CopyIn(b.region, i*size, mem.AsBytes(one[:])); err != nil {
		return errors.Wrapf(err, "buffer: write element %d", i)
	}
	return nil
}

// Read copies the contents to a new slice.
func (b *Buffer[T]) Read() ([]T, error) {
	if err := b.live(); err != nil {
		return nil, err
	}
	out := make([]T, b.length)
	if b.length == 0 {
		return out, nil
	}
	if b.region.HostAddressable() {
		copy(out, b.view())
		return out, nil
	}
	if err := b.dev.CopyOut(b.region, 0, mem.AsBytes(out)); err != nil {
		return nil, errors.Wrap(err, "buffer: read")
	}
	return out, nil
}

// Write replaces the contents with src, which must have exactly Len elements.
func (b *Buffer[T]) Write(src []T) error {
	if err := b.live(); err != nil {
		return err
	}
	if len(src) != b.length {
		return errors.Wrapf(mem.ErrSizeMismatch, "buffer: write %d elements into %d", len(src), b.length)
	}
	if b.length == 0 {
		return nil
	}
	if b.region.HostAddressable() {
		copy(b.view(), src)
		return nil
	}
	if err := b.dev.CopyIn(b.region, 0, mem.AsBytes(src)); err != nil {
		return errors.Wrap(err, "buffer: write")
	}
	return nil
}

// Clear sets every element to zero.
func (b *Buffer[T]) Clear() error {
	if err := b.live(); err != nil {
		return err
	}
	if b.region.HostAddressable() {
		clear(b.view())
		return nil
	}
	return b.Write(make([]T, b.length))
}

// Release gives up the buffer's claim on its region. Cached regions go back
// to the device cache under the same site, owned regions are freed, borrowed
// regions are left alone. Releasing twice fails with mem.ErrDoubleFree.
func (b *Buffer[T]) Release() error {
	if b.released {
		return errors.Wrapf(mem.ErrDoubleFree, "buffer: %d already released", b.id)
	}
	b.released = true
	if b.tracker != nil {
		b.tracker.Released(b.id)
	}

	switch b.mode {
	case Borrowed:
		return nil
	case Cached:
		if c := b.dev.Cache(); c != nil && c.Return(b.site, b.region) {
			return nil
		}
	}
	if err := b.dev.Deallocate(b.region); err != nil {
		return errors.Wrapf(err, "buffer: release %d", b.id)
	}
	return nil
}

func (b *Buffer[T]) view() []T {
	if b.length == 0 {
		return []T{}
	}
	return mem.FromBytes[T](b.region.Host())[:b.length]
}

func (b *Buffer[T]) live() error {
	if b.Released() {
		return errors.Wrapf(mem.ErrReleased, "buffer: %d", b.id)
	}
	return nil
}

func (b *Buffer[T]) check(i int) error {
	if err := b.live(); err != nil {
		return err
	}
	if i < 0 || i >= b.length {
		return errors.Wrapf(mem.ErrIndexOutOfRange, "buffer: index %d, length %d", i, b.length)
	}
	return nil
}
