package device

import (
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-quiver/internal/mem"
)

func TestStackDevice_Capacity(t *testing.T) {
	assert.Equal(t, 256, NewStack[Stack256]().Capacity())
	assert.Equal(t, 4096, NewStack[Stack4K]().Capacity())
	assert.Equal(t, 65536, NewStack[Stack64K]().Capacity())

	s := NewStack[Stack256](WithCaching(true))
	caps := s.Capabilities()
	assert.True(t, caps.BoundedCapacity)
	assert.True(t, caps.HostAddressable)
	assert.False(t, caps.Caching)
	assert.Nil(t, s.Cache())
}

func TestStackDevice_CapacityExceeded(t *testing.T) {
	s := NewStack[Stack256]()

	_, err := s.Allocate(65, mem.Float32)
	require.Error(t, err)
	assert.True(t, errors.Is(err, mem.ErrCapacityExceeded))
	assert.False(t, errors.Is(err, mem.ErrOutOfMemory))
	assert.Equal(t, 0, s.Used())
	assert.Equal(t, uint64(0), s.Stats().Allocations)

	r, err := s.Allocate(64, mem.Float32)
	require.NoError(t, err, "exactly the capacity fits")
	assert.Equal(t, 256, s.Used())
	require.NoError(t, s.Deallocate(r))
	assert.Equal(t, 0, s.Used())
}

func TestStackDevice_CountOverflow(t *testing.T) {
	s := NewStack[Stack256]()

	for _, count := range []int{math.MaxInt/8 + 1, 1 << 61, math.MaxInt} {
		_, err := s.Allocate(count, mem.Float64)
		require.Error(t, err, "count %d", count)
		assert.True(t, errors.Is(err, mem.ErrCapacityExceeded), "count %d", count)
	}
	assert.Equal(t, 0, s.Used())
	assert.Equal(t, uint64(0), s.Stats().Allocations)
}

func TestStackDevice_HeapFree(t *testing.T) {
	s := NewStack[Stack256]()

	exceeded := testing.AllocsPerRun(100, func() {
		_, _ = s.Allocate(1000, mem.Float32)
	})
	assert.Equal(t, 0.0, exceeded, "capacity failure must not allocate")

	cycle := testing.AllocsPerRun(100, func() {
		r, err := s.Allocate(16, mem.Float32)
		if err == nil {
			_ = s.Deallocate(r)
		}
	})
	assert.Equal(t, 0.0, cycle, "allocate/deallocate must not allocate")
	assert.Equal(t, 0, s.Used())
}

func TestStackDevice_LIFOReclaim(t *testing.T) {
	s := NewStack[Stack256]()

	a, err := s.Allocate(3, mem.Float32) // 12 bytes, padded to 16
	require.NoError(t, err)
	b, err := s.Allocate(2, mem.Float64)
	require.NoError(t, err)
	assert.Equal(t, 32, s.Used())

	// freeing the lower region first only marks it
	require.NoError(t, s.Deallocate(a))
	assert.Equal(t, 32, s.Used())

	require.NoError(t, s.Deallocate(b))
	assert.Equal(t, 0, s.Used(), "both regions reclaimed once the top is gone")

	err = s.Deallocate(b)
	assert.True(t, errors.Is(err, mem.ErrDoubleFree))
}

func TestStackDevice_RegionsAreZeroedAndAligned(t *testing.T) {
	s := NewStack[Stack256]()

	r, err := s.Allocate(4, mem.Float32)
	require.NoError(t, err)
	view := mem.FromBytes[float32](r.Host())
	for i := range view {
		view[i] = 5
	}
	require.NoError(t, s.Deallocate(r))

	again, err := s.Allocate(4, mem.Float32)
	require.NoError(t, err)
	for _, v := range mem.FromBytes[float32](again.Host()) {
		assert.Equal(t, float32(0), v, "reused arena bytes are cleared")
	}

	_, err = s.Allocate(1, mem.Uint8)
	require.NoError(t, err)
	r2, err := s.Allocate(2, mem.Float64)
	require.NoError(t, err)
	assert.Equal(t, 0, int(uintptrOf(r2.Host())%8), "regions are word aligned")
}

func TestStackDevice_SlotExhaustion(t *testing.T) {
	s := NewStack[Stack4K]()
	for i := 0; i < maxStackRegions; i++ {
		_, err := s.Allocate(1, mem.Uint8)
		require.NoError(t, err)
	}
	_, err := s.Allocate(1, mem.Uint8)
	assert.True(t, errors.Is(err, mem.ErrCapacityExceeded))
}

func TestStackDevice_CopyAndClose(t *testing.T) {
	s := NewStack[Stack256]()

	r, err := s.Allocate(2, mem.Int32)
	require.NoError(t, err)
	require.NoError(t, s.CopyIn(r, 0, mem.AsBytes([]int32{3, 4})))

	out := make([]int32, 2)
	require.NoError(t, s.CopyOut(r, 0, mem.AsBytes(out)))
	assert.Equal(t, []int32{3, 4}, out)

	require.NoError(t, s.Close())
	assert.Equal(t, 0, s.Stats().LiveRegions)
	_, err = s.Allocate(1, mem.Int32)
	assert.True(t, errors.Is(err, mem.ErrDeviceClosed))
}
