package ops

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-quiver/internal/buffer"
	"github.com/23skdu/longbow-quiver/internal/device"
	"github.com/23skdu/longbow-quiver/internal/graph"
	"github.com/23skdu/longbow-quiver/internal/mem"
)

func testDevices() map[string]device.Device {
	return map[string]device.Device{
		"cpu":            device.NewCPU(device.WithCaching(true)),
		"cuda":           device.NewCUDA(device.NewSimDriver("ops-cuda", 0, false), device.WithCaching(true)),
		"opencl-unified": device.NewOpenCL(device.NewSimDriver("ops-cl", 0, true), device.WithCaching(true)),
		"stack":          device.NewStack[device.Stack4K](),
	}
}

func TestElementwise(t *testing.T) {
	for name, dev := range testDevices() {
		t.Run(name, func(t *testing.T) {
			defer dev.Close()
			e := NewEngine(dev)

			a, err := buffer.FromSlice(dev, []float32{1, 2, 3, 4, 5})
			require.NoError(t, err)
			b, err := buffer.FromSlice(dev, []float32{10, 20, 30, 40, 50})
			require.NoError(t, err)

			sum, err := Add(e, a, b)
			require.NoError(t, err)
			got, err := sum.Read()
			require.NoError(t, err)
			assert.Equal(t, []float32{11, 22, 33, 44, 55}, got)

			prod, err := Mul(e, a, b)
			require.NoError(t, err)
			got, err = prod.Read()
			require.NoError(t, err)
			assert.Equal(t, []float32{10, 40, 90, 160, 250}, got)

			scaled, err := Scale(e, a, 2)
			require.NoError(t, err)
			got, err = scaled.Read()
			require.NoError(t, err)
			assert.Equal(t, []float32{2, 4, 6, 8, 10}, got)

			total, err := Sum(e, b)
			require.NoError(t, err)
			v, err := total.At(0)
			require.NoError(t, err)
			assert.Equal(t, float32(150), v)

			for _, buf := range []*buffer.Buffer[float32]{total, scaled, prod, sum, b, a} {
				require.NoError(t, buf.Release())
			}
			assert.Equal(t, 0, dev.Stats().LiveRegions-residentRegions(dev))
		})
	}
}

func residentRegions(dev device.Device) int {
	if c := dev.Cache(); c != nil {
		return c.Len()
	}
	return 0
}

func TestMatMul(t *testing.T) {
	dev := device.NewCPU()
	defer dev.Close()
	e := NewEngine(dev)

	// 2x3 * 3x2
	a32, _ := buffer.FromSlice(dev, []float32{1, 2, 3, 4, 5, 6})
	b32, _ := buffer.FromSlice(dev, []float32{7, 8, 9, 10, 11, 12})
	c32, err := MatMul(e, a32, b32, 2, 3, 2)
	require.NoError(t, err)
	got32, _ := c32.Read()
	assert.Equal(t, []float32{58, 64, 139, 154}, got32)

	a64, _ := buffer.FromSlice(dev, []float64{1, 2, 3, 4, 5, 6})
	b64, _ := buffer.FromSlice(dev, []float64{7, 8, 9, 10, 11, 12})
	c64, err := MatMul(e, a64, b64, 2, 3, 2)
	require.NoError(t, err)
	got64, _ := c64.Read()
	assert.Equal(t, []float64{58, 64, 139, 154}, got64)

	ai, _ := buffer.FromSlice(dev, []int32{1, 2, 3, 4, 5, 6})
	bi, _ := buffer.FromSlice(dev, []int32{7, 8, 9, 10, 11, 12})
	ci, err := MatMul(e, ai, bi, 2, 3, 2)
	require.NoError(t, err)
	goti, _ := ci.Read()
	assert.Equal(t, []int32{58, 64, 139, 154}, goti)

	_, err = MatMul(e, a32, b32, 3, 3, 2)
	assert.True(t, errors.Is(err, mem.ErrSizeMismatch))
}

func TestMatMul_OpaqueDevice(t *testing.T) {
	drv := device.NewSimDriver("mm", 0, false)
	dev := device.NewCUDA(drv)
	defer dev.Close()
	e := NewEngine(dev)

	a, _ := buffer.FromSlice(dev, []float32{1, 0, 0, 1})
	b, _ := buffer.FromSlice(dev, []float32{3, 4, 5, 6})
	c, err := MatMul(e, a, b, 2, 2, 2)
	require.NoError(t, err)
	got, err := c.Read()
	require.NoError(t, err)
	assert.Equal(t, []float32{3, 4, 5, 6}, got)
}

func TestAdd_ReusesRegionInLoop(t *testing.T) {
	drv := device.NewSimDriver("loop", 0, false)
	dev := device.NewCUDA(drv, device.WithCaching(true))
	defer dev.Close()
	e := NewEngine(dev)

	a, _ := buffer.FromSlice(dev, []float64{1, 2, 3, 4})
	b, _ := buffer.FromSlice(dev, []float64{1, 1, 1, 1})
	base := drv.Mallocs()

	for i := 0; i < 100; i++ {
		out, err := Add(e, a, b)
		require.NoError(t, err)
		assert.Equal(t, buffer.Cached, out.Mode())
		require.NoError(t, out.Release())
	}
	assert.Equal(t, base+1, drv.Mallocs(), "one output region for the call site")
	assert.Equal(t, 1, dev.Cache().Len())
}

func TestAdd_DistinctCallSites(t *testing.T) {
	dev := device.NewCPU(device.WithCaching(true))
	defer dev.Close()
	e := NewEngine(dev)

	a, _ := buffer.FromSlice(dev, []int64{1, 2})
	x, err := Add(e, a, a)
	require.NoError(t, err)
	y, err := Add(e, a, a)
	require.NoError(t, err)

	assert.NotEqual(t, x.Site(), y.Site())
	assert.Equal(t, buffer.Cached, x.Mode())
	assert.Equal(t, buffer.Cached, y.Mode())
	require.NoError(t, x.Release())
	require.NoError(t, y.Release())
	assert.Equal(t, 2, dev.Cache().Len())
}

func TestOps_Errors(t *testing.T) {
	dev := device.NewCPU()
	defer dev.Close()
	other := device.NewCPU()
	defer other.Close()
	e := NewEngine(dev)

	a, _ := buffer.FromSlice(dev, []float32{1, 2})
	short, _ := buffer.FromSlice(dev, []float32{1})
	foreign, _ := buffer.FromSlice(other, []float32{1, 2})

	_, err := Add(e, a, short)
	assert.True(t, errors.Is(err, mem.ErrSizeMismatch))
	_, err = Mul(e, a, foreign)
	assert.True(t, errors.Is(err, mem.ErrUnsupported))

	require.NoError(t, short.Release())
	_, err = Scale(e, short, 2)
	assert.True(t, errors.Is(err, mem.ErrReleased))
}

func TestOps_RecordOnTape(t *testing.T) {
	dev := device.NewCPU()
	defer dev.Close()
	tape := graph.NewTape()
	e := NewEngine(dev, WithTape(tape))

	x, _ := buffer.FromSlice(dev, []float64{1, 2, 3})
	y, err := Scale(e, x, 2)
	require.NoError(t, err)
	z, err := Add(e, x, y)
	require.NoError(t, err)
	s, err := Sum(e, z)
	require.NoError(t, err)

	var order []string
	for n := range tape.Nodes() {
		order = append(order, n.Op)
	}
	assert.Equal(t, []string{"scale", "add", "sum"}, order)

	last, err := tape.Node(2)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, last.Parents)

	require.NoError(t, z.Release())
	assert.False(t, tape.Live(z.ID()))
	assert.True(t, tape.Live(s.ID()))
}
