package device

import (
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"

	"github.com/23skdu/longbow-quiver/internal/mem"
)

// ensure interface compliance
var _ Device = (*CPUDevice)(nil)

// CPUDevice keeps regions in host memory obtained from an Arrow allocator.
type CPUDevice struct {
	*heapDevice
	host *hostMemory
}

// NewCPU creates a host-memory device. By default regions come from
// memory.NewGoAllocator (64-byte aligned) and the cache follows DefaultCaching.
func NewCPU(opts ...Option) *CPUDevice {
	cfg := newConfig("CPU", opts)
	if cfg.allocator == nil {
		cfg.allocator = memory.NewGoAllocator()
	}
	host := &hostMemory{allocator: cfg.allocator, limit: cfg.hostLimit}
	caps := mem.Capabilities{HostAddressable: true}
	return &CPUDevice{
		heapDevice: newHeapDevice(mem.KindCPU, caps, host, cfg),
		host:       host,
	}
}

// HostUsage returns live host bytes and the configured limit (0 = none).
func (d *CPUDevice) HostUsage() (int64, int64) {
	return d.host.used, d.host.limit
}

type hostMemory struct {
	allocator memory.Allocator
	limit int64
	used  int64
}

func (m *hostMemory) alloc(nbytes int) (mem.Handle, []byte, error) {
	if m.limit > 0 && int64(nbytes) > m.limit-m.used {
		return 0, nil, errors.Wrapf(mem.ErrOutOfMemory, "cpu: %s requested, %s of %s in use",
			humanize.Bytes(uint64(nbytes)), humanize.Bytes(uint64(m.used)), humanize.Bytes(uint64(m.limit)))
	}
	if nbytes == 0 {
		return 0, []byte{}, nil
	}
	b := m.allocator.Allocate(nbytes)
	m.used += int64(nbytes)
	return 0, b, nil
}

func (m *hostMemory) free(r mem.Region) error {
	b := r.Host()
	if len(b) == 0 {
		return nil
	}
	m.used -= int64(len(b))
	m.allocator.Free(b)
	return nil
}

func (m *hostMemory) write(r mem.Region, offset int, src []byte) error {
	copy(r.Host()[offset:], src)
	return nil
}

func (m *hostMemory) read(r mem.Region, offset int, dst []byte) error {
	copy(dst, r.Host()[offset:])
	return nil
}

func (m *hostMemory) sync() error {
	// CPU is always synchronous
	return nil
}
