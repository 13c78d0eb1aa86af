package device

import (
	"github.com/pkg/errors"

	"github.com/23skdu/longbow-quiver/internal/mem"
)

// ensure interface compliance
var _ Device = (*GPUDevice)(nil)

// GPUDevice is a device whose regions are driver buffers.
type GPUDevice struct {
	*heapDevice
	driver Driver
}

// NewCUDA creates a device on the first GPU backend. CUDA regions are always
// opaque handles; element access goes through explicit transfers.
func NewCUDA(driver Driver, opts ...Option) *GPUDevice {
	cfg := newConfig("CUDA:"+driver.Name(), opts)
	return &GPUDevice{
		heapDevice: newHeapDevice(mem.KindCUDA, mem.Capabilities{}, &driverMemory{driver: driver}, cfg),
		driver:     driver,
	}
}

// NewOpenCL creates a device on the second GPU backend. When the driver
// exposes unified memory the regions are host-addressable and kernels on the
// host can use them without staging copies.
func NewOpenCL(driver Driver, opts ...Option) *GPUDevice {
	cfg := newConfig("OpenCL:"+driver.Name(), opts)
	unified := driver.Unified()
	caps := mem.Capabilities{HostAddressable: unified}
	return &GPUDevice{
		heapDevice: newHeapDevice(mem.KindOpenCL, caps, &driverMemory{driver: driver, unified: unified}, cfg),
		driver:     driver,
	}
}

// Driver returns the underlying driver.
func (d *GPUDevice) Driver() Driver {
	return d.driver
}

type driverMemory struct {
	driver  Driver
	unified bool
}

func (m *driverMemory) alloc(nbytes int) (mem.Handle, []byte, error) {
	h, err := m.driver.Malloc(nbytes)
	if err != nil {
		return 0, nil, errors.Wrapf(mem.ErrOutOfMemory, "%s: malloc %d bytes: %v", m.driver.Name(), nbytes, err)
	}
	var host []byte
	if m.unified {
		host = m.driver.HostMemory(h)
	}
	return h, host, nil
}

func (m *driverMemory) free(r mem.Region) error {
	if err := m.driver.Free(r.Handle); err != nil {
		return errors.Wrapf(err, "%s: free region %d", m.driver.Name(), r.ID)
	}
	return nil
}

func (m *driverMemory) write(r mem.Region, offset int, src []byte) error {
	if m.unified {
		copy(r.Host()[offset:], src)
		return nil
	}
	if err := m.driver.CopyToDevice(r.Handle, offset, src); err != nil {
		return &mem.TransferError{Op: "copy to device", Device: m.driver.Name(), Err: err}
	}
	return nil
}

func (m *driverMemory) read(r mem.Region, offset int, dst []byte) error {
	if m.unified {
		copy(dst, r.Host()[offset:])
		return nil
	}
	if err := m.driver.CopyToHost(r.Handle, offset, dst); err != nil {
		return &mem.TransferError{Op: "copy to host", Device: m.driver.Name(), Err: err}
	}
	return nil
}

func (m *driverMemory) sync() error {
	if err := m.driver.Synchronize(); err != nil {
		return &mem.TransferError{Op: "synchronize", Device: m.driver.Name(), Err: err}
	}
	return nil
}
