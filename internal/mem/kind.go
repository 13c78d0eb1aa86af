package mem

// Kind enumerates the backends a Device can represent.
type Kind uint8

const (
	KindCPU Kind = iota
	// KindCUDA is the first GPU backend; its regions are opaque device handles.
	KindCUDA
	// KindOpenCL is the second GPU backend; host-addressable when the driver
	// exposes unified memory.
	KindOpenCL
	// KindStack is the fixed-capacity, heap-free backend.
	KindStack
)

func (k Kind) String() string {
	switch k {
	case KindCPU:
		return "CPU"
	case KindCUDA:
		return "CUDA"
	case KindOpenCL:
		return "OpenCL"
	case KindStack:
		return "Stack"
	default:
		return "Unknown"
	}
}

// Capabilities lets generic code branch on the addressing model of a device
// without inspecting its concrete type.
type Capabilities struct {
	// Caching is true when the device keeps a call-site cache.
	Caching bool
	// ReallocInPlace is reported for completeness; no device grows a region.
	ReallocInPlace bool
	// HostAddressable regions expose a host byte slice.
	HostAddressable bool
	// BoundedCapacity devices fail with ErrCapacityExceeded instead of ErrOutOfMemory.
	BoundedCapacity bool
}
