package mem

// DeviceID identifies one Device instance within the process.
type DeviceID uint64

// RegionID identifies a Region within its device.
type RegionID uint64

// Handle is the backend's opaque reference to a region: a driver buffer
// handle for GPU devices, an arena slot for the stack device.
type Handle uintptr

// Region is a raw allocation of Count elements of DType on one device.
// Regions are plain values; the element count never changes after creation.
type Region struct {
	ID     RegionID
	Device DeviceID
	Kind   Kind
	DType  DType
	Count  int
	Handle Handle

	host        []byte
	addressable bool
}

// NewRegion describes an opaque region reachable only through its handle.
func NewRegion(id RegionID, dev DeviceID, kind Kind, dtype DType, count int, h Handle) Region {
	return Region{ID: id, Device: dev, Kind: kind, DType: dtype, Count: count, Handle: h}
}

// WithHost returns a copy of r backed by host memory b.
func (r Region) WithHost(b []byte) Region {
	r.host = b
	r.addressable = true
	return r
}

// Host returns the host bytes of the region, nil when it is opaque.
func (r Region) Host() []byte {
	return r.host
}

// HostAddressable reports whether Host can be used directly.
func (r Region) HostAddressable() bool {
	return r.addressable
}

// Bytes is the size of the region in bytes.
func (r Region) Bytes() int {
	return r.Count * r.DType.Size()
}

// Valid reports whether r was produced by a device.
func (r Region) Valid() bool {
	return r.ID != 0
}
