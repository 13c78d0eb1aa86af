package device

import "github.com/23skdu/longbow-quiver/internal/mem"

// Driver is the call boundary to a GPU runtime. Implementations wrap the
// native API (cuMemAlloc/cuMemcpy, clCreateBuffer/clEnqueue*Buffer, ...);
// this package only relies on the signatures and failure contracts below.
//
// Copy calls must not return before the transfer is complete. Drivers do not
// retry; a failed copy is reported once and surfaced to the caller.
type Driver interface {
	Name() string

	// Malloc creates a device buffer of nbytes. Any error is reported to
	// callers as mem.ErrOutOfMemory.
	Malloc(nbytes int) (mem.Handle, error)
	Free(h mem.Handle) error

	CopyToDevice(h mem.Handle, offset int, src []byte) error
	CopyToHost(h mem.Handle, offset int, dst []byte) error

	// Unified reports whether device buffers are also host memory.
	Unified() bool
	// HostMemory returns the host view of h on unified drivers, nil otherwise.
	HostMemory(h mem.Handle) []byte

	Synchronize() error
}
