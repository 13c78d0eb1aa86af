//go:build realloc

package device

// DefaultCaching is false in realloc builds: buffers allocate fresh on every
// creation and free on every release.
const DefaultCaching = false
