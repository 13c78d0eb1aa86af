//go:build !realloc

package device

// DefaultCaching is the cache mode devices start in unless WithCaching is
// given. Build with -tags realloc to default to direct reallocation.
const DefaultCaching = true
