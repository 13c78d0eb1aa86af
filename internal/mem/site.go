package mem

import (
	"runtime"
	"sync/atomic"
)

// Site is a call-site identity: stable across calls from the same logical
// allocation point and distinct across different points. It is the cache key
// for region reuse, never a runtime value such as a shape.
type Site uint64

// SiteNone opts an allocation out of caching.
const SiteNone Site = 0

// explicit sites live in the upper half so they cannot collide with program
// counters produced by CallerSite.
const explicitSiteBit = 1 << 63

var siteCounter atomic.Uint64

// NewSite hands out a fresh identity. Call it once per logical site and keep
// the result, typically in a package-level variable:
//
//	var projSite = mem.NewSite()
func NewSite() Site {
	return Site(explicitSiteBit | siteCounter.Add(1))
}

// CallerSite derives an identity from the program counter of a calling frame.
// skip=0 names the caller of CallerSite, skip=1 its caller, and so on, so a
// library function can key its output buffer by the user's call site.
func CallerSite(skip int) Site {
	pc, _, _, ok := runtime.Caller(skip + 1)
	if !ok {
		return SiteNone
	}
	return Site(pc)
}

// Explicit reports whether s came from NewSite.
func (s Site) Explicit() bool {
	return s&explicitSiteBit != 0
}

// BufferID identifies a buffer for graph recording.
type BufferID uint64

var bufferCounter atomic.Uint64

// NextBufferID returns a process-unique buffer identity.
func NextBufferID() BufferID {
	return BufferID(bufferCounter.Add(1))
}
