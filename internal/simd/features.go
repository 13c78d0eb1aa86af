package simd

import (
	"runtime"

	"golang.org/x/sys/cpu"
)

// Features reports the vector extensions of the host CPU.
type Features struct {
	HasAVX2      bool   `cbor:"avx2"`
	HasAVX512    bool   `cbor:"avx512"`
	HasSSE2      bool   `cbor:"sse2"`
	HasNEON      bool   `cbor:"neon"`
	Architecture string `cbor:"arch"`
}

// DetectFeatures reports the available CPU features for the current process.
func DetectFeatures() Features {
	return Features{
		HasAVX2:      cpu.X86.HasAVX2,
		HasAVX512:    cpu.X86.HasAVX512,
		HasSSE2:      cpu.X86.HasSSE2,
		HasNEON:      cpu.ARM64.HasASIMD,
		Architecture: runtime.GOARCH,
	}
}

// Vector reports whether any vector extension is present.
func (f Features) Vector() bool {
	return f.HasAVX2 || f.HasAVX512 || f.HasSSE2 || f.HasNEON
}
