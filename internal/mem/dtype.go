// Package mem holds the vocabulary shared by every layer of the engine:
// element types, device kinds and capabilities, memory regions, call-site
// identities and the error kinds surfaced by allocation and access.
package mem

import (
	"math"
	"unsafe"

	"github.com/x448/float16"
)

// DType identifies the element type stored in a Region.
type DType uint8

const (
	Invalid DType = iota
	Float16
	Float32
	Float64
	Int8
	Int16
	Int32
	Int64
	Uint8
	Uint16
	Uint32
	Uint64
)

var dtypeNames = [...]string{
	Invalid: "invalid",
	Float16: "f16",
	Float32: "f32",
	Float64: "f64",
	Int8:    "i8",
	Int16:   "i16",
	Int32:   "i32",
	Int64:   "i64",
	Uint8:   "u8",
	Uint16:  "u16",
	Uint32:  "u32",
	Uint64:  "u64",
}

var dtypeSizes = [...]int{
	Float16: 2,
	Float32: 4,
	Float64: 8,
	Int8:    1,
	Int16:   2,
	Int32:   4,
	Int64:   8,
	Uint8:   1,
	Uint16:  2,
	Uint32:  4,
	Uint64:  8,
}

func (d DType) String() string {
	if int(d) < len(dtypeNames) {
		return dtypeNames[d]
	}
	return "invalid"
}

// Size returns the width of one element in bytes, 0 for Invalid.
func (d DType) Size() int {
	if int(d) < len(dtypeSizes) {
		return dtypeSizes[d]
	}
	return 0
}

// ByteSize returns count elements of d in bytes. ok is false for a negative
// count, an invalid dtype, or a product that does not fit in an int.
func ByteSize(count int, d DType) (n int, ok bool) {
	size := d.Size()
	if count < 0 || size == 0 || count > math.MaxInt/size {
		return 0, false
	}
	return count * size, true
}

// Element is the set of Go types a Buffer can hold.
type Element interface {
	float16.Float16 | float32 | float64 |
		int8 | int16 | int32 | int64 |
		uint8 | uint16 | uint32 | uint64
}

// DTypeOf returns the DType for T.
func DTypeOf[T Element]() DType {
	var zero T
	switch any(zero).(type) {
	case float16.Float16:
		return Float16
	case float32:
		return Float32
	case float64:
		return Float64
	case int8:
		return Int8
	case int16:
		return Int16
	case int32:
		return Int32
	case int64:
		return Int64
	case uint8:
		return Uint8
	case uint16:
		return Uint16
	case uint32:
		return Uint32
	case uint64:
		return Uint64
	}
	return Invalid
}

// AsBytes reinterprets s as its raw bytes without copying.
func AsBytes[T Element](s []T) []byte {
	if len(s) == 0 {
		return nil
	}
	var zero T
	return unsafe.Slice((*byte)(unsafe.Pointer(&s[0])), len(s)*int(unsafe.Sizeof(zero)))
}

// FromBytes reinterprets b as a slice of T without copying. b must be aligned
// for T; every allocator in this module hands out at least 8-byte alignment.
func FromBytes[T Element](b []byte) []T {
	var zero T
	size := int(unsafe.Sizeof(zero))
	if len(b) < size {
		return nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(&b[0])), len(b)/size)
}

// ToFloat64 widens a single element, used by exporters and reductions.
func ToFloat64[T Element](v T) float64 {
	switch x := any(v).(type) {
	case float16.Float16:
		return float64(x.Float32())
	case float32:
		return float64(x)
	case float64:
		return x
	case int8:
		return float64(x)
	case int16:
		return float64(x)
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	case uint8:
		return float64(x)
	case uint16:
		return float64(x)
	case uint32:
		return float64(x)
	case uint64:
		return float64(x)
	}
	return 0
}
