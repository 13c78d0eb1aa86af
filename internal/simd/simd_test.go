package simd

import (
	"math"
	"runtime"
	"testing"
)

func TestAdd(t *testing.T) {
	a := []float32{1, 2, 3, 4, 5, 6, 7}
	b := []float32{7, 6, 5, 4, 3, 2, 1}
	dst := make([]float32, len(a))
	Add(dst, a, b)
	for i, v := range dst {
		if v != 8 {
			t.Errorf("dst[%d] = %v, want 8", i, v)
		}
	}
}

func TestMulScale(t *testing.T) {
	a := []int32{1, 2, 3, 4, 5}
	dst := make([]int32, len(a))
	Mul(dst, a, a)
	want := []int32{1, 4, 9, 16, 25}
	for i := range want {
		if dst[i] != want[i] {
			t.Errorf("Mul dst[%d] = %d, want %d", i, dst[i], want[i])
		}
	}

	Scale(dst, a, 3)
	for i := range a {
		if dst[i] != a[i]*3 {
			t.Errorf("Scale dst[%d] = %d, want %d", i, dst[i], a[i]*3)
		}
	}
}

func TestAddScaled(t *testing.T) {
	dst := []float64{1, 1, 1, 1, 1}
	src := []float64{1, 2, 3, 4, 5}
	AddScaled(dst, src, 2)
	for i := range dst {
		if want := 1 + 2*src[i]; dst[i] != want {
			t.Errorf("dst[%d] = %v, want %v", i, dst[i], want)
		}
	}
}

func TestSumDot(t *testing.T) {
	a := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9}
	if got := Sum(a); got != 45 {
		t.Errorf("Sum = %v, want 45", got)
	}
	if got := Sum([]int64{}); got != 0 {
		t.Errorf("Sum(empty) = %v, want 0", got)
	}
	if got := Dot(a, a); got != 285 {
		t.Errorf("Dot = %v, want 285", got)
	}
}

func TestMatVec(t *testing.T) {
	mat := []float32{
		1, 2, 3,
		4, 5, 6,
	}
	vec := []float32{1, 0, -1}
	dst := make([]float32, 2)
	MatVec(dst, mat, vec, 2, 3)
	if dst[0] != -2 || dst[1] != -2 {
		t.Errorf("MatVec = %v, want [-2 -2]", dst)
	}
}

func TestMatMul(t *testing.T) {
	// (2x3) * (3x2)
	a := []float64{1, 2, 3, 4, 5, 6}
	b := []float64{7, 8, 9, 10, 11, 12}
	dst := []float64{math.NaN(), math.NaN(), math.NaN(), math.NaN()}
	MatMul(dst, a, b, 2, 3, 2)
	want := []float64{58, 64, 139, 154}
	for i := range want {
		if dst[i] != want[i] {
			t.Errorf("dst[%d] = %v, want %v", i, dst[i], want[i])
		}
	}
}

func TestDetectFeatures(t *testing.T) {
	f := DetectFeatures()
	if f.Architecture != runtime.GOARCH {
		t.Errorf("Architecture = %q, want %q", f.Architecture, runtime.GOARCH)
	}
	// SSE2 is part of the amd64 baseline.
	if runtime.GOARCH == "amd64" && !f.HasSSE2 {
		t.Error("expected SSE2 on amd64")
	}
	if f.HasAVX512 && !f.Vector() {
		t.Error("Vector() false with AVX512 present")
	}
}

func BenchmarkDot(b *testing.B) {
	x := make([]float32, 1024)
	y := make([]float32, 1024)
	for i := range x {
		x[i] = float32(i)
		y[i] = 1
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = Dot(x, y)
	}
}
