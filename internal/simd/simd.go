// Package simd holds the unrolled host loops behind the reference kernels.
package simd

import "golang.org/x/exp/constraints"

// Number is every element type the host kernels do arithmetic on.
type Number interface {
	constraints.Integer | constraints.Float
}

// Add computes dst[i] = a[i] + b[i]. All slices must have the same length.
func Add[T Number](dst, a, b []T) {
	// Unrolled loop for better pipelining
	i := 0
	for ; i <= len(dst)-4; i += 4 {
		dst[i] = a[i] + b[i]
		dst[i+1] = a[i+1] + b[i+1]
		dst[i+2] = a[i+2] + b[i+2]
		dst[i+3] = a[i+3] + b[i+3]
	}
	// Handle remainder
	for ; i < len(dst); i++ {
		dst[i] = a[i] + b[i]
	}
}

// Mul computes dst[i] = a[i] * b[i].
func Mul[T Number](dst, a, b []T) {
	i := 0
	for ; i <= len(dst)-4; i += 4 {
		dst[i] = a[i] * b[i]
		dst[i+1] = a[i+1] * b[i+1]
		dst[i+2] = a[i+2] * b[i+2]
		dst[i+3] = a[i+3] * b[i+3]
	}
	for ; i < len(dst); i++ {
		dst[i] = a[i] * b[i]
	}
}

// Scale computes dst[i] = src[i] * s.
func Scale[T Number](dst, src []T, s T) {
	i := 0
	for ; i <= len(dst)-4; i += 4 {
		dst[i] = src[i] * s
		dst[i+1] = src[i+1] * s
		dst[i+2] = src[i+2] * s
		dst[i+3] = src[i+3] * s
	}
	for ; i < len(dst); i++ {
		dst[i] = src[i] * s
	}
}

// AddScaled performs dst += src * s.
func AddScaled[T Number](dst, src []T, s T) {
	i := 0
	for ; i <= len(dst)-4; i += 4 {
		dst[i] += src[i] * s
		dst[i+1] += src[i+1] * s
		dst[i+2] += src[i+2] * s
		dst[i+3] += src[i+3] * s
	}
	for ; i < len(dst); i++ {
		dst[i] += src[i] * s
	}
}

// Sum adds every element of a.
func Sum[T Number](a []T) T {
	var s0, s1, s2, s3 T
	i := 0
	for ; i <= len(a)-4; i += 4 {
		s0 += a[i]
		s1 += a[i+1]
		s2 += a[i+2]
		s3 += a[i+3]
	}
	for ; i < len(a); i++ {
		s0 += a[i]
	}
	return s0 + s1 + s2 + s3
}

// Dot computes the dot product of a and b.
func Dot[T Number](a, b []T) T {
	var sum T
	i := 0
	for ; i <= len(a)-4; i += 4 {
		sum += a[i] * b[i]
		sum += a[i+1] * b[i+1]
		sum += a[i+2] * b[i+2]
		sum += a[i+3] * b[i+3]
	}
	for ; i < len(a); i++ {
		sum += a[i] * b[i]
	}
	return sum
}

// MatVec performs dst = mat * vec where mat is rows x cols row-major.
func MatVec[T Number](dst, mat, vec []T, rows, cols int) {
	for i := 0; i < rows; i++ {
		rowStart := i * cols
		dst[i] = Dot(mat[rowStart:rowStart+cols], vec)
	}
}

// MatMul performs dst = a * b for row-major a (m x k) and b (k x n).
func MatMul[T Number](dst, a, b []T, m, k, n int) {
	clear(dst[:m*n])
	for i := 0; i < m; i++ {
		row := dst[i*n : (i+1)*n]
		for p := 0; p < k; p++ {
			AddScaled(row, b[p*n:(p+1)*n], a[i*k+p])
		}
	}
}
