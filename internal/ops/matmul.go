package ops

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
	"gonum.org/v1/gonum/mat"

	"github.com/23skdu/longbow-quiver/internal/buffer"
	"github.com/23skdu/longbow-quiver/internal/mem"
	"github.com/23skdu/longbow-quiver/internal/simd"
)

// MatMul multiplies row-major a (m x k) by b (k x n). float32 goes through
// blas32 Gemm, float64 through gonum/mat, other types through the host loop.
func MatMul[T Number](e *Engine, a, b *buffer.Buffer[T], m, k, n int) (*buffer.Buffer[T], error) {
	if err := e.check("matmul", a, b); err != nil {
		return nil, err
	}
	if m < 0 || k < 0 || n < 0 {
		return nil, errors.Wrapf(mem.ErrInvalidCount, "matmul: %dx%d * %dx%d", m, k, k, n)
	}
	if a.Len() != m*k || b.Len() != k*n {
		return nil, errors.Wrapf(mem.ErrSizeMismatch, "matmul: %dx%d * %dx%d with lengths %d and %d", m, k, k, n, a.Len(), b.Len())
	}
	av, err := hostInput(a)
	if err != nil {
		return nil, errors.Wrap(err, "matmul: lhs")
	}
	bv, err := hostInput(b)
	if err != nil {
		return nil, errors.Wrap(err, "matmul: rhs")
	}
	return output(e, "matmul", mem.CallerSite(1), m*n, []mem.BufferID{a.ID(), b.ID()}, func(dst []T) {
		matmul(dst, av, bv, m, k, n)
	})
}

func matmul[T Number](dst, a, b []T, m, k, n int) {
	if m == 0 || n == 0 {
		return
	}
	if k == 0 {
		clear(dst)
		return
	}
	switch d := any(dst).(type) {
	case []float32:
		blas32.Gemm(blas.NoTrans, blas.NoTrans, 1,
			blas32.General{Rows: m, Cols: k, Stride: k, Data: any(a).([]float32)},
			blas32.General{Rows: k, Cols: n, Stride: n, Data: any(b).([]float32)},
			0,
			blas32.General{Rows: m, Cols: n, Stride: n, Data: d})
	case []float64:
		c := mat.NewDense(m, n, d)
		c.Mul(mat.NewDense(m, k, any(a).([]float64)), mat.NewDense(k, n, any(b).([]float64)))
	default:
		simd.MatMul(dst, a, b, m, k, n)
	}
}
