package ops

import (
	"github.com/pkg/errors"

	"github.com/23skdu/longbow-quiver/internal/buffer"
	"github.com/23skdu/longbow-quiver/internal/mem"
	"github.com/23skdu/longbow-quiver/internal/simd"
)

// Add returns a + b.
func Add[T Number](e *Engine, a, b *buffer.Buffer[T]) (*buffer.Buffer[T], error) {
	return binary(e, "add", mem.CallerSite(1), a, b, simd.Add[T])
}

// Mul returns the elementwise product of a and b.
func Mul[T Number](e *Engine, a, b *buffer.Buffer[T]) (*buffer.Buffer[T], error) {
	return binary(e, "mul", mem.CallerSite(1), a, b, simd.Mul[T])
}

// Scale returns a * s.
func Scale[T Number](e *Engine, a *buffer.Buffer[T], s T) (*buffer.Buffer[T], error) {
	if err := e.check("scale", a); err != nil {
		return nil, err
	}
	av, err := hostInput(a)
	if err != nil {
		return nil, errors.Wrap(err, "scale: input")
	}
	return output(e, "scale", mem.CallerSite(1), a.Len(), []mem.BufferID{a.ID()}, func(dst []T) {
		simd.Scale(dst, av, s)
	})
}

// Sum reduces a to a one-element buffer.
func Sum[T Number](e *Engine, a *buffer.Buffer[T]) (*buffer.Buffer[T], error) {
	if err := e.check("sum", a); err != nil {
		return nil, err
	}
	av, err := hostInput(a)
	if err != nil {
		return nil, errors.Wrap(err, "sum: input")
	}
	return output(e, "sum", mem.CallerSite(1), 1, []mem.BufferID{a.ID()}, func(dst []T) {
		dst[0] = simd.Sum(av)
	})
}

func binary[T Number](e *Engine, op string, site mem.Site, a, b *buffer.Buffer[T], kernel func(dst, a, b []T)) (*buffer.Buffer[T], error) {
	if err := e.check(op, a, b); err != nil {
		return nil, err
	}
	if a.Len() != b.Len() {
		return nil, errors.Wrapf(mem.ErrSizeMismatch, "%s: lengths %d and %d", op, a.Len(), b.Len())
	}
	av, err := hostInput(a)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: lhs", op)
	}
	bv, err := hostInput(b)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: rhs", op)
	}
	return output(e, op, site, a.Len(), []mem.BufferID{a.ID(), b.ID()}, func(dst []T) {
		kernel(dst, av, bv)
	})
}
