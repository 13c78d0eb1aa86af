// Package ops runs reference kernels over buffers using only the Device and
// Buffer contracts, so the same code works on every backend.
//
// Output buffers are retrieved at the caller's source location: a loop that
// calls Add on the same line every iteration reuses one cached region.
package ops

import (
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-quiver/internal/buffer"
	"github.com/23skdu/longbow-quiver/internal/device"
	"github.com/23skdu/longbow-quiver/internal/graph"
	"github.com/23skdu/longbow-quiver/internal/mem"
)

// Number is the element types the host kernels compute on. Half floats are
// storage-only.
type Number interface {
	float32 | float64 |
		int8 | int16 | int32 | int64 |
		uint8 | uint16 | uint32 | uint64
}

// Engine binds kernels to one device and, optionally, a tape.
type Engine struct {
	dev    device.Device
	tape   *graph.Tape
	logger zerolog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithTape records every op on t.
func WithTape(t *graph.Tape) Option {
	return func(e *Engine) { e.tape = t }
}

// NewEngine creates an engine for dev.
func NewEngine(dev device.Device, opts ...Option) *Engine {
	e := &Engine{
		dev:    dev,
		logger: log.With().Str("component", "ops").Str("device", dev.Name()).Logger(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Engine) Device() device.Device { return e.dev }
func (e *Engine) Tape() *graph.Tape     { return e.tape }

// hostInput returns the elements of b for reading on the host. Opaque regions
// are staged through a copy.
func hostInput[T Number](b *buffer.Buffer[T]) ([]T, error) {
	if v, ok := b.Host(); ok {
		return v, nil
	}
	return b.Read()
}

// output retrieves the result buffer at site and runs fill on host memory,
// staging back to the device when the region is opaque.
func output[T Number](e *Engine, op string, site mem.Site, n int, inputs []mem.BufferID, fill func(dst []T)) (*buffer.Buffer[T], error) {
	out, err := buffer.Retrieve[T](e.dev, site, n)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: output", op)
	}

	if dst, ok := out.Host(); ok {
		fill(dst)
	} else {
		staged := make([]T, n)
		fill(staged)
		if err := out.Write(staged); err != nil {
			_ = out.Release()
			return nil, errors.Wrapf(err, "%s: stage output", op)
		}
		e.logger.Debug().Str("op", op).Int("len", n).Msg("staged output to device")
	}

	if e.tape != nil {
		if _, err := e.tape.Record(op, inputs, out.ID()); err != nil {
			_ = out.Release()
			return nil, err
		}
		out.Track(e.tape)
	}
	return out, nil
}

func (e *Engine) check(op string, bufs ...interface {
	Device() device.Device
	Released() bool
}) error {
	for _, b := range bufs {
		if b.Device().ID() != e.dev.ID() {
			return errors.Wrapf(mem.ErrUnsupported, "%s: input on %s, engine on %s", op, b.Device().Name(), e.dev.Name())
		}
		if b.Released() {
			return errors.Wrapf(mem.ErrReleased, "%s: input", op)
		}
	}
	return nil
}
