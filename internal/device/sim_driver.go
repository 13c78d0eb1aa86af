package device

import (
	"github.com/pkg/errors"

	"github.com/23skdu/longbow-quiver/internal/mem"
)

var _ Driver = (*SimDriver)(nil)

var (
	errSimExhausted     = errors.New("sim: device memory exhausted")
	errSimInvalidHandle = errors.New("sim: invalid handle")
	errSimInjected      = errors.New("sim: injected transfer failure")
)

// SimDriver simulates a GPU runtime in process memory. It backs tests and the
// CLI when no native driver is linked in. Blocks are word-aligned so every
// element type can be viewed in place on unified drivers.
type SimDriver struct {
	name     string
	capacity int
	unified  bool

	blocks map[mem.Handle][]byte
	next   mem.Handle
	used   int

	mallocs    int
	frees      int
	copies     int
	failCopies int
}

// NewSimDriver creates a driver with capacity bytes of device memory
// (0 = unlimited). unified makes every block host-visible.
func NewSimDriver(name string, capacity int, unified bool) *SimDriver {
	return &SimDriver{
		name:     name,
		capacity: capacity,
		unified:  unified,
		blocks:   make(map[mem.Handle][]byte),
	}
}

func (s *SimDriver) Name() string  { return s.name }
func (s *SimDriver) Unified() bool { return s.unified }

func (s *SimDriver) Malloc(nbytes int) (mem.Handle, error) {
	if s.capacity > 0 && nbytes > s.capacity-s.used {
		return 0, errSimExhausted
	}
	words := make([]uint64, (nbytes+7)/8)
	block := mem.AsBytes(words)
	if block == nil {
		block = []byte{}
	}
	s.next++
	s.blocks[s.next] = block[:nbytes]
	s.used += nbytes
	s.mallocs++
	return s.next, nil
}

func (s *SimDriver) Free(h mem.Handle) error {
	b, ok := s.blocks[h]
	if !ok {
		return errSimInvalidHandle
	}
	delete(s.blocks, h)
	s.used -= len(b)
	s.frees++
	return nil
}

func (s *SimDriver) CopyToDevice(h mem.Handle, offset int, src []byte) error {
	b, err := s.transfer(h, offset, len(src))
	if err != nil {
		return err
	}
	copy(b, src)
	return nil
}

func (s *SimDriver) CopyToHost(h mem.Handle, offset int, dst []byte) error {
	b, err := s.transfer(h, offset, len(dst))
	if err != nil {
		return err
	}
	copy(dst, b)
	return nil
}

func (s *SimDriver) HostMemory(h mem.Handle) []byte {
	if !s.unified {
		return nil
	}
	return s.blocks[h]
}

func (s *SimDriver) Synchronize() error {
	return nil
}

// FailNextCopies makes the next n transfers fail.
func (s *SimDriver) FailNextCopies(n int) {
	s.failCopies = n
}

// Mallocs, Frees and Copies count driver calls.
func (s *SimDriver) Mallocs() int { return s.mallocs }
func (s *SimDriver) Frees() int   { return s.frees }
func (s *SimDriver) Copies() int  { return s.copies }

// Used returns bytes currently allocated.
func (s *SimDriver) Used() int { return s.used }

// Live returns the number of outstanding blocks.
func (s *SimDriver) Live() int { return len(s.blocks) }

func (s *SimDriver) transfer(h mem.Handle, offset, n int) ([]byte, error) {
	s.copies++
	if s.failCopies > 0 {
		s.failCopies--
		return nil, errSimInjected
	}
	b, ok := s.blocks[h]
	if !ok {
		return nil, errSimInvalidHandle
	}
	if offset < 0 || offset+n > len(b) {
		return nil, errors.Errorf("sim: %d bytes at offset %d out of %d", n, offset, len(b))
	}
	return b[offset : offset+n], nil
}
