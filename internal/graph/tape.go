// Package graph records buffer-producing operations for a downstream
// differentiation pass.
//
// The tape stores buffer identities only. It never owns or keeps buffers
// alive, so whether recording is on has no effect on buffer lifetime or on
// the device cache.
package graph

import (
	"iter"

	"github.com/pkg/errors"

	"github.com/23skdu/longbow-quiver/internal/mem"
)

var (
	ErrInvalidBuffer   = errors.New("graph: invalid buffer id")
	ErrDuplicateOutput = errors.New("graph: buffer already has a producer")
	ErrNodeOutOfRange  = errors.New("graph: node index out of range")
)

// Leaf marks a parent slot whose input was not produced on this tape.
const Leaf = -1

// Node is one recorded operation.
type Node struct {
	Index  int
	Op     string
	Inputs []mem.BufferID
	Output mem.BufferID
	// Parents holds, for each input, the index of the node that produced it,
	// or Leaf.
	Parents []int
}

// IsLeaf reports whether no input of n was produced on the tape.
func (n Node) IsLeaf() bool {
	for _, p := range n.Parents {
		if p != Leaf {
			return false
		}
	}
	return true
}

// Tape is an append-only operation log. Like devices it belongs to one
// goroutine.
type Tape struct {
	nodes     []Node
	producer  map[mem.BufferID]int
	released  map[mem.BufferID]struct{}
	recording bool
}

// NewTape returns an empty tape that is recording.
func NewTape() *Tape {
	return &Tape{
		nodes:     make([]Node, 0, 64),
		producer:  make(map[mem.BufferID]int),
		released:  make(map[mem.BufferID]struct{}),
		recording: true,
	}
}

func (t *Tape) Start()            { t.recording = true }
func (t *Tape) Stop()             { t.recording = false }
func (t *Tape) IsRecording() bool { return t.recording }

// Record appends a node and returns its index. While the tape is stopped it
// records nothing and returns Leaf.
func (t *Tape) Record(op string, inputs []mem.BufferID, output mem.BufferID) (int, error) {
	if !t.recording {
		return Leaf, nil
	}
	if output == 0 {
		return Leaf, errors.Wrapf(ErrInvalidBuffer, "record %s", op)
	}
	if prev, ok := t.producer[output]; ok {
		return Leaf, errors.Wrapf(ErrDuplicateOutput, "record %s: buffer %d produced by node %d", op, output, prev)
	}

	parents := make([]int, len(inputs))
	for i, in := range inputs {
		if in == 0 {
			return Leaf, errors.Wrapf(ErrInvalidBuffer, "record %s: input %d", op, i)
		}
		parents[i] = Leaf
		if p, ok := t.producer[in]; ok {
			parents[i] = p
		}
	}

	idx := len(t.nodes)
	t.nodes = append(t.nodes, Node{
		Index:   idx,
		Op:      op,
		Inputs:  append([]mem.BufferID(nil), inputs...),
		Output:  output,
		Parents: parents,
	})
	t.producer[output] = idx
	return idx, nil
}

// Nodes yields recorded nodes in creation order. The sequence can be ranged
// over any number of times; nodes appended mid-iteration are not visited.
func (t *Tape) Nodes() iter.Seq[Node] {
	return func(yield func(Node) bool) {
		n := len(t.nodes)
		for i := 0; i < n; i++ {
			if !yield(t.nodes[i]) {
				return
			}
		}
	}
}

// Backward yields recorded nodes newest first.
func (t *Tape) Backward() iter.Seq[Node] {
	return func(yield func(Node) bool) {
		for i := len(t.nodes) - 1; i >= 0; i-- {
			if !yield(t.nodes[i]) {
				return
			}
		}
	}
}

func (t *Tape) Len() int { return len(t.nodes) }

// Node returns the node at index i.
func (t *Tape) Node(i int) (Node, error) {
	if i < 0 || i >= len(t.nodes) {
		return Node{}, errors.Wrapf(ErrNodeOutOfRange, "node %d of %d", i, len(t.nodes))
	}
	return t.nodes[i], nil
}

// Producer returns the index of the node that produced id.
func (t *Tape) Producer(id mem.BufferID) (int, bool) {
	i, ok := t.producer[id]
	return i, ok
}

// Released marks id as freed. It satisfies buffer.Tracker.
func (t *Tape) Released(id mem.BufferID) {
	t.released[id] = struct{}{}
}

// Live reports whether id has not been released. Identities the tape has
// never seen count as live.
func (t *Tape) Live(id mem.BufferID) bool {
	_, gone := t.released[id]
	return !gone
}

// Clear drops every node. The recording switch is left as it is.
func (t *Tape) Clear() {
	t.nodes = t.nodes[:0]
	clear(t.producer)
	clear(t.released)
}
