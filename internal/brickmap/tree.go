package brickmap

import (
	"encoding/binary"
	"fmt"

	"go.uber.org/multierr"
)

// MaxDepth bounds the tree so a fully populated arena stays below BrickOffset.
const MaxDepth = 10

// Tree is a flat, arena-backed sparse octree over bricks. Root is node 0.
//
// Tree is not safe for concurrent mutation. Readers (RecursiveSearch, buffers)
// may run concurrently with each other but never with PlaceBrick or
// RecreateMipmaps; the owner enforces that.
type Tree struct {
	depth uint32
	nodes []Node
	mips  []Mip
	store *Store
}

func New(depth uint32) (*Tree, error) {
	if depth > MaxDepth {
		return nil, fmt.Errorf("%w: %d > %d", ErrDepth, depth, MaxDepth)
	}
	return &Tree{
		depth: depth,
		nodes: []Node{0},
		mips:  []Mip{{}},
		store: NewStore(),
	}, nil
}

// Depth is the number of levels from the root to brick level.
func (t *Tree) Depth() uint32 {
	return t.depth
}

// SideBricks is the world side length in bricks.
func (t *Tree) SideBricks() uint32 {
	return uint32(1) << t.depth
}

func (t *Tree) Len() int {
	return len(t.nodes)
}

func (t *Tree) Node(i uint32) Node {
	if int(i) >= len(t.nodes) {
		return 0
	}
	return t.nodes[i]
}

func (t *Tree) Mip(i uint32) Mip {
	if int(i) >= len(t.mips) {
		return Mip{}
	}
	return t.mips[i]
}

func (t *Tree) Store() *Store {
	return t.store
}

func (t *Tree) contains(pos UVec3) bool {
	side := t.SideBricks()
	return pos.X < side && pos.Y < side && pos.Z < side
}

func (t *Tree) allocBlock() (uint32, error) {
	if uint64(len(t.nodes))+8 > uint64(BrickOffset) {
		return 0, fmt.Errorf("%w: %d nodes", ErrArenaFull, len(t.nodes))
	}
	base := uint32(len(t.nodes))
	var block [8]Node
	var mips [8]Mip
	t.nodes = append(t.nodes, block[:]...)
	t.mips = append(t.mips, mips[:]...)
	return base, nil
}

func (t *Tree) violation(idx, depth uint32, reason string) error {
	err := &ConsistencyError{Index: idx, Depth: depth, MaxDepth: t.depth, Reason: reason}
	assertConsistent(err)
	return err
}

// PlaceBrick writes b at a brick-grid coordinate, allocating internal blocks
// for any missing level. An existing leaf is replaced in place; an empty brick
// clears the leaf. Coordinates beyond 2^Depth fail with ErrOutOfBounds and
// leave the tree untouched.
func (t *Tree) PlaceBrick(b Brick, pos UVec3) error {
	if !t.contains(pos) {
		return fmt.Errorf("%w: brick %s exceeds %d bricks per axis", ErrOutOfBounds, pos, t.SideBricks())
	}
	if uint64(len(t.nodes))+uint64(t.depth)*8 > uint64(BrickOffset) {
		return fmt.Errorf("%w: %d nodes", ErrArenaFull, len(t.nodes))
	}
	if !b.IsEmpty() && t.store.full() {
		return fmt.Errorf("%w: %d bricks", ErrArenaFull, t.store.Len())
	}

	idx := uint32(0)
	for level := uint32(0); level < t.depth; level++ {
		switch n := t.nodes[idx]; n.Kind() {
		case KindLeaf:
			return fmt.Errorf("%w: node %d at depth %d", ErrLeafCollision, idx, level)
		case KindEmpty:
			if b.IsEmpty() {
				// nothing below an empty node; clearing is a no-op
				return nil
			}
			base, err := t.allocBlock()
			if err != nil {
				return err
			}
			t.nodes[idx] = internalNode(base)
		case KindInternal:
			if uint64(n.Children())+8 > uint64(len(t.nodes)) {
				return t.violation(idx, level, "child block outside arena")
			}
		}
		idx = t.nodes[idx].Children() + octant(pos, t.depth-level-1)
	}
	return t.writeLeaf(idx, b)
}

func (t *Tree) writeLeaf(idx uint32, b Brick) error {
	switch n := t.nodes[idx]; n.Kind() {
	case KindInternal:
		return t.violation(idx, t.depth, "internal node at brick level")
	case KindLeaf:
		if b.IsEmpty() {
			t.nodes[idx] = 0
			return nil
		}
		return t.store.Replace(n.Brick(), b)
	default:
		if b.IsEmpty() {
			return nil
		}
		bi, err := t.store.Allocate(b)
		if err != nil {
			return err
		}
		t.nodes[idx] = leafNode(bi)
		return nil
	}
}

// Lookup returns the brick index stored at a brick-grid coordinate.
func (t *Tree) Lookup(pos UVec3) (BrickIndex, bool) {
	if !t.contains(pos) {
		return 0, false
	}
	idx := uint32(0)
	for level := uint32(0); level < t.depth; level++ {
		n := t.nodes[idx]
		if n.Kind() != KindInternal || uint64(n.Children())+8 > uint64(len(t.nodes)) {
			return 0, false
		}
		idx = n.Children() + octant(pos, t.depth-level-1)
	}
	n := t.nodes[idx]
	if n.Kind() != KindLeaf {
		return 0, false
	}
	return n.Brick(), true
}

// NodeBuffer is the raw node array, little-endian u32 per node.
func (t *Tree) NodeBuffer() []byte {
	out := make([]byte, 4*len(t.nodes))
	for i, n := range t.nodes {
		binary.LittleEndian.PutUint32(out[i*4:], uint32(n))
	}
	return out
}

// Nodes returns a copy of the raw node values.
func (t *Tree) Nodes() []uint32 {
	out := make([]uint32, len(t.nodes))
	for i, n := range t.nodes {
		out[i] = uint32(n)
	}
	return out
}

type Stats struct {
	Depth    uint32
	Nodes    int
	Internal int
	Leaves   int
	Bricks   int
	// Nodes left in the arena by pruning and no longer reachable.
	Garbage int
	// Structural faults met while counting; Garbage is approximate when set.
	Violations int
}

func (t *Tree) Stats() Stats {
	s := Stats{Depth: t.depth, Nodes: len(t.nodes), Bricks: t.store.Len() - 1}
	reachable := 0
	err := t.RecursiveSearch(func(index uint32, _ UVec3, _ uint32) {
		reachable++
		switch t.nodes[index].Kind() {
		case KindInternal:
			s.Internal++
		case KindLeaf:
			s.Leaves++
		}
	})
	s.Violations = len(multierr.Errors(err))
	s.Garbage = len(t.nodes) - reachable
	return s
}
