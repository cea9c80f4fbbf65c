package brickmap

import (
	"fmt"

	"go.uber.org/multierr"
)

// Restore rebuilds a tree from raw node values and the full brick arena
// (bricks[0] must be the reserved empty brick). Nothing is checked beyond
// shape; call Validate before trusting the result. Mips start zeroed.
func Restore(depth uint32, nodes []uint32, bricks []Brick) (*Tree, error) {
	if depth > MaxDepth {
		return nil, fmt.Errorf("%w: %d > %d", ErrDepth, depth, MaxDepth)
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("restore: empty node array")
	}
	if uint64(len(nodes)) > uint64(BrickOffset) {
		return nil, fmt.Errorf("%w: %d nodes", ErrArenaFull, len(nodes))
	}
	if len(bricks) == 0 || !bricks[0].IsEmpty() {
		return nil, fmt.Errorf("%w: brick 0 must be the empty brick", ErrBrickIndex)
	}
	if len(bricks) > maxBricks {
		return nil, fmt.Errorf("%w: %d bricks", ErrArenaFull, len(bricks))
	}
	t := &Tree{
		depth: depth,
		nodes: make([]Node, len(nodes)),
		mips:  make([]Mip, len(nodes)),
		store: &Store{bricks: append([]Brick(nil), bricks...)},
	}
	for i, v := range nodes {
		t.nodes[i] = Node(v)
	}
	return t, nil
}

// Validate walks the tree and reports every structural fault: nodes below
// brick level, child blocks outside the arena, internal nodes at brick level
// and leaves pointing at missing bricks. Leaves above brick level are legal
// (coarse bricks) and pass.
func (t *Tree) Validate() error {
	var errs error
	walkErr := t.RecursiveSearch(func(index uint32, _ UVec3, depth uint32) {
		switch n := t.nodes[index]; n.Kind() {
		case KindInternal:
			if depth == t.depth {
				errs = multierr.Append(errs, t.violation(index, depth, "internal node at brick level"))
			}
		case KindLeaf:
			if n.Brick() == EmptyBrickIndex || int(n.Brick()) >= t.store.Len() {
				errs = multierr.Append(errs, t.violation(index, depth, "leaf references missing brick"))
			}
		}
	})
	return multierr.Append(walkErr, errs)
}
