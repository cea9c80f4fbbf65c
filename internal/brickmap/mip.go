package brickmap

import "go.uber.org/multierr"

// Mip is the aggregate of a node's subtree: occupancy for empty-space skipping
// plus solid voxel count and mean color for level of detail.
type Mip struct {
	Occupied bool
	Solid    uint32
	Color    Color
}

type mipAccumulator struct {
	solid      uint64
	r, g, b, a uint64
}

func (acc *mipAccumulator) add(m Mip) {
	if m.Solid == 0 {
		return
	}
	w := uint64(m.Solid)
	acc.solid += w
	acc.r += uint64(m.Color.R) * w
	acc.g += uint64(m.Color.G) * w
	acc.b += uint64(m.Color.B) * w
	acc.a += uint64(m.Color.A) * w
}

func (acc *mipAccumulator) mip() Mip {
	if acc.solid == 0 {
		return Mip{Occupied: true}
	}
	n := acc.solid
	solid := uint32(BrickOffset)
	if n < uint64(solid) {
		solid = uint32(n)
	}
	return Mip{
		Occupied: true,
		Solid:    solid,
		Color:    Color{R: uint8(acc.r / n), G: uint8(acc.g / n), B: uint8(acc.b / n), A: uint8(acc.a / n)},
	}
}

// RecreateMipmaps recomputes every aggregate bottom-up. An internal node whose
// eight children are all empty is pruned to empty. Leaf brick content is never
// touched, and running it twice on an unmodified tree changes nothing.
// Structural faults are collected and returned; their subtrees are skipped.
func (t *Tree) RecreateMipmaps() error {
	var errs error
	t.mipNode(0, 0, &errs)
	return errs
}

func (t *Tree) mipNode(idx, depth uint32, errs *error) Mip {
	var m Mip
	switch n := t.nodes[idx]; n.Kind() {
	case KindLeaf:
		b, ok := t.store.at(n.Brick())
		if !ok || n.Brick() == EmptyBrickIndex {
			*errs = multierr.Append(*errs, t.violation(idx, depth, "leaf references missing brick"))
			break
		}
		m = Mip{Occupied: b.solid > 0, Solid: uint32(b.solid), Color: b.Average()}
	case KindInternal:
		if depth >= t.depth {
			*errs = multierr.Append(*errs, t.violation(idx, depth, "internal node at brick level"))
			break
		}
		base := n.Children()
		if uint64(base)+8 > uint64(len(t.nodes)) {
			*errs = multierr.Append(*errs, t.violation(idx, depth, "child block outside arena"))
			break
		}
		var acc mipAccumulator
		allEmpty := true
		for o := uint32(0); o < 8; o++ {
			acc.add(t.mipNode(base+o, depth+1, errs))
			if t.nodes[base+o] != 0 {
				allEmpty = false
			}
		}
		if allEmpty {
			t.nodes[idx] = 0
			break
		}
		m = acc.mip()
	}
	t.mips[idx] = m
	return m
}
