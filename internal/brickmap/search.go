package brickmap

import "go.uber.org/multierr"

// Visitor receives every node reached by RecursiveSearch. pos is the node's
// corner in brick units; depth is 0 at the root.
type Visitor func(index uint32, pos UVec3, depth uint32)

// RecursiveSearch walks the tree depth-first in pre-order, children in octant
// order. Every reachable node is visited, including empty and internal ones;
// filtering is the visitor's job. Empty and leaf nodes are not descended into.
//
// A node found below brick level is still handed to the visitor once (so it can
// log and discard it), reported as a *ConsistencyError and not descended into.
// The walk always finishes; all violations are combined into the returned error.
func (t *Tree) RecursiveSearch(visit Visitor) error {
	var errs error
	t.search(0, UVec3{}, 0, visit, &errs)
	return errs
}

func (t *Tree) search(idx uint32, pos UVec3, depth uint32, visit Visitor, errs *error) {
	if depth > t.depth {
		*errs = multierr.Append(*errs, t.violation(idx, depth, "node below brick level"))
		visit(idx, pos, depth)
		return
	}
	visit(idx, pos, depth)

	n := t.nodes[idx]
	if n.Kind() != KindInternal {
		return
	}
	base := n.Children()
	if uint64(base)+8 > uint64(len(t.nodes)) {
		*errs = multierr.Append(*errs, t.violation(idx, depth, "child block outside arena"))
		return
	}
	var half uint32
	if depth < t.depth {
		half = uint32(1) << (t.depth - depth - 1)
	}
	for o := uint32(0); o < 8; o++ {
		t.search(base+o, pos.Add(octantOffset(o).Scale(half)), depth+1, visit, errs)
	}
}
