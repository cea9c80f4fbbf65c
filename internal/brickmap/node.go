package brickmap

// Node encoding, one little-endian uint32 per node:
//
//	0                      empty, no children
//	1 .. BrickOffset       internal, value is the arena index of 8 contiguous children
//	> BrickOffset          leaf, value-BrickOffset is the brick index
//
// Children are stored in octant order: index = xbit | ybit<<1 | zbit<<2.
// The node arena never grows past BrickOffset entries, so the internal and
// leaf ranges cannot overlap.
const BrickOffset uint32 = 1 << 31

type Node uint32

type NodeKind uint8

const (
	KindEmpty NodeKind = iota
	KindInternal
	KindLeaf
)

func (k NodeKind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindInternal:
		return "internal"
	default:
		return "leaf"
	}
}

func (n Node) Kind() NodeKind {
	switch {
	case n == 0:
		return KindEmpty
	case uint32(n) <= BrickOffset:
		return KindInternal
	default:
		return KindLeaf
	}
}

// Children is the arena index of the first child. Only meaningful for internal nodes.
func (n Node) Children() uint32 {
	return uint32(n)
}

// Brick is the brick index of a leaf node.
func (n Node) Brick() BrickIndex {
	return BrickIndex(uint32(n) - BrickOffset)
}

func internalNode(base uint32) Node {
	return Node(base)
}

func leafNode(i BrickIndex) Node {
	return Node(BrickOffset + uint32(i))
}

// octant picks the child for pos at the given bit of each axis.
func octant(pos UVec3, shift uint32) uint32 {
	return (pos.X>>shift)&1 | ((pos.Y>>shift)&1)<<1 | ((pos.Z>>shift)&1)<<2
}

func octantOffset(o uint32) UVec3 {
	return UVec3{X: o & 1, Y: (o >> 1) & 1, Z: (o >> 2) & 1}
}
