package brickmap

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

var (
	grass = RGBA(62, 204, 18, 255)
	dirt  = RGBA(120, 80, 40, 255)
)

func solidBrick(t *testing.T, c Color) Brick {
	t.Helper()
	b := EmptyBrick()
	for z := uint32(0); z < BrickSize; z++ {
		for y := uint32(0); y < BrickSize; y++ {
			for x := uint32(0); x < BrickSize; x++ {
				require.NoError(t, b.Write(UVec3{x, y, z}, c))
			}
		}
	}
	return b
}

func oneVoxel(t *testing.T, c Color) Brick {
	t.Helper()
	b := EmptyBrick()
	require.NoError(t, b.Write(UVec3{1, 2, 3}, c))
	return b
}

type visit struct {
	index uint32
	pos   UVec3
	depth uint32
}

func leaves(t *testing.T, tr *Tree) []visit {
	t.Helper()
	var out []visit
	err := tr.RecursiveSearch(func(index uint32, pos UVec3, depth uint32) {
		if tr.Node(index).Kind() == KindLeaf {
			out = append(out, visit{index, pos, depth})
		}
	})
	require.NoError(t, err)
	return out
}

func TestPlaceBrickEveryCoordinate(t *testing.T) {
	const depth = 2
	side := uint32(1) << depth
	for z := uint32(0); z < side; z++ {
		for y := uint32(0); y < side; y++ {
			for x := uint32(0); x < side; x++ {
				tr, err := New(depth)
				require.NoError(t, err)
				pos := UVec3{x, y, z}
				require.NoError(t, tr.PlaceBrick(oneVoxel(t, grass), pos))

				got := leaves(t, tr)
				require.Len(t, got, 1, "pos %s", pos)
				require.Equal(t, pos, got[0].pos)
				require.Equal(t, uint32(depth), got[0].depth)

				bi, ok := tr.Lookup(pos)
				require.True(t, ok)
				require.Equal(t, tr.Node(got[0].index).Brick(), bi)
			}
		}
	}
}

func TestPlaceBrickOctantOrder(t *testing.T) {
	cases := []struct {
		pos    UVec3
		octant uint32
	}{
		{UVec3{0, 0, 0}, 0},
		{UVec3{1, 0, 0}, 1},
		{UVec3{0, 1, 0}, 2},
		{UVec3{0, 0, 1}, 4},
		{UVec3{1, 1, 1}, 7},
	}
	for _, tc := range cases {
		tr, err := New(1)
		require.NoError(t, err)
		require.NoError(t, tr.PlaceBrick(oneVoxel(t, grass), tc.pos))
		base := tr.Node(0).Children()
		require.Equal(t, KindLeaf, tr.Node(base+tc.octant).Kind(), "pos %s", tc.pos)
	}
}

func TestPlaceBrickOutOfBoundsLeavesTreeUnchanged(t *testing.T) {
	tr, err := New(2)
	require.NoError(t, err)
	require.NoError(t, tr.PlaceBrick(oneVoxel(t, grass), UVec3{1, 1, 1}))

	nodes := tr.Nodes()
	bricks := tr.Store().Len()

	for _, pos := range []UVec3{{4, 0, 0}, {0, 4, 0}, {0, 0, 4}, {1 << 20, 0, 0}} {
		err := tr.PlaceBrick(oneVoxel(t, dirt), pos)
		require.ErrorIs(t, err, ErrOutOfBounds)
	}
	require.Equal(t, nodes, tr.Nodes())
	require.Equal(t, bricks, tr.Store().Len())
}

func TestPlaceBrickDepthZero(t *testing.T) {
	tr, err := New(0)
	require.NoError(t, err)
	require.NoError(t, tr.PlaceBrick(oneVoxel(t, grass), UVec3{}))
	require.Equal(t, KindLeaf, tr.Node(0).Kind())
	require.ErrorIs(t, tr.PlaceBrick(oneVoxel(t, grass), UVec3{1, 0, 0}), ErrOutOfBounds)
}

func TestPlaceBrickOverwriteReplacesInPlace(t *testing.T) {
	tr, err := New(3)
	require.NoError(t, err)
	pos := UVec3{5, 2, 7}
	require.NoError(t, tr.PlaceBrick(oneVoxel(t, grass), pos))
	first, ok := tr.Lookup(pos)
	require.True(t, ok)
	nodes := tr.Len()

	require.NoError(t, tr.PlaceBrick(solidBrick(t, dirt), pos))
	second, ok := tr.Lookup(pos)
	require.True(t, ok)
	require.Equal(t, first, second)
	require.Equal(t, nodes, tr.Len())

	b, ok := tr.Store().Get(second)
	require.True(t, ok)
	require.Equal(t, BrickVolume, b.Solid())
	require.Equal(t, dirt, b.Average())
}

func TestPlaceEmptyBrickOnEmptyTreeAllocatesNothing(t *testing.T) {
	tr, err := New(4)
	require.NoError(t, err)
	require.NoError(t, tr.PlaceBrick(EmptyBrick(), UVec3{3, 3, 3}))
	require.Equal(t, 1, tr.Len())
	require.Equal(t, KindEmpty, tr.Node(0).Kind())
}

func TestRecreateMipmapsPrunesEmptyChildren(t *testing.T) {
	tr, err := New(3)
	require.NoError(t, err)
	pos := UVec3{6, 1, 2}
	require.NoError(t, tr.PlaceBrick(oneVoxel(t, grass), pos))
	require.NoError(t, tr.PlaceBrick(EmptyBrick(), pos))

	require.Equal(t, KindInternal, tr.Node(0).Kind())
	require.NoError(t, tr.RecreateMipmaps())
	require.Equal(t, KindEmpty, tr.Node(0).Kind())
	require.False(t, tr.Mip(0).Occupied)
	require.Empty(t, leaves(t, tr))
}

func TestRecreateMipmapsKeepsOccupiedSiblings(t *testing.T) {
	tr, err := New(2)
	require.NoError(t, err)
	require.NoError(t, tr.PlaceBrick(solidBrick(t, grass), UVec3{0, 0, 0}))
	require.NoError(t, tr.PlaceBrick(oneVoxel(t, dirt), UVec3{3, 3, 3}))
	require.NoError(t, tr.PlaceBrick(EmptyBrick(), UVec3{3, 3, 3}))
	require.NoError(t, tr.RecreateMipmaps())

	root := tr.Node(0)
	require.Equal(t, KindInternal, root.Kind())
	require.Equal(t, KindInternal, tr.Node(root.Children()).Kind())
	// octant 7 held only the cleared brick
	require.Equal(t, KindEmpty, tr.Node(root.Children()+7).Kind())

	m := tr.Mip(0)
	require.True(t, m.Occupied)
	require.Equal(t, uint32(BrickVolume), m.Solid)
	require.Equal(t, grass, m.Color)
}

func TestRecreateMipmapsWeightedColor(t *testing.T) {
	tr, err := New(1)
	require.NoError(t, err)
	white := RGBA(200, 200, 200, 255)
	require.NoError(t, tr.PlaceBrick(solidBrick(t, white), UVec3{0, 0, 0}))
	require.NoError(t, tr.PlaceBrick(oneVoxel(t, RGBA(0, 0, 0, 255)), UVec3{1, 0, 0}))
	require.NoError(t, tr.RecreateMipmaps())

	m := tr.Mip(0)
	require.Equal(t, uint32(BrickVolume+1), m.Solid)
	// 64 voxels of 200 and one of 0
	require.Equal(t, uint8(64*200/65), m.Color.R)
	require.Equal(t, uint8(255), m.Color.A)
}

func TestRecreateMipmapsIdempotent(t *testing.T) {
	tr, err := New(3)
	require.NoError(t, err)
	for i := uint32(0); i < 8; i++ {
		require.NoError(t, tr.PlaceBrick(oneVoxel(t, grass), UVec3{i, i % 3, 7 - i}))
	}
	require.NoError(t, tr.PlaceBrick(EmptyBrick(), UVec3{2, 2, 5}))
	require.NoError(t, tr.RecreateMipmaps())

	nodes := tr.Nodes()
	mips := append([]Mip(nil), tr.mips...)

	require.NoError(t, tr.RecreateMipmaps())
	require.Equal(t, nodes, tr.Nodes())
	require.Equal(t, mips, tr.mips)
}

func TestRecursiveSearchReportsNodesBelowBrickLevel(t *testing.T) {
	// depth 1: root -> block at 1; child 0 is internal (illegal at brick level)
	// and points at block 9.
	nodes := make([]uint32, 17)
	nodes[0] = 1
	nodes[1] = 9
	nodes[2] = BrickOffset + 1
	tr, err := Restore(1, nodes, []Brick{EmptyBrick(), oneVoxel(t, grass)})
	require.NoError(t, err)

	var deep []visit
	visited := 0
	err = tr.RecursiveSearch(func(index uint32, pos UVec3, depth uint32) {
		visited++
		if depth > tr.Depth() {
			deep = append(deep, visit{index, pos, depth})
		}
	})
	require.Error(t, err)
	require.ErrorIs(t, err, ErrConsistencyViolation)
	var ce *ConsistencyError
	require.True(t, errors.As(err, &ce))
	require.Equal(t, uint32(2), ce.Depth)

	// root + 8 children + 8 grandchildren reported once each
	require.Equal(t, 17, visited)
	require.Len(t, deep, 8)

	// the valid sibling leaf is still found
	var found bool
	_ = tr.RecursiveSearch(func(index uint32, _ UVec3, _ uint32) {
		if index == 2 {
			found = true
		}
	})
	require.True(t, found)
}

func TestRecursiveSearchReportsPointerOutsideArena(t *testing.T) {
	nodes := []uint32{1, 100, 0, 0, 0, 0, 0, 0, 0}
	tr, err := Restore(2, nodes, []Brick{EmptyBrick()})
	require.NoError(t, err)

	err = tr.RecursiveSearch(func(uint32, UVec3, uint32) {})
	require.ErrorIs(t, err, ErrConsistencyViolation)
	require.ErrorIs(t, tr.Validate(), ErrConsistencyViolation)
	require.ErrorIs(t, tr.RecreateMipmaps(), ErrConsistencyViolation)
	require.Equal(t, 1, tr.Stats().Violations)
}

func TestValidateRejectsMissingBrick(t *testing.T) {
	nodes := []uint32{BrickOffset + 5}
	tr, err := Restore(0, nodes, []Brick{EmptyBrick()})
	require.NoError(t, err)
	require.ErrorIs(t, tr.Validate(), ErrConsistencyViolation)
}

func TestRestoreRejectsNonEmptyReservedBrick(t *testing.T) {
	_, err := Restore(1, []uint32{0}, []Brick{oneVoxel(t, grass)})
	require.ErrorIs(t, err, ErrBrickIndex)
}

func TestNewRejectsExcessiveDepth(t *testing.T) {
	_, err := New(MaxDepth + 1)
	require.ErrorIs(t, err, ErrDepth)
}

func TestNodeBufferLittleEndian(t *testing.T) {
	tr, err := New(1)
	require.NoError(t, err)
	require.NoError(t, tr.PlaceBrick(oneVoxel(t, grass), UVec3{1, 1, 1}))

	buf := tr.NodeBuffer()
	require.Len(t, buf, 4*tr.Len())
	require.Equal(t, uint32(1), binary.LittleEndian.Uint32(buf[0:]))
	require.Equal(t, BrickOffset+1, binary.LittleEndian.Uint32(buf[4*8:]))
}

func TestStatsCountsGarbageAfterPrune(t *testing.T) {
	tr, err := New(2)
	require.NoError(t, err)
	require.NoError(t, tr.PlaceBrick(oneVoxel(t, grass), UVec3{0, 0, 0}))
	require.NoError(t, tr.PlaceBrick(EmptyBrick(), UVec3{0, 0, 0}))
	require.NoError(t, tr.RecreateMipmaps())

	s := tr.Stats()
	require.Equal(t, 17, s.Nodes)
	require.Equal(t, 0, s.Leaves)
	require.Equal(t, 0, s.Internal)
	require.Equal(t, 16, s.Garbage)
	require.Equal(t, 1, s.Bricks)
}

func TestBrickVoxelBounds(t *testing.T) {
	cases := map[string]UVec3{
		"x at size": {BrickSize, 0, 0},
		"y at size": {0, BrickSize, 0},
		"z at size": {0, 0, BrickSize},
		"x huge":    {1 << 31, 0, 0},
		"y huge":    {0, 1 << 31, 0},
		"z huge":    {0, 0, 1 << 31},
	}
	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			b := EmptyBrick()
			require.ErrorIs(t, b.Write(p, grass), ErrVoxelOutOfBounds)
			require.True(t, b.IsEmpty())
			_, err := b.At(p)
			require.ErrorIs(t, err, ErrVoxelOutOfBounds)
			require.Panics(t, func() { b.MustWrite(p, grass) })
		})
	}

	b := EmptyBrick()
	last := UVec3{BrickSize - 1, BrickSize - 1, BrickSize - 1}
	require.NotPanics(t, func() { b.MustWrite(last, dirt) })
	c, err := b.At(last)
	require.NoError(t, err)
	require.Equal(t, dirt, c)
}

func TestPlaceBrickUnderCoarseLeafCollides(t *testing.T) {
	// root is a leaf at depth 0 of a depth-2 tree
	tr, err := Restore(2, []uint32{BrickOffset + 1}, []Brick{EmptyBrick(), solidBrick(t, grass)})
	require.NoError(t, err)
	require.NoError(t, tr.Validate())
	before := tr.Nodes()

	err = tr.PlaceBrick(oneVoxel(t, dirt), UVec3{1, 2, 3})
	require.ErrorIs(t, err, ErrLeafCollision)
	require.Equal(t, before, tr.Nodes())
	require.Equal(t, 2, tr.Store().Len())
}
