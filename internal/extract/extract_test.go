package extract

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"brickstream.ai/internal/brickmap"
)

func brickWith(t *testing.T, c brickmap.Color) brickmap.Brick {
	t.Helper()
	b := brickmap.EmptyBrick()
	require.NoError(t, b.Write(brickmap.UVec3{}, c))
	return b
}

func buildTree(t *testing.T, depth uint32, at ...brickmap.UVec3) *brickmap.Tree {
	t.Helper()
	tr, err := brickmap.New(depth)
	require.NoError(t, err)
	for _, p := range at {
		require.NoError(t, tr.PlaceBrick(brickWith(t, brickmap.RGBA(1, 2, 3, 255)), p))
	}
	require.NoError(t, tr.RecreateMipmaps())
	return tr
}

func TestExtractPositionAndScale(t *testing.T) {
	tr := buildTree(t, 2, brickmap.UVec3{X: 3, Y: 0, Z: 1})
	got, err := Extract(tr, Options{}, zap.NewNop())
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, mgl32.Vec3{1, -2, -1}, got[0].Position)
	require.Equal(t, float32(1), got[0].Scale)
	require.Equal(t, uint32(1), got[0].Brick)
}

func TestExtractUnsortedFollowsOctantOrder(t *testing.T) {
	tr := buildTree(t, 1,
		brickmap.UVec3{X: 1, Y: 1, Z: 1},
		brickmap.UVec3{X: 0, Y: 0, Z: 0},
		brickmap.UVec3{X: 1, Y: 0, Z: 0},
	)
	got, err := Extract(tr, Options{}, nil)
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, mgl32.Vec3{-1, -1, -1}, got[0].Position)
	require.Equal(t, mgl32.Vec3{0, -1, -1}, got[1].Position)
	require.Equal(t, mgl32.Vec3{0, 0, 0}, got[2].Position)
}

func TestExtractSortedByDistance(t *testing.T) {
	var at []brickmap.UVec3
	for x := uint32(0); x < 8; x++ {
		at = append(at, brickmap.UVec3{X: x, Y: x % 4, Z: 7 - x})
	}
	tr := buildTree(t, 3, at...)
	pos := mgl32.Vec3{3, -1, 2}

	got, err := Extract(tr, Options{Sort: true, StreamingPos: pos}, nil)
	require.NoError(t, err)
	require.Len(t, got, len(at))
	for i := 1; i < len(got); i++ {
		prev := got[i-1].Center().Sub(pos).Len()
		cur := got[i].Center().Sub(pos).Len()
		require.LessOrEqual(t, prev, cur)
	}

	rev, err := Extract(tr, Options{Sort: true, Reverse: true, StreamingPos: pos}, nil)
	require.NoError(t, err)
	for i := 1; i < len(rev); i++ {
		prev := rev[i-1].Center().Sub(pos).Len()
		cur := rev[i].Center().Sub(pos).Len()
		require.GreaterOrEqual(t, prev, cur)
	}
}

func TestSortByDistanceIsStable(t *testing.T) {
	in := []Instance{
		{Position: mgl32.Vec3{1, 0, 0}, Scale: 1, Brick: 1},
		{Position: mgl32.Vec3{-2, 0, 0}, Scale: 1, Brick: 2},
		{Position: mgl32.Vec3{1, 0, 0}, Scale: 1, Brick: 3},
	}
	got := SortByDistance(in, mgl32.Vec3{10, 0.5, 0.5}, false)
	require.Equal(t, []uint32{1, 3, 2}, []uint32{got[0].Brick, got[1].Brick, got[2].Brick})
}

func TestExtractMaxInstancesKeepsNearest(t *testing.T) {
	tr := buildTree(t, 2,
		brickmap.UVec3{X: 0, Y: 0, Z: 0},
		brickmap.UVec3{X: 3, Y: 3, Z: 3},
		brickmap.UVec3{X: 2, Y: 2, Z: 2},
	)
	got, err := Extract(tr, Options{Sort: true, StreamingPos: mgl32.Vec3{2, 2, 2}, MaxInstances: 1}, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, mgl32.Vec3{1, 1, 1}, got[0].Position)
}

func TestExtractEmptyTree(t *testing.T) {
	tr := buildTree(t, 2)
	got, err := Extract(tr, Options{Sort: true}, nil)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestExtractDropsLeavesBelowBrickLevel(t *testing.T) {
	// depth 0 root is internal and points at a block of leaves one level too deep
	nodes := make([]uint32, 9)
	nodes[0] = 1
	nodes[1] = brickmap.BrickOffset + 1
	bricks := []brickmap.Brick{brickmap.EmptyBrick(), brickWith(t, brickmap.RGBA(9, 9, 9, 255))}
	tr, err := brickmap.Restore(0, nodes, bricks)
	require.NoError(t, err)

	core, logs := observer.New(zap.WarnLevel)
	got, err := Extract(tr, Options{}, zap.New(core))
	require.ErrorIs(t, err, brickmap.ErrConsistencyViolation)
	require.Empty(t, got)
	require.Equal(t, 1, logs.FilterMessage("leaf below brick level dropped").Len())
}

func TestExtractCoarseLeaf(t *testing.T) {
	// a leaf directly at the root of a depth-2 tree covers the whole world
	bricks := []brickmap.Brick{brickmap.EmptyBrick(), brickWith(t, brickmap.RGBA(9, 9, 9, 255))}
	tr, err := brickmap.Restore(2, []uint32{brickmap.BrickOffset + 1}, bricks)
	require.NoError(t, err)

	got, err := Extract(tr, Options{}, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, float32(4), got[0].Scale)
	require.Equal(t, mgl32.Vec3{-2, -2, -2}, got[0].Position)
}

func TestEncodeLayout(t *testing.T) {
	in := []Instance{
		{Position: mgl32.Vec3{1.5, -2, 3}, Scale: 4, Brick: 7},
		{Position: mgl32.Vec3{0, 0, 0}, Scale: 1, Brick: 1 << 20},
	}
	buf := Encode(in)
	require.Len(t, buf, 2*InstanceStride)
	// brick index of the first record sits at byte 16
	require.Equal(t, []byte{7, 0, 0, 0}, buf[16:20])

	out, err := Decode(buf)
	require.NoError(t, err)
	require.Equal(t, in, out)

	_, err = Decode(buf[:InstanceStride+3])
	require.Error(t, err)
}
