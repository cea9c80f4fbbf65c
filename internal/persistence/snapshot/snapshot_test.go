package snapshot

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"brickstream.ai/internal/brickmap"
)

func sampleTree(t *testing.T) *brickmap.Tree {
	t.Helper()
	tr, err := brickmap.New(3)
	require.NoError(t, err)
	for i := uint32(0); i < 8; i++ {
		b := brickmap.EmptyBrick()
		for j := uint32(0); j <= i; j++ {
			require.NoError(t, b.Write(brickmap.UVec3{X: j % 4, Y: j / 4, Z: 1}, brickmap.RGBA(uint8(10*i), 200, uint8(j), 255)))
		}
		require.NoError(t, tr.PlaceBrick(b, brickmap.UVec3{X: i, Y: 7 - i, Z: i / 2}))
	}
	// leave a pruned block behind
	require.NoError(t, tr.PlaceBrick(brickmap.EmptyBrick(), brickmap.UVec3{X: 7, Y: 0, Z: 3}))
	require.NoError(t, tr.RecreateMipmaps())
	return tr
}

func TestSnapshotRoundTrip(t *testing.T) {
	tr := sampleTree(t)
	path := filepath.Join(t.TempDir(), "snaps", FileName("w1", 3))
	hdr := Header{WorldID: "w1", BuildID: "b-1", Generation: 3, CreatedAt: time.Unix(1700000000, 0).UTC()}
	src := SourceV1{Kind: "constant", Width: 32, Depth: 32, WorldDepth: 5}

	require.NoError(t, WriteSnapshot(path, FromTree(hdr, src, tr)))
	tmps, err := filepath.Glob(path + ".*.tmp")
	require.NoError(t, err)
	require.Empty(t, tmps)

	h, err := ReadHeader(path)
	require.NoError(t, err)
	require.Equal(t, Version, h.Version)
	require.Equal(t, uint32(3), h.Depth)
	require.Equal(t, tr.Len(), h.Nodes)
	require.Equal(t, 8, h.Bricks)

	snap, err := ReadSnapshot(path)
	require.NoError(t, err)
	require.Equal(t, src, snap.Source)
	require.True(t, hdr.CreatedAt.Equal(snap.Header.CreatedAt))

	got, err := snap.Tree()
	require.NoError(t, err)
	require.Equal(t, tr.NodeBuffer(), got.NodeBuffer())
	require.Equal(t, tr.Store().Buffer(), got.Store().Buffer())
	require.Equal(t, tr.Mip(0), got.Mip(0))
}

func TestSnapshotRejectsCorruptNodes(t *testing.T) {
	snap := FromTree(Header{WorldID: "w"}, SourceV1{}, sampleTree(t))
	snap.Nodes[0] = 1 << 20
	_, err := snap.Tree()
	require.ErrorIs(t, err, brickmap.ErrConsistencyViolation)
}

func TestSnapshotRejectsVersion(t *testing.T) {
	snap := FromTree(Header{}, SourceV1{}, sampleTree(t))
	snap.Header.Version = 99
	_, err := snap.Tree()
	require.ErrorIs(t, err, ErrVersion)
}

func TestSnapshotRejectsTruncatedVoxels(t *testing.T) {
	snap := FromTree(Header{}, SourceV1{}, sampleTree(t))
	snap.Header.Bricks++
	_, err := snap.Tree()
	require.Error(t, err)
}

func TestWriteSnapshotConcurrentSameGeneration(t *testing.T) {
	tr := sampleTree(t)
	path := filepath.Join(t.TempDir(), FileName("w1", 4))
	snap := FromTree(Header{WorldID: "w1", Generation: 4}, SourceV1{Kind: "constant"}, tr)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = WriteSnapshot(path, snap)
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	got, err := ReadSnapshot(path)
	require.NoError(t, err)
	require.Equal(t, uint64(4), got.Header.Generation)
	tmps, err := filepath.Glob(path + ".*.tmp")
	require.NoError(t, err)
	require.Empty(t, tmps)
}
