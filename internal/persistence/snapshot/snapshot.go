// Package snapshot persists a built brickmap: a JSON header line followed by
// a gob body, the whole stream zstd-compressed.
package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"

	"brickstream.ai/internal/brickmap"
	"brickstream.ai/internal/encoding"
)

const Version = 1

var ErrVersion = errors.New("unsupported snapshot version")

type Header struct {
	Version       int       `json:"version"`
	WorldID       string    `json:"world_id"`
	BuildID       string    `json:"build_id"`
	Generation    uint64    `json:"generation"`
	CreatedAt     time.Time `json:"created_at"`
	Depth         uint32    `json:"depth"`
	Nodes         int       `json:"nodes"`
	Bricks        int       `json:"bricks"`
	PaletteDigest string    `json:"palette_digest,omitempty"`
}

// SourceV1 records what the world was built from.
type SourceV1 struct {
	Kind        string  `json:"kind"`
	ImagePath   string  `json:"image_path,omitempty"`
	Seed        int64   `json:"seed,omitempty"`
	Width       int     `json:"width"`
	Depth       int     `json:"depth"`
	HeightScale float32 `json:"height_scale"`
	WorldDepth  uint32  `json:"world_depth"`
}

type SnapshotV1 struct {
	Header Header   `json:"header"`
	Source SourceV1 `json:"source"`

	Nodes []uint32 `json:"nodes"`
	// Every brick's packed voxels, brick 0 first, run-length encoded.
	Voxels []byte `json:"voxels"`
}

// FromTree captures t. Mips are not stored; they are rebuilt on load.
func FromTree(h Header, src SourceV1, t *brickmap.Tree) SnapshotV1 {
	st := t.Store()
	var voxels []byte
	for i := 0; i < st.Len(); i++ {
		b, _ := st.Get(brickmap.BrickIndex(i))
		voxels = encoding.AppendRLE(voxels, b.Packed())
	}
	h.Version = Version
	h.Depth = t.Depth()
	h.Nodes = t.Len()
	h.Bricks = st.Len() - 1
	return SnapshotV1{
		Header: h,
		Source: src,
		Nodes:  t.Nodes(),
		Voxels: voxels,
	}
}

// Tree rebuilds, validates and re-mips the stored tree.
func (s SnapshotV1) Tree() (*brickmap.Tree, error) {
	if s.Header.Version != Version {
		return nil, fmt.Errorf("%w: %d", ErrVersion, s.Header.Version)
	}
	want := (s.Header.Bricks + 1) * brickmap.BrickVolume
	packed, err := encoding.DecodeRLE(s.Voxels, want)
	if err != nil {
		return nil, fmt.Errorf("snapshot voxels: %w", err)
	}
	if len(packed) != want {
		return nil, fmt.Errorf("snapshot voxels: got %d, want %d", len(packed), want)
	}
	bricks := make([]brickmap.Brick, 0, s.Header.Bricks+1)
	for off := 0; off < len(packed); off += brickmap.BrickVolume {
		b, err := brickmap.BrickFromPacked(packed[off : off+brickmap.BrickVolume])
		if err != nil {
			return nil, err
		}
		bricks = append(bricks, b)
	}
	t, err := brickmap.Restore(s.Header.Depth, s.Nodes, bricks)
	if err != nil {
		return nil, err
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if err := t.RecreateMipmaps(); err != nil {
		return nil, err
	}
	return t, nil
}

// WriteSnapshot writes to a temporary file next to path and renames it into
// place, so readers never see a partial snapshot.
func WriteSnapshot(path string, snap SnapshotV1) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	// one temp file per writer; concurrent saves of the same generation each
	// rename a complete file
	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
		}
	}()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, err := json.Marshal(snap.Header)
	if err != nil {
		return err
	}
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	if err := f.Chmod(0o644); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)
	// the gob body repeats the header
	if _, err := br.ReadBytes('\n'); err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}
	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	return snap, nil
}

// ReadHeader decodes only the leading JSON line.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()

	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("decode header: %w", err)
	}
	return h, nil
}

// FileName is the conventional snapshot name for a generation.
func FileName(worldID string, generation uint64) string {
	return fmt.Sprintf("%s-%06d.snap.zst", worldID, generation)
}
