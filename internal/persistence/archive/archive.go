// Package archive keeps long-lived copies of selected snapshot generations
// and prunes the rolling snapshot directory.
package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"brickstream.ai/internal/persistence/snapshot"
)

type Meta struct {
	WorldID       string `json:"world_id"`
	Generation    uint64 `json:"generation"`
	BuildID       string `json:"build_id"`
	Snapshot      string `json:"snapshot"`
	Nodes         int    `json:"nodes"`
	Bricks        int    `json:"bricks"`
	PaletteDigest string `json:"palette_digest,omitempty"`
	CreatedAt     string `json:"created_at"`
}

// ArchiveGeneration copies every generation that is a multiple of every into
// dataDir/archives/<world>/gen_<NNNNNN>/ next to a meta.json. It returns
// (archivedPath, archived=true) when a copy was made.
func ArchiveGeneration(dataDir, snapshotPath string, h snapshot.Header, every uint64) (string, bool, error) {
	if every == 0 || h.Generation == 0 || h.Generation%every != 0 {
		return "", false, nil
	}

	archiveDir := filepath.Join(dataDir, "archives", h.WorldID, fmt.Sprintf("gen_%06d", h.Generation))
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return "", false, err
	}

	dst := filepath.Join(archiveDir, filepath.Base(snapshotPath))
	if err := copyFile(snapshotPath, dst); err != nil {
		return "", false, err
	}

	meta := Meta{
		WorldID:       h.WorldID,
		Generation:    h.Generation,
		BuildID:       h.BuildID,
		Snapshot:      filepath.Base(dst),
		Nodes:         h.Nodes,
		Bricks:        h.Bricks,
		PaletteDigest: h.PaletteDigest,
		CreatedAt:     time.Now().UTC().Format(time.RFC3339Nano),
	}
	if b, err := json.MarshalIndent(meta, "", "  "); err == nil {
		_ = os.WriteFile(filepath.Join(archiveDir, "meta.json"), b, 0o644)
	}
	return dst, true, nil
}

// Prune removes all but the newest keep snapshots of worldID from dir and
// returns the removed paths. keep <= 0 disables pruning.
func Prune(dir, worldID string, keep int) ([]string, error) {
	if keep <= 0 {
		return nil, nil
	}
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	type gen struct {
		n    uint64
		path string
	}
	prefix := worldID + "-"
	var gens []gen
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		n, err := strconv.ParseUint(strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".snap.zst"), 10, 64)
		if err != nil {
			continue
		}
		gens = append(gens, gen{n, filepath.Join(dir, name)})
	}
	if len(gens) <= keep {
		return nil, nil
	}
	sort.Slice(gens, func(i, j int) bool { return gens[i].n > gens[j].n })

	var removed []string
	for _, g := range gens[keep:] {
		if err := os.Remove(g.path); err != nil {
			return removed, err
		}
		removed = append(removed, g.path)
	}
	return removed, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
