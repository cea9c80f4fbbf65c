// Package world owns the live brickmap. One writer swaps in freshly built
// trees; any number of readers extract instances and buffers from the
// current generation.
package world

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"brickstream.ai/internal/brickmap"
	"brickstream.ai/internal/extract"
	"brickstream.ai/internal/heightfield"
	"brickstream.ai/internal/metrics"
	"brickstream.ai/internal/palette"
	"brickstream.ai/internal/persistence/archive"
	"brickstream.ai/internal/persistence/indexdb"
	plog "brickstream.ai/internal/persistence/log"
	"brickstream.ai/internal/persistence/r2s3"
	"brickstream.ai/internal/persistence/snapshot"
	"brickstream.ai/internal/worldgen"
)

// ErrNotReady is returned by readers before the first generation is live.
var ErrNotReady = errors.New("world not ready")

type Options struct {
	ID string
	// DataDir holds snapshots under DataDir/snapshots. Empty disables Save.
	DataDir         string
	SnapshotOnBuild bool
	// KeepSnapshots prunes older snapshots after each Save; 0 keeps all.
	KeepSnapshots int
	// ArchiveEvery copies every Nth generation under DataDir/archives.
	ArchiveEvery uint64
	Source       snapshot.SourceV1

	Index    *indexdb.SQLiteIndex
	Mirror   *r2s3.Mirror
	BuildLog *plog.BuildLogger
	Gauges   *metrics.Prometheus
	Sink     metrics.Sink
	Log      *zap.Logger

	// NewBuildID defaults to uuid.NewString.
	NewBuildID func() string
}

// Info describes the live generation.
type Info struct {
	ID            string
	Ready         bool
	Generation    uint64
	BuildID       string
	Depth         uint32
	Nodes         int
	Bricks        int
	PaletteDigest string
}

// BuildResult is returned by Rebuild.
type BuildResult struct {
	BuildID      string
	Generation   uint64
	Stats        worldgen.BuildStats
	SnapshotPath string
}

type World struct {
	id      string
	opts    Options
	builder *worldgen.Builder
	pal     *palette.Palette
	log     *zap.Logger
	sink    metrics.Sink

	// serializes Rebuild and Restore so generations stay monotonic
	buildMu sync.Mutex
	// serializes Save so writes, archiving and pruning never interleave
	saveMu sync.Mutex

	mu      sync.RWMutex
	tree    *brickmap.Tree
	gen     uint64
	buildID string

	subMu  sync.Mutex
	subs   map[uint64]chan uint64
	nextID uint64
}

func New(b *worldgen.Builder, pal *palette.Palette, opts Options) *World {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.Sink == nil {
		opts.Sink = metrics.Nop()
	}
	if opts.NewBuildID == nil {
		opts.NewBuildID = uuid.NewString
	}
	if opts.ID == "" {
		opts.ID = "world"
	}
	return &World{
		id:      opts.ID,
		opts:    opts,
		builder: b,
		pal:     pal,
		log:     opts.Log.With(zap.String("world_id", opts.ID)),
		sink:    opts.Sink,
		subs:    make(map[uint64]chan uint64),
	}
}

func (w *World) ID() string { return w.id }

// Ready reports whether a generation is live.
func (w *World) Ready() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.tree != nil
}

func (w *World) Generation() uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.gen
}

func (w *World) Info() Info {
	w.mu.RLock()
	defer w.mu.RUnlock()
	info := Info{
		ID:         w.id,
		Ready:      w.tree != nil,
		Generation: w.gen,
		BuildID:    w.buildID,
	}
	if w.pal != nil {
		info.PaletteDigest = w.pal.Digest()
	}
	if w.tree != nil {
		info.Depth = w.tree.Depth()
		info.Nodes = w.tree.Len()
		info.Bricks = w.tree.Store().Len() - 1
	}
	return info
}

// Rebuild builds a new tree from hf off-lock and swaps it in. A failed or
// cancelled build leaves the live generation untouched.
func (w *World) Rebuild(ctx context.Context, hf heightfield.Field) (BuildResult, error) {
	w.buildMu.Lock()
	defer w.buildMu.Unlock()

	res := BuildResult{BuildID: w.opts.NewBuildID()}
	started := time.Now()
	tree, stats, err := w.builder.Build(ctx, hf)
	res.Stats = stats
	if err != nil {
		w.recordBuild(res, started, tree, err)
		return res, fmt.Errorf("build %s: %w", res.BuildID, err)
	}

	res.Generation = w.swap(tree, res.BuildID)
	w.recordBuild(res, started, tree, nil)

	if w.opts.SnapshotOnBuild && w.opts.DataDir != "" {
		path, err := w.Save()
		if err != nil {
			w.log.Error("snapshot failed", zap.Uint64("generation", res.Generation), zap.Error(err))
		} else {
			res.SnapshotPath = path
		}
	}
	return res, nil
}

func (w *World) swap(tree *brickmap.Tree, buildID string) uint64 {
	w.mu.Lock()
	w.gen++
	gen := w.gen
	w.tree = tree
	w.buildID = buildID
	w.mu.Unlock()

	if g := w.opts.Gauges; g != nil {
		g.Generation.Set(float64(gen))
		g.Nodes.Set(float64(tree.Len()))
		g.Bricks.Set(float64(tree.Store().Len() - 1))
	}
	w.broadcast(gen)
	return gen
}

func (w *World) recordBuild(res BuildResult, started time.Time, tree *brickmap.Tree, err error) {
	elapsed := time.Since(started)
	w.sink.Observe("world.rebuild", elapsed)

	var nodes, bricks int
	if err == nil && tree != nil {
		nodes, bricks = tree.Len(), tree.Store().Len()-1
	}
	errText := ""
	outcome := "ok"
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		outcome, errText = "cancelled", err.Error()
	case err != nil:
		outcome, errText = "error", err.Error()
	}

	if g := w.opts.Gauges; g != nil {
		g.Builds.WithLabelValues(outcome).Inc()
		g.SkippedBrick.Add(float64(res.Stats.Skipped))
	}
	if w.opts.BuildLog != nil {
		if lerr := w.opts.BuildLog.WriteBuild(plog.BuildEntry{
			Time:       started.UTC(),
			BuildID:    res.BuildID,
			WorldID:    w.id,
			Generation: res.Generation,
			Bricks:     bricks,
			Nodes:      nodes,
			Skipped:    res.Stats.Skipped,
			Millis:     elapsed.Milliseconds(),
			Err:        errText,
		}); lerr != nil {
			w.log.Warn("build log write failed", zap.Error(lerr))
		}
	}
	w.opts.Index.RecordBuild(indexdb.BuildRow{
		BuildID:       res.BuildID,
		WorldID:       w.id,
		Generation:    res.Generation,
		StartedAt:     started,
		Duration:      elapsed,
		SourceKind:    w.opts.Source.Kind,
		PaletteDigest: w.paletteDigest(),
		Chunks:        res.Stats.Chunks,
		Placed:        res.Stats.Placed,
		Skipped:       res.Stats.Skipped,
		Nodes:         nodes,
		Bricks:        bricks,
		Err:           errText,
	})

	if err != nil {
		w.log.Warn("build failed", zap.String("build_id", res.BuildID), zap.String("outcome", outcome), zap.Error(err))
		return
	}
	w.log.Info("generation live",
		zap.Uint64("generation", res.Generation),
		zap.String("build_id", res.BuildID),
		zap.Int("nodes", nodes),
		zap.Int("bricks", bricks),
		zap.Duration("took", elapsed))
}

func (w *World) paletteDigest() string {
	if w.pal == nil {
		return ""
	}
	return w.pal.Digest()
}

// Extract runs the streaming extractor against the live tree and returns the
// generation it read.
func (w *World) Extract(opts extract.Options) ([]extract.Instance, uint64, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.tree == nil {
		return nil, 0, ErrNotReady
	}
	start := time.Now()
	out, err := extract.Extract(w.tree, opts, w.log)
	metrics.Since(w.sink, "world.extract", start)
	return out, w.gen, err
}

// Bricks returns a copy of the brick lookup buffer.
func (w *World) Bricks() ([]byte, uint64, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.tree == nil {
		return nil, 0, ErrNotReady
	}
	return w.tree.Store().Buffer(), w.gen, nil
}

// Nodes returns a copy of the node buffer.
func (w *World) Nodes() ([]byte, uint64, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.tree == nil {
		return nil, 0, ErrNotReady
	}
	return w.tree.NodeBuffer(), w.gen, nil
}

// Save writes the live generation to DataDir/snapshots, records it in the
// index and hands it to the mirror.
func (w *World) Save() (string, error) {
	if w.opts.DataDir == "" {
		return "", errors.New("no data dir configured")
	}
	w.saveMu.Lock()
	defer w.saveMu.Unlock()

	w.mu.RLock()
	if w.tree == nil {
		w.mu.RUnlock()
		return "", ErrNotReady
	}
	h := snapshot.Header{
		WorldID:       w.id,
		BuildID:       w.buildID,
		Generation:    w.gen,
		CreatedAt:     time.Now().UTC(),
		PaletteDigest: w.paletteDigest(),
	}
	snap := snapshot.FromTree(h, w.opts.Source, w.tree)
	w.mu.RUnlock()

	path := filepath.Join(w.opts.DataDir, "snapshots", snapshot.FileName(w.id, snap.Header.Generation))
	err := metrics.Timeit(w.sink, "world.save", func() error {
		return snapshot.WriteSnapshot(path, snap)
	})
	if err != nil {
		return "", err
	}
	var size int64
	if st, err := os.Stat(path); err == nil {
		size = st.Size()
	}
	w.opts.Index.RecordSnapshot(indexdb.SnapshotRow{
		WorldID:    w.id,
		Generation: snap.Header.Generation,
		BuildID:    snap.Header.BuildID,
		Path:       path,
		Nodes:      snap.Header.Nodes,
		Bricks:     snap.Header.Bricks,
		Bytes:      size,
		CreatedAt:  snap.Header.CreatedAt,
	})
	w.opts.Mirror.Enqueue(path)
	w.log.Info("snapshot written", zap.String("path", path), zap.Int64("bytes", size))

	if archived, ok, err := archive.ArchiveGeneration(w.opts.DataDir, path, snap.Header, w.opts.ArchiveEvery); err != nil {
		w.log.Warn("archive failed", zap.Uint64("generation", snap.Header.Generation), zap.Error(err))
	} else if ok {
		w.opts.Mirror.Enqueue(archived)
		w.log.Info("generation archived", zap.String("path", archived))
	}
	removed, err := archive.Prune(filepath.Dir(path), w.id, w.opts.KeepSnapshots)
	if err != nil {
		w.log.Warn("snapshot prune failed", zap.Error(err))
	} else if len(removed) > 0 {
		w.log.Debug("snapshots pruned", zap.Strings("removed", removed))
	}
	return path, nil
}

// LoadSnapshot swaps in the tree stored at path. The generation counter
// continues from the snapshot's generation.
func (w *World) LoadSnapshot(path string) error {
	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		return err
	}
	if snap.Header.WorldID != "" && snap.Header.WorldID != w.id {
		return fmt.Errorf("snapshot %s belongs to world %q", path, snap.Header.WorldID)
	}
	tree, err := snap.Tree()
	if err != nil {
		return fmt.Errorf("restore %s: %w", path, err)
	}

	w.buildMu.Lock()
	defer w.buildMu.Unlock()
	w.mu.Lock()
	if snap.Header.Generation > 0 {
		w.gen = snap.Header.Generation - 1
	}
	w.mu.Unlock()
	gen := w.swap(tree, snap.Header.BuildID)
	w.log.Info("snapshot restored", zap.String("path", path), zap.Uint64("generation", gen))
	return nil
}

// Restore loads the newest snapshot recorded in the index. It reports false
// when the index has none.
func (w *World) Restore(ctx context.Context) (bool, error) {
	if w.opts.Index == nil {
		return false, nil
	}
	row, ok, err := w.opts.Index.LatestSnapshot(ctx, w.id)
	if err != nil || !ok {
		return false, err
	}
	if err := w.LoadSnapshot(row.Path); err != nil {
		return false, err
	}
	return true, nil
}

// Subscribe returns a channel that receives the new generation after every
// swap. Sends never block; a slow subscriber sees only the latest pending
// generation.
func (w *World) Subscribe() (<-chan uint64, func()) {
	ch := make(chan uint64, 1)
	w.subMu.Lock()
	w.nextID++
	id := w.nextID
	w.subs[id] = ch
	w.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			w.subMu.Lock()
			delete(w.subs, id)
			w.subMu.Unlock()
		})
	}
}

func (w *World) broadcast(gen uint64) {
	w.subMu.Lock()
	defer w.subMu.Unlock()
	for _, ch := range w.subs {
		select {
		case ch <- gen:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- gen:
		default:
		}
	}
}
