// Package worldgen turns a height field into a populated brickmap tree.
//
// Building runs in two phases. Chunks (vertical columns of ChunkSize x
// ChunkSize voxels spanning the whole world height) are computed in parallel
// into private brick lists. The lists are then merged into the tree by a
// single goroutine in chunk order, and mipmaps are rebuilt once at the end.
package worldgen

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/bits"
	"runtime"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"brickstream.ai/internal/brickmap"
	"brickstream.ai/internal/config"
	"brickstream.ai/internal/heightfield"
	"brickstream.ai/internal/metrics"
	"brickstream.ai/internal/palette"
)

// brickShift is log2(BrickSize).
var brickShift = uint32(bits.TrailingZeros(brickmap.BrickSize))

type Config struct {
	// log2 of the world side length in voxels
	WorldDepth      uint32
	ChunkSize       int
	HeightScale     float32
	Workers         int
	SurfaceMaterial string
	FillMaterial    string
}

func DefaultConfig() Config {
	return Config{
		WorldDepth:      8,
		ChunkSize:       16,
		HeightScale:     1,
		SurfaceMaterial: "grass",
		FillMaterial:    "dirt",
	}
}

// FromConfig maps the file config onto the builder's.
func FromConfig(w config.WorldConfig) Config {
	return Config{
		WorldDepth:      w.WorldDepth,
		ChunkSize:       w.ChunkSize,
		HeightScale:     w.HeightScale,
		Workers:         w.Workers,
		SurfaceMaterial: w.SurfaceMaterial,
		FillMaterial:    w.FillMaterial,
	}
}

// BrickDepth is the tree depth for this world size.
func (c Config) BrickDepth() uint32 {
	return c.WorldDepth - brickShift
}

func (c Config) validate() error {
	if c.WorldDepth < brickShift {
		return fmt.Errorf("%w: world depth %d is smaller than one brick", config.ErrConfiguration, c.WorldDepth)
	}
	if c.BrickDepth() > brickmap.MaxDepth {
		return fmt.Errorf("%w: world depth %d exceeds %d", config.ErrConfiguration, c.WorldDepth, brickmap.MaxDepth+brickShift)
	}
	if c.ChunkSize <= 0 || c.ChunkSize%brickmap.BrickSize != 0 {
		return fmt.Errorf("%w: chunk size %d must be a positive multiple of %d", config.ErrConfiguration, c.ChunkSize, brickmap.BrickSize)
	}
	if c.HeightScale < 0 || math.IsNaN(float64(c.HeightScale)) {
		return fmt.Errorf("%w: invalid height scale %v", config.ErrConfiguration, c.HeightScale)
	}
	return nil
}

type Option func(*Builder)

func WithLogger(log *zap.Logger) Option {
	return func(b *Builder) { b.log = log }
}

func WithMetrics(s metrics.Sink) Option {
	return func(b *Builder) { b.sink = s }
}

type Builder struct {
	cfg     Config
	surface brickmap.Color
	fill    brickmap.Color
	log     *zap.Logger
	sink    metrics.Sink
}

// NewBuilder resolves the surface and fill materials from pal. A palette
// missing either is a *palette.ConfigError.
func NewBuilder(cfg Config, pal *palette.Palette, opts ...Option) (*Builder, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	colors, err := pal.Require(cfg.SurfaceMaterial, cfg.FillMaterial)
	if err != nil {
		return nil, err
	}
	b := &Builder{
		cfg:     cfg,
		surface: colors[0],
		fill:    colors[1],
		log:     zap.NewNop(),
		sink:    metrics.Nop(),
	}
	for _, o := range opts {
		o(b)
	}
	return b, nil
}

func (b *Builder) Config() Config { return b.cfg }

type BuildStats struct {
	Chunks  int
	Bricks  int // non-empty bricks computed
	Placed  int
	Skipped int
	Compute time.Duration
	Merge   time.Duration
	Mipmaps time.Duration
}

type placement struct {
	pos   brickmap.UVec3
	brick brickmap.Brick
}

type chunkKey struct {
	cx, cz uint32
}

// Build computes every chunk, merges them into a fresh tree and rebuilds its
// mipmaps. Cancellation is checked between chunks; a cancelled build returns
// ctx.Err() and no tree. Bricks that fail placement are logged, counted and
// skipped. Structural errors from the final mipmap pass are returned with
// the tree.
func (b *Builder) Build(ctx context.Context, hf heightfield.Field) (*brickmap.Tree, BuildStats, error) {
	var stats BuildStats
	tree, err := brickmap.New(b.cfg.BrickDepth())
	if err != nil {
		return nil, stats, err
	}

	keys := b.chunks()
	stats.Chunks = len(keys)
	results := make([][]placement, len(keys))

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.cfg.Workers)
	for i, k := range keys {
		if gctx.Err() != nil {
			break
		}
		i, k := i, k
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = b.computeChunk(k, hf)
			return nil
		})
	}
	err = g.Wait()
	stats.Compute = time.Since(start)
	b.sink.Observe("worldgen.compute", stats.Compute)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		return nil, stats, err
	}

	start = time.Now()
	for i, chunk := range results {
		if err := ctx.Err(); err != nil {
			return nil, stats, err
		}
		for _, p := range chunk {
			stats.Bricks++
			if err := tree.PlaceBrick(p.brick, p.pos); err != nil {
				stats.Skipped++
				b.log.Warn("brick placement failed",
					zap.Uint32("chunk_x", keys[i].cx), zap.Uint32("chunk_z", keys[i].cz),
					zap.Stringer("brick", p.pos), zap.Error(err))
				continue
			}
			stats.Placed++
		}
	}
	stats.Merge = time.Since(start)
	b.sink.Observe("worldgen.merge", stats.Merge)

	start = time.Now()
	err = tree.RecreateMipmaps()
	stats.Mipmaps = time.Since(start)
	b.sink.Observe("worldgen.mipmaps", stats.Mipmaps)
	if err != nil && !errors.Is(err, brickmap.ErrConsistencyViolation) {
		return nil, stats, err
	}

	b.log.Info("world built",
		zap.Int("chunks", stats.Chunks),
		zap.Int("placed", stats.Placed),
		zap.Int("skipped", stats.Skipped),
		zap.Int("nodes", tree.Len()),
		zap.Duration("compute", stats.Compute),
		zap.Duration("merge", stats.Merge),
	)
	return tree, stats, err
}

// chunks lists the chunk grid in x-major order.
func (b *Builder) chunks() []chunkKey {
	side := uint32(1) << b.cfg.WorldDepth
	cs := uint32(b.cfg.ChunkSize)
	n := (side + cs - 1) / cs
	keys := make([]chunkKey, 0, n*n)
	for cx := uint32(0); cx < n; cx++ {
		for cz := uint32(0); cz < n; cz++ {
			keys = append(keys, chunkKey{cx, cz})
		}
	}
	return keys
}

// surfaceY scales a height sample into a voxel row, saturating at the top of
// the uint32 range.
func (b *Builder) surfaceY(sample uint32) uint32 {
	f := float32(sample) * b.cfg.HeightScale
	if f >= 1<<32 {
		return math.MaxUint32
	}
	return uint32(f)
}

// computeChunk fills every brick of one chunk column. It touches nothing but
// its own result.
func (b *Builder) computeChunk(k chunkKey, hf heightfield.Field) []placement {
	side := uint32(1) << b.cfg.WorldDepth
	cs := uint32(b.cfg.ChunkSize)
	x0, z0 := k.cx*cs, k.cz*cs
	w := min(cs, side-x0)
	d := min(cs, side-z0)

	// column surfaces, indexed [lz*cs+lx]; ok=false outside the height field
	surf := make([]uint32, cs*cs)
	has := make([]bool, cs*cs)
	var top uint32
	found := false
	for lz := uint32(0); lz < d; lz++ {
		for lx := uint32(0); lx < w; lx++ {
			h, ok := hf.At(int(x0+lx), int(z0+lz))
			if !ok {
				continue
			}
			s := b.surfaceY(h)
			surf[lz*cs+lx] = s
			has[lz*cs+lx] = true
			top = max(top, s)
			found = true
		}
	}
	if !found {
		return nil
	}

	const bs = brickmap.BrickSize
	heightBricks := side / bs
	if yb := top/bs + 1; yb < heightBricks {
		heightBricks = yb
	}
	chunkBricksX := (w + bs - 1) / bs
	chunkBricksZ := (d + bs - 1) / bs

	var out []placement
	for by := uint32(0); by < heightBricks; by++ {
		for bx := uint32(0); bx < chunkBricksX; bx++ {
			for bz := uint32(0); bz < chunkBricksZ; bz++ {
				brick := brickmap.EmptyBrick()
				for x := uint32(0); x < bs; x++ {
					for y := uint32(0); y < bs; y++ {
						for z := uint32(0); z < bs; z++ {
							lx, lz := bx*bs+x, bz*bs+z
							if lx >= w || lz >= d || !has[lz*cs+lx] {
								continue
							}
							gy := by*bs + y
							s := surf[lz*cs+lx]
							if gy > s {
								continue
							}
							c := b.fill
							if gy == s {
								c = b.surface
							}
							brick.MustWrite(brickmap.UVec3{X: x, Y: y, Z: z}, c)
						}
					}
				}
				if brick.IsEmpty() {
					continue
				}
				out = append(out, placement{
					pos: brickmap.UVec3{
						X: (x0 / bs) + bx,
						Y: by,
						Z: (z0 / bs) + bz,
					},
					brick: brick,
				})
			}
		}
	}
	return out
}
