// Package extract turns the leaf volumes of a brickmap tree into a flat,
// optionally distance-ordered instance list for instanced drawing.
package extract

import (
	"cmp"
	"slices"

	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/zap"

	"brickstream.ai/internal/brickmap"
)

// Instance is one materialized leaf volume: its world-space corner, its edge
// length in bricks and the brick it samples.
type Instance struct {
	Position mgl32.Vec3
	Scale    float32
	Brick    uint32
}

// Center is the midpoint of the instance's cube.
func (in Instance) Center() mgl32.Vec3 {
	h := in.Scale / 2
	return in.Position.Add(mgl32.Vec3{h, h, h})
}

type Options struct {
	Sort         bool
	Reverse      bool
	StreamingPos mgl32.Vec3
	// MaxInstances caps the result after ordering; 0 means unlimited.
	MaxInstances int
}

// Extract collects every leaf at or above brick level. Nodes deeper than the
// tree's depth are logged and dropped. Structural errors from the walk are
// returned together with whatever was collected.
func Extract(t *brickmap.Tree, opts Options, log *zap.Logger) ([]Instance, error) {
	if log == nil {
		log = zap.NewNop()
	}
	depth := t.Depth()
	var offset float32
	if depth > 0 {
		offset = float32(uint32(1) << (depth - 1))
	}

	var out []Instance
	err := t.RecursiveSearch(func(index uint32, pos brickmap.UVec3, d uint32) {
		n := t.Node(index)
		if n.Kind() != brickmap.KindLeaf {
			return
		}
		if d > depth {
			log.Warn("leaf below brick level dropped",
				zap.Uint32("node", index), zap.Uint32("depth", d), zap.Uint32("max_depth", depth))
			return
		}
		out = append(out, Instance{
			Position: mgl32.Vec3{float32(pos.X) - offset, float32(pos.Y) - offset, float32(pos.Z) - offset},
			Scale:    float32(uint32(1) << (depth - d)),
			Brick:    uint32(n.Brick()),
		})
	})

	if opts.Sort {
		out = SortByDistance(out, opts.StreamingPos, opts.Reverse)
	}
	if opts.MaxInstances > 0 && len(out) > opts.MaxInstances {
		out = out[:opts.MaxInstances]
	}
	return out, err
}

// SortByDistance orders instances by the distance from their center to pos,
// nearest first (farthest first when reverse). Ties keep their input order.
// The slice is sorted in place and returned.
func SortByDistance(in []Instance, pos mgl32.Vec3, reverse bool) []Instance {
	type keyed struct {
		key float32
		in  Instance
	}
	ks := make([]keyed, len(in))
	for i, v := range in {
		d := v.Center().Sub(pos).Len()
		if reverse {
			d = -d
		}
		ks[i] = keyed{key: d, in: v}
	}
	slices.SortStableFunc(ks, func(a, b keyed) int {
		return cmp.Compare(a.key, b.key)
	})
	for i := range ks {
		in[i] = ks[i].in
	}
	return in
}
