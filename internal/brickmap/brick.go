package brickmap

import "fmt"

const (
	BrickSize   = 4
	BrickVolume = BrickSize * BrickSize * BrickSize

	// bytes per brick in the lookup buffer (RGBA per voxel)
	BrickStride = BrickVolume * 4
)

type UVec3 struct {
	X, Y, Z uint32
}

func (v UVec3) Add(o UVec3) UVec3 {
	return UVec3{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z}
}

func (v UVec3) Scale(s uint32) UVec3 {
	return UVec3{X: v.X * s, Y: v.Y * s, Z: v.Z * s}
}

func (v UVec3) String() string {
	return fmt.Sprintf("(%d,%d,%d)", v.X, v.Y, v.Z)
}

// Color is one voxel. The zero value is an empty voxel.
type Color struct {
	R, G, B, A uint8
}

func RGBA(r, g, b, a uint8) Color {
	return Color{R: r, G: g, B: b, A: a}
}

func (c Color) IsEmpty() bool {
	return c == Color{}
}

// Uint32 packs the color little-endian (R in the low byte), matching the
// byte order of the brick lookup buffer.
func (c Color) Uint32() uint32 {
	return uint32(c.R) | uint32(c.G)<<8 | uint32(c.B)<<16 | uint32(c.A)<<24
}

func ColorFromUint32(v uint32) Color {
	return Color{R: uint8(v), G: uint8(v >> 8), B: uint8(v >> 16), A: uint8(v >> 24)}
}

type Brick struct {
	voxels [BrickVolume]Color
	solid  int
}

func EmptyBrick() Brick {
	return Brick{}
}

func voxelIndex(p UVec3) (int, bool) {
	if p.X >= BrickSize || p.Y >= BrickSize || p.Z >= BrickSize {
		return 0, false
	}
	return int(p.X + p.Y*BrickSize + p.Z*BrickSize*BrickSize), true
}

// Write sets one voxel. Writing the zero Color clears it.
func (b *Brick) Write(p UVec3, c Color) error {
	i, ok := voxelIndex(p)
	if !ok {
		return fmt.Errorf("%w: local %s, brick size %d", ErrVoxelOutOfBounds, p, BrickSize)
	}
	prev := b.voxels[i]
	switch {
	case prev.IsEmpty() && !c.IsEmpty():
		b.solid++
	case !prev.IsEmpty() && c.IsEmpty():
		b.solid--
	}
	b.voxels[i] = c
	return nil
}

func (b *Brick) MustWrite(p UVec3, c Color) {
	if err := b.Write(p, c); err != nil {
		panic(err)
	}
}

func (b *Brick) At(p UVec3) (Color, error) {
	i, ok := voxelIndex(p)
	if !ok {
		return Color{}, fmt.Errorf("%w: local %s, brick size %d", ErrVoxelOutOfBounds, p, BrickSize)
	}
	return b.voxels[i], nil
}

func (b *Brick) Solid() int {
	return b.solid
}

func (b *Brick) IsEmpty() bool {
	return b.solid == 0
}

// Average returns the mean color of the solid voxels, or the zero Color for
// an empty brick.
func (b *Brick) Average() Color {
	if b.solid == 0 {
		return Color{}
	}
	var r, g, bl, a uint64
	for _, v := range b.voxels {
		if v.IsEmpty() {
			continue
		}
		r += uint64(v.R)
		g += uint64(v.G)
		bl += uint64(v.B)
		a += uint64(v.A)
	}
	n := uint64(b.solid)
	return Color{R: uint8(r / n), G: uint8(g / n), B: uint8(bl / n), A: uint8(a / n)}
}

// Packed returns the voxels in linear order (x fastest, then y, then z).
func (b *Brick) Packed() []uint32 {
	out := make([]uint32, BrickVolume)
	for i, v := range b.voxels {
		out[i] = v.Uint32()
	}
	return out
}

// BrickFromPacked rebuilds a brick from Packed output.
func BrickFromPacked(vals []uint32) (Brick, error) {
	var b Brick
	if len(vals) != BrickVolume {
		return b, fmt.Errorf("brick voxel count mismatch: got %d want %d", len(vals), BrickVolume)
	}
	for i, v := range vals {
		c := ColorFromUint32(v)
		b.voxels[i] = c
		if !c.IsEmpty() {
			b.solid++
		}
	}
	return b, nil
}

func (b *Brick) appendRGBA(dst []byte) []byte {
	for _, v := range b.voxels {
		dst = append(dst, v.R, v.G, v.B, v.A)
	}
	return dst
}
