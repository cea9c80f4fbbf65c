// Package heightfield provides 2D grids of unsigned column heights, the input
// of the world builder.
package heightfield

import "fmt"

// Field is a row-major height grid: At(x, z) reads row z, column x.
// Samples outside [0,Width) x [0,Depth) report ok=false.
type Field interface {
	Width() int
	Depth() int
	At(x, z int) (uint32, bool)
}

// Grid is an in-memory Field.
type Grid struct {
	width, depth int
	data         []uint32
}

func NewGrid(width, depth int) *Grid {
	if width < 0 {
		width = 0
	}
	if depth < 0 {
		depth = 0
	}
	return &Grid{width: width, depth: depth, data: make([]uint32, width*depth)}
}

// FromRows copies a [z][x] slice of rows. All rows must have the same length.
func FromRows(rows [][]uint32) (*Grid, error) {
	if len(rows) == 0 {
		return NewGrid(0, 0), nil
	}
	g := NewGrid(len(rows[0]), len(rows))
	for z, row := range rows {
		if len(row) != g.width {
			return nil, fmt.Errorf("height field row %d has %d samples, want %d", z, len(row), g.width)
		}
		copy(g.data[z*g.width:], row)
	}
	return g, nil
}

func (g *Grid) Width() int { return g.width }
func (g *Grid) Depth() int { return g.depth }

func (g *Grid) At(x, z int) (uint32, bool) {
	if x < 0 || z < 0 || x >= g.width || z >= g.depth {
		return 0, false
	}
	return g.data[z*g.width+x], true
}

func (g *Grid) Set(x, z int, h uint32) {
	if x < 0 || z < 0 || x >= g.width || z >= g.depth {
		return
	}
	g.data[z*g.width+x] = h
}

// Max returns the tallest sample, 0 for an empty grid.
func (g *Grid) Max() uint32 {
	var m uint32
	for _, h := range g.data {
		m = max(m, h)
	}
	return m
}

type constant struct {
	width, depth int
	h            uint32
}

// Constant is a flat field of the given extent.
func Constant(width, depth int, h uint32) Field {
	return constant{width: width, depth: depth, h: h}
}

func (c constant) Width() int { return c.width }
func (c constant) Depth() int { return c.depth }

func (c constant) At(x, z int) (uint32, bool) {
	if x < 0 || z < 0 || x >= c.width || z >= c.depth {
		return 0, false
	}
	return c.h, true
}
