package heightfield

import "math"

var (
	f2 = 0.5 * (math.Sqrt(3) - 1)
	g2 = (3 - math.Sqrt(3)) / 6

	grad2 = [8][2]float64{
		{1, 1}, {-1, 1}, {1, -1}, {-1, -1},
		{1, 0}, {-1, 0}, {0, 1}, {0, -1},
	}
)

// Simplex is seeded 2D simplex noise in [-1, 1].
type Simplex struct {
	perm [512]uint8
}

// NewSimplex shuffles the permutation table deterministically from seed.
func NewSimplex(seed int64) *Simplex {
	var p [256]uint8
	for i := range p {
		p[i] = uint8(i)
	}
	for i := 255; i > 0; i-- {
		j := int(hash2(seed, i, 0) % uint64(i+1))
		p[i], p[j] = p[j], p[i]
	}
	s := &Simplex{}
	for i := range s.perm {
		s.perm[i] = p[i&255]
	}
	return s
}

func (s *Simplex) corner(gi int, x, y float64) float64 {
	t := 0.5 - x*x - y*y
	if t < 0 {
		return 0
	}
	t *= t
	g := grad2[gi&7]
	return t * t * (g[0]*x + g[1]*y)
}

func (s *Simplex) Noise2(xin, yin float64) float64 {
	sk := (xin + yin) * f2
	i := math.Floor(xin + sk)
	j := math.Floor(yin + sk)
	t := (i + j) * g2
	x0 := xin - (i - t)
	y0 := yin - (j - t)

	var i1, j1 int
	if x0 > y0 {
		i1 = 1
	} else {
		j1 = 1
	}
	x1 := x0 - float64(i1) + g2
	y1 := y0 - float64(j1) + g2
	x2 := x0 - 1 + 2*g2
	y2 := y0 - 1 + 2*g2

	ii := int(i) & 255
	jj := int(j) & 255
	gi0 := int(s.perm[ii+int(s.perm[jj])])
	gi1 := int(s.perm[ii+i1+int(s.perm[jj+j1])])
	gi2 := int(s.perm[ii+1+int(s.perm[jj+1])])

	// scaled to roughly [-1,1]
	return 70 * (s.corner(gi0, x0, y0) + s.corner(gi1, x1, y1) + s.corner(gi2, x2, y2))
}

// Fractal sums octaves of noise, halving amplitude and doubling frequency
// each step. The result is normalized back to [-1, 1].
func (s *Simplex) Fractal(x, y float64, octaves int, frequency float64) float64 {
	if octaves < 1 {
		octaves = 1
	}
	var sum, norm float64
	amp := 1.0
	for o := 0; o < octaves; o++ {
		sum += amp * s.Noise2(x*frequency, y*frequency)
		norm += amp
		amp /= 2
		frequency *= 2
	}
	return sum / norm
}

type NoiseParams struct {
	Octaves   int
	Frequency float64
	Amplitude float64
	Base      float64
}

// Procedural samples fractal noise into a grid: height = Base + Amplitude*n,
// clamped at zero.
func Procedural(seed int64, width, depth int, p NoiseParams) *Grid {
	n := NewSimplex(seed)
	g := NewGrid(width, depth)
	for z := 0; z < depth; z++ {
		for x := 0; x < width; x++ {
			h := p.Base + p.Amplitude*n.Fractal(float64(x), float64(z), p.Octaves, p.Frequency)
			if h < 0 {
				h = 0
			}
			g.data[z*width+x] = uint32(h)
		}
	}
	return g
}
