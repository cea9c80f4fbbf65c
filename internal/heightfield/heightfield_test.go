package heightfield

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"brickstream.ai/internal/config"
)

func TestGridRowMajor(t *testing.T) {
	g, err := FromRows([][]uint32{
		{1, 2, 3},
		{4, 5, 6},
	})
	require.NoError(t, err)
	require.Equal(t, 3, g.Width())
	require.Equal(t, 2, g.Depth())

	h, ok := g.At(2, 1)
	require.True(t, ok)
	require.Equal(t, uint32(6), h)

	for _, p := range [][2]int{{3, 0}, {0, 2}, {-1, 0}} {
		_, ok := g.At(p[0], p[1])
		require.False(t, ok, "%v", p)
	}
	require.Equal(t, uint32(6), g.Max())

	_, err = FromRows([][]uint32{{1, 2}, {3}})
	require.Error(t, err)
}

func TestConstant(t *testing.T) {
	f := Constant(4, 2, 9)
	h, ok := f.At(3, 1)
	require.True(t, ok)
	require.Equal(t, uint32(9), h)
	_, ok = f.At(4, 0)
	require.False(t, ok)
}

func grayPNG(t *testing.T, w, h int, px func(x, y int) uint8) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: px(x, y)})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestDecodeImageLuminance(t *testing.T) {
	data := grayPNG(t, 3, 2, func(x, y int) uint8 { return uint8(10*y + x) })
	g, err := DecodeImage(bytes.NewReader(data), 1)
	require.NoError(t, err)
	require.Equal(t, 3, g.Width())
	require.Equal(t, 2, g.Depth())
	h, _ := g.At(2, 1)
	require.Equal(t, uint32(12), h)
}

func TestDecodeImageSampleStep(t *testing.T) {
	data := grayPNG(t, 5, 3, func(x, y int) uint8 { return uint8(10*y + x) })
	g, err := DecodeImage(bytes.NewReader(data), 2)
	require.NoError(t, err)
	require.Equal(t, 3, g.Width())
	require.Equal(t, 2, g.Depth())
	h, _ := g.At(2, 1)
	require.Equal(t, uint32(24), h)
}

func TestLoadImageConfigError(t *testing.T) {
	_, err := LoadImage(filepath.Join(t.TempDir(), "missing.png"), 1)
	require.ErrorIs(t, err, config.ErrConfiguration)
	var ce *ConfigError
	require.True(t, errors.As(err, &ce))

	bad := filepath.Join(t.TempDir(), "bad.png")
	require.NoError(t, os.WriteFile(bad, []byte("not an image"), 0o644))
	_, err = LoadImage(bad, 1)
	require.ErrorIs(t, err, config.ErrConfiguration)
}

func TestLoadImageFromDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hm.png")
	require.NoError(t, os.WriteFile(path, grayPNG(t, 4, 4, func(int, int) uint8 { return 200 }), 0o644))
	g, err := LoadImage(path, 1)
	require.NoError(t, err)
	require.Equal(t, uint32(200), g.Max())
}

func TestProceduralDeterministic(t *testing.T) {
	p := NoiseParams{Octaves: 3, Frequency: 0.05, Amplitude: 20, Base: 30}
	a := Procedural(42, 32, 16, p)
	b := Procedural(42, 32, 16, p)
	require.Equal(t, a.data, b.data)

	c := Procedural(43, 32, 16, p)
	require.NotEqual(t, a.data, c.data)

	for _, h := range a.data {
		require.LessOrEqual(t, h, uint32(60))
	}
}

func TestSimplexRange(t *testing.T) {
	s := NewSimplex(7)
	for i := 0; i < 2000; i++ {
		v := s.Noise2(float64(i)*0.37, float64(i)*0.11)
		require.GreaterOrEqual(t, v, -1.0)
		require.LessOrEqual(t, v, 1.0)
	}
}
