package heightfield

import (
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// LoadImage reads an image and uses the 8-bit luminance of every step-th
// pixel on both axes as the column height. step < 1 is treated as 1.
func LoadImage(path string, step int) (*Grid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ConfigError{Source: path, Err: err}
	}
	defer f.Close()
	g, err := DecodeImage(f, step)
	if err != nil {
		return nil, &ConfigError{Source: path, Err: err}
	}
	return g, nil
}

func DecodeImage(r io.Reader, step int) (*Grid, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return FromImage(img, step), nil
}

func FromImage(img image.Image, step int) *Grid {
	if step < 1 {
		step = 1
	}
	b := img.Bounds()
	w := (b.Dx() + step - 1) / step
	d := (b.Dy() + step - 1) / step
	g := NewGrid(w, d)
	for sz, y := 0, b.Min.Y; y < b.Max.Y; sz, y = sz+1, y+step {
		for sx, x := 0, b.Min.X; x < b.Max.X; sx, x = sx+1, x+step {
			l := color.GrayModel.Convert(img.At(x, y)).(color.Gray)
			g.data[sz*w+sx] = uint32(l.Y)
		}
	}
	return g
}
