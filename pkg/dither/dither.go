package dither

import (
	"image"
	"image/color"
	"runtime"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
)

type Mode int

const (
	// ModeMono quantizes luma and produces a gray paletted image.
	ModeMono Mode = iota
	// ModeColor quantizes R, G and B independently.
	ModeColor
)

func (m Mode) String() string {
	switch m {
	case ModeMono:
		return "mono"
	case ModeColor:
		return "color"
	}
	return "unknown"
}

func New(m *Matrix, levels int, mode Mode) (*Ditherer, error) {
	if m == nil {
		return nil, errors.Wrap(ErrInvalidMatrix, "nil")
	}

	p, err := NewPalette(levels)
	if err != nil {
		return nil, err
	}

	if mode != ModeMono && mode != ModeColor {
		return nil, errors.Errorf("unknown dither mode %d", mode)
	}

	return &Ditherer{
		matrix:  m,
		palette: p,
		mode:    mode,
	}, nil
}

// Ditherer applies ordered dithering. It holds no mutable state and may be
// shared between goroutines.
type Ditherer struct {
	matrix  *Matrix
	palette *Palette
	mode    Mode
}

func (d *Ditherer) Matrix() *Matrix {
	return d.matrix
}

func (d *Ditherer) Palette() *Palette {
	return d.palette
}

func (d *Ditherer) Mode() Mode {
	return d.mode
}

// Dither returns a new quantized image with the bounds of img. Transparent
// pixels are composited over white first.
func (d *Ditherer) Dither(img image.Image) image.Image {
	src := flatten(img)
	b := src.Bounds()

	if d.mode == ModeColor {
		dst := image.NewNRGBA(b)
		rows(b, func(y int) {
			off := dst.PixOffset(b.Min.X, y)
			for x := b.Min.X; x < b.Max.X; x++ {
				r, g, bl := rgbAt(src, x, y)
				t := d.matrix.Threshold(x, y)
				dst.Pix[off+0] = d.palette.Quantize(r, t)
				dst.Pix[off+1] = d.palette.Quantize(g, t)
				dst.Pix[off+2] = d.palette.Quantize(bl, t)
				dst.Pix[off+3] = 0xff
				off += 4
			}
		})
		return dst
	}

	dst := image.NewPaletted(b, d.palette.Gray())
	rows(b, func(y int) {
		off := dst.PixOffset(b.Min.X, y)
		for x := b.Min.X; x < b.Max.X; x++ {
			dst.Pix[off] = uint8(d.palette.Index(lumaAt(src, x, y), d.matrix.Threshold(x, y)))
			off++
		}
	})
	return dst
}

// rows runs fn for every row of b, split in bands across CPUs.
func rows(b image.Rectangle, fn func(y int)) {
	h := b.Dy()
	if h <= 0 || b.Dx() <= 0 {
		return
	}

	bands := runtime.GOMAXPROCS(0)
	if bands > h {
		bands = h
	}
	step := (h + bands - 1) / bands

	var wg sync.WaitGroup
	for start := b.Min.Y; start < b.Max.Y; start += step {
		end := start + step
		if end > b.Max.Y {
			end = b.Max.Y
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for y := start; y < end; y++ {
				fn(y)
			}
		}(start, end)
	}
	wg.Wait()
}

func opaque(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return o.Opaque()
	}
	return false
}

func flatten(img image.Image) image.Image {
	if opaque(img) {
		return img
	}
	b := img.Bounds()
	bg := imaging.New(b.Dx(), b.Dy(), color.White)
	flat := imaging.Overlay(bg, img, image.Pt(0, 0), 1.0)
	// keep the caller's coordinates so matrix phase matches the source
	flat.Rect = b
	return flat
}

func lumaAt(img image.Image, x, y int) uint8 {
	switch src := img.(type) {
	case *image.Gray:
		return src.Pix[src.PixOffset(x, y)]
	case *image.NRGBA:
		i := src.PixOffset(x, y)
		return luma(src.Pix[i], src.Pix[i+1], src.Pix[i+2])
	case *image.RGBA:
		i := src.PixOffset(x, y)
		return luma(src.Pix[i], src.Pix[i+1], src.Pix[i+2])
	}
	return color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y
}

func rgbAt(img image.Image, x, y int) (uint8, uint8, uint8) {
	switch src := img.(type) {
	case *image.Gray:
		v := src.Pix[src.PixOffset(x, y)]
		return v, v, v
	case *image.NRGBA:
		i := src.PixOffset(x, y)
		return src.Pix[i], src.Pix[i+1], src.Pix[i+2]
	case *image.RGBA:
		i := src.PixOffset(x, y)
		return src.Pix[i], src.Pix[i+1], src.Pix[i+2]
	}
	r, g, b, _ := img.At(x, y).RGBA()
	return uint8(r >> 8), uint8(g >> 8), uint8(b >> 8)
}

// luma uses the Rec. 601 weights of color.GrayModel.
func luma(r, g, b uint8) uint8 {
	y := (19595*uint32(r) + 38470*uint32(g) + 7471*uint32(b) + 1<<15) >> 16
	return uint8(y)
}
