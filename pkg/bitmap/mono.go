package bitmap

import (
	"image"
	"image/color"
)

// Mono is a packed 1 bit per pixel frame buffer, most significant bit
// first, each row padded to a whole byte. A set bit is white.
type Mono struct {
	Pix    []byte
	Stride int
	Rect   image.Rectangle
}

func NewMono(r image.Rectangle) *Mono {
	stride := (r.Dx() + 7) / 8
	return &Mono{
		Pix:    make([]byte, stride*r.Dy()),
		Stride: stride,
		Rect:   r,
	}
}

func (p *Mono) Bounds() image.Rectangle {
	return p.Rect
}

func (p *Mono) ColorModel() color.Model {
	return MonoModel
}

func (p *Mono) bit(x, y int) (int, byte) {
	dx := x - p.Rect.Min.X
	return (y-p.Rect.Min.Y)*p.Stride + dx/8, 0x80 >> uint(dx%8)
}

func (p *Mono) At(x, y int) color.Color {
	if !(image.Point{X: x, Y: y}.In(p.Rect)) {
		return color.Black
	}
	i, mask := p.bit(x, y)
	if p.Pix[i]&mask != 0 {
		return color.White
	}
	return color.Black
}

func (p *Mono) Set(x, y int, c color.Color) {
	if !(image.Point{X: x, Y: y}.In(p.Rect)) {
		return
	}
	i, mask := p.bit(x, y)
	if MonoModel.Convert(c) == color.White {
		p.Pix[i] |= mask
	} else {
		p.Pix[i] &^= mask
	}
}

// MonoModel snaps a color to black or white at half luminance.
var MonoModel = color.ModelFunc(func(c color.Color) color.Color {
	if color.GrayModel.Convert(c).(color.Gray).Y >= 0x80 {
		return color.White
	}
	return color.Black
})
