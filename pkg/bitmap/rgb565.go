package bitmap

import (
	"image"
	"image/color"
)

// RGB565 is a 16 bit little endian frame buffer as used by small SPI and
// USB LCD panels. It implements draw.Image.
type RGB565 struct {
	Pix    []byte
	Stride int
	Rect   image.Rectangle
}

func NewRGB565(r image.Rectangle) *RGB565 {
	return &RGB565{
		Pix:    make([]byte, 2*r.Dx()*r.Dy()),
		Stride: 2 * r.Dx(),
		Rect:   r,
	}
}

func (p *RGB565) Bounds() image.Rectangle {
	return p.Rect
}

func (p *RGB565) ColorModel() color.Model {
	return RGB565Model
}

func (p *RGB565) PixOffset(x, y int) int {
	return (y-p.Rect.Min.Y)*p.Stride + (x-p.Rect.Min.X)*2
}

func (p *RGB565) At(x, y int) color.Color {
	if !(image.Point{X: x, Y: y}.In(p.Rect)) {
		return RGB565Color(0)
	}
	i := p.PixOffset(x, y)
	return RGB565Color(p.Pix[i+1])<<8 | RGB565Color(p.Pix[i])
}

func (p *RGB565) Set(x, y int, c color.Color) {
	if !(image.Point{X: x, Y: y}.In(p.Rect)) {
		return
	}
	v := RGB565Model.Convert(c).(RGB565Color)
	i := p.PixOffset(x, y)
	p.Pix[i] = byte(v)
	p.Pix[i+1] = byte(v >> 8)
}

var RGB565Model = color.ModelFunc(func(c color.Color) color.Color {
	if v, ok := c.(RGB565Color); ok {
		return v
	}
	r, g, b, _ := c.RGBA()
	// top 5/6/5 bits of each 16 bit channel: RRRRRGGG GGGBBBBB
	return RGB565Color((r & 0xF800) | ((g & 0xFC00) >> 5) | ((b & 0xF800) >> 11))
})

// RGB565Color is a packed 5-6-5 color. Alpha is always opaque.
type RGB565Color uint16

func (c RGB565Color) RGBA() (r, g, b, a uint32) {
	// replicate the high bits into the low ones so 0 and max map to 0 and 0xFFFF
	rBits := uint32(c & 0xF800)
	gBits := uint32(c & 0x7E0)
	bBits := uint32(c & 0x1F)
	r = rBits | rBits>>5 | rBits>>10 | rBits>>15
	g = gBits<<5 | gBits>>1 | gBits>>7
	b = bBits<<11 | bBits<<6 | bBits<<1 | bBits>>4
	a = 0xFFFF
	return
}
