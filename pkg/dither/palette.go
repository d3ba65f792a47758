package dither

import (
	"image/color"

	"github.com/pkg/errors"
)

var ErrInvalidLevels = errors.New("invalid palette levels")

const (
	MinLevels = 2
	MaxLevels = 256
)

// Palette holds evenly spaced 8-bit channel levels, from 0 to 255.
type Palette struct {
	levels []uint8
	// lower[v] is the index of the highest level <= v
	lower [256]uint8
}

func NewPalette(levels int) (*Palette, error) {
	if levels < MinLevels || levels > MaxLevels {
		return nil, errors.Wrapf(ErrInvalidLevels, "%d not in [%d,%d]", levels, MinLevels, MaxLevels)
	}

	p := &Palette{levels: make([]uint8, levels)}
	for k := range p.levels {
		// round(k*255/(levels-1)) in integers
		p.levels[k] = uint8((k*255*2 + (levels - 1)) / (2 * (levels - 1)))
	}

	k := 0
	for v := 0; v < 256; v++ {
		for k+1 < levels && int(p.levels[k+1]) <= v {
			k++
		}
		p.lower[v] = uint8(k)
	}

	return p, nil
}

func (p *Palette) Len() int {
	return len(p.levels)
}

// Levels returns a copy of the channel levels.
func (p *Palette) Levels() []uint8 {
	return append([]uint8(nil), p.levels...)
}

// Contains reports whether v is exactly one of the palette levels.
func (p *Palette) Contains(v uint8) bool {
	return p.levels[p.lower[v]] == v
}

// Index quantizes v to a level index, rounding up when the position of v
// between its neighbouring levels exceeds the threshold t.
func (p *Palette) Index(v uint8, t float64) int {
	k := int(p.lower[v])
	if k == len(p.levels)-1 {
		return k
	}

	low, high := p.levels[k], p.levels[k+1]
	if float64(v-low)/float64(high-low) > t {
		return k + 1
	}
	return k
}

func (p *Palette) Quantize(v uint8, t float64) uint8 {
	return p.levels[p.Index(v, t)]
}

// Gray returns the palette as gray colors, suitable for image.Paletted.
func (p *Palette) Gray() color.Palette {
	cp := make(color.Palette, len(p.levels))
	for i, l := range p.levels {
		cp[i] = color.Gray{Y: l}
	}
	return cp
}
