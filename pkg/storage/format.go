package storage

import (
	"image"
	"image/color"
	"image/draw"
	"io"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"dithers/pkg/bitmap"
)

// Format is an output encoding.
type Format string

const (
	FormatPNG  Format = "png"
	FormatBMP  Format = "bmp"
	FormatGIF  Format = "gif"
	FormatTIFF Format = "tiff"
	// FormatMono is a headerless packed 1 bit frame buffer.
	FormatMono Format = "mono"
	// FormatRGB565 is a headerless 16 bit little endian frame buffer.
	FormatRGB565 Format = "rgb565"
)

var Formats = []Format{FormatPNG, FormatBMP, FormatGIF, FormatTIFF, FormatMono, FormatRGB565}

func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimPrefix(s, ".")))
	if !lo.Contains(Formats, f) {
		return "", errors.Errorf("unknown output format %q, want one of %v", s, Formats)
	}
	return f, nil
}

// Ext returns the file extension including the dot.
func (f Format) Ext() string {
	return "." + string(f)
}

func (f Format) encode(w io.Writer, img image.Image) error {
	switch f {
	case FormatPNG:
		return imaging.Encode(w, img, imaging.PNG)
	case FormatBMP:
		return imaging.Encode(w, img, imaging.BMP)
	case FormatTIFF:
		return imaging.Encode(w, img, imaging.TIFF)
	case FormatGIF:
		pm, err := paletted(img)
		if err != nil {
			return err
		}
		return imaging.Encode(w, pm, imaging.GIF)
	case FormatMono:
		_, err := w.Write(bitmap.EncodeMono(img))
		return err
	case FormatRGB565:
		_, err := w.Write(bitmap.EncodeRGB565(img))
		return err
	}
	return errors.Errorf("unknown output format %q", f)
}

// paletted converts img to a paletted image using its exact colors, so the
// GIF encoder does not re-dither already dithered pixels.
func paletted(img image.Image) (*image.Paletted, error) {
	if pm, ok := img.(*image.Paletted); ok {
		return pm, nil
	}

	b := img.Bounds()
	seen := make(map[color.NRGBA]bool)
	var pal color.Palette
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			if seen[c] {
				continue
			}
			if len(pal) == 256 {
				return nil, errors.New("more than 256 colors, cannot encode gif")
			}
			seen[c] = true
			pal = append(pal, c)
		}
	}

	pm := image.NewPaletted(b, pal)
	draw.Draw(pm, b, img, b.Min, draw.Src)
	return pm, nil
}
