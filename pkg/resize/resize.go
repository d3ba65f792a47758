package resize

import (
	"image"
	"image/draw"
	"math"
	"sort"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	"github.com/samber/lo"
)

var (
	ErrInvalidDimensions = errors.New("invalid dimensions")
	ErrInvalidFilter     = errors.New("invalid resample filter")
)

type Engine string

const (
	EngineImaging Engine = "imaging"
	EngineNfnt    Engine = "nfnt"
)

const (
	DefaultEngine = EngineImaging
	DefaultFilter = "lanczos"
)

var imagingFilters = map[string]imaging.ResampleFilter{
	"lanczos":    imaging.Lanczos,
	"catmullrom": imaging.CatmullRom,
	"mitchell":   imaging.MitchellNetravali,
	"linear":     imaging.Linear,
	"box":        imaging.Box,
}

var nfntFilters = map[string]resize.InterpolationFunction{
	"bilinear": resize.Bilinear,
	"bicubic":  resize.Bicubic,
	"mitchell": resize.MitchellNetravali,
	"lanczos2": resize.Lanczos2,
	"lanczos3": resize.Lanczos3,
}

// Filters lists the filter names an engine accepts.
func Filters(engine Engine) []string {
	var names []string
	switch engine {
	case EngineImaging:
		names = lo.Keys(imagingFilters)
	case EngineNfnt:
		names = lo.Keys(nfntFilters)
	}
	sort.Strings(names)
	return names
}

type scaler func(img image.Image, w, h int) image.Image

func New(engine Engine, filter string) (*Resizer, error) {
	filter = strings.ToLower(filter)

	r := &Resizer{engine: engine, filter: filter}
	switch engine {
	case EngineImaging:
		f, ok := imagingFilters[filter]
		if !ok {
			return nil, errors.Wrapf(ErrInvalidFilter, "%q for engine %s, want one of %v", filter, engine, Filters(engine))
		}
		r.scale = func(img image.Image, w, h int) image.Image {
			return imaging.Resize(img, w, h, f)
		}
	case EngineNfnt:
		f, ok := nfntFilters[filter]
		if !ok {
			return nil, errors.Wrapf(ErrInvalidFilter, "%q for engine %s, want one of %v", filter, engine, Filters(engine))
		}
		r.scale = func(img image.Image, w, h int) image.Image {
			return resize.Resize(uint(w), uint(h), img, f)
		}
	default:
		return nil, errors.Errorf("unknown resize engine %q", engine)
	}

	return r, nil
}

// Resizer downsamples images so their largest side fits a target size.
// It never upscales.
type Resizer struct {
	engine Engine
	filter string
	scale  scaler
}

func (r *Resizer) Engine() Engine {
	return r.engine
}

func (r *Resizer) Filter() string {
	return r.filter
}

// Resize returns img scaled so that max(width, height) == target, keeping
// the aspect ratio. Images already within target are returned as is.
func (r *Resizer) Resize(img image.Image, target int) (image.Image, error) {
	if target <= 0 {
		return nil, errors.Wrapf(ErrInvalidDimensions, "target size %d", target)
	}

	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, errors.Wrapf(ErrInvalidDimensions, "empty image %dx%d", b.Dx(), b.Dy())
	}

	w, h, ok := Fit(b.Dx(), b.Dy(), target)
	if !ok {
		return img, nil
	}

	out := r.scale(img, w, h)
	switch img.(type) {
	case *image.Gray:
		if _, ok := out.(*image.Gray); !ok {
			out = convert(image.NewGray(out.Bounds()), out)
		}
	case *image.Gray16:
		if _, ok := out.(*image.Gray16); !ok {
			out = convert(image.NewGray16(out.Bounds()), out)
		}
	}
	return out, nil
}

// Fit computes the output size for a w×h image bounded by target. ok is
// false when no downscale is needed.
func Fit(w, h, target int) (int, int, bool) {
	longest := w
	if h > longest {
		longest = h
	}
	if longest <= target {
		return w, h, false
	}

	scale := float64(target) / float64(longest)
	nw := int(math.Round(float64(w) * scale))
	nh := int(math.Round(float64(h) * scale))
	return atLeastOne(nw), atLeastOne(nh), true
}

func atLeastOne(v int) int {
	if v < 1 {
		return 1
	}
	return v
}

// convert keeps grayscale sources grayscale after resampling. Other color
// models come back from the engines as RGBA-family images.
func convert(dst draw.Image, src image.Image) image.Image {
	draw.Draw(dst, dst.Bounds(), src, src.Bounds().Min, draw.Src)
	return dst
}
