package config

import (
	"io"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	flag "github.com/spf13/pflag"

	"dithers/pkg/dither"
	"dithers/pkg/layout"
	"dithers/pkg/resize"
	"dithers/pkg/storage"
)

var ErrUsage = errors.New("usage error")

const DefaultMaxSide = 800

type Config struct {
	Input   string
	Output  string
	MaxSide int

	Bayer  int
	Levels int
	Color  bool

	Engine resize.Engine
	Filter string
	Format storage.Format

	Workers      int
	SkipExisting bool
	Sniff        bool
	Progress     bool
	Debug        bool
}

// Mode returns the dither mode selected by Color.
func (c *Config) Mode() dither.Mode {
	return lo.Ternary(c.Color, dither.ModeColor, dither.ModeMono)
}

// Parser wraps the flag set so callers can print usage.
type Parser struct {
	fs   *flag.FlagSet
	name string

	output       string
	bayer        int
	levels       int
	color        bool
	engine       string
	filter       string
	format       string
	workers      int
	skipExisting bool
	sniff        bool
	progress     bool
	debug        bool
}

func NewParser(name string) *Parser {
	p := &Parser{fs: flag.NewFlagSet(name, flag.ContinueOnError), name: name}
	// errors and usage are reported by the caller
	p.fs.SetOutput(io.Discard)

	p.fs.StringVarP(&p.output, "output", "o", "", "output root (default <input_directory>/"+layout.DefaultDir+")")
	p.fs.IntVarP(&p.bayer, "bayer", "b", 8, "bayer matrix order, one of 2, 4, 8, 16")
	p.fs.IntVarP(&p.levels, "levels", "l", 2, "palette levels per channel")
	p.fs.BoolVar(&p.color, "color", false, "dither each color channel instead of luminance")
	p.fs.StringVar(&p.engine, "engine", string(resize.DefaultEngine), "resize engine, imaging or nfnt")
	p.fs.StringVar(&p.filter, "filter", resize.DefaultFilter, "resample filter")
	p.fs.StringVarP(&p.format, "format", "f", string(storage.FormatPNG), "output format: png, bmp, gif, tiff, mono, rgb565")
	p.fs.IntVarP(&p.workers, "workers", "w", runtime.NumCPU(), "parallel workers")
	p.fs.BoolVar(&p.skipExisting, "skip-existing", false, "skip inputs whose output already exists")
	p.fs.BoolVar(&p.sniff, "sniff", false, "detect images without a known extension by header")
	p.fs.BoolVar(&p.progress, "progress", false, "show a progress bar on stderr")
	p.fs.BoolVar(&p.debug, "debug", false, "set debug")

	return p
}

func (p *Parser) FlagSet() *flag.FlagSet {
	return p.fs
}

func (p *Parser) Usage() string {
	return "Usage: " + p.name + " [flags] <input_directory> [max_image_side]\n\n" + p.fs.FlagUsages()
}

// Parse parses and validates args (without the program name). Invalid
// input is reported as ErrUsage; flag.ErrHelp is returned as is.
func (p *Parser) Parse(args []string) (*Config, error) {
	if err := p.fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, err
		}
		return nil, errors.Wrap(ErrUsage, err.Error())
	}

	pos := p.fs.Args()
	if len(pos) < 1 || len(pos) > 2 {
		return nil, errors.Wrapf(ErrUsage, "want 1 or 2 arguments, got %d", len(pos))
	}

	c := &Config{
		Input:        filepath.Clean(pos[0]),
		MaxSide:      DefaultMaxSide,
		Bayer:        p.bayer,
		Levels:       p.levels,
		Color:        p.color,
		Engine:       resize.Engine(p.engine),
		Filter:       strings.ToLower(p.filter),
		Workers:      p.workers,
		SkipExisting: p.skipExisting,
		Sniff:        p.sniff,
		Progress:     p.progress,
		Debug:        p.debug,
	}

	if len(pos) == 2 {
		n, err := strconv.Atoi(pos[1])
		if err != nil || n <= 0 {
			return nil, errors.Wrapf(ErrUsage, "max_image_side must be a positive integer, got %q", pos[1])
		}
		c.MaxSide = n
	}

	if c.Engine == resize.EngineNfnt && !p.fs.Changed("filter") {
		c.Filter = "lanczos3"
	}

	c.Output = lo.Ternary(p.output == "", filepath.Join(c.Input, layout.DefaultDir), filepath.Clean(p.output))

	if err := c.validate(); err != nil {
		return nil, err
	}

	format, err := storage.ParseFormat(p.format)
	if err != nil {
		return nil, errors.Wrap(ErrUsage, err.Error())
	}
	c.Format = format

	return c, nil
}

func (c *Config) validate() error {
	if !lo.Contains(dither.BayerOrders, c.Bayer) {
		return errors.Wrapf(ErrUsage, "bayer order %d, want one of %v", c.Bayer, dither.BayerOrders)
	}
	if c.Levels < dither.MinLevels || c.Levels > dither.MaxLevels {
		return errors.Wrapf(ErrUsage, "levels %d, want %d to %d", c.Levels, dither.MinLevels, dither.MaxLevels)
	}
	if c.Workers < 1 {
		return errors.Wrapf(ErrUsage, "workers %d, want at least 1", c.Workers)
	}

	filters := resize.Filters(c.Engine)
	if len(filters) == 0 {
		return errors.Wrapf(ErrUsage, "unknown engine %q", c.Engine)
	}
	if !lo.Contains(filters, c.Filter) {
		return errors.Wrapf(ErrUsage, "filter %q for engine %s, want one of %v", c.Filter, c.Engine, filters)
	}

	return nil
}
