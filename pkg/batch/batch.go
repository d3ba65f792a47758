package batch

import (
	"context"
	"image"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"

	"dithers/pkg/discovery"
	"dithers/pkg/layout"
	"dithers/pkg/storage"
)

// Resizer bounds the largest side of an image.
type Resizer interface {
	Resize(img image.Image, target int) (image.Image, error)
}

// Ditherer quantizes an image.
type Ditherer interface {
	Dither(img image.Image) image.Image
}

func New(
	disc *discovery.Discovery,
	resizer Resizer,
	ditherer Ditherer,
	store *storage.Store,
	lay *layout.Layout,
	logger *zap.Logger,
	opts ...Option,
) *Runner {
	r := &Runner{
		disc:     disc,
		resizer:  resizer,
		ditherer: ditherer,
		store:    store,
		layout:   lay,
		log:      logger,
		// options
		target:  800,
		format:  storage.FormatPNG,
		workers: 1,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Runner drives discovered files through resize, dither and save on a
// fixed pool of workers. A failing file never stops the batch.
type Runner struct {
	disc     *discovery.Discovery
	resizer  Resizer
	ditherer Ditherer
	store    *storage.Store
	layout   *layout.Layout
	log      *zap.Logger
	// options
	target       int
	format       storage.Format
	workers      int
	skipExisting bool
	progress     io.Writer
}

type outcome int

const (
	succeeded outcome = iota
	skipped
	failed
)

type result struct {
	path    discovery.ImagePath
	output  string
	outcome outcome
	bytes   int64
	err     error
}

// Run processes every discovered image and returns the summary. The error
// is only set when the walk itself fails, e.g. a missing root or a
// cancelled context; per-file failures are in the summary.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()
	s := &Summary{}

	paths, errc := r.disc.Stream(ctx)
	results := make(chan result)

	var wg sync.WaitGroup
	for i := 0; i < r.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range paths {
				results <- r.process(p)
			}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	bar := r.newBar()
	for res := range results {
		s.add(res)
		r.report(res)
		if bar != nil {
			_ = bar.Add(1)
		}
	}
	if bar != nil {
		_ = bar.Finish()
	}

	s.Elapsed = time.Since(start)
	sort.Slice(s.Failures, func(i, j int) bool {
		return s.Failures[i].Path.Path < s.Failures[j].Path.Path
	})

	if err := <-errc; err != nil {
		return s, err
	}

	s.Log(r.log)
	return s, nil
}

func (r *Runner) process(p discovery.ImagePath) (res result) {
	res = result{path: p, output: r.layout.Output(p.Rel)}

	// a malformed file can panic deep inside a decoder
	defer func() {
		if v := recover(); v != nil {
			res.outcome, res.err = failed, errors.Wrapf(storage.ErrDecode, "%s: panic: %v", p.Path, v)
		}
	}()

	if r.skipExisting {
		exists, err := r.store.Exists(res.output)
		if err != nil {
			res.outcome, res.err = failed, errors.Wrapf(storage.ErrWrite, "stat %s: %v", res.output, err)
			return res
		}
		if exists {
			res.outcome = skipped
			return res
		}
	}

	img, err := r.store.Decode(p.Path)
	if err != nil {
		res.outcome, res.err = failed, err
		return res
	}

	resized, err := r.resizer.Resize(img, r.target)
	if err != nil {
		res.outcome, res.err = failed, errors.Wrapf(err, "resize %s", p.Path)
		return res
	}

	dithered := r.ditherer.Dither(resized)

	n, err := r.store.Save(res.output, dithered, r.format)
	if err != nil {
		res.outcome, res.err = failed, err
		return res
	}

	res.outcome, res.bytes = succeeded, n
	return res
}

func (r *Runner) report(res result) {
	log := r.log.With(zap.String("path", res.path.Path))

	switch res.outcome {
	case succeeded:
		log.With(zap.String("output", res.output), zap.Int64("bytes", res.bytes)).Info("processed")
	case skipped:
		log.With(zap.String("output", res.output)).Debug("exists, skipped")
	case failed:
		log.With(zap.Error(res.err)).Error("failed")
	}
}

func (r *Runner) newBar() *progressbar.ProgressBar {
	if r.progress == nil {
		return nil
	}
	return progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(r.progress),
		progressbar.OptionSetDescription("dithering"),
		progressbar.OptionShowCount(),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionClearOnFinish(),
	)
}
