package batch

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"dithers/pkg/discovery"
	"dithers/pkg/dither"
	"dithers/pkg/layout"
	"dithers/pkg/resize"
	"dithers/pkg/storage"
)

const (
	inRoot  = "/in"
	outRoot = "/in/dithers"
)

func getTestImage(w, h int) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: 90, A: 255})
		}
	}
	return img
}

func writeJPEG(t *testing.T, fs afero.Fs, path string, w, h int) {
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, getTestImage(w, h), &jpeg.Options{Quality: 90}))
	require.NoError(t, fs.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, afero.WriteFile(fs, path, buf.Bytes(), 0644))
}

func writePNG(t *testing.T, fs afero.Fs, path string, w, h int) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, getTestImage(w, h)))
	require.NoError(t, fs.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, afero.WriteFile(fs, path, buf.Bytes(), 0644))
}

type fixture struct {
	fs     afero.Fs
	logger *zap.Logger
	logs   *observer.ObservedLogs
	mode   dither.Mode
	format storage.Format
}

func newFixture(fs afero.Fs) *fixture {
	core, logs := observer.New(zapcore.DebugLevel)
	return &fixture{
		fs:     fs,
		logger: zap.New(core),
		logs:   logs,
		mode:   dither.ModeMono,
		format: storage.FormatPNG,
	}
}

func (f *fixture) runner(t *testing.T, opts ...Option) *Runner {
	t.Helper()

	m, err := dither.Bayer(8)
	require.NoError(t, err)
	d, err := dither.New(m, 2, f.mode)
	require.NoError(t, err)
	rs, err := resize.New(resize.DefaultEngine, resize.DefaultFilter)
	require.NoError(t, err)

	disc := discovery.New(f.fs, inRoot, f.logger, discovery.WithExclude(outRoot))
	store := storage.New(f.fs, f.logger)
	lay := layout.New(outRoot, f.format.Ext())

	opts = append([]Option{WithFormat(f.format), WithWorkers(4)}, opts...)
	return New(disc, rs, d, store, lay, f.logger, opts...)
}

func decodeOutput(t *testing.T, fs afero.Fs, path string) image.Image {
	t.Helper()
	data, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	return img
}

func TestRunLargeJPEGToMonochrome(t *testing.T) {
	f := newFixture(afero.NewMemMapFs())
	writeJPEG(t, f.fs, "/in/photo.jpg", 1600, 1200)

	s, err := f.runner(t).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, s.Found)
	assert.Equal(t, 1, s.Succeeded)
	assert.NoError(t, s.Err())

	out := decodeOutput(t, f.fs, "/in/dithers/photo.jpg.png")
	require.Equal(t, image.Rect(0, 0, 800, 600), out.Bounds())
	for y := 0; y < 600; y++ {
		for x := 0; x < 800; x++ {
			v := color.GrayModel.Convert(out.At(x, y)).(color.Gray).Y
			if v != 0 && v != 255 {
				t.Fatalf("pixel (%d,%d) = %d, want black or white", x, y, v)
			}
		}
	}

	info, err := f.fs.Stat("/in/dithers/photo.jpg.png")
	require.NoError(t, err)
	assert.Equal(t, info.Size(), s.Bytes)
}

func TestRunCorruptFileDoesNotAbort(t *testing.T) {
	f := newFixture(afero.NewMemMapFs())
	for i := 0; i < 4; i++ {
		writePNG(t, f.fs, fmt.Sprintf("/in/img%d.png", i), 40, 30)
	}
	require.NoError(t, afero.WriteFile(f.fs, "/in/broken.jpg", []byte("definitely not a jpeg"), 0644))

	s, err := f.runner(t).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 5, s.Found)
	assert.Equal(t, 4, s.Succeeded)
	assert.Equal(t, 1, s.Failed)
	require.Len(t, s.Failures, 1)
	assert.Equal(t, "/in/broken.jpg", s.Failures[0].Path.Path)
	assert.True(t, errors.Is(s.Failures[0].Err, storage.ErrDecode))
	assert.Error(t, s.Err())

	outputs, err := afero.ReadDir(f.fs, outRoot)
	require.NoError(t, err)
	assert.Len(t, outputs, 4)

	failed := f.logs.FilterMessage("failed").All()
	require.Len(t, failed, 1)
	assert.Equal(t, "/in/broken.jpg", failed[0].ContextMap()["path"])
}

func TestRunEmptyDirectory(t *testing.T) {
	f := newFixture(afero.NewMemMapFs())
	require.NoError(t, f.fs.MkdirAll(inRoot, 0755))

	s, err := f.runner(t).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Elapsed: s.Elapsed}, *s)

	exists, err := afero.Exists(f.fs, outRoot)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRunMirrorsTree(t *testing.T) {
	f := newFixture(afero.NewMemMapFs())
	writePNG(t, f.fs, "/in/a/b/one.png", 20, 10)
	writeJPEG(t, f.fs, "/in/a/two.jpeg", 10, 20)
	writePNG(t, f.fs, "/in/three.png", 5, 5)

	s, err := f.runner(t).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, s.Succeeded)

	for _, p := range []string{"/in/dithers/a/b/one.png.png", "/in/dithers/a/two.jpeg.png", "/in/dithers/three.png.png"} {
		exists, err := afero.Exists(f.fs, p)
		require.NoError(t, err)
		assert.True(t, exists, p)
	}

	// small images are not upscaled
	assert.Equal(t, image.Rect(0, 0, 5, 5), decodeOutput(t, f.fs, "/in/dithers/three.png.png").Bounds())
}

func TestRunSimilarNamesKeepSeparateOutputs(t *testing.T) {
	f := newFixture(afero.NewMemMapFs())
	writeJPEG(t, f.fs, "/in/a.jpg", 10, 10)
	writePNG(t, f.fs, "/in/a.jpg.png", 20, 20)

	s, err := f.runner(t).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, s.Succeeded)

	assert.Equal(t, image.Rect(0, 0, 10, 10), decodeOutput(t, f.fs, "/in/dithers/a.jpg.png").Bounds())
	assert.Equal(t, image.Rect(0, 0, 20, 20), decodeOutput(t, f.fs, "/in/dithers/a.jpg.png.png").Bounds())
}

func TestRunTargetSize(t *testing.T) {
	f := newFixture(afero.NewMemMapFs())
	writePNG(t, f.fs, "/in/tall.png", 300, 900)

	_, err := f.runner(t, WithTarget(90)).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 30, 90), decodeOutput(t, f.fs, "/in/dithers/tall.png.png").Bounds())
}

func TestRunRerunDoesNotPickUpOutputs(t *testing.T) {
	f := newFixture(afero.NewMemMapFs())
	writePNG(t, f.fs, "/in/a.png", 10, 10)
	writePNG(t, f.fs, "/in/b.png", 10, 10)

	first, err := f.runner(t).Run(context.Background())
	require.NoError(t, err)
	second, err := f.runner(t).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, first.Succeeded)
	assert.Equal(t, 2, second.Found)
	assert.Equal(t, 2, second.Succeeded)
}

func TestRunSkipExisting(t *testing.T) {
	f := newFixture(afero.NewMemMapFs())
	writePNG(t, f.fs, "/in/a.png", 10, 10)
	writePNG(t, f.fs, "/in/b.png", 10, 10)
	require.NoError(t, f.fs.MkdirAll(outRoot, 0755))
	require.NoError(t, afero.WriteFile(f.fs, "/in/dithers/a.png.png", []byte("keep"), 0644))

	s, err := f.runner(t, WithSkipExisting(true)).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, s.Skipped)
	assert.Equal(t, 1, s.Succeeded)

	data, err := afero.ReadFile(f.fs, "/in/dithers/a.png.png")
	require.NoError(t, err)
	assert.Equal(t, []byte("keep"), data)
}

// lockedFs refuses to create files below one directory.
type lockedFs struct {
	afero.Fs
	dir string
}

func (l lockedFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	if flag&os.O_CREATE != 0 && strings.HasPrefix(filepath.Clean(name), l.dir) {
		return nil, os.ErrPermission
	}
	return l.Fs.OpenFile(name, flag, perm)
}

func TestRunWriteErrorIsPerFile(t *testing.T) {
	base := afero.NewMemMapFs()
	writePNG(t, base, "/in/locked/a.png", 10, 10)
	writePNG(t, base, "/in/open/b.png", 10, 10)

	f := newFixture(lockedFs{Fs: base, dir: "/in/dithers/locked"})
	s, err := f.runner(t).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, s.Succeeded)
	assert.Equal(t, 1, s.Failed)
	assert.True(t, errors.Is(s.Failures[0].Err, storage.ErrWrite))
}

func TestRunInvalidTargetFailsEachFile(t *testing.T) {
	f := newFixture(afero.NewMemMapFs())
	writePNG(t, f.fs, "/in/a.png", 10, 10)

	s, err := f.runner(t, WithTarget(0)).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, s.Failed)
	assert.True(t, errors.Is(s.Failures[0].Err, resize.ErrInvalidDimensions))
}

type panicResizer struct{}

func (panicResizer) Resize(img image.Image, _ int) (image.Image, error) {
	if img.Bounds().Dx() == 13 {
		panic("index out of range")
	}
	return img, nil
}

func TestRunRecoversPanic(t *testing.T) {
	f := newFixture(afero.NewMemMapFs())
	writePNG(t, f.fs, "/in/bad.png", 13, 4)
	writePNG(t, f.fs, "/in/good.png", 12, 4)

	m, err := dither.Bayer(4)
	require.NoError(t, err)
	d, err := dither.New(m, 2, dither.ModeMono)
	require.NoError(t, err)

	r := New(
		discovery.New(f.fs, inRoot, f.logger, discovery.WithExclude(outRoot)),
		panicResizer{}, d,
		storage.New(f.fs, f.logger),
		layout.New(outRoot, ".png"),
		f.logger,
		WithWorkers(2),
	)

	s, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, s.Succeeded)
	require.Equal(t, 1, s.Failed)
	assert.Equal(t, "/in/bad.png", s.Failures[0].Path.Path)
	assert.True(t, errors.Is(s.Failures[0].Err, storage.ErrDecode))
	assert.Contains(t, s.Failures[0].Err.Error(), "index out of range")
}

func TestRunManyWorkers(t *testing.T) {
	f := newFixture(afero.NewMemMapFs())
	for i := 0; i < 25; i++ {
		writePNG(t, f.fs, fmt.Sprintf("/in/d%d/img%02d.png", i%3, i), 16+i, 12)
	}

	s, err := f.runner(t, WithWorkers(8)).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 25, s.Found)
	assert.Equal(t, 25, s.Succeeded)
}

func TestRunColorMode(t *testing.T) {
	f := newFixture(afero.NewMemMapFs())
	f.mode = dither.ModeColor
	writePNG(t, f.fs, "/in/c.png", 30, 20)

	var bar bytes.Buffer
	_, err := f.runner(t, WithProgress(&bar)).Run(context.Background())
	require.NoError(t, err)
	assert.NotZero(t, bar.Len())

	out := decodeOutput(t, f.fs, "/in/dithers/c.png.png")
	b := out.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(out.At(x, y)).(color.NRGBA)
			for _, v := range []uint8{c.R, c.G, c.B} {
				assert.True(t, v == 0 || v == 255)
			}
		}
	}
}

func TestRunMonoFormat(t *testing.T) {
	f := newFixture(afero.NewMemMapFs())
	f.format = storage.FormatMono
	writePNG(t, f.fs, "/in/m.png", 17, 4)

	_, err := f.runner(t).Run(context.Background())
	require.NoError(t, err)

	data, err := afero.ReadFile(f.fs, "/in/dithers/m.png.mono")
	require.NoError(t, err)
	assert.Len(t, data, 3*4)
}

func TestRunMissingRoot(t *testing.T) {
	f := newFixture(afero.NewMemMapFs())

	_, err := f.runner(t).Run(context.Background())
	assert.True(t, errors.Is(err, discovery.ErrNotFound))
}

func TestRunCancelled(t *testing.T) {
	f := newFixture(afero.NewMemMapFs())
	writePNG(t, f.fs, "/in/a.png", 10, 10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s, err := f.runner(t).Run(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 0, s.Succeeded)
}
