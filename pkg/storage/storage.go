package storage

import (
	"bufio"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"github.com/rs/xid"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

var (
	ErrDecode = errors.New("decode image")
	ErrWrite  = errors.New("write image")
)

// MaxPixels bounds decoded images; larger headers are rejected before the
// pixel data is read.
const MaxPixels = 400_000_000

func New(fs afero.Fs, logger *zap.Logger) *Store {
	return &Store{
		fs:  fs,
		log: logger.With(zap.String("via", "storage")),
	}
}

// Store reads source images from and atomically writes results to an
// afero filesystem.
type Store struct {
	fs  afero.Fs
	log *zap.Logger
}

func (s *Store) Fs() afero.Fs {
	return s.fs
}

// Decode reads the image at path, applying EXIF orientation.
func (s *Store) Decode(path string) (image.Image, error) {
	f, err := s.fs.Open(path)
	if err != nil {
		return nil, errors.Wrapf(ErrDecode, "open %s: %v", path, err)
	}
	defer func() {
		_ = f.Close()
	}()

	cfg, format, err := image.DecodeConfig(bufio.NewReader(f))
	if err != nil {
		return nil, errors.Wrapf(ErrDecode, "%s: %v", path, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width*cfg.Height > MaxPixels {
		return nil, errors.Wrapf(ErrDecode, "%s: unsupported size %dx%d", path, cfg.Width, cfg.Height)
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, errors.Wrapf(ErrDecode, "rewind %s: %v", path, err)
	}

	img, err := imaging.Decode(f, imaging.AutoOrientation(true))
	if err != nil {
		return nil, errors.Wrapf(ErrDecode, "%s (%s): %v", path, format, err)
	}

	s.log.With(
		zap.String("path", path),
		zap.String("format", format),
		zap.Int("w", cfg.Width),
		zap.Int("h", cfg.Height),
	).Debug("decoded")

	return img, nil
}

func (s *Store) Exists(path string) (bool, error) {
	return afero.Exists(s.fs, path)
}

// MkdirAll creates dir and its parents. A directory that already exists,
// or is created concurrently by another worker, is not an error.
func (s *Store) MkdirAll(dir string) error {
	if err := s.fs.MkdirAll(dir, 0755); err != nil {
		if exists, _ := afero.DirExists(s.fs, dir); exists {
			return nil
		}
		return err
	}
	return nil
}

// Save encodes img to path. The data is written to a temporary file in the
// same directory and renamed into place, so path is either absent or
// complete. It returns the number of bytes written.
func (s *Store) Save(path string, img image.Image, format Format) (int64, error) {
	dir := filepath.Dir(path)
	if err := s.MkdirAll(dir); err != nil {
		return 0, errors.Wrapf(ErrWrite, "create %s: %v", dir, err)
	}

	tmp := filepath.Join(dir, fmt.Sprintf(".%s.%s.tmp", filepath.Base(path), xid.New().String()))
	f, err := s.fs.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return 0, errors.Wrapf(ErrWrite, "create %s: %v", tmp, err)
	}

	cw := &countWriter{w: bufio.NewWriter(f)}
	encErr := format.encode(cw, img)
	if encErr == nil {
		encErr = cw.w.Flush()
	}
	if closeErr := f.Close(); encErr == nil {
		encErr = closeErr
	}
	if encErr != nil {
		s.discard(tmp)
		return 0, errors.Wrapf(ErrWrite, "encode %s: %v", path, encErr)
	}

	if err := s.fs.Rename(tmp, path); err != nil {
		s.discard(tmp)
		return 0, errors.Wrapf(ErrWrite, "rename %s: %v", path, err)
	}

	s.log.With(zap.String("path", path), zap.Int64("bytes", cw.n)).Debug("saved")
	return cw.n, nil
}

func (s *Store) discard(tmp string) {
	if err := s.fs.Remove(tmp); err != nil && !os.IsNotExist(err) {
		s.log.With(zap.String("path", tmp), zap.Error(err)).Warn("remove temp failed")
	}
}

type countWriter struct {
	w *bufio.Writer
	n int64
}

func (c *countWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
