package discovery

import (
	"context"
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	// decoders for header sniffing
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

var ErrNotFound = errors.New("root directory not found")

// Extensions maps supported file extensions to format names.
var Extensions = map[string]string{
	".jpg":  "jpeg",
	".jpeg": "jpeg",
	".png":  "png",
	".gif":  "gif",
	".bmp":  "bmp",
	".tif":  "tiff",
	".tiff": "tiff",
	".webp": "webp",
}

// ImagePath is a discovered image file.
type ImagePath struct {
	// Path as passed to the filesystem.
	Path string
	// Rel is Path relative to the discovery root, slash separated.
	Rel string
	// Format is the decoder name, e.g. "jpeg".
	Format string
}

func New(fs afero.Fs, root string, logger *zap.Logger, opts ...Option) *Discovery {
	d := &Discovery{
		fs:   fs,
		root: filepath.Clean(root),
		log:  logger.With(zap.String("via", "discovery")),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Discovery walks a directory tree for image files. Walks are lexical by
// name within each directory; symlinks and dot-files are never visited.
type Discovery struct {
	fs   afero.Fs
	root string
	log  *zap.Logger
	// options
	sniff   bool
	exclude []string
}

func (d *Discovery) Root() string {
	return d.root
}

// Check fails with ErrNotFound unless the root is an existing directory.
func (d *Discovery) Check() error {
	_, err := d.walkRoot()
	return err
}

// Each calls fn for every image under the root. Every call walks the tree
// again. Walking stops at the first error returned by fn or on ctx done.
// A root that is a symlink is resolved first, so Path is below the
// resolved directory while Rel is the same either way.
func (d *Discovery) Each(ctx context.Context, fn func(ImagePath) error) error {
	root, err := d.walkRoot()
	if err != nil {
		return err
	}
	exclude := d.excludes(root)

	return afero.Walk(d.fs, root, func(path string, info os.FileInfo, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		if err != nil {
			d.log.With(zap.String("path", path), zap.Error(err)).Warn("unreadable, skipped")
			return nil
		}

		if path != root {
			if strings.HasPrefix(info.Name(), ".") {
				return skip(info)
			}
			if info.IsDir() && lo.Contains(exclude, absPath(path)) {
				d.log.With(zap.String("path", path)).Debug("excluded")
				return filepath.SkipDir
			}
		}

		if !info.Mode().IsRegular() {
			if info.Mode()&os.ModeSymlink != 0 {
				d.log.With(zap.String("path", path)).Debug("symlink skipped")
			}
			return nil
		}

		format, ok := d.format(path)
		if !ok {
			return nil
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}

		return fn(ImagePath{Path: path, Rel: filepath.ToSlash(rel), Format: format})
	})
}

// walkRoot returns the directory to walk. The walk itself never follows
// symlinks, so a symlinked root is resolved here; only the OS filesystem
// can resolve one.
func (d *Discovery) walkRoot() (string, error) {
	info, err := lstat(d.fs, d.root)
	if err != nil {
		if os.IsNotExist(err) {
			return "", errors.Wrapf(ErrNotFound, "%s does not exist", d.root)
		}
		return "", errors.Wrapf(ErrNotFound, "%s: %v", d.root, err)
	}

	root := d.root
	if info.Mode()&os.ModeSymlink != 0 {
		if _, ok := d.fs.(*afero.OsFs); !ok {
			return "", errors.Wrapf(ErrNotFound, "%s is a symlink", d.root)
		}
		if root, err = filepath.EvalSymlinks(d.root); err != nil {
			return "", errors.Wrapf(ErrNotFound, "%s: %v", d.root, err)
		}
		if info, err = d.fs.Stat(root); err != nil {
			return "", errors.Wrapf(ErrNotFound, "%s: %v", d.root, err)
		}
		d.log.With(zap.String("path", d.root), zap.String("target", root)).Debug("root resolved")
	}

	if !info.IsDir() {
		return "", errors.Wrapf(ErrNotFound, "%s is not a directory", d.root)
	}
	return root, nil
}

// excludes returns the absolute excluded directories for a walk of root.
// Directories given below a symlinked root are also excluded below its
// target.
func (d *Discovery) excludes(root string) []string {
	list := append([]string(nil), d.exclude...)
	if root == d.root {
		return list
	}

	from, to := absPath(d.root), absPath(root)
	for _, dir := range d.exclude {
		rel, err := filepath.Rel(from, dir)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		list = append(list, filepath.Join(to, rel))
	}
	return list
}

// Stream runs Each in a goroutine. The error channel receives at most one
// error and is closed once the path channel is closed.
func (d *Discovery) Stream(ctx context.Context) (<-chan ImagePath, <-chan error) {
	paths := make(chan ImagePath)
	errc := make(chan error, 1)

	go func() {
		defer close(errc)
		defer close(paths)

		err := d.Each(ctx, func(p ImagePath) error {
			select {
			case paths <- p:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if err != nil {
			errc <- err
		}
	}()

	return paths, errc
}

func (d *Discovery) List(ctx context.Context) ([]ImagePath, error) {
	var list []ImagePath
	err := d.Each(ctx, func(p ImagePath) error {
		list = append(list, p)
		return nil
	})
	return list, err
}

func (d *Discovery) format(path string) (string, bool) {
	if f, ok := Extensions[strings.ToLower(filepath.Ext(path))]; ok {
		return f, true
	}
	if !d.sniff {
		return "", false
	}
	return d.sniffFormat(path)
}

func (d *Discovery) sniffFormat(path string) (string, bool) {
	f, err := d.fs.Open(path)
	if err != nil {
		d.log.With(zap.String("path", path), zap.Error(err)).Warn("unreadable, skipped")
		return "", false
	}
	defer func() {
		_ = f.Close()
	}()

	_, format, err := image.DecodeConfig(f)
	if err != nil {
		return "", false
	}

	return format, lo.Contains(lo.Values(Extensions), format)
}

func skip(info os.FileInfo) error {
	if info.IsDir() {
		return filepath.SkipDir
	}
	return nil
}

func lstat(fs afero.Fs, path string) (os.FileInfo, error) {
	if l, ok := fs.(afero.Lstater); ok {
		info, _, err := l.LstatIfPossible(path)
		return info, err
	}
	return fs.Stat(path)
}

// absPath makes paths comparable whether they were given relative to the
// working directory or not.
func absPath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}
