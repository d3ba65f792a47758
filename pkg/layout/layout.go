package layout

import (
	"path/filepath"
	"strings"
)

// DefaultDir is the output directory created inside the input root when no
// output root is given.
const DefaultDir = "dithers"

func New(root, ext string) *Layout {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return &Layout{root: filepath.Clean(root), ext: ext}
}

// Layout mirrors the input tree under an output root.
type Layout struct {
	root string
	ext  string
}

func (l *Layout) Root() string {
	return l.root
}

// Output maps a slash separated path relative to the input root to its
// output path. The output extension is always appended, so the mapping is
// one to one: a.jpg, a.png and a.jpg.png get three different outputs.
func (l *Layout) Output(rel string) string {
	return filepath.Join(l.root, filepath.FromSlash(rel)+l.ext)
}
