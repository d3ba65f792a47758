package batch

import (
	"io"

	"dithers/pkg/storage"
)

type Option func(r *Runner)

// WithTarget sets the maximum output side.
func WithTarget(size int) Option {
	return func(r *Runner) {
		r.target = size
	}
}

func WithFormat(f storage.Format) Option {
	return func(r *Runner) {
		r.format = f
	}
}

// WithWorkers sets the pool size; values below 1 mean 1.
func WithWorkers(n int) Option {
	return func(r *Runner) {
		if n < 1 {
			n = 1
		}
		r.workers = n
	}
}

func WithSkipExisting(skip bool) Option {
	return func(r *Runner) {
		r.skipExisting = skip
	}
}

// WithProgress draws a progress bar to w; nil disables it.
func WithProgress(w io.Writer) Option {
	return func(r *Runner) {
		r.progress = w
	}
}
