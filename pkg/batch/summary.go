package batch

import (
	"time"

	"github.com/inhies/go-bytesize"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"dithers/pkg/discovery"
)

// Failure is one file that could not be processed.
type Failure struct {
	Path discovery.ImagePath
	Err  error
}

// Summary counts the outcome of a run.
type Summary struct {
	Found     int
	Succeeded int
	Skipped   int
	Failed    int
	Bytes     int64
	Elapsed   time.Duration
	Failures  []Failure

	err error
}

func (s *Summary) add(res result) {
	s.Found++
	switch res.outcome {
	case succeeded:
		s.Succeeded++
		s.Bytes += res.bytes
	case skipped:
		s.Skipped++
	case failed:
		s.Failed++
		s.Failures = append(s.Failures, Failure{Path: res.path, Err: res.err})
		s.err = multierr.Append(s.err, res.err)
	}
}

// Err combines all per-file errors, nil when every file succeeded.
func (s *Summary) Err() error {
	return s.err
}

func (s *Summary) Log(logger *zap.Logger) {
	log := logger.With(
		zap.Int("found", s.Found),
		zap.Int("succeeded", s.Succeeded),
		zap.Int("skipped", s.Skipped),
		zap.Int("failed", s.Failed),
		zap.String("written", bytesize.New(float64(s.Bytes)).String()),
		zap.Duration("elapsed", s.Elapsed),
	)

	if s.Failed == 0 {
		log.Info("batch done")
		return
	}

	for _, f := range s.Failures {
		logger.With(zap.String("path", f.Path.Path), zap.Error(f.Err)).Warn("not processed")
	}
	log.Warn("batch done with failures")
}
