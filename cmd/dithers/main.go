package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	flag "github.com/spf13/pflag"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"dithers/internal/config"
	"dithers/internal/logging"
	"dithers/pkg/batch"
	"dithers/pkg/discovery"
	"dithers/pkg/dither"
	"dithers/pkg/layout"
	"dithers/pkg/resize"
	"dithers/pkg/storage"
)

const (
	exitOK    = 0
	exitFatal = 1
	exitUsage = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[0], os.Args[1:], afero.NewOsFs(), os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, name string, args []string, fs afero.Fs, stderr io.Writer) int {
	parser := config.NewParser(name)
	cfg, err := parser.Parse(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			fmt.Fprint(stderr, parser.Usage())
			return exitOK
		}
		fmt.Fprintf(stderr, "%v\n\n%s", err, parser.Usage())
		return exitUsage
	}

	// the logger and the progress bar share stderr
	out := zapcore.Lock(zapcore.AddSync(stderr))

	var (
		runner *batch.Runner
		disc   *discovery.Discovery
		logger *zap.Logger
	)

	app := fx.New(
		fx.Supply(cfg),
		fx.Provide(
			func() afero.Fs { return fs },
			func(cfg *config.Config) *zap.Logger {
				return logging.New(cfg.Debug, out)
			},
			newDiscovery,
			newResizer,
			newDitherer,
			storage.New,
			func(cfg *config.Config) *layout.Layout {
				return layout.New(cfg.Output, cfg.Format.Ext())
			},
			func() io.Writer { return out },
			newRunner,
		),
		fx.WithLogger(func(logger *zap.Logger, cfg *config.Config) fxevent.Logger {
			return logging.FxLogger(logger, cfg.Debug)
		}),
		fx.Invoke(func(lc fx.Lifecycle, logger *zap.Logger) {
			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					// stderr sync fails on some terminals
					_ = logger.Sync()
					return nil
				},
			})
		}),
		fx.Populate(&runner, &disc, &logger),
	)
	if err := app.Err(); err != nil {
		fmt.Fprintln(stderr, err)
		return exitFatal
	}

	if err := app.Start(ctx); err != nil {
		fmt.Fprintln(stderr, err)
		return exitFatal
	}
	defer func() {
		_ = app.Stop(context.Background())
	}()

	if err := disc.Check(); err != nil {
		logger.With(zap.Error(err)).Error("input directory")
		return exitFatal
	}

	logger.With(
		zap.String("input", cfg.Input),
		zap.String("output", cfg.Output),
		zap.Int("max_side", cfg.MaxSide),
		zap.Int("bayer", cfg.Bayer),
		zap.Int("levels", cfg.Levels),
		zap.Stringer("mode", cfg.Mode()),
		zap.String("format", string(cfg.Format)),
		zap.Int("workers", cfg.Workers),
	).Info("start")

	if _, err := runner.Run(ctx); err != nil {
		logger.With(zap.Error(err)).Error("batch aborted")
		return exitFatal
	}

	return exitOK
}

func newDiscovery(cfg *config.Config, fs afero.Fs, logger *zap.Logger) *discovery.Discovery {
	return discovery.New(fs, cfg.Input, logger.Named("discovery"),
		discovery.WithExclude(cfg.Output),
		discovery.WithSniff(cfg.Sniff),
	)
}

func newResizer(cfg *config.Config) (*resize.Resizer, error) {
	return resize.New(cfg.Engine, cfg.Filter)
}

func newDitherer(cfg *config.Config) (*dither.Ditherer, error) {
	m, err := dither.Bayer(cfg.Bayer)
	if err != nil {
		return nil, err
	}
	return dither.New(m, cfg.Levels, cfg.Mode())
}

func newRunner(
	cfg *config.Config,
	disc *discovery.Discovery,
	resizer *resize.Resizer,
	ditherer *dither.Ditherer,
	store *storage.Store,
	lay *layout.Layout,
	logger *zap.Logger,
	stderr io.Writer,
) *batch.Runner {
	opts := []batch.Option{
		batch.WithTarget(cfg.MaxSide),
		batch.WithFormat(cfg.Format),
		batch.WithWorkers(cfg.Workers),
		batch.WithSkipExisting(cfg.SkipExisting),
	}
	if cfg.Progress {
		opts = append(opts, batch.WithProgress(stderr))
	}
	return batch.New(disc, resizer, ditherer, store, lay, logger.Named("batch"), opts...)
}
