package logging

import (
	"io"

	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the console logger used by the command, writing to w. Debug
// enables debug level, caller and stack traces on warnings.
func New(debug bool, w io.Writer) *zap.Logger {
	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}

	sink := zapcore.Lock(zapcore.AddSync(w))
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()), sink, level)

	opts := []zap.Option{zap.ErrorOutput(sink)}
	if debug {
		opts = append(opts, zap.Development(), zap.AddCaller(), zap.AddStacktrace(zapcore.WarnLevel))
	}

	return zap.New(core, opts...)
}

// FxLogger routes fx lifecycle events to logger, only when debugging.
func FxLogger(logger *zap.Logger, debug bool) fxevent.Logger {
	if !debug {
		return fxevent.NopLogger
	}
	return &fxevent.ZapLogger{Logger: logger.Named("fx")}
}
