package logger

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
)

const (
	permission = 0o664
)

// ZerologHandler adapts a zerolog.Logger to Logger.
type ZerologHandler struct {
	logger zerolog.Logger
}

var _ Logger = (*ZerologHandler)(nil)

func NewZerolog(l zerolog.Logger) *ZerologHandler {
	return &ZerologHandler{logger: l}
}

// LogBuild assembles a zerolog-backed Logger from a writer or a file path.
type LogBuild struct {
	writer  io.Writer
	path    string
	console bool
	level   zerolog.Level
}

func Build() *LogBuild {
	return &LogBuild{level: zerolog.InfoLevel}
}

func (build *LogBuild) FromPath(path string) *LogBuild {
	build.path = path
	return build
}

func (build *LogBuild) FromBuffer(w io.Writer) *LogBuild {
	build.writer = w
	return build
}

// Console switches to zerolog's human readable console output.
func (build *LogBuild) Console() *LogBuild {
	build.console = true
	return build
}

func (build *LogBuild) Level(level string) *LogBuild {
	if lvl, err := zerolog.ParseLevel(level); err == nil && level != "" {
		build.level = lvl
	}
	return build
}

// Make opens the output and returns the Logger together with a close function
// for the log file, if any.
func (build *LogBuild) Make() (*ZerologHandler, func() error, error) {
	var w io.Writer = os.Stderr
	if build.writer != nil {
		w = build.writer
	}

	closeFn := func() error { return nil }
	if build.path != "" {
		f, err := os.OpenFile(build.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, permission)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		w = zerolog.SyncWriter(f)
		closeFn = f.Close
	}

	if build.console {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05.000"}
	}

	l := zerolog.New(w).Level(build.level).With().Timestamp().Logger()
	return NewZerolog(l), closeFn, nil
}

func (handler *ZerologHandler) Error(msg string, args ...any) {
	handler.logger.Error().Fields(args).Msg(msg)
}

func (handler *ZerologHandler) Warn(msg string, args ...any) {
	handler.logger.Warn().Fields(args).Msg(msg)
}

func (handler *ZerologHandler) Info(msg string, args ...any) {
	handler.logger.Info().Fields(args).Msg(msg)
}

func (handler *ZerologHandler) Debug(msg string, args ...any) {
	handler.logger.Debug().Fields(args).Msg(msg)
}
