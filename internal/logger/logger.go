// Package logger sets up the supervisor's own structured logging and opens
// plain, non-rotating append files for managed children's stdout/stderr.
//
// Rotation is intentionally confined to the supervisor's own operational
// log: log rotation of managed children is an explicit non-goal, so their
// stdout/stderr files are opened once in append mode and never touched
// again by this process.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// colorHandler wraps slog.TextHandler, prefixing each record's message with
// an ANSI color code keyed on its level, for the supervisor's interactive
// stderr copy.
type colorHandler struct {
	*slog.TextHandler
}

func newColorHandler(w io.Writer, opts *slog.HandlerOptions) *colorHandler {
	return &colorHandler{TextHandler: slog.NewTextHandler(w, opts)}
}

func (h *colorHandler) Handle(ctx context.Context, r slog.Record) error {
	var color string
	switch r.Level {
	case slog.LevelDebug:
		color = "\033[36m" // cyan
	case slog.LevelInfo:
		color = "\033[32m" // green
	case slog.LevelWarn:
		color = "\033[33m" // yellow
	case slog.LevelError:
		color = "\033[31m" // red
	default:
		color = "\033[0m"
	}
	r.Message = color + r.Level.String() + "\033[0m  " + r.Message
	return h.TextHandler.Handle(ctx, r)
}

// OperationalConfig describes the rotating file the supervisor writes its
// own structured logs to, plus whether a colorized copy also goes to stderr.
type OperationalConfig struct {
	Path       string // rotating log file for the supervisor's own events; empty disables file logging
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
	Level      slog.Level
	Console    bool // also emit a colorized copy to stderr
}

const (
	defaultMaxSizeMB  = 10
	defaultMaxBackups = 3
	defaultMaxAgeDays = 7
)

// NewOperationalLogger builds the slog.Logger used for the supervisor's own
// events (startups, reloads, state transitions, errors). It never touches
// managed children's stdio.
func NewOperationalLogger(cfg OperationalConfig) (*slog.Logger, func() error, error) {
	var fileWriter io.Writer
	var fileCloser io.Closer

	if cfg.Path != "" {
		if dir := filepath.Dir(cfg.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, nil, err
			}
		}
		rotating := &lj.Logger{
			Filename:   cfg.Path,
			MaxSize:    valOr(cfg.MaxSizeMB, defaultMaxSizeMB),
			MaxBackups: valOr(cfg.MaxBackups, defaultMaxBackups),
			MaxAge:     valOr(cfg.MaxAgeDays, defaultMaxAgeDays),
			Compress:   cfg.Compress,
		}
		fileWriter = rotating
		fileCloser = rotating
	}

	opts := &slog.HandlerOptions{Level: cfg.Level}

	var handler slog.Handler
	switch {
	case cfg.Console && fileWriter != nil:
		handler = newColorHandler(io.MultiWriter(fileWriter, os.Stderr), opts)
	case cfg.Console:
		handler = newColorHandler(os.Stderr, opts)
	case fileWriter != nil:
		handler = slog.NewTextHandler(fileWriter, opts)
	default:
		handler = slog.NewTextHandler(io.Discard, opts)
	}

	closeFn := func() error {
		if fileCloser != nil {
			return fileCloser.Close()
		}
		return nil
	}

	return slog.New(handler), closeFn, nil
}

// ChildStreams describes where a replica's stdout/stderr should be
// redirected. Empty paths mean /dev/null.
type ChildStreams struct {
	StdoutPath string
	StderrPath string
}

// OpenChildStreams opens plain append-mode files for a replica's stdout and
// stderr, creating parent directories as needed. Missing paths fall back to
// the null device. Neither file is ever rotated.
func OpenChildStreams(s ChildStreams) (stdout io.WriteCloser, stderr io.WriteCloser, err error) {
	stdout, err = openAppendOrNull(s.StdoutPath)
	if err != nil {
		return nil, nil, err
	}
	stderr, err = openAppendOrNull(s.StderrPath)
	if err != nil {
		_ = stdout.Close()
		return nil, nil, err
	}
	return stdout, stderr, nil
}

func openAppendOrNull(path string) (io.WriteCloser, error) {
	if path == "" {
		return os.OpenFile(os.DevNull, os.O_RDWR, 0)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, err
		}
	}
	return os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o640)
}

func valOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
