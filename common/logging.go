package common

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

type LoggingOpts struct {
	Debug   bool
	JSON    bool
	Service string
	Version string

	// File, when set, receives the log output instead of stderr and is
	// rotated once it reaches FileMaxSizeMB.
	File           string
	FileMaxSizeMB  int
	FileMaxBackups int
	FileCompress   bool
}

func SetupLogger(opts *LoggingOpts) (log *slog.Logger) {
	logLevel := slog.LevelInfo
	if opts.Debug {
		logLevel = slog.LevelDebug
	}

	output, outErr := logOutput(opts)
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	if opts.JSON {
		log = slog.New(slog.NewJSONHandler(output, handlerOpts))
	} else {
		log = slog.New(slog.NewTextHandler(output, handlerOpts))
	}

	if opts.Service != "" {
		log = log.With("service", opts.Service)
	}
	if opts.Version != "" {
		log = log.With("version", opts.Version)
	}
	if outErr != nil {
		log.Warn("Falling back to stderr for logs", slog.String("file", opts.File), "err", outErr)
	}
	return log
}

// logOutput returns the rotating file writer for opts.File, or stderr.
func logOutput(opts *LoggingOpts) (io.Writer, error) {
	if opts.File == "" {
		return os.Stderr, nil
	}
	if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
		return os.Stderr, fmt.Errorf("failed to create log directory: %w", err)
	}

	maxSize := opts.FileMaxSizeMB
	if maxSize <= 0 {
		maxSize = 100
	}
	return &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    maxSize,
		MaxBackups: opts.FileMaxBackups,
		Compress:   opts.FileCompress,
		LocalTime:  true,
	}, nil
}
