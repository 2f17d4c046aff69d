package sysutil

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogFile describes the rotating file sink. An empty Path disables it.
type LogFile struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// NewLogWriter returns the writer the process logger should use: stdout
// (human-readable when pretty) plus, when f.Path is set, a size-rotated JSON
// file. The returned closer flushes and closes the file sink; it is a no-op
// without one.
func NewLogWriter(stdout io.Writer, pretty bool, f LogFile) (io.Writer, io.Closer) {
	if stdout == nil {
		stdout = os.Stdout
	}
	console := stdout
	if pretty {
		console = zerolog.ConsoleWriter{Out: stdout, TimeFormat: time.RFC3339}
	}
	if f.Path == "" {
		return console, nopCloser{}
	}

	rotator := &lumberjack.Logger{
		Filename:   f.Path,
		MaxSize:    f.MaxSizeMB, // megabytes
		MaxBackups: f.MaxBackups,
		MaxAge:     f.MaxAgeDays, // days
		Compress:   f.Compress,
	}
	return zerolog.MultiLevelWriter(console, rotator), rotator
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
