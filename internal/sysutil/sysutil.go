// Package sysutil sets up process-level concerns: the log sink and the
// global zerolog logger.
package sysutil

import (
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ParseLogLevel maps a configured level to zerolog. "warning" is accepted
// for warn; empty or unknown values mean info.
func ParseLogLevel(s string) zerolog.Level {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		s = "warn"
	}
	lvl, err := zerolog.ParseLevel(s)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// InitLogger installs the process logger: lines on out stamped with time and
// service, filtered at level. It also backs zerolog.Ctx for contexts that
// carry no request logger, such as background jobs.
func InitLogger(out io.Writer, level, service string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.SetGlobalLevel(ParseLogLevel(level))
	log.Logger = zerolog.New(out).With().Timestamp().Str("service", service).Logger()
	zerolog.DefaultContextLogger = &log.Logger
	return log.Logger
}
