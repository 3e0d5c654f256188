package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"bwmon/internal/config"
)

// Init configures the global logger from lcfg, writing to stderr.
func Init(lcfg config.LoggingConfig) {
	zerolog.SetGlobalLevel(ParseLevel(lcfg.Level))
	log.Logger = New(lcfg, os.Stderr)
}

// New builds a logger for w. Format "console" is human readable, anything
// else is JSON.
func New(lcfg config.LoggingConfig, w io.Writer) zerolog.Logger {
	var l zerolog.Logger
	if strings.ToLower(lcfg.Format) == "console" {
		l = zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339})
	} else {
		l = zerolog.New(w)
	}

	ctx := l.Level(ParseLevel(lcfg.Level)).With().Timestamp()
	if lcfg.Caller {
		ctx = ctx.Caller()
	}
	return ctx.Logger()
}

// ParseLevel maps a config level to zerolog, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
