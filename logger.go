package main

import (
	"io"
	stdlog "log"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// initLogger sets up the global logger. pretty switches from JSON lines
// to a human readable console format. The standard library logger is
// redirected as well.
func initLogger(levelName string, pretty bool) {
	level := zerolog.InfoLevel
	if l, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(levelName))); err == nil && l != zerolog.NoLevel {
		level = l
	}
	zerolog.SetGlobalLevel(level)

	var w io.Writer = os.Stderr
	if pretty {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	}

	log.Logger = zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Str("service", "timer-recorder").
		Logger()

	stdlog.SetFlags(0)
	stdlog.SetOutput(log.Logger)
}

// chromedpLogf routes browser driver logs into the debug level
func chromedpLogf(format string, args ...any) {
	log.Debug().Msgf(format, args...)
}

// chromedpErrorf routes browser driver errors into the warn level
func chromedpErrorf(format string, args ...any) {
	log.Warn().Msgf(format, args...)
}
