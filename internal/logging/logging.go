// Package logging configures the process-global zerolog logger used
// throughout the engine (teacher code calls the package-level
// github.com/rs/zerolog/log logger directly; this package is what sets it up
// before cmd/server starts wiring the rest of the process).
package logging

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Options controls the global logger's format and verbosity.
type Options struct {
	// Level is one of "debug", "info", "warn", "error". Defaults to "info"
	// for an unrecognized or empty value.
	Level string
	// Pretty selects a human-readable console writer instead of JSON. Set
	// for local development; production runs keep JSON for log shipping.
	Pretty bool
}

// Init sets the global zerolog logger per opts. Call once at process start.
func Init(opts Options) {
	zerolog.SetGlobalLevel(parseLevel(opts.Level))
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if opts.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
		return
	}
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(s) {
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
