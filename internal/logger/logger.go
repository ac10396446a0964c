package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/bilal/dashline-agent/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init configures the global logger. Logs always go to stderr; stdout may
// be carrying dash lines.
func Init(lcfg config.LoggingConfig) {
	InitWriter(lcfg, os.Stderr)
}

// InitWriter is Init with an explicit destination.
func InitWriter(lcfg config.LoggingConfig, w io.Writer) {
	zerolog.SetGlobalLevel(ParseLevel(lcfg.Level))

	// format
	if strings.ToLower(lcfg.Format) == "console" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	} else {
		// default json
		log.Logger = zerolog.New(w).With().Timestamp().Logger()
	}
}

// ParseLevel maps debug|info|warn|error onto zerolog levels. Unknown
// strings mean info.
func ParseLevel(s string) zerolog.Level {
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
