// Package logger configures the global zerolog logger for the service.
package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init sets the global log level and output format. Pretty output is meant
// for development; production emits JSON lines.
func Init(level string, pretty bool) {
	lvl := zerolog.InfoLevel
	switch level {
	case "debug":
		lvl = zerolog.DebugLevel
	case "info":
		lvl = zerolog.InfoLevel
	case "warn":
		lvl = zerolog.WarnLevel
	case "error":
		lvl = zerolog.ErrorLevel
	}
	zerolog.SetGlobalLevel(lvl)

	var out = os.Stdout
	zlog := zerolog.New(out).With().Timestamp().Str("service", "facevoice-chat").Logger()
	if pretty {
		zlog = zlog.Output(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339})
	}
	log.Logger = zlog
}
