// Package logging wires up a process-global zerolog.Logger, generalized
// from auth-service/internal/logger: LOG_LEVEL/LOG_FORMAT env switches, a
// console writer for local runs and a JSON writer otherwise.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

var Logger zerolog.Logger

func Init() {
	InitWithWriter(os.Stdout)
}

func InitWithWriter(w io.Writer) {
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	format := os.Getenv("LOG_FORMAT") // "json" or "console"
	if format == "json" {
		Logger = zerolog.New(w).With().Timestamp().Logger().Level(level)
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger().Level(level)
	}

	zlog.Logger = Logger
}

// Component returns a child logger tagged with "component", the same
// .With().Str(...).Logger() shape outbox_worker.go uses for its own
// goroutine-scoped logger.
func Component(name string) zerolog.Logger {
	return Logger.With().Str("component", name).Logger()
}
