package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// ServiceName tags every log line so the attempt runtime can be told apart
// from the directory in shared log storage.
const ServiceName = "exstem-attempt"

// Setup initializes the global zerolog logger based on environment configuration.
//   - level: log level string (trace, debug, info, warn, error, fatal, panic)
//   - format: "json" for production, "pretty" for human-readable dev output
//
// JSON lines carry the service name and the instance (host name), since
// several instances hold learner sockets at the same time.
func Setup(level, format string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.DurationFieldUnit = time.Millisecond

	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	ctx := zerolog.New(writerFor(format, os.Stdout)).With().Timestamp()
	if format == "pretty" {
		return ctx.Caller().Logger()
	}

	instance, err := os.Hostname()
	if err != nil {
		instance = "unknown"
	}
	return ctx.
		Str("service", ServiceName).
		Str("instance", instance).
		Caller().
		Logger()
}

func writerFor(format string, out io.Writer) io.Writer {
	if format == "pretty" {
		return zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		}
	}
	return out
}
