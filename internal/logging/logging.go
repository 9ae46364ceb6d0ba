// Package logging wires up codelens' structured logger: zerolog writing to
// stderr plus a rolling file under the configured log directory, mirroring
// the original service's init_logger rolling appender.
package logging

import (
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Init configures the global zerolog logger and returns a function that
// should run under defer at the top of main to log any panic before the
// process exits, mirroring the original's panic hook.
func Init(logDir string, debugMode bool) func() {
	level := zerolog.InfoLevel
	if debugMode {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	writers := []io.Writer{zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}}
	if logDir != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   fmt.Sprintf("%s/codelens.log", logDir),
			MaxSize:    50, // MB
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		})
	}

	logger := zerolog.New(io.MultiWriter(writers...)).With().Timestamp().Logger()
	zerolog.DefaultContextLogger = &logger

	return func() {
		if r := recover(); r != nil {
			logger.Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("fatal panic")
			panic(r)
		}
	}
}

// Noise returns a stderr logger tagged with a "component" field. It sets no
// level of its own: the global level chosen by Init applies to it.
func Noise(component string) zerolog.Logger {
	return zerolog.New(os.Stderr).With().Timestamp().Str("component", component).Logger()
}
