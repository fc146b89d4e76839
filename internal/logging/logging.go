package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Base builds the zerolog.Logger every reflow command and worker logs
// through, tagged with app and the requested level/format.
// format: json|console; level: debug|info|warn|error
func Base(app, level, format string) zerolog.Logger {
	lvl := parseLevel(level)
	w := writerForFormat(format)

	return zerolog.New(w).Level(lvl).With().Timestamp().Str("app", app).Logger()
}

func parseLevel(s string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err == nil && lvl >= zerolog.TraceLevel && lvl <= zerolog.PanicLevel {
		return lvl
	}
	return zerolog.InfoLevel
}

func writerForFormat(format string) io.Writer {
	if strings.ToLower(format) == "console" {
		return zerolog.ConsoleWriter{Out: os.Stdout}
	}

	return os.Stdout
}
