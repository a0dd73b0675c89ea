package log

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog with application-wide defaults.
type Logger struct {
	zerolog.Logger
}

// New builds the root logger. Unknown levels fall back to info.
func New(level string, pretty bool) Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	var out = zerolog.LevelWriter(zerolog.MultiLevelWriter(os.Stdout))
	if pretty {
		out = zerolog.MultiLevelWriter(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	}

	l := zerolog.New(out).
		Level(lvl).
		With().
		Timestamp().
		Logger()

	return Logger{Logger: l}
}
