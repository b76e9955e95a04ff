package logger

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

func init() {
	zerolog.TimestampFieldName = "timestamp"
}

// New returns a structured logger tagged with the service name
func New(service string, w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stdout
	}

	return zerolog.New(w).With().
		Timestamp().
		Str("service", service).
		Logger()
}

// SetLevel sets the global level from a config string, defaulting to info
func SetLevel(level string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}
