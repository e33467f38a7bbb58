// Package logging configures the process-wide structured logger.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New returns a console-friendly zerolog.Logger tagged with the given
// component name, the way gear6io-ranger's diagnostic logger composes a
// base logger with a "component" field per subsystem.
func New(component string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	base := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().
		Timestamp().
		Str("component", component).
		Logger()
	return base
}
