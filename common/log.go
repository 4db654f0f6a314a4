package common

import (
	"os"
	"sync"

	"github.com/rs/zerolog"
)

var (
	loggerOnce sync.Once
	rootLogger zerolog.Logger
)

// NewLogger returns a sublogger tagged with the given component name.
// All components of a process share one root logger writing to stderr.
func NewLogger(component string) zerolog.Logger {
	loggerOnce.Do(func() {
		rootLogger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	})
	return rootLogger.With().Str("component", component).Logger()
}
