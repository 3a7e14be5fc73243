// Package logging constructs the process-wide structured logger.
package logging

import (
	"log/slog"
	"os"
)

// New returns a JSON slog.Logger tagged with the given component name.
func New(component string, level slog.Level) *slog.Logger {
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(h).With("component", component)
}
