// Package manager provides named collections of client and server
// endpoints with shared lifecycle control, capability delegation, and
// default-endpoint resolution.
package manager

import (
	"log/slog"
	"time"
)

// Options configures a manager.
type Options struct {
	// DefaultName, when set, is the endpoint used by operations that pass
	// an empty name.
	DefaultName string

	// DefaultTimeout applies to endpoints created without one.
	DefaultTimeout time.Duration

	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}
