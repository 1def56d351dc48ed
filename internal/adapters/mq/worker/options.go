package worker

import (
	"github.com/okian/proctor/pkg/logger"
)

// Option applies a configuration option to a Loop.
type Option func(*Loop)

// WithLogger sets a custom logger for the loop.
func WithLogger(logger logger.Logger) Option {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithImmediateStart controls whether the first step runs before the first tick.
func WithImmediateStart(immediate bool) Option {
	return func(l *Loop) {
		l.immediate = immediate
	}
}
