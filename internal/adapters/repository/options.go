package repository

import (
	"time"

	"github.com/okian/proctor/internal/domain/dedupe"
	"github.com/okian/proctor/pkg/logger"
)

// Option applies a configuration option to the MemoryStore.
type Option func(*MemoryStore)

// WithDeduper sets the deduper used to reject repeated event IDs.
func WithDeduper(d dedupe.Deduper) Option {
	return func(s *MemoryStore) {
		if d != nil {
			s.deduper = d
		}
	}
}

// JournalOption applies a configuration option to the JournalStore.
type JournalOption func(*JournalStore)

// WithRetries sets the number of write attempts per event.
func WithRetries(attempts int) JournalOption {
	return func(s *JournalStore) {
		if attempts > 0 {
			s.attempts = attempts
		}
	}
}

// WithRetryDelay sets the pause between write attempts.
func WithRetryDelay(d time.Duration) JournalOption {
	return func(s *JournalStore) {
		if d >= 0 {
			s.delay = d
		}
	}
}

// WithJournalLogger sets the logger for write failures.
func WithJournalLogger(l logger.Logger) JournalOption {
	return func(s *JournalStore) {
		if l != nil {
			s.logger = l
		}
	}
}
