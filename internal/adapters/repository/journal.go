package repository

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/okian/proctor/internal/domain/model"
	"github.com/okian/proctor/pkg/logger"
	"github.com/okian/proctor/pkg/metrics"
)

const (
	defaultJournalAttempts = 3
	defaultRetryDelay      = 50 * time.Millisecond
	journalFileMode        = 0o644
	journalDirMode         = 0o755
)

// JournalStore decorates a Store and writes each appended event to a
// journal as "kind | startTime | endTime-or-details". Once the journal
// exhausts its retries it stays failed for the rest of the session; the
// wrapped store keeps accepting events.
type JournalStore struct {
	inner Store

	mu       sync.Mutex
	w        io.Writer
	closer   io.Closer
	attempts int
	delay    time.Duration
	logger   logger.Logger
	failed   error
}

// NewJournalStore wraps inner with a journal written to w.
func NewJournalStore(inner Store, w io.Writer, opts ...JournalOption) *JournalStore {
	s := &JournalStore{
		inner:    inner,
		w:        w,
		attempts: defaultJournalAttempts,
		delay:    defaultRetryDelay,
	}
	if c, ok := w.(io.Closer); ok {
		s.closer = c
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Named("journal")
	}
	return s
}

// OpenJournal opens (or creates) the journal file at path for appending.
func OpenJournal(inner Store, path string, opts ...JournalOption) (*JournalStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), journalDirMode); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, journalFileMode)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return NewJournalStore(inner, f, opts...), nil
}

// Append adds ev to the wrapped store, then journals it. Both happen under
// one lock so the journal order matches the store order.
func (s *JournalStore) Append(ctx context.Context, ev model.SessionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.inner.Append(ctx, ev); err != nil {
		return err
	}

	if s.failed != nil {
		return fmt.Errorf("%w: %w", ErrSinkUnrecoverable, s.failed)
	}

	line := ev.Line() + "\n"
	var lastErr error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		_, err := io.WriteString(s.w, line)
		if err == nil {
			metrics.RecordJournalWrite()
			return nil
		}
		lastErr = err
		metrics.RecordJournalWriteError()
		s.logger.Warn(ctx, "journal write failed",
			logger.String("event_id", ev.ID),
			logger.Int("attempt", attempt),
			logger.Int("max_attempts", s.attempts),
			logger.Error(err),
		)
		if attempt == s.attempts {
			break
		}
		if err := sleep(ctx, s.delay); err != nil {
			return fmt.Errorf("journal retry interrupted: %w", err)
		}
	}

	s.failed = lastErr
	metrics.RecordErrorByComponent("journal", "unrecoverable")
	s.logger.Error(ctx, "journal unrecoverable, giving up for this session",
		logger.String("event_id", ev.ID), logger.Error(lastErr))
	return fmt.Errorf("%w: %w", ErrSinkUnrecoverable, lastErr)
}

// Failed returns the error that made the journal unrecoverable, if any.
func (s *JournalStore) Failed() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failed
}

// Events returns the wrapped store's events.
func (s *JournalStore) Events(ctx context.Context) []model.SessionEvent {
	return s.inner.Events(ctx)
}

// Count returns the wrapped store's count.
func (s *JournalStore) Count(ctx context.Context) int { return s.inner.Count(ctx) }

// CountByKind returns the wrapped store's per-kind counts.
func (s *JournalStore) CountByKind(ctx context.Context) map[model.Kind]int {
	return s.inner.CountByKind(ctx)
}

// Close closes the journal writer and the wrapped store.
func (s *JournalStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	if s.closer != nil {
		errs = append(errs, s.closer.Close())
		s.closer = nil
	}
	errs = append(errs, s.inner.Close())
	return errors.Join(errs...)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
