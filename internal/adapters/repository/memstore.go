package repository

import (
	"context"
	"fmt"
	"sync"

	"github.com/okian/proctor/internal/domain/dedupe"
	"github.com/okian/proctor/internal/domain/model"
	"github.com/okian/proctor/pkg/metrics"
)

// MemoryStore is the in-memory event log.
type MemoryStore struct {
	mu      sync.RWMutex
	events  []model.SessionEvent
	byKind  map[model.Kind]int
	deduper dedupe.Deduper
	closed  bool
}

// NewMemoryStore creates an empty event log.
func NewMemoryStore(opts ...Option) *MemoryStore {
	s := &MemoryStore{
		byKind: make(map[model.Kind]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.deduper == nil {
		s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(0))
	}
	return s
}

// Append validates and appends ev.
func (s *MemoryStore) Append(ctx context.Context, ev model.SessionEvent) error {
	if ev.IsOpen() {
		metrics.RecordErrorByComponent("repository", "event_open")
		return fmt.Errorf("%w: %s %s", ErrEventOpen, ev.Kind, ev.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.deduper.SeenAndRecord(ctx, ev.ID) {
		metrics.RecordJournalDuplicate()
		return fmt.Errorf("%w: %s", ErrDuplicate, ev.ID)
	}

	s.events = append(s.events, ev)
	s.byKind[ev.Kind]++
	metrics.RecordEventEmitted(string(ev.Kind))
	if ev.Truncated {
		metrics.RecordEventTruncated()
	}
	metrics.UpdateEventLogSize(len(s.events))
	return nil
}

// Events returns a copy of the log.
func (s *MemoryStore) Events(_ context.Context) []model.SessionEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.SessionEvent, len(s.events))
	copy(out, s.events)
	return out
}

// Count returns the number of events.
func (s *MemoryStore) Count(_ context.Context) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// CountByKind returns a copy of the per-kind counts.
func (s *MemoryStore) CountByKind(_ context.Context) map[model.Kind]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[model.Kind]int, len(s.byKind))
	for k, v := range s.byKind {
		out[k] = v
	}
	return out
}

// Close rejects further appends. Reads keep working.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
