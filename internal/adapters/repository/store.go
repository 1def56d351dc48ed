// Package repository holds the session event log.
package repository

import (
	"context"

	"github.com/okian/proctor/internal/domain/model"
)

// Store is the ordered, append-only session event log. Append is the
// single synchronized entry point every tracker writes through.
type Store interface {
	// Append adds a closed event. Open events return ErrEventOpen and
	// already appended IDs return ErrDuplicate.
	Append(ctx context.Context, ev model.SessionEvent) error

	// Events returns a copy of the log in append order.
	Events(ctx context.Context) []model.SessionEvent

	// Count returns the number of appended events.
	Count(ctx context.Context) int

	// CountByKind returns per-kind counts.
	CountByKind(ctx context.Context) map[model.Kind]int

	Close() error
}
