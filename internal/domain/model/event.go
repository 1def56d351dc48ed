// Package model contains domain models passed between layers.
package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TimeLayout is the timestamp layout used in log lines and journal records.
const TimeLayout = "2006-01-02 15:04:05"

// Sentinel errors for event lifecycle violations.
var (
	ErrAlreadyClosed  = errors.New("event already closed")
	ErrEndBeforeStart = errors.New("event end precedes start")
)

// Kind is the behavioral category of a session event.
type Kind string

// Event kinds.
const (
	KindLookingAway     Kind = "LookingAway"
	KindSpeaking        Kind = "Speaking"
	KindWebsiteActivity Kind = "WebsiteActivity"
	KindAppAlert        Kind = "AppAlert"
)

// Kinds lists every kind in report order.
func Kinds() []Kind {
	return []Kind{KindLookingAway, KindSpeaking, KindWebsiteActivity, KindAppAlert}
}

// Instant reports whether events of this kind are point-in-time (start == end).
func (k Kind) Instant() bool {
	return k == KindWebsiteActivity || k == KindAppAlert
}

// SessionEvent is a labeled [Start, End] interval in a monitoring session.
// End is nil while the event is open.
type SessionEvent struct {
	ID        string     `json:"id"`
	Kind      Kind       `json:"kind"`
	Start     time.Time  `json:"start"`
	End       *time.Time `json:"end,omitempty"`
	Details   string     `json:"details,omitempty"`
	Truncated bool       `json:"truncated,omitempty"`
}

// NewEvent opens an event of kind at start.
func NewEvent(kind Kind, start time.Time, details string) SessionEvent {
	return SessionEvent{
		ID:      uuid.NewString(),
		Kind:    kind,
		Start:   start,
		Details: details,
	}
}

// NewInstant creates an already closed point-in-time event.
func NewInstant(kind Kind, at time.Time, details string) SessionEvent {
	e := NewEvent(kind, at, details)
	end := at
	e.End = &end
	return e
}

// IsOpen reports whether the event has no end yet.
func (e SessionEvent) IsOpen() bool { return e.End == nil }

// Close sets the end time. Closed events are immutable.
func (e *SessionEvent) Close(end time.Time) error {
	if e.End != nil {
		return ErrAlreadyClosed
	}
	if end.Before(e.Start) {
		return fmt.Errorf("%w: start=%s end=%s", ErrEndBeforeStart, e.Start, end)
	}
	e.End = &end
	return nil
}

// ForceClose closes the event at termination time and marks it truncated.
func (e *SessionEvent) ForceClose(end time.Time) error {
	if end.Before(e.Start) {
		end = e.Start
	}
	if err := e.Close(end); err != nil {
		return err
	}
	e.Truncated = true
	if e.Details == "" {
		e.Details = "truncated at session end"
	} else {
		e.Details += " (truncated at session end)"
	}
	return nil
}

// Duration returns End-Start, or zero for open events.
func (e SessionEvent) Duration() time.Duration {
	if e.End == nil {
		return 0
	}
	return e.End.Sub(e.Start)
}

// Line renders the event as "kind | startTime | endTime-or-details".
func (e SessionEvent) Line() string {
	tail := "open"
	switch {
	case e.Kind.Instant():
		tail = e.Details
	case e.End != nil && e.Truncated:
		tail = e.End.Format(TimeLayout) + " (truncated)"
	case e.End != nil:
		tail = e.End.Format(TimeLayout)
	}
	return fmt.Sprintf("%s | %s | %s", e.Kind, e.Start.Format(TimeLayout), tail)
}
