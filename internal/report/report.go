// Package report assembles and renders the end-of-session report.
package report

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/okian/proctor/internal/adapters/activitylog"
	"github.com/okian/proctor/internal/domain/model"
	"github.com/okian/proctor/internal/domain/scoring"
)

// Report is the outcome of one monitoring session.
type Report struct {
	SessionID string                                      `json:"session_id"`
	Start     time.Time                                   `json:"start"`
	End       time.Time                                   `json:"end"`
	Final     bool                                        `json:"final"`
	EndReason string                                      `json:"end_reason,omitempty"`
	SinkError string                                      `json:"sink_error,omitempty"`
	Summary   scoring.Summary                             `json:"summary"`
	Events    []model.SessionEvent                        `json:"events"`
	Logs      map[activitylog.Category][]activitylog.Line `json:"logs,omitempty"`
}

// New builds a report and its summary. Events are ordered by start time.
func New(id string, start, end time.Time, events []model.SessionEvent, logs map[activitylog.Category][]activitylog.Line) Report {
	sorted := make([]model.SessionEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })

	return Report{
		SessionID: id,
		Start:     start,
		End:       end,
		Summary:   scoring.Summarize(sorted, start, end),
		Events:    sorted,
		Logs:      logs,
	}
}

// EventsOf returns the events of kind k in report order.
func (r Report) EventsOf(k model.Kind) []model.SessionEvent {
	var out []model.SessionEvent
	for _, ev := range r.Events {
		if ev.Kind == k {
			out = append(out, ev)
		}
	}
	return out
}

// RenderText writes the human-readable report.
func RenderText(w io.Writer, r Report) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintf(bw, "Session %s\n", r.SessionID)
	fmt.Fprintf(bw, "Started: %s\n", r.Start.Format(model.TimeLayout))
	if r.Final {
		fmt.Fprintf(bw, "Ended:   %s\n", r.End.Format(model.TimeLayout))
	} else {
		fmt.Fprintf(bw, "As of:   %s (running)\n", r.End.Format(model.TimeLayout))
	}
	if r.EndReason != "" {
		fmt.Fprintf(bw, "End reason: %s\n", r.EndReason)
	}
	if r.SinkError != "" {
		fmt.Fprintf(bw, "Event log sink failed: %s\n", r.SinkError)
	}

	fmt.Fprintf(bw, "\nSummary\n")
	fmt.Fprintf(bw, "  Length: %s\n", r.Summary.SessionLength.Round(time.Second))
	fmt.Fprintf(bw, "  Attentiveness score: %.1f\n", r.Summary.Score)
	for _, k := range model.Kinds() {
		ks := r.Summary.ByKind[k]
		if k.Instant() {
			fmt.Fprintf(bw, "  %s: %d\n", k, ks.Count)
			continue
		}
		fmt.Fprintf(bw, "  %s: %d events, total %.1fs, longest %.1fs, truncated %d\n",
			k, ks.Count, ks.Total.Seconds(), ks.Longest.Seconds(), ks.Truncated)
	}

	for _, k := range model.Kinds() {
		fmt.Fprintf(bw, "\n== %s ==\n", k)
		evs := r.EventsOf(k)
		if len(evs) == 0 {
			fmt.Fprintln(bw, "(none)")
		}
		for _, ev := range evs {
			fmt.Fprintln(bw, ev.Line())
		}
	}

	for _, c := range activitylog.Categories() {
		lines := r.Logs[c]
		if len(lines) == 0 {
			continue
		}
		fmt.Fprintf(bw, "\n-- %s log --\n", c)
		for _, l := range lines {
			fmt.Fprintln(bw, l.String())
		}
	}

	if err := bw.Flush(); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
