// Package scoring summarizes a session's events into counts, durations and
// an attentiveness score.
package scoring

import (
	"math"
	"time"

	"github.com/okian/proctor/internal/domain/model"
)

// Default scoring configuration constants.
const (
	defaultAlertPenalty = 2.0
	maxScoreValue       = 100
)

// Option applies a configuration option to the Scorer.
type Option func(*Scorer)

// WithAlertPenalty sets the points deducted per application alert.
func WithAlertPenalty(points float64) Option {
	return func(s *Scorer) {
		if points >= 0 {
			s.alertPenalty = points
		}
	}
}

// KindSummary aggregates the events of one kind.
type KindSummary struct {
	Count     int           `json:"count"`
	Total     time.Duration `json:"total_ns"`
	Longest   time.Duration `json:"longest_ns"`
	Truncated int           `json:"truncated"`
}

// Summary is the aggregate view of a session.
type Summary struct {
	SessionLength time.Duration              `json:"session_length_ns"`
	ByKind        map[model.Kind]KindSummary `json:"by_kind"`
	Truncated     int                        `json:"truncated"`
	Score         float64                    `json:"attentiveness_score"`
}

// Scorer computes summaries.
type Scorer struct {
	alertPenalty float64
}

// NewScorer creates a scorer with configuration options.
func NewScorer(opts ...Option) *Scorer {
	s := &Scorer{alertPenalty: defaultAlertPenalty}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Summarize aggregates events using the default scorer.
func Summarize(events []model.SessionEvent, start, end time.Time) Summary {
	return NewScorer().Summarize(events, start, end)
}

// Summarize aggregates closed events over [start, end]. Open events are ignored.
func (s *Scorer) Summarize(events []model.SessionEvent, start, end time.Time) Summary {
	sum := Summary{ByKind: make(map[model.Kind]KindSummary, len(model.Kinds()))}
	for _, k := range model.Kinds() {
		sum.ByKind[k] = KindSummary{}
	}
	if end.After(start) {
		sum.SessionLength = end.Sub(start)
	}

	for _, ev := range events {
		if ev.IsOpen() {
			continue
		}
		ks := sum.ByKind[ev.Kind]
		d := ev.Duration()
		ks.Count++
		ks.Total += d
		if d > ks.Longest {
			ks.Longest = d
		}
		if ev.Truncated {
			ks.Truncated++
			sum.Truncated++
		}
		sum.ByKind[ev.Kind] = ks
	}

	sum.Score = s.score(sum)
	return sum
}

func (s *Scorer) score(sum Summary) float64 {
	score := float64(maxScoreValue)
	if sum.SessionLength > 0 {
		busy := sum.ByKind[model.KindLookingAway].Total + sum.ByKind[model.KindSpeaking].Total
		score -= maxScoreValue * busy.Seconds() / sum.SessionLength.Seconds()
	}
	score -= s.alertPenalty * float64(sum.ByKind[model.KindAppAlert].Count)
	return math.Max(0, math.Min(maxScoreValue, score))
}
