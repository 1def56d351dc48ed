// Package simulate drives a running proctor server with synthetic landmark
// frames and audio blocks that follow a scripted scenario.
package simulate

import (
	"bytes"
	"embed"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/okian/proctor/internal/domain/model"
	"gopkg.in/yaml.v3"
)

const defaultFrameRate = 15

//go:embed scenarios/*.yaml
var builtin embed.FS

// Scenario is a timeline of face and audio segments.
//
// Example:
//
//	name: wandering
//	frame_rate: 15
//	segments:
//	  - duration: 7s
//	    direction: left
//	    energy: 0.001
type Scenario struct {
	Name        string    `yaml:"name"`
	Description string    `yaml:"description"`
	FrameRate   int       `yaml:"frame_rate"`
	Segments    []Segment `yaml:"segments"`
}

// Segment holds one gaze direction and audio energy for a span of time.
// LipGaps are cycled frame by frame.
type Segment struct {
	Duration  time.Duration   `yaml:"duration"`
	Direction model.Direction `yaml:"direction"`
	LipGaps   []float64       `yaml:"lip_gaps"`
	Energy    float64         `yaml:"energy"`
}

// Duration is the total scenario length.
func (s Scenario) Duration() time.Duration {
	var d time.Duration
	for _, seg := range s.Segments {
		d += seg.Duration
	}
	return d
}

// FrameInterval is the spacing between streamed frames.
func (s Scenario) FrameInterval() time.Duration {
	return time.Second / time.Duration(s.FrameRate)
}

// At returns the segment active at elapsed and its index. Past the end it
// holds the last segment.
func (s Scenario) At(elapsed time.Duration) (Segment, int) {
	for i, seg := range s.Segments {
		if elapsed < seg.Duration {
			return seg, i
		}
		elapsed -= seg.Duration
	}
	last := len(s.Segments) - 1
	return s.Segments[last], last
}

// Validate rejects scenarios the runner cannot play.
func (s *Scenario) Validate() error {
	if s.FrameRate == 0 {
		s.FrameRate = defaultFrameRate
	}
	var problems []string
	if s.FrameRate < 0 {
		problems = append(problems, "frame_rate must be positive")
	}
	if len(s.Segments) == 0 {
		problems = append(problems, "at least one segment is required")
	}
	for i, seg := range s.Segments {
		if seg.Duration <= 0 {
			problems = append(problems, fmt.Sprintf("segment %d: duration must be positive", i))
		}
		if !knownDirection(seg.Direction) {
			problems = append(problems, fmt.Sprintf("segment %d: unknown direction %q", i, seg.Direction))
		}
		if seg.Energy < 0 {
			problems = append(problems, fmt.Sprintf("segment %d: energy must not be negative", i))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidScenario, strings.Join(problems, "; "))
	}
	return nil
}

func knownDirection(d model.Direction) bool {
	switch d {
	case model.DirectionCenter, model.DirectionLeft, model.DirectionRight,
		model.DirectionUp, model.DirectionDown, model.DirectionAway, model.DirectionNoFace:
		return true
	}
	return false
}

// ParseScenario decodes and validates a scenario.
func ParseScenario(r io.Reader) (*Scenario, error) {
	var s Scenario
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidScenario, err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// LoadScenarioFile reads a scenario from disk.
func LoadScenarioFile(p string) (*Scenario, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("simulate: read scenario %q: %w", p, err)
	}
	s, err := ParseScenario(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("simulate: scenario %q: %w", p, err)
	}
	return s, nil
}

// Builtin returns the embedded scenario called name.
func Builtin(name string) (*Scenario, error) {
	data, err := builtin.ReadFile(path.Join("scenarios", name+".yaml"))
	if err != nil {
		return nil, fmt.Errorf("%w: %q (have %s)", ErrUnknownScenario, name, strings.Join(Names(), ", "))
	}
	return ParseScenario(bytes.NewReader(data))
}

// Names lists the embedded scenarios.
func Names() []string {
	entries, err := builtin.ReadDir("scenarios")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), ".yaml"))
	}
	sort.Strings(names)
	return names
}
