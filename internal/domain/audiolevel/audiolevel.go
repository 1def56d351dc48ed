// Package audiolevel turns fixed-duration PCM blocks into speech and noise flags.
package audiolevel

import (
	"math"
	"time"
)

// Capture contract for the audio sampler.
const (
	BlockDuration = 300 * time.Millisecond
	SampleRate    = 44100

	// energyScale matches the scale the default thresholds were tuned on.
	energyScale = 10

	DefaultSpeechThreshold = 0.01
	DefaultNoiseThreshold  = 0.08
)

// Block is one mono PCM block with samples normalized to [-1, 1].
type Block struct {
	Samples    []float64 `json:"samples"`
	SampleRate int       `json:"sample_rate"`
}

// FromPCM16 converts signed 16-bit samples into a normalized block.
func FromPCM16(samples []int16, sampleRate int) Block {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = float64(s) / 32768.0
	}
	return Block{Samples: out, SampleRate: sampleRate}
}

// Duration returns the block length implied by its sample rate.
func (b Block) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(len(b.Samples)) / float64(b.SampleRate) * float64(time.Second))
}

// Energy is the scaled L2 norm of the block.
func Energy(b Block) float64 {
	var sum float64
	for _, s := range b.Samples {
		sum += s * s
	}
	return math.Sqrt(sum) * energyScale
}

// Levels are the two audio flags published to the fusion state.
type Levels struct {
	Speech bool `json:"speech"`
	Noise  bool `json:"noise"`
}

// Classifier compares block energy against the speech and noise thresholds.
type Classifier struct {
	SpeechThreshold float64
	NoiseThreshold  float64
}

// NewClassifier returns a classifier with the default thresholds.
func NewClassifier() Classifier {
	return Classifier{SpeechThreshold: DefaultSpeechThreshold, NoiseThreshold: DefaultNoiseThreshold}
}

// Classify applies strict greater-than comparisons; both flags may be set.
func (c Classifier) Classify(energy float64) Levels {
	return Levels{
		Speech: energy > c.SpeechThreshold,
		Noise:  energy > c.NoiseThreshold,
	}
}

// ClassifyBlock computes the energy of b and classifies it.
func (c Classifier) ClassifyBlock(b Block) (float64, Levels) {
	e := Energy(b)
	return e, c.Classify(e)
}

// Tone builds a block of a constant-amplitude signal whose energy is
// approximately the requested value. It is used by simulators.
func Tone(energy float64, d time.Duration, sampleRate int) Block {
	n := int(math.Round(d.Seconds() * float64(sampleRate)))
	if n <= 0 {
		return Block{SampleRate: sampleRate}
	}
	amp := energy / energyScale / math.Sqrt(float64(n))
	samples := make([]float64, n)
	for i := range samples {
		if i%2 == 0 {
			samples[i] = amp
		} else {
			samples[i] = -amp
		}
	}
	return Block{Samples: samples, SampleRate: sampleRate}
}
