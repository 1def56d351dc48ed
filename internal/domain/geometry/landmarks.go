// Package geometry classifies face landmarks into gaze directions and lip gaps.
package geometry

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrMissingLandmark is returned when a frame lacks a required landmark index.
var ErrMissingLandmark = errors.New("missing landmark")

// Face-mesh landmark indices.
var (
	LeftEye   = []int{362, 385, 387, 263, 373, 380}
	RightEye  = []int{33, 160, 158, 133, 153, 144}
	LeftIris  = []int{474, 475, 476, 477}
	RightIris = []int{469, 470, 471, 472}
	UpperLip  = []int{13, 14}
	LowerLip  = []int{17, 18}
)

// Point is a 2-D coordinate. Landmarks use the normalized [0,1] range.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// LandmarkFrame holds one face's landmarks for one captured frame.
type LandmarkFrame struct {
	Points map[int]Point `json:"points"`
	Width  int           `json:"width"`
	Height int           `json:"height"`
	At     time.Time     `json:"at"`
}

// pixels returns the landmarks at idx scaled to the frame resolution.
func (f *LandmarkFrame) pixels(idx []int) ([]Point, error) {
	out := make([]Point, 0, len(idx))
	for _, i := range idx {
		p, ok := f.Points[i]
		if !ok {
			return nil, fmt.Errorf("%w: index %d", ErrMissingLandmark, i)
		}
		out = append(out, Point{X: p.X * float64(f.Width), Y: p.Y * float64(f.Height)})
	}
	return out, nil
}

func mean(pts []Point) Point {
	var sx, sy float64
	for _, p := range pts {
		sx += p.X
		sy += p.Y
	}
	n := float64(len(pts))
	return Point{X: sx / n, Y: sy / n}
}

// LipGap is the distance in pixels between the mean upper-lip point and the
// mean lower-lip point.
func LipGap(f *LandmarkFrame) (float64, error) {
	upper, err := f.pixels(UpperLip)
	if err != nil {
		return 0, err
	}
	lower, err := f.pixels(LowerLip)
	if err != nil {
		return 0, err
	}
	u, l := mean(upper), mean(lower)
	return math.Hypot(u.X-l.X, u.Y-l.Y), nil
}
