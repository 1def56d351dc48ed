package geometry

import (
	"time"

	"github.com/okian/proctor/internal/domain/model"
)

// Eye contour template in normalized coordinates, relative to the eye's
// top-left corner. The box is 0.10 wide and 0.04 tall.
var eyeTemplate = []Point{
	{0, 0.02}, {0.03, 0}, {0.07, 0}, {0.10, 0.02}, {0.07, 0.04}, {0.03, 0.04},
}

const (
	eyeW = 0.10
	eyeH = 0.04
)

// irisOffset maps a direction to the iris position as a fraction of the eye box.
func irisOffset(d model.Direction) (float64, float64) {
	switch d {
	case model.DirectionLeft:
		return 0.1, 0.5
	case model.DirectionRight:
		return 0.9, 0.5
	case model.DirectionUp:
		return 0.5, 0.1
	case model.DirectionDown:
		return 0.5, 0.9
	default:
		return 0.5, 0.5
	}
}

func placeEye(pts map[int]Point, eye, iris []int, origin Point, d model.Direction) {
	for i, idx := range eye {
		t := eyeTemplate[i%len(eyeTemplate)]
		pts[idx] = Point{X: origin.X + t.X, Y: origin.Y + t.Y}
	}
	rx, ry := irisOffset(d)
	c := Point{X: origin.X + rx*eyeW, Y: origin.Y + ry*eyeH}
	for _, idx := range iris {
		pts[idx] = c
	}
}

// Synthesize builds a landmark frame whose eyes look towards dir and whose
// lips are lipGap pixels apart. DirectionAway makes the eyes disagree and
// DirectionNoFace yields nil.
func Synthesize(dir model.Direction, lipGap float64, width, height int, at time.Time) *LandmarkFrame {
	if dir == model.DirectionNoFace {
		return nil
	}
	pts := make(map[int]Point, 32)

	left, right := dir, dir
	if dir == model.DirectionAway {
		left, right = model.DirectionLeft, model.DirectionRight
	}
	placeEye(pts, LeftEye, LeftIris, Point{X: 0.55, Y: 0.40}, left)
	placeEye(pts, RightEye, RightIris, Point{X: 0.35, Y: 0.40}, right)

	// Lips are centred at x=0.5; the gap is converted back to normalized units.
	gap := 0.0
	if height > 0 {
		gap = lipGap / float64(height)
	}
	top := 0.70
	pts[UpperLip[0]] = Point{X: 0.5, Y: top}
	pts[UpperLip[1]] = Point{X: 0.5, Y: top}
	pts[LowerLip[0]] = Point{X: 0.5, Y: top + gap}
	pts[LowerLip[1]] = Point{X: 0.5, Y: top + gap}

	return &LandmarkFrame{Points: pts, Width: width, Height: height, At: at}
}
