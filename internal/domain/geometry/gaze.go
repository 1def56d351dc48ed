package geometry

import "github.com/okian/proctor/internal/domain/model"

// EyeDirection places the iris centre inside the eye contour's bounding box,
// split into thirds on each axis. Horizontal is checked before vertical.
func EyeDirection(f *LandmarkFrame, eye, iris []int) (model.Direction, error) {
	eyePts, err := f.pixels(eye)
	if err != nil {
		return "", err
	}
	irisPts, err := f.pixels(iris)
	if err != nil {
		return "", err
	}

	minX, minY := eyePts[0].X, eyePts[0].Y
	maxX, maxY := minX, minY
	for _, p := range eyePts[1:] {
		minX, maxX = min(minX, p.X), max(maxX, p.X)
		minY, maxY = min(minY, p.Y), max(maxY, p.Y)
	}
	w, h := maxX-minX, maxY-minY
	if w <= 0 || h <= 0 {
		return model.DirectionCenter, nil
	}

	c := mean(irisPts)
	cx, cy := c.X-minX, c.Y-minY
	switch {
	case cx < w/3:
		return model.DirectionLeft, nil
	case cx > 2*w/3:
		return model.DirectionRight, nil
	case cy < h/3:
		return model.DirectionUp, nil
	case cy > 2*h/3:
		return model.DirectionDown, nil
	default:
		return model.DirectionCenter, nil
	}
}

// Reconcile merges the two per-eye labels: agreement passes through,
// disagreement counts as looking away.
func Reconcile(left, right model.Direction) model.Direction {
	if left == right {
		return left
	}
	return model.DirectionAway
}

// Classify returns the reconciled gaze direction for a frame. A nil frame
// means no face was detected.
func Classify(f *LandmarkFrame) (model.Direction, error) {
	if f == nil {
		return model.DirectionNoFace, nil
	}
	left, err := EyeDirection(f, LeftEye, LeftIris)
	if err != nil {
		return "", err
	}
	right, err := EyeDirection(f, RightEye, RightIris)
	if err != nil {
		return "", err
	}
	return Reconcile(left, right), nil
}
