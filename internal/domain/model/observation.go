package model

import "time"

// Direction is a per-frame gaze classification.
type Direction string

// Gaze directions. Away is the reconciliation result when the eyes disagree.
const (
	DirectionCenter Direction = "center"
	DirectionLeft   Direction = "left"
	DirectionRight  Direction = "right"
	DirectionUp     Direction = "up"
	DirectionDown   Direction = "down"
	DirectionAway   Direction = "away"
	DirectionNoFace Direction = "no_face"
)

// Centered reports whether the direction counts as attending to the screen.
func (d Direction) Centered() bool { return d == DirectionCenter }

// SpeakingStatus is a per-frame speaking classification.
type SpeakingStatus string

// Speaking statuses.
const (
	StatusNotSpeaking     SpeakingStatus = "not_speaking"
	StatusSpeaking        SpeakingStatus = "speaking"
	StatusBackgroundNoise SpeakingStatus = "background_noise"
)

// FrameResult is the per-frame outcome handed to display/live consumers.
type FrameResult struct {
	At           time.Time      `json:"at"`
	FaceDetected bool           `json:"face_detected"`
	Direction    Direction      `json:"direction"`
	Speaking     SpeakingStatus `json:"speaking"`
	LipGap       float64        `json:"lip_gap"`
	Warning      bool           `json:"warning"`
}
