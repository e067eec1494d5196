package models

import (
	"math"
	"time"
)

// UnknownLabel is reported for faces that match no enrolled identity.
const UnknownLabel = "unknown"

// EnrolledIdentity is one known person and the descriptor computed from their
// enrollment image.
type EnrolledIdentity struct {
	Label      string    `json:"label"`
	Descriptor []float32 `json:"-"`
	SourceKey  string    `json:"source_key"`
}

// MatchResult is the nearest-identity decision for one detected face.
type MatchResult struct {
	Label    string  `json:"label"`
	Distance float64 `json:"distance"`
}

// Confidence converts the match distance to a rounded percentage.
func (m MatchResult) Confidence() int {
	return int(math.Round((1 - m.Distance) * 100))
}

// FaceMatch pairs a detected face's box with its match result.
type FaceMatch struct {
	BBox      [4]float32  `json:"bbox"` // x1, y1, x2, y2
	Score     float32     `json:"score"`
	Result    MatchResult `json:"result"`
	Timestamp time.Time   `json:"timestamp"`
}

// Frame is one complete JPEG image cut from the camera stream.
// Data must not be modified once the frame has been emitted.
type Frame struct {
	Data      []byte
	Seq       uint64
	Timestamp time.Time
}
