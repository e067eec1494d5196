package vision

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"time"

	"github.com/your-org/attendance/internal/models"
	"github.com/your-org/attendance/internal/observability"
)

var (
	// ErrDecode is returned when frame bytes are not a decodable image.
	ErrDecode = errors.New("decode image")
	// ErrNoFace is returned when an enrollment image contains no face.
	ErrNoFace = errors.New("no face detected in image")
)

// Face is one detected face with its descriptor.
type Face struct {
	BBox       [4]float32 // x1, y1, x2, y2 in source pixels
	Score      float32
	Descriptor []float32
}

// Detector is the detection and recognition capability. Distance must return
// a value in [0,1] where 0 means identical.
type Detector interface {
	Detect(ctx context.Context, img image.Image, minConfidence float64) ([]Face, error)
	Distance(a, b []float32) float64
}

// Matcher assigns each detected face to its nearest enrolled identity.
type Matcher struct {
	detector  Detector
	threshold float64
}

func NewMatcher(detector Detector, distanceThreshold float64) *Matcher {
	return &Matcher{detector: detector, threshold: distanceThreshold}
}

// Evaluate detects faces in frame and matches them against identities. Faces
// whose nearest identity is not strictly closer than the threshold are
// labelled models.UnknownLabel. With no identities it returns nothing.
func (m *Matcher) Evaluate(ctx context.Context, frame models.Frame, identities []models.EnrolledIdentity, minConfidence float64) ([]models.FaceMatch, error) {
	if len(identities) == 0 {
		return nil, nil
	}

	img, err := decode(frame.Data)
	if err != nil {
		return nil, err
	}

	faces, err := m.detector.Detect(ctx, img, minConfidence)
	if err != nil {
		return nil, fmt.Errorf("detect faces: %w", err)
	}
	observability.FacesDetected.Add(float64(len(faces)))

	start := time.Now()
	matches := make([]models.FaceMatch, 0, len(faces))
	for _, f := range faces {
		result := m.nearest(f.Descriptor, identities)
		if result.Label == models.UnknownLabel {
			observability.Matches.WithLabelValues("unknown").Inc()
		} else {
			observability.Matches.WithLabelValues("known").Inc()
		}
		matches = append(matches, models.FaceMatch{
			BBox:      f.BBox,
			Score:     f.Score,
			Result:    result,
			Timestamp: frame.Timestamp,
		})
	}
	observability.InferenceDuration.WithLabelValues("match").Observe(time.Since(start).Seconds())

	return matches, nil
}

func (m *Matcher) nearest(descriptor []float32, identities []models.EnrolledIdentity) models.MatchResult {
	best := models.MatchResult{Label: models.UnknownLabel, Distance: 1}
	bestLabel := ""
	for _, id := range identities {
		d := m.detector.Distance(descriptor, id.Descriptor)
		// Strict comparison keeps the first identity on ties.
		if bestLabel == "" || d < best.Distance {
			best.Distance = d
			bestLabel = id.Label
		}
	}
	if bestLabel != "" && best.Distance < m.threshold {
		best.Label = bestLabel
	}
	return best
}

// Describe returns the descriptor of the highest-scoring face in an image.
// Used for enrollment images.
func Describe(ctx context.Context, detector Detector, data []byte, minConfidence float64) ([]float32, error) {
	img, err := decode(data)
	if err != nil {
		return nil, err
	}
	faces, err := detector.Detect(ctx, img, minConfidence)
	if err != nil {
		return nil, fmt.Errorf("detect faces: %w", err)
	}
	if len(faces) == 0 {
		return nil, ErrNoFace
	}

	best := faces[0]
	for _, f := range faces[1:] {
		if f.Score > best.Score {
			best = f
		}
	}
	return best.Descriptor, nil
}

func decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return img, nil
}
