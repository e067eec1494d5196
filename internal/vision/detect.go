package vision

import (
	"fmt"
	"math"
	"sort"

	ort "github.com/yalue/onnxruntime_go"
)

// detection is a raw RetinaFace box before a descriptor is attached.
type detection struct {
	BBox  [4]float32
	Score float32
}

// RetinaFace det_10g feature map strides and anchors per cell.
var strides = []int{8, 16, 32}

const (
	anchorsPerStride = 2
	nmsIoU           = 0.4
	detInputSize     = 640
)

// retinaFace runs the det_10g detector. It is not safe for concurrent use.
type retinaFace struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	scores  []*ort.Tensor[float32]
	bboxes  []*ort.Tensor[float32]
	size    int
}

// newRetinaFace loads the model. Only score and box outputs are bound; the
// landmark heads are never evaluated.
func newRetinaFace(modelPath string, opts *ort.SessionOptions) (*retinaFace, error) {
	r := &retinaFace{size: detInputSize}

	var err error
	r.input, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 3, int64(r.size), int64(r.size)))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	// Output names of det_10g, per stride 8/16/32.
	scoreNames := []string{"448", "471", "494"}
	bboxNames := []string{"451", "474", "497"}

	var names []string
	var values []ort.Value
	for i, stride := range strides {
		cells := int64((r.size / stride) * (r.size / stride) * anchorsPerStride)

		s, err := ort.NewEmptyTensor[float32](ort.NewShape(cells, 1))
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("create score tensor %s: %w", scoreNames[i], err)
		}
		r.scores = append(r.scores, s)

		b, err := ort.NewEmptyTensor[float32](ort.NewShape(cells, 4))
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("create bbox tensor %s: %w", bboxNames[i], err)
		}
		r.bboxes = append(r.bboxes, b)
	}
	for i := range strides {
		names = append(names, scoreNames[i])
		values = append(values, r.scores[i])
	}
	for i := range strides {
		names = append(names, bboxNames[i])
		values = append(values, r.bboxes[i])
	}

	r.session, err = ort.NewAdvancedSession(modelPath,
		[]string{"input.1"},
		names,
		[]ort.Value{r.input},
		values,
		opts,
	)
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("create detector session: %w", err)
	}
	return r, nil
}

// detect runs the model on CHW input and returns boxes scaled to origW x origH.
func (r *retinaFace) detect(input []float32, origW, origH int, threshold float32) ([]detection, error) {
	copy(r.input.GetData(), input)
	if err := r.session.Run(); err != nil {
		return nil, fmt.Errorf("run detection: %w", err)
	}

	var dets []detection
	for i, stride := range strides {
		dets = append(dets, decodeStride(
			r.scores[i].GetData(), r.bboxes[i].GetData(),
			stride, r.size, origW, origH, threshold,
		)...)
	}
	return nms(dets, nmsIoU), nil
}

func (r *retinaFace) Close() {
	if r.session != nil {
		r.session.Destroy()
	}
	if r.input != nil {
		r.input.Destroy()
	}
	for _, t := range append(r.scores, r.bboxes...) {
		t.Destroy()
	}
}

// decodeStride turns one feature map's anchor outputs into boxes. Box outputs
// are distances from the anchor centre to each edge, in stride units.
func decodeStride(scores, bboxes []float32, stride, inputSize, origW, origH int, threshold float32) []detection {
	scaleW := float32(origW) / float32(inputSize)
	scaleH := float32(origH) / float32(inputSize)
	fm := inputSize / stride
	st := float32(stride)

	var dets []detection
	idx := 0
	for cy := 0; cy < fm; cy++ {
		for cx := 0; cx < fm; cx++ {
			for a := 0; a < anchorsPerStride; a++ {
				if idx >= len(scores) {
					return dets
				}
				if score := scores[idx]; score >= threshold {
					ax := float32(cx) * st
					ay := float32(cy) * st
					dets = append(dets, detection{
						BBox: [4]float32{
							clampF((ax-bboxes[idx*4+0]*st)*scaleW, 0, float32(origW)),
							clampF((ay-bboxes[idx*4+1]*st)*scaleH, 0, float32(origH)),
							clampF((ax+bboxes[idx*4+2]*st)*scaleW, 0, float32(origW)),
							clampF((ay+bboxes[idx*4+3]*st)*scaleH, 0, float32(origH)),
						},
						Score: score,
					})
				}
				idx++
			}
		}
	}
	return dets
}

// nms keeps the highest-scoring box of every overlapping group.
func nms(dets []detection, iouThreshold float32) []detection {
	if len(dets) == 0 {
		return dets
	}

	sort.SliceStable(dets, func(i, j int) bool {
		return dets[i].Score > dets[j].Score
	})

	suppressed := make([]bool, len(dets))
	var kept []detection
	for i := range dets {
		if suppressed[i] {
			continue
		}
		kept = append(kept, dets[i])
		for j := i + 1; j < len(dets); j++ {
			if !suppressed[j] && iou(dets[i].BBox, dets[j].BBox) > iouThreshold {
				suppressed[j] = true
			}
		}
	}
	return kept
}

func iou(a, b [4]float32) float32 {
	x1 := float32(math.Max(float64(a[0]), float64(b[0])))
	y1 := float32(math.Max(float64(a[1]), float64(b[1])))
	x2 := float32(math.Min(float64(a[2]), float64(b[2])))
	y2 := float32(math.Min(float64(a[3]), float64(b[3])))

	inter := float32(math.Max(0, float64(x2-x1))) * float32(math.Max(0, float64(y2-y1)))
	union := (a[2]-a[0])*(a[3]-a[1]) + (b[2]-b[0])*(b[3]-b[1]) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func clampF(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
