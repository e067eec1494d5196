package vision

import (
	"fmt"
	"math"

	ort "github.com/yalue/onnxruntime_go"
)

const (
	embedInputSize = 112
	descriptorDim  = 512
)

// arcFace computes w600k_r50 descriptors from aligned face crops.
type arcFace struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

func newArcFace(modelPath string, opts *ort.SessionOptions) (*arcFace, error) {
	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, embedInputSize, embedInputSize))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, descriptorDim))
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input.1"},
		[]string{"683"},
		[]ort.Value{input},
		[]ort.Value{output},
		opts,
	)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("create embedder session: %w", err)
	}
	return &arcFace{session: session, input: input, output: output}, nil
}

// describe returns an L2-normalized descriptor for a CHW face crop.
func (e *arcFace) describe(input []float32) ([]float32, error) {
	copy(e.input.GetData(), input)
	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("run embedding: %w", err)
	}

	desc := make([]float32, descriptorDim)
	copy(desc, e.output.GetData())
	normalize(desc)
	return desc, nil
}

func (e *arcFace) Close() {
	if e.session != nil {
		e.session.Destroy()
	}
	if e.input != nil {
		e.input.Destroy()
	}
	if e.output != nil {
		e.output.Destroy()
	}
}

// normalize scales v to unit length in place.
func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if norm := float32(math.Sqrt(sum)); norm > 0 {
		for i := range v {
			v[i] /= norm
		}
	}
}
