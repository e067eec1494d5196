package vision

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"math"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/coder/hnsw"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/attendance/internal/config"
	"github.com/your-org/attendance/internal/observability"
)

// InitRuntime loads the ONNX Runtime shared library. Call DestroyRuntime on exit.
func InitRuntime() error {
	ort.SetSharedLibraryPath(onnxLibPath())
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("initialize onnx runtime: %w", err)
	}
	return nil
}

func DestroyRuntime() {
	_ = ort.DestroyEnvironment()
}

func onnxLibPath() string {
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "libonnxruntime.so"
	}
}

// ONNXBackend is the Detector backed by RetinaFace and ArcFace models.
// Calls are serialized because the models share preallocated tensors.
type ONNXBackend struct {
	mu       sync.Mutex
	detector *retinaFace
	embedder *arcFace
}

// NewONNXBackend loads det_10g.onnx and w600k_r50.onnx from cfg.ModelsDir.
func NewONNXBackend(cfg config.VisionConfig) (*ONNXBackend, error) {
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("create session options: %w", err)
	}
	defer opts.Destroy()
	if cfg.IntraOpThreads > 0 {
		if err := opts.SetIntraOpNumThreads(cfg.IntraOpThreads); err != nil {
			return nil, fmt.Errorf("set intra-op threads: %w", err)
		}
	}

	detPath := filepath.Join(cfg.ModelsDir, "det_10g.onnx")
	embPath := filepath.Join(cfg.ModelsDir, "w600k_r50.onnx")

	slog.Info("loading detection model", "path", detPath)
	det, err := newRetinaFace(detPath, opts)
	if err != nil {
		return nil, fmt.Errorf("load detector: %w", err)
	}

	slog.Info("loading embedding model", "path", embPath)
	emb, err := newArcFace(embPath, opts)
	if err != nil {
		det.Close()
		return nil, fmt.Errorf("load embedder: %w", err)
	}

	slog.Info("vision models ready")
	return &ONNXBackend{detector: det, embedder: emb}, nil
}

// Detect finds faces scoring at least minConfidence and describes each one.
func (b *ONNXBackend) Detect(ctx context.Context, img image.Image, minConfidence float64) ([]Face, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	bounds := img.Bounds()

	start := time.Now()
	input := preprocessForDetection(img, b.detector.size)
	observability.InferenceDuration.WithLabelValues("preprocess").Observe(time.Since(start).Seconds())

	start = time.Now()
	dets, err := b.detector.detect(input, bounds.Dx(), bounds.Dy(), float32(minConfidence))
	if err != nil {
		return nil, err
	}
	observability.InferenceDuration.WithLabelValues("detect").Observe(time.Since(start).Seconds())

	faces := make([]Face, 0, len(dets))
	for _, d := range dets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		crop := cropFace(img, d.BBox)
		if crop == nil {
			continue
		}

		start = time.Now()
		desc, err := b.embedder.describe(preprocessForEmbedding(crop))
		if err != nil {
			slog.Warn("embed face", "error", err)
			continue
		}
		observability.InferenceDuration.WithLabelValues("embed").Observe(time.Since(start).Seconds())

		faces = append(faces, Face{BBox: d.BBox, Score: d.Score, Descriptor: desc})
	}
	return faces, nil
}

// Distance is the cosine distance between two descriptors, clamped to [0,1].
func (b *ONNXBackend) Distance(a, c []float32) float64 {
	return cosineDistance(a, c)
}

func cosineDistance(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 1
	}
	d := float64(hnsw.CosineDistance(a, b))
	if math.IsNaN(d) {
		return 1
	}
	if d < 0 {
		return 0
	}
	if d > 1 {
		return 1
	}
	return d
}

func (b *ONNXBackend) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.detector != nil {
		b.detector.Close()
	}
	if b.embedder != nil {
		b.embedder.Close()
	}
}
