package identity

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"sort"
	"sync"
	"testing"

	"github.com/your-org/attendance/internal/vision"
)

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	listErr error
}

func newMemStore() *memStore { return &memStore{objects: make(map[string][]byte)} }

func (s *memStore) ListObjects(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var keys []string
	for k := range s.objects {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *memStore) GetObject(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.objects[key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return d, nil
}

func (s *memStore) PutObject(_ context.Context, key string, data []byte, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	return nil
}

func (s *memStore) DeleteObject(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

// shadeDetector reports one face per image whose descriptor is the image's
// brightness; black images contain no face.
type shadeDetector struct{}

func (shadeDetector) Detect(_ context.Context, img image.Image, _ float64) ([]vision.Face, error) {
	g := color.GrayModel.Convert(img.At(0, 0)).(color.Gray)
	if g.Y < 10 {
		return nil, nil
	}
	return []vision.Face{{Score: 0.9, Descriptor: []float32{float32(g.Y) / 255}}}, nil
}

func (shadeDetector) Distance(a, b []float32) float64 {
	d := float64(a[0] - b[0])
	if d < 0 {
		d = -d
	}
	return d
}

func grayJPEG(t *testing.T, shade uint8) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 8, 8))
	for i := range img.Pix {
		img.Pix[i] = shade
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 100}); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func labels(r *Registry) []string {
	var out []string
	for _, id := range r.Snapshot() {
		out = append(out, id.Label)
	}
	return out
}

func TestRefresh(t *testing.T) {
	store := newMemStore()
	store.objects["faces/alice.png"] = grayJPEG(t, 100) // content sniffed, not trusted by extension
	store.objects["faces/bob.jpg"] = grayJPEG(t, 200)
	store.objects["faces/nobody.jpg"] = grayJPEG(t, 0)
	store.objects["faces/notes.txt"] = []byte("hello")
	store.objects["other/carol.jpg"] = grayJPEG(t, 150)

	r := NewRegistry(store, shadeDetector{}, "faces", 0.5)
	if r.Len() != 0 {
		t.Fatalf("Len() = %d before refresh, want 0", r.Len())
	}

	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	got := labels(r)
	if len(got) != 2 || got[0] != "alice" || got[1] != "bob" {
		t.Errorf("labels = %v, want [alice bob]", got)
	}
	for _, id := range r.Snapshot() {
		if len(id.Descriptor) != 1 {
			t.Errorf("%s descriptor = %v", id.Label, id.Descriptor)
		}
	}
}

func TestRefreshFailureKeepsSnapshot(t *testing.T) {
	store := newMemStore()
	store.objects["faces/alice.jpg"] = grayJPEG(t, 100)
	r := NewRegistry(store, shadeDetector{}, "faces/", 0.5)
	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	before := r.Snapshot()
	store.listErr = errors.New("bucket offline")
	if err := r.Refresh(context.Background()); err == nil {
		t.Fatal("Refresh() error = nil, want list failure")
	}
	after := r.Snapshot()
	if len(after) != 1 || &after[0] != &before[0] {
		t.Error("snapshot changed after failed refresh")
	}
}

func TestEnroll(t *testing.T) {
	store := newMemStore()
	store.objects["faces/alice.png"] = grayJPEG(t, 60)
	r := NewRegistry(store, shadeDetector{}, "faces/", 0.5)

	if err := r.Enroll(context.Background(), "  alice ", grayJPEG(t, 220)); err != nil {
		t.Fatalf("Enroll() error = %v", err)
	}
	if _, ok := store.objects["faces/alice.png"]; ok {
		t.Error("previous png was not replaced")
	}
	if _, ok := store.objects["faces/alice.jpg"]; !ok {
		t.Fatal("faces/alice.jpg not stored")
	}

	snap := r.Snapshot()
	if len(snap) != 1 || snap[0].Label != "alice" {
		t.Fatalf("snapshot = %+v, want alice", snap)
	}
	if snap[0].Descriptor[0] < 0.8 {
		t.Errorf("descriptor = %v, want the new image's", snap[0].Descriptor)
	}
}

func TestEnrollStoredDespiteRefreshFailure(t *testing.T) {
	store := newMemStore()
	r := NewRegistry(store, shadeDetector{}, "faces/", 0.5)
	store.listErr = errors.New("bucket offline")

	if err := r.Enroll(context.Background(), "bob", grayJPEG(t, 200)); err != nil {
		t.Fatalf("Enroll() error = %v, want success once the image is stored", err)
	}
	if _, ok := store.objects["faces/bob.jpg"]; !ok {
		t.Fatal("faces/bob.jpg not stored")
	}
	if r.Len() != 0 {
		t.Fatalf("snapshot = %v, want unchanged until a refresh succeeds", labels(r))
	}

	store.listErr = nil
	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if got := labels(r); len(got) != 1 || got[0] != "bob" {
		t.Errorf("labels = %v, want [bob]", got)
	}
}

func TestEnrollRejects(t *testing.T) {
	tests := []struct {
		name    string
		label   string
		image   []byte
		wantErr error
	}{
		{name: "empty name", label: "  ", wantErr: ErrInvalidName},
		{name: "path in name", label: "../x", wantErr: ErrInvalidName},
		{name: "reserved label", label: "unknown", wantErr: ErrInvalidName},
		{name: "no face", label: "dave", wantErr: vision.ErrNoFace},
		{name: "not an image", label: "erin", image: []byte("nope"), wantErr: vision.ErrDecode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			r := NewRegistry(store, shadeDetector{}, "faces/", 0.5)
			img := tt.image
			if img == nil {
				img = grayJPEG(t, 0)
			}

			err := r.Enroll(context.Background(), tt.label, img)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Enroll() error = %v, want %v", err, tt.wantErr)
			}
			if len(store.objects) != 0 {
				t.Errorf("store has %d objects, want none", len(store.objects))
			}
		})
	}
}

func TestRemove(t *testing.T) {
	store := newMemStore()
	store.objects["faces/alice.jpg"] = grayJPEG(t, 100)
	store.objects["faces/bob.jpg"] = grayJPEG(t, 200)
	r := NewRegistry(store, shadeDetector{}, "faces/", 0.5)
	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	if err := r.Remove(context.Background(), "alice"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if got := labels(r); len(got) != 1 || got[0] != "bob" {
		t.Errorf("labels = %v, want [bob]", got)
	}
	if err := r.Remove(context.Background(), "alice"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Remove() error = %v, want ErrNotFound", err)
	}
}
