// Package identity keeps the set of enrolled people. Enrollment images live in
// an object store; descriptors are recomputed from them on every refresh and
// published as an immutable snapshot.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/your-org/attendance/internal/models"
	"github.com/your-org/attendance/internal/observability"
	"github.com/your-org/attendance/internal/vision"
)

var (
	ErrInvalidName = errors.New("invalid identity name")
	ErrNotFound    = errors.New("identity not found")
)

var imageExts = []string{".jpg", ".jpeg", ".png"}

// Store is the object storage holding enrollment images.
type Store interface {
	ListObjects(ctx context.Context, prefix string) ([]string, error)
	GetObject(ctx context.Context, key string) ([]byte, error)
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
	DeleteObject(ctx context.Context, key string) error
}

type Registry struct {
	store         Store
	detector      vision.Detector
	prefix        string
	minConfidence float64

	refreshMu sync.Mutex
	current   atomic.Pointer[[]models.EnrolledIdentity]
}

func NewRegistry(store Store, detector vision.Detector, prefix string, minConfidence float64) *Registry {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	r := &Registry{store: store, detector: detector, prefix: prefix, minConfidence: minConfidence}
	empty := []models.EnrolledIdentity{}
	r.current.Store(&empty)
	return r
}

// Snapshot returns the active identity set. The slice must not be modified.
func (r *Registry) Snapshot() []models.EnrolledIdentity {
	return *r.current.Load()
}

func (r *Registry) Len() int { return len(r.Snapshot()) }

// Refresh rebuilds the identity set from the store and swaps it in whole.
// Images without a detectable face are skipped. On error the previous set
// stays active.
func (r *Registry) Refresh(ctx context.Context) error {
	r.refreshMu.Lock()
	defer r.refreshMu.Unlock()

	keys, err := r.store.ListObjects(ctx, r.prefix)
	if err != nil {
		return fmt.Errorf("list enrollment images: %w", err)
	}
	sort.Strings(keys)

	seen := make(map[string]bool)
	next := make([]models.EnrolledIdentity, 0, len(keys))
	for _, key := range keys {
		label, ok := labelFromKey(key)
		if !ok {
			continue
		}
		if seen[label] {
			slog.Warn("duplicate enrollment image ignored", "label", label, "key", key)
			continue
		}

		data, err := r.store.GetObject(ctx, key)
		if err != nil {
			return fmt.Errorf("fetch enrollment image: %w", err)
		}
		desc, err := vision.Describe(ctx, r.detector, data, r.minConfidence)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Warn("skipping enrollment image", "key", key, "error", err)
			continue
		}

		seen[label] = true
		next = append(next, models.EnrolledIdentity{Label: label, Descriptor: desc, SourceKey: key})
	}

	r.current.Store(&next)
	observability.EnrolledIdentities.Set(float64(len(next)))
	slog.Info("identities refreshed", "count", len(next))
	return nil
}

// Enroll stores a JPEG for name, replacing any earlier image, and refreshes.
// The image must contain a face; otherwise nothing is stored. Once the image
// is stored the enrollment has succeeded; a failed refresh is logged and the
// identity becomes active on the next successful refresh.
func (r *Registry) Enroll(ctx context.Context, name string, jpegData []byte) error {
	label, err := normalizeName(name)
	if err != nil {
		return err
	}
	if _, err := vision.Describe(ctx, r.detector, jpegData, r.minConfidence); err != nil {
		return err
	}

	for _, ext := range imageExts[1:] {
		if err := r.store.DeleteObject(ctx, r.prefix+label+ext); err != nil {
			return fmt.Errorf("remove previous image: %w", err)
		}
	}
	if err := r.store.PutObject(ctx, r.prefix+label+".jpg", jpegData, "image/jpeg"); err != nil {
		return fmt.Errorf("store enrollment image: %w", err)
	}
	if err := r.Refresh(ctx); err != nil {
		slog.Warn("refresh after enrollment failed", "label", label, "error", err)
	}
	return nil
}

// Remove deletes every image stored for label and refreshes.
func (r *Registry) Remove(ctx context.Context, label string) error {
	found := false
	for _, id := range r.Snapshot() {
		if id.Label == label {
			found = true
			if err := r.store.DeleteObject(ctx, id.SourceKey); err != nil {
				return err
			}
		}
	}
	if !found {
		return ErrNotFound
	}
	return r.Refresh(ctx)
}

func labelFromKey(key string) (string, bool) {
	base := path.Base(key)
	ext := strings.ToLower(path.Ext(base))
	for _, e := range imageExts {
		if ext == e {
			label := strings.TrimSuffix(base, path.Ext(base))
			return label, label != ""
		}
	}
	return "", false
}

func normalizeName(name string) (string, error) {
	label := strings.TrimSpace(name)
	if label == "" || label == models.UnknownLabel || strings.ContainsAny(label, `/\`) || label == "." || label == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return label, nil
}
