package mjpeg

import (
	"context"
	"sync"
	"time"

	"github.com/your-org/attendance/internal/models"
)

// LatestFrame is a single-slot mailbox: each Publish overwrites the previous
// frame, so readers always see the most recent image and never a backlog.
type LatestFrame struct {
	mu      sync.Mutex
	frame   models.Frame
	seq     uint64
	changed chan struct{}
	now     func() time.Time
}

func NewLatestFrame() *LatestFrame {
	return &LatestFrame{changed: make(chan struct{}), now: time.Now}
}

// Publish stores data as the newest frame and wakes waiting readers.
func (l *LatestFrame) Publish(data []byte) {
	l.mu.Lock()
	l.seq++
	l.frame = models.Frame{Data: data, Seq: l.seq, Timestamp: l.now()}
	close(l.changed)
	l.changed = make(chan struct{})
	l.mu.Unlock()
}

// Latest returns the newest frame, or false if none was published yet.
func (l *LatestFrame) Latest() (models.Frame, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.frame, l.seq > 0
}

// Next blocks until a frame newer than afterSeq is available.
func (l *LatestFrame) Next(ctx context.Context, afterSeq uint64) (models.Frame, error) {
	for {
		l.mu.Lock()
		if l.seq > afterSeq {
			f := l.frame
			l.mu.Unlock()
			return f, nil
		}
		ch := l.changed
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return models.Frame{}, ctx.Err()
		case <-ch:
		}
	}
}
