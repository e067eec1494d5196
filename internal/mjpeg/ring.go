package mjpeg

import "bytes"

var (
	markerSOI = []byte{0xFF, 0xD8}
	markerEOI = []byte{0xFF, 0xD9}
)

// RingBuffer accumulates stream bytes and cuts complete JPEG images out of them.
// It does not bound its own size; callers reset it when a frame grows too large.
type RingBuffer struct {
	buf []byte
}

func NewRingBuffer(capacity int) *RingBuffer {
	return &RingBuffer{buf: make([]byte, 0, capacity)}
}

// Append adds a chunk read from the stream. The chunk is copied.
func (r *RingBuffer) Append(chunk []byte) {
	r.buf = append(r.buf, chunk...)
}

// FindFrame returns the bytes from the first start-of-image marker through the
// first end-of-image marker after it, inclusive. Everything up to and including
// that end marker is discarded. When no complete frame is buffered it returns
// false and keeps any pending start marker for the next Append.
func (r *RingBuffer) FindFrame() ([]byte, bool) {
	start := bytes.Index(r.buf, markerSOI)
	if start < 0 {
		// Keep a trailing 0xFF: it may be the first half of a split marker.
		if n := len(r.buf); n > 0 && r.buf[n-1] == 0xFF {
			r.discard(n - 1)
		} else {
			r.buf = r.buf[:0]
		}
		return nil, false
	}
	if start > 0 {
		r.discard(start)
	}

	end := bytes.Index(r.buf[len(markerSOI):], markerEOI)
	if end < 0 {
		return nil, false
	}
	end += len(markerSOI) + len(markerEOI)

	frame := make([]byte, end)
	copy(frame, r.buf[:end])
	r.discard(end)
	return frame, true
}

// Len reports the number of buffered bytes.
func (r *RingBuffer) Len() int { return len(r.buf) }

// Reset drops all buffered bytes.
func (r *RingBuffer) Reset() { r.buf = r.buf[:0] }

func (r *RingBuffer) discard(n int) {
	m := copy(r.buf, r.buf[n:])
	r.buf = r.buf[:m]
}
