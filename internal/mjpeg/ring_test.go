package mjpeg

import (
	"bytes"
	"testing"
)

// fakeJPEG builds a marker-delimited payload; the body never contains FF D9.
func fakeJPEG(id byte, size int) []byte {
	b := []byte{0xFF, 0xD8}
	for i := 0; i < size; i++ {
		b = append(b, id, 0xFF, 0x00)
	}
	return append(b, 0xFF, 0xD9)
}

func feed(r *RingBuffer, data []byte, chunk int) [][]byte {
	var out [][]byte
	for i := 0; i < len(data); i += chunk {
		end := i + chunk
		if end > len(data) {
			end = len(data)
		}
		r.Append(data[i:end])
		for {
			f, ok := r.FindFrame()
			if !ok {
				break
			}
			out = append(out, f)
		}
	}
	return out
}

func TestRingBufferChunking(t *testing.T) {
	frames := [][]byte{fakeJPEG(1, 10), fakeJPEG(2, 1), fakeJPEG(3, 50), fakeJPEG(4, 7)}
	var stream []byte
	stream = append(stream, 0x00, 0x12, 0xFF) // garbage before the first frame
	for i, f := range frames {
		stream = append(stream, f...)
		if i%2 == 0 {
			stream = append(stream, []byte("\r\n--frame\r\nContent-Type: image/jpeg\r\n\r\n")...)
		}
	}

	for _, chunk := range []int{1, 2, 3, 5, 7, 64, len(stream)} {
		got := feed(NewRingBuffer(16), stream, chunk)
		if len(got) != len(frames) {
			t.Fatalf("chunk=%d: got %d frames, want %d", chunk, len(got), len(frames))
		}
		for i := range frames {
			if !bytes.Equal(got[i], frames[i]) {
				t.Errorf("chunk=%d: frame %d = %x, want %x", chunk, i, got[i], frames[i])
			}
		}
	}
}

func TestRingBufferPendingStart(t *testing.T) {
	frame := fakeJPEG(9, 20)
	split := len(frame) / 2

	r := NewRingBuffer(0)
	r.Append(frame[:split])
	if _, ok := r.FindFrame(); ok {
		t.Fatal("FindFrame() returned a frame before the end marker arrived")
	}

	r.Append(frame[split:])
	got, ok := r.FindFrame()
	if !ok {
		t.Fatal("FindFrame() = false after end marker arrived")
	}
	if !bytes.Equal(got, frame) {
		t.Errorf("frame = %x, want %x", got, frame)
	}
	if _, ok := r.FindFrame(); ok {
		t.Error("second FindFrame() returned a frame")
	}
}

func TestRingBufferSplitMarkers(t *testing.T) {
	tests := []struct {
		name   string
		chunks [][]byte
		want   []byte
	}{
		{
			name:   "start marker split",
			chunks: [][]byte{{0x01, 0xFF}, {0xD8, 0x10, 0xFF, 0xD9}},
			want:   []byte{0xFF, 0xD8, 0x10, 0xFF, 0xD9},
		},
		{
			name:   "end marker split",
			chunks: [][]byte{{0xFF, 0xD8, 0x10, 0xFF}, {0xD9, 0x00}},
			want:   []byte{0xFF, 0xD8, 0x10, 0xFF, 0xD9},
		},
		{
			name:   "end marker before start is ignored",
			chunks: [][]byte{{0xFF, 0xD9, 0x00, 0xFF, 0xD8, 0x20}, {0xFF, 0xD9}},
			want:   []byte{0xFF, 0xD8, 0x20, 0xFF, 0xD9},
		},
		{
			name:   "empty image",
			chunks: [][]byte{{0xFF, 0xD8, 0xFF, 0xD9}},
			want:   []byte{0xFF, 0xD8, 0xFF, 0xD9},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRingBuffer(0)
			var got []byte
			for _, c := range tt.chunks {
				r.Append(c)
				if f, ok := r.FindFrame(); ok {
					if got != nil {
						t.Fatalf("more than one frame emitted")
					}
					got = f
				}
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("frame = %x, want %x", got, tt.want)
			}
		})
	}
}

func TestRingBufferFrameIsCopied(t *testing.T) {
	r := NewRingBuffer(0)
	r.Append(fakeJPEG(1, 3))
	first, _ := r.FindFrame()
	snapshot := append([]byte(nil), first...)

	r.Append(fakeJPEG(2, 3))
	if _, ok := r.FindFrame(); !ok {
		t.Fatal("second frame not found")
	}
	if !bytes.Equal(first, snapshot) {
		t.Error("emitted frame was modified by later appends")
	}
}

func TestRingBufferDropsGarbage(t *testing.T) {
	r := NewRingBuffer(0)
	r.Append(bytes.Repeat([]byte{0x42}, 100))
	if _, ok := r.FindFrame(); ok {
		t.Fatal("frame found in garbage")
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0 after garbage", r.Len())
	}
}
