package mjpeg

import (
	"bytes"
	"context"
	"errors"
	"image/jpeg"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/your-org/attendance/internal/observability"
)

type State int32

const (
	StateStopped State = iota
	StateConnecting
	StateStreaming
	StateFailed
)

var allStates = []State{StateStopped, StateConnecting, StateStreaming, StateFailed}

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateFailed:
		return "failed"
	default:
		return "stopped"
	}
}

// FrameHandler receives each complete frame in arrival order. The slice is
// owned by the handler.
type FrameHandler func(frame []byte)

type Options struct {
	ChunkSize     int
	MaxFrameBytes int
	Backoff       time.Duration
}

// Status is a point-in-time view of the demuxer.
type Status struct {
	State      string `json:"state"`
	Ready      bool   `json:"ready"`
	Frames     uint64 `json:"frames"`
	Reconnects uint64 `json:"reconnects"`
	LastError  string `json:"last_error,omitempty"`
}

// Demuxer pumps a Source and cuts it into frames, reconnecting after a fixed
// backoff whenever the connection fails.
type Demuxer struct {
	source  Source
	handler FrameHandler
	opts    Options

	state      atomic.Int32
	ready      atomic.Bool
	frames     atomic.Uint64
	reconnects atomic.Uint64

	mu      sync.Mutex
	lastErr error
}

func NewDemuxer(source Source, handler FrameHandler, opts Options) *Demuxer {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 32 * 1024
	}
	if opts.MaxFrameBytes <= 0 {
		opts.MaxFrameBytes = 10 * 1024 * 1024
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 5 * time.Second
	}
	return &Demuxer{source: source, handler: handler, opts: opts}
}

// Run blocks until ctx is cancelled. Stream failures never end it.
func (d *Demuxer) Run(ctx context.Context) {
	defer func() {
		d.ready.Store(false)
		d.setState(StateStopped)
	}()

	for {
		err := d.stream(ctx)
		if ctx.Err() != nil {
			return
		}

		d.setState(StateFailed)
		d.reconnects.Add(1)
		observability.StreamReconnects.Inc()
		d.mu.Lock()
		d.lastErr = err
		d.mu.Unlock()
		slog.Warn("stream failed, reconnecting", "source", d.source.String(), "error", err, "backoff", d.opts.Backoff)

		timer := time.NewTimer(d.opts.Backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (d *Demuxer) stream(ctx context.Context) error {
	d.setState(StateConnecting)
	body, err := d.source.Open(ctx)
	if err != nil {
		return err
	}
	defer body.Close()

	// Unblock a pending Read as soon as the session is torn down.
	stop := context.AfterFunc(ctx, func() { body.Close() })
	defer stop()

	d.setState(StateStreaming)
	slog.Info("stream connected", "source", d.source.String())

	ring := NewRingBuffer(d.opts.ChunkSize * 4)
	chunk := make([]byte, d.opts.ChunkSize)
	for {
		n, err := body.Read(chunk)
		if n > 0 {
			ring.Append(chunk[:n])
			d.drain(ring)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return &StreamError{Op: "read", URL: d.source.String(), Err: err}
		}
	}
}

func (d *Demuxer) drain(ring *RingBuffer) {
	for {
		frame, ok := ring.FindFrame()
		if !ok {
			break
		}
		d.emit(frame)
	}
	if ring.Len() > d.opts.MaxFrameBytes {
		slog.Warn("discarding oversized partial frame", "bytes", ring.Len(), "limit", d.opts.MaxFrameBytes)
		observability.FramesDiscarded.Inc()
		ring.Reset()
	}
}

func (d *Demuxer) emit(frame []byte) {
	d.frames.Add(1)
	observability.FramesDemuxed.Inc()

	if !d.ready.Load() {
		if _, err := jpeg.DecodeConfig(bytes.NewReader(frame)); err == nil {
			d.ready.Store(true)
			slog.Info("stream ready", "source", d.source.String())
		}
	}
	if d.handler != nil {
		d.handler(frame)
	}
}

func (d *Demuxer) setState(s State) {
	d.state.Store(int32(s))
	for _, st := range allStates {
		v := 0.0
		if st == s {
			v = 1
		}
		observability.StreamState.WithLabelValues(st.String()).Set(v)
	}
}

func (d *Demuxer) State() State { return State(d.state.Load()) }

// Ready reports whether a frame has decoded since Run started.
func (d *Demuxer) Ready() bool { return d.ready.Load() }

func (d *Demuxer) Status() Status {
	st := Status{
		State:      d.State().String(),
		Ready:      d.Ready(),
		Frames:     d.frames.Load(),
		Reconnects: d.reconnects.Load(),
	}
	d.mu.Lock()
	if d.lastErr != nil {
		st.LastError = d.lastErr.Error()
	}
	d.mu.Unlock()
	return st
}
