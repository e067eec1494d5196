// Package session wires the stream demuxer, the detection timer, the day
// rollover timer and the event dispatcher into one lifecycle.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/your-org/attendance/internal/attendance"
	"github.com/your-org/attendance/internal/config"
	"github.com/your-org/attendance/internal/mjpeg"
	"github.com/your-org/attendance/internal/models"
	"github.com/your-org/attendance/internal/observability"
	"github.com/your-org/attendance/internal/schedule"
)

// Identities provides the active enrolled set and accepts new enrollments.
type Identities interface {
	Snapshot() []models.EnrolledIdentity
	Enroll(ctx context.Context, name string, jpegData []byte) error
}

// EventSink delivers attendance events outside the process.
type EventSink func(ctx context.Context, ev models.AttendanceEvent) error

type Options struct {
	Stream     config.StreamConfig
	Attendance config.AttendanceConfig
	// EventBuffer bounds the events waiting for delivery; extra events are dropped.
	EventBuffer int
	// DetectionConfidence is the minimum detector score for a face.
	DetectionConfidence float64
	Now                 func() time.Time
}

type Session struct {
	demuxer    *mjpeg.Demuxer
	frames     *mjpeg.LatestFrame
	engine     *attendance.Engine
	identities Identities
	sinks      []EventSink

	detectTimer   *schedule.Timer
	rolloverTimer *schedule.Timer
	events        chan models.AttendanceEvent

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a session that is not yet running.
func New(source mjpeg.Source, evaluator attendance.Evaluator, identities Identities, opts Options, sinks ...EventSink) (*Session, error) {
	loc, err := opts.Attendance.Location()
	if err != nil {
		return nil, err
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 256
	}

	s := &Session{
		frames:     mjpeg.NewLatestFrame(),
		identities: identities,
		sinks:      sinks,
		events:     make(chan models.AttendanceEvent, opts.EventBuffer),
	}

	s.demuxer = mjpeg.NewDemuxer(source, s.frames.Publish, mjpeg.Options{
		ChunkSize:     opts.Stream.ReadChunkSize,
		MaxFrameBytes: opts.Stream.MaxFrameBytes,
		Backoff:       opts.Stream.ReconnectBackoff,
	})

	s.engine = attendance.NewEngine(evaluator, identities, attendance.SettingsFromConfig(opts.Attendance), attendance.Options{
		MinMatchConfidence:  opts.Attendance.MinMatchConfidence,
		DetectionConfidence: opts.DetectionConfidence,
		Location:            loc,
		Now:                 opts.Now,
		Notify:              s.enqueue,
	})

	s.detectTimer = schedule.NewTimer("detection", opts.Attendance.DetectionInterval, s.tick)
	s.rolloverTimer = schedule.NewTimer("rollover", opts.Attendance.RolloverCheckInterval, func(context.Context) {
		s.engine.CheckRollover()
	})
	return s, nil
}

// Start runs the demuxer, both timers and the event dispatcher until Close.
func (s *Session) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.demuxer.Run(ctx)
	}()
	go func() {
		defer s.wg.Done()
		s.dispatch(ctx)
	}()

	s.detectTimer.Start(ctx)
	s.rolloverTimer.Start(ctx)
	slog.Info("session started")
}

// Close stops every goroutine and releases the stream connection.
func (s *Session) Close() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}

	cancel()
	s.detectTimer.Stop()
	s.rolloverTimer.Stop()
	s.wg.Wait()
	slog.Info("session stopped")
}

// tick runs one detection cycle when detection is enabled, the stream is
// ready and someone is enrolled. It always uses the newest frame.
func (s *Session) tick(ctx context.Context) {
	if !s.engine.Settings().AutoDetection || !s.demuxer.Ready() {
		observability.DetectionTicks.WithLabelValues("skipped").Inc()
		return
	}
	ids := s.identities.Snapshot()
	if len(ids) == 0 {
		observability.DetectionTicks.WithLabelValues("skipped").Inc()
		return
	}
	frame, ok := s.frames.Latest()
	if !ok {
		return
	}

	if _, err := s.engine.Tick(ctx, frame, ids); err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Warn("detection tick failed", "error", err, "frame", frame.Seq)
	}
}

// Enroll registers the current frame under name.
func (s *Session) Enroll(ctx context.Context, name string) (models.AttendanceRecord, error) {
	var frame *models.Frame
	if f, ok := s.frames.Latest(); ok && s.demuxer.Ready() {
		frame = &f
	}
	return s.engine.Enroll(ctx, name, frame)
}

func (s *Session) enqueue(ev models.AttendanceEvent) {
	select {
	case s.events <- ev:
	default:
		observability.EventsDropped.Inc()
		slog.Warn("event queue full, dropping event", "type", ev.Type)
	}
}

func (s *Session) dispatch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.drain()
			return
		case ev := <-s.events:
			s.deliver(ctx, ev)
		}
	}
}

// drain delivers whatever is already queued with a short deadline.
func (s *Session) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		select {
		case ev := <-s.events:
			s.deliver(ctx, ev)
		default:
			return
		}
	}
}

func (s *Session) deliver(ctx context.Context, ev models.AttendanceEvent) {
	for _, sink := range s.sinks {
		if err := sink(ctx, ev); err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("deliver event", "type", ev.Type, "error", err)
		}
	}
}

func (s *Session) Engine() *attendance.Engine { return s.engine }

func (s *Session) Frames() *mjpeg.LatestFrame { return s.frames }

func (s *Session) StreamStatus() mjpeg.Status { return s.demuxer.Status() }

func (s *Session) StreamReady() bool { return s.demuxer.Ready() }
