// Package attendance turns face matches into a per-person, per-day attendance
// ledger and exposes the operator's manual edits on that ledger.
package attendance

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/your-org/attendance/internal/models"
	"github.com/your-org/attendance/internal/observability"
)

// Evaluator finds and labels faces in a frame.
type Evaluator interface {
	Evaluate(ctx context.Context, frame models.Frame, identities []models.EnrolledIdentity, minConfidence float64) ([]models.FaceMatch, error)
}

// Enroller stores a new enrollment image for name.
type Enroller interface {
	Enroll(ctx context.Context, name string, jpegData []byte) error
}

// Notifier receives every ledger mutation. It is called with the engine lock
// held and must not block.
type Notifier func(models.AttendanceEvent)

type Options struct {
	// MinMatchConfidence is the percentage a match must exceed to count.
	MinMatchConfidence int
	// DetectionConfidence is passed through to the detector.
	DetectionConfidence float64
	Location            *time.Location
	Now                 func() time.Time
	Notify              Notifier
}

// Engine owns the ledger and the dedup markers. Automatic inserts and manual
// edits are serialized by one mutex; detection runs outside it.
type Engine struct {
	evaluator Evaluator
	enroller  Enroller
	opts      Options

	settingsMu sync.RWMutex
	settings   Settings

	mu      sync.Mutex
	ledger  *Ledger
	markers map[models.PersonKey]models.DedupMarker
	lastDay models.Date

	latestMu sync.Mutex
	latest   []models.FaceMatch
}

func NewEngine(evaluator Evaluator, enroller Enroller, settings Settings, opts Options) *Engine {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MinMatchConfidence == 0 {
		opts.MinMatchConfidence = 50
	}
	if opts.DetectionConfidence == 0 {
		opts.DetectionConfidence = 0.5
	}
	e := &Engine{
		evaluator: evaluator,
		enroller:  enroller,
		opts:      opts,
		settings:  settings,
		ledger:    NewLedger(),
		markers:   make(map[models.PersonKey]models.DedupMarker),
	}
	e.lastDay = models.DateOf(e.now())
	return e
}

func (e *Engine) now() time.Time {
	return e.opts.Now().In(e.opts.Location)
}

// Tick evaluates one frame and records every newly seen person. It returns
// the records it created. Detection errors leave the ledger untouched.
func (e *Engine) Tick(ctx context.Context, frame models.Frame, identities []models.EnrolledIdentity) ([]models.AttendanceRecord, error) {
	matches, err := e.evaluator.Evaluate(ctx, frame, identities, e.opts.DetectionConfidence)
	if err != nil {
		observability.DetectionTicks.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("evaluate frame %d: %w", frame.Seq, err)
	}
	observability.DetectionTicks.WithLabelValues("ok").Inc()

	e.latestMu.Lock()
	e.latest = matches
	e.latestMu.Unlock()

	now := e.now()
	settings := e.Settings()
	date := settings.dateFor(now)

	e.mu.Lock()
	defer e.mu.Unlock()

	var created []models.AttendanceRecord
	for _, m := range matches {
		conf := m.Result.Confidence()
		if m.Result.Label == models.UnknownLabel || conf <= e.opts.MinMatchConfidence {
			continue
		}
		key := models.PersonKey{Label: m.Result.Label, Date: date}
		if _, seen := e.markers[key]; seen {
			continue
		}

		rec := models.AttendanceRecord{
			Name:       m.Result.Label,
			Date:       date,
			Time:       now.Format(models.TimeLayout),
			Confidence: models.PercentConfidence(conf),
			Status:     settings.classifyTime(now),
		}
		e.markers[key] = models.DedupMarker{FirstSeenAt: now, Confidence: conf}
		idx := e.ledger.Append(rec)
		created = append(created, rec)

		observability.RecordsCreated.WithLabelValues("automatic").Inc()
		slog.Info("attendance recorded", "name", rec.Name, "date", rec.Date, "status", rec.Status, "confidence", conf)
		e.emit(models.EventRecordAdded, idx, &rec, true, now)
	}
	observability.ActiveMarkers.Set(float64(len(e.markers)))
	return created, nil
}

// CheckRollover clears all dedup markers once the local calendar day has
// changed since the last check. Records are kept. It reports whether a reset
// happened.
func (e *Engine) CheckRollover() bool {
	now := e.now()
	today := models.DateOf(now)

	e.mu.Lock()
	defer e.mu.Unlock()
	if today == e.lastDay {
		return false
	}
	e.lastDay = today
	cleared := len(e.markers)
	e.markers = make(map[models.PersonKey]models.DedupMarker)
	observability.ActiveMarkers.Set(0)
	slog.Info("day rollover, dedup markers cleared", "date", today, "cleared", cleared)
	e.emit(models.EventMarkersReset, -1, nil, true, now)
	return true
}

// Enroll registers frame as name's enrollment image and records a manual
// attendance entry at capture time.
func (e *Engine) Enroll(ctx context.Context, name string, frame *models.Frame) (models.AttendanceRecord, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.AttendanceRecord{}, ErrEmptyName
	}
	if frame == nil || len(frame.Data) == 0 {
		return models.AttendanceRecord{}, ErrStreamNotReady
	}
	if err := e.enroller.Enroll(ctx, name, frame.Data); err != nil {
		return models.AttendanceRecord{}, fmt.Errorf("enroll %s: %w", name, err)
	}

	now := e.now()
	settings := e.Settings()
	rec := models.AttendanceRecord{
		Name:       name,
		Date:       settings.dateFor(now),
		Time:       now.Format(models.TimeLayout),
		Confidence: models.ManualConfidence(),
		Status:     settings.classifyTime(now),
	}

	e.mu.Lock()
	idx := e.ledger.Append(rec)
	e.emit(models.EventRecordAdded, idx, &rec, false, now)
	e.mu.Unlock()

	observability.RecordsCreated.WithLabelValues("enroll").Inc()
	slog.Info("identity enrolled", "name", name)
	return rec, nil
}

// AddManualRecord appends an operator-entered record and returns it with its
// ledger index. Punctuality is judged from the supplied time.
func (e *Engine) AddManualRecord(name, date, clock string) (models.AttendanceRecord, int, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.TrimSpace(date) == "" || strings.TrimSpace(clock) == "" {
		return models.AttendanceRecord{}, -1, fmt.Errorf("%w: name, date and time are required", ErrValidation)
	}
	d, err := models.ParseDate(date)
	if err != nil {
		return models.AttendanceRecord{}, -1, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	t, err := parseClock(clock)
	if err != nil {
		return models.AttendanceRecord{}, -1, err
	}

	rec := models.AttendanceRecord{
		Name:       name,
		Date:       d,
		Time:       t.Format(models.TimeLayout),
		Confidence: models.ManualConfidence(),
		Status:     e.Settings().classifyTime(t),
	}

	e.mu.Lock()
	idx := e.ledger.Append(rec)
	e.emit(models.EventRecordAdded, idx, &rec, false, e.now())
	e.mu.Unlock()

	observability.RecordsCreated.WithLabelValues("manual").Inc()
	return rec, idx, nil
}

// RecordPatch holds the fields to overwrite; nil fields are left alone.
type RecordPatch struct {
	Name       *string
	Date       *string
	Time       *string
	Confidence *models.Confidence
	Status     *models.AttendanceStatus
}

// EditRecord overwrites fields of the record at index. Status is not
// recomputed from a changed time. Moving the last record of a name and date
// elsewhere drops that key's dedup marker.
func (e *Engine) EditRecord(index int, patch RecordPatch) (models.AttendanceRecord, error) {
	var date models.Date
	if patch.Date != nil {
		d, err := models.ParseDate(*patch.Date)
		if err != nil {
			return models.AttendanceRecord{}, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		date = d
	}
	var clock string
	if patch.Time != nil {
		t, err := parseClock(*patch.Time)
		if err != nil {
			return models.AttendanceRecord{}, err
		}
		clock = t.Format(models.TimeLayout)
	}
	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		return models.AttendanceRecord{}, fmt.Errorf("%w: name must not be empty", ErrValidation)
	}
	if patch.Status != nil && *patch.Status != models.StatusOnTime && *patch.Status != models.StatusLate {
		return models.AttendanceRecord{}, fmt.Errorf("%w: status %q", ErrValidation, *patch.Status)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	var old models.PersonKey
	rec, err := e.ledger.Update(index, func(r *models.AttendanceRecord) {
		old = models.PersonKey{Label: r.Name, Date: r.Date}
		if patch.Name != nil {
			r.Name = strings.TrimSpace(*patch.Name)
		}
		if patch.Date != nil {
			r.Date = date
		}
		if patch.Time != nil {
			r.Time = clock
		}
		if patch.Confidence != nil {
			r.Confidence = *patch.Confidence
		}
		if patch.Status != nil {
			r.Status = *patch.Status
		}
	})
	if err != nil {
		return models.AttendanceRecord{}, err
	}
	if old != (models.PersonKey{Label: rec.Name, Date: rec.Date}) {
		e.releaseMarker(old)
	}
	e.emit(models.EventRecordUpdated, index, &rec, false, e.now())
	return rec, nil
}

// DeleteRecord removes the record at index. When no record for the same name
// and date remains, the dedup marker is dropped so the person can be
// recorded again that day.
func (e *Engine) DeleteRecord(index int) (models.AttendanceRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, err := e.ledger.Remove(index)
	if err != nil {
		return models.AttendanceRecord{}, err
	}
	e.releaseMarker(models.PersonKey{Label: rec.Name, Date: rec.Date})
	e.emit(models.EventRecordDeleted, index, &rec, false, e.now())
	return rec, nil
}

// releaseMarker drops key's marker when no record for it remains. Callers
// hold e.mu.
func (e *Engine) releaseMarker(key models.PersonKey) {
	if e.ledger.Count(key.Label, key.Date) > 0 {
		return
	}
	if _, ok := e.markers[key]; !ok {
		return
	}
	delete(e.markers, key)
	observability.ActiveMarkers.Set(float64(len(e.markers)))
}

// Clear empties the ledger and all dedup markers.
func (e *Engine) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ledger.Reset()
	e.markers = make(map[models.PersonKey]models.DedupMarker)
	observability.ActiveMarkers.Set(0)
	e.emit(models.EventLedgerCleared, -1, nil, false, e.now())
}

func (e *Engine) Records() []models.AttendanceRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.Records()
}

// AttendeeCount is the number of people recorded automatically since the
// last reset.
func (e *Engine) AttendeeCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.markers)
}

func (e *Engine) HasMarker(key models.PersonKey) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.markers[key]
	return ok
}

// LatestMatches returns the faces found by the most recent successful tick.
func (e *Engine) LatestMatches() []models.FaceMatch {
	e.latestMu.Lock()
	defer e.latestMu.Unlock()
	out := make([]models.FaceMatch, len(e.latest))
	copy(out, e.latest)
	return out
}

func (e *Engine) Settings() Settings {
	e.settingsMu.RLock()
	defer e.settingsMu.RUnlock()
	return e.settings
}

func (e *Engine) UpdateSettings(s Settings) error {
	if s.DateOverride == "" {
		s.DateOverride = UseCurrentDate
	}
	if err := s.Validate(); err != nil {
		return err
	}
	s.StartTime.AmPm = strings.ToUpper(s.StartTime.AmPm)
	s.EndTime.AmPm = strings.ToUpper(s.EndTime.AmPm)

	e.settingsMu.Lock()
	e.settings = s
	e.settingsMu.Unlock()
	slog.Info("settings updated", "auto_detection", s.AutoDetection, "date_override", s.DateOverride)
	return nil
}

func (e *Engine) emit(typ models.EventType, index int, rec *models.AttendanceRecord, automatic bool, at time.Time) {
	if e.opts.Notify == nil {
		return
	}
	var copyRec *models.AttendanceRecord
	if rec != nil {
		r := *rec
		copyRec = &r
	}
	e.opts.Notify(models.NewAttendanceEvent(typ, index, copyRec, automatic, at))
}
