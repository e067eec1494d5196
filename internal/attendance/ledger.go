package attendance

import (
	"fmt"

	"github.com/your-org/attendance/internal/models"
)

// Ledger is the ordered list of attendance records. Insertion order is
// display order. It is not safe for concurrent use; the Engine guards it.
type Ledger struct {
	records []models.AttendanceRecord
}

func NewLedger() *Ledger {
	return &Ledger{}
}

// Append adds rec and returns its index.
func (l *Ledger) Append(rec models.AttendanceRecord) int {
	l.records = append(l.records, rec)
	return len(l.records) - 1
}

// Update applies fn to the record at index in place.
func (l *Ledger) Update(index int, fn func(*models.AttendanceRecord)) (models.AttendanceRecord, error) {
	if err := l.check(index); err != nil {
		return models.AttendanceRecord{}, err
	}
	fn(&l.records[index])
	return l.records[index], nil
}

// Remove deletes the record at index, shifting later records down.
func (l *Ledger) Remove(index int) (models.AttendanceRecord, error) {
	if err := l.check(index); err != nil {
		return models.AttendanceRecord{}, err
	}
	rec := l.records[index]
	l.records = append(l.records[:index], l.records[index+1:]...)
	return rec, nil
}

// Count returns how many records exist for name on date.
func (l *Ledger) Count(name string, date models.Date) int {
	n := 0
	for _, r := range l.records {
		if r.Name == name && r.Date == date {
			n++
		}
	}
	return n
}

func (l *Ledger) Records() []models.AttendanceRecord {
	out := make([]models.AttendanceRecord, len(l.records))
	copy(out, l.records)
	return out
}

func (l *Ledger) Len() int { return len(l.records) }

func (l *Ledger) Reset() { l.records = nil }

func (l *Ledger) check(index int) error {
	if index < 0 || index >= len(l.records) {
		return fmt.Errorf("%w: index %d of %d", ErrRecordNotFound, index, len(l.records))
	}
	return nil
}
