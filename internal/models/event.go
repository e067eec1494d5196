package models

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventRecordAdded   EventType = "record_added"
	EventRecordUpdated EventType = "record_updated"
	EventRecordDeleted EventType = "record_deleted"
	EventLedgerCleared EventType = "ledger_cleared"
	EventMarkersReset  EventType = "markers_reset"
)

// AttendanceEvent describes one ledger mutation. It is broadcast to dashboards
// and published to the event bus for archiving.
type AttendanceEvent struct {
	ID        uuid.UUID         `json:"id"`
	Type      EventType         `json:"type"`
	Index     int               `json:"index"`
	Record    *AttendanceRecord `json:"record,omitempty"`
	Automatic bool              `json:"automatic"`
	Timestamp time.Time         `json:"timestamp"`
}

// NewAttendanceEvent stamps an event with a fresh ID.
func NewAttendanceEvent(typ EventType, index int, rec *AttendanceRecord, automatic bool, at time.Time) AttendanceEvent {
	return AttendanceEvent{
		ID:        uuid.New(),
		Type:      typ,
		Index:     index,
		Record:    rec,
		Automatic: automatic,
		Timestamp: at,
	}
}
