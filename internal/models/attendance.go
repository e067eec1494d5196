package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the canonical calendar date format used for records, dedup keys
// and the date override.
const DateLayout = "2006-01-02"

// TimeLayout is the time-of-day format stored on records.
const TimeLayout = "15:04:05"

type AttendanceStatus string

const (
	StatusOnTime AttendanceStatus = "On Time"
	StatusLate   AttendanceStatus = "Late"
)

// Date is a local calendar day in DateLayout form.
type Date string

// DateOf returns the calendar day of t in t's location.
func DateOf(t time.Time) Date {
	return Date(t.Format(DateLayout))
}

// ParseDate accepts YYYY-MM-DD and normalizes it.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return "", fmt.Errorf("parse date %q: %w", s, err)
	}
	return DateOf(t), nil
}

func (d Date) String() string { return string(d) }

// Confidence is either a match percentage or the "manual" marker used for
// operator-entered records.
type Confidence struct {
	Percent int
	Manual  bool
}

const manualConfidence = "manual"

func ManualConfidence() Confidence { return Confidence{Manual: true} }

func PercentConfidence(p int) Confidence { return Confidence{Percent: p} }

func (c Confidence) String() string {
	if c.Manual {
		return manualConfidence
	}
	return strconv.Itoa(c.Percent)
}

func (c Confidence) MarshalJSON() ([]byte, error) {
	if c.Manual {
		return json.Marshal(manualConfidence)
	}
	return json.Marshal(c.Percent)
}

func (c *Confidence) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s == manualConfidence || s == "-" {
			*c = ManualConfidence()
			return nil
		}
		p, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("invalid confidence %q", s)
		}
		*c = PercentConfidence(p)
		return nil
	}
	var p int
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("invalid confidence: %w", err)
	}
	*c = PercentConfidence(p)
	return nil
}

// AttendanceRecord is one row of the attendance ledger.
type AttendanceRecord struct {
	Name       string           `json:"name"`
	Date       Date             `json:"date"`
	Time       string           `json:"time"`
	Confidence Confidence       `json:"confidence"`
	Status     AttendanceStatus `json:"status"`
}

// PersonKey identifies one person on one day.
type PersonKey struct {
	Label string
	Date  Date
}

func (k PersonKey) String() string {
	return k.Label + "_" + string(k.Date)
}

// DedupMarker gates automatic records: while one exists for a PersonKey no new
// automatic record is created for it.
type DedupMarker struct {
	FirstSeenAt time.Time `json:"first_seen_at"`
	Confidence  int       `json:"confidence"`
}
