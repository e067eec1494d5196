package dto

import "encoding/json"

type AddRecordRequest struct {
	Name string `json:"name" binding:"required"`
	Date string `json:"date" binding:"required"`
	Time string `json:"time" binding:"required"`
}

// PatchRecordRequest overwrites only the fields present. Confidence is a
// percentage or "manual".
type PatchRecordRequest struct {
	Name       *string         `json:"name,omitempty"`
	Date       *string         `json:"date,omitempty"`
	Time       *string         `json:"time,omitempty"`
	Confidence json.RawMessage `json:"confidence,omitempty"`
	Status     *string         `json:"status,omitempty"`
}

type RecordResponse struct {
	Index      int             `json:"index"`
	Name       string          `json:"name"`
	Date       string          `json:"date"`
	Time       string          `json:"time"`
	Confidence json.RawMessage `json:"confidence"`
	Status     string          `json:"status"`
}

type AttendanceListResponse struct {
	Records       []RecordResponse `json:"records"`
	Total         int              `json:"total"`
	AttendeeCount int              `json:"attendee_count"`
}

type DetectionResponse struct {
	BBox       [4]float32 `json:"bbox"`
	Score      float32    `json:"score"`
	Label      string     `json:"label"`
	Distance   float64    `json:"distance"`
	Confidence int        `json:"confidence"`
	Timestamp  string     `json:"timestamp"`
}
