package dto

type ClockTime struct {
	Hour   int    `json:"hour"`
	Minute int    `json:"minute"`
	AmPm   string `json:"am_pm"`
}

type Settings struct {
	StartTime     ClockTime `json:"start_time"`
	EndTime       ClockTime `json:"end_time"`
	AutoDetection bool      `json:"auto_detection"`
	DateOverride  string    `json:"date_override"`
}
