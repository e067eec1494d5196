package attendance

import (
	"fmt"
	"strings"
	"time"

	"github.com/your-org/attendance/internal/config"
	"github.com/your-org/attendance/internal/models"
)

const UseCurrentDate = "use-current"

// Settings are the operator-adjustable knobs of the engine.
type Settings struct {
	StartTime     config.ClockTime `json:"start_time"`
	EndTime       config.ClockTime `json:"end_time"`
	AutoDetection bool             `json:"auto_detection"`
	DateOverride  string           `json:"date_override"`
}

func SettingsFromConfig(cfg config.AttendanceConfig) Settings {
	return Settings{
		StartTime:     cfg.StartTime,
		EndTime:       cfg.EndTime,
		AutoDetection: cfg.AutoDetectionEnabled(),
		DateOverride:  cfg.DateOverride,
	}
}

func (s Settings) Validate() error {
	bounds := []struct {
		name string
		ct   config.ClockTime
	}{{"start_time", s.StartTime}, {"end_time", s.EndTime}}
	for _, b := range bounds {
		name, ct := b.name, b.ct
		if ct.Hour < 1 || ct.Hour > 12 || ct.Minute < 0 || ct.Minute > 59 {
			return fmt.Errorf("%w: %s must be 1-12:00-59", ErrValidation, name)
		}
		if p := strings.ToUpper(ct.AmPm); p != "AM" && p != "PM" {
			return fmt.Errorf("%w: %s.am_pm must be AM or PM", ErrValidation, name)
		}
	}
	if s.DateOverride != "" && s.DateOverride != UseCurrentDate {
		if _, err := models.ParseDate(s.DateOverride); err != nil {
			return fmt.Errorf("%w: date_override: %v", ErrValidation, err)
		}
	}
	return nil
}

// minutesSinceMidnight converts a 12-hour clock time. 12 AM is midnight and
// 12 PM is noon.
func minutesSinceMidnight(ct config.ClockTime) int {
	h := ct.Hour % 12
	if strings.EqualFold(ct.AmPm, "PM") {
		h += 12
	}
	return h*60 + ct.Minute
}

// Classify reports whether a time of day falls inside the inclusive
// [StartTime, EndTime] window. The bounds have minute precision and t is
// compared to the second, so 09:00:00 is inside a window ending at 9:00 AM
// and 09:00:01 is not.
func (s Settings) Classify(hour, minute, second int) models.AttendanceStatus {
	secs := hour*3600 + minute*60 + second
	start := minutesSinceMidnight(s.StartTime) * 60
	end := minutesSinceMidnight(s.EndTime) * 60
	if secs >= start && secs <= end {
		return models.StatusOnTime
	}
	return models.StatusLate
}

func (s Settings) classifyTime(t time.Time) models.AttendanceStatus {
	return s.Classify(t.Hour(), t.Minute(), t.Second())
}

// dateFor returns the pinned override date, or the calendar day of now.
func (s Settings) dateFor(now time.Time) models.Date {
	if s.DateOverride != "" && s.DateOverride != UseCurrentDate {
		if d, err := models.ParseDate(s.DateOverride); err == nil {
			return d
		}
	}
	return models.DateOf(now)
}

// parseClock accepts HH:MM or HH:MM:SS in 24-hour form.
func parseClock(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{models.TimeLayout, "15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: time %q must be HH:MM or HH:MM:SS", ErrValidation, s)
}
