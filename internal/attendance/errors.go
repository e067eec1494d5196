package attendance

import "errors"

var (
	ErrEmptyName      = errors.New("name is required")
	ErrStreamNotReady = errors.New("stream is not ready")
	ErrValidation     = errors.New("validation failed")
	ErrRecordNotFound = errors.New("attendance record not found")
)
