package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/attendance/internal/attendance"
	"github.com/your-org/attendance/internal/identity"
	"github.com/your-org/attendance/internal/vision"
)

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, attendance.ErrEmptyName),
		errors.Is(err, attendance.ErrValidation),
		errors.Is(err, identity.ErrInvalidName):
		return http.StatusBadRequest
	case errors.Is(err, attendance.ErrRecordNotFound),
		errors.Is(err, identity.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, attendance.ErrStreamNotReady):
		return http.StatusServiceUnavailable
	case errors.Is(err, vision.ErrNoFace),
		errors.Is(err, vision.ErrDecode):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
