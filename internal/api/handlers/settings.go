package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/attendance/internal/attendance"
	"github.com/your-org/attendance/internal/config"
	"github.com/your-org/attendance/pkg/dto"
)

type SettingsHandler struct {
	engine *attendance.Engine
}

func NewSettingsHandler(engine *attendance.Engine) *SettingsHandler {
	return &SettingsHandler{engine: engine}
}

func (h *SettingsHandler) Get(c *gin.Context) {
	c.JSON(http.StatusOK, settingsToDTO(h.engine.Settings()))
}

func (h *SettingsHandler) Put(c *gin.Context) {
	var req dto.Settings
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.engine.UpdateSettings(settingsFromDTO(req)); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, settingsToDTO(h.engine.Settings()))
}

func settingsToDTO(s attendance.Settings) dto.Settings {
	return dto.Settings{
		StartTime:     dto.ClockTime(s.StartTime),
		EndTime:       dto.ClockTime(s.EndTime),
		AutoDetection: s.AutoDetection,
		DateOverride:  s.DateOverride,
	}
}

func settingsFromDTO(s dto.Settings) attendance.Settings {
	return attendance.Settings{
		StartTime:     config.ClockTime(s.StartTime),
		EndTime:       config.ClockTime(s.EndTime),
		AutoDetection: s.AutoDetection,
		DateOverride:  s.DateOverride,
	}
}
