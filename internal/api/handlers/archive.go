package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/attendance/internal/models"
)

// EventArchive reads archived attendance events.
type EventArchive interface {
	ListEvents(ctx context.Context, date time.Time, limit int) ([]models.AttendanceEvent, error)
}

type ArchiveHandler struct {
	archive EventArchive
}

func NewArchiveHandler(archive EventArchive) *ArchiveHandler {
	return &ArchiveHandler{archive: archive}
}

// List returns the archived events for ?date=YYYY-MM-DD (default today, UTC).
func (h *ArchiveHandler) List(c *gin.Context) {
	date := time.Now().UTC().Truncate(24 * time.Hour)
	if ds := c.Query("date"); ds != "" {
		d, err := time.Parse(models.DateLayout, ds)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date, want YYYY-MM-DD"})
			return
		}
		date = d
	}

	limit := 100
	if ls := c.Query("limit"); ls != "" {
		l, err := strconv.Atoi(ls)
		if err != nil || l <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = l
	}

	events, err := h.archive.ListEvents(c.Request.Context(), date, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	if events == nil {
		events = []models.AttendanceEvent{}
	}
	c.JSON(http.StatusOK, gin.H{"date": date.Format(models.DateLayout), "events": events, "total": len(events)})
}
