package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/attendance/internal/attendance"
	"github.com/your-org/attendance/internal/models"
	"github.com/your-org/attendance/pkg/dto"
)

type AttendanceHandler struct {
	engine *attendance.Engine
}

func NewAttendanceHandler(engine *attendance.Engine) *AttendanceHandler {
	return &AttendanceHandler{engine: engine}
}

func (h *AttendanceHandler) List(c *gin.Context) {
	records := h.engine.Records()
	resp := dto.AttendanceListResponse{
		Records:       make([]dto.RecordResponse, 0, len(records)),
		Total:         len(records),
		AttendeeCount: h.engine.AttendeeCount(),
	}
	for i, r := range records {
		resp.Records = append(resp.Records, recordToResponse(i, r))
	}
	c.JSON(http.StatusOK, resp)
}

func (h *AttendanceHandler) Add(c *gin.Context) {
	var req dto.AddRecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rec, index, err := h.engine.AddManualRecord(req.Name, req.Date, req.Time)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, recordToResponse(index, rec))
}

func (h *AttendanceHandler) Patch(c *gin.Context) {
	index, ok := indexParam(c)
	if !ok {
		return
	}

	var req dto.PatchRecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	patch := attendance.RecordPatch{Name: req.Name, Date: req.Date, Time: req.Time}
	if len(req.Confidence) > 0 {
		var conf models.Confidence
		if err := json.Unmarshal(req.Confidence, &conf); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		patch.Confidence = &conf
	}
	if req.Status != nil {
		status := models.AttendanceStatus(*req.Status)
		patch.Status = &status
	}

	rec, err := h.engine.EditRecord(index, patch)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, recordToResponse(index, rec))
}

func (h *AttendanceHandler) Delete(c *gin.Context) {
	index, ok := indexParam(c)
	if !ok {
		return
	}
	rec, err := h.engine.DeleteRecord(index)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, recordToResponse(index, rec))
}

func (h *AttendanceHandler) Clear(c *gin.Context) {
	h.engine.Clear()
	c.Status(http.StatusNoContent)
}

// LatestDetections returns the faces found by the last detection tick.
func (h *AttendanceHandler) LatestDetections(c *gin.Context) {
	matches := h.engine.LatestMatches()
	resp := make([]dto.DetectionResponse, 0, len(matches))
	for _, m := range matches {
		resp = append(resp, dto.DetectionResponse{
			BBox:       m.BBox,
			Score:      m.Score,
			Label:      m.Result.Label,
			Distance:   m.Result.Distance,
			Confidence: m.Result.Confidence(),
			Timestamp:  m.Timestamp.Format(time.RFC3339Nano),
		})
	}
	c.JSON(http.StatusOK, gin.H{"detections": resp})
}

func indexParam(c *gin.Context) (int, bool) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil || index < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid record index"})
		return 0, false
	}
	return index, true
}

func recordToResponse(index int, r models.AttendanceRecord) dto.RecordResponse {
	conf, _ := json.Marshal(r.Confidence)
	return dto.RecordResponse{
		Index:      index,
		Name:       r.Name,
		Date:       r.Date.String(),
		Time:       r.Time,
		Confidence: conf,
		Status:     string(r.Status),
	}
}
