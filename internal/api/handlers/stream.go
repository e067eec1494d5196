package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/attendance/internal/mjpeg"
	"github.com/your-org/attendance/internal/models"
	"github.com/your-org/attendance/pkg/dto"
)

const boundary = "frame"

// FrameSource exposes the live camera frames.
type FrameSource interface {
	Latest() (models.Frame, bool)
	Next(ctx context.Context, afterSeq uint64) (models.Frame, error)
}

type StreamHandler struct {
	frames FrameSource
	status func() mjpeg.Status
}

func NewStreamHandler(frames FrameSource, status func() mjpeg.Status) *StreamHandler {
	return &StreamHandler{frames: frames, status: status}
}

// Proxy re-serves the camera as multipart/x-mixed-replace, one part per
// frame. Slow clients skip frames rather than queue them.
func (h *StreamHandler) Proxy(c *gin.Context) {
	defer logStreamClient(c, time.Now())

	c.Header("Content-Type", "multipart/x-mixed-replace; boundary="+boundary)
	c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
	c.Header("Connection", "close")
	c.Status(http.StatusOK)

	ctx := c.Request.Context()
	var seq uint64
	for {
		frame, err := h.frames.Next(ctx, seq)
		if err != nil {
			return
		}
		seq = frame.Seq

		if _, err := fmt.Fprintf(c.Writer, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", boundary, len(frame.Data)); err != nil {
			return
		}
		if _, err := c.Writer.Write(frame.Data); err != nil {
			return
		}
		if _, err := c.Writer.Write([]byte("\r\n")); err != nil {
			return
		}
		c.Writer.Flush()
	}
}

func (h *StreamHandler) Snapshot(c *gin.Context) {
	frame, ok := h.frames.Latest()
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no frame received yet"})
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/jpeg", frame.Data)
}

func (h *StreamHandler) Status(c *gin.Context) {
	st := h.status()
	resp := dto.StreamStatusResponse{
		State:      st.State,
		Ready:      st.Ready,
		Frames:     st.Frames,
		Reconnects: st.Reconnects,
		LastError:  st.LastError,
	}
	if frame, ok := h.frames.Latest(); ok {
		resp.LatestSeq = frame.Seq
		resp.LatestAt = frame.Timestamp.Format(time.RFC3339Nano)
	}
	c.JSON(http.StatusOK, resp)
}

func logStreamClient(c *gin.Context, started time.Time) {
	slog.Debug("stream client left", "ip", c.ClientIP(), "duration", time.Since(started).String())
}
