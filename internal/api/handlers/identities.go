package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/attendance/internal/models"
	"github.com/your-org/attendance/pkg/dto"
)

// Registry is the enrolled identity set.
type Registry interface {
	Snapshot() []models.EnrolledIdentity
	Refresh(ctx context.Context) error
	Remove(ctx context.Context, label string) error
}

// Enroller captures the current stream frame as a new identity.
type Enroller interface {
	Enroll(ctx context.Context, name string) (models.AttendanceRecord, error)
}

type IdentityHandler struct {
	registry Registry
	enroller Enroller
}

func NewIdentityHandler(registry Registry, enroller Enroller) *IdentityHandler {
	return &IdentityHandler{registry: registry, enroller: enroller}
}

func (h *IdentityHandler) Enroll(c *gin.Context) {
	var req dto.EnrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rec, err := h.enroller.Enroll(c.Request.Context(), req.Name)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"record":     recordToResponse(-1, rec),
		"identities": len(h.registry.Snapshot()),
	})
}

func (h *IdentityHandler) List(c *gin.Context) {
	ids := h.registry.Snapshot()
	resp := make([]dto.IdentityResponse, 0, len(ids))
	for _, id := range ids {
		resp = append(resp, dto.IdentityResponse{Label: id.Label, SourceKey: id.SourceKey})
	}
	c.JSON(http.StatusOK, gin.H{"identities": resp, "total": len(resp)})
}

func (h *IdentityHandler) Refresh(c *gin.Context) {
	if err := h.registry.Refresh(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"total": len(h.registry.Snapshot())})
}

func (h *IdentityHandler) Remove(c *gin.Context) {
	if err := h.registry.Remove(c.Request.Context(), c.Param("label")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
