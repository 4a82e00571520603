package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tripmarket/settlement-backend/internal/models"
	"github.com/tripmarket/settlement-backend/internal/services"
)

// AvailabilityAPI answers slot queries
type AvailabilityAPI interface {
	CheckAvailability(ctx context.Context, resourceID uuid.UUID, start, end time.Time) (*services.AvailabilityResult, error)
}

// AvailabilityHandler serves read-only availability checks
type AvailabilityHandler struct {
	availability AvailabilityAPI
	logger       *logrus.Logger
}

// NewAvailabilityHandler creates a new AvailabilityHandler
func NewAvailabilityHandler(availability AvailabilityAPI, logger *logrus.Logger) *AvailabilityHandler {
	return &AvailabilityHandler{availability: availability, logger: logger}
}

// CheckAvailability reports whether a resource is free for [start, end)
// @Summary Check resource availability
// @Tags Availability
// @Produce json
// @Param resource_id path string true "Resource ID"
// @Param start query string true "Window start (RFC3339)"
// @Param end query string true "Window end (RFC3339)"
// @Success 200 {object} models.AvailabilityResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/availability/{resource_id} [get]
func (h *AvailabilityHandler) CheckAvailability(c *gin.Context) {
	resourceID, err := uuid.Parse(c.Param("resource_id"))
	if err != nil {
		badRequest(c, "Invalid resource ID", nil)
		return
	}

	start, err := time.Parse(time.RFC3339, c.Query("start"))
	if err != nil {
		respondError(c, h.logger, services.NewValidationError("start", "must be an RFC3339 timestamp"))
		return
	}
	end, err := time.Parse(time.RFC3339, c.Query("end"))
	if err != nil {
		respondError(c, h.logger, services.NewValidationError("end", "must be an RFC3339 timestamp"))
		return
	}

	result, err := h.availability.CheckAvailability(c.Request.Context(), resourceID, start.UTC(), end.UTC())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, models.AvailabilityResponse{
		ResourceID:            resourceID,
		WindowStart:           start.UTC(),
		WindowEnd:             end.UTC(),
		Available:             result.Available,
		ConflictingBookingIDs: result.ConflictingBookingIDs,
	})
}
