package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/tripmarket/settlement-backend/internal/middleware"
)

// ReconcileAPI retries loyalty credits for confirmed bookings that have none
type ReconcileAPI interface {
	ReconcileMissingCredits(ctx context.Context, limit int) (int, error)
}

// OpsHandler serves back-office endpoints. Mount behind RequireRole.
type OpsHandler struct {
	reconciler ReconcileAPI
	logger     *logrus.Logger
}

// NewOpsHandler creates a new OpsHandler
func NewOpsHandler(reconciler ReconcileAPI, logger *logrus.Logger) *OpsHandler {
	return &OpsHandler{reconciler: reconciler, logger: logger}
}

// ReconcileLoyalty runs one loyalty reconciliation pass on demand
// @Summary Credit confirmed bookings missing loyalty points
// @Tags Ops
// @Produce json
// @Param limit query int false "Bookings to process" default(100)
// @Success 200 {object} map[string]interface{}
// @Failure 403 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/v1/ops/loyalty/reconcile [post]
func (h *OpsHandler) ReconcileLoyalty(c *gin.Context) {
	userCtx := middleware.MustGetUserContext(c)

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit <= 0 || limit > 1000 {
		limit = 100
	}

	credited, err := h.reconciler.ReconcileMissingCredits(c.Request.Context(), limit)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	h.logger.WithFields(logrus.Fields{
		"requested_by": userCtx.UserID,
		"credited":     credited,
	}).Info("Manual loyalty reconciliation completed")

	c.JSON(http.StatusOK, gin.H{
		"credited": credited,
		"limit":    limit,
	})
}
