package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tripmarket/settlement-backend/internal/middleware"
	"github.com/tripmarket/settlement-backend/internal/models"
)

// LoyaltyAPI reads a member's balance and history
type LoyaltyAPI interface {
	GetSummary(ctx context.Context, userID uuid.UUID, limit int) (*models.LoyaltySummaryResponse, error)
}

// LoyaltyHandler serves the caller's loyalty account
type LoyaltyHandler struct {
	loyalty LoyaltyAPI
	logger  *logrus.Logger
}

// NewLoyaltyHandler creates a new LoyaltyHandler
func NewLoyaltyHandler(loyalty LoyaltyAPI, logger *logrus.Logger) *LoyaltyHandler {
	return &LoyaltyHandler{loyalty: loyalty, logger: logger}
}

// GetMyAccount returns the caller's tier, balance and latest transactions
// @Summary Get loyalty account
// @Tags Loyalty
// @Produce json
// @Param limit query int false "Transactions to return" default(20)
// @Success 200 {object} models.LoyaltySummaryResponse
// @Security BearerAuth
// @Router /api/v1/loyalty/me [get]
func (h *LoyaltyHandler) GetMyAccount(c *gin.Context) {
	userCtx := middleware.MustGetUserContext(c)

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 || limit > 100 {
		limit = 20
	}

	summary, err := h.loyalty.GetSummary(c.Request.Context(), userCtx.UserID, limit)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, summary)
}
