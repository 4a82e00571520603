package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/tripmarket/settlement-backend/internal/services"
	"github.com/tripmarket/settlement-backend/internal/utils"
)

// WebhookAPI applies a verified provider callback
type WebhookAPI interface {
	HandleWebhook(ctx context.Context, d services.WebhookDelivery) (*services.WebhookResult, error)
}

// archivedHeaders are copied into the delivery for the raw payload archive
var archivedHeaders = []string{"Content-Type", "User-Agent", "X-Request-ID", "X-Webhook-Timestamp"}

// WebhookHandler receives signed provider callbacks. Routes using it must
// not sit behind the JWT middleware: the HMAC signature is the credential.
type WebhookHandler struct {
	settlement      WebhookAPI
	signatureHeader string
	maxBodyBytes    int64
	logger          *logrus.Logger
}

// NewWebhookHandler creates a new WebhookHandler
func NewWebhookHandler(settlement WebhookAPI, signatureHeader string, maxBodyBytes int64, logger *logrus.Logger) *WebhookHandler {
	if signatureHeader == "" {
		signatureHeader = "X-Webhook-Signature"
	}
	if maxBodyBytes <= 0 {
		maxBodyBytes = 1 << 20
	}
	return &WebhookHandler{
		settlement:      settlement,
		signatureHeader: signatureHeader,
		maxBodyBytes:    maxBodyBytes,
		logger:          logger,
	}
}

// HandleWebhook verifies and applies one delivery.
//
// 200: applied, or a replay of an already processed event
// 202: recorded but flagged for manual reconciliation; the provider must not retry
// 4xx: rejected, retrying the same bytes will not help
// 5xx: processing failed or the booking is not visible yet, the provider should retry
//
// @Summary Receive a provider webhook
// @Tags Webhooks
// @Accept json
// @Produce json
// @Param provider path string true "Provider name"
// @Success 200 {object} services.WebhookResult
// @Success 202 {object} services.WebhookResult
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 413 {object} ErrorResponse
// @Router /api/v1/webhooks/{provider} [post]
func (h *WebhookHandler) HandleWebhook(c *gin.Context) {
	provider := c.Param("provider")

	// The signature covers the exact bytes, so the body is read raw and never re-encoded
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{
				Error:   "payload_too_large",
				Message: "Webhook body exceeds the allowed size",
				Code:    "PAYLOAD_TOO_LARGE",
			})
			return
		}
		badRequest(c, "Could not read request body", nil)
		return
	}

	headers := make(map[string]string, len(archivedHeaders))
	for _, name := range archivedHeaders {
		if v := c.GetHeader(name); v != "" {
			headers[name] = v
		}
	}

	result, err := h.settlement.HandleWebhook(c.Request.Context(), services.WebhookDelivery{
		Provider:  provider,
		Body:      body,
		Signature: c.GetHeader(h.signatureHeader),
		Headers:   headers,
		SourceIP:  utils.GetRealIP(c),
		UserAgent: utils.GetUserAgent(c),
	})
	if err != nil {
		var (
			inconsistency *services.InconsistencyError
			notFound      *services.NotFoundError
		)
		switch {
		case errors.As(err, &inconsistency) && result != nil:
			c.JSON(http.StatusAccepted, result)
		case errors.As(err, &notFound):
			// The intent can settle before its booking row is visible; ask for a redelivery
			c.JSON(http.StatusServiceUnavailable, ErrorResponse{
				Error:   "retry_later",
				Message: notFound.Error(),
				Code:    "RETRY_LATER",
			})
		default:
			respondError(c, h.logger, err)
		}
		return
	}

	c.JSON(http.StatusOK, result)
}
