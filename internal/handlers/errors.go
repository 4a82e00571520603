package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/tripmarket/settlement-backend/internal/services"
)

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Error   string      `json:"error"`
	Message string      `json:"message"`
	Code    string      `json:"code"`
	Details interface{} `json:"details,omitempty"`
}

// errorStatus maps a service error onto an HTTP status and response body.
// Unknown errors become a generic 500 so internals never leak to clients.
func errorStatus(err error) (int, ErrorResponse) {
	var (
		validation    *services.ValidationError
		notFound      *services.NotFoundError
		inactive      *services.ResourceInactiveError
		policy        *services.PolicyViolationError
		conflict      *services.ConflictError
		auth          *services.AuthenticationError
		gateway       *services.PaymentGatewayError
		inconsistency *services.InconsistencyError
	)

	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest, ErrorResponse{
			Error:   "validation_failed",
			Message: "One or more fields are invalid",
			Code:    "VALIDATION_FAILED",
			Details: validation.Fields,
		}
	case errors.As(err, &notFound):
		return http.StatusNotFound, ErrorResponse{
			Error:   "not_found",
			Message: notFound.Error(),
			Code:    "NOT_FOUND",
		}
	case errors.As(err, &inactive):
		return http.StatusBadRequest, ErrorResponse{
			Error:   "resource_inactive",
			Message: "This resource is not available for booking",
			Code:    "RESOURCE_INACTIVE",
		}
	case errors.As(err, &policy):
		return http.StatusBadRequest, ErrorResponse{
			Error:   "policy_violation",
			Message: policy.Message,
			Code:    "POLICY_VIOLATION",
			Details: gin.H{"rule": policy.Rule},
		}
	case errors.As(err, &conflict):
		return http.StatusConflict, ErrorResponse{
			Error:   "slot_unavailable",
			Message: "The requested window is no longer available",
			Code:    "SLOT_UNAVAILABLE",
			Details: conflict.Conflicts,
		}
	case errors.As(err, &auth):
		return http.StatusUnauthorized, ErrorResponse{
			Error:   "unauthorized",
			Message: "Webhook signature could not be verified",
			Code:    "INVALID_SIGNATURE",
		}
	case errors.As(err, &gateway):
		return http.StatusBadGateway, ErrorResponse{
			Error:   "payment_gateway_error",
			Message: "The payment provider is unavailable, please retry",
			Code:    "PAYMENT_GATEWAY_ERROR",
		}
	case errors.As(err, &inconsistency):
		return http.StatusInternalServerError, ErrorResponse{
			Error:   "reconciliation_required",
			Message: "The request could not be completed and has been flagged for review",
			Code:    "RECONCILIATION_REQUIRED",
			Details: gin.H{"booking_id": inconsistency.BookingID, "payment_intent_id": inconsistency.PaymentIntentID},
		}
	default:
		return http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "An unexpected error occurred",
			Code:    "INTERNAL_ERROR",
		}
	}
}

// respondError writes the mapped error and logs server-side failures
func respondError(c *gin.Context, logger *logrus.Logger, err error) {
	status, body := errorStatus(err)
	if status >= http.StatusInternalServerError {
		logger.WithError(err).WithFields(logrus.Fields{
			"path":   c.FullPath(),
			"status": status,
		}).Error("Request failed")
	}
	_ = c.Error(err)
	c.JSON(status, body)
}

func badRequest(c *gin.Context, message string, details interface{}) {
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error:   "invalid_request",
		Message: message,
		Code:    "INVALID_REQUEST",
		Details: details,
	})
}
