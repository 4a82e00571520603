package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/tripmarket/settlement-backend/internal/models"
)

// ============================================================================
// ERROR TAXONOMY
// ============================================================================

// FieldError describes one invalid request field
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError is returned for malformed or out-of-range input
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Add appends a field error
func (e *ValidationError) Add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

// OrNil returns nil when no field failed
func (e *ValidationError) OrNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// NewValidationError builds a single-field validation error
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: []FieldError{{Field: field, Message: message}}}
}

// NotFoundError is returned when a resource or booking does not exist
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// ResourceInactiveError is returned when a resource exists but cannot be booked
type ResourceInactiveError struct {
	ResourceID uuid.UUID
}

func (e *ResourceInactiveError) Error() string {
	return fmt.Sprintf("resource %s is not available for booking", e.ResourceID)
}

// PolicyViolationError is returned when a request breaks a resource rule
// such as capacity or minimum stay
type PolicyViolationError struct {
	Rule    string
	Message string
}

func (e *PolicyViolationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Rule, e.Message)
}

// ConflictError is returned when the requested window is already taken
type ConflictError struct {
	ResourceID uuid.UUID
	Conflicts  []models.SlotConflict
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("resource %s is already booked for the requested window (%d conflicts)", e.ResourceID, len(e.Conflicts))
}

// AuthenticationError is returned for webhooks with a bad or missing signature
type AuthenticationError struct {
	Reason string
}

func (e *AuthenticationError) Error() string {
	return "webhook authentication failed: " + e.Reason
}

// PaymentGatewayError wraps failures of the external payment processor.
// Nothing was committed locally, so the call is safe to retry.
type PaymentGatewayError struct {
	Op  string
	Err error
}

func (e *PaymentGatewayError) Error() string {
	return fmt.Sprintf("payment gateway %s failed: %v", e.Op, e.Err)
}

func (e *PaymentGatewayError) Unwrap() error {
	return e.Err
}

// InconsistencyError marks a state that needs manual reconciliation, such as an
// orphaned payment intent or a payment for a booking that already expired
type InconsistencyError struct {
	Kind            string
	BookingID       uuid.UUID
	PaymentIntentID string
	Detail          string
	Err             error
}

func (e *InconsistencyError) Error() string {
	msg := fmt.Sprintf("inconsistency (%s) for booking %s: %s", e.Kind, e.BookingID, e.Detail)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *InconsistencyError) Unwrap() error {
	return e.Err
}

// ErrAlreadyCredited is returned by the ledger when a booking already has an earn entry
var ErrAlreadyCredited = errors.New("points already credited for booking")
