package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// WEBHOOK PAYLOADS (tagged union keyed by "event")
// ============================================================================

// WebhookEventType is the "event" discriminator of an incoming webhook
type WebhookEventType string

const (
	EventPaymentSucceeded        WebhookEventType = "payment.succeeded"
	EventPaymentFailed           WebhookEventType = "payment.failed"
	EventPaymentRefunded         WebhookEventType = "payment.refunded"
	EventBookingCancelled        WebhookEventType = "booking.cancelled"
	EventPartnerBookingConfirmed WebhookEventType = "partner.booking.confirmed"
	EventPartnerBookingCancelled WebhookEventType = "partner.booking.cancelled"
)

// WebhookEnvelope is the outer shape every provider sends
type WebhookEnvelope struct {
	ID        string           `json:"id"`
	Event     WebhookEventType `json:"event"`
	Timestamp time.Time        `json:"timestamp"`
	Data      json.RawMessage  `json:"data"`
}

// WebhookPayload is one variant of the union
type WebhookPayload interface {
	EventType() WebhookEventType
	Validate() error
}

// PaymentEventData is carried by payment.succeeded, payment.failed and payment.refunded
type PaymentEventData struct {
	Event           WebhookEventType `json:"-"`
	PaymentIntentID string           `json:"payment_intent_id"`
	BookingID       string           `json:"booking_id,omitempty"`
	Vertical        Vertical         `json:"vertical,omitempty"`
	AmountMinor     int64            `json:"amount_minor"`
	Currency        string           `json:"currency"`
	FailureReason   string           `json:"failure_reason,omitempty"`
}

func (d *PaymentEventData) EventType() WebhookEventType { return d.Event }

func (d *PaymentEventData) Validate() error {
	if d.PaymentIntentID == "" && d.BookingID == "" {
		return errors.New("data.payment_intent_id or data.booking_id is required")
	}
	if d.Vertical != "" && !d.Vertical.IsValid() {
		return fmt.Errorf("data.vertical %q is not supported", d.Vertical)
	}
	if d.Event == EventPaymentSucceeded {
		if d.AmountMinor <= 0 {
			return errors.New("data.amount_minor must be positive")
		}
		if d.Currency == "" {
			return errors.New("data.currency is required")
		}
	}
	return nil
}

// CancellationEventData is carried by booking.cancelled
type CancellationEventData struct {
	BookingID       string `json:"booking_id,omitempty"`
	PaymentIntentID string `json:"payment_intent_id,omitempty"`
	Reason          string `json:"reason,omitempty"`
}

func (d *CancellationEventData) EventType() WebhookEventType { return EventBookingCancelled }

func (d *CancellationEventData) Validate() error {
	if d.PaymentIntentID == "" && d.BookingID == "" {
		return errors.New("data.payment_intent_id or data.booking_id is required")
	}
	return nil
}

// PartnerBookingEventData is sent by third-party travel partners for referred bookings
type PartnerBookingEventData struct {
	Event            WebhookEventType `json:"-"`
	BookingID        string           `json:"booking_id,omitempty"`
	ReferralID       string           `json:"referral_id,omitempty"`
	BookingReference string           `json:"booking_reference"`
	Status           string           `json:"status,omitempty"`
	TotalAmountMinor int64            `json:"total_amount_minor"`
	Currency         string           `json:"currency"`
	CommissionMinor  int64            `json:"commission_minor,omitempty"`
}

func (d *PartnerBookingEventData) EventType() WebhookEventType { return d.Event }

// TargetID returns the booking id, falling back to the referral id
func (d *PartnerBookingEventData) TargetID() string {
	if d.BookingID != "" {
		return d.BookingID
	}
	return d.ReferralID
}

func (d *PartnerBookingEventData) Validate() error {
	if d.TargetID() == "" {
		return errors.New("data.booking_id or data.referral_id is required")
	}
	if d.Event == EventPartnerBookingConfirmed {
		if d.BookingReference == "" {
			return errors.New("data.booking_reference is required")
		}
		if d.TotalAmountMinor <= 0 {
			return errors.New("data.total_amount_minor must be positive")
		}
		if d.Currency == "" {
			return errors.New("data.currency is required")
		}
	}
	if d.CommissionMinor < 0 {
		return errors.New("data.commission_minor must not be negative")
	}
	return nil
}

// ParseWebhook decodes the envelope and the variant selected by its event type
func ParseWebhook(body []byte) (*WebhookEnvelope, WebhookPayload, error) {
	var env WebhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, nil, fmt.Errorf("invalid webhook body: %w", err)
	}
	if env.ID == "" {
		return nil, nil, errors.New("id is required")
	}
	if len(env.Data) == 0 {
		return nil, nil, errors.New("data is required")
	}

	var payload WebhookPayload
	switch env.Event {
	case EventPaymentSucceeded, EventPaymentFailed, EventPaymentRefunded:
		payload = &PaymentEventData{Event: env.Event}
	case EventBookingCancelled:
		payload = &CancellationEventData{}
	case EventPartnerBookingConfirmed, EventPartnerBookingCancelled:
		payload = &PartnerBookingEventData{Event: env.Event}
	default:
		return &env, nil, fmt.Errorf("unsupported event %q", env.Event)
	}

	if err := json.Unmarshal(env.Data, payload); err != nil {
		return &env, nil, fmt.Errorf("invalid data for %s: %w", env.Event, err)
	}
	if err := payload.Validate(); err != nil {
		return &env, nil, err
	}
	return &env, payload, nil
}

// ============================================================================
// WEBHOOK EVENT RECORD (webhook_events table)
// ============================================================================

// WebhookOutcome records what the settlement handler did with an event
type WebhookOutcome string

const (
	WebhookOutcomeReceived     WebhookOutcome = "received"
	WebhookOutcomeProcessed    WebhookOutcome = "processed"
	WebhookOutcomeDuplicate    WebhookOutcome = "duplicate"
	WebhookOutcomeIgnored      WebhookOutcome = "ignored"
	WebhookOutcomeRejected     WebhookOutcome = "rejected"
	WebhookOutcomeInconsistent WebhookOutcome = "inconsistent"
	WebhookOutcomeFailed       WebhookOutcome = "failed"
)

// EventMetadata is a free-form JSONB column
type EventMetadata map[string]interface{}

// Value returns JSON as a string for compatibility with simple protocol mode.
// A nil map is stored as {} since the column is NOT NULL.
func (m EventMetadata) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	bytes, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(bytes), nil
}

func (m *EventMetadata) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	return scanJSON(value, m, "EventMetadata")
}

// WebhookEvent is the audit and deduplication record of one delivery
type WebhookEvent struct {
	ID              uuid.UUID        `json:"id" db:"id"`
	Provider        string           `json:"provider" db:"provider"`
	ProviderEventID string           `json:"provider_event_id" db:"provider_event_id"`
	EventType       WebhookEventType `json:"event_type" db:"event_type"`

	BookingID       *uuid.UUID `json:"booking_id,omitempty" db:"booking_id"`
	PaymentIntentID *string    `json:"payment_intent_id,omitempty" db:"payment_intent_id"`

	SignatureValid  bool           `json:"signature_valid" db:"signature_valid"`
	Outcome         WebhookOutcome `json:"outcome" db:"outcome"`
	ProcessingError *string        `json:"processing_error,omitempty" db:"processing_error"`
	Metadata        EventMetadata  `json:"metadata,omitempty" db:"metadata"`

	SourceIP         *string `json:"source_ip,omitempty" db:"source_ip"`
	UserAgent        *string `json:"user_agent,omitempty" db:"user_agent"`
	ProcessingTimeMs *int    `json:"processing_time_ms,omitempty" db:"processing_time_ms"`

	ReceivedAt  time.Time  `json:"received_at" db:"received_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty" db:"processed_at"`
}

// NewWebhookEvent creates a record for a delivery that passed signature checks
func NewWebhookEvent(provider string, env *WebhookEnvelope, receivedAt time.Time) *WebhookEvent {
	return &WebhookEvent{
		ID:              uuid.New(),
		Provider:        provider,
		ProviderEventID: env.ID,
		EventType:       env.Event,
		SignatureValid:  true,
		Outcome:         WebhookOutcomeReceived,
		Metadata:        EventMetadata{},
		ReceivedAt:      receivedAt,
	}
}

// SetBooking links the event to a booking
func (e *WebhookEvent) SetBooking(id uuid.UUID) *WebhookEvent {
	e.BookingID = &id
	return e
}

// SetPaymentIntent links the event to a payment intent
func (e *WebhookEvent) SetPaymentIntent(id string) *WebhookEvent {
	if id != "" {
		e.PaymentIntentID = &id
	}
	return e
}

// SetRequestInfo stores the caller's address and user agent
func (e *WebhookEvent) SetRequestInfo(ip, userAgent string) *WebhookEvent {
	if ip != "" {
		e.SourceIP = &ip
	}
	if userAgent != "" {
		e.UserAgent = &userAgent
	}
	return e
}

// SetMeta adds a metadata entry
func (e *WebhookEvent) SetMeta(key string, value interface{}) *WebhookEvent {
	if e.Metadata == nil {
		e.Metadata = EventMetadata{}
	}
	e.Metadata[key] = value
	return e
}

// Finish records the outcome and processing time
func (e *WebhookEvent) Finish(outcome WebhookOutcome, err error, now time.Time) *WebhookEvent {
	e.Outcome = outcome
	if err != nil {
		msg := err.Error()
		e.ProcessingError = &msg
	}
	ms := int(now.Sub(e.ReceivedAt).Milliseconds())
	e.ProcessingTimeMs = &ms
	e.ProcessedAt = &now
	return e
}
