package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tripmarket/settlement-backend/internal/config"
)

// PaymentIntent is what the processor returns for a created intent
type PaymentIntent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	AmountMinor  int64  `json:"amount"`
	Currency     string `json:"currency"`
	Status       string `json:"status"`
}

// IntentMismatchError means the processor created an intent, but not for the
// requested amount. The intent exists and must be reconciled, not retried.
type IntentMismatchError struct {
	Intent           *PaymentIntent
	ExpectedMinor    int64
	ExpectedCurrency string
}

func (e *IntentMismatchError) Error() string {
	return fmt.Sprintf("payment gateway echoed amount %d %s for intent %s, expected %d %s",
		e.Intent.AmountMinor, e.Intent.Currency, e.Intent.ID, e.ExpectedMinor, e.ExpectedCurrency)
}

// CreateIntentParams contains everything needed to create a payment intent
type CreateIntentParams struct {
	AmountMinor int64
	Currency    string
	Description string
	Metadata    map[string]string
	// IdempotencyKey stops the processor creating a second intent when a
	// request is retried. The provisional booking id is used.
	IdempotencyKey string
}

// PaymentGateway creates payment intents at the external processor
type PaymentGateway interface {
	CreatePaymentIntent(ctx context.Context, params CreateIntentParams) (*PaymentIntent, error)
}

// HTTPPaymentGateway talks to the processor's REST API
type HTTPPaymentGateway struct {
	config *config.PaymentConfig
	logger *logrus.Logger
	client *http.Client
}

type createIntentRequest struct {
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency"`
	Description string            `json:"description,omitempty"`
	Metadata    map[string]string `json:"metadata"`
}

type gatewayErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// NewHTTPPaymentGateway creates a new payment gateway client
func NewHTTPPaymentGateway(cfg *config.PaymentConfig, logger *logrus.Logger) *HTTPPaymentGateway {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPPaymentGateway{
		config: cfg,
		logger: logger,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// CreatePaymentIntent creates an intent for amountMinor in currency
func (g *HTTPPaymentGateway) CreatePaymentIntent(ctx context.Context, params CreateIntentParams) (*PaymentIntent, error) {
	if g.config.BaseURL == "" || g.config.SecretKey == "" {
		return nil, fmt.Errorf("payment gateway not configured: missing base URL or secret key")
	}
	if params.AmountMinor <= 0 {
		return nil, fmt.Errorf("amount must be positive, got %d", params.AmountMinor)
	}

	jsonBody, err := json.Marshal(createIntentRequest{
		Amount:      params.AmountMinor,
		Currency:    strings.ToLower(params.Currency),
		Description: params.Description,
		Metadata:    params.Metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpointURL := strings.TrimRight(g.config.BaseURL, "/") + "/v1/payment_intents"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointURL, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.config.SecretKey)
	if params.IdempotencyKey != "" {
		req.Header.Set("Idempotency-Key", params.IdempotencyKey)
	}

	g.logger.WithFields(logrus.Fields{
		"amount_minor":    params.AmountMinor,
		"currency":        params.Currency,
		"idempotency_key": params.IdempotencyKey,
	}).Info("Creating payment intent")

	resp, err := g.client.Do(req)
	if err != nil {
		g.logger.WithError(err).Error("Failed to call payment gateway")
		return nil, fmt.Errorf("failed to call payment gateway: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var gwErr gatewayErrorResponse
		msg := string(body)
		if json.Unmarshal(body, &gwErr) == nil && gwErr.Error.Message != "" {
			msg = gwErr.Error.Message
		}
		g.logger.WithFields(logrus.Fields{
			"status_code": resp.StatusCode,
			"message":     msg,
		}).Warn("Payment gateway rejected intent")
		return nil, fmt.Errorf("payment gateway returned status %d: %s", resp.StatusCode, msg)
	}

	var intent PaymentIntent
	if err := json.Unmarshal(body, &intent); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if intent.ID == "" || intent.ClientSecret == "" {
		return nil, fmt.Errorf("payment gateway response missing id or client_secret")
	}
	if intent.AmountMinor != params.AmountMinor ||
		(intent.Currency != "" && !strings.EqualFold(intent.Currency, params.Currency)) {
		g.logger.WithFields(logrus.Fields{
			"payment_intent_id": intent.ID,
			"amount_minor":      intent.AmountMinor,
			"expected_minor":    params.AmountMinor,
		}).Error("Payment gateway created intent with unexpected amount")
		return nil, &IntentMismatchError{Intent: &intent, ExpectedMinor: params.AmountMinor, ExpectedCurrency: params.Currency}
	}

	g.logger.WithFields(logrus.Fields{
		"payment_intent_id": intent.ID,
		"status":            intent.Status,
	}).Info("Payment intent created")

	return &intent, nil
}
