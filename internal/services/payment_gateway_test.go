package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tripmarket/settlement-backend/internal/config"
)

func newTestGateway(url string) *HTTPPaymentGateway {
	return NewHTTPPaymentGateway(&config.PaymentConfig{
		BaseURL:   url,
		SecretKey: "sk_test_123",
		Timeout:   5 * time.Second,
	}, newTestLogger())
}

func TestHTTPPaymentGateway_CreatePaymentIntent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/payment_intents", r.URL.Path)
		assert.Equal(t, "Bearer sk_test_123", r.Header.Get("Authorization"))
		assert.Equal(t, "booking-123", r.Header.Get("Idempotency-Key"))

		var req createIntentRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, int64(33000), req.Amount)
		assert.Equal(t, "usd", req.Currency)
		assert.Equal(t, "booking-123", req.Metadata["booking_id"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"pi_123","client_secret":"pi_123_secret","amount":33000,"currency":"usd","status":"requires_payment_method"}`))
	}))
	defer server.Close()

	intent, err := newTestGateway(server.URL).CreatePaymentIntent(context.Background(), CreateIntentParams{
		AmountMinor:    33000,
		Currency:       "USD",
		Metadata:       map[string]string{"booking_id": "booking-123"},
		IdempotencyKey: "booking-123",
	})
	require.NoError(t, err)
	assert.Equal(t, "pi_123", intent.ID)
	assert.Equal(t, "pi_123_secret", intent.ClientSecret)
	assert.Equal(t, int64(33000), intent.AmountMinor)
}

func TestHTTPPaymentGateway_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{"processor rejects", http.StatusPaymentRequired, `{"error":{"type":"invalid_request","message":"currency not supported"}}`, "currency not supported"},
		{"server error", http.StatusBadGateway, `upstream down`, "status 502"},
		{"amount changed", http.StatusOK, `{"id":"pi_1","client_secret":"s","amount":100}`, "echoed amount"},
		{"missing secret", http.StatusOK, `{"id":"pi_1","amount":33000}`, "missing id or client_secret"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer server.Close()

			_, err := newTestGateway(server.URL).CreatePaymentIntent(context.Background(), CreateIntentParams{AmountMinor: 33000, Currency: "USD"})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantMsg)
		})
	}
}

func TestHTTPPaymentGateway_AmountMismatchKeepsIntent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"pi_9","client_secret":"pi_9_secret","amount":100,"currency":"USD"}`))
	}))
	defer server.Close()

	_, err := newTestGateway(server.URL).CreatePaymentIntent(context.Background(), CreateIntentParams{AmountMinor: 33000, Currency: "USD"})

	var mismatch *IntentMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "pi_9", mismatch.Intent.ID)
	assert.Equal(t, int64(33000), mismatch.ExpectedMinor)
}

func TestHTTPPaymentGateway_NotConfigured(t *testing.T) {
	_, err := newTestGateway("").CreatePaymentIntent(context.Background(), CreateIntentParams{AmountMinor: 100, Currency: "USD"})
	assert.Error(t, err)
}
