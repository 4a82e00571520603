package utils

import (
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestGetRealIP(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name      string
		realIP    string
		forwarded string
		remote    string
		want      string
	}{
		{"x-real-ip wins", "203.0.113.7", "198.51.100.1", "10.0.0.1:1234", "203.0.113.7"},
		{"private x-real-ip skipped", "10.1.1.1", "198.51.100.1", "10.0.0.1:1234", "198.51.100.1"},
		{"first public forwarded hop", "", "10.0.0.5, 198.51.100.9, 203.0.113.1", "10.0.0.1:1234", "198.51.100.9"},
		{"all private forwarded", "", "10.0.0.5, 192.168.1.2", "10.0.0.1:1234", "10.0.0.5"},
		{"garbage forwarded falls back", "", "unknown", "198.51.100.3:5555", "198.51.100.3"},
		{"direct connection", "", "", "198.51.100.4:5555", "198.51.100.4"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			req := httptest.NewRequest("POST", "/api/v1/webhooks/payments", nil)
			req.RemoteAddr = tc.remote
			if tc.realIP != "" {
				req.Header.Set("X-Real-IP", tc.realIP)
			}
			if tc.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tc.forwarded)
			}
			c.Request = req

			assert.Equal(t, tc.want, GetRealIP(c))
		})
	}
}

func TestGetUserAgent(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("GET", "/", nil)
	assert.Equal(t, "Unknown", GetUserAgent(c))

	c.Request.Header.Set("User-Agent", "provider-webhooks/1.0")
	assert.Equal(t, "provider-webhooks/1.0", GetUserAgent(c))
}

func TestClientDevice(t *testing.T) {
	android := "Mozilla/5.0 (Linux; Android 12; Pixel 6) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/112.0.0.0 Mobile Safari/537.36"
	assert.Equal(t, "mobile/android/Chrome", ClientDevice(android))

	bot := ParseUserAgent("Googlebot/2.1 (+http://www.google.com/bot.html)")
	assert.True(t, bot.IsBot)
	assert.Equal(t, "bot", bot.DeviceType)

	assert.Equal(t, "unknown/unknown/Unknown", ClientDevice(""))
}

func TestSecrets(t *testing.T) {
	s, err := GenerateSecret(16)
	assert.NoError(t, err)
	assert.Len(t, s, 32)

	secrets, err := GenerateServiceSecrets()
	assert.NoError(t, err)
	assert.Len(t, secrets.JWT, 64)
	assert.Contains(t, secrets.PaymentsWebhook, "whsec_")
	assert.NotEqual(t, secrets.PaymentsWebhook, secrets.PartnerWebhook)
}
