package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// GenerateSecret generates a cryptographically secure random secret
func GenerateSecret(bytes int) (string, error) {
	b := make([]byte, bytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// GenerateWebhookSecret generates a provider signing secret with the whsec_ prefix
func GenerateWebhookSecret() (string, error) {
	secret, err := GenerateSecret(32) // 256-bit
	if err != nil {
		return "", err
	}
	return "whsec_" + secret, nil
}

// ServiceSecrets holds one freshly generated value per signing key the service needs
type ServiceSecrets struct {
	JWT             string
	PaymentsWebhook string
	PartnerWebhook  string
}

// GenerateServiceSecrets generates the JWT and webhook secrets
func GenerateServiceSecrets() (*ServiceSecrets, error) {
	jwtSecret, err := GenerateSecret(32)
	if err != nil {
		return nil, fmt.Errorf("failed to generate jwt secret: %w", err)
	}

	payments, err := GenerateWebhookSecret()
	if err != nil {
		return nil, fmt.Errorf("failed to generate payments webhook secret: %w", err)
	}

	partner, err := GenerateWebhookSecret()
	if err != nil {
		return nil, fmt.Errorf("failed to generate partner webhook secret: %w", err)
	}

	return &ServiceSecrets{JWT: jwtSecret, PaymentsWebhook: payments, PartnerWebhook: partner}, nil
}
