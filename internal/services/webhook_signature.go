package services

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const signaturePrefix = "sha256="

// SignatureVerifier checks HMAC-SHA256 signatures over raw webhook bodies.
// Each provider has its own shared secret.
type SignatureVerifier struct {
	secrets map[string][]byte
}

// NewSignatureVerifier builds a verifier from provider -> secret pairs.
// Providers with an empty secret are not accepted.
func NewSignatureVerifier(secrets map[string]string) *SignatureVerifier {
	v := &SignatureVerifier{secrets: make(map[string][]byte, len(secrets))}
	for provider, secret := range secrets {
		if secret != "" {
			v.secrets[provider] = []byte(secret)
		}
	}
	return v
}

// Sign returns the hex signature of body for provider
func (v *SignatureVerifier) Sign(provider string, body []byte) (string, bool) {
	secret, ok := v.secrets[provider]
	if !ok {
		return "", false
	}
	return hex.EncodeToString(computeHMAC(secret, body)), true
}

// Verify checks header against the body. The header may carry a "sha256=" prefix.
func (v *SignatureVerifier) Verify(provider string, body []byte, header string) error {
	secret, ok := v.secrets[provider]
	if !ok {
		return &AuthenticationError{Reason: "unknown provider " + provider}
	}

	header = strings.TrimSpace(header)
	if header == "" {
		return &AuthenticationError{Reason: "missing signature"}
	}
	header = strings.TrimPrefix(header, signaturePrefix)

	given, err := hex.DecodeString(header)
	if err != nil {
		return &AuthenticationError{Reason: "malformed signature"}
	}

	if !hmac.Equal(given, computeHMAC(secret, body)) {
		return &AuthenticationError{Reason: "signature mismatch"}
	}
	return nil
}

func computeHMAC(secret, body []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return mac.Sum(nil)
}
